// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/okian/insights/internal/domain/types"
)

// InsightDependencies defines the read side of the insight service.
type InsightDependencies interface {
	GetAlerts(ctx context.Context, opts types.Options) ([]types.InsightItem, error)
	GetRecommendations(ctx context.Context, opts types.Options) ([]types.InsightItem, error)
	GetForecasts(ctx context.Context, opts types.Options) ([]types.InsightItem, error)
	GetOpportunities(ctx context.Context, opts types.Options) ([]types.InsightItem, error)
	GetInsights(ctx context.Context, opts types.Options) (types.GroupedInsights, error)
}

// InsightsHandler handles insight queries.
type InsightsHandler struct {
	deps InsightDependencies
}

// NewInsightsHandler creates a new insights handler.
func NewInsightsHandler(deps InsightDependencies) *InsightsHandler {
	return &InsightsHandler{deps: deps}
}

// HandleGetInsights handles GET /v1/insights requests.
func (h *InsightsHandler) HandleGetInsights(w http.ResponseWriter, r *http.Request) {
	g, err := h.deps.GetInsights(r.Context(), optionsFrom(r))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// HandleGetByType handles GET /v1/insights/{type} requests, where type is
// alerts, recommendations, forecasts or opportunities.
func (h *InsightsHandler) HandleGetByType(w http.ResponseWriter, r *http.Request) {
	var get func(context.Context, types.Options) ([]types.InsightItem, error)
	switch kind := chi.URLParam(r, "type"); kind {
	case "alerts":
		get = h.deps.GetAlerts
	case "recommendations":
		get = h.deps.GetRecommendations
	case "forecasts":
		get = h.deps.GetForecasts
	case "opportunities":
		get = h.deps.GetOpportunities
	default:
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: unknown insight type %q", ErrBadRequest, kind))
		return
	}

	items, err := get(r.Context(), optionsFrom(r))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}
