// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	service "github.com/okian/insights/internal/app"
	"github.com/okian/insights/internal/domain/engine"
	"github.com/okian/insights/internal/domain/rules"
	"github.com/okian/insights/internal/domain/types"
	"github.com/okian/insights/pkg/logger"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	InsightDependencies
	RuleDependencies
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler   *HealthHandler
	insightsHandler *InsightsHandler
	rulesHandler    *RulesHandler
	stats           StatsProvider
	log             logger.Logger
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:   NewHealthHandler(),
		insightsHandler: NewInsightsHandler(deps),
		rulesHandler:    NewRulesHandler(deps),
		stats:           statsProvider,
		log:             logger.Get().Named("http"),
	}
}

// Register attaches all HTTP routes to r.
func (s *Server) Register(_ context.Context, r chi.Router) {
	if r == nil {
		panic("router is nil")
	}
	r.Group(func(r chi.Router) {
		r.Use(Instrument(s.log))
		r.Get("/healthz", s.healthHandler.HandleHealth)
		r.Get("/stats", s.HandleStats)

		r.Route("/v1", func(r chi.Router) {
			r.Get("/insights", s.insightsHandler.HandleGetInsights)
			r.Get("/insights/{type}", s.insightsHandler.HandleGetByType)
			r.Get("/rules", s.rulesHandler.HandleListRules)
			r.Post("/rules/{id}/run", s.rulesHandler.HandleRunRule)
			r.Post("/batches/{trigger}/run", s.rulesHandler.HandleRunBatch)
		})
	})
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFailure maps upstream sentinels to status codes.
func writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrRuleNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, rules.ErrUnknownTrigger):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, service.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}

// optionsFrom reads evaluation options from the query string. roles may be
// comma separated, repeated, or both.
func optionsFrom(r *http.Request) types.Options {
	q := r.URL.Query()
	opts := types.Options{
		Domain:   strings.TrimSpace(q.Get("domain")),
		RegionID: strings.TrimSpace(q.Get("regionId")),
		UserID:   strings.TrimSpace(q.Get("userId")),
	}
	for _, v := range q["roles"] {
		for _, role := range strings.Split(v, ",") {
			if role = strings.ToUpper(strings.TrimSpace(role)); role != "" {
				opts.Roles = append(opts.Roles, role)
			}
		}
	}
	return opts
}
