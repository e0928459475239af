// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/okian/insights/internal/domain/engine"
	"github.com/okian/insights/internal/domain/rules"
	"github.com/okian/insights/internal/domain/types"
)

// RuleDependencies defines rule introspection and direct runs.
type RuleDependencies interface {
	ListRules(trigger string) ([]rules.Info, error)
	RunRule(ctx context.Context, id string, opts types.Options) ([]types.InsightItem, error)
	RunBatch(ctx context.Context, trigger string, opts types.Options) (engine.BatchResult, error)
}

// RulesHandler handles rule and batch requests.
type RulesHandler struct {
	deps RuleDependencies
}

// NewRulesHandler creates a new rules handler.
func NewRulesHandler(deps RuleDependencies) *RulesHandler {
	return &RulesHandler{deps: deps}
}

// batchResponse is the body of POST /v1/batches/{trigger}/run.
type batchResponse struct {
	RunID      string              `json:"runId"`
	Trigger    string              `json:"trigger"`
	Succeeded  int                 `json:"succeeded"`
	Failed     int                 `json:"failed"`
	DurationMS int64               `json:"durationMs"`
	Items      []types.InsightItem `json:"items"`
	Failures   []engine.Failure    `json:"failures"`
}

// HandleListRules handles GET /v1/rules?trigger= requests.
func (h *RulesHandler) HandleListRules(w http.ResponseWriter, r *http.Request) {
	infos, err := h.deps.ListRules(r.URL.Query().Get("trigger"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

// HandleRunRule handles POST /v1/rules/{id}/run requests.
func (h *RulesHandler) HandleRunRule(w http.ResponseWriter, r *http.Request) {
	items, err := h.deps.RunRule(r.Context(), chi.URLParam(r, "id"), optionsFrom(r))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// HandleRunBatch handles POST /v1/batches/{trigger}/run requests. Rule
// failures are reported in the body; the request itself still succeeds.
func (h *RulesHandler) HandleRunBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := h.deps.RunBatch(r.Context(), chi.URLParam(r, "trigger"), optionsFrom(r))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batchResponse{
		RunID:      batch.RunID,
		Trigger:    batch.Scope,
		Succeeded:  batch.Succeeded(),
		Failed:     batch.Failed(),
		DurationMS: batch.Duration.Milliseconds(),
		Items:      batch.Items(),
		Failures:   batch.Failures(),
	})
}
