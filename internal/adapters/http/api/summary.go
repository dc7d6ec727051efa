// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/headwindml/headwind/internal/adapters/repository"
)

// SummaryReader aggregates scored rows over a window.
type SummaryReader interface {
	Summary(ctx context.Context, window time.Duration) (repository.Summary, error)
}

// SummaryHandler handles summary requests.
type SummaryHandler struct {
	deps SummaryReader
}

// NewSummaryHandler creates a new summary handler.
func NewSummaryHandler(deps SummaryReader) *SummaryHandler {
	return &SummaryHandler{deps: deps}
}

type summaryResponse struct {
	Window string `json:"window"`
	repository.Summary
}

// HandleGetSummary handles GET /api/summary requests.
func (h *SummaryHandler) HandleGetSummary(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_summary"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	window, err := parseWindow(r, defaultWindow)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	summary, err := h.deps.Summary(r.Context(), window)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{Window: window.String(), Summary: summary})
}
