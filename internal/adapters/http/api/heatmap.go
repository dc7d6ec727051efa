// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/headwindml/headwind/internal/adapters/repository"
)

// HeatReader returns per-(stop, route) worst scores.
type HeatReader interface {
	Heat(ctx context.Context, window time.Duration) ([]repository.StopHeat, error)
}

// HeatmapHandler handles heatmap requests.
type HeatmapHandler struct {
	deps HeatReader
}

// NewHeatmapHandler creates a new heatmap handler.
func NewHeatmapHandler(deps HeatReader) *HeatmapHandler {
	return &HeatmapHandler{deps: deps}
}

// HandleGetHeatmap handles GET /api/heatmap requests.
func (h *HeatmapHandler) HandleGetHeatmap(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_heatmap"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	window, err := parseWindow(r, defaultWindow)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	cells, err := h.deps.Heat(r.Context(), window)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	if cells == nil {
		cells = []repository.StopHeat{}
	}
	writeJSON(w, http.StatusOK, cells)
}
