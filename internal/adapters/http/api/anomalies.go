// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/headwindml/headwind/internal/adapters/repository"
	"github.com/headwindml/headwind/internal/domain/model"
)

const (
	defaultAnomalyLimit = 300

	// routeAll is the wildcard route filter the dashboard sends.
	routeAll = "All"
)

// AnomalyReader lists recent scored rows.
type AnomalyReader interface {
	Recent(ctx context.Context, q repository.Query) ([]model.ScoredEvent, error)
}

// AnomaliesHandler handles anomaly list requests.
type AnomaliesHandler struct {
	deps     AnomalyReader
	maxLimit int
}

// NewAnomaliesHandler creates a new anomalies handler.
func NewAnomaliesHandler(deps AnomalyReader, maxLimit int) *AnomaliesHandler {
	return &AnomaliesHandler{
		deps:     deps,
		maxLimit: maxLimit,
	}
}

// HandleGetAnomalies handles GET /api/anomalies requests. Query parameters:
// window (default 15m), route (default All), min_score in [0, 1], limit.
func (h *AnomaliesHandler) HandleGetAnomalies(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_anomalies"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	window, err := parseWindow(r, defaultWindow)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	q := repository.Query{Window: window, Limit: defaultAnomalyLimit}

	if route := strings.TrimSpace(r.URL.Query().Get("route")); route != "" && !strings.EqualFold(route, routeAll) {
		q.RouteID = route
	}

	if raw := r.URL.Query().Get("min_score"); raw != "" {
		score, err := strconv.ParseFloat(raw, 64)
		if err != nil || score < 0 || score > 1 {
			writeError(w, http.StatusBadRequest, "bad_request",
				WrapKind(op, ErrBadRequest, errors.New("min_score must be in [0, 1]")))
			return
		}
		q.MinScore = score
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
			return
		}
		if n > h.maxLimit {
			writeError(w, http.StatusBadRequest, "limit_exceeded", NewKind(op, ErrBadRequest))
			return
		}
		q.Limit = n
	}

	rows, err := h.deps.Recent(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	if rows == nil {
		rows = []model.ScoredEvent{}
	}
	writeJSON(w, http.StatusOK, rows)
}
