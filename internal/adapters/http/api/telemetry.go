// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"net/http"

	"github.com/headwindml/headwind/internal/domain/model"
)

// TelemetryProvider reports the scoring engine's aggregate counters.
type TelemetryProvider interface {
	Telemetry() model.TelemetryReport
}

// TelemetryHandler handles engine telemetry requests.
type TelemetryHandler struct {
	deps TelemetryProvider
}

// NewTelemetryHandler creates a new telemetry handler.
func NewTelemetryHandler(deps TelemetryProvider) *TelemetryHandler {
	return &TelemetryHandler{deps: deps}
}

type telemetryResponse struct {
	Status string `json:"status"`
	model.TelemetryReport
}

// HandleGetTelemetry handles GET /api/telemetry requests.
func (h *TelemetryHandler) HandleGetTelemetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	tel := h.deps.Telemetry()
	status := "available"
	if tel.LastRun.IsZero() {
		status = "unavailable"
	}
	writeJSON(w, http.StatusOK, telemetryResponse{Status: status, TelemetryReport: tel})
}
