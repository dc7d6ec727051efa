// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/headwindml/headwind/pkg/metrics"
)

// staleAfter is how old the engine's last scoring run may be before the
// deep health check reports the model as stale.
const staleAfter = 15 * time.Minute

// Pinger reports whether the persistence layer can be reached.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles liveness, readiness and metrics requests.
type HealthHandler struct {
	telemetry TelemetryProvider
	pinger    Pinger // nil when no sink is configured
	version   string
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(telemetry TelemetryProvider, pinger Pinger, version string) *HealthHandler {
	return &HealthHandler{
		telemetry: telemetry,
		pinger:    pinger,
		version:   version,
	}
}

// HandleMetrics handles GET /healthz requests by serving the Prometheus
// registry.
func (h *HealthHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

type liveResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// HandleLive handles GET /health requests.
func (h *HealthHandler) HandleLive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, liveResponse{Status: "ok", Version: h.version})
}

type deepHealthResponse struct {
	Status    string         `json:"status"`
	Version   string         `json:"version"`
	Checks    map[string]any `json:"checks"`
	Timestamp time.Time      `json:"timestamp_utc"`
}

// HandleDeep handles GET /health/deep requests: liveness plus dependency
// checks. A service that has not scored anything recently is degraded,
// not down, so the status code stays 200.
func (h *HealthHandler) HandleDeep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	status := "ok"
	checks := make(map[string]any, 2)

	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			checks["sink"] = map[string]any{"ok": false, "error": err.Error()}
			status = "degraded"
		} else {
			checks["sink"] = map[string]any{"ok": true}
		}
	}

	tel := h.telemetry.Telemetry()
	modelCheck := map[string]any{
		"rows_seen":    tel.RowsSeen,
		"rows_updated": tel.RowsUpdated,
		"drift_events": tel.DriftEvents,
		"tracked_keys": tel.TrackedKeys,
		"mae_ema":      tel.MAEEMA,
	}
	switch {
	case tel.LastRun.IsZero():
		modelCheck["status"] = "idle"
		status = "degraded"
	case time.Since(tel.LastRun) > staleAfter:
		modelCheck["status"] = "stale"
		modelCheck["last_run_timestamp"] = tel.LastRun
		status = "degraded"
	default:
		modelCheck["status"] = "ok"
		modelCheck["last_run_timestamp"] = tel.LastRun
	}
	checks["model"] = modelCheck

	writeJSON(w, http.StatusOK, deepHealthResponse{
		Status:    status,
		Version:   h.version,
		Checks:    checks,
		Timestamp: time.Now().UTC(),
	})
}
