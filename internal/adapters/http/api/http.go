// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/headwindml/headwind/internal/adapters/repository"
	"github.com/headwindml/headwind/internal/domain/dedupe"
	"github.com/headwindml/headwind/internal/domain/model"
	"github.com/headwindml/headwind/internal/shadow"
)

const (
	defaultWindow   = 15 * time.Minute
	defaultMaxLimit = 1000
	defaultVersion  = "dev"
)

// Dependencies required by HTTP handlers. An interface bundle keeps the
// handler layer loosely coupled to the service wiring behind it.
type Dependencies interface {
	dedupe.Deduper

	// Enqueue hands an arrival event to the scoring pipeline. Returns
	// false on backpressure.
	Enqueue(ctx context.Context, ev *model.ArrivalEvent) bool

	// Read operations over the scored-row repository.
	Recent(ctx context.Context, q repository.Query) ([]model.ScoredEvent, error)
	Summary(ctx context.Context, window time.Duration) (repository.Summary, error)
	Heat(ctx context.Context, window time.Duration) ([]repository.StopHeat, error)

	// Telemetry reports the scoring engine's aggregate counters.
	Telemetry() model.TelemetryReport

	// ShadowReport exposes the shadow monitor's latest snapshot.
	ShadowReport() shadow.Report
}

// Server wires HTTP routes for the scoring API.
type Server struct {
	maxLimit int
	version  string
	pinger   Pinger

	health    *HealthHandler
	stats     *StatsHandler
	events    *EventsHandler
	anomalies *AnomaliesHandler
	summary   *SummaryHandler
	heatmap   *HeatmapHandler
	telemetry *TelemetryHandler
	shadow    *ShadowHandler
	dashboard *dashboardHandler
}

// NewServer creates an API server with all handlers.
func NewServer(deps Dependencies, stats StatsProvider, opts ...Option) *Server {
	s := &Server{
		maxLimit: defaultMaxLimit,
		version:  defaultVersion,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.health = NewHealthHandler(deps, s.pinger, s.version)
	s.stats = NewStatsHandler(stats)
	s.events = NewEventsHandler(deps)
	s.anomalies = NewAnomaliesHandler(deps, s.maxLimit)
	s.summary = NewSummaryHandler(deps)
	s.heatmap = NewHeatmapHandler(deps)
	s.telemetry = NewTelemetryHandler(deps)
	s.shadow = NewShadowHandler(deps)
	s.dashboard = newDashboardHandler()
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	// Specific paths first (most specific to least specific)
	mux.HandleFunc("/healthz", MetricsMiddleware(s.health.HandleMetrics, "healthz"))
	mux.HandleFunc("/health", MetricsMiddleware(s.health.HandleLive, "health"))
	mux.HandleFunc("/health/deep", MetricsMiddleware(s.health.HandleDeep, "health_deep"))
	mux.HandleFunc("/dashboard", s.dashboard.HandleDashboard)
	mux.HandleFunc("/stats", MetricsMiddleware(s.stats.HandleStats, "stats"))
	mux.HandleFunc("/api/events", MetricsMiddleware(s.events.HandlePostEvent, "events"))
	mux.HandleFunc("/api/anomalies", MetricsMiddleware(s.anomalies.HandleGetAnomalies, "anomalies"))
	mux.HandleFunc("/api/summary", MetricsMiddleware(s.summary.HandleGetSummary, "summary"))
	mux.HandleFunc("/api/heatmap", MetricsMiddleware(s.heatmap.HandleGetHeatmap, "heatmap"))
	mux.HandleFunc("/api/telemetry", MetricsMiddleware(s.telemetry.HandleGetTelemetry, "telemetry"))
	mux.HandleFunc("/api/shadow", MetricsMiddleware(s.shadow.HandleGetShadow, "shadow"))
}

// arrivalRequest mirrors the JSON body of POST /api/events.
type arrivalRequest struct {
	EventID      string `json:"event_id"`
	StopID       string `json:"stop_id"`
	RouteID      string `json:"route_id"`
	TripID       string `json:"trip_id"`
	ObservedAt   string `json:"observed_at"`
	SequenceHint int64  `json:"sequence_hint"`
}

func (a arrivalRequest) validate() error {
	switch {
	case strings.TrimSpace(a.StopID) == "":
		return errors.New("missing stop_id")
	case strings.TrimSpace(a.RouteID) == "":
		return errors.New("missing route_id")
	case strings.TrimSpace(a.TripID) == "":
		return errors.New("missing trip_id")
	case strings.TrimSpace(a.ObservedAt) == "":
		return errors.New("missing observed_at")
	}
	if _, err := time.Parse(time.RFC3339, a.ObservedAt); err != nil {
		return errors.New("invalid observed_at; must be RFC3339")
	}
	return nil
}

// event converts a validated request into a domain event.
func (a arrivalRequest) event() *model.ArrivalEvent {
	at, _ := time.Parse(time.RFC3339, a.ObservedAt)
	return &model.ArrivalEvent{
		EventID:      strings.TrimSpace(a.EventID),
		StopID:       strings.TrimSpace(a.StopID),
		RouteID:      strings.TrimSpace(a.RouteID),
		TripID:       strings.TrimSpace(a.TripID),
		ObservedAt:   at,
		SequenceHint: a.SequenceHint,
	}
}

type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
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

// parseWindow reads the window query parameter, a Go duration like "15m"
// or "1h", falling back to def when absent.
func parseWindow(r *http.Request, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("window"))
	if raw == "" {
		return def, nil
	}
	window, err := time.ParseDuration(raw)
	if err != nil || window <= 0 {
		return 0, errors.New("invalid window; want a positive duration like 15m")
	}
	return window, nil
}
