// Package repository holds the in-memory read model of scored rows
// backing the query API and the dashboard.
package repository

import (
	"context"
	"time"

	"github.com/headwindml/headwind/internal/domain/model"
)

// Query filters the scored-row read model. The window reaches back from
// the newest row's event time, so replayed history stays queryable.
type Query struct {
	Window   time.Duration
	MinScore float64
	RouteID  string // empty matches every route
	Limit    int
}

// Summary aggregates one window of scored rows.
type Summary struct {
	Rows          int     `json:"rows"`
	Anomalies     int     `json:"anomalies_count"`
	HighAnomalies int     `json:"high_anomalies_count"`
	AnomalyRate   float64 `json:"anomaly_rate_perc"`
	MaxScore      float64 `json:"max_score"`
}

// StopHeat is the worst recent score of one (stop, route) cell.
type StopHeat struct {
	StopID   string    `json:"stop_id"`
	RouteID  string    `json:"route_id"`
	Worst    float64   `json:"worst_score"`
	Rows     int       `json:"rows"`
	LastSeen time.Time `json:"last_seen"`
}

// Store provides read/write access to recent scored rows.
type Store interface {
	// Consume inserts a batch of scored rows, evicting the oldest rows
	// once the store is at capacity.
	Consume(ctx context.Context, rows []*model.ScoredEvent) error

	// Recent returns rows matching q ordered by anomaly score
	// descending, ties broken by the more recent row.
	Recent(ctx context.Context, q Query) ([]model.ScoredEvent, error)

	// Summary aggregates the rows inside the window.
	Summary(ctx context.Context, window time.Duration) (Summary, error)

	// Heat returns per-(stop, route) worst scores inside the window,
	// worst first.
	Heat(ctx context.Context, window time.Duration) ([]StopHeat, error)

	// Count returns how many rows the store currently holds.
	Count(ctx context.Context) int
}
