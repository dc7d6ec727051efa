// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"time"
)

// Key identifies one independent online-learning unit: the (stop, route)
// pair whose headways are modeled together.
type Key struct {
	StopID  string
	RouteID string
}

// String renders the key as "route@stop" for map keys and log fields.
func (k Key) String() string {
	return k.RouteID + "@" + k.StopID
}

// ArrivalEvent represents one observed vehicle arrival at a stop.
// Immutable once created; produced by the feed-decoding collaborator.
type ArrivalEvent struct {
	EventID      string    // optional upstream id, used for ingest idempotency
	StopID       string    // stop the vehicle arrived at
	RouteID      string    // route the vehicle serves
	TripID       string    // trip identity; (stop_id, trip_id) is the natural dedup key
	ObservedAt   time.Time // event time of the arrival
	SequenceHint int64     // optional feed ordering hint, 0 when absent
}

// Key returns the learning unit this arrival belongs to.
func (e ArrivalEvent) Key() Key {
	return Key{StopID: e.StopID, RouteID: e.RouteID}
}

// DedupeID is the natural idempotency key for an arrival.
func (e ArrivalEvent) DedupeID() string {
	return e.StopID + "|" + e.TripID
}

// Validate reports whether required fields are present.
func (e ArrivalEvent) Validate() error {
	switch {
	case e.StopID == "":
		return fmt.Errorf("%w: missing stop_id", ErrMalformedEvent)
	case e.RouteID == "":
		return fmt.Errorf("%w: missing route_id", ErrMalformedEvent)
	case e.TripID == "":
		return fmt.Errorf("%w: missing trip_id", ErrMalformedEvent)
	case e.ObservedAt.IsZero():
		return fmt.Errorf("%w: missing observed_at", ErrMalformedEvent)
	}
	return nil
}

// HeadwayObservation is the transient record derived from two consecutive
// arrivals on the same key. It exists only between extraction and scoring.
type HeadwayObservation struct {
	Key        Key
	TripID     string
	HeadwaySec float64
	Features   []float64
	ObservedAt time.Time
	OutOfOrder bool
}

// ScoredEvent is the engine's output for one headway observation.
// Immutable; handed to collaborators at most once per dedup key.
type ScoredEvent struct {
	StopID              string    `json:"stop_id"`
	RouteID             string    `json:"route_id"`
	TripID              string    `json:"trip_id"`
	HeadwaySec          float64   `json:"headway_sec"`
	PredictedHeadwaySec float64   `json:"predicted_headway_sec"`
	Residual            float64   `json:"residual"`
	SSLResidualScore    float64   `json:"ssl_residual_score"`
	HSTScore            float64   `json:"hst_score"`
	RelativeErrorScore  float64   `json:"relative_error_score"`
	AnomalyScore        float64   `json:"anomaly_score"`
	IsAnomaly           bool      `json:"is_anomaly"`
	IsHighAnomaly       bool      `json:"is_high_anomaly"`
	OutOfOrder          bool      `json:"out_of_order,omitempty"`
	ObservedAt          time.Time `json:"observed_at"`
}

// Key returns the learning unit this scored event belongs to.
func (s ScoredEvent) Key() Key {
	return Key{StopID: s.StopID, RouteID: s.RouteID}
}

// TelemetryReport is a read-only aggregate over all tracked keys.
type TelemetryReport struct {
	RowsSeen        int64     `json:"rows_seen"`
	RowsUpdated     int64     `json:"rows_updated"`
	DriftEvents     int64     `json:"drift_events"`
	RejectedUpdates int64     `json:"rejected_updates"`
	MalformedEvents int64     `json:"malformed_events"`
	DuplicateEvents int64     `json:"duplicate_events"`
	EvictedKeys     int64     `json:"evicted_keys"`
	TrackedKeys     int       `json:"tracked_keys"`
	MAEEMA          float64   `json:"mae_ema"`
	ResidualQ90     float64   `json:"residual_q90"`
	ResidualQ99     float64   `json:"residual_q99"`
	LastRun         time.Time `json:"last_run_timestamp"`
}
