package simulator

import "time"

// Config holds the knobs of one simulation run.
type Config struct {
	BaseURL         string        // base URL of the running service
	Routes          int           // number of synthetic routes
	StopsPerRoute   int           // stops served by each route
	ArrivalsPerStop int           // arrivals generated per (stop, route) key
	HeadwayMeanSec  float64       // mean headway in seconds
	HeadwayStdSec   float64       // headway standard deviation in seconds
	DisruptFactor   float64       // headway multiplier during the disruption
	DisruptTail     int           // trailing arrivals of route R1 that are disrupted
	DuplicateRate   float64       // fraction of events re-sent verbatim
	Seed            int64         // random seed for reproducible streams
	Workers         int           // concurrent submitters
	Timeout         time.Duration // HTTP request timeout
	SettleWait      time.Duration // wait before reading results back
	Verbose         bool          // log every submission
}

// NewConfig returns a Config with defaults that exercise the full
// pipeline in a few seconds: steady Gaussian headways on every key plus
// a sustained service gap at the tail of route R1.
func NewConfig() *Config {
	return &Config{
		BaseURL:         "http://localhost:9080",
		Routes:          3,
		StopsPerRoute:   4,
		ArrivalsPerStop: 120,
		HeadwayMeanSec:  300,
		HeadwayStdSec:   30,
		DisruptFactor:   4.0,
		DisruptTail:     3,
		DuplicateRate:   0.05,
		Seed:            42,
		Workers:         8,
		Timeout:         10 * time.Second,
		SettleWait:      3 * time.Second,
		Verbose:         false,
	}
}

// arrival is the JSON body of POST /api/events.
type arrival struct {
	EventID      string `json:"event_id"`
	StopID       string `json:"stop_id"`
	RouteID      string `json:"route_id"`
	TripID       string `json:"trip_id"`
	ObservedAt   string `json:"observed_at"`
	SequenceHint int64  `json:"sequence_hint"`
}

// keyStream is every arrival of one (stop, route) key in event-time
// order. Submitting a stream sequentially keeps the feed's per-key
// ordering guarantee intact.
type keyStream struct {
	routeID  string
	stopID   string
	arrivals []arrival
}

// ackResponse mirrors the ingest acknowledgement.
type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

// anomalyRow is the slice of a scored row the verifier needs.
type anomalyRow struct {
	StopID        string  `json:"stop_id"`
	RouteID       string  `json:"route_id"`
	TripID        string  `json:"trip_id"`
	HeadwaySec    float64 `json:"headway_sec"`
	AnomalyScore  float64 `json:"anomaly_score"`
	IsAnomaly     bool    `json:"is_anomaly"`
	IsHighAnomaly bool    `json:"is_high_anomaly"`
}

// telemetryResponse mirrors GET /api/telemetry.
type telemetryResponse struct {
	Status      string  `json:"status"`
	RowsSeen    int64   `json:"rows_seen"`
	RowsUpdated int64   `json:"rows_updated"`
	DriftEvents int64   `json:"drift_events"`
	TrackedKeys int     `json:"tracked_keys"`
	MAEEMA      float64 `json:"mae_ema"`
}

// summaryResponse mirrors GET /api/summary.
type summaryResponse struct {
	Rows          int     `json:"rows"`
	Anomalies     int     `json:"anomalies_count"`
	HighAnomalies int     `json:"high_anomalies_count"`
	AnomalyRate   float64 `json:"anomaly_rate_perc"`
	MaxScore      float64 `json:"max_score"`
}

// Stats accumulates the outcome of one run.
type Stats struct {
	KeysGenerated   int
	EventsGenerated int
	EventsSubmitted int
	EventsAccepted  int
	EventsDuplicate int
	EventsRejected  int
	AnomaliesFound  int
	HighAnomalies   int
	DisruptedScored int
	StartTime       time.Time
	EndTime         time.Time
	Duration        time.Duration
}
