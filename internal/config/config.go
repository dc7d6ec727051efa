// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Keep the surface flat so YAML keys and HEADWIND_* env vars map 1:1.
// - Provide New() to build a Config with defaults; Load() layers file and env.
// - External errors must be wrapped via this package's error helpers.
package config

import (
	"fmt"
	"runtime"
)

// Drift granularity values accepted by Validate.
const (
	DriftPerKey   = "key"
	DriftPerRoute = "route"
)

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// EventQueueSize bounds the in-memory arrival queue.
	EventQueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of key-sharded scoring lanes.
	WorkerCount int `koanf:"worker_count"`

	// BatchSize caps how many arrivals a lane scores per engine call.
	BatchSize int `koanf:"batch_size"`

	// DedupeSize sets the size of the ingest deduplication cache.
	DedupeSize int `koanf:"dedupe_size"`

	// Seed drives all randomized structures for reproducible runs.
	Seed int64 `koanf:"seed"`

	// MaxKeys caps tracked (stop, route) model states before eviction.
	MaxKeys int `koanf:"max_keys"`

	// Score fusion weights for the three component signals.
	WeightSSL      float64 `koanf:"weight_ssl"`
	WeightForest   float64 `koanf:"weight_forest"`
	WeightRelative float64 `koanf:"weight_relative"`

	// AnomalyThreshold and HighAnomalyThreshold classify the fused score.
	AnomalyThreshold     float64 `koanf:"anomaly_threshold"`
	HighAnomalyThreshold float64 `koanf:"high_anomaly_threshold"`

	// RelativeFloorSec floors the denominator of the relative error signal.
	RelativeFloorSec float64 `koanf:"relative_floor_sec"`

	// Online predictor constants.
	PredictorEpsilon        float64 `koanf:"predictor_epsilon"`
	PredictorRegularization float64 `koanf:"predictor_regularization"`
	PredictorMaxStep        float64 `koanf:"predictor_max_step"`

	// Residual calibrator constants.
	CalibratorDecay     float64 `koanf:"calibrator_decay"`
	CalibratorMinCount  int     `koanf:"calibrator_min_count"`
	CalibratorSmoothing float64 `koanf:"calibrator_smoothing"`

	// Anomaly forest shape.
	ForestTrees        int `koanf:"forest_trees"`
	ForestHeight       int `koanf:"forest_height"`
	ForestWindow       int `koanf:"forest_window"`
	ForestRebuildEvery int `koanf:"forest_rebuild_every"`

	// Drift monitor constants. Granularity is "key" or "route".
	DriftDelta       float64 `koanf:"drift_delta"`
	DriftMinWindow   int     `koanf:"drift_min_window"`
	DriftGranularity string  `koanf:"drift_granularity"`

	// Headway extractor constants.
	OutOfOrderToleranceSec float64 `koanf:"out_of_order_tolerance_sec"`
	TripMemory             int     `koanf:"trip_memory"`

	// RollingWindow bounds the recent-headway history used for features.
	RollingWindow int `koanf:"rolling_window"`

	// RepositoryCapacity bounds the in-memory scored event store.
	RepositoryCapacity int `koanf:"repository_capacity"`

	// SQLite sink settings. Disabled unless SinkEnabled.
	SinkEnabled bool   `koanf:"sink_enabled"`
	SinkPath    string `koanf:"sink_path"`
	SinkFlushMS int    `koanf:"sink_flush_ms"`

	// StreamBuffer sets the per-subscriber buffer of the score stream.
	StreamBuffer int `koanf:"stream_buffer"`

	// Shadow monitor settings.
	ShadowEnabled bool `koanf:"shadow_enabled"`
	ShadowWindow  int  `koanf:"shadow_window"`

	// CheckpointPath enables engine checkpointing when non-empty.
	// CheckpointIntervalSec of 0 checkpoints on shutdown only.
	CheckpointPath        string `koanf:"checkpoint_path"`
	CheckpointIntervalSec int    `koanf:"checkpoint_interval_sec"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:       "info",
		Addr:           ":9080",
		EventQueueSize: 100_000,
		WorkerCount:    runtime.NumCPU() * 2,
		BatchSize:      64,
		DedupeSize:     500_000,

		Seed:    42,
		MaxKeys: 10_000,

		WeightSSL:            0.50,
		WeightForest:         0.30,
		WeightRelative:       0.20,
		AnomalyThreshold:     0.60,
		HighAnomalyThreshold: 0.85,
		RelativeFloorSec:     30,

		PredictorEpsilon:        1.0,
		PredictorRegularization: 1.0,
		PredictorMaxStep:        50,

		CalibratorDecay:     0.995,
		CalibratorMinCount:  30,
		CalibratorSmoothing: 1.0,

		ForestTrees:        8,
		ForestHeight:       6,
		ForestWindow:       256,
		ForestRebuildEvery: 4,

		DriftDelta:       0.002,
		DriftMinWindow:   32,
		DriftGranularity: DriftPerKey,

		OutOfOrderToleranceSec: 120,
		TripMemory:             4096,
		RollingWindow:          12,

		RepositoryCapacity: 65_536,

		SinkEnabled: false,
		SinkPath:    "headwind.db",
		SinkFlushMS: 2000,

		StreamBuffer: 64,

		ShadowEnabled: true,
		ShadowWindow:  512,

		CheckpointPath:        "",
		CheckpointIntervalSec: 0,
	}
}

// Validate rejects configurations that cannot construct a working service.
// Only construction time may fail on configuration; steady state never does.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.EventQueueSize <= 0:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.WorkerCount <= 0:
		return fmt.Errorf("%w: worker_count must be positive", ErrInvalidConfig)
	case c.BatchSize <= 0:
		return fmt.Errorf("%w: batch_size must be positive", ErrInvalidConfig)
	case c.DedupeSize <= 0:
		return fmt.Errorf("%w: dedupe_size must be positive", ErrInvalidConfig)
	case c.MaxKeys <= 0:
		return fmt.Errorf("%w: max_keys must be positive", ErrInvalidConfig)
	case c.WeightSSL < 0 || c.WeightForest < 0 || c.WeightRelative < 0:
		return fmt.Errorf("%w: score weights must be non-negative", ErrInvalidConfig)
	case c.WeightSSL+c.WeightForest+c.WeightRelative <= 0:
		return fmt.Errorf("%w: score weights must not all be zero", ErrInvalidConfig)
	case c.AnomalyThreshold <= 0 || c.AnomalyThreshold > 1:
		return fmt.Errorf("%w: anomaly_threshold must be in (0,1]", ErrInvalidConfig)
	case c.HighAnomalyThreshold <= 0 || c.HighAnomalyThreshold > 1:
		return fmt.Errorf("%w: high_anomaly_threshold must be in (0,1]", ErrInvalidConfig)
	case c.AnomalyThreshold > c.HighAnomalyThreshold:
		return fmt.Errorf("%w: anomaly_threshold must not exceed high_anomaly_threshold", ErrInvalidConfig)
	case c.RelativeFloorSec <= 0:
		return fmt.Errorf("%w: relative_floor_sec must be positive", ErrInvalidConfig)
	case c.PredictorEpsilon < 0:
		return fmt.Errorf("%w: predictor_epsilon must be non-negative", ErrInvalidConfig)
	case c.PredictorRegularization <= 0:
		return fmt.Errorf("%w: predictor_regularization must be positive", ErrInvalidConfig)
	case c.PredictorMaxStep <= 0:
		return fmt.Errorf("%w: predictor_max_step must be positive", ErrInvalidConfig)
	case c.CalibratorDecay <= 0 || c.CalibratorDecay > 1:
		return fmt.Errorf("%w: calibrator_decay must be in (0,1]", ErrInvalidConfig)
	case c.CalibratorMinCount < 1:
		return fmt.Errorf("%w: calibrator_min_count must be at least 1", ErrInvalidConfig)
	case c.CalibratorSmoothing <= 0:
		return fmt.Errorf("%w: calibrator_smoothing must be positive", ErrInvalidConfig)
	case c.ForestTrees < 1:
		return fmt.Errorf("%w: forest_trees must be at least 1", ErrInvalidConfig)
	case c.ForestHeight < 1:
		return fmt.Errorf("%w: forest_height must be at least 1", ErrInvalidConfig)
	case c.ForestWindow < 8:
		return fmt.Errorf("%w: forest_window must be at least 8", ErrInvalidConfig)
	case c.ForestRebuildEvery < 1:
		return fmt.Errorf("%w: forest_rebuild_every must be at least 1", ErrInvalidConfig)
	case c.DriftDelta <= 0 || c.DriftDelta >= 1:
		return fmt.Errorf("%w: drift_delta must be in (0,1)", ErrInvalidConfig)
	case c.DriftMinWindow < 8:
		return fmt.Errorf("%w: drift_min_window must be at least 8", ErrInvalidConfig)
	case c.DriftGranularity != DriftPerKey && c.DriftGranularity != DriftPerRoute:
		return fmt.Errorf("%w: drift_granularity must be %q or %q", ErrInvalidConfig, DriftPerKey, DriftPerRoute)
	case c.OutOfOrderToleranceSec < 0:
		return fmt.Errorf("%w: out_of_order_tolerance_sec must be non-negative", ErrInvalidConfig)
	case c.TripMemory < 1:
		return fmt.Errorf("%w: trip_memory must be at least 1", ErrInvalidConfig)
	case c.RollingWindow < 2:
		return fmt.Errorf("%w: rolling_window must be at least 2", ErrInvalidConfig)
	case c.RepositoryCapacity < 1:
		return fmt.Errorf("%w: repository_capacity must be at least 1", ErrInvalidConfig)
	case c.SinkEnabled && c.SinkPath == "":
		return fmt.Errorf("%w: sink_path must not be empty when the sink is enabled", ErrInvalidConfig)
	case c.SinkFlushMS <= 0:
		return fmt.Errorf("%w: sink_flush_ms must be positive", ErrInvalidConfig)
	case c.StreamBuffer < 1:
		return fmt.Errorf("%w: stream_buffer must be at least 1", ErrInvalidConfig)
	case c.ShadowEnabled && c.ShadowWindow < 8:
		return fmt.Errorf("%w: shadow_window must be at least 8", ErrInvalidConfig)
	case c.CheckpointIntervalSec < 0:
		return fmt.Errorf("%w: checkpoint_interval_sec must be non-negative", ErrInvalidConfig)
	}
	return nil
}
