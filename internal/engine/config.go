package engine

import (
	"time"

	"github.com/headwindml/headwind/internal/config"
)

// Config carries everything the engine needs to build and score per-key
// state. Values arrive pre-validated from the service configuration.
type Config struct {
	Seed    int64
	MaxKeys int

	RollingWindow       int
	TripMemory          int
	OutOfOrderTolerance time.Duration

	PredictorEpsilon        float64
	PredictorRegularization float64
	PredictorMaxStep        float64

	CalibratorDecay     float64
	CalibratorMinCount  int
	CalibratorSmoothing float64

	ForestTrees        int
	ForestHeight       int
	ForestWindow       int
	ForestRebuildEvery int

	DriftDelta       float64
	DriftMinWindow   int
	DriftGranularity string

	WeightSSL      float64
	WeightForest   float64
	WeightRelative float64

	AnomalyThreshold     float64
	HighAnomalyThreshold float64
	RelativeFloorSec     float64
}

// ConfigFrom maps the service configuration onto engine parameters.
func ConfigFrom(c *config.Config) Config {
	return Config{
		Seed:                    c.Seed,
		MaxKeys:                 c.MaxKeys,
		RollingWindow:           c.RollingWindow,
		TripMemory:              c.TripMemory,
		OutOfOrderTolerance:     time.Duration(c.OutOfOrderToleranceSec) * time.Second,
		PredictorEpsilon:        c.PredictorEpsilon,
		PredictorRegularization: c.PredictorRegularization,
		PredictorMaxStep:        c.PredictorMaxStep,
		CalibratorDecay:         c.CalibratorDecay,
		CalibratorMinCount:      c.CalibratorMinCount,
		CalibratorSmoothing:     c.CalibratorSmoothing,
		ForestTrees:             c.ForestTrees,
		ForestHeight:            c.ForestHeight,
		ForestWindow:            c.ForestWindow,
		ForestRebuildEvery:      c.ForestRebuildEvery,
		DriftDelta:              c.DriftDelta,
		DriftMinWindow:          c.DriftMinWindow,
		DriftGranularity:        c.DriftGranularity,
		WeightSSL:               c.WeightSSL,
		WeightForest:            c.WeightForest,
		WeightRelative:          c.WeightRelative,
		AnomalyThreshold:        c.AnomalyThreshold,
		HighAnomalyThreshold:    c.HighAnomalyThreshold,
		RelativeFloorSec:        c.RelativeFloorSec,
	}
}
