// Package engine scores arrival events online. Each (stop, route) key
// carries its own predictor, residual calibrator, structural forest, and
// drift detector; the engine routes events to key state, fuses the three
// signals into one anomaly score, and keeps aggregate telemetry.
package engine

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/headwindml/headwind/internal/config"
	"github.com/headwindml/headwind/internal/domain/extract"
	"github.com/headwindml/headwind/internal/domain/feature"
	"github.com/headwindml/headwind/internal/domain/model"
	"github.com/headwindml/headwind/internal/domain/sketch"
	"github.com/headwindml/headwind/pkg/logger"
	"github.com/headwindml/headwind/pkg/metrics"
)

// maeAlpha is the smoothing factor of the service-wide mean absolute
// error average reported in telemetry.
const maeAlpha = 0.1

// Engine is the online scoring core. Safe for concurrent use: events for
// different keys score in parallel, events for one key serialize on that
// key's lock.
type Engine struct {
	cfg   Config
	store *store
	log   logger.Logger

	rowsSeen    atomic.Int64
	rowsUpdated atomic.Int64
	rejected    atomic.Int64
	driftEvents atomic.Int64
	malformed   atomic.Int64
	duplicates  atomic.Int64
	evictedKeys atomic.Int64

	mu        sync.Mutex
	maeEMA    *sketch.EWMA
	residuals *sketch.Quantile
	lastRun   time.Time
}

// New builds an engine from validated configuration.
func New(cfg Config) *Engine {
	return &Engine{
		cfg:       cfg,
		store:     newStore(cfg.MaxKeys),
		log:       logger.Named("engine"),
		maeEMA:    sketch.NewEWMA(maeAlpha),
		residuals: sketch.NewQuantile(cfg.CalibratorDecay),
	}
}

// ScoreBatch scores events in order and returns one ScoredEvent per
// accepted headway observation. Malformed, duplicate, bootstrap, and
// stale arrivals contribute no output. The batch stops early when ctx is
// cancelled, returning what was already scored.
func (e *Engine) ScoreBatch(ctx context.Context, events []*model.ArrivalEvent) []*model.ScoredEvent {
	out := make([]*model.ScoredEvent, 0, len(events))
	var resetRoutes []string

	for _, ev := range events {
		select {
		case <-ctx.Done():
			e.finishBatch()
			return out
		default:
		}

		scored, resetRoute := e.scoreOne(ev)
		if scored != nil {
			out = append(out, scored)
		}
		if resetRoute {
			resetRoutes = append(resetRoutes, ev.RouteID)
		}
	}

	// Route-wide drift resets run after the pass so no sibling lock is
	// ever taken while a triggering key's lock is held.
	if len(resetRoutes) > 0 {
		e.resetRoutes(resetRoutes)
	}
	e.finishBatch()
	return out
}

// scoreOne runs the full per-event pass under the key's lock. The second
// result requests a route-wide model reset.
func (e *Engine) scoreOne(ev *model.ArrivalEvent) (*model.ScoredEvent, bool) {
	if err := ev.Validate(); err != nil {
		e.malformed.Add(1)
		metrics.RecordEventMalformed()
		e.log.Debug(context.Background(), "dropping malformed event",
			logger.String("event_id", ev.EventID),
			logger.Error(err),
		)
		return nil, false
	}

	ks, evicted := e.store.getOrCreate(ev.Key(), e.newKeyState)
	if evicted {
		e.evictedKeys.Add(1)
		metrics.RecordKeyEvicted()
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()
	e.store.touch(ks)

	outcome := ks.extractor.Apply(ev)
	switch outcome.Kind {
	case extract.KindDuplicate:
		e.duplicates.Add(1)
		metrics.RecordEventDuplicate()
		return nil, false
	case extract.KindStale:
		return nil, false
	case extract.KindBootstrap:
		ks.rowsSeen++
		e.rowsSeen.Add(1)
		return nil, false
	}

	start := time.Now()
	ks.rowsSeen++
	e.rowsSeen.Add(1)
	metrics.RecordHeadwayExtracted()

	// Features read the rolling statistics as they were before this
	// observation; the window advances only at the end of the pass.
	cx := feature.Context{
		RecentMean:  ks.rolling.Mean(),
		RecentStd:   ks.rolling.Std(),
		LastHeadway: ks.rolling.Last(),
		OutOfOrder:  outcome.OutOfOrder,
	}
	x := feature.Vector(ev.RouteID, ev.StopID, ev.ObservedAt, cx)

	pred := ks.predictor.Predict(x)
	residual := outcome.HeadwaySec - pred
	absResidual := math.Abs(residual)

	ssl := ks.calib.score(absResidual)

	point := feature.ForestPoint(x, outcome.HeadwaySec)
	hst := ks.forest.Score(point)
	ks.forest.Observe(point)

	if ks.predictor.Update(x, outcome.HeadwaySec) {
		ks.rowsUpdated++
		e.rowsUpdated.Add(1)
		metrics.RecordModelUpdate()
	} else {
		ks.rejected++
		e.rejected.Add(1)
		metrics.RecordRejectedUpdate()
	}

	resetRoute := false
	if ks.driftMute > 0 {
		ks.driftMute--
	} else if ks.drift.Observe(absResidual) {
		ks.driftEvents++
		e.driftEvents.Add(1)
		metrics.RecordDriftEvent()
		// The regression layer relearns from scratch; the forest keeps
		// its windows, which already age out on their own.
		e.resetRegression(ks)
		resetRoute = e.cfg.DriftGranularity == config.DriftPerRoute
		e.log.Info(context.Background(), "residual drift detected, model reset",
			logger.String("key", ks.key.String()),
			logger.Int64("key_drift_events", ks.driftEvents),
		)
	}

	ks.rolling.Observe(outcome.HeadwaySec)

	rel := clip01(absResidual / math.Max(pred, e.cfg.RelativeFloorSec))
	final := clip01(e.cfg.WeightSSL*ssl + e.cfg.WeightForest*hst + e.cfg.WeightRelative*rel)

	e.mu.Lock()
	e.maeEMA.Observe(absResidual)
	e.residuals.Observe(absResidual)
	e.mu.Unlock()

	scored := &model.ScoredEvent{
		StopID:              ev.StopID,
		RouteID:             ev.RouteID,
		TripID:              ev.TripID,
		HeadwaySec:          outcome.HeadwaySec,
		PredictedHeadwaySec: pred,
		Residual:            residual,
		SSLResidualScore:    ssl,
		HSTScore:            hst,
		RelativeErrorScore:  rel,
		AnomalyScore:        final,
		IsAnomaly:           final >= e.cfg.AnomalyThreshold,
		IsHighAnomaly:       final >= e.cfg.HighAnomalyThreshold,
		OutOfOrder:          outcome.OutOfOrder,
		ObservedAt:          ev.ObservedAt,
	}

	metrics.RecordRowScored()
	if scored.IsAnomaly {
		metrics.RecordAnomaly(scored.IsHighAnomaly)
	}
	metrics.RecordScoringLatency(float64(time.Since(start).Microseconds()) / 1000.0)

	return scored, resetRoute
}

// resetRegression returns the predictor and calibrator of one key to
// their untrained state. The drift window restarts too and stays muted
// until the predictor has had room to relearn. Caller holds the key lock.
func (e *Engine) resetRegression(ks *keyState) {
	ks.predictor.Reset()
	ks.calib.reset()
	ks.drift.Reset()
	ks.driftMute = e.cfg.DriftMinWindow
}

// resetRoutes resets the regression layer of every key on the given
// routes, one key lock at a time. Keys whose own detection already reset
// them just reset again to empty, which is harmless.
func (e *Engine) resetRoutes(routes []string) {
	want := make(map[string]struct{}, len(routes))
	for _, r := range routes {
		want[r] = struct{}{}
	}

	for _, ks := range e.store.snapshot() {
		if _, ok := want[ks.key.RouteID]; !ok {
			continue
		}
		ks.mu.Lock()
		e.resetRegression(ks)
		ks.mu.Unlock()
	}

	for r := range want {
		e.log.Info(context.Background(), "route models reset after drift",
			logger.String("route_id", r),
		)
	}
}

func (e *Engine) finishBatch() {
	e.mu.Lock()
	e.lastRun = time.Now().UTC()
	e.mu.Unlock()
	metrics.UpdateTrackedKeys(e.store.len())
}

// Telemetry returns an aggregate snapshot across all keys.
func (e *Engine) Telemetry() model.TelemetryReport {
	e.mu.Lock()
	mae := e.maeEMA.Value()
	q90 := e.residuals.Query(0.90)
	q99 := e.residuals.Query(0.99)
	lastRun := e.lastRun
	e.mu.Unlock()

	metrics.UpdateMAEEMA(mae)
	metrics.UpdateResidualQuantiles(q90, q99)

	return model.TelemetryReport{
		RowsSeen:        e.rowsSeen.Load(),
		RowsUpdated:     e.rowsUpdated.Load(),
		DriftEvents:     e.driftEvents.Load(),
		RejectedUpdates: e.rejected.Load(),
		MalformedEvents: e.malformed.Load(),
		DuplicateEvents: e.duplicates.Load(),
		EvictedKeys:     e.evictedKeys.Load(),
		TrackedKeys:     e.store.len(),
		MAEEMA:          mae,
		ResidualQ90:     q90,
		ResidualQ99:     q99,
		LastRun:         lastRun,
	}
}

// TrackedKeys reports how many keys currently hold state.
func (e *Engine) TrackedKeys() int {
	return e.store.len()
}

func clip01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
