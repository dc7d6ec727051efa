package engine

import (
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/headwindml/headwind/internal/domain/drift"
	"github.com/headwindml/headwind/internal/domain/extract"
	"github.com/headwindml/headwind/internal/domain/feature"
	"github.com/headwindml/headwind/internal/domain/forest"
	"github.com/headwindml/headwind/internal/domain/model"
	"github.com/headwindml/headwind/internal/domain/predict"
	"github.com/headwindml/headwind/internal/domain/sketch"
)

// keyState bundles every mutable structure for one (stop, route) key. No
// two keys ever share any of it; the mutex serializes the one writer a
// key has at a time.
type keyState struct {
	mu sync.Mutex

	key       model.Key
	extractor *extract.State
	predictor *predict.Regressor
	calib     *calibrator
	rolling   *sketch.Rolling
	forest    *forest.Forest
	drift     *drift.Detector

	rowsSeen    int64
	rowsUpdated int64
	rejected    int64
	driftEvents int64

	// driftMute suspends drift observation while a freshly reset
	// predictor relearns, so the relearning transient cannot re-trigger
	// detection.
	driftMute int

	lastTouch uint64
}

// newKeyState builds cold state for a key. The forest seed mixes the key
// into the engine seed so a key's stream replays identically no matter
// when the key was first seen.
func (e *Engine) newKeyState(key model.Key) *keyState {
	seed := int64(xxhash.Sum64String(key.String())) ^ e.cfg.Seed
	return &keyState{
		key:       key,
		extractor: extract.NewState(e.cfg.TripMemory, e.cfg.OutOfOrderTolerance),
		predictor: predict.New(feature.Size,
			predict.WithEpsilon(e.cfg.PredictorEpsilon),
			predict.WithRegularization(e.cfg.PredictorRegularization),
			predict.WithMaxStep(e.cfg.PredictorMaxStep),
		),
		calib:   newCalibrator(e.cfg.CalibratorDecay, e.cfg.CalibratorMinCount, e.cfg.CalibratorSmoothing),
		rolling: sketch.NewRolling(e.cfg.RollingWindow),
		forest: forest.New(feature.ForestSize,
			forest.WithTrees(e.cfg.ForestTrees),
			forest.WithHeight(e.cfg.ForestHeight),
			forest.WithWindow(e.cfg.ForestWindow),
			forest.WithRebuildEvery(e.cfg.ForestRebuildEvery),
			forest.WithSeed(seed),
		),
		drift: drift.New(
			drift.WithDelta(e.cfg.DriftDelta),
			drift.WithMinWindow(e.cfg.DriftMinWindow),
		),
	}
}

// store maps keys to their state under a capacity bound. Hitting the
// bound evicts the least recently touched key; capacity pressure slows
// nothing down and never fails a request.
type store struct {
	mu      sync.Mutex
	keys    map[model.Key]*keyState
	maxKeys int
	seq     atomic.Uint64
}

func newStore(maxKeys int) *store {
	if maxKeys < 1 {
		maxKeys = 1
	}
	return &store{
		keys:    make(map[model.Key]*keyState),
		maxKeys: maxKeys,
	}
}

// getOrCreate returns the state for key, building it when absent. It
// reports whether another key was evicted to make room.
func (s *store) getOrCreate(key model.Key, build func(model.Key) *keyState) (*keyState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ks, ok := s.keys[key]; ok {
		return ks, false
	}

	evicted := false
	if len(s.keys) >= s.maxKeys {
		s.evictOldest()
		evicted = true
	}

	ks := build(key)
	ks.lastTouch = s.seq.Add(1)
	s.keys[key] = ks
	return ks, evicted
}

// evictOldest removes the least recently touched key. An in-flight score
// holding the evicted state's lock finishes on the orphaned state; the
// map simply stops handing it out. Caller holds s.mu.
func (s *store) evictOldest() {
	var victim model.Key
	oldest := uint64(1<<64 - 1)
	for k, ks := range s.keys {
		if ks.lastTouch <= oldest {
			oldest = ks.lastTouch
			victim = k
		}
	}
	delete(s.keys, victim)
}

// touch refreshes the key's recency. Caller holds the key's lock.
func (s *store) touch(ks *keyState) {
	ks.lastTouch = s.seq.Add(1)
}

// len reports how many keys are tracked.
func (s *store) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

// snapshot returns the current states. The slice is a copy; the states
// are live and need their own locks.
func (s *store) snapshot() []*keyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*keyState, 0, len(s.keys))
	for _, ks := range s.keys {
		out = append(out, ks)
	}
	return out
}
