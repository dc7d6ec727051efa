package engine

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/snappy"

	"github.com/headwindml/headwind/internal/domain/extract"
	"github.com/headwindml/headwind/internal/domain/model"
	"github.com/headwindml/headwind/internal/domain/predict"
	"github.com/headwindml/headwind/internal/domain/sketch"
	"github.com/headwindml/headwind/pkg/logger"
)

// KeyCheckpoint is the persisted regression-layer state of one key. The
// forest and drift windows are rebuilt from live traffic after a restore;
// they refill within one window and cost nothing to lose.
type KeyCheckpoint struct {
	StopID  string
	RouteID string

	Predictor  predict.Snapshot
	Calibrator sketch.QuantileSnapshot
	Rolling    sketch.RollingSnapshot
	Extract    extract.Snapshot

	RowsSeen    int64
	RowsUpdated int64
	Rejected    int64
	DriftEvents int64
}

// Checkpoint is the persisted engine state.
type Checkpoint struct {
	SavedAtUnixNano int64

	RowsSeen    int64
	RowsUpdated int64
	Rejected    int64
	DriftEvents int64
	Malformed   int64
	Duplicates  int64
	EvictedKeys int64

	MAEEMA    sketch.EWMASnapshot
	Residuals sketch.QuantileSnapshot

	Keys []KeyCheckpoint
}

// SaveCheckpoint writes the current state to path atomically, compressed.
// Scoring continues while the snapshot is taken; each key is locked just
// long enough to copy its state.
func (e *Engine) SaveCheckpoint(path string) error {
	snap := e.checkpoint()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return fmt.Errorf("%w: %w", ErrCheckpointWrite, err)
	}
	compressed := snappy.Encode(nil, buf.Bytes())

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("%w: %w", ErrCheckpointWrite, err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, compressed, 0o600); err != nil {
		return fmt.Errorf("%w: %w", ErrCheckpointWrite, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: %w", ErrCheckpointWrite, err)
	}

	e.log.Info(context.Background(), "checkpoint saved",
		logger.String("path", path),
		logger.Int("keys", len(snap.Keys)),
		logger.Int("bytes", len(compressed)),
	)
	return nil
}

// LoadCheckpoint replaces the engine state with the checkpoint at path.
// Call before serving traffic. A missing file returns ErrNoCheckpoint so
// callers can treat a cold start as routine.
func (e *Engine) LoadCheckpoint(path string) error {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrNoCheckpoint, path)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCheckpointCorrupt, err)
	}

	data, err := snappy.Decode(nil, raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCheckpointCorrupt, err)
	}
	var snap Checkpoint
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return fmt.Errorf("%w: %w", ErrCheckpointCorrupt, err)
	}

	e.restore(snap)
	e.log.Info(context.Background(), "checkpoint restored",
		logger.String("path", path),
		logger.Int("keys", len(snap.Keys)),
		logger.String("saved_at", time.Unix(0, snap.SavedAtUnixNano).UTC().Format(time.RFC3339)),
	)
	return nil
}

func (e *Engine) checkpoint() Checkpoint {
	e.mu.Lock()
	mae := e.maeEMA.Snapshot()
	residuals := e.residuals.Snapshot()
	e.mu.Unlock()

	snap := Checkpoint{
		SavedAtUnixNano: time.Now().UTC().UnixNano(),
		RowsSeen:        e.rowsSeen.Load(),
		RowsUpdated:     e.rowsUpdated.Load(),
		Rejected:        e.rejected.Load(),
		DriftEvents:     e.driftEvents.Load(),
		Malformed:       e.malformed.Load(),
		Duplicates:      e.duplicates.Load(),
		EvictedKeys:     e.evictedKeys.Load(),
		MAEEMA:          mae,
		Residuals:       residuals,
	}

	for _, ks := range e.store.snapshot() {
		ks.mu.Lock()
		snap.Keys = append(snap.Keys, KeyCheckpoint{
			StopID:      ks.key.StopID,
			RouteID:     ks.key.RouteID,
			Predictor:   ks.predictor.Snapshot(),
			Calibrator:  ks.calib.snapshot(),
			Rolling:     ks.rolling.Snapshot(),
			Extract:     ks.extractor.Snapshot(),
			RowsSeen:    ks.rowsSeen,
			RowsUpdated: ks.rowsUpdated,
			Rejected:    ks.rejected,
			DriftEvents: ks.driftEvents,
		})
		ks.mu.Unlock()
	}
	return snap
}

func (e *Engine) restore(snap Checkpoint) {
	e.rowsSeen.Store(snap.RowsSeen)
	e.rowsUpdated.Store(snap.RowsUpdated)
	e.rejected.Store(snap.Rejected)
	e.driftEvents.Store(snap.DriftEvents)
	e.malformed.Store(snap.Malformed)
	e.duplicates.Store(snap.Duplicates)
	e.evictedKeys.Store(snap.EvictedKeys)

	e.mu.Lock()
	e.maeEMA = sketch.RestoreEWMA(snap.MAEEMA)
	e.residuals = sketch.RestoreQuantile(snap.Residuals)
	e.mu.Unlock()

	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	e.store.keys = make(map[model.Key]*keyState, len(snap.Keys))
	for i := range snap.Keys {
		kc := &snap.Keys[i]
		if len(e.store.keys) >= e.store.maxKeys {
			e.log.Warn(context.Background(), "checkpoint holds more keys than the store admits, rest dropped",
				logger.Int("max_keys", e.store.maxKeys),
				logger.Int("checkpoint_keys", len(snap.Keys)),
			)
			break
		}
		key := model.Key{StopID: kc.StopID, RouteID: kc.RouteID}
		ks := e.newKeyState(key)
		ks.predictor = predict.Restore(kc.Predictor)
		ks.calib.restore(kc.Calibrator)
		ks.rolling = sketch.RestoreRolling(kc.Rolling)
		ks.extractor = extract.RestoreState(kc.Extract, e.cfg.TripMemory, e.cfg.OutOfOrderTolerance)
		ks.rowsSeen = kc.RowsSeen
		ks.rowsUpdated = kc.RowsUpdated
		ks.rejected = kc.Rejected
		ks.driftEvents = kc.DriftEvents
		ks.lastTouch = e.store.seq.Add(1)
		e.store.keys[key] = ks
	}
}
