package repository

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/headwindml/headwind/internal/domain/model"
	"github.com/headwindml/headwind/pkg/metrics"
)

// Ring-buffer Store implementation.
//
// Rows land in arrival order and the newest event time anchors every
// window, so a replay of yesterday's feed is as queryable as live
// traffic. Queries scan under a read lock; the dashboard hot path reads
// a snapshot that a background goroutine republishes on an interval,
// the same way writes never block reads.

const (
	defaultCapacity         = 50000
	defaultSnapshotInterval = time.Second
	defaultSnapshotWindow   = time.Hour
	defaultTopCacheSize     = 500
	metricsInterval         = 5 * time.Second
)

// Snapshot is an immutable dashboard view published periodically.
type Snapshot struct {
	TopAnomalies []model.ScoredEvent `json:"top_anomalies"`
	Heat         []StopHeat          `json:"heat"`
	Summary      Summary             `json:"summary"`
	Window       time.Duration       `json:"window_ns"`
	TakenAt      time.Time           `json:"taken_at"`
}

// RingStore keeps the most recent scored rows in a fixed-size ring.
type RingStore struct {
	mu       sync.RWMutex
	rows     []model.ScoredEvent
	head     int // next write position
	size     int
	newest   time.Time // max event time seen
	capacity int

	snapshotInterval time.Duration
	snapshotWindow   time.Duration
	topCacheSize     int

	snapshot  atomic.Pointer[Snapshot]
	totalRows atomic.Int64

	wg       sync.WaitGroup
	stopChan chan struct{}
}

// NewRingStore constructs a ring store and starts its background
// snapshot and metrics goroutines. Close stops them.
func NewRingStore(ctx context.Context, opts ...Option) *RingStore {
	s := &RingStore{
		capacity:         defaultCapacity,
		snapshotInterval: defaultSnapshotInterval,
		snapshotWindow:   defaultSnapshotWindow,
		topCacheSize:     defaultTopCacheSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.rows = make([]model.ScoredEvent, s.capacity)
	s.stopChan = make(chan struct{})

	s.startSnapshotPublisher(ctx)
	s.startMetricsUpdater(ctx)

	metrics.UpdateRepositoryRecords(0)
	return s
}

// Consume implements the worker fan-out contract.
func (s *RingStore) Consume(ctx context.Context, rows []*model.ScoredEvent) error {
	s.mu.Lock()
	for _, row := range rows {
		s.rows[s.head] = *row
		s.head = (s.head + 1) % s.capacity
		if s.size < s.capacity {
			s.size++
		}
		if row.ObservedAt.After(s.newest) {
			s.newest = row.ObservedAt
		}
	}
	size := s.size
	s.mu.Unlock()

	s.totalRows.Add(int64(len(rows)))
	metrics.UpdateRepositoryRecords(size)
	return nil
}

// Recent returns rows matching q, best first.
func (s *RingStore) Recent(ctx context.Context, q Query) ([]model.ScoredEvent, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	if q.Limit < 1 {
		metrics.RecordErrorByComponent("repository", "invalid_limit")
		return nil, ErrInvalidLimit
	}
	if q.Window <= 0 {
		metrics.RecordErrorByComponent("repository", "invalid_window")
		return nil, ErrInvalidWindow
	}

	s.mu.RLock()
	out := make([]model.ScoredEvent, 0, q.Limit)
	s.scanLocked(q.Window, func(row *model.ScoredEvent) {
		if row.AnomalyScore < q.MinScore {
			return
		}
		if q.RouteID != "" && row.RouteID != q.RouteID {
			return
		}
		out = append(out, *row)
	})
	s.mu.RUnlock()

	sortRows(out)
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Summary aggregates the rows inside the window.
func (s *RingStore) Summary(ctx context.Context, window time.Duration) (Summary, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	if window <= 0 {
		metrics.RecordErrorByComponent("repository", "invalid_window")
		return Summary{}, ErrInvalidWindow
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summaryLocked(window), nil
}

// Heat returns per-(stop, route) worst scores inside the window.
func (s *RingStore) Heat(ctx context.Context, window time.Duration) ([]StopHeat, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	if window <= 0 {
		metrics.RecordErrorByComponent("repository", "invalid_window")
		return nil, ErrInvalidWindow
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.heatLocked(window), nil
}

// Count returns how many rows the store currently holds.
func (s *RingStore) Count(ctx context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// TotalRows returns the lifetime number of consumed rows.
func (s *RingStore) TotalRows() int64 {
	return s.totalRows.Load()
}

// Dashboard returns the latest published snapshot, building one on the
// spot if the publisher has not run yet.
func (s *RingStore) Dashboard() *Snapshot {
	if snap := s.snapshot.Load(); snap != nil {
		return snap
	}
	s.publishSnapshot()
	return s.snapshot.Load()
}

// Close stops the background goroutines.
func (s *RingStore) Close() error {
	select {
	case <-s.stopChan:
	default:
		close(s.stopChan)
	}
	s.wg.Wait()
	return nil
}

func (s *RingStore) startSnapshotPublisher(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.snapshotInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.publishSnapshot()
			}
		}
	}()
}

func (s *RingStore) publishSnapshot() {
	start := time.Now()

	s.mu.RLock()
	top := make([]model.ScoredEvent, 0, s.topCacheSize)
	s.scanLocked(s.snapshotWindow, func(row *model.ScoredEvent) {
		if row.IsAnomaly {
			top = append(top, *row)
		}
	})
	heat := s.heatLocked(s.snapshotWindow)
	summary := s.summaryLocked(s.snapshotWindow)
	s.mu.RUnlock()

	sortRows(top)
	if len(top) > s.topCacheSize {
		top = top[:s.topCacheSize]
	}

	s.snapshot.Store(&Snapshot{
		TopAnomalies: top,
		Heat:         heat,
		Summary:      summary,
		Window:       s.snapshotWindow,
		TakenAt:      time.Now().UTC(),
	})
	metrics.RecordRepositorySnapshot(float64(time.Since(start).Microseconds()) / 1000.0)
}

func (s *RingStore) startMetricsUpdater(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(metricsInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				metrics.UpdateRepositoryRecords(s.Count(ctx))
			}
		}
	}()
}

// scanLocked visits rows newer than the window cutoff, newest insertion
// first. Out-of-order rows keep the scan from stopping early, so every
// slot inside the ring is visited.
func (s *RingStore) scanLocked(window time.Duration, fn func(*model.ScoredEvent)) {
	cutoff := s.newest.Add(-window)
	for i := 1; i <= s.size; i++ {
		row := &s.rows[(s.head-i+s.capacity)%s.capacity]
		if row.ObservedAt.Before(cutoff) {
			continue
		}
		fn(row)
	}
}

func (s *RingStore) summaryLocked(window time.Duration) Summary {
	var sum Summary
	s.scanLocked(window, func(row *model.ScoredEvent) {
		sum.Rows++
		if row.IsAnomaly {
			sum.Anomalies++
		}
		if row.IsHighAnomaly {
			sum.HighAnomalies++
		}
		if row.AnomalyScore > sum.MaxScore {
			sum.MaxScore = row.AnomalyScore
		}
	})
	if sum.Rows > 0 {
		sum.AnomalyRate = 100 * float64(sum.Anomalies) / float64(sum.Rows)
	}
	return sum
}

func (s *RingStore) heatLocked(window time.Duration) []StopHeat {
	cells := make(map[model.Key]*StopHeat)
	s.scanLocked(window, func(row *model.ScoredEvent) {
		key := row.Key()
		cell, ok := cells[key]
		if !ok {
			cell = &StopHeat{StopID: row.StopID, RouteID: row.RouteID}
			cells[key] = cell
		}
		cell.Rows++
		if row.AnomalyScore > cell.Worst {
			cell.Worst = row.AnomalyScore
		}
		if row.ObservedAt.After(cell.LastSeen) {
			cell.LastSeen = row.ObservedAt
		}
	})

	out := make([]StopHeat, 0, len(cells))
	for _, cell := range cells {
		out = append(out, *cell)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Worst != out[j].Worst {
			return out[i].Worst > out[j].Worst
		}
		if out[i].StopID != out[j].StopID {
			return out[i].StopID < out[j].StopID
		}
		return out[i].RouteID < out[j].RouteID
	})
	return out
}

// sortRows orders by anomaly score descending, newer rows first on
// ties, trip id as the final deterministic tie breaker.
func sortRows(rows []model.ScoredEvent) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].AnomalyScore != rows[j].AnomalyScore {
			return rows[i].AnomalyScore > rows[j].AnomalyScore
		}
		if !rows[i].ObservedAt.Equal(rows[j].ObservedAt) {
			return rows[i].ObservedAt.After(rows[j].ObservedAt)
		}
		return rows[i].TripID < rows[j].TripID
	})
}
