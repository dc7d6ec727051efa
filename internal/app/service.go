// Package service assembles the scoring pipeline and implements the
// dependencies required by the HTTP API: ingest goes dedupe -> queue ->
// worker pool -> engine, scored rows fan out to the read model, the
// SQLite sink, the WebSocket hub and the shadow monitor.
package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/headwindml/headwind/internal/adapters/http/api"
	"github.com/headwindml/headwind/internal/adapters/http/stream"
	eventqueue "github.com/headwindml/headwind/internal/adapters/mq/queue"
	workerpool "github.com/headwindml/headwind/internal/adapters/mq/worker"
	"github.com/headwindml/headwind/internal/adapters/repository"
	"github.com/headwindml/headwind/internal/adapters/sink"
	"github.com/headwindml/headwind/internal/config"
	"github.com/headwindml/headwind/internal/domain/dedupe"
	"github.com/headwindml/headwind/internal/domain/model"
	"github.com/headwindml/headwind/internal/engine"
	"github.com/headwindml/headwind/internal/shadow"
	"github.com/headwindml/headwind/pkg/logger"
	"github.com/headwindml/headwind/pkg/metrics"
)

// shutdownGrace bounds how long Stop waits for in-flight events.
const shutdownGrace = 30 * time.Second

// Service owns the pipeline components and their lifecycle.
type Service struct {
	mu sync.RWMutex

	cfg *config.Config

	engine     *engine.Engine
	deduper    dedupe.Deduper
	eventQueue eventqueue.Queue
	workerPool *workerpool.Pool
	repo       *repository.RingStore
	sink       *sink.SQLite
	hub        *stream.Hub
	shadowMon  *shadow.Monitor

	started bool
	stopCh  chan struct{}

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service from validated configuration. Nothing runs
// until Start.
func New(cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds and launches every component. Safe to call once; later
// calls are no-ops.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}

	s.logger.Info(ctx, "starting headway scoring service...")

	s.engine = engine.New(engine.ConfigFrom(s.cfg))
	if s.cfg.CheckpointPath != "" {
		if err := s.engine.LoadCheckpoint(s.cfg.CheckpointPath); err != nil {
			if errors.Is(err, engine.ErrNoCheckpoint) {
				s.logger.Info(ctx, "no checkpoint found, starting cold",
					logger.String("path", s.cfg.CheckpointPath))
			} else {
				// A checkpoint that cannot be read costs the warm start,
				// nothing else. The engine relearns from the live feed.
				s.logger.Warn(ctx, "checkpoint unreadable, starting cold",
					logger.String("path", s.cfg.CheckpointPath),
					logger.Error(err))
			}
		}
	}

	s.deduper = dedupe.NewInMemoryDeduper(
		dedupe.WithMaxSize(s.cfg.DedupeSize),
	)
	s.eventQueue = eventqueue.NewArrivalQueue(
		eventqueue.WithCapacity(s.cfg.EventQueueSize),
	)
	s.repo = repository.NewRingStore(ctx,
		repository.WithCapacity(s.cfg.RepositoryCapacity),
	)
	s.hub = stream.NewHub(
		stream.WithBuffer(s.cfg.StreamBuffer),
	)

	consumers := []workerpool.Consumer{s.repo, s.hub}

	if s.cfg.SinkEnabled {
		sq, err := sink.NewSQLite(ctx, s.cfg.SinkPath,
			sink.WithFlushInterval(time.Duration(s.cfg.SinkFlushMS)*time.Millisecond),
		)
		if err != nil {
			return err
		}
		s.sink = sq
		consumers = append(consumers, sq)
	}

	if s.cfg.ShadowEnabled {
		s.shadowMon = shadow.NewMonitor(
			shadow.WithWindow(s.cfg.ShadowWindow),
		)
		consumers = append(consumers, s.shadowMon)
	}

	s.workerPool = workerpool.NewPool(s.eventQueue, s.engine, consumers,
		workerpool.WithLanes(s.cfg.WorkerCount),
		workerpool.WithMaxBatch(s.cfg.BatchSize),
	)
	s.workerPool.Start(ctx)

	if s.cfg.CheckpointPath != "" && s.cfg.CheckpointIntervalSec > 0 {
		go s.runCheckpointer(time.Duration(s.cfg.CheckpointIntervalSec) * time.Second)
	}

	s.started = true
	s.logger.Info(ctx, "headway scoring service started",
		logger.Int("workers", s.cfg.WorkerCount),
		logger.Int("queueSize", s.cfg.EventQueueSize),
		logger.Int("dedupeSize", s.cfg.DedupeSize),
		logger.Bool("sink", s.cfg.SinkEnabled),
		logger.Bool("shadow", s.cfg.ShadowEnabled),
	)
	return nil
}

// Stop drains the pipeline and releases every component.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx := context.Background()
	s.logger.Info(ctx, "stopping headway scoring service...")

	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}

	// Shutdown closes the queue; lanes drain what was accepted.
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownGrace)
	defer cancel()
	if err := s.workerPool.Shutdown(shutdownCtx); err != nil {
		s.logger.Error(ctx, "worker pool shutdown incomplete", logger.Error(err))
	}

	if s.cfg.CheckpointPath != "" {
		if err := s.engine.SaveCheckpoint(s.cfg.CheckpointPath); err != nil {
			s.logger.Error(ctx, "final checkpoint failed", logger.Error(err))
		}
	}

	if err := s.hub.Close(); err != nil {
		s.logger.Error(ctx, "closing stream hub", logger.Error(err))
	}
	if s.sink != nil {
		if err := s.sink.Close(); err != nil {
			s.logger.Error(ctx, "closing sink", logger.Error(err))
		}
	}
	if err := s.repo.Close(); err != nil {
		s.logger.Error(ctx, "closing repository", logger.Error(err))
	}

	s.started = false
	s.logger.Info(ctx, "headway scoring service stopped")
}

// runCheckpointer saves the engine state on a fixed cadence until Stop.
func (s *Service) runCheckpointer(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.engine.SaveCheckpoint(s.cfg.CheckpointPath); err != nil {
				s.logger.Error(context.Background(), "periodic checkpoint failed", logger.Error(err))
			}
		}
	}
}

// SeenAndRecord atomically checks whether an event id was seen and
// records it if not. The only deduplication gate at the ingest boundary.
func (s *Service) SeenAndRecord(ctx context.Context, id string) bool {
	seen := s.deduper.SeenAndRecord(ctx, id)
	if seen {
		metrics.RecordEventDuplicate()
	}
	return seen
}

// Unrecord forgets an event id so the producer can retry it.
func (s *Service) Unrecord(ctx context.Context, id string) {
	s.deduper.Unrecord(ctx, id)
}

// Size returns the number of ids the deduper currently tracks.
func (s *Service) Size() int64 {
	if s.deduper == nil {
		return 0
	}
	return s.deduper.Size()
}

// Enqueue hands an arrival event to the scoring pipeline. Returns false
// on backpressure; the caller decides whether to retry.
func (s *Service) Enqueue(ctx context.Context, ev *model.ArrivalEvent) bool {
	ok := s.eventQueue.Enqueue(ctx, ev)
	if ok {
		metrics.RecordEventIngested()
	}
	return ok
}

// Recent returns scored rows matching q from the read model.
func (s *Service) Recent(ctx context.Context, q repository.Query) ([]model.ScoredEvent, error) {
	return s.repo.Recent(ctx, q)
}

// Summary aggregates the scored rows inside the window.
func (s *Service) Summary(ctx context.Context, window time.Duration) (repository.Summary, error) {
	return s.repo.Summary(ctx, window)
}

// Heat returns per-(stop, route) worst scores inside the window.
func (s *Service) Heat(ctx context.Context, window time.Duration) ([]repository.StopHeat, error) {
	return s.repo.Heat(ctx, window)
}

// Telemetry reports the engine's aggregate counters.
func (s *Service) Telemetry() model.TelemetryReport {
	return s.engine.Telemetry()
}

// ShadowReport exposes the shadow monitor's latest snapshot.
func (s *Service) ShadowReport() shadow.Report {
	if s.shadowMon == nil {
		return shadow.Report{Status: shadow.StatusDisabled}
	}
	return s.shadowMon.Snapshot()
}

// StreamHandler returns the WebSocket endpoint of the live score feed.
func (s *Service) StreamHandler() http.HandlerFunc {
	return s.hub.HandleWS
}

// Pinger exposes the sink's health probe, nil when no sink is configured.
func (s *Service) Pinger() api.Pinger {
	if s.sink == nil {
		return nil
	}
	return s.sink
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]any{
		"started":     s.started,
		"workerCount": s.cfg.WorkerCount,
		"queueSize":   s.cfg.EventQueueSize,
		"dedupeSize":  s.cfg.DedupeSize,
	}

	if s.started {
		queueLen := s.eventQueue.Len()
		stats["queueLength"] = queueLen
		stats["dedupeEntries"] = s.deduper.Size()
		stats["trackedKeys"] = s.engine.TrackedKeys()
		stats["repositoryRows"] = s.repo.Count(ctx)
		stats["streamSubscribers"] = s.hub.Count()

		metrics.UpdateQueueSize(queueLen)
		metrics.UpdateTrackedKeys(s.engine.TrackedKeys())
		metrics.UpdateWorkerCount(s.cfg.WorkerCount)
	}

	return stats
}
