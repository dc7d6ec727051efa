// Package sink persists scored rows to SQLite so anomalies survive a
// restart and stay queryable with ordinary tooling.
package sink

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/headwindml/headwind/internal/domain/model"
	"github.com/headwindml/headwind/pkg/logger"
	"github.com/headwindml/headwind/pkg/metrics"
)

const (
	defaultFlushInterval = 2 * time.Second
	defaultFlushSize     = 512
	defaultBusyTimeoutMs = 5000
)

const schema = `
CREATE TABLE IF NOT EXISTS scored_rows (
	stop_id         TEXT    NOT NULL,
	route_id        TEXT    NOT NULL,
	trip_id         TEXT    NOT NULL,
	observed_at     INTEGER NOT NULL,
	headway_sec     REAL    NOT NULL,
	predicted_sec   REAL    NOT NULL,
	residual        REAL    NOT NULL,
	ssl_score       REAL    NOT NULL,
	hst_score       REAL    NOT NULL,
	rel_score       REAL    NOT NULL,
	anomaly_score   REAL    NOT NULL,
	is_anomaly      INTEGER NOT NULL,
	is_high_anomaly INTEGER NOT NULL,
	out_of_order    INTEGER NOT NULL,
	PRIMARY KEY (stop_id, trip_id)
);
CREATE INDEX IF NOT EXISTS idx_scored_rows_observed ON scored_rows(observed_at);
CREATE INDEX IF NOT EXISTS idx_scored_rows_route ON scored_rows(route_id, observed_at);
`

const insertSQL = `
INSERT OR REPLACE INTO scored_rows (
	stop_id, route_id, trip_id, observed_at,
	headway_sec, predicted_sec, residual,
	ssl_score, hst_score, rel_score, anomaly_score,
	is_anomaly, is_high_anomaly, out_of_order
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// SQLite buffers scored rows and flushes them in batched transactions.
// The (stop_id, trip_id) primary key with INSERT OR REPLACE keeps a
// redelivered row from producing a second record.
type SQLite struct {
	db     *sql.DB
	insert *sql.Stmt
	log    logger.Logger

	flushInterval time.Duration
	flushSize     int

	mu      sync.Mutex
	pending []*model.ScoredEvent
	closed  bool

	wg       sync.WaitGroup
	stopChan chan struct{}
}

// NewSQLite opens (or creates) the database at path and starts the
// background flusher.
func NewSQLite(ctx context.Context, path string, opts ...Option) (*SQLite, error) {
	s := &SQLite{
		flushInterval: defaultFlushInterval,
		flushSize:     defaultFlushSize,
		log:           logger.Named("sink"),
		stopChan:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(%d)",
		path, defaultBusyTimeoutMs,
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}
	// One writer connection sidesteps SQLITE_BUSY between flushes.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: schema: %w", ErrOpen, err)
	}
	insert, err := db.PrepareContext(ctx, insertSQL)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: prepare: %w", ErrOpen, err)
	}

	s.db = db
	s.insert = insert
	s.startFlusher()

	s.log.Info(ctx, "sqlite sink opened", logger.String("path", path))
	return s, nil
}

// Consume buffers rows, flushing inline once the batch threshold is
// reached. Implements the worker fan-out contract.
func (s *SQLite) Consume(ctx context.Context, rows []*model.ScoredEvent) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.pending = append(s.pending, rows...)
	ready := len(s.pending) >= s.flushSize
	s.mu.Unlock()

	if ready {
		return s.Flush(ctx)
	}
	return nil
}

// Flush writes every pending row in one transaction.
func (s *SQLite) Flush(ctx context.Context) error {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.requeue(batch)
		metrics.RecordSinkWriteError()
		return fmt.Errorf("%w: begin: %w", ErrWrite, err)
	}
	stmt := tx.StmtContext(ctx, s.insert)
	for _, row := range batch {
		if _, err := stmt.ExecContext(ctx,
			row.StopID, row.RouteID, row.TripID, row.ObservedAt.UnixNano(),
			row.HeadwaySec, row.PredictedHeadwaySec, row.Residual,
			row.SSLResidualScore, row.HSTScore, row.RelativeErrorScore, row.AnomalyScore,
			boolInt(row.IsAnomaly), boolInt(row.IsHighAnomaly), boolInt(row.OutOfOrder),
		); err != nil {
			_ = tx.Rollback()
			s.requeue(batch)
			metrics.RecordSinkWriteError()
			return fmt.Errorf("%w: insert: %w", ErrWrite, err)
		}
	}
	if err := tx.Commit(); err != nil {
		s.requeue(batch)
		metrics.RecordSinkWriteError()
		return fmt.Errorf("%w: commit: %w", ErrWrite, err)
	}

	metrics.RecordSinkRowsWritten(len(batch))
	metrics.RecordSinkFlushDuration(float64(time.Since(start).Microseconds()) / 1000.0)
	return nil
}

// RowCount returns how many rows the table holds.
func (s *SQLite) RowCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scored_rows`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: count: %w", ErrWrite, err)
	}
	return n, nil
}

// Ping verifies the database connection, for health checks.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close flushes pending rows and closes the database.
func (s *SQLite) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		s.log.Error(ctx, "final flush failed", logger.Error(err))
	}

	_ = s.insert.Close()
	return s.db.Close()
}

func (s *SQLite) startFlusher() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.flushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), s.flushInterval)
				if err := s.Flush(ctx); err != nil {
					s.log.Error(ctx, "periodic flush failed", logger.Error(err))
				}
				cancel()
			}
		}
	}()
}

// requeue puts a failed batch back in front of newer pending rows so
// the next flush retries it.
func (s *SQLite) requeue(batch []*model.ScoredEvent) {
	s.mu.Lock()
	s.pending = append(batch, s.pending...)
	s.mu.Unlock()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
