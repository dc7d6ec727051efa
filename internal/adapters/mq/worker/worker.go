// Package worker drains the arrival queue into the scoring engine and
// fans scored rows out to the read side.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/headwindml/headwind/internal/domain/model"
	"github.com/headwindml/headwind/pkg/logger"
	"github.com/headwindml/headwind/pkg/metrics"
)

const (
	defaultMaxBatch = 64
	laneBuffer      = 256
)

// Scorer turns arrival events into scored rows. Implemented by the
// scoring engine.
type Scorer interface {
	ScoreBatch(ctx context.Context, events []*model.ArrivalEvent) []*model.ScoredEvent
}

// Consumer receives the scored rows of one batch. A failing consumer is
// logged and skipped; it never stalls the pipeline.
type Consumer interface {
	Consume(ctx context.Context, rows []*model.ScoredEvent) error
}

// Queue is the event source the pool drains.
type Queue interface {
	Dequeue(ctx context.Context) <-chan *model.ArrivalEvent
}

// Pool shards arrival events over a fixed set of lanes. Events for one
// (stop, route) key always land on the same lane, so per-key arrival
// order survives the fan-out while different keys score in parallel.
type Pool struct {
	queue     Queue
	scorer    Scorer
	consumers []Consumer

	lanes    int
	maxBatch int
	chans    []chan *model.ArrivalEvent

	wg   sync.WaitGroup
	done chan struct{}
	log  logger.Logger
}

// NewPool builds a pool draining q into s, delivering scored rows to
// every consumer in order of registration.
func NewPool(q Queue, s Scorer, consumers []Consumer, opts ...Option) *Pool {
	p := &Pool{
		queue:     q,
		scorer:    s,
		consumers: consumers,
		lanes:     runtime.NumCPU(),
		maxBatch:  defaultMaxBatch,
		done:      make(chan struct{}),
		log:       logger.Named("worker"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.lanes < 1 {
		p.lanes = 1
	}
	p.chans = make([]chan *model.ArrivalEvent, p.lanes)
	return p
}

// Start launches the dispatcher and lane goroutines. Call once.
func (p *Pool) Start(ctx context.Context) {
	for i := range p.chans {
		p.chans[i] = make(chan *model.ArrivalEvent, laneBuffer)
		p.wg.Add(1)
		go p.runLane(ctx, i, p.chans[i])
	}

	p.wg.Add(1)
	go p.dispatch(ctx, p.queue.Dequeue(ctx))

	go func() {
		p.wg.Wait()
		close(p.done)
	}()

	metrics.UpdateWorkerCount(p.lanes)
	p.log.Info(ctx, "worker pool started",
		logger.Int("lanes", p.lanes),
		logger.Int("max_batch", p.maxBatch),
	)
}

// Shutdown stops intake and waits for in-flight events to finish.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.log.Error(ctx, "closing queue", logger.Error(err))
		}
	}

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrShutdownTimeout, ctx.Err())
	}
}

// Done is closed once every lane has drained and exited.
func (p *Pool) Done() <-chan struct{} {
	return p.done
}

func (p *Pool) dispatch(ctx context.Context, events <-chan *model.ArrivalEvent) {
	defer p.wg.Done()
	defer func() {
		for _, ch := range p.chans {
			close(ch)
		}
	}()

	for ev := range events {
		lane := int(xxhash.Sum64String(ev.Key().String()) % uint64(p.lanes))
		select {
		case p.chans[lane] <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pool) runLane(ctx context.Context, id int, ch <-chan *model.ArrivalEvent) {
	defer p.wg.Done()

	batch := make([]*model.ArrivalEvent, 0, p.maxBatch)
	for ev := range ch {
		batch = append(batch[:0], ev)
	gather:
		for len(batch) < p.maxBatch {
			select {
			case next, ok := <-ch:
				if !ok {
					break gather
				}
				batch = append(batch, next)
			default:
				break gather
			}
		}
		p.process(ctx, id, batch)
	}
}

func (p *Pool) process(ctx context.Context, lane int, batch []*model.ArrivalEvent) {
	start := time.Now()
	rows := p.scorer.ScoreBatch(ctx, batch)
	metrics.RecordWorkerBatchSize(len(batch))
	metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Microseconds()) / 1000.0)

	if len(rows) == 0 {
		return
	}
	for _, c := range p.consumers {
		if err := c.Consume(ctx, rows); err != nil {
			metrics.RecordWorkerError()
			metrics.RecordErrorByComponent("worker", "consumer_error")
			p.log.Error(ctx, "consumer rejected scored rows",
				logger.Int("lane", lane),
				logger.Int("rows", len(rows)),
				logger.Error(err),
			)
		}
	}
}
