// Package queue buffers arrival events between ingest and the scoring
// workers. The implementation is an in-memory bounded channel; enqueue
// never blocks, callers decide what to do with rejected events.
package queue

import (
	"context"
	"sync"

	"github.com/headwindml/headwind/internal/domain/model"
	"github.com/headwindml/headwind/pkg/metrics"
)

const defaultCapacity = 100000

// Queue accepts arrival events on one side and hands them to a consumer
// on the other.
type Queue interface {
	// Enqueue adds an event. Returns false when the queue is full or
	// closed; the event was not accepted.
	Enqueue(ctx context.Context, ev *model.ArrivalEvent) bool

	// Dequeue returns a channel of accepted events. The channel closes
	// once the queue is closed and drained, or when ctx is cancelled.
	Dequeue(ctx context.Context) <-chan *model.ArrivalEvent

	// Len reports how many events are waiting.
	Len() int

	// Close stops intake. Events already accepted remain readable.
	Close() error

	// IsClosed reports whether intake has stopped.
	IsClosed() bool
}

// ArrivalQueue is the channel-backed Queue used in process.
type ArrivalQueue struct {
	events   chan *model.ArrivalEvent
	capacity int

	mu     sync.RWMutex
	closed bool
}

// NewArrivalQueue builds a queue with the configured capacity.
func NewArrivalQueue(opts ...Option) *ArrivalQueue {
	q := &ArrivalQueue{capacity: defaultCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.events = make(chan *model.ArrivalEvent, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	metrics.UpdateQueueUtilization(0)
	return q
}

// Enqueue adds an event without blocking.
func (q *ArrivalQueue) Enqueue(ctx context.Context, ev *model.ArrivalEvent) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "closed")
		return false
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return false
	}

	select {
	case q.events <- ev:
		metrics.RecordQueueEnqueue()
		q.publishGauges()
		return true
	default:
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "queue_full")
		return false
	}
}

// Dequeue starts a relay that forwards accepted events to the returned
// channel. Intended for a single consumer.
func (q *ArrivalQueue) Dequeue(ctx context.Context) <-chan *model.ArrivalEvent {
	out := make(chan *model.ArrivalEvent)
	go func() {
		defer close(out)
		for ev := range q.events {
			select {
			case out <- ev:
				metrics.RecordQueueDequeue()
				q.publishGauges()
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Len reports how many events are waiting.
func (q *ArrivalQueue) Len() int {
	return len(q.events)
}

// Close stops intake. Safe to call more than once.
func (q *ArrivalQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.events)
	return nil
}

// IsClosed reports whether intake has stopped.
func (q *ArrivalQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

func (q *ArrivalQueue) publishGauges() {
	size := len(q.events)
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.capacity))
}
