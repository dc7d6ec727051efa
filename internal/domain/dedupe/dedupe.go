// Package dedupe defines the interface for idempotency tracking.
package dedupe

import (
	"context"
	"sync"
)

// defaultMaxSize bounds the dedupe window when no option overrides it.
// At one arrival per stop per minute this covers well over a day of feed.
const defaultMaxSize = 50000

// Deduper records seen event IDs so replayed submissions are acknowledged
// without re-entering the pipeline.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord forgets an ID so it can be retried. Use it when an event was
	// marked seen but never made it into the pipeline (queue backpressure).
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// inMemoryDeduper keeps the most recent IDs in a fixed ring of slots.
// Recording a new ID when the ring is full overwrites the oldest slot,
// so the window slides forward one eviction at a time.
//
// With maxSize <= 0 the ring is disabled and IDs accumulate without bound.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]int // id -> slot index; -1 in unbounded mode
	slots   []string       // ring of ids, "" marks a free slot
	next    int            // slot the next insert will claim
	maxSize int
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: defaultMaxSize,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.seen = make(map[string]int)
	if d.maxSize > 0 {
		d.slots = make([]string, d.maxSize)
	}
	return d
}

// SeenAndRecord atomically checks if id was seen and records it if not.
// Returns true if id was already seen, false if it was newly recorded.
func (d *inMemoryDeduper) SeenAndRecord(ctx context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.seen[id]; exists {
		return true
	}

	if d.maxSize <= 0 {
		d.seen[id] = -1
		return false
	}

	// Claim the next slot, dropping whatever ID held it before. A slot
	// emptied by Unrecord is reclaimed for free.
	if old := d.slots[d.next]; old != "" {
		delete(d.seen, old)
	}
	d.slots[d.next] = id
	d.seen[id] = d.next
	d.next = (d.next + 1) % d.maxSize
	return false
}

// Unrecord forgets an ID so it can be retried.
func (d *inMemoryDeduper) Unrecord(ctx context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	slot, exists := d.seen[id]
	if !exists {
		return
	}
	delete(d.seen, id)
	if slot >= 0 {
		d.slots[slot] = ""
	}
}

// Size returns the current number of entries in the deduper.
func (d *inMemoryDeduper) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.seen))
}
