// Package extract turns raw arrival events into per-key headway
// observations. Each key remembers its last accepted arrival and a
// bounded set of recently credited trips, so replays are dropped and the
// stream stays usable through out-of-order delivery.
package extract

import (
	"time"

	"github.com/headwindml/headwind/internal/domain/model"
)

// Kind classifies what one arrival contributed to a key's stream.
type Kind int

const (
	// KindDuplicate marks a trip already credited at this key.
	KindDuplicate Kind = iota
	// KindBootstrap marks the first arrival at a key. State is primed but
	// there is no interval to measure yet.
	KindBootstrap
	// KindStale marks an arrival too far behind the stream head to use.
	KindStale
	// KindHeadway marks an arrival that produced a headway observation.
	KindHeadway
)

// Outcome reports the effect of applying one arrival.
type Outcome struct {
	Kind       Kind
	HeadwaySec float64
	OutOfOrder bool
}

// State tracks extraction history for one key. It is not safe for
// concurrent use; callers serialize access per key.
type State struct {
	tolerance   time.Duration
	lastArrival time.Time
	primed      bool
	trips       *tripSet
}

// NewState builds extraction state remembering at most tripMemory trips.
// Arrivals behind the stream head by more than tolerance are dropped.
func NewState(tripMemory int, tolerance time.Duration) *State {
	return &State{
		tolerance: tolerance,
		trips:     newTripSet(tripMemory),
	}
}

// Apply folds one arrival into the state. Applying the same trip twice
// reports a duplicate and changes nothing, so replays are idempotent.
func (s *State) Apply(ev *model.ArrivalEvent) Outcome {
	if s.trips.contains(ev.TripID) {
		return Outcome{Kind: KindDuplicate}
	}
	s.trips.record(ev.TripID)

	at := ev.ObservedAt
	if !s.primed {
		s.primed = true
		s.lastArrival = at
		return Outcome{Kind: KindBootstrap}
	}

	if at.After(s.lastArrival) {
		headway := at.Sub(s.lastArrival).Seconds()
		s.lastArrival = at
		return Outcome{Kind: KindHeadway, HeadwaySec: headway}
	}

	// Late arrival. Within tolerance the lag behind the stream head still
	// makes a usable observation, flagged so the models can discount it.
	// The stream head itself never moves backward.
	lag := s.lastArrival.Sub(at)
	if lag <= s.tolerance {
		return Outcome{Kind: KindHeadway, HeadwaySec: lag.Seconds(), OutOfOrder: true}
	}
	return Outcome{Kind: KindStale}
}

// LastArrival reports the current stream head, zero before the first
// arrival.
func (s *State) LastArrival() time.Time {
	return s.lastArrival
}

// Snapshot is the serializable part of extraction state. The trip memory
// is deliberately left out: after a restore, pre-checkpoint replays fall
// behind the restored stream head and are dropped as stale instead.
type Snapshot struct {
	LastArrivalUnixNano int64
	Primed              bool
}

// Snapshot captures the stream head for persistence.
func (s *State) Snapshot() Snapshot {
	return Snapshot{LastArrivalUnixNano: s.lastArrival.UnixNano(), Primed: s.primed}
}

// RestoreState rebuilds extraction state from a snapshot with an empty
// trip memory.
func RestoreState(snap Snapshot, tripMemory int, tolerance time.Duration) *State {
	s := NewState(tripMemory, tolerance)
	s.primed = snap.Primed
	if snap.Primed {
		s.lastArrival = time.Unix(0, snap.LastArrivalUnixNano).UTC()
	}
	return s
}

// tripSet is a bounded seen-set over trip IDs. When full, the oldest
// entry is evicted first; old trips do not reappear in arrival feeds.
type tripSet struct {
	seen  map[string]struct{}
	order []string
	head  int
	n     int
}

func newTripSet(capacity int) *tripSet {
	if capacity < 1 {
		capacity = 1
	}
	return &tripSet{
		seen:  make(map[string]struct{}, capacity),
		order: make([]string, capacity),
	}
}

func (t *tripSet) contains(id string) bool {
	_, ok := t.seen[id]
	return ok
}

func (t *tripSet) record(id string) {
	if t.n == len(t.order) {
		delete(t.seen, t.order[t.head])
		t.order[t.head] = id
		t.head = (t.head + 1) % len(t.order)
	} else {
		t.order[(t.head+t.n)%len(t.order)] = id
		t.n++
	}
	t.seen[id] = struct{}{}
}
