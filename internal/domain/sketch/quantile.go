package sketch

import "math"

const (
	quantileBuckets = 64

	// Bucket 0 absorbs everything at or below quantileMin seconds and the
	// last bucket everything at or above quantileMax. Exponential widths
	// in between keep relative precision flat across headway scales.
	quantileMin = 0.01
	quantileMax = 86400.0
)

// Quantile estimates quantiles of a non-negative value stream in constant
// memory. Observations land in exponentially sized buckets and previously
// recorded mass decays on every new observation, so the estimate tracks
// the recent stream rather than its full history.
type Quantile struct {
	decay  float64
	growth float64
	counts []float64
	total  float64
	n      int64
}

// NewQuantile builds a sketch whose history halves roughly every
// ln(2)/(1-decay) observations. Decay values outside (0,1] fall back to 1
// (no forgetting).
func NewQuantile(decay float64) *Quantile {
	if decay <= 0 || decay > 1 || math.IsNaN(decay) {
		decay = 1
	}
	return &Quantile{
		decay:  decay,
		growth: math.Pow(quantileMax/quantileMin, 1/float64(quantileBuckets-1)),
		counts: make([]float64, quantileBuckets),
	}
}

// Observe records one value. Negative and non-finite values are ignored.
func (s *Quantile) Observe(v float64) {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	if s.decay < 1 {
		for i := range s.counts {
			s.counts[i] *= s.decay
		}
		s.total *= s.decay
	}
	s.counts[s.index(v)]++
	s.total++
	s.n++
}

// Query returns the q-th quantile of the decayed stream, interpolating
// linearly inside the containing bucket. An empty sketch reports 0.
func (s *Quantile) Query(q float64) float64 {
	if s.total <= 0 {
		return 0
	}
	if q < 0 {
		q = 0
	}
	if q > 1 {
		q = 1
	}

	rank := q * s.total
	cum := 0.0
	for i, c := range s.counts {
		if c == 0 {
			continue
		}
		if cum+c >= rank {
			lo, hi := s.bounds(i)
			frac := (rank - cum) / c
			return lo + frac*(hi-lo)
		}
		cum += c
	}

	// Float drift can leave the rank beyond the walk. Fall back to the top
	// of the highest occupied bucket.
	for i := len(s.counts) - 1; i >= 0; i-- {
		if s.counts[i] > 0 {
			_, hi := s.bounds(i)
			return hi
		}
	}
	return 0
}

// Count reports the raw number of accepted observations, undecayed. It
// gates cold-start behavior in callers.
func (s *Quantile) Count() int64 {
	return s.n
}

// Reset drops all recorded mass and the observation count.
func (s *Quantile) Reset() {
	for i := range s.counts {
		s.counts[i] = 0
	}
	s.total = 0
	s.n = 0
}

func (s *Quantile) index(v float64) int {
	if v <= quantileMin {
		return 0
	}
	if v >= quantileMax {
		return quantileBuckets - 1
	}
	idx := int(math.Ceil(math.Log(v/quantileMin) / math.Log(s.growth)))
	if idx < 0 {
		idx = 0
	}
	if idx > quantileBuckets-1 {
		idx = quantileBuckets - 1
	}
	return idx
}

func (s *Quantile) bounds(i int) (float64, float64) {
	if i <= 0 {
		return 0, quantileMin
	}
	return quantileMin * math.Pow(s.growth, float64(i-1)),
		quantileMin * math.Pow(s.growth, float64(i))
}

// QuantileSnapshot is the serializable state of a Quantile sketch.
type QuantileSnapshot struct {
	Decay  float64
	Counts []float64
	Total  float64
	N      int64
}

// Snapshot captures the sketch state for persistence.
func (s *Quantile) Snapshot() QuantileSnapshot {
	counts := make([]float64, len(s.counts))
	copy(counts, s.counts)
	return QuantileSnapshot{Decay: s.decay, Counts: counts, Total: s.total, N: s.n}
}

// RestoreQuantile rebuilds a sketch from a snapshot. Snapshots taken with
// a different bucket count are discarded and an empty sketch is returned.
func RestoreQuantile(snap QuantileSnapshot) *Quantile {
	s := NewQuantile(snap.Decay)
	if len(snap.Counts) != len(s.counts) {
		return s
	}
	copy(s.counts, snap.Counts)
	s.total = snap.Total
	s.n = snap.N
	return s
}
