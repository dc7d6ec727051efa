// Package drift implements an adaptive-windowing change detector over a
// value stream. The detector keeps an exponential histogram of recent
// values and reports drift when two adjacent sub-windows disagree about
// the mean more than sampling noise allows, then discards the stale side.
package drift

import "math"

// maxLevelBuckets bounds how many buckets of one capacity the histogram
// keeps before merging the two oldest into the next capacity class. Total
// memory is O(maxLevelBuckets * log window).
const maxLevelBuckets = 5

type bucket struct {
	sum   float64
	sumsq float64
	count int
}

// Detector watches one stream. It is not safe for concurrent use; callers
// serialize access per key.
type Detector struct {
	delta     float64
	minWindow int

	// buckets run oldest to newest with non-increasing capacities.
	buckets []bucket
	total   int
	sum     float64
	sumsq   float64
}

// New builds a detector. Delta is the false-positive budget: smaller
// values demand stronger evidence before a cut.
func New(opts ...Option) *Detector {
	d := &Detector{
		delta:     defaultDelta,
		minWindow: defaultMinWindow,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Observe folds one value into the window and reports whether a
// distribution change was detected. On detection the pre-change portion
// of the window has already been dropped. Non-finite values are ignored.
func (d *Detector) Observe(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	d.buckets = append(d.buckets, bucket{sum: v, sumsq: v * v, count: 1})
	d.total++
	d.sum += v
	d.sumsq += v * v
	d.compress()

	if d.total < d.minWindow {
		return false
	}
	return d.cut()
}

// Width reports how many observations the adaptive window currently holds.
func (d *Detector) Width() int {
	return d.total
}

// Reset drops the whole window.
func (d *Detector) Reset() {
	d.buckets = d.buckets[:0]
	d.total = 0
	d.sum = 0
	d.sumsq = 0
}

// compress merges bucket pairs so no capacity class exceeds its budget.
// A merge can overflow the next class, so the walk cascades upward.
func (d *Detector) compress() {
	for level := 0; ; level++ {
		size := 1 << uint(level)
		first, n := -1, 0
		for i := range d.buckets {
			if d.buckets[i].count == size {
				if first < 0 {
					first = i
				}
				n++
			}
		}
		if n == 0 {
			return
		}
		if n <= maxLevelBuckets {
			continue
		}
		// Classes form contiguous runs in age order, so the two oldest
		// buckets of this class are adjacent.
		i := first
		d.buckets[i+1] = bucket{
			sum:   d.buckets[i].sum + d.buckets[i+1].sum,
			sumsq: d.buckets[i].sumsq + d.buckets[i+1].sumsq,
			count: d.buckets[i].count + d.buckets[i+1].count,
		}
		d.buckets = append(d.buckets[:i], d.buckets[i+1:]...)
	}
}

// cut scans the bucket boundaries oldest to newest and drops the old side
// at the first boundary whose sub-window means differ significantly.
func (d *Detector) cut() bool {
	if len(d.buckets) < 2 {
		return false
	}

	n := float64(d.total)
	variance := (d.sumsq - d.sum*d.sum/n) / n
	if variance < 0 {
		variance = 0
	}
	dd := math.Log(2 * math.Log(n) / d.delta)

	minSide := d.minWindow / 4
	if minSide < 2 {
		minSide = 2
	}

	n0 := 0
	s0 := 0.0
	for i := 0; i < len(d.buckets)-1; i++ {
		n0 += d.buckets[i].count
		s0 += d.buckets[i].sum
		n1 := d.total - n0
		if n0 < minSide || n1 < minSide {
			continue
		}

		mean0 := s0 / float64(n0)
		mean1 := (d.sum - s0) / float64(n1)
		m := 1 / (1/float64(n0) + 1/float64(n1))
		eps := math.Sqrt(2/m*variance*dd) + 2/(3*m)*dd

		if math.Abs(mean0-mean1) >= eps {
			d.dropOldest(i + 1)
			return true
		}
	}
	return false
}

func (d *Detector) dropOldest(k int) {
	for _, b := range d.buckets[:k] {
		d.total -= b.count
		d.sum -= b.sum
		d.sumsq -= b.sumsq
	}
	copy(d.buckets, d.buckets[k:])
	d.buckets = d.buckets[:len(d.buckets)-k]
}
