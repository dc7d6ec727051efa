package sketch

import "math"

// Rolling keeps the most recent observations in a fixed ring and serves
// their mean, population standard deviation, and latest value. Running
// sums make every operation O(1).
type Rolling struct {
	buf   []float64
	head  int
	n     int
	sum   float64
	sumsq float64
}

// NewRolling builds a window over the last `window` observations. Windows
// below 2 are raised to 2 so the deviation stays meaningful.
func NewRolling(window int) *Rolling {
	if window < 2 {
		window = 2
	}
	return &Rolling{buf: make([]float64, window)}
}

// Observe pushes one value, evicting the oldest when the window is full.
// Non-finite values are ignored.
func (r *Rolling) Observe(v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	if r.n == len(r.buf) {
		old := r.buf[r.head]
		r.sum -= old
		r.sumsq -= old * old
		r.n--
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	r.sum += v
	r.sumsq += v * v
	r.n++
}

// Mean reports the window average, 0 when empty.
func (r *Rolling) Mean() float64 {
	if r.n == 0 {
		return 0
	}
	return r.sum / float64(r.n)
}

// Std reports the population standard deviation of the window, 0 below
// two observations.
func (r *Rolling) Std() float64 {
	if r.n < 2 {
		return 0
	}
	n := float64(r.n)
	variance := (r.sumsq - r.sum*r.sum/n) / n
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

// Last reports the most recent observation, 0 when empty.
func (r *Rolling) Last() float64 {
	if r.n == 0 {
		return 0
	}
	return r.buf[(r.head-1+len(r.buf))%len(r.buf)]
}

// Count reports how many observations the window currently holds.
func (r *Rolling) Count() int {
	return r.n
}

// Reset empties the window.
func (r *Rolling) Reset() {
	r.head = 0
	r.n = 0
	r.sum = 0
	r.sumsq = 0
}

// RollingSnapshot is the serializable state of a Rolling window. Values
// run oldest to newest.
type RollingSnapshot struct {
	Window int
	Values []float64
}

// Snapshot captures the window contents for persistence.
func (r *Rolling) Snapshot() RollingSnapshot {
	values := make([]float64, 0, r.n)
	start := (r.head - r.n + len(r.buf)) % len(r.buf)
	for i := 0; i < r.n; i++ {
		values = append(values, r.buf[(start+i)%len(r.buf)])
	}
	return RollingSnapshot{Window: len(r.buf), Values: values}
}

// RestoreRolling rebuilds a window from a snapshot, replaying its values
// so the running sums are consistent.
func RestoreRolling(snap RollingSnapshot) *Rolling {
	r := NewRolling(snap.Window)
	for _, v := range snap.Values {
		r.Observe(v)
	}
	return r
}
