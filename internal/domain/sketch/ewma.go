package sketch

import "math"

// EWMA tracks an exponentially weighted moving average. The first
// observation seeds the average directly so early values are not pulled
// toward zero.
type EWMA struct {
	alpha float64
	value float64
	n     int64
}

// NewEWMA builds an average where each new observation contributes the
// fraction alpha. Alphas outside (0,1] fall back to 1 (latest value wins).
func NewEWMA(alpha float64) *EWMA {
	if alpha <= 0 || alpha > 1 || math.IsNaN(alpha) {
		alpha = 1
	}
	return &EWMA{alpha: alpha}
}

// Observe folds one value into the average. Non-finite values are ignored.
func (e *EWMA) Observe(v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	if e.n == 0 {
		e.value = v
	} else {
		e.value = (1-e.alpha)*e.value + e.alpha*v
	}
	e.n++
}

// Value reports the current average, 0 before any observation.
func (e *EWMA) Value() float64 {
	return e.value
}

// Count reports the number of accepted observations.
func (e *EWMA) Count() int64 {
	return e.n
}

// Reset returns the average to its initial empty state.
func (e *EWMA) Reset() {
	e.value = 0
	e.n = 0
}

// EWMASnapshot is the serializable state of an EWMA.
type EWMASnapshot struct {
	Alpha float64
	Value float64
	N     int64
}

// Snapshot captures the average for persistence.
func (e *EWMA) Snapshot() EWMASnapshot {
	return EWMASnapshot{Alpha: e.alpha, Value: e.value, N: e.n}
}

// RestoreEWMA rebuilds an average from a snapshot.
func RestoreEWMA(snap EWMASnapshot) *EWMA {
	e := NewEWMA(snap.Alpha)
	e.value = snap.Value
	e.n = snap.N
	return e
}
