// Package sketch provides the bounded-memory streaming statistics backing
// the scoring engine: a decayed quantile histogram, an exponentially
// weighted moving average, and a fixed rolling window. Per-key memory
// stays constant no matter how long a stream runs.
package sketch

// Summary is a bounded-memory statistic over a stream of float64 values.
type Summary interface {
	Observe(v float64)
	Reset()
}

// Quantiler is a Summary that can report arbitrary quantiles of the
// stream it has observed.
type Quantiler interface {
	Summary
	Query(q float64) float64
}

var (
	_ Quantiler = (*Quantile)(nil)
	_ Summary   = (*EWMA)(nil)
	_ Summary   = (*Rolling)(nil)
)
