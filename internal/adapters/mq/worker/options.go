package worker

// Option applies a configuration option to the Pool.
type Option func(*Pool)

// WithLanes sets how many scoring lanes the pool runs. Defaults to the
// number of CPUs.
func WithLanes(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.lanes = n
		}
	}
}

// WithMaxBatch caps how many queued events one lane hands to the engine
// per call.
func WithMaxBatch(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.maxBatch = n
		}
	}
}
