package shadow

// Option configures a Monitor.
type Option func(*Monitor)

// WithWindow bounds how many (error, score) samples the monitor keeps.
func WithWindow(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.window = n
		}
	}
}

// WithAlpha sets the baseline smoothing factor in (0, 1].
func WithAlpha(alpha float64) Option {
	return func(m *Monitor) {
		if alpha > 0 && alpha <= 1 {
			m.alpha = alpha
		}
	}
}

// WithMaxKeys bounds how many per-key baselines the monitor tracks.
func WithMaxKeys(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.maxKeys = n
		}
	}
}
