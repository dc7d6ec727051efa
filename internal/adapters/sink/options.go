package sink

import "time"

// Option applies a configuration option to the SQLite sink.
type Option func(*SQLite)

// WithFlushInterval sets how often buffered rows are written out.
func WithFlushInterval(interval time.Duration) Option {
	return func(s *SQLite) {
		if interval > 0 {
			s.flushInterval = interval
		}
	}
}

// WithFlushSize sets the buffer length that triggers an inline flush.
func WithFlushSize(n int) Option {
	return func(s *SQLite) {
		if n > 0 {
			s.flushSize = n
		}
	}
}
