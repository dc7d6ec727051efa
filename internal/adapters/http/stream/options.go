package stream

import "time"

// Option configures a Hub.
type Option func(*Hub)

// WithBuffer sets the per-subscriber channel buffer.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithPingInterval sets how often idle connections are pinged.
func WithPingInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.pingEvery = d
		}
	}
}

// WithWriteTimeout bounds a single WebSocket write.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.writeWait = d
		}
	}
}
