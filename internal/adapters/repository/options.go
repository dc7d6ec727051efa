package repository

import "time"

// Option applies a configuration option to the RingStore.
type Option func(*RingStore)

// WithCapacity bounds how many scored rows the ring retains.
func WithCapacity(capacity int) Option {
	return func(s *RingStore) {
		if capacity > 0 {
			s.capacity = capacity
		}
	}
}

// WithSnapshotInterval sets how often the dashboard snapshot is
// republished.
func WithSnapshotInterval(interval time.Duration) Option {
	return func(s *RingStore) {
		if interval > 0 {
			s.snapshotInterval = interval
		}
	}
}

// WithSnapshotWindow sets how far back the dashboard snapshot reaches.
func WithSnapshotWindow(window time.Duration) Option {
	return func(s *RingStore) {
		if window > 0 {
			s.snapshotWindow = window
		}
	}
}

// WithTopCacheSize caps the snapshot's anomaly list.
func WithTopCacheSize(n int) Option {
	return func(s *RingStore) {
		if n > 0 {
			s.topCacheSize = n
		}
	}
}
