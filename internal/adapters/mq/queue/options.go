package queue

// Option applies a configuration option to the ArrivalQueue.
type Option func(*ArrivalQueue)

// WithCapacity bounds how many events the queue holds before rejecting
// new ones.
func WithCapacity(capacity int) Option {
	return func(q *ArrivalQueue) {
		if capacity > 0 {
			q.capacity = capacity
		}
	}
}
