package queue

// Option configures an InMemoryQueue.
type Option func(*InMemoryQueue)

// WithCapacity bounds the number of buffered work items. Non-positive values
// keep the default.
func WithCapacity(capacity int) Option {
	return func(q *InMemoryQueue) {
		if capacity > 0 {
			q.capacity = capacity
		}
	}
}

// WithSizeHint shrinks the buffer to n when a run is known to queue fewer
// items than the capacity.
func WithSizeHint(n int) Option {
	return func(q *InMemoryQueue) {
		if n > 0 {
			q.sizeHint = n
		}
	}
}
