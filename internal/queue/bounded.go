// Package queue holds the bounded transcription queue and the batch
// scheduler that drains it.
package queue

import "sync"

// Bounded is a mutex-guarded FIFO with a fixed capacity. When full, the
// oldest item is evicted to make room for the new one.
type Bounded[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
}

// NewBounded creates a queue holding at most capacity items (minimum 1).
func NewBounded[T any](capacity int) *Bounded[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Bounded[T]{items: make([]T, 0, capacity), capacity: capacity}
}

// Enqueue adds item at the back. If the queue was full the evicted front
// item is returned with dropped set.
func (q *Bounded[T]) Enqueue(item T) (evicted T, dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		evicted = q.items[0]
		dropped = true
		q.items = q.items[1:]
	}
	q.items = append(q.items, item)
	return evicted, dropped
}

// Dequeue removes and returns the front item.
func (q *Bounded[T]) Dequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// DrainUpTo removes and returns at most n items from the front, in order.
func (q *Bounded[T]) DrainUpTo(n int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > len(q.items) {
		n = len(q.items)
	}
	if n <= 0 {
		return nil
	}
	out := make([]T, n)
	copy(out, q.items[:n])
	q.items = q.items[n:]
	return out
}

// Clear empties the queue and returns how many items were removed.
func (q *Bounded[T]) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	q.items = make([]T, 0, q.capacity)
	return n
}

// SetCapacity changes the capacity. Shrinking evicts the oldest items,
// which are returned.
func (q *Bounded[T]) SetCapacity(capacity int) []T {
	if capacity < 1 {
		capacity = 1
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.capacity = capacity
	if len(q.items) <= capacity {
		return nil
	}
	excess := len(q.items) - capacity
	evicted := make([]T, excess)
	copy(evicted, q.items[:excess])
	q.items = q.items[excess:]
	return evicted
}

// Len returns the number of queued items.
func (q *Bounded[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the capacity.
func (q *Bounded[T]) Cap() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.capacity
}
