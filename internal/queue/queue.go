// Package queue provides an unbounded FIFO used as a mailbox between
// goroutines that must never block the producer.
package queue

import "sync"

// Queue is a thread-safe ring that doubles its capacity when it reaches
// 70% full. Push never blocks; Pop blocks until an item arrives or the
// queue is closed.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ring   []T
	head   int
	tail   int
	n      int
	closed bool

	pushed int64
	popped int64
	grows  int
}

// Stats is a point-in-time view of a queue.
type Stats struct {
	Len      int
	Capacity int
	Pushed   int64
	Popped   int64
	Grows    int
}

// New creates a queue with the given initial capacity (at least 1).
func New[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue[T]{ring: make([]T, capacity)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends v. It returns false once the queue is closed.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	threshold := len(q.ring) * 70 / 100
	if threshold < 1 {
		threshold = 1
	}
	if q.n+1 >= threshold {
		q.grow()
	}

	q.ring[q.tail] = v
	q.tail = (q.tail + 1) % len(q.ring)
	q.n++
	q.pushed++

	q.cond.Signal()
	return true
}

// Pop removes the oldest item, waiting for one if necessary. After Close
// it keeps returning queued items, then reports false.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.n == 0 && !q.closed {
		q.cond.Wait()
	}
	return q.takeLocked()
}

// TryPop is Pop without waiting.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.takeLocked()
}

// Close rejects further pushes and wakes every waiter.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Len:      q.n,
		Capacity: len(q.ring),
		Pushed:   q.pushed,
		Popped:   q.popped,
		Grows:    q.grows,
	}
}

func (q *Queue[T]) takeLocked() (T, bool) {
	var zero T
	if q.n == 0 {
		return zero, false
	}

	v := q.ring[q.head]
	q.ring[q.head] = zero
	q.head = (q.head + 1) % len(q.ring)
	q.n--
	q.popped++
	return v, true
}

// grow doubles the ring, unwrapping it so head is 0. Caller holds mu.
func (q *Queue[T]) grow() {
	next := make([]T, len(q.ring)*2)

	if q.n > 0 {
		if q.head < q.tail {
			copy(next, q.ring[q.head:q.tail])
		} else {
			k := copy(next, q.ring[q.head:])
			copy(next[k:], q.ring[:q.tail])
		}
	}

	q.ring = next
	q.head = 0
	q.tail = q.n
	q.grows++
}
