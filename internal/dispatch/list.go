package dispatch

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// PanicHook is called after a handler panic has been recovered.
type PanicHook func(name string, recovered any)

// entry is one registered handler.
type entry[V any] struct {
	id     uuid.UUID
	fn     func(V)
	active atomic.Bool
}

// List is an ordered, copy-on-write set of handlers for a single key.
type List[V any] struct {
	name    string
	logger  *slog.Logger
	onPanic PanicHook

	mu      sync.Mutex
	entries []*entry[V] // never mutated in place; replaced on every change
}

// NewList creates an empty handler list. name is used in logs and panic reports.
func NewList[V any](name string, logger *slog.Logger, onPanic PanicHook) *List[V] {
	if logger == nil {
		logger = slog.Default()
	}
	return &List[V]{
		name:    name,
		logger:  logger,
		onPanic: onPanic,
	}
}

// Add registers fn at the end of the list.
func (l *List[V]) Add(fn func(V)) *Subscription {
	e := &entry[V]{id: uuid.New(), fn: fn}
	e.active.Store(true)

	l.mu.Lock()
	next := make([]*entry[V], len(l.entries), len(l.entries)+1)
	copy(next, l.entries)
	l.entries = append(next, e)
	l.mu.Unlock()

	return newSubscription(e.id, func() { l.Remove(e.id) })
}

// Remove unregisters the handler with the given id. It reports whether it was present.
func (l *List[V]) Remove(id uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, e := range l.entries {
		if e.id != id {
			continue
		}
		// Deactivate first so an in-flight snapshot skips it.
		e.active.Store(false)

		next := make([]*entry[V], 0, len(l.entries)-1)
		next = append(next, l.entries[:i]...)
		next = append(next, l.entries[i+1:]...)
		l.entries = next
		return true
	}
	return false
}

// Len returns the number of registered handlers.
func (l *List[V]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Notify calls every handler registered at the time of the call, in registration order.
// It returns the number of handlers that returned without panicking.
func (l *List[V]) Notify(v V) int {
	l.mu.Lock()
	snapshot := l.entries
	l.mu.Unlock()

	delivered := 0
	for _, e := range snapshot {
		if !e.active.Load() {
			continue
		}
		if l.invoke(e, v) {
			delivered++
		}
	}
	return delivered
}

// Clear removes all handlers.
func (l *List[V]) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range l.entries {
		e.active.Store(false)
	}
	l.entries = nil
}

func (l *List[V]) invoke(e *entry[V], v V) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("handler panicked",
				"event", l.name,
				"handler_id", e.id,
				"panic", r,
			)
			if l.onPanic != nil {
				l.onPanic(l.name, r)
			}
			ok = false
		}
	}()

	e.fn(v)
	return true
}
