package dispatch

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Dispatcher fans values out to handlers registered per key.
type Dispatcher[K comparable, V any] struct {
	logger  *slog.Logger
	onPanic PanicHook

	mu    sync.RWMutex
	lists map[K]*List[V]
}

// Option configures a Dispatcher.
type Option func(*options)

type options struct {
	onPanic PanicHook
}

// WithPanicHook registers a callback invoked after a handler panic is recovered.
func WithPanicHook(h PanicHook) Option {
	return func(o *options) { o.onPanic = h }
}

// New creates a Dispatcher.
func New[K comparable, V any](logger *slog.Logger, opts ...Option) *Dispatcher[K, V] {
	if logger == nil {
		logger = slog.Default()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	return &Dispatcher[K, V]{
		logger:  logger,
		onPanic: o.onPanic,
		lists:   make(map[K]*List[V]),
	}
}

// Subscribe registers handler for key. Handlers for one key run in subscription order.
func (d *Dispatcher[K, V]) Subscribe(key K, handler func(V)) *Subscription {
	d.mu.Lock()
	l, ok := d.lists[key]
	if !ok {
		l = NewList[V](fmt.Sprint(key), d.logger, d.onPanic)
		d.lists[key] = l
	}
	// Added under d.mu so a concurrent prune cannot orphan the list.
	id := l.Add(handler).ID
	d.mu.Unlock()

	return newSubscription(id, func() { d.Unsubscribe(key, id) })
}

// Unsubscribe removes the handler with id from key. It reports whether it was registered.
// A key whose last handler goes away is forgotten.
func (d *Dispatcher[K, V]) Unsubscribe(key K, id uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	l, ok := d.lists[key]
	if !ok {
		return false
	}
	removed := l.Remove(id)
	if l.Len() == 0 {
		delete(d.lists, key)
	}
	return removed
}

// Keys returns the number of keys with at least one handler.
func (d *Dispatcher[K, V]) Keys() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.lists)
}

// Dispatch delivers v to the handlers currently registered for key and returns
// how many handled it without panicking. No handlers means nothing happens.
func (d *Dispatcher[K, V]) Dispatch(key K, v V) int {
	d.mu.RLock()
	l, ok := d.lists[key]
	d.mu.RUnlock()

	if !ok {
		return 0
	}
	return l.Notify(v)
}

// Count returns the number of handlers registered for key.
func (d *Dispatcher[K, V]) Count(key K) int {
	d.mu.RLock()
	l, ok := d.lists[key]
	d.mu.RUnlock()

	if !ok {
		return 0
	}
	return l.Len()
}

// Close removes every handler.
func (d *Dispatcher[K, V]) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, l := range d.lists {
		l.Clear()
	}
	d.lists = make(map[K]*List[V])
}
