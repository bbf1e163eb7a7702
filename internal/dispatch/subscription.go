package dispatch

import (
	"sync"

	"github.com/google/uuid"
)

// Subscription is the disposer returned when a handler is registered.
type Subscription struct {
	ID uuid.UUID

	once   sync.Once
	cancel func()
}

func newSubscription(id uuid.UUID, cancel func()) *Subscription {
	return &Subscription{ID: id, cancel: cancel}
}

// Unsubscribe removes the handler. No dispatch started after Unsubscribe returns reaches it.
// Safe to call more than once, from any goroutine, including from inside the handler.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}
