package realtime

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TypingInterval is the minimum gap between two typing=true intents for one conversation.
const TypingInterval = 2 * time.Second

// typingThrottle keeps one limiter per conversation that is currently typing.
type typingThrottle struct {
	mu       sync.Mutex
	every    rate.Limit
	limiters map[string]*rate.Limiter
}

func newTypingThrottle(interval time.Duration) *typingThrottle {
	return &typingThrottle{
		every:    rate.Every(interval),
		limiters: make(map[string]*rate.Limiter),
	}
}

// reserve returns nil when a typing=true intent for id was sent too recently.
// Cancel the reservation if the intent is not sent after all.
func (t *typingThrottle) reserve(id string) *rate.Reservation {
	t.mu.Lock()
	lim, ok := t.limiters[id]
	if !ok {
		lim = rate.NewLimiter(t.every, 1)
		t.limiters[id] = lim
	}
	t.mu.Unlock()

	r := lim.Reserve()
	if r.Delay() > 0 {
		r.Cancel()
		return nil
	}
	return r
}

// reset forgets id so the next typing=true goes out immediately.
func (t *typingThrottle) reset(id string) {
	t.mu.Lock()
	delete(t.limiters, id)
	t.mu.Unlock()
}
