package connection

import "time"

// Backoff is the reconnect policy: capped exponential delays and a
// bounded number of consecutive failures.
type Backoff struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// NewBackoff builds the policy from manager configuration.
func NewBackoff(cfg ManagerConfig) Backoff {
	return Backoff{
		BaseDelay:   cfg.ReconnectBaseWait,
		MaxDelay:    cfg.ReconnectMaxWait,
		MaxAttempts: cfg.MaxReconnectAttempts,
	}
}

// Delay returns the wait before the next dial after `attempt` consecutive
// failures: min(BaseDelay*2^(attempt-1), MaxDelay).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	wait := b.BaseDelay
	for i := 1; i < attempt; i++ {
		wait *= 2
		if wait >= b.MaxDelay || wait <= 0 {
			return b.MaxDelay
		}
	}
	if wait > b.MaxDelay {
		return b.MaxDelay
	}
	return wait
}

// Exhausted reports whether no further automatic attempt may be made.
func (b Backoff) Exhausted(attempt int) bool {
	return b.MaxAttempts > 0 && attempt >= b.MaxAttempts
}
