package unread

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/crm-realtime/internal/connection"
	"github.com/rickgao/crm-realtime/internal/dispatch"
	"github.com/rickgao/crm-realtime/internal/model"
)

// Store reads authoritative unread counts.
type Store interface {
	UnreadCounts(ctx context.Context, conversationIDs []string) ([]model.UnreadCount, error)
}

// Handler receives reconciled counts, one entry per requested conversation.
type Handler interface {
	HandleUnread(counts []model.UnreadCount) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func([]model.UnreadCount) error

func (f HandlerFunc) HandleUnread(counts []model.UnreadCount) error {
	return f(counts)
}

// StateSource reports connection transitions. realtime.Client satisfies it.
type StateSource interface {
	OnConnectivityChange(fn func(connection.StateChange)) *dispatch.Subscription
}

// ChannelSource lists the conversations currently joined.
type ChannelSource interface {
	Joined() []string
}

// Config holds reconciler configuration.
type Config struct {
	Timeout  time.Duration // Per-run store timeout (default: 10s)
	Debounce time.Duration // Quiet period before a run (default: 500ms)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:  10 * time.Second,
		Debounce: 500 * time.Millisecond,
	}
}

// Stats counts reconciler runs.
type Stats struct {
	Runs     int64
	Failures int64
}

// Reconciler refreshes unread counts after the connection recovers.
type Reconciler struct {
	cfg      Config
	states   StateSource
	channels ChannelSource
	store    Store
	handler  Handler
	logger   *slog.Logger

	trigger chan struct{}
	sub     *dispatch.Subscription

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	runs     atomic.Int64
	failures atomic.Int64
}

// New creates a new Reconciler.
func New(cfg Config, states StateSource, channels ChannelSource, store Store, handler Handler, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		cfg:      cfg,
		states:   states,
		channels: channels,
		store:    store,
		handler:  handler,
		logger:   logger.With("component", "unread"),
		trigger:  make(chan struct{}, 1),
	}
}

// Start subscribes to state changes and starts the worker.
func (r *Reconciler) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.run()

	r.sub = r.states.OnConnectivityChange(r.onStateChange)

	r.logger.Info("unread reconciler started",
		"timeout", r.cfg.Timeout,
		"debounce", r.cfg.Debounce,
	)
	return nil
}

// Stop gracefully shuts down the reconciler.
func (r *Reconciler) Stop(ctx context.Context) error {
	r.sub.Unsubscribe()
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("unread reconciler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger requests a run. Requests made while one is pending are merged.
func (r *Reconciler) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Stats returns run counters.
func (r *Reconciler) Stats() Stats {
	return Stats{Runs: r.runs.Load(), Failures: r.failures.Load()}
}

// onStateChange runs on the connection loop and must not block.
func (r *Reconciler) onStateChange(c connection.StateChange) {
	if c.To == connection.StateConnected && c.From == connection.StateReconnecting {
		r.Trigger()
	}
}

// run is the worker loop.
func (r *Reconciler) run() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.trigger:
		}

		if r.cfg.Debounce > 0 {
			timer := time.NewTimer(r.cfg.Debounce)
			select {
			case <-r.ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			// Triggers that arrived during the quiet period are covered by this run.
			select {
			case <-r.trigger:
			default:
			}
		}

		r.reconcile()
	}
}

// reconcile reads counts for every joined conversation and hands them off.
func (r *Reconciler) reconcile() {
	ids := r.channels.Joined()
	if len(ids) == 0 {
		r.logger.Debug("no joined conversations to reconcile")
		return
	}

	start := time.Now()
	r.runs.Add(1)

	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.Timeout)
	defer cancel()

	counts, err := r.store.UnreadCounts(ctx, ids)
	if err != nil {
		r.failures.Add(1)
		r.logger.Warn("failed to read unread counts", "conversations", len(ids), "error", err)
		return
	}

	if r.handler != nil {
		if err := r.handler.HandleUnread(counts); err != nil {
			r.failures.Add(1)
			r.logger.Warn("unread handler failed", "error", err)
			return
		}
	}

	r.logger.Info("unread counts reconciled",
		"conversations", len(ids),
		"duration", time.Since(start),
	)
}
