package router

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rickgao/crm-realtime/internal/connection"
	"github.com/rickgao/crm-realtime/internal/metrics"
	"github.com/rickgao/crm-realtime/internal/model"
)

// Router decodes raw frames and hands them to the Event Dispatcher.
type Router interface {
	// Start begins routing messages from the input channel.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the router.
	Stop(ctx context.Context) error

	// Stats returns current router statistics.
	Stats() RouterStats
}

// router is the internal implementation. A single goroutine consumes the
// input, so events reach handlers in arrival order.
type router struct {
	logger     *slog.Logger
	input      <-chan connection.RawMessage
	dispatcher Dispatcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu              sync.RWMutex
	received        int64
	routed          int64
	undelivered     int64
	parseErrors     int64
	unknownMessages int64
}

// NewRouter creates a new Message Router.
func NewRouter(input <-chan connection.RawMessage, dispatcher Dispatcher, logger *slog.Logger) Router {
	if logger == nil {
		logger = slog.Default()
	}

	return &router{
		logger:     logger.With("component", "router"),
		input:      input,
		dispatcher: dispatcher,
	}
}

// Start begins routing messages.
func (r *router) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.routeLoop()

	r.logger.Info("message router started")
	return nil
}

// Stop gracefully shuts down the router.
func (r *router) Stop(ctx context.Context) error {
	r.logger.Info("stopping message router")

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
		r.logger.Info("message router stopped")
	case <-ctx.Done():
		r.logger.Warn("message router stop timed out")
		return ctx.Err()
	}
	return nil
}

// Stats returns current statistics.
func (r *router) Stats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return RouterStats{
		MessagesReceived: r.received,
		MessagesRouted:   r.routed,
		Undelivered:      r.undelivered,
		ParseErrors:      r.parseErrors,
		UnknownMessages:  r.unknownMessages,
	}
}

// routeLoop is the main routing goroutine.
func (r *router) routeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case raw, ok := <-r.input:
			if !ok {
				r.logger.Info("input channel closed")
				return
			}
			r.route(raw)
		}
	}
}

// route decodes and dispatches a single frame.
func (r *router) route(raw connection.RawMessage) {
	r.mu.Lock()
	r.received++
	r.mu.Unlock()

	frame, err := model.DecodeFrame(raw.Data)
	if err != nil {
		r.logger.Warn("failed to decode frame", "error", err, "size", len(raw.Data))
		metrics.FrameErrors.Inc()
		r.mu.Lock()
		r.parseErrors++
		r.mu.Unlock()
		return
	}

	label := frame.Event
	if !model.IsKnownEvent(frame.Event) {
		r.logger.Debug("unknown event type", "event", frame.Event)
		label = "unknown"
		r.mu.Lock()
		r.unknownMessages++
		r.mu.Unlock()
	}
	metrics.EventsReceived.WithLabelValues(label).Inc()

	n := r.dispatcher.Dispatch(frame.Event, model.Event{
		Type:       frame.Event,
		Data:       frame.Data,
		ReceivedAt: raw.ReceivedAt,
	})

	r.mu.Lock()
	if n > 0 {
		r.routed++
	} else {
		r.undelivered++
	}
	r.mu.Unlock()
}
