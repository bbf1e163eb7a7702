package connection

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/crm-realtime/internal/dispatch"
	"github.com/rickgao/crm-realtime/internal/metrics"
	"github.com/rickgao/crm-realtime/internal/model"
	"github.com/rickgao/crm-realtime/internal/queue"
)

// Clock schedules the reconnect timer. Tests substitute a manual clock.
type Clock interface {
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock used for reconnect delays.
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithClientFactory replaces the transport constructor.
func WithClientFactory(f ClientFactory) Option {
	return func(m *Manager) { m.factory = f }
}

type eventKind int

const (
	evConnect eventKind = iota
	evDisconnect
	evForceReconnect
	evDialResult
	evTimer
	evTransportError
	evClose
)

type event struct {
	kind   eventKind
	gen    uint64
	client Client
	err    error
}

// Manager owns the single connection of the process. All state is mutated by
// one loop goroutine; public methods only enqueue commands and never block,
// so they may be called from state observers.
type Manager struct {
	cfg     ManagerConfig
	backoff Backoff
	logger  *slog.Logger
	clock   Clock
	factory ClientFactory

	observers *dispatch.List[StateChange]
	out       chan RawMessage

	events *queue.Queue[event]

	startOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	stopped   chan struct{}
	loopDone  chan struct{}
	closing   atomic.Bool
	wg        sync.WaitGroup // pumps

	// Published for readers outside the loop
	published atomic.Int32
	live      atomic.Pointer[liveClient]

	// Loop-owned
	state      State
	attempt    int
	gen        uint64
	client     Client
	stopTimer  func() bool
	dialCancel context.CancelFunc
}

type liveClient struct {
	client Client
	gen    uint64
}

// NewManager creates a new Connection Manager. Nothing is dialed until
// Connect or ForceReconnect is called.
func NewManager(cfg ManagerConfig, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "connection")

	m := &Manager{
		cfg:      cfg,
		backoff:  NewBackoff(cfg),
		logger:   logger,
		clock:    realClock{},
		factory:  NewClient,
		out:      make(chan RawMessage, cfg.MessageBufferSize),
		events:   queue.New[event](16),
		stopped:  make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	m.observers = dispatch.NewList[StateChange]("state", logger, metrics.RecordPanic)

	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect starts connecting if the manager is Disconnected. Otherwise the
// existing connection (or the attempt in progress) is reused.
func (m *Manager) Connect() {
	m.post(event{kind: evConnect})
}

// Disconnect closes the connection and cancels any pending reconnect.
func (m *Manager) Disconnect() {
	m.post(event{kind: evDisconnect})
}

// ForceReconnect drops the current connection, resets the attempt counter
// and dials immediately. It is the way out of Exhausted.
func (m *Manager) ForceReconnect() {
	m.post(event{kind: evForceReconnect})
}

// State returns the most recently published state.
func (m *Manager) State() State {
	return State(m.published.Load())
}

// OnStateChange registers an observer invoked on the loop goroutine for every
// transition, in registration order.
func (m *Manager) OnStateChange(fn func(StateChange)) *dispatch.Subscription {
	return m.observers.Add(fn)
}

// Messages returns the output channel for the Message Router. It is closed by Close.
func (m *Manager) Messages() <-chan RawMessage {
	return m.out
}

// Emit encodes and writes an outbound frame on the live connection.
func (m *Manager) Emit(event string, payload any) error {
	if m.closing.Load() {
		return ErrClosed
	}

	live := m.live.Load()
	if live == nil {
		return ErrNotConnected
	}

	data, err := model.EncodeFrame(event, payload)
	if err != nil {
		return err
	}
	if err := live.client.Send(data); err != nil {
		return err
	}

	metrics.IntentsSent.WithLabelValues(event).Inc()
	return nil
}

// Close stops the loop, closes the connection and the Messages channel.
func (m *Manager) Close(ctx context.Context) error {
	if !m.closing.CompareAndSwap(false, true) {
		return ErrAlreadyClosed
	}

	m.logger.Info("stopping connection manager")
	m.post(event{kind: evClose})

	select {
	case <-m.loopDone:
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout, forcing close")
		return ctx.Err()
	}

	m.logger.Info("connection manager stopped")
	return nil
}

func (m *Manager) start() {
	m.startOnce.Do(func() {
		m.ctx, m.cancel = context.WithCancel(context.Background())
		go m.run()
	})
}

func (m *Manager) post(ev event) {
	m.start()
	m.events.Push(ev)
}

func (m *Manager) run() {
	defer close(m.loopDone)

	for {
		ev, ok := m.events.Pop()
		if !ok {
			return
		}
		if m.handle(ev) {
			m.events.Close()
			return
		}
	}
}

// handle processes one event and reports whether the loop must exit.
func (m *Manager) handle(ev event) bool {
	switch ev.kind {
	case evConnect:
		if m.state != StateDisconnected {
			return false
		}
		m.attempt = 0
		m.transition(StateConnecting, nil)
		m.dial()

	case evDisconnect:
		if m.state == StateDisconnected {
			return false
		}
		m.teardown()
		m.attempt = 0
		m.transition(StateDisconnected, nil)

	case evForceReconnect:
		prev := m.state
		m.teardown()
		m.attempt = 0
		if prev == StateDisconnected {
			m.transition(StateConnecting, nil)
		} else {
			m.transition(StateReconnecting, nil)
		}
		m.dial()

	case evDialResult:
		if ev.gen != m.gen {
			if ev.client != nil {
				ev.client.Close()
			}
			return false
		}
		m.dialCancel = nil
		if ev.err != nil {
			m.attempt++
			m.logger.Warn("dial failed", "attempt", m.attempt, "error", ev.err)
			m.failed(ev.err)
			return false
		}
		m.attempt = 0
		m.client = ev.client
		m.live.Store(&liveClient{client: ev.client, gen: m.gen})
		m.wg.Add(1)
		go m.pump(m.gen, ev.client)
		m.transition(StateConnected, nil)

	case evTimer:
		if ev.gen != m.gen || m.state != StateReconnecting {
			return false
		}
		m.stopTimer = nil
		m.dial()

	case evTransportError:
		if ev.gen != m.gen || m.client == nil {
			return false
		}
		m.logger.Warn("connection lost", "error", ev.err)
		m.teardown()
		m.transition(StateReconnecting, ev.err)
		// First attempt after losing an established connection is immediate.
		m.dial()

	case evClose:
		m.cancel()
		m.teardown()
		m.transition(StateDisconnected, nil)
		close(m.stopped)
		m.wg.Wait()
		close(m.out)
		m.observers.Clear()
		return true
	}

	return false
}

// failed applies the reconnect policy after a failed dial.
func (m *Manager) failed(err error) {
	if m.backoff.Exhausted(m.attempt) {
		m.logger.Error("reconnect attempts exhausted", "attempts", m.attempt)
		m.transition(StateExhausted, err)
		return
	}

	m.transition(StateReconnecting, err)

	wait := m.backoff.Delay(m.attempt)
	gen := m.gen
	m.logger.Info("scheduling reconnect", "attempt", m.attempt+1, "wait", wait)
	m.stopTimer = m.clock.AfterFunc(wait, func() {
		m.post(event{kind: evTimer, gen: gen})
	})
}

// dial starts one connection attempt. The result comes back as an event.
func (m *Manager) dial() {
	m.gen++
	gen := m.gen

	if m.state == StateReconnecting {
		metrics.ReconnectAttempts.Inc()
	}
	m.logger.Info("dialing", "url", m.cfg.Client.URL, "attempt", m.attempt+1)

	ctx, cancel := context.WithCancel(m.ctx)
	m.dialCancel = cancel
	c := m.factory(m.cfg.Client, m.logger)

	go func() {
		defer cancel()
		if err := c.Connect(ctx); err != nil {
			c.Close()
			m.post(event{kind: evDialResult, gen: gen, err: err})
			return
		}
		if ctx.Err() != nil {
			c.Close()
			return
		}
		m.post(event{kind: evDialResult, gen: gen, client: c})
	}()
}

// teardown invalidates every outstanding dial, timer and pump.
func (m *Manager) teardown() {
	m.gen++

	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	if m.stopTimer != nil {
		m.stopTimer()
		m.stopTimer = nil
	}
	if m.client != nil {
		m.live.Store(nil)
		if err := m.client.Close(); err != nil {
			m.logger.Debug("close failed", "error", err)
		}
		m.client = nil
	}
}

func (m *Manager) transition(to State, err error) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	m.published.Store(int32(to))

	metrics.ConnectionState.Set(float64(to))
	metrics.StateTransitions.WithLabelValues(to.String()).Inc()
	m.logger.Info("state changed", "from", from.String(), "to", to.String(), "attempt", m.attempt)

	m.observers.Notify(StateChange{From: from, To: to, Attempt: m.attempt, Err: err})
}

// pump forwards frames of one client in arrival order until the client dies.
func (m *Manager) pump(gen uint64, c Client) {
	defer m.wg.Done()

	for {
		select {
		case msg := <-c.Messages():
			if !m.forward(gen, msg) {
				return
			}
		case err := <-c.Errors():
			m.lost(gen, c, err)
			return
		case <-c.Done():
			// The read loop reports its failure before exiting.
			select {
			case err := <-c.Errors():
				m.lost(gen, c, err)
			default:
			}
			return
		case <-m.stopped:
			return
		}
	}
}

// lost flushes frames read before the failure, then reports it to the loop.
func (m *Manager) lost(gen uint64, c Client, err error) {
	for {
		select {
		case msg := <-c.Messages():
			if !m.forward(gen, msg) {
				return
			}
			continue
		default:
		}
		break
	}
	m.post(event{kind: evTransportError, gen: gen, err: err})
}

func (m *Manager) forward(gen uint64, msg TimestampedMessage) bool {
	select {
	case m.out <- RawMessage{Data: msg.Data, ReceivedAt: msg.ReceivedAt, Generation: gen}:
		return true
	case <-m.stopped:
		return false
	}
}
