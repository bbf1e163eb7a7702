// Package connectiontest provides an in-memory transport and a manual clock
// for driving a connection.Manager in tests.
package connectiontest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/crm-realtime/internal/connection"
)

// Client is an in-memory connection.Client.
type Client struct {
	connectErr error
	gate       <-chan struct{}

	messages chan connection.TimestampedMessage
	errors   chan error
	done     chan struct{}

	mu        sync.Mutex
	connected bool
	closed    bool
	sent      [][]byte
}

func newClient(connectErr error, gate <-chan struct{}) *Client {
	return &Client{
		connectErr: connectErr,
		gate:       gate,
		messages:   make(chan connection.TimestampedMessage, 100),
		errors:     make(chan error, 1),
		done:       make(chan struct{}),
	}
}

// Connect succeeds unless the dialer scripted an error. With a gate it
// blocks until the gate closes or ctx is canceled.
func (c *Client) Connect(ctx context.Context) error {
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if c.connectErr != nil {
		return c.connectErr
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return connection.ErrAlreadyClosed
	}
	c.connected = true
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.connected = false
	close(c.done)
	return nil
}

func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return connection.ErrNotConnected
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *Client) Messages() <-chan connection.TimestampedMessage { return c.messages }
func (c *Client) Errors() <-chan error                           { return c.errors }
func (c *Client) Done() <-chan struct{}                          { return c.done }

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Deliver simulates an inbound frame.
func (c *Client) Deliver(data string) {
	c.messages <- connection.TimestampedMessage{Data: []byte(data), ReceivedAt: time.Now()}
}

// Fail simulates a transport failure on an established connection.
func (c *Client) Fail(err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.errors <- err
}

// Sent returns a copy of every frame written so far.
func (c *Client) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	for i, b := range c.sent {
		out[i] = string(b)
	}
	return out
}

// Closed reports whether Close was called.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Dialer hands out Clients whose Connect results follow a script.
type Dialer struct {
	gate <-chan struct{}

	mu       sync.Mutex
	script   []error
	fallback error
	clients  []*Client
}

// NewDialer returns a dialer whose n-th dial fails with script[n]; dials
// past the script use the fallback (nil until SetFallback).
func NewDialer(script ...error) *Dialer {
	return &Dialer{script: script}
}

// WithGate makes every Connect block until gate is closed.
func (d *Dialer) WithGate(gate <-chan struct{}) *Dialer {
	d.gate = gate
	return d
}

// SetFallback sets the result of dials past the script.
func (d *Dialer) SetFallback(err error) {
	d.mu.Lock()
	d.fallback = err
	d.mu.Unlock()
}

// Factory plugs the dialer into connection.WithClientFactory.
func (d *Dialer) Factory() connection.ClientFactory {
	return func(connection.ClientConfig, *slog.Logger) connection.Client {
		d.mu.Lock()
		defer d.mu.Unlock()

		err := d.fallback
		if n := len(d.clients); n < len(d.script) {
			err = d.script[n]
		}
		c := newClient(err, d.gate)
		d.clients = append(d.clients, c)
		return c
	}
}

// Dials returns the number of clients created.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clients)
}

// Client returns the i-th client created.
func (d *Dialer) Client(i int) *Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clients[i]
}

// Last returns the most recent client.
func (d *Dialer) Last() *Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clients[len(d.clients)-1]
}

// Clock is a connection.Clock that only fires when told to.
type Clock struct {
	mu        sync.Mutex
	timers    []*timer
	scheduled chan time.Duration
}

type timer struct {
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func NewClock() *Clock {
	return &Clock{scheduled: make(chan time.Duration, 64)}
}

func (c *Clock) AfterFunc(d time.Duration, f func()) func() bool {
	t := &timer{d: d, f: f}

	c.mu.Lock()
	c.timers = append(c.timers, t)
	c.mu.Unlock()

	c.scheduled <- d

	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if t.fired || t.stopped {
			return false
		}
		t.stopped = true
		return true
	}
}

// Scheduled receives the delay of every timer as it is armed.
func (c *Clock) Scheduled() <-chan time.Duration {
	return c.scheduled
}

// Delays returns the delay of every timer armed so far.
func (c *Clock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.timers))
	for i, t := range c.timers {
		out[i] = t.d
	}
	return out
}

// FireNext runs the oldest pending timer and reports whether one existed.
func (c *Clock) FireNext() bool {
	c.mu.Lock()
	var next *timer
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			next = t
			break
		}
	}
	if next != nil {
		next.fired = true
	}
	c.mu.Unlock()

	if next == nil {
		return false
	}
	next.f()
	return true
}

// Pending returns the number of armed timers that have neither fired nor been stopped.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}
