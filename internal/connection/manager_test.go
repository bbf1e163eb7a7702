package connection_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/crm-realtime/internal/connection"
	"github.com/rickgao/crm-realtime/internal/connection/connectiontest"
)

var errDial = errors.New("dial refused")

const waitTimeout = 2 * time.Second

func newTestManager(t *testing.T, dialer *connectiontest.Dialer) (*connection.Manager, *connectiontest.Clock, <-chan connection.StateChange) {
	t.Helper()

	clock := connectiontest.NewClock()
	m := connection.NewManager(connection.DefaultManagerConfig(), nil,
		connection.WithClock(clock),
		connection.WithClientFactory(dialer.Factory()),
	)

	changes := make(chan connection.StateChange, 64)
	m.OnStateChange(func(c connection.StateChange) { changes <- c })

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		m.Close(ctx)
	})
	return m, clock, changes
}

func waitState(t *testing.T, changes <-chan connection.StateChange, want connection.State) connection.StateChange {
	t.Helper()
	timeout := time.After(waitTimeout)
	for {
		select {
		case c := <-changes:
			if c.To == want {
				return c
			}
		case <-timeout:
			t.Fatalf("timeout waiting for state %s", want)
		}
	}
}

func waitScheduled(t *testing.T, clock *connectiontest.Clock) time.Duration {
	t.Helper()
	select {
	case d := <-clock.Scheduled():
		return d
	case <-time.After(waitTimeout):
		t.Fatal("timeout waiting for reconnect timer")
		return 0
	}
}

func TestManager_ConnectSuccess(t *testing.T) {
	dialer := connectiontest.NewDialer()
	m, _, changes := newTestManager(t, dialer)

	assert.Equal(t, connection.StateDisconnected, m.State())

	m.Connect()
	c := waitState(t, changes, connection.StateConnecting)
	assert.Equal(t, connection.StateDisconnected, c.From)

	c = waitState(t, changes, connection.StateConnected)
	assert.Equal(t, connection.StateConnecting, c.From)
	assert.Equal(t, 0, c.Attempt)
	assert.Equal(t, connection.StateConnected, m.State())
	assert.Equal(t, 1, dialer.Dials())
}

func TestManager_ConnectReusesConnection(t *testing.T) {
	dialer := connectiontest.NewDialer()
	m, _, changes := newTestManager(t, dialer)

	m.Connect()
	waitState(t, changes, connection.StateConnected)

	m.Connect()
	m.Connect()

	// A round trip through the loop guarantees the extra Connects were handled.
	m.Disconnect()
	waitState(t, changes, connection.StateDisconnected)

	assert.Equal(t, 1, dialer.Dials())
}

// Three failed dials then success: exactly three non-decreasing capped delays.
func TestManager_ThreeFailuresThenSuccess(t *testing.T) {
	dialer := connectiontest.NewDialer(errDial, errDial, errDial)
	m, clock, changes := newTestManager(t, dialer)

	m.Connect()

	c := waitState(t, changes, connection.StateReconnecting)
	assert.Equal(t, 1, c.Attempt)
	assert.ErrorIs(t, c.Err, errDial)

	var delays []time.Duration
	for i := 0; i < 3; i++ {
		delays = append(delays, waitScheduled(t, clock))
		require.True(t, clock.FireNext())
	}

	c = waitState(t, changes, connection.StateConnected)
	assert.Equal(t, connection.StateReconnecting, c.From)
	assert.Equal(t, 0, c.Attempt)

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, delays)
	assert.Equal(t, delays, clock.Delays())
	assert.Equal(t, 4, dialer.Dials())
}

func TestManager_Exhausted(t *testing.T) {
	dialer := connectiontest.NewDialer()
	dialer.SetFallback(errDial)
	m, clock, changes := newTestManager(t, dialer)

	m.Connect()

	for i := 0; i < 4; i++ {
		waitScheduled(t, clock)
		require.True(t, clock.FireNext())
	}

	c := waitState(t, changes, connection.StateExhausted)
	assert.Equal(t, 5, c.Attempt)
	assert.Equal(t, connection.StateExhausted, m.State())

	assert.Equal(t, 5, dialer.Dials())
	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second,
	}, clock.Delays())
	assert.Zero(t, clock.Pending(), "no automatic attempt after exhaustion")

	// Connect does not leave Exhausted.
	m.Connect()
	m.Disconnect()
	waitState(t, changes, connection.StateDisconnected)
	assert.Equal(t, 5, dialer.Dials())
}

func TestManager_ForceReconnectFromExhausted(t *testing.T) {
	dialer := connectiontest.NewDialer()
	dialer.SetFallback(errDial)
	m, clock, changes := newTestManager(t, dialer)

	m.Connect()
	for i := 0; i < 4; i++ {
		waitScheduled(t, clock)
		clock.FireNext()
	}
	waitState(t, changes, connection.StateExhausted)

	dialer.SetFallback(nil)
	m.ForceReconnect()

	c := waitState(t, changes, connection.StateReconnecting)
	assert.Equal(t, connection.StateExhausted, c.From)
	assert.Equal(t, 0, c.Attempt)

	waitState(t, changes, connection.StateConnected)
	assert.Equal(t, 6, dialer.Dials())
}

func TestManager_ForceReconnectResetsAttempts(t *testing.T) {
	dialer := connectiontest.NewDialer(errDial, errDial)
	m, clock, changes := newTestManager(t, dialer)

	m.Connect()
	waitScheduled(t, clock)
	clock.FireNext()
	waitScheduled(t, clock)

	// Second timer is pending; ForceReconnect cancels it and dials now.
	m.ForceReconnect()
	waitState(t, changes, connection.StateConnected)

	assert.Equal(t, 3, dialer.Dials())
	assert.Zero(t, clock.Pending())
}

func TestManager_ForceReconnectFromDisconnected(t *testing.T) {
	dialer := connectiontest.NewDialer()
	m, _, changes := newTestManager(t, dialer)

	m.ForceReconnect()

	c := waitState(t, changes, connection.StateConnecting)
	assert.Equal(t, connection.StateDisconnected, c.From)
	waitState(t, changes, connection.StateConnected)
}

func TestManager_ConnectionLostReconnectsImmediately(t *testing.T) {
	dialer := connectiontest.NewDialer()
	m, clock, changes := newTestManager(t, dialer)

	m.Connect()
	waitState(t, changes, connection.StateConnected)
	first := dialer.Last()

	first.Fail(io.EOF)

	c := waitState(t, changes, connection.StateReconnecting)
	assert.Equal(t, connection.StateConnected, c.From)
	assert.ErrorIs(t, c.Err, io.EOF)

	waitState(t, changes, connection.StateConnected)
	assert.Equal(t, 2, dialer.Dials())
	assert.Empty(t, clock.Delays(), "first reconnect after a lost connection is not delayed")
	assert.True(t, first.Closed())
}

func TestManager_StaleDialIgnored(t *testing.T) {
	gate := make(chan struct{})
	dialer := connectiontest.NewDialer().WithGate(gate)
	m, clock, changes := newTestManager(t, dialer)

	m.Connect()
	waitState(t, changes, connection.StateConnecting)

	// The first dial is still blocked; a forced reconnect supersedes it.
	m.ForceReconnect()
	c := waitState(t, changes, connection.StateReconnecting)
	assert.Equal(t, connection.StateConnecting, c.From)

	close(gate)
	c = waitState(t, changes, connection.StateConnected)
	assert.Equal(t, 0, c.Attempt)

	assert.Equal(t, 2, dialer.Dials())
	assert.True(t, dialer.Client(0).Closed())
	assert.False(t, dialer.Client(1).Closed())
	assert.Empty(t, clock.Delays())
}

func TestManager_Disconnect(t *testing.T) {
	dialer := connectiontest.NewDialer()
	m, _, changes := newTestManager(t, dialer)

	m.Connect()
	waitState(t, changes, connection.StateConnected)

	m.Disconnect()
	waitState(t, changes, connection.StateDisconnected)

	assert.True(t, dialer.Last().Closed())
	assert.ErrorIs(t, m.Emit("conversation:join", map[string]string{"conversationId": "1"}), connection.ErrNotConnected)

	// Connect works again after a disconnect.
	m.Connect()
	waitState(t, changes, connection.StateConnected)
	assert.Equal(t, 2, dialer.Dials())
}

func TestManager_Emit(t *testing.T) {
	dialer := connectiontest.NewDialer()
	m, _, changes := newTestManager(t, dialer)

	err := m.Emit("conversation:join", map[string]string{"conversationId": "42"})
	assert.ErrorIs(t, err, connection.ErrNotConnected)

	m.Connect()
	waitState(t, changes, connection.StateConnected)

	require.NoError(t, m.Emit("conversation:join", map[string]string{"conversationId": "42"}))
	assert.Equal(t, []string{`{"event":"conversation:join","data":{"conversationId":"42"}}`}, dialer.Last().Sent())
}

func TestManager_MessagesInOrder(t *testing.T) {
	dialer := connectiontest.NewDialer()
	m, _, changes := newTestManager(t, dialer)

	m.Connect()
	waitState(t, changes, connection.StateConnected)

	frames := []string{
		`{"event":"message:new","data":{"conversationId":"1"}}`,
		`{"event":"message:status","data":{"conversationId":"1"}}`,
		`{"event":"message:new","data":{"conversationId":"2"}}`,
	}
	client := dialer.Last()
	for _, f := range frames {
		client.Deliver(f)
	}

	for i, want := range frames {
		select {
		case msg := <-m.Messages():
			assert.Equal(t, want, string(msg.Data), "frame %d", i)
			assert.False(t, msg.ReceivedAt.IsZero())
		case <-time.After(waitTimeout):
			t.Fatalf("timeout waiting for frame %d", i)
		}
	}
}

func TestManager_FramesBeforeFailureDelivered(t *testing.T) {
	dialer := connectiontest.NewDialer()
	m, _, changes := newTestManager(t, dialer)

	m.Connect()
	waitState(t, changes, connection.StateConnected)

	client := dialer.Last()
	client.Deliver(`{"event":"task:created","data":{}}`)
	client.Fail(io.ErrUnexpectedEOF)

	select {
	case msg := <-m.Messages():
		assert.Equal(t, `{"event":"task:created","data":{}}`, string(msg.Data))
	case <-time.After(waitTimeout):
		t.Fatal("frame read before the failure was lost")
	}
	waitState(t, changes, connection.StateReconnecting)
}

func TestManager_ObserverMayCallManager(t *testing.T) {
	dialer := connectiontest.NewDialer()
	m, _, changes := newTestManager(t, dialer)

	emitted := make(chan error, 1)
	m.OnStateChange(func(c connection.StateChange) {
		if c.To == connection.StateConnected {
			emitted <- m.Emit("conversation:join", map[string]string{"conversationId": "7"})
			m.Disconnect()
		}
	})

	m.Connect()
	waitState(t, changes, connection.StateDisconnected)

	select {
	case err := <-emitted:
		assert.NoError(t, err)
	default:
		t.Fatal("observer was not invoked")
	}
	assert.Len(t, dialer.Last().Sent(), 1)
}

func TestManager_PanickingObserverIsolated(t *testing.T) {
	dialer := connectiontest.NewDialer()
	m, _, changes := newTestManager(t, dialer)

	m.OnStateChange(func(connection.StateChange) { panic("observer bug") })
	late := make(chan connection.State, 8)
	m.OnStateChange(func(c connection.StateChange) { late <- c.To })

	m.Connect()
	waitState(t, changes, connection.StateConnected)

	assert.Equal(t, connection.StateConnecting, <-late)
	assert.Equal(t, connection.StateConnected, <-late)
}

func TestManager_ObserverUnsubscribe(t *testing.T) {
	dialer := connectiontest.NewDialer()
	m, _, changes := newTestManager(t, dialer)

	calls := make(chan connection.State, 8)
	sub := m.OnStateChange(func(c connection.StateChange) { calls <- c.To })
	sub.Unsubscribe()

	m.Connect()
	waitState(t, changes, connection.StateConnected)

	assert.Empty(t, calls)
}

func TestManager_Close(t *testing.T) {
	dialer := connectiontest.NewDialer()
	clock := connectiontest.NewClock()
	m := connection.NewManager(connection.DefaultManagerConfig(), nil,
		connection.WithClock(clock),
		connection.WithClientFactory(dialer.Factory()),
	)
	changes := make(chan connection.StateChange, 16)
	m.OnStateChange(func(c connection.StateChange) { changes <- c })

	m.Connect()
	waitState(t, changes, connection.StateConnected)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, m.Close(ctx))

	_, open := <-m.Messages()
	assert.False(t, open, "Messages channel must be closed")
	assert.True(t, dialer.Last().Closed())
	assert.Equal(t, connection.StateDisconnected, m.State())

	assert.ErrorIs(t, m.Close(ctx), connection.ErrAlreadyClosed)
	assert.ErrorIs(t, m.Emit("message:read", nil), connection.ErrClosed)
}

func TestManager_CloseWithoutConnect(t *testing.T) {
	m := connection.NewManager(connection.DefaultManagerConfig(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, m.Close(ctx))

	_, open := <-m.Messages()
	assert.False(t, open)
}
