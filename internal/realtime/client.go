package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/rickgao/crm-realtime/internal/channel"
	"github.com/rickgao/crm-realtime/internal/connection"
	"github.com/rickgao/crm-realtime/internal/dispatch"
	"github.com/rickgao/crm-realtime/internal/metrics"
	"github.com/rickgao/crm-realtime/internal/model"
	"github.com/rickgao/crm-realtime/internal/router"
)

// Client is the process-wide real-time client. Construct one at startup and
// pass it to the components that need it.
type Client struct {
	logger     *slog.Logger
	manager    *connection.Manager
	registry   *channel.Registry
	dispatcher *dispatch.Dispatcher[string, model.Event]
	router     router.Router
	typing     *typingThrottle

	connectOnce sync.Once
	closeOnce   sync.Once
}

// New builds a client. Nothing is dialed until the first call that needs
// the connection.
func New(cfg connection.ManagerConfig, logger *slog.Logger, opts ...connection.Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	manager := connection.NewManager(cfg, logger, opts...)
	dispatcher := dispatch.New[string, model.Event](logger, dispatch.WithPanicHook(metrics.RecordPanic))

	c := &Client{
		logger:     logger.With("component", "realtime"),
		manager:    manager,
		registry:   channel.NewRegistry(manager, logger),
		dispatcher: dispatcher,
		router:     router.NewRouter(manager.Messages(), dispatcher, logger),
		typing:     newTypingThrottle(TypingInterval),
	}
	c.router.Start(context.Background())
	return c
}

func (c *Client) ensureConnected() {
	c.connectOnce.Do(c.manager.Connect)
}

// On subscribes handler to one event type. Handlers run on the router
// goroutine in arrival order; a panicking handler is recovered and logged.
func (c *Client) On(eventType string, handler func(model.Event)) *dispatch.Subscription {
	c.ensureConnected()
	return c.dispatcher.Subscribe(eventType, handler)
}

// Off cancels a subscription returned by On. Events dispatched after Off
// returns never reach the handler.
func (c *Client) Off(sub *dispatch.Subscription) {
	sub.Unsubscribe()
}

// JoinChannel joins a conversation room, now or as soon as connected.
func (c *Client) JoinChannel(conversationID string) {
	c.ensureConnected()
	c.registry.Join(conversationID)
}

// LeaveChannel leaves a conversation room. Unknown ids are ignored.
func (c *Client) LeaveChannel(conversationID string) {
	c.registry.Leave(conversationID)
}

// IsJoined reports whether the conversation is currently wanted.
func (c *Client) IsJoined(conversationID string) bool {
	return c.registry.IsJoined(conversationID)
}

// WatchConversation joins the room for as long as at least one watcher
// holds it. Call release exactly when the watcher goes away.
func (c *Client) WatchConversation(conversationID string) (release func()) {
	c.ensureConnected()
	return c.registry.Acquire(conversationID)
}

// Channels returns the registry records in join order.
func (c *Client) Channels() []channel.Record {
	return c.registry.Channels()
}

// Joined returns the ids of every wanted conversation.
func (c *Client) Joined() []string {
	return c.registry.Joined()
}

// SetTyping tells the server whether the user is typing. Dropped when offline.
// Repeated typing=true for one conversation is sent at most once per TypingInterval.
func (c *Client) SetTyping(conversationID string, typing bool) {
	c.ensureConnected()
	intent := model.TypingIntent{ConversationID: conversationID, IsTyping: typing}

	if !typing {
		c.typing.reset(conversationID)
		c.advisory(model.IntentConversationTyping, intent)
		return
	}

	r := c.typing.reserve(conversationID)
	if r == nil {
		c.logger.Debug("typing intent throttled", "conversation", conversationID)
		return
	}
	if !c.advisory(model.IntentConversationTyping, intent) {
		r.Cancel()
	}
}

// MarkRead marks the conversation read. Dropped when offline; a fresh read
// after reconnecting reconciles the unread count.
func (c *Client) MarkRead(conversationID string) {
	c.ensureConnected()
	c.advisory(model.IntentMessageRead, model.ConversationRef{ConversationID: conversationID})
}

// advisory emits a fire-and-forget intent and reports whether it was written.
func (c *Client) advisory(intent string, payload any) bool {
	err := c.manager.Emit(intent, payload)
	if err == nil {
		return true
	}

	metrics.IntentsDropped.WithLabelValues(intent).Inc()
	if errors.Is(err, connection.ErrNotConnected) || errors.Is(err, connection.ErrClosed) {
		c.logger.Debug("intent dropped while offline", "intent", intent)
		return false
	}
	c.logger.Warn("intent not sent", "intent", intent, "error", err)
	return false
}

// Connectivity returns the current connection state.
func (c *Client) Connectivity() connection.State {
	c.ensureConnected()
	return c.manager.State()
}

// OnConnectivityChange registers fn for every connection state transition.
// fn runs on the connection loop and must not block.
func (c *Client) OnConnectivityChange(fn func(connection.StateChange)) *dispatch.Subscription {
	sub := c.manager.OnStateChange(fn)
	c.ensureConnected()
	return sub
}

// Reconnect drops the connection and dials again immediately with a fresh
// attempt budget. It is the way out of the exhausted state.
func (c *Client) Reconnect() {
	c.connectOnce.Do(func() {})
	c.manager.ForceReconnect()
}

// Stats returns message router statistics.
func (c *Client) Stats() router.RouterStats {
	return c.router.Stats()
}

// Close tears the client down. It is safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.registry.Close()
		if mErr := c.manager.Close(ctx); mErr != nil {
			err = mErr
		}
		if rErr := c.router.Stop(ctx); rErr != nil && err == nil {
			err = rErr
		}
		c.dispatcher.Close()
	})
	return err
}
