package model

import (
	"time"

	"github.com/goccy/go-json"
)

// -----------------------------------------------------------------------------
// Inbound event types
// -----------------------------------------------------------------------------

const (
	EventMessageNew           = "message:new"
	EventMessageStatus        = "message:status"
	EventConversationAssigned = "conversation:assigned"
	EventConversationTyping   = "conversation:typing"
	EventLeadUpdated          = "lead:updated"
	EventLeadStageChanged     = "lead:stage_changed"
	EventNotificationNew      = "notification:new"
	EventTaskCreated          = "task:created"
	EventTaskCompleted        = "task:completed"
	EventUserOnline           = "user:online"
	EventWhatsAppStatus       = "whatsapp:status"
)

// InboundEvents lists every event type the server is known to emit.
var InboundEvents = []string{
	EventMessageNew,
	EventMessageStatus,
	EventConversationAssigned,
	EventConversationTyping,
	EventLeadUpdated,
	EventLeadStageChanged,
	EventNotificationNew,
	EventTaskCreated,
	EventTaskCompleted,
	EventUserOnline,
	EventWhatsAppStatus,
}

// IsKnownEvent reports whether name is one of InboundEvents.
func IsKnownEvent(name string) bool {
	for _, e := range InboundEvents {
		if e == name {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// Outbound intents
// -----------------------------------------------------------------------------

const (
	IntentConversationJoin   = "conversation:join"
	IntentConversationLeave  = "conversation:leave"
	IntentConversationTyping = "conversation:typing"
	IntentMessageRead        = "message:read"
)

// ConversationRef is the payload of join, leave and read intents.
type ConversationRef struct {
	ConversationID string `json:"conversationId"`
}

// TypingIntent is the payload of a conversation:typing intent.
type TypingIntent struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

// -----------------------------------------------------------------------------
// Inbound envelope
// -----------------------------------------------------------------------------

// Event is a decoded inbound frame handed to subscribers.
type Event struct {
	Type       string          // Event name, e.g. "message:new"
	Data       json.RawMessage // Raw payload, owned by the consumer
	ReceivedAt time.Time       // Local timestamp when the transport read the frame
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return ErrEmptyPayload
	}
	return json.Unmarshal(e.Data, v)
}

// -----------------------------------------------------------------------------
// Payloads the bundled tools read
// -----------------------------------------------------------------------------

// MessageNew is the payload of message:new.
type MessageNew struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Channel        string    `json:"channel"`   // "whatsapp" or "facebook"
	Direction      string    `json:"direction"` // "inbound" or "outbound"
	Body           string    `json:"body"`
	SentAt         time.Time `json:"sentAt"`
}

// ConversationTyping is the payload of conversation:typing.
type ConversationTyping struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

// UserOnline is the payload of user:online.
type UserOnline struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

// WhatsAppStatus is the payload of whatsapp:status.
type WhatsAppStatus struct {
	Status string `json:"status"` // "connected", "disconnected", "qr"
}

// UnreadCount is the number of unread messages in one conversation.
type UnreadCount struct {
	ConversationID string
	Unread         int
}
