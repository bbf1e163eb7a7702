package connection

import (
	"errors"
	"net/http"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no pong)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrClosed          = errors.New("manager closed")
)

// State is the lifecycle state of the managed connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// StateChange is delivered to state observers on every transition.
type StateChange struct {
	From    State
	To      State
	Attempt int   // Consecutive failed dials at the time of the transition
	Err     error // Cause of the transition, nil for user-initiated ones
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// RawMessage is a message from the Manager to the Message Router.
type RawMessage struct {
	Data       []byte
	ReceivedAt time.Time
	Generation uint64 // Connection generation the frame arrived on
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g., wss://crm.example.com/realtime)
	Header           http.Header   // Static handshake headers (e.g., Cookie carrying the session)
	HandshakeTimeout time.Duration // Dial handshake timeout
	PingInterval     time.Duration // How often we ping the server
	PingTimeout      time.Duration // Max time without pong before considering connection stale
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     25 * time.Second,
		PingTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1000,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	Client               ClientConfig
	MaxReconnectAttempts int           // Consecutive failed dials before giving up
	ReconnectBaseWait    time.Duration // Delay after the first failed dial
	ReconnectMaxWait     time.Duration // Cap for the doubling delay
	MessageBufferSize    int           // Buffer size for output message channel
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Client:               DefaultClientConfig(),
		MaxReconnectAttempts: 5,
		ReconnectBaseWait:    1 * time.Second,
		ReconnectMaxWait:     5 * time.Second,
		MessageBufferSize:    10000,
	}
}
