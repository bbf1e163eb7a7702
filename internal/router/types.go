package router

import "github.com/rickgao/crm-realtime/internal/model"

// Dispatcher receives decoded events. dispatch.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(eventType string, ev model.Event) int
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	MessagesReceived int64 // Frames read from the input channel
	MessagesRouted   int64 // Events delivered to at least one handler
	Undelivered      int64 // Events nobody was subscribed to
	ParseErrors      int64
	UnknownMessages  int64 // Events outside the documented set (still dispatched)
}
