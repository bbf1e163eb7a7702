package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "crm_realtime"

// Connection metrics
var (
	// ConnectionState is the numeric connection state (0 disconnected .. 4 exhausted).
	ConnectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connection_state",
		Help:      "Current connection state (0=disconnected, 1=connecting, 2=connected, 3=reconnecting, 4=exhausted)",
	})

	// StateTransitions counts transitions by target state.
	StateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "state_transitions_total",
		Help:      "Total number of connection state transitions",
	}, []string{"to"})

	// ReconnectAttempts counts dials issued while reconnecting.
	ReconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconnect_attempts_total",
		Help:      "Total number of reconnect attempts",
	})
)

// Event metrics
var (
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_received_total",
		Help:      "Total number of inbound events by type",
	}, []string{"event"})

	FrameErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frame_errors_total",
		Help:      "Total number of inbound frames that failed to decode",
	})

	HandlerPanics = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "handler_panics_total",
		Help:      "Total number of recovered handler panics by event type",
	}, []string{"event"})
)

// Intent and channel metrics
var (
	IntentsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "intents_sent_total",
		Help:      "Total number of outbound intents written to the connection",
	}, []string{"intent"})

	IntentsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "intents_dropped_total",
		Help:      "Total number of outbound intents dropped while offline",
	}, []string{"intent"})

	ChannelsJoined = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "channels_joined",
		Help:      "Number of channels currently wanted by this process",
	})
)

// RecordPanic is a panic hook suitable for dispatch lists.
func RecordPanic(name string, _ any) {
	HandlerPanics.WithLabelValues(name).Inc()
}
