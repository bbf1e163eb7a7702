// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Connection state, transitions and reconnect attempts
//   - Inbound event rates and frame decode errors
//   - Handler panics per event type
//   - Outbound intents sent and dropped
//   - Number of joined channels
package metrics
