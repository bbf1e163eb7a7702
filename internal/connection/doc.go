// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Maintains the single WebSocket connection of the process
//   - Runs a state machine (disconnected, connecting, connected, reconnecting, exhausted)
//   - Handles reconnection with capped exponential backoff and a bounded attempt count
//   - Notifies state observers synchronously on every transition
//   - Routes incoming frames to the Message Router in arrival order
package connection
