// Package unread implements the Unread Reconciler component.
//
// Events are not replayed across a disconnect, so unread badges can drift
// while the connection is down. The Unread Reconciler:
//   - Watches connection state and runs after every reconnect
//   - Reads fresh unread counts for the joined conversations from a Store (Postgres or the CRM API)
//   - Hands them to a handler that replaces the local counters
//   - Collapses bursts of reconnects into one read (debounce)
package unread
