// Package dispatch implements the Event Dispatcher component.
//
// The Dispatcher:
//   - Maps an event key to an ordered list of handlers
//   - Delivers to an immutable snapshot of that list, so handlers may subscribe or
//     unsubscribe while a dispatch is running
//   - Recovers and logs a panicking handler without affecting its siblings or the caller
//   - Treats dispatching to a key with no handlers as a no-op
package dispatch
