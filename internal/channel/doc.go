// Package channel implements the Channel Registry.
//
// The registry is the desired-state table of conversation rooms this process
// wants to be in. It survives disconnects: joins issued while offline are
// queued, and every transition to connected replays exactly one join per
// wanted channel. Leaving removes the record, so a channel left while
// offline is never joined later.
package channel
