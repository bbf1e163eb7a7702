// Package realtime is the public face of the real-time client.
//
// A Client wires the connection manager, channel registry, message router
// and event dispatcher together. It connects lazily on first use, keeps
// wanted channels joined across reconnects and fans inbound events out to
// subscribers by event type.
//
// Usage:
//
//	rt := realtime.New(cfg, logger)
//	defer rt.Close(ctx)
//
//	sub := rt.On(model.EventMessageNew, func(ev model.Event) { ... })
//	defer sub.Unsubscribe()
//
//	release := rt.WatchConversation("42")
//	defer release()
package realtime
