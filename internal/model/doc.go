// Package model defines the wire envelope and event types shared by the real-time client
// and the CRM collaborators that consume it.
//
// Conventions:
//   - Event names: "<domain>:<action>" (e.g. "message:new", "conversation:join")
//   - Conversation IDs: opaque strings, used as channel (room) IDs
//   - Payloads: JSON objects; this package only decodes the fields the client itself needs
package model
