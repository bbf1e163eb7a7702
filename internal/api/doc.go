// Package api reads unread counts from the CRM REST API.
//
// Requests carry the same ambient session headers as the websocket handshake
// (typically the crm_session cookie). Rate limits and server errors are
// retried, honoring Retry-After when the server sends one.
package api
