// Package database provides the PostgreSQL connection pool used to read
// conversation state (unread counts) after the realtime connection recovers.
package database
