// Package audit records an append-only trail of registry events: server
// CRUD, selection changes, failovers, and usage reports.
//
// Recording is best-effort and asynchronous. Events are enqueued on a
// buffered channel and written by a background worker, so the checkout path
// never blocks on the audit store; a full buffer drops the event and counts
// the drop.
package audit

import (
	"context"
	"time"
)

// Event is one immutable audit record.
type Event struct {
	// ID is a unique event identifier (UUID v4).
	ID string `json:"id"`

	// Type is the event type, e.g. "failover" or "server_added".
	Type string `json:"type"`

	// ServerID is the proxy server the event concerns, zero when the
	// event is not tied to a single server.
	ServerID int64 `json:"server_id"`

	// Actor identifies who triggered the event ("system" for automatic
	// transitions, an administrator key name otherwise).
	Actor string `json:"actor"`

	// Fields carries event-specific details.
	Fields map[string]string `json:"fields,omitempty"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`
}

// Store persists audit events.
type Store interface {
	// Append writes one event.
	Append(ctx context.Context, event *Event) error

	// List returns up to limit events, newest first. A zero limit returns
	// all events.
	List(ctx context.Context, limit int) ([]*Event, error)

	// Prune deletes events older than the cutoff and returns the number
	// deleted.
	Prune(ctx context.Context, olderThan time.Time) (int, error)

	// Close releases resources held by the store.
	Close() error
}
