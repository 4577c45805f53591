// Package history exports supervisor lifecycle events to external audit
// systems. Recording is best-effort: a sink failure is logged and never
// propagated into the operation that produced the event.
package history

import (
	"context"
	"log/slog"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventServerStart   EventType = "server_start"
	EventServerStop    EventType = "server_stop"
	EventConnOpen      EventType = "conn_open"
	EventConnClose     EventType = "conn_close"
	EventSessionCreate EventType = "session_create"
	EventSessionEvict  EventType = "session_evict"
)

// Event represents one lifecycle transition of the server, a multiplexer
// connection, or a bridge session.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Subject    string    `json:"subject"` // connection id, session id, or binary name
	PID        int       `json:"pid"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink is a destination for history events. Implementations must be safe for
// concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Record sends e to sink, logging failures. A nil sink is a no-op.
func Record(ctx context.Context, sink Sink, log *slog.Logger, e Event) {
	if sink == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	if err := sink.Send(ctx, e); err != nil && log != nil {
		log.Warn("history sink send failed", "type", string(e.Type), "error", err)
	}
}
