package history

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (c *captureSink) Send(_ context.Context, e Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, e)
	return nil
}

func TestRecordNilSinkIsNoop(t *testing.T) {
	// Must not panic.
	Record(context.Background(), nil, slog.Default(), Event{Type: EventServerStart})
}

func TestRecordFillsTimestamp(t *testing.T) {
	sink := &captureSink{}
	before := time.Now()
	Record(context.Background(), sink, slog.Default(), Event{Type: EventConnOpen, Subject: "1"})

	if len(sink.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(sink.events))
	}
	got := sink.events[0]
	if got.OccurredAt.Before(before) {
		t.Fatalf("timestamp not filled: %v", got.OccurredAt)
	}
}

func TestRecordKeepsExplicitTimestamp(t *testing.T) {
	sink := &captureSink{}
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	Record(context.Background(), sink, slog.Default(), Event{Type: EventConnClose, OccurredAt: at})

	if !sink.events[0].OccurredAt.Equal(at) {
		t.Fatalf("explicit timestamp overwritten: %v", sink.events[0].OccurredAt)
	}
}

func TestRecordSwallowsSinkError(t *testing.T) {
	sink := &captureSink{err: errors.New("sink down")}
	// Failure is logged, never propagated; no panic, no retry.
	Record(context.Background(), sink, slog.Default(), Event{Type: EventSessionEvict})
	Record(context.Background(), sink, nil, Event{Type: EventSessionEvict})
}
