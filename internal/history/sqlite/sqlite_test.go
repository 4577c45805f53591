package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/toolmux/toolmux/internal/history"
)

func TestSendAndQueryBack(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	events := []history.Event{
		{Type: history.EventServerStart, OccurredAt: time.Now().UTC(), Subject: "/opt/toolserver", PID: 4242},
		{Type: history.EventConnOpen, OccurredAt: time.Now().UTC(), Subject: "1", PID: 4243},
		{Type: history.EventConnClose, OccurredAt: time.Now().UTC(), Subject: "1", PID: 4243, Detail: "client closed"},
	}
	for _, e := range events {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("send %s: %v", e.Type, err)
		}
	}

	var count int
	if err := sink.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM supervisor_history`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != len(events) {
		t.Fatalf("stored %d events, want %d", count, len(events))
	}

	var detail string
	err = sink.db.QueryRowContext(ctx,
		`SELECT detail FROM supervisor_history WHERE type = ?`, string(history.EventConnClose)).Scan(&detail)
	if err != nil {
		t.Fatalf("query detail: %v", err)
	}
	if detail != "client closed" {
		t.Fatalf("detail %q", detail)
	}
}

func TestDSNPrefixes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	for _, dsn := range []string{path, "sqlite://" + path, "sqlite://:memory:"} {
		sink, err := New(dsn)
		if err != nil {
			t.Fatalf("dsn %q: %v", dsn, err)
		}
		_ = sink.Close()
	}
}

func TestEmptyDSN(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
}
