package logger

import (
	"context"
	"io"
	"log/slog"
	"time"
)

const ansiReset = "\033[0m"

// levelColors maps each level to its ANSI prefix. Errors are bold so they
// stand out when several components interleave on one terminal.
var levelColors = map[slog.Level]string{
	slog.LevelDebug: "\033[90m",   // gray
	slog.LevelInfo:  "\033[32m",   // green
	slog.LevelWarn:  "\033[33m",   // yellow
	slog.LevelError: "\033[1;31m", // bold red
}

// ColorTextHandler decorates slog's text handler with a colorized level
// prefix on every message. Attribute formatting and grouping stay with the
// embedded handler.
type ColorTextHandler struct {
	*slog.TextHandler
	showTime bool
}

func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, showTime bool) *ColorTextHandler {
	return &ColorTextHandler{
		TextHandler: slog.NewTextHandler(w, opts),
		showTime:    showTime,
	}
}

// Handle implements slog.Handler.
func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	color, ok := levelColors[r.Level]
	if !ok {
		color = ansiReset
	}
	if !h.showTime {
		// A zero time makes the text handler omit the time field entirely.
		r.Time = time.Time{}
	}
	r.Message = color + r.Level.String() + ansiReset + "  " + r.Message
	return h.TextHandler.Handle(ctx, r)
}
