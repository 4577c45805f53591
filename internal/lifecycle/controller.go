// Package lifecycle manages the singleton tool server process: start, stop,
// restart, status, and binary upgrades. The singleton property comes from the
// fixed PID file path; no other component touches that file.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/toolmux/toolmux/internal/history"
	"github.com/toolmux/toolmux/internal/metrics"
	"github.com/toolmux/toolmux/internal/pidfile"
	"github.com/toolmux/toolmux/internal/proc"
)

// Defaults for the tunable delays. None of these are load-bearing; they are
// overridable through Config.
const (
	DefaultStartGrace    = time.Second
	DefaultStopWait      = 5 * time.Second
	DefaultRestartSettle = 500 * time.Millisecond
)

// Config describes the singleton server managed by a Controller.
type Config struct {
	Binary  string   // path to the tool server executable
	Args    []string // arguments passed on spawn
	WorkDir string
	LogPath string // combined stdout+stderr of the detached server

	StartGrace    time.Duration // wait before the post-spawn confirm probe
	StopWait      time.Duration // wait for graceful exit before force kill
	RestartSettle time.Duration // pause between stop and start on restart

	Version string // recorded in the pid metadata sidecar
}

func (c *Config) applyDefaults() {
	if c.StartGrace <= 0 {
		c.StartGrace = DefaultStartGrace
	}
	if c.StopWait <= 0 {
		c.StopWait = DefaultStopWait
	}
	if c.RestartSettle <= 0 {
		c.RestartSettle = DefaultRestartSettle
	}
}

// Status is the derived state of the singleton server. It is computed on
// demand and never stored.
type Status struct {
	Installed bool           `json:"installed"`
	Running   bool           `json:"running"`
	PID       int            `json:"pid,omitempty"`
	Since     time.Time      `json:"since,omitzero"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Controller owns the PID record and the OS process of the singleton server.
// Operations are not retried; a CLI caller re-runs on transient failure.
type Controller struct {
	cfg     Config
	handler proc.Handler
	pids    *pidfile.Store
	sink    history.Sink
	log     *slog.Logger
}

func NewController(cfg Config, handler proc.Handler, pids *pidfile.Store, sink history.Sink, log *slog.Logger) *Controller {
	cfg.applyDefaults()
	return &Controller{cfg: cfg, handler: handler, pids: pids, sink: sink, log: log}
}

// Installed reports whether the server binary is present on disk.
func (c *Controller) Installed() bool {
	info, err := os.Stat(c.cfg.Binary)
	return err == nil && !info.IsDir()
}

// Start launches the server detached and persists its pid. When a liveness
// probe against the stored pid already succeeds it returns ErrAlreadyRunning.
// After the spawn it waits StartGrace and re-probes; a process that exited in
// that window yields ErrStartupFailed and the stale record is removed.
func (c *Controller) Start(ctx context.Context) error {
	if pid := c.livePID(); pid > 0 {
		c.log.Info("server already running", "pid", pid)
		return ErrAlreadyRunning
	}
	if !c.Installed() {
		return fmt.Errorf("%w: %s", ErrNotInstalled, c.cfg.Binary)
	}

	out, err := c.openLog()
	if err != nil {
		return fmt.Errorf("open server log: %w", err)
	}

	pid, err := c.handler.Start(c.cfg.Binary, c.cfg.Args, proc.StartOptions{
		WorkDir: c.cfg.WorkDir,
		Output:  out,
	})
	if err != nil {
		return fmt.Errorf("spawn %s: %w", c.cfg.Binary, err)
	}
	if err := c.pids.Write(pid); err != nil {
		return fmt.Errorf("persist pid %d: %w", pid, err)
	}
	c.pids.WriteMetadata(map[string]any{
		"version":    c.cfg.Version,
		"args":       c.cfg.Args,
		"started_at": time.Now().Format(time.RFC3339),
	})

	// Confirm the process survived its startup window.
	select {
	case <-time.After(c.cfg.StartGrace):
	case <-ctx.Done():
		return ctx.Err()
	}
	if !c.handler.IsRunning(pid) {
		_ = c.pids.Remove()
		c.pids.RemoveMetadata()
		return fmt.Errorf("%w (binary %s, pid %d)", ErrStartupFailed, c.cfg.Binary, pid)
	}

	c.log.Info("server started", "pid", pid, "binary", c.cfg.Binary)
	metrics.IncServerStart()
	history.Record(ctx, c.sink, c.log, history.Event{Type: history.EventServerStart, Subject: c.cfg.Binary, PID: pid})
	return nil
}

// Stop terminates the server recorded in the PID file. With no record it
// returns ErrAlreadyStopped. The record is removed even when the termination
// request itself fails: the end state (not running) is achieved either way.
func (c *Controller) Stop(ctx context.Context) error {
	pid, err := c.pids.Read()
	if err != nil {
		return fmt.Errorf("read pid record: %w", err)
	}
	if pid == 0 {
		c.log.Info("server already stopped")
		return ErrAlreadyStopped
	}

	if err := c.handler.Stop(pid); err != nil {
		c.log.Info("termination request failed, process already gone", "pid", pid)
	} else {
		c.waitGone(ctx, pid)
		if c.handler.IsRunning(pid) {
			c.log.Warn("server did not exit in time, killing", "pid", pid, "wait", c.cfg.StopWait)
			_ = c.handler.Kill(pid)
		}
	}

	if err := c.pids.Remove(); err != nil {
		return fmt.Errorf("remove pid record for %d: %w", pid, err)
	}
	c.pids.RemoveMetadata()
	c.log.Info("server stopped", "pid", pid)
	metrics.IncServerStop()
	history.Record(ctx, c.sink, c.log, history.Event{Type: history.EventServerStop, Subject: c.cfg.Binary, PID: pid})
	return nil
}

// Restart is Stop then Start, never concurrent, with a short settle delay so
// OS resources such as the bound port are released in between.
func (c *Controller) Restart(ctx context.Context) error {
	if err := c.Stop(ctx); err != nil && !errors.Is(err, ErrAlreadyStopped) {
		return err
	}
	select {
	case <-time.After(c.cfg.RestartSettle):
	case <-ctx.Done():
		return ctx.Err()
	}
	err := c.Start(ctx)
	if errors.Is(err, ErrAlreadyRunning) {
		return nil
	}
	return err
}

// Status combines the binary-presence check, the pid read, and a liveness
// probe. A stale pid record observed here is cleaned up as a side effect.
func (c *Controller) Status(_ context.Context) (Status, error) {
	st := Status{Installed: c.Installed()}
	pid, err := c.pids.Read()
	if err != nil {
		return st, fmt.Errorf("read pid record: %w", err)
	}
	if pid == 0 {
		return st, nil
	}
	if !c.handler.IsRunning(pid) {
		// Lazy garbage collection of the stale record.
		c.log.Info("removing stale pid record", "pid", pid)
		_ = c.pids.Remove()
		c.pids.RemoveMetadata()
		return st, nil
	}
	st.Running = true
	st.PID = pid
	if since, ok := c.handler.StartTime(pid); ok {
		st.Since = since
	}
	st.Metadata = c.pids.ReadMetadata()
	return st, nil
}

// Upgrade stops the server if running, runs install to replace the binary,
// and starts the server again only when it was running before.
func (c *Controller) Upgrade(ctx context.Context, install func(ctx context.Context) error) error {
	wasRunning := c.livePID() > 0
	if wasRunning {
		if err := c.Stop(ctx); err != nil && !errors.Is(err, ErrAlreadyStopped) {
			return err
		}
	}
	if err := install(ctx); err != nil {
		return fmt.Errorf("install: %w", err)
	}
	if wasRunning {
		err := c.Start(ctx)
		if errors.Is(err, ErrAlreadyRunning) {
			return nil
		}
		return err
	}
	return nil
}

// livePID returns the stored pid when it probes live, 0 otherwise.
func (c *Controller) livePID() int {
	pid, err := c.pids.Read()
	if err != nil || pid == 0 {
		return 0
	}
	if !c.handler.IsRunning(pid) {
		return 0
	}
	return pid
}

func (c *Controller) waitGone(ctx context.Context, pid int) {
	deadline := time.Now().Add(c.cfg.StopWait)
	for time.Now().Before(deadline) {
		if !c.handler.IsRunning(pid) {
			return
		}
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return
		}
	}
}

func (c *Controller) openLog() (io.Writer, error) {
	if c.cfg.LogPath == "" {
		return nil, nil
	}
	// A plain *os.File rather than a pipe-backed writer: the server outlives
	// this process, so its output destination must too.
	// #nosec G304 -- path comes from operator configuration
	return os.OpenFile(c.cfg.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
}
