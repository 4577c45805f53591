// Package mux implements the TCP supervisor: every accepted client
// connection gets its own child process running the tool server binary, with
// bytes forwarded untouched in both directions. The tool server protocol
// assumes exactly one client per process, so isolation per connection is the
// whole point; no framing is imposed here.
package mux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"syscall"

	"github.com/toolmux/toolmux/internal/history"
	"github.com/toolmux/toolmux/internal/logger"
	"github.com/toolmux/toolmux/internal/metrics"
)

// DefaultPort is the well-known loopback port clients connect to.
const DefaultPort = 9837

// ErrPortInUse distinguishes a bind conflict from other listen failures so
// the operator message can say "another multiplexer is likely running".
var ErrPortInUse = errors.New("port already in use")

// Config describes the supervisor and the child processes it spawns.
type Config struct {
	Port    int
	Binary  string   // tool server executable, one instance per connection
	Args    []string // arguments passed to every child
	WorkDir string
	Env     []string      // extra environment for children
	Diag    logger.Config // destination for filtered child stderr lines
}

// Supervisor accepts client connections and proxies each to its own child
// process. The connection table is the only state shared across connections:
// entries are added by the accept loop and removed by each connection's own
// teardown, and the mutex covers exactly those two paths.
type Supervisor struct {
	cfg  Config
	log  *slog.Logger
	sink history.Sink

	diagMu sync.Mutex
	diagW  io.WriteCloser

	mu       sync.Mutex
	listener net.Listener
	conns    map[uint64]*connection
	nextID   uint64
	closed   bool

	wg sync.WaitGroup
}

// NewSupervisor builds the supervisor. Port 0 binds an ephemeral port; the
// CLI passes the configured well-known port.
func NewSupervisor(cfg Config, sink history.Sink, log *slog.Logger) *Supervisor {
	return &Supervisor{
		cfg:   cfg,
		log:   log,
		sink:  sink,
		diagW: cfg.Diag.Writer("toolserver-stderr"),
		conns: make(map[uint64]*connection),
	}
}

// Listen binds the loopback TCP listener. It fails fast on a bind conflict;
// there is no retry.
func (s *Supervisor) Listen() error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("%w: %s (is another multiplexer running?)", ErrPortInUse, addr)
		}
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.log.Info("multiplexer listening", "addr", addr, "binary", s.cfg.Binary)
	return nil
}

// Addr returns the bound listener address, or nil before Listen.
func (s *Supervisor) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve runs the accept loop until ctx is cancelled or Close is called.
// Failures of a single connection never propagate here.
func (s *Supervisor) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("serve before listen")
	}

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		sock, err := ln.Accept()
		if err != nil {
			if s.isClosed() || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.handleConn(sock)
	}
}

// Close stops accepting, tears down every active connection, and waits for
// their forwarding loops to finish.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.listener
	active := make([]*connection, 0, len(s.conns))
	for _, c := range s.conns {
		active = append(active, c)
	}
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	for _, c := range active {
		c.teardown("shutdown")
	}
	s.wg.Wait()

	s.diagMu.Lock()
	if s.diagW != nil {
		_ = s.diagW.Close()
		s.diagW = nil
	}
	s.diagMu.Unlock()
	return nil
}

// ActiveConnections returns the number of connections with a live child.
func (s *Supervisor) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Supervisor) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// register adds c to the table and reserves its three forwarding loops in
// the wait group, all under the same lock Close uses to set closed. Either c
// lands in Close's snapshot with its loops counted, or registration is
// refused and the caller tears the connection down itself.
func (s *Supervisor) register(c *connection) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.conns[c.id] = c
	s.wg.Add(3)
	n := len(s.conns)
	s.mu.Unlock()
	metrics.SetActiveConnections(n)
	return true
}

func (s *Supervisor) unregister(id uint64) {
	s.mu.Lock()
	delete(s.conns, id)
	n := len(s.conns)
	s.mu.Unlock()
	metrics.SetActiveConnections(n)
}

func (s *Supervisor) allocID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.nextID
}

// writeDiag appends one filtered child stderr line to the diagnostics log.
func (s *Supervisor) writeDiag(connID uint64, line string) {
	s.diagMu.Lock()
	defer s.diagMu.Unlock()
	if s.diagW == nil {
		return
	}
	_, _ = fmt.Fprintf(s.diagW, "conn %d: %s\n", connID, line)
}
