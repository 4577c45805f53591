package mux

import (
	"bufio"
	"context"
	"io"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/toolmux/toolmux/internal/history"
	"github.com/toolmux/toolmux/internal/metrics"
)

// stderr lines without one of these markers are startup banner noise and are
// dropped rather than flooding the diagnostics log.
var diagMarkers = []string{"Error", "Warning", "ERROR", "WARN"}

// connection pairs one accepted socket with one child process. While active,
// exactly three loops run: socket to child stdin, child stdout to socket, and
// the stderr drain. Whichever finishes first triggers teardown of all of
// them; other connections are unaffected.
type connection struct {
	id   uint64
	sup  *Supervisor
	sock net.Conn
	cmd  *exec.Cmd

	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// handleConn spawns the child and starts the forwarding loops. A spawn
// failure closes the socket and is logged; it is a failure of this
// connection only, never of the supervisor.
func (s *Supervisor) handleConn(sock net.Conn) {
	id := s.allocID()
	log := s.log.With("conn", id, "remote", sock.RemoteAddr().String())

	// #nosec G204 -- binary path comes from operator configuration
	cmd := exec.Command(s.cfg.Binary, s.cfg.Args...)
	if s.cfg.WorkDir != "" {
		cmd.Dir = s.cfg.WorkDir
	}
	if len(s.cfg.Env) > 0 {
		cmd.Env = append(cmd.Environ(), s.cfg.Env...)
	}
	configureSysProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		log.Error("stdin pipe", "error", err)
		_ = sock.Close()
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		log.Error("stdout pipe", "error", err)
		_ = sock.Close()
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		log.Error("stderr pipe", "error", err)
		_ = sock.Close()
		return
	}
	if err := cmd.Start(); err != nil {
		log.Error("spawn child", "binary", s.cfg.Binary, "error", err)
		metrics.IncSpawnFailure()
		_ = sock.Close()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &connection{
		id:     id,
		sup:    s,
		sock:   sock,
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if !s.register(c) {
		// Supervisor already closing; no loops were counted.
		c.teardown("shutdown")
		return
	}
	metrics.IncConnection()
	log.Info("connection opened", "pid", cmd.Process.Pid)
	history.Record(ctx, s.sink, s.log, history.Event{
		Type: history.EventConnOpen, Subject: strconv.FormatUint(id, 10), PID: cmd.Process.Pid,
	})

	go c.copySocketToChild()
	go c.copyChildToSocket()
	go c.drainStderr()

	// Cancellation only matters during supervisor shutdown; EOF on either
	// stream reaches teardown through the copy loops themselves.
	go func() {
		select {
		case <-ctx.Done():
			c.teardown("cancelled")
		case <-c.done:
		}
	}()
}

// copySocketToChild forwards client bytes to the child's stdin, preserving
// order within this direction.
func (c *connection) copySocketToChild() {
	defer c.sup.wg.Done()
	n, err := io.Copy(c.stdin, c.sock)
	metrics.AddBytesForwarded("client_to_child", n)
	c.teardown(copyEndReason("client closed", err))
}

// copyChildToSocket forwards child stdout to the socket. EOF here also covers
// a child that exited on its own; no separate exit watcher is needed.
func (c *connection) copyChildToSocket() {
	defer c.sup.wg.Done()
	n, err := io.Copy(c.sock, c.stdout)
	metrics.AddBytesForwarded("child_to_client", n)
	c.teardown(copyEndReason("child exited", err))
}

// drainStderr surfaces only marked lines so a chatty startup banner does not
// flood the diagnostics log.
func (c *connection) drainStderr() {
	defer c.sup.wg.Done()
	scanner := bufio.NewScanner(c.stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !diagWorthy(line) {
			continue
		}
		c.sup.writeDiag(c.id, line)
		c.sup.log.Warn("tool server stderr", "conn", c.id, "line", line)
	}
}

// teardown is the single cancellation point for this connection: it closes
// the socket, terminates the child, and removes the table entry. Safe to
// reach from any loop, any number of times.
func (c *connection) teardown(reason string) {
	c.once.Do(func() {
		close(c.done)
		c.cancel()
		_ = c.sock.Close()
		_ = c.stdin.Close()
		killChild(c.cmd)
		// Reap without blocking teardown; the kill is best-effort and the
		// connection is already being discarded.
		go func() { _ = c.cmd.Wait() }()

		c.sup.unregister(c.id)
		pid := 0
		if c.cmd.Process != nil {
			pid = c.cmd.Process.Pid
		}
		c.sup.log.Info("connection closed", "conn", c.id, "reason", reason)
		history.Record(context.Background(), c.sup.sink, c.sup.log, history.Event{
			Type: history.EventConnClose, Subject: strconv.FormatUint(c.id, 10), PID: pid, Detail: reason,
		})
	})
}

func diagWorthy(line string) bool {
	for _, m := range diagMarkers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}

func copyEndReason(eof string, err error) string {
	if err == nil {
		return eof
	}
	return eof + ": " + err.Error()
}
