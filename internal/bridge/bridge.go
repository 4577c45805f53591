// Package bridge maps stateless HTTP requests onto the single shared tool
// server process. Requests arrive as JSON-RPC bodies on POST /rpc tagged with
// a session id; responses stream back over the session's SSE connection in
// the order the shared process produced them. This is the lighter-weight
// alternative to the one-child-per-connection multiplexer: one process, many
// logical clients, session bookkeeping instead of process isolation.
package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/toolmux/toolmux/internal/history"
)

// Defaults for the session bookkeeping tunables.
const (
	DefaultIdleTTL       = 5 * time.Minute
	DefaultSweepInterval = time.Minute
)

// Config describes the shared process and session policy.
type Config struct {
	Binary  string
	Args    []string
	WorkDir string

	IdleTTL       time.Duration // inactivity before a session is evictable
	SweepInterval time.Duration // how often the idle sweep runs
}

func (c *Config) applyDefaults() {
	if c.IdleTTL <= 0 {
		c.IdleTTL = DefaultIdleTTL
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
}

// pendingCall maps a rewritten JSON-RPC id back to the session that sent it
// and the id the client used.
type pendingCall struct {
	sessionID string
	clientID  json.RawMessage
}

// Bridge owns the shared tool server process and the session table.
type Bridge struct {
	cfg  Config
	log  *slog.Logger
	sink history.Sink

	table *sessionTable

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	writeMu sync.Mutex // serializes writes to the shared process stdin

	running atomic.Bool
	nextID  atomic.Int64

	pendingMu sync.Mutex
	pending   map[int64]pendingCall

	cancel context.CancelFunc
}

func New(cfg Config, sink history.Sink, log *slog.Logger) *Bridge {
	cfg.applyDefaults()
	return &Bridge{
		cfg:     cfg,
		log:     log,
		sink:    sink,
		table:   newSessionTable(),
		pending: make(map[int64]pendingCall),
	}
}

// Start spawns the shared process with piped stdio and begins demultiplexing
// its responses. The idle sweep runs until ctx is cancelled.
func (b *Bridge) Start(ctx context.Context) error {
	// #nosec G204 -- binary path comes from operator configuration
	cmd := exec.Command(b.cfg.Binary, b.cfg.Args...)
	if b.cfg.WorkDir != "" {
		cmd.Dir = b.cfg.WorkDir
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn %s: %w", b.cfg.Binary, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	b.cmd = cmd
	b.stdin = stdin
	b.stdout = stdout
	b.cancel = cancel
	b.running.Store(true)
	b.log.Info("shared server started", "pid", cmd.Process.Pid, "binary", b.cfg.Binary)

	go b.readLoop()
	go b.sweepLoop(ctx)
	return nil
}

// Close terminates the shared process and drops every session.
func (b *Bridge) Close() error {
	if b.cancel != nil {
		b.cancel()
	}
	b.running.Store(false)
	if b.stdin != nil {
		_ = b.stdin.Close()
	}
	if b.cmd != nil && b.cmd.Process != nil {
		_ = b.cmd.Process.Kill()
		_ = b.cmd.Wait()
	}
	for _, s := range b.table.snapshot() {
		b.table.remove(s.id)
	}
	return nil
}

// readLoop demultiplexes newline-delimited JSON from the shared process.
// Responses go to the owning session's queue; notifications fan out to every
// session. EOF means the shared process died.
func (b *Bridge) readLoop() {
	scanner := bufio.NewScanner(b.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		b.route(append([]byte(nil), line...))
	}
	b.running.Store(false)
	b.log.Warn("shared server output closed")
}

func (b *Bridge) route(payload []byte) {
	var envelope struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		b.log.Warn("unparseable server output", "error", err)
		return
	}

	var gid int64
	if len(envelope.ID) > 0 && json.Unmarshal(envelope.ID, &gid) == nil {
		b.pendingMu.Lock()
		call, ok := b.pending[gid]
		if ok {
			delete(b.pending, gid)
		}
		b.pendingMu.Unlock()
		if ok {
			b.deliver(call, payload)
			return
		}
	}

	// No matching call: a server-initiated notification, delivered to all.
	for _, s := range b.table.snapshot() {
		_ = s.enqueue(payload)
	}
}

// deliver restores the client's original request id and queues the response
// for the owning session.
func (b *Bridge) deliver(call pendingCall, payload []byte) {
	var msg map[string]json.RawMessage
	if err := json.Unmarshal(payload, &msg); err == nil {
		msg["id"] = call.clientID
		if restored, err := json.Marshal(msg); err == nil {
			payload = restored
		}
	}
	s := b.table.get(call.sessionID)
	if s == nil {
		// Session terminated while the call was in flight.
		return
	}
	if !s.enqueue(payload) {
		b.log.Warn("response dropped, session queue full", "session", call.sessionID)
	}
	s.addInflight(-1)
	s.touch()
}

// forward rewrites the request id to a process-wide unique one and writes the
// request to the shared process. Requests without an id are notifications
// and keep their content as-is.
func (b *Bridge) forward(s *session, msg map[string]json.RawMessage, body []byte) error {
	if !b.running.Load() {
		return fmt.Errorf("shared server is not running")
	}

	clientID, hasID := msg["id"]
	out := body
	if hasID {
		gid := b.nextID.Add(1)
		msg["id"] = json.RawMessage(fmt.Sprintf("%d", gid))
		rewritten, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("rewrite request id: %w", err)
		}
		out = rewritten
		b.pendingMu.Lock()
		b.pending[gid] = pendingCall{sessionID: s.id, clientID: clientID}
		b.pendingMu.Unlock()
		s.addInflight(1)
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if _, err := b.stdin.Write(append(out, '\n')); err != nil {
		if hasID {
			s.addInflight(-1)
		}
		return fmt.Errorf("write to shared server: %w", err)
	}
	return nil
}

// --- HTTP surface ---

type errorResp struct {
	Error string `json:"error"`
}

// Handler returns the gin-powered http.Handler for the bridge endpoints.
func (b *Bridge) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	g.POST("/rpc", b.handleRPC)
	g.GET("/sse", b.handleSSE)
	g.DELETE("/session", b.handleDeleteSession)
	g.GET("/health", b.handleHealth)
	return g
}

// NewServer starts a standalone HTTP server on addr serving the bridge.
func (b *Bridge) NewServer(addr string) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           b.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

func (b *Bridge) handleRPC(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 16*1024*1024))
	if err != nil || len(body) == 0 {
		c.JSON(http.StatusBadRequest, errorResp{Error: "empty or unreadable body"})
		return
	}
	// Parse before any session bookkeeping so a malformed request cannot
	// leave an orphan session behind.
	var msg map[string]json.RawMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON body"})
		return
	}

	s, created := b.table.getOrCreate(sessionID(c))
	s.touch()
	if created {
		b.log.Info("session created", "session", s.id)
		history.Record(c.Request.Context(), b.sink, b.log, history.Event{
			Type: history.EventSessionCreate, Subject: s.id,
		})
	}

	if err := b.forward(s, msg, body); err != nil {
		c.JSON(http.StatusBadGateway, errorResp{Error: err.Error()})
		return
	}
	// The response is not returned here; it arrives on the session's event
	// stream once the shared process produces it.
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "sessionId": s.id})
}

func (b *Bridge) handleSSE(c *gin.Context) {
	s := b.table.get(sessionID(c))
	if s == nil {
		c.JSON(http.StatusNotFound, errorResp{Error: "unknown session"})
		return
	}
	s.touch()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case payload := <-s.queue:
			if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", payload); err != nil {
				return
			}
			c.Writer.Flush()
			s.touch()
		case <-s.gone:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bridge) handleDeleteSession(c *gin.Context) {
	id := sessionID(c)
	if b.table.remove(id) == nil {
		c.JSON(http.StatusNotFound, errorResp{Error: "unknown session"})
		return
	}
	b.log.Info("session terminated", "session", id)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (b *Bridge) handleHealth(c *gin.Context) {
	status := "ok"
	if !b.running.Load() {
		status = "down"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         status,
		"activeSessions": b.table.count(),
	})
}

// ActiveSessions returns the live session count.
func (b *Bridge) ActiveSessions() int { return b.table.count() }

// Running reports whether the shared process is still up.
func (b *Bridge) Running() bool { return b.running.Load() }

func sessionID(c *gin.Context) string {
	if id := c.GetHeader("X-Session-Id"); id != "" {
		return id
	}
	return c.Query("session_id")
}
