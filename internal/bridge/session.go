package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/toolmux/toolmux/internal/history"
	"github.com/toolmux/toolmux/internal/metrics"
)

// session is one logical client attached to the shared server process.
// Responses are delivered to its event stream in the order the shared
// process produced them; the buffered queue preserves that order.
type session struct {
	id        string
	createdAt time.Time

	mu           sync.Mutex
	lastActivity time.Time
	inflight     int // requests forwarded but not yet answered

	queue chan []byte   // responses pending delivery over SSE
	gone  chan struct{} // closed on eviction or explicit termination
}

func (s *session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *session) addInflight(d int) {
	s.mu.Lock()
	s.inflight += d
	s.mu.Unlock()
}

// idle reports whether the session has been inactive beyond ttl. A session
// with a request in flight is never idle, so eviction cannot drop an
// in-flight response.
func (s *session) idle(ttl time.Duration, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight == 0 && now.Sub(s.lastActivity) > ttl
}

// enqueue appends a response for SSE delivery. A session whose queue is full
// or already gone drops the response; the client re-requests on reconnect.
func (s *session) enqueue(payload []byte) bool {
	select {
	case <-s.gone:
		return false
	default:
	}
	select {
	case s.queue <- payload:
		return true
	default:
		return false
	}
}

// sessionTable tracks live sessions. It is mutated from request handlers and
// the sweep loop only; the mutex covers both.
type sessionTable struct {
	mu       sync.Mutex
	sessions map[string]*session
}

func newSessionTable() *sessionTable {
	return &sessionTable{sessions: make(map[string]*session)}
}

// getOrCreate returns the session for id, creating it when unseen. An empty
// id gets a fresh UUID.
func (t *sessionTable) getOrCreate(id string) (*session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id != "" {
		if s, ok := t.sessions[id]; ok {
			return s, false
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	s := &session{
		id:           id,
		createdAt:    now,
		lastActivity: now,
		queue:        make(chan []byte, 64),
		gone:         make(chan struct{}),
	}
	t.sessions[id] = s
	metrics.SetActiveSessions(len(t.sessions))
	return s, true
}

func (t *sessionTable) get(id string) *session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[id]
}

func (t *sessionTable) remove(id string) *session {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok {
		return nil
	}
	delete(t.sessions, id)
	metrics.SetActiveSessions(len(t.sessions))
	close(s.gone)
	return s
}

func (t *sessionTable) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

func (t *sessionTable) snapshot() []*session {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	return out
}

// sweep evicts sessions idle beyond ttl. In-flight sessions are skipped; see
// session.idle.
func (b *Bridge) sweep(now time.Time) {
	for _, s := range b.table.snapshot() {
		if !s.idle(b.cfg.IdleTTL, now) {
			continue
		}
		if b.table.remove(s.id) != nil {
			b.log.Info("session evicted", "session", s.id)
			metrics.IncSessionEvicted()
			history.Record(context.Background(), b.sink, b.log, history.Event{
				Type: history.EventSessionEvict, Subject: s.id,
			})
		}
	}
}

func (b *Bridge) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			b.sweep(now)
		}
	}
}
