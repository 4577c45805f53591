package mux

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"runtime"
	"testing"
	"time"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires unix child binaries")
	}
}

func waitUntil(timeout, step time.Duration, fn func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(step)
	}
	return fn()
}

// startSupervisor binds an ephemeral port, runs the accept loop, and returns
// the dial address. Cleanup closes the supervisor and waits for its loops.
func startSupervisor(t *testing.T, cfg Config) (*Supervisor, string) {
	t.Helper()
	sup := NewSupervisor(cfg, nil, slog.Default())
	if err := sup.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = sup.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = sup.Close()
	})
	return sup, sup.Addr().String()
}

func TestEchoRoundTrip(t *testing.T) {
	requireUnix(t)
	_, addr := startSupervisor(t, Config{Binary: "/bin/cat"})

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("hello mux\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if line != "hello mux\n" {
		t.Fatalf("echoed %q", line)
	}
}

func TestConnectionIsolationAndOrdering(t *testing.T) {
	requireUnix(t)
	sup, addr := startSupervisor(t, Config{Binary: "/bin/cat"})

	const clients = 3
	const msgs = 20
	errc := make(chan error, clients)
	for i := 0; i < clients; i++ {
		go func(id int) {
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				errc <- err
				return
			}
			defer conn.Close()
			r := bufio.NewReader(conn)
			for j := 0; j < msgs; j++ {
				want := fmt.Sprintf("client-%d seq-%d\n", id, j)
				if _, err := io.WriteString(conn, want); err != nil {
					errc <- err
					return
				}
				got, err := r.ReadString('\n')
				if err != nil {
					errc <- err
					return
				}
				if got != want {
					errc <- fmt.Errorf("client %d got %q want %q", id, got, want)
					return
				}
			}
			errc <- nil
		}(i)
	}
	for i := 0; i < clients; i++ {
		if err := <-errc; err != nil {
			t.Fatal(err)
		}
	}

	if !waitUntil(2*time.Second, 20*time.Millisecond, func() bool {
		return sup.ActiveConnections() == 0
	}) {
		t.Fatalf("connections leaked: %d active", sup.ActiveConnections())
	}
}

func TestClientCloseTearsDownChild(t *testing.T) {
	requireUnix(t)
	sup, addr := startSupervisor(t, Config{Binary: "/bin/cat"})

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if !waitUntil(2*time.Second, 20*time.Millisecond, func() bool {
		return sup.ActiveConnections() == 1
	}) {
		t.Fatalf("connection never registered")
	}

	_ = conn.Close()
	if !waitUntil(2*time.Second, 20*time.Millisecond, func() bool {
		return sup.ActiveConnections() == 0
	}) {
		t.Fatalf("teardown did not run after client close")
	}
}

func TestChildExitClosesSocket(t *testing.T) {
	requireUnix(t)
	_, addr := startSupervisor(t, Config{Binary: "/bin/true"})

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Fatalf("expected socket close after child exit")
	}
}

func TestSpawnFailureIsIsolated(t *testing.T) {
	requireUnix(t)
	sup, addr := startSupervisor(t, Config{Binary: "/nonexistent/toolserver"})

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Fatalf("expected socket close after spawn failure")
	}
	_ = conn.Close()

	// The supervisor keeps accepting after a failed spawn.
	again, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial after spawn failure: %v", err)
	}
	_ = again.Close()
	if sup.isClosed() {
		t.Fatalf("supervisor closed by a single spawn failure")
	}
}

func TestListenPortConflict(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("pre-bind: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	sup := NewSupervisor(Config{Port: port, Binary: "/bin/cat"}, nil, slog.Default())
	err = sup.Listen()
	if !errors.Is(err, ErrPortInUse) {
		t.Fatalf("expected ErrPortInUse, got %v", err)
	}
}

func TestCloseTearsDownActiveConnections(t *testing.T) {
	requireUnix(t)
	sup, addr := startSupervisor(t, Config{Binary: "/bin/cat"})

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if !waitUntil(2*time.Second, 20*time.Millisecond, func() bool {
		return sup.ActiveConnections() == 1
	}) {
		t.Fatalf("connection never registered")
	}

	if err := sup.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := sup.ActiveConnections(); got != 0 {
		t.Fatalf("%d connections survived close", got)
	}
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Fatalf("client socket still open after supervisor close")
	}
}

func TestDiagWorthy(t *testing.T) {
	cases := []struct {
		line string
		want bool
	}{
		{"Error: tool crashed", true},
		{"ERROR something broke", true},
		{"Warning: deprecated flag", true},
		{"WARN low memory", true},
		{"starting tool server v1.2", false},
		{"listening on stdio", false},
		{"", false},
	}
	for _, c := range cases {
		if got := diagWorthy(c.line); got != c.want {
			t.Errorf("diagWorthy(%q) = %v, want %v", c.line, got, c.want)
		}
	}
}
