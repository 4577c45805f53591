// Package proc abstracts OS process control behind a single interface.
// There is no unified "does this pid exist" primitive across platforms, so
// liveness probing, termination, and detached spawn each get one
// implementation per OS family, selected by build tags.
package proc

import (
	"io"
	"time"
)

// Handler starts, stops, and probes processes by pid. Implementations must be
// safe for concurrent use; they hold no per-process state.
type Handler interface {
	// Start spawns binary detached from the caller (new session/group) and
	// returns its pid. The child outlives the calling process.
	Start(binary string, args []string, opts StartOptions) (int, error)
	// Stop requests graceful termination of pid.
	Stop(pid int) error
	// Kill forcibly terminates pid.
	Kill(pid int) error
	// IsRunning reports whether pid refers to a live process. A zombie is
	// not considered running.
	IsRunning(pid int) bool
	// StartTime reports when pid started, when the platform can tell.
	StartTime(pid int) (time.Time, bool)
}

// StartOptions configures a detached spawn.
type StartOptions struct {
	WorkDir string
	Env     []string  // extra environment, appended to the parent's
	Output  io.Writer // combined stdout+stderr destination; discarded when nil
}

// NewHandler returns the Handler for the current platform.
func NewHandler() Handler { return platformHandler{} }
