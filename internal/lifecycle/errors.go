package lifecycle

import "errors"

var (
	// ErrNotInstalled indicates the tool server binary is absent on disk.
	ErrNotInstalled = errors.New("tool server binary is not installed")
	// ErrAlreadyRunning is returned by Start when the server is already up.
	// It is an idempotent no-op, not a failure.
	ErrAlreadyRunning = errors.New("server already running")
	// ErrAlreadyStopped is returned by Stop when no server is running.
	// It is an idempotent no-op, not a failure.
	ErrAlreadyStopped = errors.New("server already stopped")
	// ErrStartupFailed indicates the server process exited immediately after
	// being spawned.
	ErrStartupFailed = errors.New("server exited during startup")
)
