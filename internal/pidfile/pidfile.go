// Package pidfile persists the process id of the singleton tool server,
// plus an advisory JSON metadata sidecar (version, start args).
package pidfile

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Store reads and writes a PID record at a fixed path. The sidecar metadata
// file lives next to it with a .json extension and an independent lifecycle.
type Store struct {
	path string
	log  *slog.Logger
}

func New(path string, log *slog.Logger) *Store {
	return &Store{path: path, log: log}
}

// Path returns the PID file location.
func (s *Store) Path() string { return s.path }

// MetaPath returns the metadata sidecar location.
func (s *Store) MetaPath() string { return s.path + ".json" }

// Write persists pid, creating parent directories as needed.
func (s *Store) Write(pid int) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return err
	}
	return os.WriteFile(s.path, []byte(strconv.Itoa(pid)+"\n"), 0o600)
}

// Read returns the stored pid, or 0 when no record exists. A record that does
// not parse as a positive integer is corrupt; it is removed and treated as
// absent.
func (s *Store) Read() (int, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		s.log.Warn("removing corrupt pid record", "path", s.path)
		_ = os.Remove(s.path)
		return 0, nil
	}
	return pid, nil
}

// Remove deletes the record. Absence is not an error.
func (s *Store) Remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// WriteMetadata stores the advisory sidecar. Failures are logged, never
// returned; metadata must not affect lifecycle decisions.
func (s *Store) WriteMetadata(meta map[string]any) {
	b, err := json.Marshal(meta)
	if err != nil {
		s.log.Warn("marshal pid metadata", "error", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		s.log.Warn("write pid metadata", "path", s.MetaPath(), "error", err)
		return
	}
	if err := os.WriteFile(s.MetaPath(), b, 0o600); err != nil {
		s.log.Warn("write pid metadata", "path", s.MetaPath(), "error", err)
	}
}

// ReadMetadata returns the sidecar contents, or nil when absent or unreadable.
func (s *Store) ReadMetadata() map[string]any {
	b, err := os.ReadFile(s.MetaPath())
	if err != nil {
		return nil
	}
	var meta map[string]any
	if err := json.Unmarshal(b, &meta); err != nil {
		s.log.Warn("unparseable pid metadata", "path", s.MetaPath(), "error", err)
		return nil
	}
	return meta
}

// RemoveMetadata deletes the sidecar, best-effort.
func (s *Store) RemoveMetadata() {
	_ = os.Remove(s.MetaPath())
}
