package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

func TestWriter_WithDirOnly(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Dir: dir}
	w := cfg.Writer("diag")
	if w == nil {
		t.Fatalf("expected writer when Dir is set")
	}
	if _, err := w.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = w.Close()
	if _, err := os.Stat(filepath.Join(dir, "diag.log")); err != nil {
		t.Fatalf("log not created: %v", err)
	}
}

func TestWriter_ExplicitPathOverridesDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "explicit.log")
	cfg := Config{Dir: filepath.Join(dir, "unused"), Path: path}
	w := cfg.Writer("ignored-name")
	if w == nil {
		t.Fatalf("expected writer with explicit path")
	}
	_, _ = w.Write([]byte("x"))
	_ = w.Close()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("explicit path not created: %v", err)
	}
}

func TestWriter_Unconfigured(t *testing.T) {
	if w := (Config{}).Writer("n"); w != nil {
		t.Fatalf("expected nil writer with no Dir or Path")
	}
}

func TestWriter_RotationDefaultsAndOverrides(t *testing.T) {
	cfg := Config{Path: filepath.Join(t.TempDir(), "d.log")}
	l, ok := cfg.Writer("n").(*lj.Logger)
	if !ok {
		t.Fatalf("writer is not lumberjack.Logger")
	}
	if l.MaxSize != 10 || l.MaxBackups != 3 || l.MaxAge != 7 {
		t.Fatalf("unexpected defaults: size=%d backups=%d age=%d", l.MaxSize, l.MaxBackups, l.MaxAge)
	}
	_ = l.Close()

	cfg = Config{Path: filepath.Join(t.TempDir(), "o.log"), MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 11, Compress: true}
	l = cfg.Writer("n").(*lj.Logger)
	if l.MaxSize != 1 || l.MaxBackups != 9 || l.MaxAge != 11 || !l.Compress {
		t.Fatalf("unexpected overrides: size=%d backups=%d age=%d compress=%t", l.MaxSize, l.MaxBackups, l.MaxAge, l.Compress)
	}
	_ = l.Close()
}

func TestColorTextHandler(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false)
	log := slog.New(h).With("component", "mux")

	log.Warn("child stderr noisy")
	out := buf.String()
	if !strings.Contains(out, "\033[33mWARN"+ansiReset) {
		t.Fatalf("warn line not colorized: %q", out)
	}
	if !strings.Contains(out, "component=mux") {
		t.Fatalf("component attr missing: %q", out)
	}
	if strings.Contains(out, "time=") {
		t.Fatalf("time emitted with showTime=false: %q", out)
	}

	buf.Reset()
	log.Error("spawn failed")
	if !strings.Contains(buf.String(), "\033[1;31mERROR"+ansiReset) {
		t.Fatalf("error line not bold red: %q", buf.String())
	}
}

func TestNewComponentLogger(t *testing.T) {
	log := New("mux")
	if log == nil {
		t.Fatalf("nil logger")
	}
	log.Info("component logger smoke test")
}
