// Package config loads toolmux settings from an optional TOML file layered
// over defaults. The per-user state directory must be resolvable at startup;
// a failed home lookup is a fatal configuration error, never retried.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/toolmux/toolmux/internal/bridge"
	"github.com/toolmux/toolmux/internal/lifecycle"
	"github.com/toolmux/toolmux/internal/mux"
)

// StateDirName is the per-user directory under the home directory that holds
// pid files and logs. Status displays and uninstallers rely on this layout.
const StateDirName = ".toolmux"

// Config is the top-level TOML structure.
type Config struct {
	Server  ServerConfig  `toml:"server" mapstructure:"server"`
	Mux     MuxConfig     `toml:"multiplexer" mapstructure:"multiplexer"`
	Bridge  BridgeConfig  `toml:"bridge" mapstructure:"bridge"`
	History HistoryConfig `toml:"history" mapstructure:"history"`
	Metrics MetricsConfig `toml:"metrics" mapstructure:"metrics"`

	// StateDir is resolved at load time, not read from the file.
	StateDir string `mapstructure:"-"`
}

type ServerConfig struct {
	Binary        string        `toml:"binary" mapstructure:"binary"`
	Args          []string      `toml:"args" mapstructure:"args"`
	WorkDir       string        `toml:"workdir" mapstructure:"workdir"`
	StartGrace    time.Duration `toml:"start_grace" mapstructure:"start_grace"`
	StopWait      time.Duration `toml:"stop_wait" mapstructure:"stop_wait"`
	RestartSettle time.Duration `toml:"restart_settle" mapstructure:"restart_settle"`
}

type MuxConfig struct {
	Port int      `toml:"port" mapstructure:"port"`
	Env  []string `toml:"env" mapstructure:"env"`
}

type BridgeConfig struct {
	Addr          string        `toml:"addr" mapstructure:"addr"`
	IdleTTL       time.Duration `toml:"idle_ttl" mapstructure:"idle_ttl"`
	SweepInterval time.Duration `toml:"sweep_interval" mapstructure:"sweep_interval"`
}

type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type MetricsConfig struct {
	Addr string `toml:"addr" mapstructure:"addr"`
}

// Load reads path (optional; empty means defaults only) and resolves the
// per-user state directory.
func Load(path string) (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf("cannot resolve home directory: %w", err)
	}
	stateDir := filepath.Join(home, StateDirName)

	v := viper.New()
	v.SetDefault("server.binary", filepath.Join(stateDir, "bin", "toolserver"))
	v.SetDefault("server.start_grace", lifecycle.DefaultStartGrace)
	v.SetDefault("server.stop_wait", lifecycle.DefaultStopWait)
	v.SetDefault("server.restart_settle", lifecycle.DefaultRestartSettle)
	v.SetDefault("multiplexer.port", mux.DefaultPort)
	v.SetDefault("bridge.addr", "127.0.0.1:9838")
	v.SetDefault("bridge.idle_ttl", bridge.DefaultIdleTTL)
	v.SetDefault("bridge.sweep_interval", bridge.DefaultSweepInterval)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.StateDir = stateDir
	return cfg, nil
}

// PIDFile is the singleton server's pid record path.
func (c Config) PIDFile() string { return filepath.Join(c.StateDir, "toolserver.pid") }

// MuxPIDFile is the daemonized multiplexer's pid record path.
func (c Config) MuxPIDFile() string { return filepath.Join(c.StateDir, "mux.pid") }

// LogDir holds the server log and forwarded stderr diagnostics.
func (c Config) LogDir() string { return filepath.Join(c.StateDir, "logs") }

// ServerLogPath is the detached server's combined output file.
func (c Config) ServerLogPath() string { return filepath.Join(c.LogDir(), "toolserver.log") }
