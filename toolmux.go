// Package toolmux exposes the supervision building blocks for embedding:
// the singleton server controller, the per-connection TCP multiplexer, and
// the HTTP/SSE session bridge.
package toolmux

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/toolmux/toolmux/internal/bridge"
	"github.com/toolmux/toolmux/internal/history"
	"github.com/toolmux/toolmux/internal/lifecycle"
	"github.com/toolmux/toolmux/internal/logger"
	"github.com/toolmux/toolmux/internal/metrics"
	"github.com/toolmux/toolmux/internal/mux"
	"github.com/toolmux/toolmux/internal/pidfile"
	"github.com/toolmux/toolmux/internal/proc"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type ServerConfig = lifecycle.Config

type ServerStatus = lifecycle.Status

type MuxConfig = mux.Config

type BridgeConfig = bridge.Config

type HistorySink = history.Sink

type LogConfig = logger.Config

// DefaultMuxPort is the well-known loopback port of the connection
// multiplexer.
const DefaultMuxPort = mux.DefaultPort

// Sentinel errors callers branch on.
var (
	ErrNotInstalled   = lifecycle.ErrNotInstalled
	ErrAlreadyRunning = lifecycle.ErrAlreadyRunning
	ErrAlreadyStopped = lifecycle.ErrAlreadyStopped
	ErrStartupFailed  = lifecycle.ErrStartupFailed
	ErrPortInUse      = mux.ErrPortInUse
)

// NewController builds a lifecycle controller with the platform process
// handler and a pid store at pidPath.
func NewController(cfg ServerConfig, pidPath string, sink HistorySink, log *slog.Logger) *lifecycle.Controller {
	if log == nil {
		log = logger.New("server")
	}
	return lifecycle.NewController(cfg, proc.NewHandler(), pidfile.New(pidPath, log), sink, log)
}

// NewSupervisor builds the TCP connection multiplexer.
func NewSupervisor(cfg MuxConfig, sink HistorySink, log *slog.Logger) *mux.Supervisor {
	if log == nil {
		log = logger.New("mux")
	}
	return mux.NewSupervisor(cfg, sink, log)
}

// NewBridge builds the HTTP/SSE session bridge.
func NewBridge(cfg BridgeConfig, sink HistorySink, log *slog.Logger) *bridge.Bridge {
	if log == nil {
		log = logger.New("bridge")
	}
	return bridge.New(cfg, sink, log)
}

// RegisterMetrics registers the toolmux collectors with r.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// MetricsHandler serves the Prometheus default gatherer.
func MetricsHandler() http.Handler { return metrics.Handler() }

// NewLogger returns a component-scoped slog logger in the toolmux format.
func NewLogger(component string) *slog.Logger { return logger.New(component) }
