package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serverStarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "toolmux",
			Subsystem: "server",
			Name:      "starts_total",
			Help:      "Number of successful singleton server starts.",
		},
	)
	serverStops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "toolmux",
			Subsystem: "server",
			Name:      "stops_total",
			Help:      "Number of singleton server stops.",
		},
	)
	connectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "toolmux",
			Subsystem: "mux",
			Name:      "connections_total",
			Help:      "Number of client connections accepted by the multiplexer.",
		},
	)
	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "toolmux",
			Subsystem: "mux",
			Name:      "active_connections",
			Help:      "Current client connections with a live child process.",
		},
	)
	spawnFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "toolmux",
			Subsystem: "mux",
			Name:      "spawn_failures_total",
			Help:      "Number of per-connection child processes that failed to spawn.",
		},
	)
	bytesForwarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toolmux",
			Subsystem: "mux",
			Name:      "bytes_forwarded_total",
			Help:      "Bytes forwarded between sockets and child processes.",
		}, []string{"direction"},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "toolmux",
			Subsystem: "bridge",
			Name:      "active_sessions",
			Help:      "Current sessions attached to the shared server process.",
		},
	)
	sessionsEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "toolmux",
			Subsystem: "bridge",
			Name:      "sessions_evicted_total",
			Help:      "Sessions removed by the idle sweep.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{serverStarts, serverStops, connectionsTotal, activeConnections, spawnFailures, bytesForwarded, activeSessions, sessionsEvicted}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncServerStart() {
	if regOK.Load() {
		serverStarts.Inc()
	}
}
func IncServerStop() {
	if regOK.Load() {
		serverStops.Inc()
	}
}
func IncConnection() {
	if regOK.Load() {
		connectionsTotal.Inc()
	}
}
func IncSpawnFailure() {
	if regOK.Load() {
		spawnFailures.Inc()
	}
}
func SetActiveConnections(n int) {
	if regOK.Load() {
		activeConnections.Set(float64(n))
	}
}
func AddBytesForwarded(direction string, n int64) {
	if regOK.Load() && n > 0 {
		bytesForwarded.WithLabelValues(direction).Add(float64(n))
	}
}
func SetActiveSessions(n int) {
	if regOK.Load() {
		activeSessions.Set(float64(n))
	}
}
func IncSessionEvicted() {
	if regOK.Load() {
		sessionsEvicted.Inc()
	}
}
