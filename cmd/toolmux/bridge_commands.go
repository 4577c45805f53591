package main

import (
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/toolmux/toolmux/internal/bridge"
	"github.com/toolmux/toolmux/internal/metrics"
)

// createBridgeCommand runs the HTTP/SSE session bridge: one shared tool
// server process, many logical clients tracked by session id.
func createBridgeCommand(globalFlags *GlobalFlags, flags *BridgeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Run the HTTP/SSE session bridge in the foreground",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadStack(globalFlags, "bridge")
			if err != nil {
				return err
			}
			addr := flags.Addr
			if addr == "" {
				addr = s.cfg.Bridge.Addr
			}

			if flags.MetricsAddr != "" {
				if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
					return err
				}
				go serveMetrics(flags.MetricsAddr)
			}

			b := bridge.New(bridge.Config{
				Binary:        s.cfg.Server.Binary,
				Args:          s.cfg.Server.Args,
				WorkDir:       s.cfg.Server.WorkDir,
				IdleTTL:       s.cfg.Bridge.IdleTTL,
				SweepInterval: s.cfg.Bridge.SweepInterval,
			}, s.sink, s.log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := b.Start(ctx); err != nil {
				return err
			}
			defer func() { _ = b.Close() }()

			server := b.NewServer(addr)
			s.log.Info("bridge listening", "addr", addr)

			<-ctx.Done()
			if err := server.Close(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.Addr, "addr", "", "HTTP listen address (default from config)")
	cmd.Flags().StringVar(&flags.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}
