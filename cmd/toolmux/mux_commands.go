package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/toolmux/toolmux/internal/logger"
	"github.com/toolmux/toolmux/internal/metrics"
	"github.com/toolmux/toolmux/internal/mux"
	"github.com/toolmux/toolmux/internal/pidfile"
)

// createListenCommand runs the TCP supervisor: one fresh tool server child
// per accepted connection, raw byte passthrough.
func createListenCommand(globalFlags *GlobalFlags, flags *ListenFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Run the connection multiplexer in the foreground",
		Long: `Listen accepts any number of client connections on a loopback TCP port
and spawns an isolated tool server process for each one. An interrupt or
terminate signal shuts the listener down and tears down every connection.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadStack(globalFlags, "mux")
			if err != nil {
				return err
			}
			port := flags.Port
			if port == 0 {
				port = s.cfg.Mux.Port
			}

			if flags.Daemonize {
				if err := daemonize(s.cfg.MuxPIDFile(), s.cfg.ServerLogPath()); err != nil {
					return err
				}
			}

			if flags.MetricsAddr != "" {
				if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
					return err
				}
				go serveMetrics(flags.MetricsAddr)
			}

			sup := mux.NewSupervisor(mux.Config{
				Port:    port,
				Binary:  s.cfg.Server.Binary,
				Args:    s.cfg.Server.Args,
				WorkDir: s.cfg.Server.WorkDir,
				Env:     s.cfg.Mux.Env,
				Diag:    logger.Config{Dir: s.cfg.LogDir()},
			}, s.sink, s.log)
			if err := sup.Listen(); err != nil {
				return err
			}

			pids := pidfile.New(s.cfg.MuxPIDFile(), s.log)
			if err := pids.Write(os.Getpid()); err != nil {
				s.log.Warn("write multiplexer pid record", "error", err)
			}
			defer func() { _ = pids.Remove() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return sup.Serve(ctx)
		},
	}
	cmd.Flags().IntVar(&flags.Port, "port", 0, "TCP port to listen on (default from config)")
	cmd.Flags().BoolVar(&flags.Daemonize, "daemonize", false, "run in the background")
	cmd.Flags().StringVar(&flags.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

func serveMetrics(addr string) {
	server := &http.Server{
		Addr:              addr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	_ = server.ListenAndServe()
}
