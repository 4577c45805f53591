package main

import (
	"fmt"
	"log/slog"

	"github.com/toolmux/toolmux/internal/config"
	"github.com/toolmux/toolmux/internal/history"
	"github.com/toolmux/toolmux/internal/history/factory"
	"github.com/toolmux/toolmux/internal/lifecycle"
	"github.com/toolmux/toolmux/internal/logger"
	"github.com/toolmux/toolmux/internal/pidfile"
	"github.com/toolmux/toolmux/internal/proc"
)

// stack bundles the pieces every command needs.
type stack struct {
	cfg  config.Config
	log  *slog.Logger
	sink history.Sink
}

func loadStack(flags *GlobalFlags, component string) (*stack, error) {
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return nil, err
	}
	log := logger.New(component)

	var sink history.Sink
	if cfg.History.DSN != "" {
		sink, err = factory.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			return nil, fmt.Errorf("history sink: %w", err)
		}
	}
	return &stack{cfg: cfg, log: log, sink: sink}, nil
}

func (s *stack) controller() *lifecycle.Controller {
	store := pidfile.New(s.cfg.PIDFile(), s.log)
	return lifecycle.NewController(lifecycle.Config{
		Binary:        s.cfg.Server.Binary,
		Args:          s.cfg.Server.Args,
		WorkDir:       s.cfg.Server.WorkDir,
		LogPath:       s.cfg.ServerLogPath(),
		StartGrace:    s.cfg.Server.StartGrace,
		StopWait:      s.cfg.Server.StopWait,
		RestartSettle: s.cfg.Server.RestartSettle,
		Version:       version,
	}, proc.NewHandler(), store, s.sink, s.log)
}
