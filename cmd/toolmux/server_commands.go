package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/toolmux/toolmux/internal/lifecycle"
)

// createServerCommand groups the singleton lifecycle operations.
func createServerCommand(globalFlags *GlobalFlags, upgradeFlags *UpgradeFlags) *cobra.Command {
	server := &cobra.Command{
		Use:   "server",
		Short: "Manage the singleton tool server process",
	}
	server.AddCommand(
		createServerStartCommand(globalFlags),
		createServerStopCommand(globalFlags),
		createServerRestartCommand(globalFlags),
		createServerStatusCommand(globalFlags),
		createServerUpgradeCommand(globalFlags, upgradeFlags),
	)
	return server
}

func createServerStartCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the tool server in the background",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadStack(globalFlags, "server")
			if err != nil {
				return err
			}
			err = s.controller().Start(cmd.Context())
			// Already running is success for scripted callers.
			if errors.Is(err, lifecycle.ErrAlreadyRunning) {
				cmd.Println("tool server is already running")
				return nil
			}
			if err != nil {
				return err
			}
			cmd.Println("tool server started")
			return nil
		},
	}
}

func createServerStopCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the tool server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadStack(globalFlags, "server")
			if err != nil {
				return err
			}
			err = s.controller().Stop(cmd.Context())
			if errors.Is(err, lifecycle.ErrAlreadyStopped) {
				cmd.Println("tool server is not running")
				return nil
			}
			if err != nil {
				return err
			}
			cmd.Println("tool server stopped")
			return nil
		},
	}
}

func createServerRestartCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the tool server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadStack(globalFlags, "server")
			if err != nil {
				return err
			}
			if err := s.controller().Restart(cmd.Context()); err != nil {
				return err
			}
			cmd.Println("tool server restarted")
			return nil
		},
	}
}

func createServerStatusCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show tool server status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadStack(globalFlags, "server")
			if err != nil {
				return err
			}
			st, err := s.controller().Status(cmd.Context())
			if err != nil {
				return err
			}
			if !st.Installed {
				cmd.Println("installed: no")
				return nil
			}
			cmd.Println("installed: yes")
			if !st.Running {
				cmd.Println("running:   no")
				return nil
			}
			cmd.Printf("running:   yes (pid %d)\n", st.PID)
			if !st.Since.IsZero() {
				cmd.Printf("uptime:    %s\n", time.Since(st.Since).Round(time.Second))
			}
			if v, ok := st.Metadata["version"].(string); ok && v != "" {
				cmd.Printf("version:   %s\n", v)
			}
			return nil
		},
	}
}

func createServerUpgradeCommand(globalFlags *GlobalFlags, flags *UpgradeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Replace the tool server binary, restarting it if it was running",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flags.Installer == "" {
				return fmt.Errorf("--installer is required")
			}
			s, err := loadStack(globalFlags, "server")
			if err != nil {
				return err
			}
			if err := s.controller().Upgrade(cmd.Context(), runInstaller(flags.Installer)); err != nil {
				return err
			}
			cmd.Println("tool server upgraded")
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.Installer, "installer", "", "command that replaces the server binary")
	return cmd
}
