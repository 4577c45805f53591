package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is stamped by the release build.
var version = "dev"

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by all commands
type GlobalFlags struct {
	ConfigPath string
}

// ListenFlags holds flags for the listen command
type ListenFlags struct {
	Port        int
	Daemonize   bool
	MetricsAddr string
}

// BridgeFlags holds flags for the bridge command
type BridgeFlags struct {
	Addr        string
	MetricsAddr string
}

// UpgradeFlags holds flags for server upgrade
type UpgradeFlags struct {
	Installer string
}

// buildRoot creates the root command and wires all subcommands
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	listenFlags := &ListenFlags{}
	bridgeFlags := &BridgeFlags{}
	upgradeFlags := &UpgradeFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServerCommand(globalFlags, upgradeFlags),
		createListenCommand(globalFlags, listenFlags),
		createBridgeCommand(globalFlags, bridgeFlags),
		createVersionCommand(),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "toolmux",
		Short: "Tool server supervision and connection multiplexing",
		Long: `Toolmux manages the local tool server that exposes code-review and
GitHub capabilities to AI coding clients, and multiplexes client
connections onto it.

Examples:
  toolmux server start              # Launch the singleton server
  toolmux server status             # Probe liveness
  toolmux listen --port 9837        # One child process per TCP connection
  toolmux bridge                    # Shared process with HTTP/SSE sessions`,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the toolmux version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println("toolmux " + version)
		},
	}
}
