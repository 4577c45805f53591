//go:build windows

package main

import (
	"context"
	"os"
	"os/exec"
)

// runInstaller runs the external installer script through cmd.exe.
func runInstaller(script string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		// #nosec G204 -- installer command is operator-provided
		cmd := exec.CommandContext(ctx, "cmd", "/C", script)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		return cmd.Run()
	}
}
