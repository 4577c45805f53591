//go:build !windows

package mux

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr places the child in its own process group so teardown
// can signal the whole group, including anything the tool server forks.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killChild terminates the child's process group, best-effort. The connection
// is already being discarded, so no forced wait follows.
func killChild(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}
}
