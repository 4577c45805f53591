//go:build !windows

package proc

import (
	"bytes"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"syscall"
)

type platformHandler struct{}

func (platformHandler) Start(binary string, args []string, opts StartOptions) (int, error) {
	// #nosec G204 -- binary path comes from operator configuration
	cmd := exec.Command(binary, args...)
	if opts.WorkDir != "" {
		cmd.Dir = opts.WorkDir
	}
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	// New session so the server survives the CLI exiting.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin = nil
	if opts.Output != nil {
		cmd.Stdout = opts.Output
		cmd.Stderr = opts.Output
	} else {
		null, _ := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		cmd.Stdout = null
		cmd.Stderr = null
	}
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	// Reap in the background in case the server exits while we are still
	// alive; otherwise a quick crash leaves a zombie until the CLI exits.
	go func() { _ = cmd.Wait() }()
	return pid, nil
}

func (platformHandler) Stop(pid int) error {
	return syscall.Kill(pid, syscall.SIGTERM)
}

func (platformHandler) Kill(pid int) error {
	return syscall.Kill(pid, syscall.SIGKILL)
}

func (platformHandler) IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	// A quickly-exiting child can linger as a zombie; treat that as gone.
	if runtime.GOOS == "linux" && isZombieLinux(pid) {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// isZombieLinux returns true if /proc/<pid>/status reports a zombie state (Z) on Linux.
func isZombieLinux(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}
