package util

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ProcessConfig configures process management behavior.
type ProcessConfig struct {
	GracefulTimeout time.Duration // Time to wait for graceful shutdown (default: 10s)
	PollInterval    time.Duration // Polling interval for process state (default: 100ms)
}

// StartBackgroundProcess starts a detached background process.
// The process will continue running after the parent exits.
func StartBackgroundProcess(executable string, args []string, env []string) (*os.Process, error) {
	cmd := exec.Command(executable, args...)
	if env != nil {
		cmd.Env = env
	} else {
		cmd.Env = os.Environ()
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // detach from terminal
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start process: %w", err)
	}
	// Reap in the background; the caller does not wait.
	go cmd.Wait()
	return cmd.Process, nil
}

// StopProcess sends SIGTERM and waits for the process to exit, then force
// kills it if the graceful timeout passes.
func StopProcess(ctx context.Context, pid int, cfg ProcessConfig) error {
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = 10 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if !IsProcessRunning(pid) {
		return nil
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil && IsProcessRunning(pid) {
		return fmt.Errorf("signal PID %d: %w", pid, err)
	}

	stopped := func() bool { return !IsProcessRunning(pid) }
	if PollUntil(ctx, PollConfig{Timeout: cfg.GracefulTimeout, Interval: cfg.PollInterval}, stopped) == nil {
		return nil
	}

	_ = proc.Signal(syscall.SIGKILL)
	if PollUntil(ctx, PollConfig{Timeout: 500 * time.Millisecond, Interval: cfg.PollInterval}, stopped) != nil {
		return fmt.Errorf("failed to stop process (PID %d)", pid)
	}
	return nil
}

// IsProcessRunning checks if a process with the given PID is running.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, sending signal 0 checks if process exists
	return proc.Signal(syscall.Signal(0)) == nil
}

// WritePIDFile records the current process ID in path.
func WritePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0600)
}

// ReadPIDFile returns the process ID recorded in path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("bad pid file %s: %w", path, err)
	}
	return pid, nil
}
