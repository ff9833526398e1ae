package supervisor

import (
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"
)

// GracefulTimeout bounds the wait between SIGTERM and SIGKILL: ten one-second
// checks before escalating.
const GracefulTimeout = 10 * time.Second

// Terminate sends SIGTERM to the process group first, waits for graceful
// exit, then falls back to SIGKILL. Returns nil if the process terminated
// gracefully, or the kill error if force kill was needed.
//
// Uses Signal(0) polling instead of Wait() because the caller may not be the
// parent of the process being stopped (e.g. stopping a session from a second
// invocation).
func Terminate(process *os.Process, timeout time.Duration, label string) error {
	// Signal the whole group so the bot's own children get the signal too
	if err := syscall.Kill(-process.Pid, syscall.SIGTERM); err != nil {
		if err := process.Signal(syscall.SIGTERM); err != nil {
			if err == os.ErrProcessDone {
				return nil
			}
			slog.Warn(fmt.Sprintf("Failed to send SIGTERM to %s, forcing kill", label), "error", err)
			return process.Kill()
		}
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := process.Signal(syscall.Signal(0)); err != nil {
			// Process is dead (ESRCH or similar)
			slog.Info(fmt.Sprintf("Process %s terminated gracefully", label))
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	// Timeout - force kill the group
	slog.Warn(fmt.Sprintf("Process %s did not exit within %v, forcing kill", label, timeout))
	syscall.Kill(-process.Pid, syscall.SIGKILL)
	if err := process.Kill(); err != nil && err != os.ErrProcessDone {
		return err
	}

	time.Sleep(100 * time.Millisecond)
	if err := process.Signal(syscall.Signal(0)); err == nil {
		slog.Error(fmt.Sprintf("Process %s survived SIGKILL", label))
		return fmt.Errorf("process survived SIGKILL")
	}

	return nil
}
