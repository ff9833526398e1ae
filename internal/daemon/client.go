package daemon

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nightlyone/lockfile"
	"github.com/shirou/gopsutil/v3/process"

	"botminder/internal/core"
	"botminder/internal/supervisor"
)

// StopPollAttempts bounds the graceful stop wait: ten one-second checks
// before the caller escalates to a forced kill.
const StopPollAttempts = 10

// SendCommand connects to the session, sends a command, and returns the response.
func SendCommand(command string) (Response, error) {
	response := Response{}

	conn, err := net.Dial("unix", core.GetSocketPath())
	if err != nil {
		return response, err
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(command + "\n")); err != nil {
		return response, fmt.Errorf("failed to send command to session: %w", err)
	}
	bytes, err := io.ReadAll(conn)
	if err != nil {
		return response, fmt.Errorf("failed to read response from session: %w", err)
	}

	if err := json.Unmarshal(bytes, &response); err != nil {
		return response, fmt.Errorf("failed to parse response from session: %w", err)
	}

	return response, nil
}

// IsRunning reports whether a live session answers on the socket.
func IsRunning() bool {
	_, err := SendCommand("STATUS")
	return err == nil
}

// StartSession spawns the detached session process. The caller must already
// have checked IsRunning; the daemon's lock still catches the race where two
// starts pass that check together.
func StartSession() error {
	logDir := core.GetLogDir()
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("unable to create log directory: %w", err)
	}

	// The session's own output (slog + env summary) lands in session.log;
	// the bot's output goes to bot.log via the supervisor's tee
	sessionLog, err := os.OpenFile(filepath.Join(logDir, "session.log"),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("unable to open session log: %w", err)
	}
	defer sessionLog.Close()

	cmd := sessionCommand()
	cmd.Stdout = sessionLog
	cmd.Stderr = sessionLog

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("could not fork session process: %w", err)
	}
	slog.Debug("Session process launched", "pid", cmd.Process.Pid)
	return cmd.Process.Release()
}

// sessionCommand builds the detached session invocation. The resolved config
// path is forwarded explicitly; the session must lock and listen in the same
// directory the invoking CLI polls, not whatever the flag default resolves to
// in the child.
func sessionCommand() *exec.Cmd {
	cmd := exec.Command(os.Args[0], "--config-path", core.GetConfigPath(), "session")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	return cmd
}

// WaitForSession polls until the session socket answers.
func WaitForSession() error {
	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		if IsRunning() {
			return nil
		}
	}
	return fmt.Errorf("session was launched but did not come up in time")
}

// WaitForSessionStop polls for up to attempts one-second checks until the
// session stops answering. Returns true when the session is gone.
func WaitForSessionStop(attempts int) bool {
	for i := 0; i < attempts; i++ {
		time.Sleep(1 * time.Second)
		if !IsRunning() {
			return true
		}
	}
	return false
}

// ForceStop terminates the session by the PID recorded in the lock file,
// SIGTERM first with a bounded wait, then SIGKILL. The PID record is removed
// once the process is confirmed gone.
func ForceStop() error {
	lock, err := lockfile.New(core.GetLockFilePath())
	if err != nil {
		return fmt.Errorf("unable to init session lock: %w", err)
	}

	owner, err := lock.GetOwner()
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no session PID record found")
		}
		return fmt.Errorf("unable to read session PID record: %w", err)
	}

	if err := supervisor.Terminate(owner, supervisor.GracefulTimeout, "session"); err != nil {
		return fmt.Errorf("unable to stop session (PID %d): %w", owner.Pid, err)
	}

	if alive, _ := process.PidExists(int32(owner.Pid)); alive {
		return fmt.Errorf("session (PID %d) still running after forced kill", owner.Pid)
	}

	// The session died without cleaning up; drop its stale records
	os.Remove(core.GetLockFilePath())
	os.Remove(core.GetSocketPath())
	return nil
}

// SessionPid reads the PID recorded in the lock file, 0 when absent.
func SessionPid() int {
	data, err := os.ReadFile(core.GetLockFilePath())
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}
