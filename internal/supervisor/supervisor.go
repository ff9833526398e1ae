// Package supervisor launches the external bot process and relaunches it
// after a policy-determined delay, indefinitely.
package supervisor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"botminder/internal/envset"
	"botminder/internal/logrotate"
)

// State represents where the supervisor is in its run loop
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateExited   State = "exited"
	StateBackoff  State = "backoff"
	StateStopped  State = "stopped"
)

// Backoff policy: fast retry on failure so the operator can watch the crash,
// slower retry on a clean exit to avoid a tight loop when a crash masquerades
// as a shutdown. Two fixed tiers, no cap on retries.
const (
	DefaultFailureDelay = 5 * time.Second
	DefaultCleanDelay   = 15 * time.Second
)

// Recorder persists run history. Satisfied by *db.DB; nil disables recording.
type Recorder interface {
	RecordRunStart(startedAt time.Time) (int64, error)
	RecordRunEnd(id int64, endedAt time.Time, exitCode int, restartDelay time.Duration) error
}

// Notifier is told about non-zero exits. Satisfied by the Telegram notifier;
// nil disables notifications.
type Notifier interface {
	NotifyCrash(ctx context.Context, exitCode int, delay time.Duration)
}

// Config carries everything the run loop needs. The resolved environment is
// threaded through explicitly; the supervisor never mutates the ambient
// process environment.
type Config struct {
	Command    []string
	Workdir    string
	LogPath    string
	LogMaxSize int64
	UsePty     bool

	// Delay overrides for tests; zero means the defaults above.
	FailureDelay time.Duration
	CleanDelay   time.Duration

	// ResolveEnv is called at every loop iteration so secrets-file edits
	// apply at the next relaunch.
	ResolveEnv func() (*envset.Set, error)

	// BaseEnv is the environment the resolved set is appended to.
	// Defaults to os.Environ().
	BaseEnv []string

	// Mirror receives the child's raw output alongside the log file.
	// Defaults to os.Stdout; set to io.Discard when detached.
	Mirror io.Writer

	Recorder Recorder
	Notifier Notifier
}

// Status is a point-in-time snapshot of the supervisor for IPC reporting.
type Status struct {
	State        State      `json:"state"`
	Pid          int        `json:"pid,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	LastExitCode *int       `json:"last_exit_code,omitempty"`
	Restarts     int        `json:"restarts"`
}

// Supervisor owns the bot process lifecycle. One active child at most; the
// log file is held exclusively between rotations.
type Supervisor struct {
	cfg Config

	mu           sync.RWMutex
	state        State
	pid          int
	startedAt    time.Time
	lastExitCode *int
	restarts     int
}

func New(cfg Config) (*Supervisor, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("supervisor: bot command is empty")
	}
	if cfg.ResolveEnv == nil {
		return nil, fmt.Errorf("supervisor: environment resolver is required")
	}
	if cfg.LogPath == "" {
		return nil, fmt.Errorf("supervisor: log path is required")
	}
	if cfg.LogMaxSize <= 0 {
		cfg.LogMaxSize = logrotate.DefaultMaxSize
	}
	if cfg.FailureDelay <= 0 {
		cfg.FailureDelay = DefaultFailureDelay
	}
	if cfg.CleanDelay <= 0 {
		cfg.CleanDelay = DefaultCleanDelay
	}
	if cfg.Mirror == nil {
		cfg.Mirror = os.Stdout
	}
	if cfg.BaseEnv == nil {
		cfg.BaseEnv = os.Environ()
	}
	return &Supervisor{cfg: cfg, state: StateStarting}, nil
}

// Status returns a snapshot of the current supervisor state.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		State:        s.state,
		Restarts:     s.restarts,
		LastExitCode: s.lastExitCode,
	}
	if s.state == StateRunning {
		st.Pid = s.pid
		started := s.startedAt
		st.StartedAt = &started
	}
	return st
}

// Run drives the Starting → Running → Exited → Backoff loop until the context
// is cancelled. The first environment resolution failure is fatal (a
// configuration error, reported before any child is spawned); later failures
// are logged and the last good environment is reused.
func (s *Supervisor) Run(ctx context.Context) error {
	var env *envset.Set

	for {
		s.setState(StateStarting)

		resolved, err := s.cfg.ResolveEnv()
		if err != nil {
			if env == nil {
				return fmt.Errorf("environment resolution failed: %w", err)
			}
			slog.Warn("Environment re-resolution failed, reusing previous environment", "error", err)
		} else {
			env = resolved
		}

		if err := os.MkdirAll(filepath.Dir(s.cfg.LogPath), 0o755); err != nil {
			return fmt.Errorf("unable to create log directory: %w", err)
		}
		if archived, err := logrotate.Rotate(s.cfg.LogPath, s.cfg.LogMaxSize); err != nil {
			slog.Warn("Log rotation failed", "error", err)
		} else if archived != "" {
			slog.Info("Rotated bot log", "archive", archived)
		}

		exitCode, runErr := s.runOnce(ctx, env)
		if runErr != nil && ctx.Err() == nil {
			slog.Error("Failed to launch bot process", "error", runErr)
			exitCode = -1
		}

		if ctx.Err() != nil {
			s.setState(StateStopped)
			return ctx.Err()
		}

		delay := s.backoffFor(exitCode)
		s.mu.Lock()
		s.state = StateBackoff
		code := exitCode
		s.lastExitCode = &code
		s.restarts++
		s.mu.Unlock()

		if exitCode != 0 && s.cfg.Notifier != nil {
			s.cfg.Notifier.NotifyCrash(ctx, exitCode, delay)
		}

		slog.Info("Bot exited, will relaunch",
			"exit_code", exitCode,
			"delay", delay)

		select {
		case <-ctx.Done():
			s.setState(StateStopped)
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// runOnce spawns the bot, tees its output, and blocks until it exits.
// Returns the child's real exit status, read from the process handle.
func (s *Supervisor) runOnce(ctx context.Context, env *envset.Set) (int, error) {
	logFile, err := os.OpenFile(s.cfg.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return -1, fmt.Errorf("unable to open log %s: %w", s.cfg.LogPath, err)
	}
	defer logFile.Close()

	tee := NewTee(logFile, s.cfg.Mirror)
	fmt.Fprintf(tee, "[botminder] launching: %s\n", strings.Join(s.cfg.Command, " "))

	cmd := exec.Command(s.cfg.Command[0], s.cfg.Command[1:]...)
	cmd.Dir = s.cfg.Workdir
	cmd.Env = env.Environ(s.cfg.BaseEnv)

	var ptmx *os.File
	if s.cfg.UsePty {
		// A pty keeps line-buffered interpreters flushing promptly
		ptmx, err = pty.Start(cmd)
		if err != nil {
			return -1, fmt.Errorf("unable to start bot on pty: %w", err)
		}
	} else {
		cmd.Stdout = tee
		cmd.Stderr = tee
		// Own process group so signals target the bot tree, not us
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		if err := cmd.Start(); err != nil {
			return -1, fmt.Errorf("unable to start bot: %w", err)
		}
	}

	s.mu.Lock()
	s.state = StateRunning
	s.pid = cmd.Process.Pid
	s.startedAt = time.Now()
	s.mu.Unlock()

	slog.Info("Bot process started", "pid", cmd.Process.Pid)

	var runID int64
	if s.cfg.Recorder != nil {
		if runID, err = s.cfg.Recorder.RecordRunStart(s.startTime()); err != nil {
			slog.Warn("Failed to record run start", "error", err)
			runID = 0
		}
	}

	drained := make(chan struct{})
	if ptmx != nil {
		// Drain the pty into the tee; the read fails once the child exits
		go func() {
			io.Copy(tee, ptmx)
			ptmx.Close()
			close(drained)
		}()
	} else {
		close(drained)
	}

	// Blocking join on the child; the exit is observed, never polled
	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	var werr error
	select {
	case werr = <-waitErr:
	case <-ctx.Done():
		Terminate(cmd.Process, GracefulTimeout, "bot")
		werr = <-waitErr
	}
	// Trailing pty output must land before the exit marker, and before the
	// log file closes
	<-drained
	tee.Flush()

	exitCode := 0
	if werr != nil {
		if exitErr, ok := werr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	s.mu.Lock()
	s.state = StateExited
	s.pid = 0
	s.mu.Unlock()

	fmt.Fprintf(tee, "[botminder] bot exited with code %d\n", exitCode)
	tee.Flush()

	if s.cfg.Recorder != nil && runID != 0 {
		delay := s.backoffFor(exitCode)
		if err := s.cfg.Recorder.RecordRunEnd(runID, time.Now(), exitCode, delay); err != nil {
			slog.Warn("Failed to record run end", "error", err)
		}
	}

	return exitCode, nil
}

func (s *Supervisor) backoffFor(exitCode int) time.Duration {
	if exitCode != 0 {
		return s.cfg.FailureDelay
	}
	return s.cfg.CleanDelay
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Supervisor) startTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedAt
}
