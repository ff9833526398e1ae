// Package daemon hosts the supervisor inside a named, detachable session: a
// background process guarded by a PID lock, reachable over a unix socket for
// status queries and graceful shutdown.
package daemon

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/lmittmann/tint"
	"github.com/nightlyone/lockfile"
	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/term"

	"botminder/internal/core"
	"botminder/internal/db"
	"botminder/internal/envset"
	"botminder/internal/keyring"
	"botminder/internal/notify"
	"botminder/internal/supervisor"
)

// Daemon is the session process. At most one per config directory, enforced
// by an advisory lock taken before the socket is created - this closes the
// check-then-act window between two concurrent starts.
type Daemon struct {
	ctx    context.Context
	cancel context.CancelFunc

	lock     lockfile.Lockfile
	listener net.Listener
	database *db.DB
	sup      *supervisor.Supervisor
	supDone  chan struct{}

	shutdownOnce sync.Once
}

func New() *Daemon {
	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		ctx:     ctx,
		cancel:  cancel,
		supDone: make(chan struct{}),
	}
}

func (d *Daemon) setupLogging() {
	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.DateTime,
	})
	slog.SetDefault(slog.New(handler))
}

// Run brings the session up and serves IPC until stopped. Configuration
// errors are fatal here, before any bot process is spawned.
func (d *Daemon) Run() error {
	d.setupLogging()

	// Resolve once up-front so a broken secrets file fails the session
	// start instead of surfacing later inside the restart loop
	envPath := core.GetEnvFilePath()
	env, err := envset.LoadWithFallback(envPath, keyring.Fallback)
	if err != nil {
		return err
	}
	env.Summary(os.Stdout)

	if err := os.MkdirAll(core.GetConfigPath(), 0o755); err != nil {
		return fmt.Errorf("unable to create config directory: %w", err)
	}

	// The lock doubles as the PID record; a second session start fails
	// here before touching the socket
	lock, err := lockfile.New(core.GetLockFilePath())
	if err != nil {
		return fmt.Errorf("unable to init session lock: %w", err)
	}
	if err := lock.TryLock(); err != nil {
		return fmt.Errorf("session already running or lock unavailable: %w", err)
	}
	d.lock = lock
	defer d.lock.Unlock()

	database, err := db.Open(core.GetDBPath())
	if err != nil {
		slog.Error("Failed to open database, continuing without run history", "error", err)
	} else {
		d.database = database
		version := core.FormatVersion(core.Version)
		if err := d.database.LogSessionEvent("start", fmt.Sprintf("session started - version: %s, PID: %d", version, os.Getpid())); err != nil {
			slog.Error("Failed to log session start", "error", err)
		}
	}

	sup, err := d.buildSupervisor(env, envPath)
	if err != nil {
		return err
	}
	d.sup = sup

	// The socket only comes up once the supervisor exists, so an early
	// STATUS cannot observe a half-built session
	listener, err := d.createListener(core.GetSocketPath())
	if err != nil {
		return err
	}
	d.listener = listener
	defer os.Remove(core.GetSocketPath())
	slog.Info(fmt.Sprintf("Session listening on %s", core.GetSocketPath()))

	go func() {
		err := sup.Run(d.ctx)
		close(d.supDone)
		if err != nil && d.ctx.Err() == nil {
			// A fatal supervisor error (bad secrets rewrite at first
			// resolve) means the session has nothing left to host
			slog.Error("Supervisor terminated", "error", err)
			go d.Shutdown()
		}
	}()

	d.watchEnvFile(envPath)

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-shutdownChan
		slog.Info("Shutdown signal received, stopping bot")
		d.Shutdown()
	}()

	for {
		conn, err := d.listener.Accept()
		if err != nil {
			if !strings.Contains(err.Error(), "use of closed network connection") {
				slog.Info(fmt.Sprintf("Error accepting connection: %v", err))
			}
			break
		}
		go d.handleConnection(conn)
	}

	// Accept loop ends when Shutdown closed the listener; make sure the
	// teardown ran even if we got here via an accept error
	d.Shutdown()
	return nil
}

func (d *Daemon) createListener(socketPath string) (net.Listener, error) {
	listener, err := net.Listen("unix", socketPath)
	if err == nil {
		return listener, nil
	}

	// Socket creation failed - this could be due to a stale socket file
	if _, statErr := os.Stat(socketPath); statErr == nil {
		conn, dialErr := net.Dial("unix", socketPath)
		if dialErr == nil {
			conn.Close()
			return nil, fmt.Errorf("session is already running")
		}
		slog.Info(fmt.Sprintf("Removing stale socket file: %s", socketPath))
		if removeErr := os.Remove(socketPath); removeErr != nil {
			return nil, fmt.Errorf("could not remove stale socket: %w", removeErr)
		}
		return net.Listen("unix", socketPath)
	}
	return nil, fmt.Errorf("could not create socket listener: %w", err)
}

func (d *Daemon) buildSupervisor(env *envset.Set, envPath string) (*supervisor.Supervisor, error) {
	// Bot output mirrors to the terminal only when the session runs in the
	// foreground; detached sessions keep it in bot.log alone
	mirror := io.Writer(io.Discard)
	if term.IsTerminal(int(os.Stdout.Fd())) {
		mirror = os.Stdout
	}

	cfg := supervisor.Config{
		Command:    core.GetBotCommand(),
		Workdir:    core.GetBotWorkdir(),
		LogPath:    core.GetBotLogPath(),
		LogMaxSize: core.GetLogMaxSize(),
		UsePty:     core.GetBotUsePty(),
		Mirror:     mirror,
		ResolveEnv: func() (*envset.Set, error) {
			return envset.LoadWithFallback(envPath, keyring.Fallback)
		},
	}
	if d.database != nil {
		cfg.Recorder = d.database
	}
	if core.GetNotifyEnabled() && env.Has("TELEGRAM_CHAT_ID") {
		notifier, err := notify.NewTelegram(env.Get("TELEGRAM_BOT_TOKEN"), env.Get("TELEGRAM_CHAT_ID"))
		if err != nil {
			slog.Warn("Crash notifications disabled", "error", err)
		} else {
			cfg.Notifier = notifier
		}
	}
	return supervisor.New(cfg)
}

// watchEnvFile logs when the secrets file changes. The new values apply at
// the next relaunch because the supervisor re-resolves per iteration.
func (d *Daemon) watchEnvFile(envPath string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("Unable to watch secrets file", "error", err)
		return
	}
	if err := watcher.Add(filepath.Dir(envPath)); err != nil {
		slog.Warn("Unable to watch secrets file", "error", err)
		watcher.Close()
		return
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-d.ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != envPath {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					slog.Info("Secrets file changed, new values apply at next bot relaunch")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("Secrets file watcher error", "error", err)
			}
		}
	}()
}

// Shutdown stops the supervisor (terminating the active bot gracefully),
// flushes the event log and closes the socket. Safe to call more than once.
func (d *Daemon) Shutdown() {
	d.shutdownOnce.Do(func() {
		d.cancel()

		select {
		case <-d.supDone:
		case <-time.After(supervisor.GracefulTimeout + 5*time.Second):
			slog.Error("Supervisor did not stop within the graceful window")
		}

		if d.database != nil {
			d.database.LogSessionEvent("stop", fmt.Sprintf("session stopped, PID: %d", os.Getpid()))
			d.database.Close()
		}
		if d.listener != nil {
			d.listener.Close()
		}
	})
}

func (d *Daemon) handleConnection(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		return
	}
	command := strings.TrimSpace(line)

	var response Response
	switch command {
	case "STATUS":
		response = d.getStatus()
	case "VERSION":
		response = d.getVersion()
	case "RUNS":
		response = d.getRuns()
	case "STOP":
		response.AddMessage("Stopping session", "INFO")
		go d.Shutdown()
	default:
		response.AddMessage(fmt.Sprintf("Unknown command: %s", command), "ERROR")
	}

	conn.Write([]byte(response.ToJSON()))
}

func (d *Daemon) getStatus() Response {
	response := Response{}

	status := d.sup.Status()
	data := map[string]interface{}{
		"session_pid": os.Getpid(),
		"state":       string(status.State),
		"restarts":    status.Restarts,
	}
	if status.LastExitCode != nil {
		data["last_exit_code"] = *status.LastExitCode
	}
	if status.Pid != 0 {
		data["bot_pid"] = status.Pid
		if status.StartedAt != nil {
			data["bot_uptime"] = time.Since(*status.StartedAt).Round(time.Second).String()
		}
		// Best effort resource numbers; the bot may exit mid-query
		if proc, err := process.NewProcess(int32(status.Pid)); err == nil {
			if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
				data["bot_rss_bytes"] = mem.RSS
			}
			if cpu, err := proc.CPUPercent(); err == nil {
				data["bot_cpu_percent"] = cpu
			}
		}
	}
	response.AddData(data)
	return response
}

func (d *Daemon) getVersion() Response {
	response := Response{}
	response.AddData(map[string]interface{}{
		"version": core.FormatVersion(core.Version),
		"pid":     os.Getpid(),
	})
	return response
}

func (d *Daemon) getRuns() Response {
	response := Response{}
	if d.database == nil {
		response.AddMessage("Run history unavailable (database failed to open)", "WARN")
		return response
	}

	runs, err := d.database.RecentRuns(20)
	if err != nil {
		response.AddMessage(fmt.Sprintf("Failed to read run history: %v", err), "ERROR")
		return response
	}

	entries := make([]map[string]interface{}, 0, len(runs))
	for _, run := range runs {
		entry := map[string]interface{}{
			"id":         run.ID,
			"started_at": run.StartedAt.Format(time.RFC3339),
		}
		if run.EndedAt.Valid {
			entry["ended_at"] = run.EndedAt.Time.Format(time.RFC3339)
		}
		if run.ExitCode.Valid {
			entry["exit_code"] = run.ExitCode.Int64
		}
		if run.RestartDelayMs.Valid {
			entry["restart_delay_ms"] = run.RestartDelayMs.Int64
		}
		entries = append(entries, entry)
	}
	response.AddData(entries)
	return response
}
