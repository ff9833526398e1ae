package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"botminder/internal/envset"
)

func quietLogger(t *testing.T) {
	t.Helper()
	old := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { slog.SetDefault(old) })
}

func testEnv(t *testing.T) *envset.Set {
	t.Helper()
	set, err := envset.Resolve(map[string]string{
		"TELEGRAM_BOT_TOKEN":  "123:abc",
		"TWELVE_DATA_API_KEY": "td-key",
	}, nil)
	if err != nil {
		t.Fatalf("failed to build test env: %v", err)
	}
	return set
}

type fakeRecorder struct {
	mu     sync.Mutex
	starts int
	ends   []struct {
		exitCode int
		delay    time.Duration
	}
}

func (r *fakeRecorder) RecordRunStart(time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
	return int64(r.starts), nil
}

func (r *fakeRecorder) RecordRunEnd(_ int64, _ time.Time, exitCode int, delay time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ends = append(r.ends, struct {
		exitCode int
		delay    time.Duration
	}{exitCode, delay})
	return nil
}

func testConfig(t *testing.T, command ...string) Config {
	t.Helper()
	return Config{
		Command:      command,
		LogPath:      filepath.Join(t.TempDir(), "bot.log"),
		FailureDelay: 50 * time.Millisecond,
		CleanDelay:   150 * time.Millisecond,
		Mirror:       io.Discard,
		ResolveEnv:   func() (*envset.Set, error) { return testEnv(t), nil },
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for empty command")
	}

	cfg := Config{Command: []string{"true"}}
	if _, err := New(cfg); err == nil {
		t.Error("expected error for missing environment resolver")
	}
}

func TestRun_FatalOnFirstResolutionFailure(t *testing.T) {
	quietLogger(t)

	cfg := testConfig(t, "true")
	cfg.ResolveEnv = func() (*envset.Set, error) {
		return nil, envset.ErrMissingToken
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	err = s.Run(context.Background())
	if !errors.Is(err, envset.ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}

	// No child was spawned, so no log file was created
	if _, statErr := os.Stat(cfg.LogPath); !os.IsNotExist(statErr) {
		t.Error("no log should exist when resolution fails before spawn")
	}
}

func TestRun_RestartsAfterFailureWithFastDelay(t *testing.T) {
	quietLogger(t)

	rec := &fakeRecorder{}
	cfg := testConfig(t, "sh", "-c", "exit 1")
	cfg.Recorder = rec
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Run(ctx)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.starts < 2 {
		t.Fatalf("expected at least 2 runs, got %d", rec.starts)
	}
	for _, end := range rec.ends {
		if end.exitCode != 1 {
			t.Errorf("exit code = %d, want 1", end.exitCode)
		}
		if end.delay != 50*time.Millisecond {
			t.Errorf("failure delay = %v, want 50ms", end.delay)
		}
	}
}

func TestRun_CleanExitUsesSlowerDelay(t *testing.T) {
	quietLogger(t)

	rec := &fakeRecorder{}
	cfg := testConfig(t, "true")
	cfg.Recorder = rec
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Run(ctx)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.ends) == 0 {
		t.Fatal("expected at least one completed run")
	}
	for _, end := range rec.ends {
		if end.exitCode != 0 {
			t.Errorf("exit code = %d, want 0", end.exitCode)
		}
		if end.delay != 150*time.Millisecond {
			t.Errorf("clean delay = %v, want 150ms", end.delay)
		}
	}
}

func TestRun_BackoffTierSelection(t *testing.T) {
	s, err := New(testConfig(t, "true"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if got := s.backoffFor(1); got != 50*time.Millisecond {
		t.Errorf("backoffFor(1) = %v, want failure delay", got)
	}
	if got := s.backoffFor(0); got != 150*time.Millisecond {
		t.Errorf("backoffFor(0) = %v, want clean delay", got)
	}
	if got := s.backoffFor(-1); got != 50*time.Millisecond {
		t.Errorf("backoffFor(-1) = %v, want failure delay", got)
	}
}

func TestRun_DefaultBackoffTiers(t *testing.T) {
	cfg := testConfig(t, "true")
	cfg.FailureDelay = 0
	cfg.CleanDelay = 0
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if got := s.backoffFor(1); got != DefaultFailureDelay {
		t.Errorf("default failure delay = %v, want %v", got, DefaultFailureDelay)
	}
	if got := s.backoffFor(0); got != DefaultCleanDelay {
		t.Errorf("default clean delay = %v, want %v", got, DefaultCleanDelay)
	}
}

func TestRun_ChildOutputReachesLogWithTimestamps(t *testing.T) {
	quietLogger(t)

	cfg := testConfig(t, "sh", "-c", "echo hello from bot")
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Run(ctx)

	content, err := os.ReadFile(cfg.LogPath)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	out := string(content)
	if !strings.Contains(out, "hello from bot") {
		t.Errorf("log missing child output:\n%s", out)
	}
	if !strings.Contains(out, "[botminder] launching: sh -c echo hello from bot") {
		t.Errorf("log missing launch marker:\n%s", out)
	}

	// Every line carries a UTC timestamp prefix
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if len(line) < len(time.DateTime) {
			t.Errorf("line too short for timestamp prefix: %q", line)
			continue
		}
		if _, err := time.Parse(time.DateTime, line[:len(time.DateTime)]); err != nil {
			t.Errorf("line missing timestamp prefix: %q", line)
		}
	}
}

func TestRun_PtyOutputPrecedesExitMarker(t *testing.T) {
	quietLogger(t)

	cfg := testConfig(t, "sh", "-c", "echo pty says hi")
	cfg.UsePty = true
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Run(ctx)

	content, err := os.ReadFile(cfg.LogPath)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	out := string(content)

	outputIdx := strings.Index(out, "pty says hi")
	markerIdx := strings.Index(out, "[botminder] bot exited with code 0")
	if outputIdx < 0 {
		t.Fatalf("log missing pty output:\n%s", out)
	}
	if markerIdx < 0 {
		t.Fatalf("log missing exit marker:\n%s", out)
	}
	if outputIdx > markerIdx {
		t.Errorf("child output landed after the exit marker:\n%s", out)
	}
}

func TestRun_StderrInterleavedIntoSameLog(t *testing.T) {
	quietLogger(t)

	cfg := testConfig(t, "sh", "-c", "echo out; echo err 1>&2")
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Run(ctx)

	content, err := os.ReadFile(cfg.LogPath)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	if !strings.Contains(string(content), "out") || !strings.Contains(string(content), "err") {
		t.Errorf("log missing combined stdout/stderr:\n%s", content)
	}
}

func TestRun_CancelWhileRunningTerminatesChild(t *testing.T) {
	quietLogger(t)

	cfg := testConfig(t, "sleep", "60")
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Wait for the child to come up
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Status().State == StateRunning {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if s.Status().State != StateRunning {
		t.Fatal("supervisor never reached running state")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop after cancel")
	}
	if got := s.Status().State; got != StateStopped {
		t.Errorf("state after cancel = %q, want stopped", got)
	}
}

func TestRun_SpawnFailureRetriesWithFailureDelay(t *testing.T) {
	quietLogger(t)

	rec := &fakeRecorder{}
	cfg := testConfig(t, "/nonexistent/botminder-test-binary")
	cfg.Recorder = rec
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err = s.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run returned %v, want deadline exceeded (spawn failures are retried, not fatal)", err)
	}
}

func TestStatus_Snapshot(t *testing.T) {
	quietLogger(t)

	s, err := New(testConfig(t, "sleep", "60"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	st := s.Status()
	if st.State != StateStarting {
		t.Errorf("initial state = %q, want starting", st.State)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st = s.Status()
		if st.State == StateRunning {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if st.State != StateRunning {
		t.Fatal("supervisor never reached running state")
	}
	if st.Pid == 0 {
		t.Error("running status should expose the child pid")
	}
	if st.StartedAt == nil {
		t.Error("running status should expose the start time")
	}
}
