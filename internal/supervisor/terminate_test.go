package supervisor

import (
	"os/exec"
	"syscall"
	"testing"
	"time"
)

func TestTerminate_ProcessAlreadyDone(t *testing.T) {
	quietLogger(t)

	cmd := exec.Command("true")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start process: %v", err)
	}
	cmd.Wait()

	err := Terminate(cmd.Process, 5*time.Second, "test-done")
	if err != nil {
		t.Errorf("expected nil error for already-done process, got: %v", err)
	}
}

func TestTerminate_ProcessExitsGracefully(t *testing.T) {
	quietLogger(t)

	cmd := exec.Command("sleep", "60")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start process: %v", err)
	}
	go cmd.Wait()
	t.Cleanup(func() { cmd.Process.Kill() })

	err := Terminate(cmd.Process, 5*time.Second, "test-graceful")
	if err != nil {
		t.Errorf("expected nil error, got: %v", err)
	}
}

func TestTerminate_ForcedKillAfterBoundedWait(t *testing.T) {
	quietLogger(t)

	// Child ignores SIGTERM, so Terminate must escalate to SIGKILL
	cmd := exec.Command("sh", "-c", "trap '' TERM; while true; do sleep 1; done")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start process: %v", err)
	}
	go cmd.Wait()
	t.Cleanup(func() { cmd.Process.Kill() })

	// Give the shell time to install its TERM trap; signalling earlier
	// would kill it before it starts ignoring SIGTERM.
	time.Sleep(200 * time.Millisecond)

	start := time.Now()
	err := Terminate(cmd.Process, 500*time.Millisecond, "test-stubborn")
	if err != nil {
		t.Errorf("expected nil error after forced kill, got: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 500*time.Millisecond {
		t.Errorf("Terminate returned before the graceful window elapsed: %v", elapsed)
	}

	// Process must be gone
	time.Sleep(200 * time.Millisecond)
	if err := cmd.Process.Signal(syscall.Signal(0)); err == nil {
		t.Error("process still alive after forced kill")
	}
}
