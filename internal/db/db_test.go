package db

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDB_OpenAndClose(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}

	if err := db.Close(); err != nil {
		t.Errorf("Failed to close database: %v", err)
	}
}

func TestDB_RunLifecycle(t *testing.T) {
	db := openTestDB(t)

	started := time.Now().Add(-3 * time.Second)
	id, err := db.RecordRunStart(started)
	if err != nil {
		t.Fatalf("RecordRunStart failed: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero run id")
	}

	if err := db.RecordRunEnd(id, time.Now(), 1, 5*time.Second); err != nil {
		t.Fatalf("RecordRunEnd failed: %v", err)
	}

	runs, err := db.RecentRuns(10)
	if err != nil {
		t.Fatalf("RecentRuns failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	run := runs[0]
	if !run.ExitCode.Valid || run.ExitCode.Int64 != 1 {
		t.Errorf("exit code = %+v, want 1", run.ExitCode)
	}
	if !run.RestartDelayMs.Valid || run.RestartDelayMs.Int64 != 5000 {
		t.Errorf("restart delay = %+v, want 5000ms", run.RestartDelayMs)
	}
	if !run.EndedAt.Valid {
		t.Error("ended_at should be set")
	}
}

func TestDB_RecentRunsNewestFirst(t *testing.T) {
	db := openTestDB(t)

	for i := 0; i < 3; i++ {
		if _, err := db.RecordRunStart(time.Now()); err != nil {
			t.Fatalf("RecordRunStart failed: %v", err)
		}
	}

	runs, err := db.RecentRuns(2)
	if err != nil {
		t.Fatalf("RecentRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID <= runs[1].ID {
		t.Errorf("expected newest first, got ids %d, %d", runs[0].ID, runs[1].ID)
	}
}

func TestDB_RunningRunHasNullExitCode(t *testing.T) {
	db := openTestDB(t)

	if _, err := db.RecordRunStart(time.Now()); err != nil {
		t.Fatalf("RecordRunStart failed: %v", err)
	}

	runs, err := db.RecentRuns(1)
	if err != nil {
		t.Fatalf("RecentRuns failed: %v", err)
	}
	if runs[0].ExitCode.Valid {
		t.Error("exit code should be null while the run is active")
	}
}

func TestDB_ProbeResults(t *testing.T) {
	db := openTestDB(t)

	if err := db.LogProbeResult("telegram", true, 200, 120*time.Millisecond, `{"ok":true}`); err != nil {
		t.Fatalf("LogProbeResult failed: %v", err)
	}
	if err := db.LogProbeResult("eodhd", false, 401, 80*time.Millisecond, "Unauthorized"); err != nil {
		t.Fatalf("LogProbeResult failed: %v", err)
	}

	results, err := db.RecentProbeResults(10)
	if err != nil {
		t.Fatalf("RecentProbeResults failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Target != "eodhd" || results[0].OK {
		t.Errorf("unexpected newest result: %+v", results[0])
	}
	if results[1].StatusCode != 200 || results[1].LatencyMs != 120 {
		t.Errorf("unexpected older result: %+v", results[1])
	}
}

func TestDB_SessionEvents(t *testing.T) {
	db := openTestDB(t)

	if err := db.LogSessionEvent("start", "session started, PID: 1234"); err != nil {
		t.Fatalf("LogSessionEvent failed: %v", err)
	}

	events, err := db.RecentSessionEvents(5)
	if err != nil {
		t.Fatalf("RecentSessionEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].EventType != "start" {
		t.Errorf("unexpected events: %+v", events)
	}
}
