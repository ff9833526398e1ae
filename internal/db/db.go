// Package db persists supervised-run history, probe results and session
// lifecycle events in a local SQLite database.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database connection and provides logging methods
type DB struct {
	conn *sql.DB
	path string
}

// Open opens or creates the SQLite database at the specified path
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	db := &DB{
		conn: conn,
		path: path,
	}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.conn != nil {
		// Checkpoint the WAL to ensure all data is written to the main database file
		db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return db.conn.Close()
	}
	return nil
}

func (db *DB) initSchema() error {
	schema := `
	-- One row per invocation of the supervised bot process
	CREATE TABLE IF NOT EXISTS supervised_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at DATETIME NOT NULL,
		ended_at DATETIME,
		exit_code INTEGER,
		restart_delay_ms INTEGER
	);

	-- One row per health probe of an external API
	CREATE TABLE IF NOT EXISTS probe_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		target TEXT NOT NULL,
		ok INTEGER NOT NULL,
		status_code INTEGER,
		latency_ms INTEGER,
		detail TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Session lifecycle events
	CREATE TABLE IF NOT EXISTS session_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		details TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_supervised_runs_started ON supervised_runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_probe_results_timestamp ON probe_results(timestamp);
	CREATE INDEX IF NOT EXISTS idx_probe_results_target ON probe_results(target);
	CREATE INDEX IF NOT EXISTS idx_session_events_timestamp ON session_events(timestamp);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Run represents one invocation of the supervised bot process
type Run struct {
	ID             int64
	StartedAt      time.Time
	EndedAt        sql.NullTime
	ExitCode       sql.NullInt64
	RestartDelayMs sql.NullInt64
}

// RecordRunStart inserts a new run row and returns its id
func (db *DB) RecordRunStart(startedAt time.Time) (int64, error) {
	res, err := db.conn.Exec(
		`INSERT INTO supervised_runs (started_at) VALUES (?)`,
		startedAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecordRunEnd closes a run row with its exit code and the backoff chosen
func (db *DB) RecordRunEnd(id int64, endedAt time.Time, exitCode int, restartDelay time.Duration) error {
	_, err := db.conn.Exec(
		`UPDATE supervised_runs SET ended_at = ?, exit_code = ?, restart_delay_ms = ? WHERE id = ?`,
		endedAt, exitCode, restartDelay.Milliseconds(), id,
	)
	return err
}

// RecentRuns retrieves the most recent runs, newest first
func (db *DB) RecentRuns(limit int) ([]Run, error) {
	rows, err := db.conn.Query(
		`SELECT id, started_at, ended_at, exit_code, restart_delay_ms
		 FROM supervised_runs
		 ORDER BY id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.EndedAt, &r.ExitCode, &r.RestartDelayMs); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ProbeResult represents one health probe of an external API
type ProbeResult struct {
	ID         int64
	Target     string
	OK         bool
	StatusCode int
	LatencyMs  int64
	Detail     string
	Timestamp  time.Time
}

// LogProbeResult records the outcome of a single probe
func (db *DB) LogProbeResult(target string, ok bool, statusCode int, latency time.Duration, detail string) error {
	_, err := db.conn.Exec(
		`INSERT INTO probe_results (target, ok, status_code, latency_ms, detail, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		target, ok, statusCode, latency.Milliseconds(), detail, time.Now(),
	)
	return err
}

// RecentProbeResults retrieves recent probe results, newest first
func (db *DB) RecentProbeResults(limit int) ([]ProbeResult, error) {
	rows, err := db.conn.Query(
		`SELECT id, target, ok, status_code, latency_ms, detail, timestamp
		 FROM probe_results
		 ORDER BY id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ProbeResult
	for rows.Next() {
		var r ProbeResult
		if err := rows.Scan(&r.ID, &r.Target, &r.OK, &r.StatusCode, &r.LatencyMs, &r.Detail, &r.Timestamp); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// SessionEvent represents a session lifecycle event
type SessionEvent struct {
	ID        int64
	EventType string
	Details   string
	Timestamp time.Time
}

// LogSessionEvent logs a session lifecycle event to the database
func (db *DB) LogSessionEvent(eventType, details string) error {
	_, err := db.conn.Exec(
		`INSERT INTO session_events (event_type, details, timestamp)
		 VALUES (?, ?, ?)`,
		eventType, details, time.Now(),
	)
	return err
}

// RecentSessionEvents retrieves recent session events, newest first
func (db *DB) RecentSessionEvents(limit int) ([]SessionEvent, error) {
	rows, err := db.conn.Query(
		`SELECT id, event_type, details, timestamp
		 FROM session_events
		 ORDER BY id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []SessionEvent
	for rows.Next() {
		var e SessionEvent
		if err := rows.Scan(&e.ID, &e.EventType, &e.Details, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
