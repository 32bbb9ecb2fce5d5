// Package state persists coordination snapshots and final results to SQLite.
// Persistence is write-behind: the scheduler hands snapshots to an async
// writer and never waits on disk.
package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/voyagerhq/voyager/internal/coord"
	"github.com/voyagerhq/voyager/pkg/models"
)

// ErrNotFound indicates no stored record for the request.
var ErrNotFound = errors.New("not found")

// SnapshotStore persists and retrieves coordination snapshots.
type SnapshotStore interface {
	SaveSnapshot(snap coord.Snapshot) error
	GetSnapshot(requestID string) (*coord.Snapshot, error)
}

// ResultStore persists and retrieves final request results.
type ResultStore interface {
	SaveResult(result *models.RequestResult) error
	GetResult(requestID string) (*models.RequestResult, error)
	ListResults() ([]*models.RequestResult, error)
}

// Store combines all persistence capabilities.
type Store interface {
	SnapshotStore
	ResultStore
	Close() error
}

// Compile-time interface checks.
var (
	_ SnapshotStore = (*DB)(nil)
	_ ResultStore   = (*DB)(nil)
	_ Store         = (*DB)(nil)
)

// DB wraps an SQLite database connection.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DefaultDBPath returns the path to the default database file.
func DefaultDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "voyager", "voyager.db")
}

// Open opens an SQLite database at the given path, creating parent
// directories as needed. WAL mode is enabled for concurrent reads.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &DB{conn: conn, path: path}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Snapshots},
		{2, migrationV2Results},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}
	return nil
}

const migrationV1Snapshots = `
CREATE TABLE IF NOT EXISTS snapshots (
	request_id TEXT PRIMARY KEY,
	version INTEGER NOT NULL,
	taken_at DATETIME NOT NULL,
	locks TEXT
);

CREATE TABLE IF NOT EXISTS snapshot_tasks (
	request_id TEXT NOT NULL,
	task_id TEXT NOT NULL,
	type TEXT NOT NULL,
	priority INTEGER NOT NULL,
	status TEXT NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	assigned_worker TEXT,
	error TEXT,
	seq INTEGER NOT NULL,
	PRIMARY KEY (request_id, task_id)
);

CREATE INDEX IF NOT EXISTS idx_snapshot_tasks_request ON snapshot_tasks(request_id);
CREATE INDEX IF NOT EXISTS idx_snapshot_tasks_status ON snapshot_tasks(status);
`

const migrationV2Results = `
CREATE TABLE IF NOT EXISTS results (
	request_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	error TEXT,
	components TEXT,
	unresolved TEXT,
	completed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_results_status ON results(status);
`

// SaveSnapshot stores the latest snapshot for a request, replacing any older
// one. Stale writes (version lower than what is stored) are skipped so the
// stored view never moves backward.
func (db *DB) SaveSnapshot(snap coord.Snapshot) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var stored sql.NullInt64
	row := tx.QueryRow("SELECT version FROM snapshots WHERE request_id = ?", snap.RequestID)
	if err := row.Scan(&stored); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read stored version: %w", err)
	}
	if stored.Valid && uint64(stored.Int64) > snap.Version {
		return nil
	}

	locksJSON, err := json.Marshal(snap.Locks)
	if err != nil {
		return fmt.Errorf("marshal locks: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO snapshots (request_id, version, taken_at, locks)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(request_id) DO UPDATE SET
			version = excluded.version,
			taken_at = excluded.taken_at,
			locks = excluded.locks
	`, snap.RequestID, snap.Version, formatTime(snap.TakenAt), string(locksJSON)); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM snapshot_tasks WHERE request_id = ?", snap.RequestID); err != nil {
		return fmt.Errorf("clear snapshot tasks: %w", err)
	}
	for _, task := range snap.Tasks {
		if _, err := tx.Exec(`
			INSERT INTO snapshot_tasks
				(request_id, task_id, type, priority, status, retry_count, assigned_worker, error, seq)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, snap.RequestID, task.ID, string(task.Type), int(task.Priority), string(task.Status),
			task.RetryCount, task.AssignedWorker, task.Error, task.Seq); err != nil {
			return fmt.Errorf("store snapshot task %s: %w", task.ID, err)
		}
	}

	return tx.Commit()
}

// GetSnapshot returns the stored snapshot for a request.
func (db *DB) GetSnapshot(requestID string) (*coord.Snapshot, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var (
		version   uint64
		takenAt   string
		locksJSON sql.NullString
	)
	row := db.conn.QueryRow("SELECT version, taken_at, locks FROM snapshots WHERE request_id = ?", requestID)
	if err := row.Scan(&version, &takenAt, &locksJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: snapshot for request %s", ErrNotFound, requestID)
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	snap := &coord.Snapshot{
		RequestID: requestID,
		Version:   version,
	}
	if t, err := parseTime(takenAt); err == nil {
		snap.TakenAt = t
	}
	if locksJSON.Valid && locksJSON.String != "" {
		if err := json.Unmarshal([]byte(locksJSON.String), &snap.Locks); err != nil {
			return nil, fmt.Errorf("unmarshal locks: %w", err)
		}
	}

	rows, err := db.conn.Query(`
		SELECT task_id, type, priority, status, retry_count, assigned_worker, error, seq
		FROM snapshot_tasks WHERE request_id = ? ORDER BY seq
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("read snapshot tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			task     models.Task
			taskType string
			priority int
			status   string
			worker   sql.NullString
			taskErr  sql.NullString
		)
		if err := rows.Scan(&task.ID, &taskType, &priority, &status,
			&task.RetryCount, &worker, &taskErr, &task.Seq); err != nil {
			return nil, fmt.Errorf("scan snapshot task: %w", err)
		}
		task.RequestID = requestID
		task.Type = models.AgentType(taskType)
		task.Priority = models.Priority(priority)
		task.Status = models.TaskStatus(status)
		task.AssignedWorker = worker.String
		task.Error = taskErr.String
		snap.Tasks = append(snap.Tasks, task)
	}
	return snap, rows.Err()
}

// SaveResult stores the final result for a request.
func (db *DB) SaveResult(result *models.RequestResult) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	componentsJSON, err := json.Marshal(result.Components)
	if err != nil {
		return fmt.Errorf("marshal components: %w", err)
	}
	unresolvedJSON, err := json.Marshal(result.Unresolved)
	if err != nil {
		return fmt.Errorf("marshal unresolved: %w", err)
	}

	if _, err := db.conn.Exec(`
		INSERT INTO results (request_id, status, error, components, unresolved, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			components = excluded.components,
			unresolved = excluded.unresolved,
			completed_at = excluded.completed_at
	`, result.RequestID, string(result.Status), result.Error,
		string(componentsJSON), string(unresolvedJSON), formatTime(result.CompletedAt)); err != nil {
		return fmt.Errorf("store result: %w", err)
	}
	return nil
}

// GetResult returns the stored result for a request.
func (db *DB) GetResult(requestID string) (*models.RequestResult, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	row := db.conn.QueryRow(`
		SELECT request_id, status, error, components, unresolved, completed_at
		FROM results WHERE request_id = ?
	`, requestID)
	result, err := scanResult(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: result for request %s", ErrNotFound, requestID)
		}
		return nil, err
	}
	return result, nil
}

// ListResults returns every stored result, most recent first.
func (db *DB) ListResults() ([]*models.RequestResult, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`
		SELECT request_id, status, error, components, unresolved, completed_at
		FROM results ORDER BY completed_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var results []*models.RequestResult
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// PurgeOldResults deletes results completed before the cutoff.
// Returns the number of rows deleted.
func (db *DB) PurgeOldResults(olderThan time.Duration) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	cutoff := formatTime(time.Now().Add(-olderThan))
	res, err := db.conn.Exec("DELETE FROM results WHERE completed_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge old results: %w", err)
	}
	return res.RowsAffected()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanResult(s scanner) (*models.RequestResult, error) {
	var (
		result         models.RequestResult
		status         string
		errText        sql.NullString
		componentsJSON sql.NullString
		unresolvedJSON sql.NullString
		completedAt    string
	)
	if err := s.Scan(&result.RequestID, &status, &errText,
		&componentsJSON, &unresolvedJSON, &completedAt); err != nil {
		return nil, err
	}
	result.Status = models.RequestStatus(status)
	result.Error = errText.String
	if componentsJSON.Valid && componentsJSON.String != "" {
		if err := json.Unmarshal([]byte(componentsJSON.String), &result.Components); err != nil {
			return nil, fmt.Errorf("unmarshal components: %w", err)
		}
	}
	if unresolvedJSON.Valid && unresolvedJSON.String != "" {
		if err := json.Unmarshal([]byte(unresolvedJSON.String), &result.Unresolved); err != nil {
			return nil, fmt.Errorf("unmarshal unresolved: %w", err)
		}
	}
	if t, err := parseTime(completedAt); err == nil {
		result.CompletedAt = t
	}
	return &result, nil
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
