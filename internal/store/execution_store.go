// Package store persists the audit trail: an append-only execution log
// in execution_log.db and an optional code graph in codegraph.db.
//
// Both databases use SQLite in WAL mode so independent readers are not
// blocked by in-flight writes. The executor borrows one ExecutionStore
// handle for the duration of a single plan; evidence queries open their
// own read connections.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"stepguard/internal/logging"
)

// ExecutionLogName is the on-disk filename of the execution log.
const ExecutionLogName = "execution_log.db"

// Execution is one persisted row of the executions relation. Every
// attempted step produces exactly one, success or failure.
type Execution struct {
	ID            string `json:"id"`
	ToolName      string `json:"tool_name"`
	ArgumentsJSON string `json:"arguments_json"`
	Timestamp     int64  `json:"timestamp"` // Unix milliseconds
	Success       bool   `json:"success"`
	ExitCode      *int   `json:"exit_code,omitempty"`
	DurationMs    int64  `json:"duration_ms"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// Artifact is a typed payload recorded with an execution. Content is
// marshalled to JSON on write.
type Artifact struct {
	Type    string
	Content interface{}
}

// ArtifactRow is a persisted execution artifact.
type ArtifactRow struct {
	ID          int64  `json:"id"`
	ExecutionID string `json:"execution_id"`
	Type        string `json:"artifact_type"`
	ContentJSON string `json:"content_json"`
}

// ExecutionStore is the single write entry point for the execution log.
type ExecutionStore struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
}

// OpenExecutionStore opens (or creates) the execution log at the given
// path and initializes the schema.
func OpenExecutionStore(path string) (*ExecutionStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "OpenExecutionStore")
	defer timer.Stop()

	logging.Store("Opening execution log at %s", path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &ExecutionStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.StoreDebug("Execution log schema ready")
	return s, nil
}

// initialize creates the required tables.
func (s *ExecutionStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		tool_name TEXT NOT NULL,
		arguments_json TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		success INTEGER NOT NULL,
		exit_code INTEGER,
		duration_ms INTEGER NOT NULL,
		error_message TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_executions_tool ON executions(tool_name);
	CREATE INDEX IF NOT EXISTS idx_executions_timestamp ON executions(timestamp);
	CREATE INDEX IF NOT EXISTS idx_executions_success ON executions(success);

	CREATE TABLE IF NOT EXISTS execution_artifacts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		execution_id TEXT NOT NULL REFERENCES executions(id) ON DELETE RESTRICT,
		artifact_type TEXT NOT NULL,
		content_json TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_artifacts_execution ON execution_artifacts(execution_id);
	CREATE INDEX IF NOT EXISTS idx_artifacts_type ON execution_artifacts(artifact_type);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *ExecutionStore) Close() error {
	logging.Store("Closing execution log")
	return s.db.Close()
}

// Path returns the database file path.
func (s *ExecutionStore) Path() string {
	return s.dbPath
}

// RecordExecution appends one execution row plus its artifacts in a
// single transaction. The write is durable and visible to any reader
// that opens a fresh connection after return.
func (s *ExecutionStore) RecordExecution(rec Execution, artifacts []Artifact) error {
	timer := logging.StartTimer(logging.CategoryStore, "RecordExecution")
	defer timer.Stop()

	if rec.ID == "" {
		return fmt.Errorf("%w: execution id", ErrEmptyID)
	}
	if rec.Timestamp == 0 {
		rec.Timestamp = time.Now().UnixMilli()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrStorage, err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO executions
		(id, tool_name, arguments_json, timestamp, success, exit_code, duration_ms, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ToolName, rec.ArgumentsJSON, rec.Timestamp,
		rec.Success, rec.ExitCode, rec.DurationMs, nullable(rec.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("%w: insert execution %s: %v", ErrStorage, rec.ID, err)
	}

	for _, a := range artifacts {
		content, err := json.Marshal(a.Content)
		if err != nil {
			return fmt.Errorf("%w: marshal %s artifact: %v", ErrStorage, a.Type, err)
		}
		_, err = tx.Exec(`
			INSERT INTO execution_artifacts (execution_id, artifact_type, content_json)
			VALUES (?, ?, ?)`,
			rec.ID, a.Type, string(content),
		)
		if err != nil {
			return fmt.Errorf("%w: insert %s artifact: %v", ErrStorage, a.Type, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrStorage, err)
	}

	logging.StoreDebug("Recorded execution %s (tool=%s success=%v artifacts=%d)",
		rec.ID, rec.ToolName, rec.Success, len(artifacts))
	return nil
}

// GetExecution returns one execution row by id.
func (s *ExecutionStore) GetExecution(id string) (*Execution, error) {
	row := s.db.QueryRow(`
		SELECT id, tool_name, arguments_json, timestamp, success, exit_code, duration_ms, error_message
		FROM executions WHERE id = ?`, id)
	return scanExecution(row)
}

// ListArtifacts returns the artifacts of one execution, insertion order.
func (s *ExecutionStore) ListArtifacts(executionID string) ([]ArtifactRow, error) {
	rows, err := s.db.Query(`
		SELECT id, execution_id, artifact_type, content_json
		FROM execution_artifacts WHERE execution_id = ? ORDER BY id`, executionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	defer rows.Close()

	var out []ArtifactRow
	for rows.Next() {
		var a ArtifactRow
		if err := rows.Scan(&a.ID, &a.ExecutionID, &a.Type, &a.ContentJSON); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountExecutions returns the number of persisted execution rows.
func (s *ExecutionStore) CountExecutions() (int64, error) {
	var n int64
	if err := s.db.QueryRow("SELECT COUNT(*) FROM executions").Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return n, nil
}

// GetStats returns row counts per table.
func (s *ExecutionStore) GetStats() (map[string]int64, error) {
	stats := make(map[string]int64)
	for _, table := range []string{"executions", "execution_artifacts"} {
		var count int64
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
			logging.StoreDebug("Table %s count failed: %v", table, err)
			continue
		}
		stats[table] = count
	}
	return stats, nil
}

// scanExecution reads one executions row from a row scanner.
func scanExecution(row *sql.Row) (*Execution, error) {
	var e Execution
	var exitCode sql.NullInt64
	var errMsg sql.NullString
	err := row.Scan(&e.ID, &e.ToolName, &e.ArgumentsJSON, &e.Timestamp,
		&e.Success, &exitCode, &e.DurationMs, &errMsg)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		e.ExitCode = &code
	}
	e.ErrorMessage = errMsg.String
	return &e, nil
}

// nullable maps an empty string to SQL NULL.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
