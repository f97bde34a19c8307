// Package evidence is the read side of the audit trail: canonical
// queries over the execution log joined, when present, with the code
// graph. All queries are deterministic: repeated calls against
// unmodified data return identically ordered results, which is why
// every ORDER BY carries the row id as a tiebreak.
//
// The code graph is optional. When codegraph.db is absent, the
// file-scoped queries fall back to a substring match over
// arguments_json. That fallback is an approximation (it may
// under-report executions whose arguments encode the path
// differently), and it is kept that way on purpose: callers depend on
// the fallback's observable behavior.
package evidence

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"stepguard/internal/logging"
	"stepguard/internal/store"
)

// DB holds independent read connections to the execution log and,
// optionally, the code graph. It never writes.
type DB struct {
	exec  *sql.DB
	graph *sql.DB // nil when codegraph.db is absent
}

// Open opens the evidence databases under the given state directory
// (the directory holding execution_log.db). The code graph is attached
// only if its file already exists.
func Open(stateDir string) (*DB, error) {
	return OpenPaths(
		filepath.Join(stateDir, store.ExecutionLogName),
		filepath.Join(stateDir, store.CodeGraphName),
	)
}

// OpenPaths opens the execution log at execPath and, if the file
// exists, the code graph at graphPath.
func OpenPaths(execPath, graphPath string) (*DB, error) {
	logging.Evidence("Opening evidence readers (log=%s graph=%s)", execPath, graphPath)

	execDB, err := sql.Open("sqlite3", execPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("%w: open execution log: %v", ErrQuery, err)
	}

	d := &DB{exec: execDB}

	if _, err := os.Stat(graphPath); err == nil {
		graphDB, err := sql.Open("sqlite3", graphPath+"?_journal_mode=WAL&_busy_timeout=5000")
		if err != nil {
			execDB.Close()
			return nil, fmt.Errorf("%w: open code graph: %v", ErrQuery, err)
		}
		d.graph = graphDB
	} else {
		logging.EvidenceDebug("No code graph at %s, file-scoped queries fall back to substring match", graphPath)
	}
	return d, nil
}

// HasGraph reports whether the code graph is attached.
func (d *DB) HasGraph() bool {
	return d.graph != nil
}

// Close closes both connections.
func (d *DB) Close() error {
	var firstErr error
	if err := d.exec.Close(); err != nil {
		firstErr = err
	}
	if d.graph != nil {
		if err := d.graph.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Filters narrows list-shaped queries. Zero values mean "no bound".
type Filters struct {
	Since       int64 // inclusive lower bound, Unix milliseconds
	Until       int64 // inclusive upper bound, Unix milliseconds
	SuccessOnly bool
	Limit       int
}

// clause renders the filters as SQL appended after existing WHERE
// conditions, returning the fragment and its bind args.
func (f Filters) clause() (string, []interface{}) {
	frag := ""
	var args []interface{}
	if f.Since > 0 {
		frag += " AND timestamp >= ?"
		args = append(args, f.Since)
	}
	if f.Until > 0 {
		frag += " AND timestamp <= ?"
		args = append(args, f.Until)
	}
	if f.SuccessOnly {
		frag += " AND success = 1"
	}
	return frag, args
}

// scanExecutions drains a result set of full execution rows.
func scanExecutions(rows *sql.Rows) ([]store.Execution, error) {
	defer rows.Close()

	var out []store.Execution
	for rows.Next() {
		var e store.Execution
		var exitCode sql.NullInt64
		var errMsg sql.NullString
		if err := rows.Scan(&e.ID, &e.ToolName, &e.ArgumentsJSON, &e.Timestamp,
			&e.Success, &exitCode, &e.DurationMs, &errMsg); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrQuery, err)
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			e.ExitCode = &code
		}
		e.ErrorMessage = errMsg.String
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	return out, nil
}

const executionColumns = "id, tool_name, arguments_json, timestamp, success, exit_code, duration_ms, error_message"
