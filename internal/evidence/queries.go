package evidence

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"stepguard/internal/logging"
	"stepguard/internal/store"
	"stepguard/internal/tools"
)

// ListExecutionsByTool returns every execution of the given tool,
// oldest first.
func (d *DB) ListExecutionsByTool(tool string, f Filters) ([]store.Execution, error) {
	frag, args := f.clause()
	query := "SELECT " + executionColumns + " FROM executions WHERE tool_name = ?" +
		frag + " ORDER BY timestamp ASC, id ASC"
	bind := append([]interface{}{tool}, args...)
	if f.Limit > 0 {
		query += " LIMIT ?"
		bind = append(bind, f.Limit)
	}

	rows, err := d.exec.Query(query, bind...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	return scanExecutions(rows)
}

// ListFailuresByTool returns the failed executions of the given tool,
// most recent first.
func (d *DB) ListFailuresByTool(tool string) ([]store.Execution, error) {
	rows, err := d.exec.Query(
		"SELECT "+executionColumns+" FROM executions WHERE tool_name = ? AND success = 0"+
			" ORDER BY timestamp DESC, id DESC", tool)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	return scanExecutions(rows)
}

// DiagnosticHit is one diagnostic occurrence matched by code, joined
// with the execution that produced it.
type DiagnosticHit struct {
	ExecutionID string `json:"execution_id"`
	ToolName    string `json:"tool_name"`
	Timestamp   int64  `json:"timestamp"`
	Code        string `json:"code"`
	Level       string `json:"level"`
	File        string `json:"file"`
	Line        int    `json:"line"`
	Message     string `json:"message"`
}

// FindExecutionsByDiagnosticCode returns every diagnostic with the
// given code across all recorded diagnostics artifacts, oldest
// execution first.
func (d *DB) FindExecutionsByDiagnosticCode(code string) ([]DiagnosticHit, error) {
	timer := logging.StartTimer(logging.CategoryEvidence, "FindExecutionsByDiagnosticCode")
	defer timer.Stop()

	rows, err := d.exec.Query(`
		SELECT e.id, e.tool_name, e.timestamp, a.content_json
		FROM executions e
		JOIN execution_artifacts a ON a.execution_id = e.id
		WHERE a.artifact_type = 'diagnostics'
		ORDER BY e.timestamp ASC, e.id ASC, a.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	defer rows.Close()

	var hits []DiagnosticHit
	for rows.Next() {
		var execID, toolName, content string
		var ts int64
		if err := rows.Scan(&execID, &toolName, &ts, &content); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrQuery, err)
		}

		var diags []tools.Diagnostic
		if err := json.Unmarshal([]byte(content), &diags); err != nil {
			// A malformed artifact must not poison the whole query.
			logging.Evidence("Skipping malformed diagnostics artifact on %s: %v", execID, err)
			continue
		}
		for _, diag := range diags {
			if diag.Code != code {
				continue
			}
			hits = append(hits, DiagnosticHit{
				ExecutionID: execID,
				ToolName:    toolName,
				Timestamp:   ts,
				Code:        diag.Code,
				Level:       diag.Level,
				File:        diag.File,
				Line:        diag.Line,
				Message:     diag.Message,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	return hits, nil
}

// FindExecutionsByFile returns the executions that touched the given
// file, oldest first. With the code graph attached the answer follows
// EXECUTED_ON edges exactly; without it, a substring match over
// arguments_json approximates the same relation.
func (d *DB) FindExecutionsByFile(path string) ([]store.Execution, error) {
	if d.graph == nil {
		// instr() keeps the path literal; LIKE would treat % and _ as
		// wildcards.
		rows, err := d.exec.Query(
			"SELECT "+executionColumns+" FROM executions WHERE instr(arguments_json, ?) > 0"+
				" ORDER BY timestamp ASC, id ASC", path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrQuery, err)
		}
		return scanExecutions(rows)
	}

	ids, err := d.executionIDsForFile(path)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	bind := make([]interface{}, len(ids))
	for i, id := range ids {
		bind[i] = id
	}

	rows, err := d.exec.Query(
		"SELECT "+executionColumns+" FROM executions WHERE id IN ("+placeholders+")"+
			" ORDER BY timestamp ASC, id ASC", bind...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	return scanExecutions(rows)
}

// executionIDsForFile walks EXECUTED_ON edges into the file entity and
// returns the execution-entity names on the other end.
func (d *DB) executionIDsForFile(path string) ([]string, error) {
	rows, err := d.graph.Query(`
		SELECT src.name
		FROM graph_entities file
		JOIN graph_edges edge ON edge.to_id = file.id AND edge.edge_type = ?
		JOIN graph_entities src ON src.id = edge.from_id AND src.kind = ?
		WHERE file.kind = ? AND file.name = ?
		ORDER BY edge.id ASC`,
		store.EdgeExecutedOn, store.EntityExecution, store.EntityFile, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrQuery, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ExecutionDetails is the full picture of one execution: its row, its
// artifacts, and its code-graph neighborhood when a graph is attached.
type ExecutionDetails struct {
	Execution store.Execution     `json:"execution"`
	Artifacts []store.ArtifactRow `json:"artifacts"`

	// GraphEntity is nil and GraphEdges empty when no code graph is
	// attached or the execution was never linked.
	GraphEntity *store.GraphEntity `json:"graph_entity,omitempty"`
	GraphEdges  []store.GraphEdge  `json:"graph_edges,omitempty"`
}

// GetExecutionDetails returns the execution row, its artifacts, and
// (if a graph is attached) its entity plus incident edges. ErrNotFound
// when the id does not exist.
func (d *DB) GetExecutionDetails(id string) (*ExecutionDetails, error) {
	rows, err := d.exec.Query(
		"SELECT "+executionColumns+" FROM executions WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	execs, err := scanExecutions(rows)
	if err != nil {
		return nil, err
	}
	if len(execs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	details := &ExecutionDetails{Execution: execs[0]}

	arts, err := d.exec.Query(`
		SELECT id, execution_id, artifact_type, content_json
		FROM execution_artifacts WHERE execution_id = ? ORDER BY id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	defer arts.Close()
	for arts.Next() {
		var a store.ArtifactRow
		if err := arts.Scan(&a.ID, &a.ExecutionID, &a.Type, &a.ContentJSON); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrQuery, err)
		}
		details.Artifacts = append(details.Artifacts, a)
	}
	if err := arts.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}

	if d.graph != nil {
		if err := d.attachGraphNeighborhood(details, id); err != nil {
			return nil, err
		}
	}
	return details, nil
}

// attachGraphNeighborhood fills the entity and incident edges of one
// execution. A missing entity is not an error; the execution may
// simply never have been linked.
func (d *DB) attachGraphNeighborhood(details *ExecutionDetails, executionID string) error {
	var entity store.GraphEntity
	var filePath, data sql.NullString
	err := d.graph.QueryRow(
		"SELECT id, kind, name, file_path, data FROM graph_entities WHERE kind = ? AND name = ?",
		store.EntityExecution, executionID,
	).Scan(&entity.ID, &entity.Kind, &entity.Name, &filePath, &data)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQuery, err)
	}
	entity.FilePath = filePath.String
	entity.Data = data.String
	details.GraphEntity = &entity

	rows, err := d.graph.Query(`
		SELECT id, from_id, to_id, edge_type, data
		FROM graph_edges WHERE from_id = ? OR to_id = ?
		ORDER BY id ASC`, entity.ID, entity.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQuery, err)
	}
	defer rows.Close()
	for rows.Next() {
		var e store.GraphEdge
		var edgeData sql.NullString
		if err := rows.Scan(&e.ID, &e.FromID, &e.ToID, &e.EdgeType, &edgeData); err != nil {
			return fmt.Errorf("%w: scan: %v", ErrQuery, err)
		}
		e.Data = edgeData.String
		details.GraphEdges = append(details.GraphEdges, e)
	}
	return rows.Err()
}

// GetLatestOutcomeForFile returns the most recent execution touching
// the file, or nil when no execution did. It shares the
// FindExecutionsByFile relation, including its fallback semantics.
func (d *DB) GetLatestOutcomeForFile(path string) (*store.Execution, error) {
	execs, err := d.FindExecutionsByFile(path)
	if err != nil {
		return nil, err
	}
	if len(execs) == 0 {
		return nil, nil
	}
	latest := execs[len(execs)-1]
	return &latest, nil
}

// RecurringDiagnostic is a (code, file) group that crossed the
// occurrence threshold.
type RecurringDiagnostic struct {
	Code            string `json:"code"`
	File            string `json:"file"`
	OccurrenceCount int    `json:"occurrence_count"`
}

// GetRecurringDiagnostics groups all recorded diagnostics by
// (code, file) and returns the groups seen at least minOccurrences
// times, ordered by count descending, then code, then file.
func (d *DB) GetRecurringDiagnostics(minOccurrences int, f Filters) ([]RecurringDiagnostic, error) {
	timer := logging.StartTimer(logging.CategoryEvidence, "GetRecurringDiagnostics")
	defer timer.Stop()

	frag, args := f.clause()
	rows, err := d.exec.Query(`
		SELECT a.content_json
		FROM executions e
		JOIN execution_artifacts a ON a.execution_id = e.id
		WHERE a.artifact_type = 'diagnostics'`+frag+`
		ORDER BY e.timestamp ASC, e.id ASC, a.id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	defer rows.Close()

	counts := make(map[RecurringDiagnostic]int)
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrQuery, err)
		}
		var diags []tools.Diagnostic
		if err := json.Unmarshal([]byte(content), &diags); err != nil {
			continue
		}
		for _, diag := range diags {
			counts[RecurringDiagnostic{Code: diag.Code, File: diag.File}]++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}

	var out []RecurringDiagnostic
	for key, n := range counts {
		if n >= minOccurrences {
			key.OccurrenceCount = n
			out = append(out, key)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OccurrenceCount != out[j].OccurrenceCount {
			return out[i].OccurrenceCount > out[j].OccurrenceCount
		}
		if out[i].Code != out[j].Code {
			return out[i].Code < out[j].Code
		}
		return out[i].File < out[j].File
	})
	return out, nil
}

// PriorFix pairs a diagnostic-producing execution with the next later
// execution that plausibly fixed the same file.
type PriorFix struct {
	DiagnosticExecutionID string `json:"diagnostic_execution_id"`
	FixExecutionID        string `json:"fix_execution_id"`
	FixToolName           string `json:"fix_tool_name"`
	Code                  string `json:"code"`
	File                  string `json:"file"`
	DiagnosticTimestamp   int64  `json:"diagnostic_timestamp"`
	FixTimestamp          int64  `json:"fix_timestamp"`
	TemporalGapMs         int64  `json:"temporal_gap_ms"`
}

// fixToolNames are the tools whose successful runs count as
// fix-shaped: they are the only builtins that change file contents.
var fixToolNames = []string{"file_write", "shell_exec"}

// FindPriorFixesForDiagnostic pairs every occurrence of the given
// diagnostic code with the next later successful file_write or
// shell_exec whose arguments reference the diagnosed file. Pairs are
// ordered by diagnostic timestamp, then fix timestamp, and the gap is
// always strictly positive.
func (d *DB) FindPriorFixesForDiagnostic(code string) ([]PriorFix, error) {
	timer := logging.StartTimer(logging.CategoryEvidence, "FindPriorFixesForDiagnostic")
	defer timer.Stop()

	hits, err := d.FindExecutionsByDiagnosticCode(code)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(fixToolNames))
	placeholders = placeholders[:len(placeholders)-1]
	bind := make([]interface{}, len(fixToolNames))
	for i, name := range fixToolNames {
		bind[i] = name
	}
	rows, err := d.exec.Query(
		"SELECT "+executionColumns+" FROM executions"+
			" WHERE tool_name IN ("+placeholders+") AND success = 1"+
			" ORDER BY timestamp ASC, id ASC", bind...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	candidates, err := scanExecutions(rows)
	if err != nil {
		return nil, err
	}

	var out []PriorFix
	for _, hit := range hits {
		for _, fix := range candidates {
			if fix.Timestamp <= hit.Timestamp {
				continue
			}
			if hit.File == "" || !strings.Contains(fix.ArgumentsJSON, hit.File) {
				continue
			}
			out = append(out, PriorFix{
				DiagnosticExecutionID: hit.ExecutionID,
				FixExecutionID:        fix.ID,
				FixToolName:           fix.ToolName,
				Code:                  hit.Code,
				File:                  hit.File,
				DiagnosticTimestamp:   hit.Timestamp,
				FixTimestamp:          fix.Timestamp,
				TemporalGapMs:         fix.Timestamp - hit.Timestamp,
			})
			break
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DiagnosticTimestamp != out[j].DiagnosticTimestamp {
			return out[i].DiagnosticTimestamp < out[j].DiagnosticTimestamp
		}
		return out[i].FixTimestamp < out[j].FixTimestamp
	})
	return out, nil
}
