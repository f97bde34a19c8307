package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func openTestStore(t *testing.T) *ExecutionStore {
	t.Helper()
	s, err := OpenExecutionStore(filepath.Join(t.TempDir(), ExecutionLogName))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testExecution(id string) Execution {
	return Execution{
		ID:            id,
		ToolName:      "file_read",
		ArgumentsJSON: `{"path":"main.go"}`,
		Timestamp:     time.Now().UnixMilli(),
		Success:       true,
		DurationMs:    12,
	}
}

func TestRecordAndGetExecution(t *testing.T) {
	s := openTestStore(t)

	exitCode := 1
	rec := Execution{
		ID:            "exec-1",
		ToolName:      "shell_exec",
		ArgumentsJSON: `{"binary":"go","args":"build ./..."}`,
		Timestamp:     1700000000000,
		Success:       false,
		ExitCode:      &exitCode,
		DurationMs:    250,
		ErrorMessage:  "exit status 1",
	}
	artifacts := []Artifact{
		{Type: "diagnostics", Content: []map[string]string{{"code": "E0425", "file": "lib.rs"}}},
	}
	require.NoError(t, s.RecordExecution(rec, artifacts))

	got, err := s.GetExecution("exec-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ToolName, got.ToolName)
	assert.Equal(t, rec.Timestamp, got.Timestamp)
	assert.False(t, got.Success)
	require.NotNil(t, got.ExitCode)
	assert.Equal(t, 1, *got.ExitCode)
	assert.Equal(t, "exit status 1", got.ErrorMessage)

	rows, err := s.ListArtifacts("exec-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "diagnostics", rows[0].Type)
	assert.Contains(t, rows[0].ContentJSON, "E0425")
}

func TestRecordExecutionValidation(t *testing.T) {
	s := openTestStore(t)

	t.Run("empty id rejected", func(t *testing.T) {
		assert.ErrorIs(t, s.RecordExecution(Execution{}, nil), ErrEmptyID)
	})

	t.Run("duplicate id is a storage error", func(t *testing.T) {
		require.NoError(t, s.RecordExecution(testExecution("dup"), nil))
		assert.ErrorIs(t, s.RecordExecution(testExecution("dup"), nil), ErrStorage)
	})

	t.Run("unknown execution is ErrNotFound", func(t *testing.T) {
		_, err := s.GetExecution("ghost")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestWritesVisibleToFreshConnection(t *testing.T) {
	path := filepath.Join(t.TempDir(), ExecutionLogName)
	s, err := OpenExecutionStore(path)
	require.NoError(t, err)
	require.NoError(t, s.RecordExecution(testExecution("exec-1"), []Artifact{
		{Type: "file_content", Content: map[string]string{"path": "main.go"}},
	}))

	// A reader opening a brand new connection must see the commit.
	reader, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	require.NoError(t, err)
	defer reader.Close()

	var count int
	require.NoError(t, reader.QueryRow("SELECT COUNT(*) FROM executions").Scan(&count))
	assert.Equal(t, 1, count)

	require.NoError(t, s.Close())
}

func TestArtifactsCannotOutliveExecution(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.RecordExecution(testExecution("exec-1"), []Artifact{
		{Type: "file_content", Content: map[string]string{"path": "main.go"}},
	}))

	// ON DELETE RESTRICT: the parent row cannot go away under its artifacts.
	_, err := s.db.Exec("DELETE FROM executions WHERE id = ?", "exec-1")
	assert.Error(t, err)
}

func TestRecordPlanStage(t *testing.T) {
	s := openTestStore(t)

	t.Run("successful validation", func(t *testing.T) {
		planDoc := map[string]interface{}{"plan_id": "plan-1", "intent": "read"}
		require.NoError(t, s.RecordPlanStage("planner", "plan-1", "fix the build", planDoc, nil))

		got, err := s.GetExecution("planner_plan-1")
		require.NoError(t, err)
		assert.True(t, got.Success)
		assert.Equal(t, "planner", got.ToolName)

		rows, err := s.ListArtifacts("planner_plan-1")
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, ArtifactPrompt, rows[0].Type)
		assert.Equal(t, ArtifactPlan, rows[1].Type)

		var plan map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(rows[1].ContentJSON), &plan))
		assert.Equal(t, "plan-1", plan["plan_id"])
	})

	t.Run("validation failure adds validation_error artifact", func(t *testing.T) {
		require.NoError(t, s.RecordPlanStage("planner", "plan-2", "bad plan",
			map[string]interface{}{"plan_id": "plan-2"}, fmt.Errorf("plan has no steps")))

		got, err := s.GetExecution("planner_plan-2")
		require.NoError(t, err)
		assert.False(t, got.Success)
		assert.Equal(t, "plan has no steps", got.ErrorMessage)

		rows, err := s.ListArtifacts("planner_plan-2")
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, ArtifactValidationError, rows[2].Type)
	})
}

func TestConcurrentWritersAndReaders(t *testing.T) {
	path := filepath.Join(t.TempDir(), ExecutionLogName)
	s, err := OpenExecutionStore(path)
	require.NoError(t, err)
	defer s.Close()

	var g errgroup.Group
	for w := 0; w < 4; w++ {
		w := w
		g.Go(func() error {
			for i := 0; i < 25; i++ {
				if err := s.RecordExecution(testExecution(fmt.Sprintf("w%d-%d", w, i)), nil); err != nil {
					return err
				}
			}
			return nil
		})
	}
	// Readers on independent connections proceed while writes are in flight.
	for r := 0; r < 2; r++ {
		g.Go(func() error {
			db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
			if err != nil {
				return err
			}
			defer db.Close()
			for i := 0; i < 20; i++ {
				var n int
				if err := db.QueryRow("SELECT COUNT(*) FROM executions").Scan(&n); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	total, err := s.CountExecutions()
	require.NoError(t, err)
	assert.Equal(t, int64(100), total)
}

func TestGetStats(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.RecordExecution(testExecution("exec-1"), []Artifact{
		{Type: "file_content", Content: map[string]string{}},
	}))

	stats, err := s.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats["executions"])
	assert.Equal(t, int64(1), stats["execution_artifacts"])
}
