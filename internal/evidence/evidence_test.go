package evidence

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepguard/internal/store"
	"stepguard/internal/tools"
)

// fixture seeds an execution log (and optionally a code graph) in a
// temp state dir and opens evidence readers over it.
type fixture struct {
	stateDir string
	writer   *store.ExecutionStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	stateDir := t.TempDir()
	writer, err := store.OpenExecutionStore(filepath.Join(stateDir, store.ExecutionLogName))
	require.NoError(t, err)
	t.Cleanup(func() { writer.Close() })
	return &fixture{stateDir: stateDir, writer: writer}
}

func (fx *fixture) record(t *testing.T, id, tool string, ts int64, success bool, argsJSON string, artifacts ...store.Artifact) {
	t.Helper()
	errMsg := ""
	if !success {
		errMsg = "tool failed"
	}
	require.NoError(t, fx.writer.RecordExecution(store.Execution{
		ID:            id,
		ToolName:      tool,
		ArgumentsJSON: argsJSON,
		Timestamp:     ts,
		Success:       success,
		DurationMs:    5,
		ErrorMessage:  errMsg,
	}, artifacts))
}

func (fx *fixture) open(t *testing.T) *DB {
	t.Helper()
	d, err := Open(fx.stateDir)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func (fx *fixture) openGraph(t *testing.T) *store.GraphStore {
	t.Helper()
	g, err := store.OpenGraphStore(filepath.Join(fx.stateDir, store.CodeGraphName))
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	return g
}

func diagArtifact(diags ...tools.Diagnostic) store.Artifact {
	return store.Artifact{Type: "diagnostics", Content: diags}
}

func TestListExecutionsByTool(t *testing.T) {
	fx := newFixture(t)
	// Inserted out of timestamp order on purpose.
	fx.record(t, "e3", "file_read", 3000, true, `{"path":"c.go"}`)
	fx.record(t, "e1", "file_read", 1000, true, `{"path":"a.go"}`)
	fx.record(t, "e2", "file_read", 2000, false, `{"path":"b.go"}`)
	fx.record(t, "x1", "file_glob", 1500, true, `{"pattern":"*.go"}`)

	d := fx.open(t)

	t.Run("ascending by timestamp", func(t *testing.T) {
		got, err := d.ListExecutionsByTool("file_read", Filters{})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, []string{"e1", "e2", "e3"}, []string{got[0].ID, got[1].ID, got[2].ID})
	})

	t.Run("filters", func(t *testing.T) {
		got, err := d.ListExecutionsByTool("file_read", Filters{Since: 1500, Until: 3000})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "e2", got[0].ID)

		got, err = d.ListExecutionsByTool("file_read", Filters{SuccessOnly: true})
		require.NoError(t, err)
		require.Len(t, got, 2)

		got, err = d.ListExecutionsByTool("file_read", Filters{Limit: 1})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "e1", got[0].ID)
	})

	t.Run("repeated calls are identical", func(t *testing.T) {
		first, err := d.ListExecutionsByTool("file_read", Filters{})
		require.NoError(t, err)
		second, err := d.ListExecutionsByTool("file_read", Filters{})
		require.NoError(t, err)
		assert.Empty(t, cmp.Diff(first, second))
	})
}

func TestListFailuresByTool(t *testing.T) {
	fx := newFixture(t)
	fx.record(t, "f1", "shell_exec", 1000, false, `{"command":"go build"}`)
	fx.record(t, "f2", "shell_exec", 2000, false, `{"command":"go test"}`)
	fx.record(t, "ok", "shell_exec", 3000, true, `{"command":"go vet"}`)

	d := fx.open(t)
	got, err := d.ListFailuresByTool("shell_exec")
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Most recent failure first.
	assert.Equal(t, "f2", got[0].ID)
	assert.Equal(t, "f1", got[1].ID)
	assert.NotEmpty(t, got[0].ErrorMessage)
}

func TestFindExecutionsByDiagnosticCode(t *testing.T) {
	fx := newFixture(t)
	fx.record(t, "d1", "lsp_check", 1000, false, `{"path":"."}`,
		diagArtifact(
			tools.Diagnostic{Code: "E0425", Level: "error", File: "lib.rs", Line: 10, Message: "cannot find value"},
			tools.Diagnostic{Code: "E0308", Level: "error", File: "main.rs", Line: 3, Message: "mismatched types"},
		))
	fx.record(t, "d2", "lsp_check", 2000, false, `{"path":"."}`,
		diagArtifact(tools.Diagnostic{Code: "E0425", Level: "error", File: "lib.rs", Line: 12, Message: "cannot find value"}))
	fx.record(t, "clean", "lsp_check", 3000, true, `{"path":"."}`, diagArtifact())

	d := fx.open(t)
	hits, err := d.FindExecutionsByDiagnosticCode("E0425")
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "d1", hits[0].ExecutionID)
	assert.Equal(t, "lib.rs", hits[0].File)
	assert.Equal(t, "error", hits[0].Level)
	assert.Equal(t, "lsp_check", hits[0].ToolName)
	assert.Equal(t, "d2", hits[1].ExecutionID)
	assert.Equal(t, 12, hits[1].Line)
}

func TestFindExecutionsByFileFallback(t *testing.T) {
	fx := newFixture(t)
	fx.record(t, "r1", "file_read", 1000, true, `{"path":"src/lib.rs"}`)
	fx.record(t, "w1", "file_write", 2000, true, `{"path":"src/lib.rs","content":"fn main(){}"}`)
	fx.record(t, "other", "file_read", 1500, true, `{"path":"src/main.rs"}`)

	d := fx.open(t)
	require.False(t, d.HasGraph())

	got, err := d.FindExecutionsByFile("lib.rs")
	require.NoError(t, err)
	// Substring match: both lib.rs executions, oldest first.
	require.Len(t, got, 2)
	assert.Equal(t, "r1", got[0].ID)
	assert.Equal(t, "w1", got[1].ID)

	t.Run("latest outcome picks the newest", func(t *testing.T) {
		latest, err := d.GetLatestOutcomeForFile("lib.rs")
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, "w1", latest.ID)
	})

	t.Run("untouched file yields none", func(t *testing.T) {
		latest, err := d.GetLatestOutcomeForFile("nothing.rs")
		require.NoError(t, err)
		assert.Nil(t, latest)
	})
}

func TestFindExecutionsByFileWithGraph(t *testing.T) {
	fx := newFixture(t)
	fx.record(t, "g1", "file_read", 1000, true, `{"path":"src/lib.rs"}`)
	fx.record(t, "g2", "shell_exec", 2000, true, `{"command":"grep lib.rs ."}`)

	g := fx.openGraph(t)
	// Only g1 is linked; g2 mentions the path in its arguments but
	// never touched the file.
	require.NoError(t, g.LinkExecutionToFile("g1", "src/lib.rs"))

	d := fx.open(t)
	require.True(t, d.HasGraph())

	got, err := d.FindExecutionsByFile("src/lib.rs")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "g1", got[0].ID)

	t.Run("unknown file yields none", func(t *testing.T) {
		got, err := d.FindExecutionsByFile("src/absent.rs")
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestGetExecutionDetails(t *testing.T) {
	fx := newFixture(t)
	fx.record(t, "det1", "lsp_check", 1000, false, `{"path":"."}`,
		diagArtifact(tools.Diagnostic{Code: "E0425", Level: "error", File: "lib.rs", Line: 1, Message: "x"}))

	t.Run("without code graph", func(t *testing.T) {
		d := fx.open(t)
		details, err := d.GetExecutionDetails("det1")
		require.NoError(t, err)

		assert.Equal(t, "lsp_check", details.Execution.ToolName)
		require.Len(t, details.Artifacts, 1)
		assert.Equal(t, "diagnostics", details.Artifacts[0].Type)
		assert.Nil(t, details.GraphEntity)
		assert.Empty(t, details.GraphEdges)
	})

	t.Run("unknown id", func(t *testing.T) {
		d := fx.open(t)
		_, err := d.GetExecutionDetails("ghost")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("with code graph", func(t *testing.T) {
		g := fx.openGraph(t)
		require.NoError(t, g.LinkExecutionToFile("det1", "lib.rs"))

		d := fx.open(t)
		details, err := d.GetExecutionDetails("det1")
		require.NoError(t, err)
		require.NotNil(t, details.GraphEntity)
		assert.Equal(t, store.EntityExecution, details.GraphEntity.Kind)
		assert.Equal(t, "det1", details.GraphEntity.Name)
		require.Len(t, details.GraphEdges, 1)
		assert.Equal(t, store.EdgeExecutedOn, details.GraphEdges[0].EdgeType)
	})
}

func TestGetRecurringDiagnostics(t *testing.T) {
	fx := newFixture(t)
	base := int64(1_700_000_000_000)
	fx.record(t, "rc1", "lsp_check", base, false, `{"path":"."}`,
		diagArtifact(tools.Diagnostic{Code: "E0425", Level: "error", File: "lib.rs", Line: 10, Message: "cannot find value"}))
	fx.record(t, "rc2", "lsp_check", base+1000, false, `{"path":"."}`,
		diagArtifact(
			tools.Diagnostic{Code: "E0425", Level: "error", File: "lib.rs", Line: 10, Message: "cannot find value"},
			tools.Diagnostic{Code: "E0308", Level: "error", File: "main.rs", Line: 5, Message: "mismatched types"},
		))

	d := fx.open(t)

	t.Run("threshold met", func(t *testing.T) {
		got, err := d.GetRecurringDiagnostics(2, Filters{})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, RecurringDiagnostic{Code: "E0425", File: "lib.rs", OccurrenceCount: 2}, got[0])
	})

	t.Run("threshold not met", func(t *testing.T) {
		got, err := d.GetRecurringDiagnostics(3, Filters{})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("ordering count desc then code then file", func(t *testing.T) {
		got, err := d.GetRecurringDiagnostics(1, Filters{})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "E0425", got[0].Code)
		assert.Equal(t, "E0308", got[1].Code)
	})

	t.Run("repeated calls are identical", func(t *testing.T) {
		first, err := d.GetRecurringDiagnostics(1, Filters{})
		require.NoError(t, err)
		second, err := d.GetRecurringDiagnostics(1, Filters{})
		require.NoError(t, err)
		assert.Empty(t, cmp.Diff(first, second))
	})
}

func TestFindPriorFixesForDiagnostic(t *testing.T) {
	fx := newFixture(t)
	base := int64(1_700_000_000_000)

	// An earlier write must never count as a fix for a later diagnostic.
	fx.record(t, "early-write", "file_write", base-5000, true, `{"path":"lib.rs","content":"old"}`)
	fx.record(t, "diag1", "lsp_check", base, false, `{"path":"."}`,
		diagArtifact(tools.Diagnostic{Code: "E0425", Level: "error", File: "lib.rs", Line: 10, Message: "cannot find value"}))
	fx.record(t, "failed-write", "file_write", base+200, false, `{"path":"lib.rs","content":"bad"}`)
	fx.record(t, "fix1", "file_write", base+500, true, `{"path":"lib.rs","content":"fixed"}`)
	fx.record(t, "diag2", "lsp_check", base+1000, false, `{"path":"."}`,
		diagArtifact(tools.Diagnostic{Code: "E0425", Level: "error", File: "lib.rs", Line: 12, Message: "cannot find value"}))
	fx.record(t, "fix2", "shell_exec", base+2000, true, `{"command":"sed -i s/x/y/ lib.rs"}`)

	d := fx.open(t)
	got, err := d.FindPriorFixesForDiagnostic("E0425")
	require.NoError(t, err)
	require.Len(t, got, 2)

	// diag1 pairs with the first successful later write, skipping the
	// failed one.
	assert.Equal(t, "diag1", got[0].DiagnosticExecutionID)
	assert.Equal(t, "fix1", got[0].FixExecutionID)
	assert.Equal(t, int64(500), got[0].TemporalGapMs)

	// diag2 postdates fix1, so it pairs with the shell_exec fix.
	assert.Equal(t, "diag2", got[1].DiagnosticExecutionID)
	assert.Equal(t, "fix2", got[1].FixExecutionID)
	assert.Equal(t, "shell_exec", got[1].FixToolName)
	assert.Equal(t, int64(1000), got[1].TemporalGapMs)

	for _, fix := range got {
		assert.Greater(t, fix.TemporalGapMs, int64(0))
	}

	t.Run("unknown code yields none", func(t *testing.T) {
		got, err := d.FindPriorFixesForDiagnostic("E9999")
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestQueriesAreDeterministicUnderLoad(t *testing.T) {
	fx := newFixture(t)
	for i := 0; i < 40; i++ {
		fx.record(t, fmt.Sprintf("bulk-%02d", i), "file_read", 1000, i%2 == 0,
			fmt.Sprintf(`{"path":"f%d.go"}`, i%5))
	}

	d := fx.open(t)
	// Identical timestamps force the id tiebreak to carry the ordering.
	first, err := d.ListExecutionsByTool("file_read", Filters{})
	require.NoError(t, err)
	second, err := d.ListExecutionsByTool("file_read", Filters{})
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(first, second))
	require.Len(t, first, 40)
}
