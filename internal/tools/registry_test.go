package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool() *Tool {
	return &Tool{
		Name:        "echo",
		Description: "returns its input",
		Category:    CategoryRead,
		Schema:      ToolSchema{Required: []string{"text"}},
		Execute: func(ctx context.Context, args map[string]string) (string, []Artifact, error) {
			return args["text"], nil, nil
		},
	}
}

func TestRegistryRegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool()))

	t.Run("resolve known tool", func(t *testing.T) {
		tool, err := r.Resolve("echo")
		require.NoError(t, err)
		assert.Equal(t, "echo", tool.Name)
	})

	t.Run("unknown name is ErrToolNotFound", func(t *testing.T) {
		_, err := r.Resolve("rm -rf /")
		assert.ErrorIs(t, err, ErrToolNotFound)
	})

	t.Run("duplicate registration rejected", func(t *testing.T) {
		assert.ErrorIs(t, r.Register(echoTool()), ErrToolAlreadyRegistered)
	})

	t.Run("invalid tool rejected", func(t *testing.T) {
		assert.ErrorIs(t, r.Register(&Tool{Name: ""}), ErrToolNameEmpty)
		assert.ErrorIs(t, r.Register(&Tool{Name: "broken"}), ErrToolExecuteNil)
	})

	t.Run("names are sorted", func(t *testing.T) {
		require.NoError(t, r.Register(&Tool{
			Name: "another",
			Execute: func(ctx context.Context, args map[string]string) (string, []Artifact, error) {
				return "", nil, nil
			},
		}))
		assert.Equal(t, []string{"another", "echo"}, r.Names())
		assert.Equal(t, 2, r.Count())
		assert.True(t, r.Has("echo"))
		assert.False(t, r.Has("missing"))
	})
}

func TestInvoke(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool()))

	t.Run("success carries output and duration", func(t *testing.T) {
		inv, err := r.Invoke(context.Background(), "echo", map[string]string{"text": "hello"})
		require.NoError(t, err)
		assert.True(t, inv.Success())
		assert.Equal(t, "hello", inv.Output)
		assert.GreaterOrEqual(t, inv.DurationMs, int64(0))
	})

	t.Run("missing required arg is an in-band failure", func(t *testing.T) {
		inv, err := r.Invoke(context.Background(), "echo", nil)
		require.NoError(t, err)
		assert.False(t, inv.Success())
		assert.ErrorIs(t, inv.Err, ErrMissingRequiredArg)
	})

	t.Run("unknown tool is an error, not an invocation", func(t *testing.T) {
		_, err := r.Invoke(context.Background(), "ghost", nil)
		assert.ErrorIs(t, err, ErrToolNotFound)
	})

	t.Run("deadline propagates through context", func(t *testing.T) {
		r := NewRegistry()
		r.SetInvokeDeadline(10 * time.Millisecond)
		require.NoError(t, r.Register(&Tool{
			Name: "sleepy",
			Execute: func(ctx context.Context, args map[string]string) (string, []Artifact, error) {
				select {
				case <-ctx.Done():
					return "", nil, ctx.Err()
				case <-time.After(5 * time.Second):
					return "done", nil, nil
				}
			},
		}))

		inv, err := r.Invoke(context.Background(), "sleepy", nil)
		require.NoError(t, err)
		assert.False(t, inv.Success())
		assert.ErrorIs(t, inv.Err, context.DeadlineExceeded)
	})
}

func TestCheckPrecondition(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Tool{
		Name: "guarded",
		Precondition: func(ctx context.Context, args map[string]string) error {
			if args["ok"] != "yes" {
				return errors.New("not ok")
			}
			return nil
		},
		Execute: func(ctx context.Context, args map[string]string) (string, []Artifact, error) {
			return "", nil, nil
		},
	}))

	assert.NoError(t, r.CheckPrecondition(context.Background(), "guarded", map[string]string{"ok": "yes"}))
	assert.ErrorIs(t, r.CheckPrecondition(context.Background(), "guarded", nil), ErrPreconditionFailed)
	assert.ErrorIs(t, r.CheckPrecondition(context.Background(), "ghost", nil), ErrToolNotFound)

	t.Run("no precondition passes", func(t *testing.T) {
		require.NoError(t, r.Register(echoTool()))
		assert.NoError(t, r.CheckPrecondition(context.Background(), "echo", nil))
	})
}

func TestBuiltins(t *testing.T) {
	root := t.TempDir()
	r := Builtins(root)

	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0644))

	t.Run("registry holds the closed set", func(t *testing.T) {
		assert.Equal(t, []string{"file_glob", "file_read", "file_write", "lsp_check", "shell_exec"}, r.Names())
	})

	t.Run("file_read existing file", func(t *testing.T) {
		args := map[string]string{"path": "main.go"}
		require.NoError(t, r.CheckPrecondition(context.Background(), "file_read", args))

		inv, err := r.Invoke(context.Background(), "file_read", args)
		require.NoError(t, err)
		require.True(t, inv.Success())
		assert.Equal(t, "package main\n", inv.Output)
		require.Len(t, inv.Artifacts, 1)
		assert.Equal(t, "file_content", inv.Artifacts[0].Type)
	})

	t.Run("file_read missing file fails precondition", func(t *testing.T) {
		err := r.CheckPrecondition(context.Background(), "file_read", map[string]string{"path": "nope.go"})
		assert.ErrorIs(t, err, ErrPreconditionFailed)
	})

	t.Run("file_write then read back", func(t *testing.T) {
		inv, err := r.Invoke(context.Background(), "file_write", map[string]string{
			"path":    "sub/new.txt",
			"content": "hello",
		})
		require.NoError(t, err)
		require.True(t, inv.Success())

		data, err := os.ReadFile(filepath.Join(root, "sub", "new.txt"))
		require.NoError(t, err)
		assert.Equal(t, "hello", string(data))
	})

	t.Run("file_glob matches", func(t *testing.T) {
		inv, err := r.Invoke(context.Background(), "file_glob", map[string]string{"pattern": "*.go"})
		require.NoError(t, err)
		require.True(t, inv.Success())
		assert.Contains(t, inv.Output, "main.go")
	})

	t.Run("path escape refused", func(t *testing.T) {
		err := r.CheckPrecondition(context.Background(), "file_write", map[string]string{
			"path":    "../outside.txt",
			"content": "x",
		})
		assert.ErrorIs(t, err, ErrPreconditionFailed)
	})

	t.Run("shell_exec denies rm", func(t *testing.T) {
		err := r.CheckPrecondition(context.Background(), "shell_exec", map[string]string{"binary": "rm"})
		assert.ErrorIs(t, err, ErrPreconditionFailed)
	})
}

func TestParseDiagnostics(t *testing.T) {
	output := `# stepguard/internal/demo
lib.go:10:2: undefined: missingIdent [E0425]
util.go:3:1: warning: unused parameter (SA4006)
not a diagnostic line
`
	diags := parseDiagnostics(output)
	require.Len(t, diags, 2)

	assert.Equal(t, Diagnostic{
		Code: "E0425", Level: "error", File: "lib.go", Line: 10,
		Message: "undefined: missingIdent [E0425]",
	}, diags[0])
	assert.Equal(t, "SA4006", diags[1].Code)
	assert.Equal(t, "warning", diags[1].Level)
}
