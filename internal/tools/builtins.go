package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// allowedBinaries is the shell_exec allow list. Anything not listed is
// refused before a process is spawned.
var allowedBinaries = map[string]bool{
	"go":    true,
	"git":   true,
	"grep":  true,
	"ls":    true,
	"mkdir": true,
	"bash":  true,
	"sh":    true,
	"rm":    false, // Explicitly denied.
}

// Builtins returns a registry populated with the closed built-in tool
// set, rooted at the given workspace directory.
func Builtins(root string) *Registry {
	r := NewRegistry()
	r.MustRegister(fileReadTool(root))
	r.MustRegister(fileWriteTool(root))
	r.MustRegister(fileGlobTool(root))
	r.MustRegister(shellExecTool(root))
	r.MustRegister(lspCheckTool(root))
	return r
}

// resolvePath joins rel onto root and refuses escapes.
func resolvePath(root, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		rel = strings.TrimPrefix(rel, string(filepath.Separator))
	}
	abs := filepath.Join(root, filepath.Clean(rel))
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathOutsideRoot, rel)
	}
	return abs, nil
}

func fileReadTool(root string) *Tool {
	return &Tool{
		Name:        "file_read",
		Description: "Read a file from the workspace",
		Category:    CategoryRead,
		Schema:      ToolSchema{Required: []string{"path"}},
		Precondition: func(ctx context.Context, args map[string]string) error {
			abs, err := resolvePath(root, args["path"])
			if err != nil {
				return err
			}
			if _, err := os.Stat(abs); err != nil {
				return fmt.Errorf("file not readable: %s", args["path"])
			}
			return nil
		},
		Execute: func(ctx context.Context, args map[string]string) (string, []Artifact, error) {
			abs, err := resolvePath(root, args["path"])
			if err != nil {
				return "", nil, err
			}
			data, err := os.ReadFile(abs)
			if err != nil {
				return "", nil, fmt.Errorf("failed to read %s: %w", args["path"], err)
			}
			artifacts := []Artifact{{
				Type: "file_content",
				Content: map[string]interface{}{
					"path": args["path"],
					"size": len(data),
				},
			}}
			return string(data), artifacts, nil
		},
	}
}

func fileWriteTool(root string) *Tool {
	return &Tool{
		Name:        "file_write",
		Description: "Write a file in the workspace, creating parent directories",
		Category:    CategoryMutate,
		Schema:      ToolSchema{Required: []string{"path", "content"}},
		Precondition: func(ctx context.Context, args map[string]string) error {
			_, err := resolvePath(root, args["path"])
			return err
		},
		Execute: func(ctx context.Context, args map[string]string) (string, []Artifact, error) {
			abs, err := resolvePath(root, args["path"])
			if err != nil {
				return "", nil, err
			}
			if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
				return "", nil, fmt.Errorf("failed to create directory: %w", err)
			}
			content := []byte(args["content"])
			if err := os.WriteFile(abs, content, 0644); err != nil {
				return "", nil, fmt.Errorf("failed to write %s: %w", args["path"], err)
			}
			artifacts := []Artifact{{
				Type: "file_write",
				Content: map[string]interface{}{
					"path":  args["path"],
					"bytes": len(content),
				},
			}}
			return fmt.Sprintf("wrote %d bytes to %s", len(content), args["path"]), artifacts, nil
		},
	}
}

func fileGlobTool(root string) *Tool {
	return &Tool{
		Name:        "file_glob",
		Description: "List workspace files matching a glob pattern",
		Category:    CategoryRead,
		Schema:      ToolSchema{Required: []string{"pattern"}},
		Execute: func(ctx context.Context, args map[string]string) (string, []Artifact, error) {
			matches, err := filepath.Glob(filepath.Join(root, args["pattern"]))
			if err != nil {
				return "", nil, fmt.Errorf("bad glob pattern %q: %w", args["pattern"], err)
			}
			rels := make([]string, 0, len(matches))
			for _, m := range matches {
				if rel, err := filepath.Rel(root, m); err == nil {
					rels = append(rels, rel)
				}
			}
			artifacts := []Artifact{{
				Type: "glob_matches",
				Content: map[string]interface{}{
					"pattern": args["pattern"],
					"matches": rels,
				},
			}}
			return strings.Join(rels, "\n"), artifacts, nil
		},
	}
}

func shellExecTool(root string) *Tool {
	return &Tool{
		Name:        "shell_exec",
		Description: "Run an allow-listed binary in the workspace",
		Category:    CategoryMutate,
		Schema:      ToolSchema{Required: []string{"binary"}},
		Precondition: func(ctx context.Context, args map[string]string) error {
			if allowed, exists := allowedBinaries[args["binary"]]; !exists || !allowed {
				return fmt.Errorf("%w: %s", ErrBinaryNotAllowed, args["binary"])
			}
			return nil
		},
		Execute: func(ctx context.Context, args map[string]string) (string, []Artifact, error) {
			// Defense in depth: the precondition already filtered.
			if allowed, exists := allowedBinaries[args["binary"]]; !exists || !allowed {
				return "", nil, fmt.Errorf("%w: %s", ErrBinaryNotAllowed, args["binary"])
			}

			var argv []string
			if args["args"] != "" {
				argv = strings.Fields(args["args"])
			}
			cmd := exec.CommandContext(ctx, args["binary"], argv...)
			cmd.Dir = root

			output, err := cmd.CombinedOutput()
			if err != nil {
				return string(output), nil, fmt.Errorf("command failed: %w, output: %s", err, string(output))
			}
			return string(output), nil, nil
		},
	}
}

func lspCheckTool(root string) *Tool {
	return &Tool{
		Name:        "lsp_check",
		Description: "Run a diagnostics checker over a workspace path",
		Category:    CategoryRead,
		Schema:      ToolSchema{Required: []string{"path"}},
		Precondition: func(ctx context.Context, args map[string]string) error {
			abs, err := resolvePath(root, args["path"])
			if err != nil {
				return err
			}
			if _, err := os.Stat(abs); err != nil {
				return fmt.Errorf("path not found: %s", args["path"])
			}
			return nil
		},
		Execute: func(ctx context.Context, args map[string]string) (string, []Artifact, error) {
			cmd := exec.CommandContext(ctx, "go", "vet", "./"+filepath.Clean(args["path"]))
			cmd.Dir = root

			output, _ := cmd.CombinedOutput()
			diags := parseDiagnostics(string(output))

			artifacts := []Artifact{{Type: "diagnostics", Content: diags}}
			return string(output), artifacts, nil
		},
	}
}

// parseDiagnostics extracts compiler-style diagnostics from checker
// output. Pattern: file.go:line:col: message.
func parseDiagnostics(output string) []Diagnostic {
	diags := make([]Diagnostic, 0)
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.Contains(line, ".go:") {
			continue
		}
		parts := strings.SplitN(line, ":", 4)
		if len(parts) < 4 {
			continue
		}
		lineNum, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}

		msg := strings.TrimSpace(parts[3])
		level := "error"
		if strings.Contains(msg, "warning") {
			level = "warning"
		}
		diags = append(diags, Diagnostic{
			Code:    diagnosticCode(msg),
			Level:   level,
			File:    parts[0],
			Line:    lineNum,
			Message: msg,
		})
	}
	return diags
}

// diagnosticCode extracts a bracketed code like [E0425] or (SA4006)
// from a diagnostic message, falling back to "vet".
func diagnosticCode(msg string) string {
	for _, pair := range []string{"[]", "()"} {
		start := strings.Index(msg, pair[:1])
		end := strings.Index(msg, pair[1:])
		if start >= 0 && end > start+1 {
			code := msg[start+1 : end]
			if len(code) <= 12 && !strings.ContainsAny(code, " \t") {
				return code
			}
		}
	}
	return "vet"
}

// exitCodeOf unwraps an *exec.ExitError from a tool failure.
func exitCodeOf(err error) (int, bool) {
	if err == nil {
		return 0, false
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), true
	}
	return 0, false
}
