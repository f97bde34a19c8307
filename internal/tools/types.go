// Package tools provides the closed tool registry that forms the
// system's security boundary: no string can execute unless it names a
// registered tool, and every invocation passes through the registry's
// precondition and deadline wrappers.
package tools

import (
	"context"
	"time"
)

// ToolCategory classifies tools for plan intent scoping.
type ToolCategory string

const (
	// CategoryRead covers tools that only inspect the workspace.
	CategoryRead ToolCategory = "read"

	// CategoryMutate covers tools that write files or run commands.
	CategoryMutate ToolCategory = "mutate"
)

// ToolSchema defines the expected arguments for a tool.
type ToolSchema struct {
	// Required lists argument keys that must be provided.
	Required []string
}

// Artifact is a typed payload produced by a tool invocation and
// persisted alongside its execution row. Content is marshalled to JSON
// by the store.
type Artifact struct {
	Type    string
	Content interface{}
}

// Diagnostic is one entry of a "diagnostics" artifact, as emitted by
// checker-shaped tools.
type Diagnostic struct {
	Code    string `json:"code"`
	Level   string `json:"level"`
	File    string `json:"file"`
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// PreconditionFunc checks whether a step may run. A non-nil error means
// the precondition failed; the error message becomes the step's failure
// reason.
type PreconditionFunc func(ctx context.Context, args map[string]string) error

// ExecuteFunc runs the tool. It returns the textual output plus any
// result artifacts to persist.
type ExecuteFunc func(ctx context.Context, args map[string]string) (string, []Artifact, error)

// Tool defines one member of the closed capability set.
type Tool struct {
	// Name is the unique identifier a plan step refers to.
	Name string

	// Description explains what the tool does.
	Description string

	// Category classifies the tool's effect on the workspace.
	Category ToolCategory

	// Schema defines the expected arguments.
	Schema ToolSchema

	// Precondition is evaluated before Execute. Optional.
	Precondition PreconditionFunc

	// Execute runs the tool with the given arguments.
	Execute ExecuteFunc
}

// Validate checks if the tool definition is valid.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Execute == nil {
		return ErrToolExecuteNil
	}
	return nil
}

// Invocation wraps the result of one tool invocation with metadata.
type Invocation struct {
	// ToolName identifies which tool was executed.
	ToolName string

	// Output is the textual output from the tool.
	Output string

	// Artifacts are the typed payloads the tool produced.
	Artifacts []Artifact

	// ExitCode is set for tools that run external processes.
	ExitCode *int

	// DurationMs is how long execution took.
	DurationMs int64

	// Err is set if the tool failed.
	Err error
}

// Success reports whether the invocation completed without error.
func (inv *Invocation) Success() bool {
	return inv.Err == nil
}

// DefaultInvokeDeadline bounds a single tool invocation when the caller
// does not configure one. Deadlines live here, not in the executor loop.
const DefaultInvokeDeadline = 30 * time.Second
