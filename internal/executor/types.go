// Package executor turns an approved plan into real side effects while
// enforcing the authorization gate, per-step preconditions and
// confirmations, halt-on-first-failure, and a durable audit trail.
//
// Failures come in two tiers. Pre-flight errors (not authorized, plan
// id mismatch, unresolvable tool) are returned as errors with zero
// audit writes. Step-level failures (precondition, confirmation denial,
// tool runtime error) are durably logged and reported as data inside
// the ExecutionResult; callers must inspect Status, not just the error,
// to detect partial failure.
package executor

import (
	"stepguard/internal/plan"
	"stepguard/internal/store"
)

// Status is the overall outcome of one plan execution.
type Status string

const (
	// StatusCompleted means every step ran and succeeded.
	StatusCompleted Status = "completed"

	// StatusFailed means execution halted at a failing step.
	StatusFailed Status = "failed"
)

// StepResult reports the outcome of one attempted step. Every attempted
// step yields exactly one, success or failure.
type StepResult struct {
	StepID       string `json:"step_id"`
	ToolName     string `json:"tool_name"`
	Success      bool   `json:"success"`
	ExecutionID  string `json:"execution_id"`
	DurationMs   int64  `json:"duration_ms"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// ExecutionResult is the outcome of executing one approved plan.
type ExecutionResult struct {
	Status      Status       `json:"status"`
	StepResults []StepResult `json:"step_results"`
}

// ExecutionDB is the write side of the audit trail the executor needs.
// *store.ExecutionStore satisfies it.
type ExecutionDB interface {
	RecordExecution(rec store.Execution, artifacts []store.Artifact) error
}

// GraphLinker augments the audit trail with execution-to-file edges.
// *store.GraphStore satisfies it; a nil linker disables augmentation.
type GraphLinker interface {
	LinkExecutionToFile(executionID, filePath string) error
}

// ConfirmationProvider asks the user before a step flagged
// requires_confirmation is invoked.
type ConfirmationProvider interface {
	Ask(step plan.Step) bool
}

// ProgressCallback observes the step lifecycle.
type ProgressCallback interface {
	OnStepStart(step plan.Step)
	OnStepComplete(result StepResult)
	OnStepFailed(result StepResult)
}

// AutoConfirm approves every confirmation request.
type AutoConfirm struct{}

// Ask always approves.
func (AutoConfirm) Ask(plan.Step) bool { return true }

// DenyAll refuses every confirmation request.
type DenyAll struct{}

// Ask always refuses.
func (DenyAll) Ask(plan.Step) bool { return false }

// NopProgress ignores all progress events.
type NopProgress struct{}

// OnStepStart ignores the event.
func (NopProgress) OnStepStart(plan.Step) {}

// OnStepComplete ignores the event.
func (NopProgress) OnStepComplete(StepResult) {}

// OnStepFailed ignores the event.
func (NopProgress) OnStepFailed(StepResult) {}
