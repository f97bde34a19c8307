package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"stepguard/internal/logging"
	"stepguard/internal/plan"
	"stepguard/internal/store"
	"stepguard/internal/tools"
)

// Executor runs approved plans strictly in step order against an
// injected storage handle. It holds no global state: the storage handle
// is borrowed for the duration of one Execute call and the plan is
// consumed, not mutated.
type Executor struct {
	registry *tools.Registry
	db       ExecutionDB
	graph    GraphLinker // optional, may be nil
	confirm  ConfirmationProvider
	progress ProgressCallback
}

// Option configures an Executor.
type Option func(*Executor)

// WithGraph attaches a code graph so successful steps with a path
// argument gain EXECUTED_ON edges.
func WithGraph(g GraphLinker) Option {
	return func(e *Executor) { e.graph = g }
}

// WithConfirmation sets the confirmation provider.
func WithConfirmation(c ConfirmationProvider) Option {
	return func(e *Executor) { e.confirm = c }
}

// WithProgress sets the progress callback.
func WithProgress(p ProgressCallback) Option {
	return func(e *Executor) { e.progress = p }
}

// New creates an Executor over the given registry and execution log.
// Confirmation defaults to DenyAll so a forgotten provider can never
// silently wave a confirmation-gated step through.
func New(registry *tools.Registry, db ExecutionDB, opts ...Option) *Executor {
	e := &Executor{
		registry: registry,
		db:       db,
		confirm:  DenyAll{},
		progress: NopProgress{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute validates the approved plan and runs its steps in order.
//
// Pre-flight failures (authorization, plan id mismatch, unresolvable
// tool names) return an error and write nothing. Once the loop starts,
// every attempted step is persisted under a fresh execution id and
// reported in the result; the first failing step halts the loop and the
// result carries StatusFailed instead of an error.
func (e *Executor) Execute(ctx context.Context, ap *plan.ApprovedPlan) (*ExecutionResult, error) {
	timer := logging.StartTimer(logging.CategoryExecutor, "Execute")
	defer timer.Stop()

	if ap == nil || ap.Plan == nil || ap.Auth == nil {
		return nil, ErrNilPlan
	}
	p := ap.Plan

	// Pre-flight: authorization gate, before any storage access.
	switch status := ap.Auth.Status(); status {
	case plan.StatusApproved:
		// proceed
	case plan.StatusRejected:
		logging.Executor("Refusing plan %s: authorization rejected", p.ID)
		return nil, fmt.Errorf("%w: plan %s", ErrRejected, p.ID)
	default:
		logging.Executor("Refusing plan %s: authorization status %s", p.ID, status)
		return nil, fmt.Errorf("%w: plan %s", ErrNotAuthorized, p.ID)
	}
	if ap.Auth.PlanID() != p.ID {
		logging.Executor("Refusing plan %s: authorization issued for %s", p.ID, ap.Auth.PlanID())
		return nil, fmt.Errorf("%w: authorization is for %s", ErrPlanIDMismatch, ap.Auth.PlanID())
	}

	// Pre-flight: resolve every tool name up front. This lookup is the
	// sole gate between a plan's strings and real side effects; one
	// unknown name aborts the whole plan with zero rows written.
	for _, step := range p.Steps {
		if _, err := e.registry.Resolve(step.Tool); err != nil {
			logging.Executor("Refusing plan %s: step %s names unknown tool %q", p.ID, step.ID, step.Tool)
			return nil, fmt.Errorf("step %s: %w", step.ID, err)
		}
	}

	// The pair is spent only after pre-flight passes, so a plan refused
	// here can be fixed up (approved, re-registered) and retried.
	if err := ap.Consume(); err != nil {
		return nil, err
	}

	logging.Executor("Executing plan %s (%d steps, intent=%s)", p.ID, len(p.Steps), p.Intent)

	result := &ExecutionResult{
		Status:      StatusCompleted,
		StepResults: make([]StepResult, 0, len(p.Steps)),
	}

	for _, step := range p.Steps {
		e.progress.OnStepStart(step)

		sr, err := e.runStep(ctx, step)
		if err != nil {
			// Persistence fault: surfaced, never swallowed.
			return nil, err
		}

		result.StepResults = append(result.StepResults, *sr)
		if sr.Success {
			e.progress.OnStepComplete(*sr)
			continue
		}

		e.progress.OnStepFailed(*sr)
		logging.Executor("Plan %s halted at step %s: %s", p.ID, step.ID, sr.ErrorMessage)
		result.Status = StatusFailed
		break
	}

	logging.Executor("Plan %s finished: %s (%d/%d steps)",
		p.ID, result.Status, len(result.StepResults), len(p.Steps))
	return result, nil
}

// runStep attempts one step: precondition, confirmation, invocation,
// then exactly one persisted execution row under a fresh id. The
// returned error is reserved for storage faults.
func (e *Executor) runStep(ctx context.Context, step plan.Step) (*StepResult, error) {
	start := time.Now()

	if err := e.registry.CheckPrecondition(ctx, step.Tool, step.Arguments); err != nil {
		return e.persistStep(step, &tools.Invocation{
			ToolName:   step.Tool,
			Err:        err,
			DurationMs: time.Since(start).Milliseconds(),
		})
	}

	if step.RequiresConfirmation && !e.confirm.Ask(step) {
		logging.ExecutorDebug("Confirmation denied for step %s", step.ID)
		return e.persistStep(step, &tools.Invocation{
			ToolName:   step.Tool,
			Err:        fmt.Errorf("confirmation denied for step %s", step.ID),
			DurationMs: time.Since(start).Milliseconds(),
		})
	}

	inv, err := e.registry.Invoke(ctx, step.Tool, step.Arguments)
	if err != nil {
		// The up-front resolution pass makes this unreachable unless the
		// registry changed mid-plan; refuse rather than log a phantom row.
		return nil, fmt.Errorf("step %s: %w", step.ID, err)
	}
	return e.persistStep(step, inv)
}

// persistStep writes the execution row plus artifacts and builds the
// step result. Failure to persist is a storage error returned to the
// caller.
func (e *Executor) persistStep(step plan.Step, inv *tools.Invocation) (*StepResult, error) {
	executionID := uuid.NewString()

	argsJSON, err := json.Marshal(step.Arguments)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal arguments of step %s: %v", store.ErrStorage, step.ID, err)
	}

	errMsg := ""
	if inv.Err != nil {
		errMsg = inv.Err.Error()
	}

	rec := store.Execution{
		ID:            executionID,
		ToolName:      step.Tool,
		ArgumentsJSON: string(argsJSON),
		Timestamp:     time.Now().UnixMilli(),
		Success:       inv.Err == nil,
		ExitCode:      inv.ExitCode,
		DurationMs:    inv.DurationMs,
		ErrorMessage:  errMsg,
	}

	artifacts := make([]store.Artifact, 0, len(inv.Artifacts))
	for _, a := range inv.Artifacts {
		artifacts = append(artifacts, store.Artifact{Type: a.Type, Content: a.Content})
	}

	if err := e.db.RecordExecution(rec, artifacts); err != nil {
		return nil, err
	}

	if rec.Success && e.graph != nil {
		if path := step.Arguments["path"]; path != "" {
			// Best-effort augmentation: a graph fault never fails the step.
			if err := e.graph.LinkExecutionToFile(executionID, path); err != nil {
				logging.Get(logging.CategoryExecutor).Warn("Graph link failed for %s: %v", executionID, err)
			}
		}
	}

	return &StepResult{
		StepID:       step.ID,
		ToolName:     step.Tool,
		Success:      rec.Success,
		ExecutionID:  executionID,
		DurationMs:   inv.DurationMs,
		ErrorMessage: errMsg,
	}, nil
}
