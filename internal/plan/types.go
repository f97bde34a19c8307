// Package plan defines the immutable plan model and the mutable
// authorization decision that gates whether a plan may execute.
//
// A Plan is produced by an external planner and never changes after
// construction. Authorization is a small in-memory state machine with
// no I/O; the executor performs its pre-flight checks against it before
// touching any storage.
package plan

import (
	"fmt"

	"github.com/google/uuid"
)

// Intent classifies what a plan is allowed to do to the workspace.
type Intent string

const (
	// IntentRead covers plans that only inspect the codebase.
	IntentRead Intent = "read"

	// IntentMutate covers plans that write files or run commands
	// with side effects.
	IntentMutate Intent = "mutate"
)

// Valid reports whether the intent is one of the known values.
func (i Intent) Valid() bool {
	return i == IntentRead || i == IntentMutate
}

// Step is one proposed tool invocation inside a plan.
type Step struct {
	// ID identifies the step within its plan.
	ID string `yaml:"id" json:"id"`

	// Tool names the registered tool to invoke. An unresolvable name
	// aborts the whole plan before anything runs.
	Tool string `yaml:"tool" json:"tool"`

	// Arguments are passed verbatim to the tool.
	Arguments map[string]string `yaml:"arguments" json:"arguments"`

	// Precondition describes the condition checked before the step runs.
	Precondition string `yaml:"precondition,omitempty" json:"precondition,omitempty"`

	// RequiresConfirmation asks the user before the step is invoked.
	RequiresConfirmation bool `yaml:"requires_confirmation,omitempty" json:"requires_confirmation,omitempty"`
}

// Plan is an ordered list of steps proposed by an external planner.
// It is immutable once created; execution never reorders or mutates it.
type Plan struct {
	// ID is the globally unique plan identifier.
	ID string `yaml:"plan_id" json:"plan_id"`

	// Intent declares read vs. mutate scope.
	Intent Intent `yaml:"intent" json:"intent"`

	// Steps run strictly in list order.
	Steps []Step `yaml:"steps" json:"steps"`

	// EvidenceIDs reference prior execution ids the planner consulted.
	EvidenceIDs []string `yaml:"evidence_ids,omitempty" json:"evidence_ids,omitempty"`
}

// New creates a plan with a fresh id.
func New(intent Intent, steps []Step) *Plan {
	return &Plan{
		ID:     uuid.NewString(),
		Intent: intent,
		Steps:  steps,
	}
}

// Validate checks structural well-formedness: a non-empty id, a known
// intent, at least one step, and non-empty tool names with unique step ids.
func (p *Plan) Validate() error {
	if p.ID == "" {
		return ErrPlanIDEmpty
	}
	if !p.Intent.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownIntent, p.Intent)
	}
	if len(p.Steps) == 0 {
		return ErrNoSteps
	}

	seen := make(map[string]struct{}, len(p.Steps))
	for i, step := range p.Steps {
		if step.ID == "" {
			return fmt.Errorf("%w: step %d", ErrStepIDEmpty, i)
		}
		if _, dup := seen[step.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateStepID, step.ID)
		}
		seen[step.ID] = struct{}{}
		if step.Tool == "" {
			return fmt.Errorf("%w: step %s", ErrToolNameEmpty, step.ID)
		}
	}
	return nil
}
