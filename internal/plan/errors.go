package plan

import "errors"

// Plan validation errors.
var (
	// ErrPlanIDEmpty is returned when a plan has no id.
	ErrPlanIDEmpty = errors.New("plan id cannot be empty")

	// ErrUnknownIntent is returned for an intent outside the known set.
	ErrUnknownIntent = errors.New("unknown intent")

	// ErrNoSteps is returned when a plan has no steps.
	ErrNoSteps = errors.New("plan has no steps")

	// ErrStepIDEmpty is returned when a step has no id.
	ErrStepIDEmpty = errors.New("step id cannot be empty")

	// ErrDuplicateStepID is returned when two steps share an id.
	ErrDuplicateStepID = errors.New("duplicate step id")

	// ErrToolNameEmpty is returned when a step names no tool.
	ErrToolNameEmpty = errors.New("step tool name cannot be empty")
)

// Authorization state machine errors.
var (
	// ErrAlreadyDecided is returned when approving or rejecting an
	// authorization that is no longer pending.
	ErrAlreadyDecided = errors.New("authorization already decided")

	// ErrNotApproved is returned when revoking an authorization that
	// was never approved.
	ErrNotApproved = errors.New("authorization is not approved")

	// ErrPlanConsumed is returned when an approved plan is executed twice.
	ErrPlanConsumed = errors.New("approved plan already consumed")
)
