package executor

import "errors"

// Pre-flight errors. All of them abort the call before any audit write.
var (
	// ErrNotAuthorized is returned when the authorization is still pending.
	ErrNotAuthorized = errors.New("plan is not authorized")

	// ErrRejected is returned when the authorization was rejected or revoked.
	ErrRejected = errors.New("plan authorization rejected")

	// ErrPlanIDMismatch is returned when the authorization was issued
	// for a different plan.
	ErrPlanIDMismatch = errors.New("authorization plan id does not match plan")

	// ErrNilPlan is returned when the approved plan or one of its
	// halves is missing.
	ErrNilPlan = errors.New("nil plan or authorization")
)
