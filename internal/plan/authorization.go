package plan

import (
	"fmt"
	"sync"
)

// AuthStatus is the decision state of a plan authorization.
type AuthStatus string

const (
	// StatusPending means no decision has been made yet.
	StatusPending AuthStatus = "pending"

	// StatusApproved means the plan may execute.
	StatusApproved AuthStatus = "approved"

	// StatusRejected is terminal: the plan may never execute.
	StatusRejected AuthStatus = "rejected"
)

// Authorization gates whether a plan may run. Transitions:
//
//	Pending  -> Approved   (Approve)
//	Pending  -> Rejected   (Reject)
//	Approved -> Rejected   (Revoke)
//
// The status never reverts to Pending. Thread-safe; no I/O.
type Authorization struct {
	mu     sync.Mutex
	planID string
	status AuthStatus
}

// NewAuthorization creates a pending authorization for the given plan id.
func NewAuthorization(planID string) *Authorization {
	return &Authorization{planID: planID, status: StatusPending}
}

// PlanID returns the plan id this authorization was issued for.
func (a *Authorization) PlanID() string {
	return a.planID
}

// Status returns the current decision state.
func (a *Authorization) Status() AuthStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// IsApproved reports whether the plan may execute right now.
func (a *Authorization) IsApproved() bool {
	return a.Status() == StatusApproved
}

// Approve moves Pending to Approved.
func (a *Authorization) Approve() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status != StatusPending {
		return fmt.Errorf("%w: status is %s", ErrAlreadyDecided, a.status)
	}
	a.status = StatusApproved
	return nil
}

// Reject moves Pending or Approved to Rejected. Rejecting an already
// rejected authorization is a no-op.
func (a *Authorization) Reject() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = StatusRejected
	return nil
}

// Revoke withdraws a previously granted approval.
func (a *Authorization) Revoke() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status != StatusApproved {
		return fmt.Errorf("%w: status is %s", ErrNotApproved, a.status)
	}
	a.status = StatusRejected
	return nil
}

// ApprovedPlan pairs a plan with its authorization for exactly one
// execution. The executor consumes it; a second execution attempt fails
// with ErrPlanConsumed before any storage access.
type ApprovedPlan struct {
	Plan *Plan
	Auth *Authorization

	mu       sync.Mutex
	consumed bool
}

// NewApprovedPlan pairs a plan with its authorization.
func NewApprovedPlan(p *Plan, auth *Authorization) *ApprovedPlan {
	return &ApprovedPlan{Plan: p, Auth: auth}
}

// Consume marks the pair as used. The first call returns nil, every
// later call returns ErrPlanConsumed.
func (ap *ApprovedPlan) Consume() error {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	if ap.consumed {
		return ErrPlanConsumed
	}
	ap.consumed = true
	return nil
}
