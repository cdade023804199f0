package entity

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ValidationFailedError carries the rule violations that stopped a request
// before anything was persisted. Always caller-fixable.
type ValidationFailedError struct {
	Violations []RuleViolation
}

func (e *ValidationFailedError) Error() string {
	if len(e.Violations) == 1 {
		return fmt.Sprintf("validation failed: %s: %s", e.Violations[0].Rule, e.Violations[0].Message)
	}
	return fmt.Sprintf("validation failed: %d rule violations", len(e.Violations))
}

// NewValidationFailedError wraps rule violations into an error
func NewValidationFailedError(violations []RuleViolation) *ValidationFailedError {
	return &ValidationFailedError{Violations: violations}
}

// IsValidationFailed reports whether err is a ValidationFailedError
func IsValidationFailed(err error) bool {
	var vErr *ValidationFailedError
	return errors.As(err, &vErr)
}

// ApprovalNotFoundError signals a resolve call against an unknown approval
type ApprovalNotFoundError struct {
	ApprovalID uuid.UUID
}

func (e *ApprovalNotFoundError) Error() string {
	return fmt.Sprintf("approval not found: %s", e.ApprovalID)
}

// ApprovalConflictError signals a second resolve on an already resolved
// approval. The first decision is the one that sticks.
type ApprovalConflictError struct {
	ApprovalID uuid.UUID
	Status     ApprovalStatus
}

func (e *ApprovalConflictError) Error() string {
	return fmt.Sprintf("approval %s already resolved as %s", e.ApprovalID, e.Status)
}

// NewApprovalConflictError builds the double-resolve conflict
func NewApprovalConflictError(id uuid.UUID, status ApprovalStatus) *ApprovalConflictError {
	return &ApprovalConflictError{ApprovalID: id, Status: status}
}

// StateConflictError signals that a guarded status transition found the
// record in an unexpected state, usually due to a concurrent caller. The
// transition is rejected, never silently overwritten.
type StateConflictError struct {
	ActionID uuid.UUID
	Expected ActionStatus
	Actual   ActionStatus
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("action %s is %s, expected %s", e.ActionID, e.Actual, e.Expected)
}

// InvalidStateError signals an operation invoked against an action whose
// status does not permit it (e.g. rolling back a failed action)
type InvalidStateError struct {
	ActionID  uuid.UUID
	Status    ActionStatus
	Operation string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s action %s in status %s", e.Operation, e.ActionID, e.Status)
}

// AlreadyRolledBackError signals a second rollback of the same action
type AlreadyRolledBackError struct {
	ActionID uuid.UUID
}

func (e *AlreadyRolledBackError) Error() string {
	return fmt.Sprintf("action %s has already been rolled back", e.ActionID)
}

// ExecutionError wraps a failed mutation against the target system
type ExecutionError struct {
	ActionID  uuid.UUID
	Transient bool
	Cause     error
}

func (e *ExecutionError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("execution of action %s failed (%s): %v", e.ActionID, kind, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// RollbackError signals that a compensating mutation failed. The action
// stays rolled_back=false for manual follow-up; a rollback never
// partially applies.
type RollbackError struct {
	ActionID uuid.UUID
	Cause    error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback of action %s failed: %v", e.ActionID, e.Cause)
}

func (e *RollbackError) Unwrap() error { return e.Cause }

// NotFoundError signals a lookup miss on any of the durable tables
type NotFoundError struct {
	Kind string
	ID   uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}
