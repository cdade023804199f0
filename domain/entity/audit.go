package entity

import (
	"time"

	"github.com/google/uuid"
)

// AuditEvent is one append-only entry in the compliance ledger. Events are
// recorded for every state transition, independent of the mutable action
// record, and are never updated or deleted.
type AuditEvent struct {
	ID         uuid.UUID         `json:"id" db:"id"`
	ActionID   uuid.UUID         `json:"action_id" db:"action_id"`
	BatchID    *uuid.UUID        `json:"batch_id,omitempty" db:"batch_id"`
	EventType  string            `json:"event_type" db:"event_type"`
	FromStatus ActionStatus      `json:"from_status,omitempty" db:"from_status"`
	ToStatus   ActionStatus      `json:"to_status,omitempty" db:"to_status"`
	Actor      string            `json:"actor" db:"actor"`
	Detail     string            `json:"detail,omitempty" db:"detail"`
	Metadata   map[string]string `json:"metadata,omitempty" db:"metadata"`
	CreatedAt  time.Time         `json:"created_at" db:"created_at"`
}

// Audit event types beyond plain status transitions
const (
	AuditEventTransition        = "status_transition"
	AuditEventValidationFailed  = "validation_failed"
	AuditEventApprovalRequested = "approval_requested"
	AuditEventApprovalResolved  = "approval_resolved"
	AuditEventApprovalExpired   = "approval_expired"
	AuditEventApprovalReminder  = "approval_reminder"
	AuditEventRolledBack        = "rolled_back"
	AuditEventRollbackFailed    = "rollback_failed"
	AuditEventBatchStarted      = "batch_started"
	AuditEventBatchFinished     = "batch_finished"
)

// NewTransitionEvent records a status transition on an action
func NewTransitionEvent(action *ActionRecord, from, to ActionStatus, actor, detail string) *AuditEvent {
	return &AuditEvent{
		ID:         uuid.New(),
		ActionID:   action.ID,
		BatchID:    action.BatchID,
		EventType:  AuditEventTransition,
		FromStatus: from,
		ToStatus:   to,
		Actor:      actor,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	}
}

// NewAuditEvent records a non-transition ledger entry
func NewAuditEvent(actionID uuid.UUID, eventType, actor, detail string) *AuditEvent {
	return &AuditEvent{
		ID:        uuid.New(),
		ActionID:  actionID,
		EventType: eventType,
		Actor:     actor,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
}
