package entity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RiskLevel is a coarse ordinal driving the approval requirement
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// rank orders risk levels for comparison
func (r RiskLevel) rank() int {
	switch r {
	case RiskLevelLow:
		return 0
	case RiskLevelMedium:
		return 1
	case RiskLevelHigh:
		return 2
	case RiskLevelCritical:
		return 3
	}
	return -1
}

// AtLeast reports whether r is the same or higher risk than other
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return r.rank() >= other.rank()
}

// ApprovalStatus is the lifecycle state of an approval record
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusDenied   ApprovalStatus = "denied"
	ApprovalStatusExpired  ApprovalStatus = "expired"
)

// ApprovalDecision is a caller-supplied resolution
type ApprovalDecision string

const (
	ApprovalDecisionApprove ApprovalDecision = "approve"
	ApprovalDecisionDeny    ApprovalDecision = "deny"
)

// ApprovalRecord is the human-in-the-loop checkpoint, one-to-one with an
// action that requires approval. Column-exact with action_approvals.
type ApprovalRecord struct {
	ID              uuid.UUID      `json:"id" db:"id"`
	ActionID        uuid.UUID      `json:"action_id" db:"action_id"`
	RequesterID     uuid.UUID      `json:"requester_id" db:"requester_id"`
	ApproverID      *uuid.UUID     `json:"approver_id,omitempty" db:"approver_id"`
	ApprovalStatus  ApprovalStatus `json:"approval_status" db:"approval_status"`
	ApprovalReason  string         `json:"approval_reason" db:"approval_reason"`
	RiskLevel       RiskLevel      `json:"risk_level" db:"risk_level"`
	EstimatedImpact float64        `json:"estimated_impact" db:"estimated_impact"`

	RequestedAt time.Time  `json:"requested_at" db:"requested_at"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty" db:"reviewed_at"`
	ReviewNotes string     `json:"review_notes,omitempty" db:"review_notes"`

	AutoApproved       bool       `json:"auto_approved" db:"auto_approved"`
	NotificationSent   bool       `json:"notification_sent" db:"notification_sent"`
	NotificationSentAt *time.Time `json:"notification_sent_at,omitempty" db:"notification_sent_at"`
	ReminderCount      int        `json:"reminder_count" db:"reminder_count"`
	LastReminder       *time.Time `json:"last_reminder,omitempty" db:"last_reminder"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" db:"expires_at"`
}

// NewApprovalRecord creates a pending approval for an action
func NewApprovalRecord(action *ActionRecord, riskLevel RiskLevel, reason string, ttl time.Duration) *ApprovalRecord {
	now := time.Now().UTC()
	rec := &ApprovalRecord{
		ID:              uuid.New(),
		ActionID:        action.ID,
		RequesterID:     action.UserID,
		ApprovalStatus:  ApprovalStatusPending,
		ApprovalReason:  reason,
		RiskLevel:       riskLevel,
		EstimatedImpact: action.ExpectedImpact,
		RequestedAt:     now,
		CreatedAt:       now,
	}
	if ttl > 0 {
		expires := now.Add(ttl)
		rec.ExpiresAt = &expires
	}
	return rec
}

// IsResolved reports whether a decision (or expiry) has already landed
func (a *ApprovalRecord) IsResolved() bool {
	return a.ApprovalStatus != ApprovalStatusPending
}

// IsExpired reports whether the pending approval is past its TTL
func (a *ApprovalRecord) IsExpired(now time.Time) bool {
	return a.ApprovalStatus == ApprovalStatusPending &&
		a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}

// Resolve applies a decision. The caller must hold the pending guard;
// resolving twice is a conflict, never an idempotent no-op.
func (a *ApprovalRecord) Resolve(decision ApprovalDecision, approver uuid.UUID, notes string) error {
	if a.IsResolved() {
		return NewApprovalConflictError(a.ID, a.ApprovalStatus)
	}
	now := time.Now().UTC()
	switch decision {
	case ApprovalDecisionApprove:
		a.ApprovalStatus = ApprovalStatusApproved
	case ApprovalDecisionDeny:
		a.ApprovalStatus = ApprovalStatusDenied
	default:
		return fmt.Errorf("unknown approval decision: %s", decision)
	}
	a.ApproverID = &approver
	a.ReviewedAt = &now
	a.ReviewNotes = notes
	return nil
}

// MarkExpired transitions a pending approval past its TTL. Expired is
// treated as denied by the pipeline.
func (a *ApprovalRecord) MarkExpired() {
	now := time.Now().UTC()
	a.ApprovalStatus = ApprovalStatusExpired
	a.ReviewedAt = &now
}

// RecordReminder bumps the reminder counters after a notification sweep
func (a *ApprovalRecord) RecordReminder() {
	now := time.Now().UTC()
	a.ReminderCount++
	a.LastReminder = &now
	if !a.NotificationSent {
		a.NotificationSent = true
		a.NotificationSentAt = &now
	}
}
