package entity

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ActionType represents the type of business action being executed
type ActionType string

const (
	ActionTypePriceUpdate    ActionType = "price_update"
	ActionTypeReorderStock   ActionType = "reorder_stock"
	ActionTypeLaunchCampaign ActionType = "launch_campaign"
	ActionTypeAdjustDiscount ActionType = "adjust_discount"
	ActionTypeBulkUpdate     ActionType = "bulk_update"
)

// KnownActionTypes lists every action type the engine can execute
var KnownActionTypes = []ActionType{
	ActionTypePriceUpdate,
	ActionTypeReorderStock,
	ActionTypeLaunchCampaign,
	ActionTypeAdjustDiscount,
	ActionTypeBulkUpdate,
}

// IsKnown reports whether the action type is one the engine understands
func (t ActionType) IsKnown() bool {
	for _, known := range KnownActionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ActionStatus represents the lifecycle state of an action record
type ActionStatus string

const (
	ActionStatusPending          ActionStatus = "pending"
	ActionStatusValidated        ActionStatus = "validated"
	ActionStatusAwaitingApproval ActionStatus = "awaiting_approval"
	ActionStatusApproved         ActionStatus = "approved"
	ActionStatusExecuting        ActionStatus = "executing"
	ActionStatusCompleted        ActionStatus = "completed"
	ActionStatusFailed           ActionStatus = "failed"
	ActionStatusRejected         ActionStatus = "rejected"
	ActionStatusSkipped          ActionStatus = "skipped"
)

// IsTerminal reports whether no further pipeline transition can occur.
// Rollback is an annotation on "completed", not a pipeline stage.
func (s ActionStatus) IsTerminal() bool {
	switch s {
	case ActionStatusCompleted, ActionStatusFailed, ActionStatusRejected, ActionStatusSkipped:
		return true
	}
	return false
}

// SyncState tracks propagation of a completed action to one external system
type SyncState struct {
	Status    string    `json:"status"` // pending, synced, failed
	Detail    string    `json:"detail,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	SyncStatusPending = "pending"
	SyncStatusSynced  = "synced"
	SyncStatusFailed  = "failed"
)

// ActionRequest is the caller-supplied input to the pipeline. It is never
// persisted as-is; a validated request becomes an ActionRecord.
type ActionRequest struct {
	UserID          uuid.UUID     `json:"user_id"`
	ActionType      ActionType    `json:"action_type"`
	TargetSKU       string        `json:"target_sku,omitempty"`
	TargetSKUs      []string      `json:"target_skus,omitempty"`
	Payload         ActionPayload `json:"payload"`
	Reason          string        `json:"reason"`
	ExpectedImpact  float64       `json:"expected_impact"`
	ConfidenceScore float64       `json:"confidence_score"`
	InitiatedBy     string        `json:"initiated_by"`
}

// SKUs returns every SKU the request touches, primary first, de-duplicated.
func (r *ActionRequest) SKUs() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(sku string) {
		sku = strings.TrimSpace(sku)
		if sku == "" {
			return
		}
		if _, ok := seen[sku]; ok {
			return
		}
		seen[sku] = struct{}{}
		out = append(out, sku)
	}
	add(r.TargetSKU)
	for _, sku := range r.TargetSKUs {
		add(sku)
	}
	return out
}

// ActionRecord is the durable system of record for one executed (or
// attempted) action. Column-exact with the actions table.
type ActionRecord struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	UserID          uuid.UUID       `json:"user_id" db:"user_id"`
	ActionType      ActionType      `json:"action_type" db:"action_type"`
	TargetSKU       string          `json:"target_sku" db:"target_sku"`
	TargetSKUs      []string        `json:"target_skus" db:"target_skus"`
	ActionPayload   json.RawMessage `json:"action_payload" db:"action_payload"`
	Reason          string          `json:"reason" db:"reason"`
	ExpectedImpact  float64         `json:"expected_impact" db:"expected_impact"`
	ConfidenceScore float64         `json:"confidence_score" db:"confidence_score"`
	Status          ActionStatus    `json:"status" db:"status"`
	InitiatedBy     string          `json:"initiated_by" db:"initiated_by"`

	InitiatedAt time.Time  `json:"initiated_at" db:"initiated_at"`
	ValidatedAt *time.Time `json:"validated_at,omitempty" db:"validated_at"`
	ExecutedAt  *time.Time `json:"executed_at,omitempty" db:"executed_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`

	RequiresApproval bool       `json:"requires_approval" db:"requires_approval"`
	ApprovedBy       *uuid.UUID `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt       *time.Time `json:"approved_at,omitempty" db:"approved_at"`

	ActualImpact   *float64           `json:"actual_impact,omitempty" db:"actual_impact"`
	SuccessMetrics map[string]float64 `json:"success_metrics,omitempty" db:"success_metrics"`
	ErrorMessage   string             `json:"error_message,omitempty" db:"error_message"`

	// RollbackData is the pre-mutation snapshot. Written atomically with the
	// transition into "executing" and never mutated afterward. It is the only
	// input the rollback path may use.
	RollbackData json.RawMessage `json:"rollback_data,omitempty" db:"rollback_data"`
	RolledBack   bool            `json:"rolled_back" db:"rolled_back"`
	RolledBackAt *time.Time      `json:"rolled_back_at,omitempty" db:"rolled_back_at"`
	RolledBackBy string          `json:"rolled_back_by,omitempty" db:"rolled_back_by"`

	ExternalRefs    map[string]string    `json:"external_refs,omitempty" db:"external_refs"`
	AffectedSystems []string             `json:"affected_systems,omitempty" db:"affected_systems"`
	SyncStatus      map[string]SyncState `json:"sync_status,omitempty" db:"sync_status"`

	BatchID *uuid.UUID `json:"batch_id,omitempty" db:"batch_id"`
}

// NewActionRecord creates a pending action record from a request
func NewActionRecord(req *ActionRequest) *ActionRecord {
	payload, _ := json.Marshal(req.Payload)
	initiatedBy := req.InitiatedBy
	if initiatedBy == "" {
		initiatedBy = req.UserID.String()
	}
	return &ActionRecord{
		ID:              uuid.New(),
		UserID:          req.UserID,
		ActionType:      req.ActionType,
		TargetSKU:       req.TargetSKU,
		TargetSKUs:      req.SKUs(),
		ActionPayload:   payload,
		Reason:          req.Reason,
		ExpectedImpact:  req.ExpectedImpact,
		ConfidenceScore: req.ConfidenceScore,
		Status:          ActionStatusPending,
		InitiatedBy:     initiatedBy,
		InitiatedAt:     time.Now().UTC(),
		SuccessMetrics:  make(map[string]float64),
		ExternalRefs:    make(map[string]string),
		SyncStatus:      make(map[string]SyncState),
	}
}

// MarkValidated transitions the record out of pending
func (a *ActionRecord) MarkValidated() {
	now := time.Now().UTC()
	a.Status = ActionStatusValidated
	a.ValidatedAt = &now
}

// MarkAwaitingApproval parks the record behind the approval gate
func (a *ActionRecord) MarkAwaitingApproval() {
	a.RequiresApproval = true
	a.Status = ActionStatusAwaitingApproval
}

// MarkApproved records the approval decision and unblocks execution
func (a *ActionRecord) MarkApproved(approver uuid.UUID) {
	now := time.Now().UTC()
	a.Status = ActionStatusApproved
	a.ApprovedBy = &approver
	a.ApprovedAt = &now
}

// MarkRejected is terminal; a denied approval lands here
func (a *ActionRecord) MarkRejected(reason string) {
	now := time.Now().UTC()
	a.Status = ActionStatusRejected
	a.ErrorMessage = reason
	a.CompletedAt = &now
}

// BeginExecution stores the rollback snapshot and enters "executing".
// The snapshot must be persisted before any external mutation happens.
func (a *ActionRecord) BeginExecution(rollbackData json.RawMessage) {
	now := time.Now().UTC()
	a.Status = ActionStatusExecuting
	a.RollbackData = rollbackData
	a.ExecutedAt = &now
}

// MarkCompleted finishes a successful execution
func (a *ActionRecord) MarkCompleted(actualImpact *float64, metrics map[string]float64) {
	now := time.Now().UTC()
	a.Status = ActionStatusCompleted
	a.ActualImpact = actualImpact
	if metrics != nil {
		a.SuccessMetrics = metrics
	}
	a.CompletedAt = &now
}

// MarkFailed finishes an unsuccessful execution
func (a *ActionRecord) MarkFailed(message string) {
	now := time.Now().UTC()
	a.Status = ActionStatusFailed
	a.ErrorMessage = message
	a.CompletedAt = &now
}

// MarkSkipped records that the batch orchestrator never dispatched the action
func (a *ActionRecord) MarkSkipped(reason string) {
	now := time.Now().UTC()
	a.Status = ActionStatusSkipped
	a.ErrorMessage = reason
	a.CompletedAt = &now
}

// MarkRolledBack annotates a completed action as compensated. Status stays
// "completed" so history remains legible.
func (a *ActionRecord) MarkRolledBack(initiator, reason string) {
	now := time.Now().UTC()
	a.RolledBack = true
	a.RolledBackAt = &now
	a.RolledBackBy = initiator
	if reason != "" {
		a.ExternalRefs["rollback_reason"] = reason
	}
}

// SetSyncState updates the propagation status for one external system
func (a *ActionRecord) SetSyncState(system, status, detail string) {
	if a.SyncStatus == nil {
		a.SyncStatus = make(map[string]SyncState)
	}
	a.SyncStatus[system] = SyncState{
		Status:    status,
		Detail:    detail,
		UpdatedAt: time.Now().UTC(),
	}
}

// Validate checks record-level invariants independent of pipeline position
func (a *ActionRecord) Validate() error {
	if a.ID == uuid.Nil {
		return fmt.Errorf("action ID is required")
	}
	if a.UserID == uuid.Nil {
		return fmt.Errorf("user ID is required")
	}
	if !a.ActionType.IsKnown() {
		return fmt.Errorf("unknown action type: %s", a.ActionType)
	}
	if a.Status == ActionStatusExecuting || a.Status == ActionStatusCompleted {
		if len(a.RollbackData) == 0 {
			return fmt.Errorf("rollback data missing for status %s", a.Status)
		}
	}
	if a.RolledBack && a.Status != ActionStatusCompleted {
		return fmt.Errorf("rolled back action must be completed, got %s", a.Status)
	}
	return nil
}

// String returns a compact representation for logs
func (a *ActionRecord) String() string {
	return fmt.Sprintf("Action{ID: %s, Type: %s, SKU: %s, Status: %s}",
		a.ID.String(), a.ActionType, a.TargetSKU, a.Status)
}
