package http

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shelfwise/action-engine/domain/entity"
	"github.com/shelfwise/action-engine/domain/service"
	"github.com/shelfwise/action-engine/usecase"
)

// ExecuteActionRequestDTO is the wire form of a single action submission
type ExecuteActionRequestDTO struct {
	UserID          string               `json:"user_id"`
	ActionType      string               `json:"action_type" binding:"required"`
	TargetSKU       string               `json:"target_sku"`
	TargetSKUs      []string             `json:"target_skus"`
	Payload         entity.ActionPayload `json:"payload"`
	Reason          string               `json:"reason"`
	ExpectedImpact  float64              `json:"expected_impact"`
	ConfidenceScore float64              `json:"confidence_score"`
	InitiatedBy     string               `json:"initiated_by"`
}

// ToEntity converts the DTO to a pipeline request. The caller must have
// already verified the user header or body field is present.
func (d *ExecuteActionRequestDTO) ToEntity() (*entity.ActionRequest, error) {
	userID, err := uuid.Parse(d.UserID)
	if err != nil {
		return nil, fmt.Errorf("invalid user_id: %w", err)
	}
	return &entity.ActionRequest{
		UserID:          userID,
		ActionType:      entity.ActionType(d.ActionType),
		TargetSKU:       d.TargetSKU,
		TargetSKUs:      d.TargetSKUs,
		Payload:         d.Payload,
		Reason:          d.Reason,
		ExpectedImpact:  d.ExpectedImpact,
		ConfidenceScore: d.ConfidenceScore,
		InitiatedBy:     d.InitiatedBy,
	}, nil
}

// BatchRequestDTO groups several submissions under one execution policy
type BatchRequestDTO struct {
	UserID          string                    `json:"user_id"`
	BatchName       string                    `json:"batch_name" binding:"required"`
	BatchType       string                    `json:"batch_type"`
	ExecuteParallel bool                      `json:"execute_parallel"`
	MaxConcurrent   int                       `json:"max_concurrent"`
	StopOnError     bool                      `json:"stop_on_error"`
	Actions         []ExecuteActionRequestDTO `json:"actions" binding:"required"`
}

// ToConfig converts the DTO into a batch config plus member requests.
// Members without their own user_id inherit the batch owner.
func (d *BatchRequestDTO) ToConfig() (entity.BatchConfig, []*entity.ActionRequest, error) {
	userID, err := uuid.Parse(d.UserID)
	if err != nil {
		return entity.BatchConfig{}, nil, fmt.Errorf("invalid user_id: %w", err)
	}
	cfg := entity.BatchConfig{
		UserID:          userID,
		BatchName:       d.BatchName,
		BatchType:       d.BatchType,
		ExecuteParallel: d.ExecuteParallel,
		MaxConcurrent:   d.MaxConcurrent,
		StopOnError:     d.StopOnError,
	}
	reqs := make([]*entity.ActionRequest, 0, len(d.Actions))
	for i := range d.Actions {
		member := d.Actions[i]
		if member.UserID == "" {
			member.UserID = d.UserID
		}
		req, err := member.ToEntity()
		if err != nil {
			return entity.BatchConfig{}, nil, fmt.Errorf("action %d: %w", i, err)
		}
		reqs = append(reqs, req)
	}
	return cfg, reqs, nil
}

// RollbackRequestDTO asks for a completed action to be compensated
type RollbackRequestDTO struct {
	ActionID    string `json:"action_id" binding:"required"`
	Reason      string `json:"reason"`
	InitiatedBy string `json:"initiated_by"`
}

// ResolveApprovalRequestDTO carries a reviewer decision
type ResolveApprovalRequestDTO struct {
	Decision   string `json:"decision" binding:"required"`
	ApproverID string `json:"approver_id" binding:"required"`
	Notes      string `json:"notes"`
}

// ExecuteActionResponseDTO reports how a submission ended: executed to a
// terminal status, or parked behind the approval gate
type ExecuteActionResponseDTO struct {
	Status   string                 `json:"status"`
	Action   *entity.ActionRecord   `json:"action"`
	Approval *entity.ApprovalRecord `json:"approval,omitempty"`
	Change   *service.ChangeResult  `json:"change,omitempty"`
}

// NewExecuteActionResponse builds the response from a pipeline outcome
func NewExecuteActionResponse(outcome *usecase.SubmitOutcome) *ExecuteActionResponseDTO {
	resp := &ExecuteActionResponseDTO{
		Status:   string(outcome.Action.Status),
		Action:   outcome.Action,
		Approval: outcome.Approval,
		Change:   outcome.Change,
	}
	if outcome.RequiresApproval() {
		resp.Status = "requires_approval"
	}
	return resp
}

// AuditTrailResponseDTO lists the ledger entries for one action
type AuditTrailResponseDTO struct {
	ActionID string               `json:"action_id"`
	Events   []*entity.AuditEvent `json:"events"`
	Count    int                  `json:"count"`
}

// HealthResponseDTO is the /health body
type HealthResponseDTO struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Timestamp time.Time         `json:"timestamp"`
	Details   map[string]string `json:"details,omitempty"`
}
