package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfwise/action-engine/domain/entity"
)

// parkedAction submits a high-risk request and returns the pending outcome
func parkedAction(t *testing.T, rig *testRig) *SubmitOutcome {
	t.Helper()
	req := priceRequest(uuid.New(), "SKU-1", 21)
	req.ExpectedImpact = 5000
	outcome, err := rig.pipeline.Submit(context.Background(), req, nil)
	require.NoError(t, err)
	require.True(t, outcome.RequiresApproval())
	return outcome
}

func TestHighRiskActionIsParked(t *testing.T) {
	rig := newTestRig()
	outcome := parkedAction(t, rig)

	assert.Equal(t, entity.ActionStatusAwaitingApproval, outcome.Action.Status)
	assert.Equal(t, entity.ApprovalStatusPending, outcome.Approval.ApprovalStatus)
	assert.Equal(t, entity.RiskLevelHigh, outcome.Approval.RiskLevel)
	require.NotNil(t, outcome.Approval.ExpiresAt)

	// nothing hit the gateway while parked
	assert.Empty(t, rig.gateway.priceCalls)
}

func TestApproveRunsTheParkedAction(t *testing.T) {
	rig := newTestRig()
	outcome := parkedAction(t, rig)
	approver := uuid.New()

	resolved, err := rig.pipeline.ResolveApproval(context.Background(), outcome.Approval.ID, entity.ApprovalDecisionApprove, approver, "looks right")
	require.NoError(t, err)

	assert.Equal(t, entity.ActionStatusCompleted, resolved.Action.Status)
	require.NotNil(t, resolved.Action.ApprovedBy)
	assert.Equal(t, approver, *resolved.Action.ApprovedBy)
	assert.Len(t, rig.gateway.priceCalls, 1)
}

func TestDenyRejectsTheParkedAction(t *testing.T) {
	rig := newTestRig()
	outcome := parkedAction(t, rig)

	resolved, err := rig.pipeline.ResolveApproval(context.Background(), outcome.Approval.ID, entity.ApprovalDecisionDeny, uuid.New(), "too aggressive")
	require.NoError(t, err)

	assert.Equal(t, entity.ActionStatusRejected, resolved.Action.Status)
	assert.Empty(t, rig.gateway.priceCalls)

	stored, err := rig.approvals.GetByID(context.Background(), outcome.Approval.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ApprovalStatusDenied, stored.ApprovalStatus)
}

func TestSecondResolveConflicts(t *testing.T) {
	rig := newTestRig()
	outcome := parkedAction(t, rig)

	_, err := rig.pipeline.ResolveApproval(context.Background(), outcome.Approval.ID, entity.ApprovalDecisionApprove, uuid.New(), "")
	require.NoError(t, err)

	_, err = rig.pipeline.ResolveApproval(context.Background(), outcome.Approval.ID, entity.ApprovalDecisionDeny, uuid.New(), "changed my mind")

	var conflict *entity.ApprovalConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, entity.ApprovalStatusApproved, conflict.Status)

	// the first decision stuck
	stored, getErr := rig.actions.GetByID(context.Background(), outcome.Action.ID)
	require.NoError(t, getErr)
	assert.Equal(t, entity.ActionStatusCompleted, stored.Status)
}

func TestResolveUnknownApprovalIsNotFound(t *testing.T) {
	rig := newTestRig()

	_, err := rig.pipeline.ResolveApproval(context.Background(), uuid.New(), entity.ApprovalDecisionApprove, uuid.New(), "")

	var notFound *entity.ApprovalNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestAutoApproveKeepsAnAuditableRecord(t *testing.T) {
	rig := newTestRig()
	userID := uuid.New()

	// force manual review but allow the narrow auto-approve policy
	addRule(t, rig, userID, entity.ActionTypePriceUpdate, entity.RuleTypeRequireManualReview, 10, entity.RuleConfigValues{AutoApprove: true})

	outcome, err := rig.pipeline.Submit(context.Background(), priceRequest(userID, "SKU-1", 21), nil)
	require.NoError(t, err)

	assert.Equal(t, entity.ActionStatusCompleted, outcome.Action.Status)
	require.NotNil(t, outcome.Approval)
	assert.True(t, outcome.Approval.AutoApproved)
	assert.Equal(t, entity.ApprovalStatusApproved, outcome.Approval.ApprovalStatus)
	assert.False(t, outcome.RequiresApproval())
}

func TestSweepExpiresStaleApprovals(t *testing.T) {
	rig := newTestRig()
	outcome := parkedAction(t, rig)

	expired, _, err := rig.gate.Sweep(context.Background(), time.Now().UTC().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	approval, err := rig.approvals.GetByID(context.Background(), outcome.Approval.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ApprovalStatusExpired, approval.ApprovalStatus)

	action, err := rig.actions.GetByID(context.Background(), outcome.Action.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ActionStatusRejected, action.Status)

	_, err = rig.pipeline.ResolveApproval(context.Background(), outcome.Approval.ID, entity.ApprovalDecisionApprove, uuid.New(), "too late")
	var conflict *entity.ApprovalConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestSweepSendsReminders(t *testing.T) {
	rig := newTestRig()
	outcome := parkedAction(t, rig)

	_, reminded, err := rig.gate.Sweep(context.Background(), time.Now().UTC().Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, reminded)

	approval, err := rig.approvals.GetByID(context.Background(), outcome.Approval.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, approval.ReminderCount)
	assert.True(t, approval.NotificationSent)
	require.NotNil(t, approval.LastReminder)
}
