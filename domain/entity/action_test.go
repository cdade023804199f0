package entity

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRequest() *ActionRequest {
	return &ActionRequest{
		UserID:     uuid.New(),
		ActionType: ActionTypePriceUpdate,
		TargetSKU:  "SKU-1",
		Payload: ActionPayload{
			PriceUpdate: &PriceUpdatePayload{TargetSKU: "SKU-1", NewPrice: 12},
		},
		Reason:          "price review",
		ConfidenceScore: 0.9,
		InitiatedBy:     "tester",
	}
}

func TestTerminalStatuses(t *testing.T) {
	terminal := []ActionStatus{ActionStatusCompleted, ActionStatusFailed, ActionStatusRejected, ActionStatusSkipped}
	for _, status := range terminal {
		assert.True(t, status.IsTerminal(), string(status))
	}

	open := []ActionStatus{ActionStatusPending, ActionStatusValidated, ActionStatusAwaitingApproval, ActionStatusApproved, ActionStatusExecuting}
	for _, status := range open {
		assert.False(t, status.IsTerminal(), string(status))
	}
}

func TestRequestSKUsDeduplicates(t *testing.T) {
	req := sampleRequest()
	req.TargetSKUs = []string{"SKU-1", "SKU-2", " ", "SKU-2"}

	assert.Equal(t, []string{"SKU-1", "SKU-2"}, req.SKUs())
}

func TestValidateRequiresSnapshotOnceExecuting(t *testing.T) {
	action := NewActionRecord(sampleRequest())
	require.NoError(t, action.Validate())

	action.Status = ActionStatusExecuting
	require.Error(t, action.Validate())

	action.BeginExecution([]byte(`{"kind":"price"}`))
	require.NoError(t, action.Validate())
}

func TestValidateRejectsRollbackOffCompleted(t *testing.T) {
	action := NewActionRecord(sampleRequest())
	action.RolledBack = true

	require.Error(t, action.Validate())

	action.BeginExecution([]byte(`{"kind":"price"}`))
	action.MarkCompleted(nil, nil)
	require.NoError(t, action.Validate())
}

func TestMarkRolledBackKeepsCompletedStatus(t *testing.T) {
	action := NewActionRecord(sampleRequest())
	action.BeginExecution([]byte(`{"kind":"price"}`))
	action.MarkCompleted(nil, nil)

	action.MarkRolledBack("ops", "wrong price")

	assert.Equal(t, ActionStatusCompleted, action.Status)
	assert.True(t, action.RolledBack)
	assert.Equal(t, "ops", action.RolledBackBy)
	assert.Equal(t, "wrong price", action.ExternalRefs["rollback_reason"])
}
