package usecase

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfwise/action-engine/domain/entity"
)

func TestSubmitLowRiskExecutesEndToEnd(t *testing.T) {
	rig := newTestRig()

	outcome, err := rig.pipeline.Submit(context.Background(), priceRequest(uuid.New(), "SKU-1", 21), nil)
	require.NoError(t, err)

	assert.Equal(t, entity.ActionStatusCompleted, outcome.Action.Status)
	assert.Nil(t, outcome.Approval)
	require.NotNil(t, outcome.Change)
	assert.Len(t, rig.gateway.priceCalls, 1)

	events, err := rig.audits.ListByAction(context.Background(), outcome.Action.ID)
	require.NoError(t, err)

	var statuses []entity.ActionStatus
	for _, event := range events {
		if event.EventType == entity.AuditEventTransition {
			statuses = append(statuses, event.ToStatus)
		}
	}
	assert.Equal(t, []entity.ActionStatus{
		entity.ActionStatusPending,
		entity.ActionStatusValidated,
		entity.ActionStatusExecuting,
		entity.ActionStatusCompleted,
	}, statuses)
}

func TestSubmitValidationFailurePersistsNothing(t *testing.T) {
	rig := newTestRig()

	_, err := rig.pipeline.Submit(context.Background(), priceRequest(uuid.New(), "SKU-1", -5), nil)

	var validationErr *entity.ValidationFailedError
	require.ErrorAs(t, err, &validationErr)
	assert.NotEmpty(t, validationErr.Violations)

	assert.Empty(t, rig.audits.All(), "a rejected request must leave no trace")
	assert.Empty(t, rig.gateway.priceCalls)
}

func TestSubmitFillsExpectedImpactFromValidation(t *testing.T) {
	rig := newTestRig()
	req := priceRequest(uuid.New(), "SKU-1", 22)
	req.ExpectedImpact = 0

	outcome, err := rig.pipeline.Submit(context.Background(), req, nil)
	require.NoError(t, err)

	assert.InDelta(t, 200, outcome.Action.ExpectedImpact, 0.001)
}

func TestSubmitExecutionFailureReturnsFailedAction(t *testing.T) {
	rig := newTestRig()
	rig.gateway.failWith = gatewayError{}

	outcome, err := rig.pipeline.Submit(context.Background(), priceRequest(uuid.New(), "SKU-1", 21), nil)

	var execErr *entity.ExecutionError
	require.ErrorAs(t, err, &execErr)
	require.NotNil(t, outcome)
	assert.Equal(t, entity.ActionStatusFailed, outcome.Action.Status)
}

func TestSkipPersistsTerminalRecord(t *testing.T) {
	rig := newTestRig()
	batchID := uuid.New()

	action, err := rig.pipeline.Skip(context.Background(), priceRequest(uuid.New(), "SKU-1", 21), &batchID, "earlier member failed")
	require.NoError(t, err)

	stored, err := rig.actions.GetByID(context.Background(), action.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ActionStatusSkipped, stored.Status)
	require.NotNil(t, stored.BatchID)
	assert.Equal(t, batchID, *stored.BatchID)
}

type gatewayError struct{}

func (gatewayError) Error() string { return "gateway rejected the change" }
