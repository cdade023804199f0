package entity

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewActionBatchStartsAllPending(t *testing.T) {
	batch := NewActionBatch(BatchConfig{UserID: uuid.New(), BatchName: "b", ExecuteParallel: true, MaxConcurrent: 4}, 10)

	assert.Equal(t, 10, batch.TotalActions)
	assert.Equal(t, 10, batch.Pending)
	assert.Equal(t, BatchStatusPending, batch.Status)
	assert.Equal(t, 4, batch.MaxConcurrent)
	require.NoError(t, batch.Validate())
}

func TestNewActionBatchSequentialForcesSingleSlot(t *testing.T) {
	batch := NewActionBatch(BatchConfig{UserID: uuid.New(), BatchName: "b", ExecuteParallel: false, MaxConcurrent: 8}, 3)
	assert.Equal(t, 1, batch.MaxConcurrent)

	batch = NewActionBatch(BatchConfig{UserID: uuid.New(), BatchName: "b", ExecuteParallel: true}, 3)
	assert.Equal(t, 1, batch.MaxConcurrent)
}

func TestBatchValidateCatchesUnbalancedCounters(t *testing.T) {
	batch := NewActionBatch(BatchConfig{UserID: uuid.New(), BatchName: "b"}, 3)
	batch.Completed = 2

	require.Error(t, batch.Validate())

	batch.Pending = 1
	require.NoError(t, batch.Validate())
}

func TestBatchFinalizeCompletes(t *testing.T) {
	batch := NewActionBatch(BatchConfig{UserID: uuid.New(), BatchName: "b"}, 2)
	batch.MarkStarted()
	batch.Pending = 0
	batch.Completed = 2

	require.True(t, batch.IsDone())
	batch.Finalize()

	assert.Equal(t, BatchStatusCompleted, batch.Status)
	require.NotNil(t, batch.CompletedAt)
	require.NotNil(t, batch.ActualDuration)
}

func TestBatchFinalizeStopsWhenMembersWereCut(t *testing.T) {
	batch := NewActionBatch(BatchConfig{UserID: uuid.New(), BatchName: "b", StopOnError: true}, 3)
	batch.MarkStarted()
	batch.Pending = 0
	batch.Failed = 1
	batch.Skipped = 2

	batch.Finalize()
	assert.Equal(t, BatchStatusStopped, batch.Status)
}
