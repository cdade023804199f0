package entity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BatchStatus is the lifecycle state of an action batch
type BatchStatus string

const (
	BatchStatusPending   BatchStatus = "pending"
	BatchStatusRunning   BatchStatus = "running"
	BatchStatusCompleted BatchStatus = "completed"
	BatchStatusStopped   BatchStatus = "stopped"
)

// BatchConfig is the caller-supplied execution policy for a batch
type BatchConfig struct {
	UserID          uuid.UUID `json:"user_id"`
	BatchName       string    `json:"batch_name"`
	BatchType       string    `json:"batch_type,omitempty"`
	ExecuteParallel bool      `json:"execute_parallel"`
	MaxConcurrent   int       `json:"max_concurrent"`
	StopOnError     bool      `json:"stop_on_error"`
}

// ActionBatch is a named grouping of actions executed under one
// concurrency/error policy. Column-exact with action_batches.
type ActionBatch struct {
	ID        uuid.UUID `json:"id" db:"id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	BatchName string    `json:"batch_name" db:"batch_name"`
	BatchType string    `json:"batch_type" db:"batch_type"`

	ActionIDs    []uuid.UUID `json:"action_ids" db:"action_ids"`
	TotalActions int         `json:"total_actions" db:"total_actions"`
	Completed    int         `json:"completed" db:"completed"`
	Failed       int         `json:"failed" db:"failed"`
	Pending      int         `json:"pending" db:"pending"`
	Skipped      int         `json:"skipped" db:"skipped"`

	Status          BatchStatus `json:"status" db:"status"`
	ExecuteParallel bool        `json:"execute_parallel" db:"execute_parallel"`
	MaxConcurrent   int         `json:"max_concurrent" db:"max_concurrent"`
	StopOnError     bool        `json:"stop_on_error" db:"stop_on_error"`

	EstimatedDuration   *time.Duration `json:"estimated_duration,omitempty" db:"estimated_duration"`
	ActualDuration      *time.Duration `json:"actual_duration,omitempty" db:"actual_duration"`
	TotalExpectedImpact float64        `json:"total_expected_impact" db:"total_expected_impact"`
	TotalActualImpact   float64        `json:"total_actual_impact" db:"total_actual_impact"`
	SuccessRate         *float64       `json:"success_rate,omitempty" db:"success_rate"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// NewActionBatch creates a batch record with every member still pending
func NewActionBatch(cfg BatchConfig, totalActions int) *ActionBatch {
	maxConcurrent := cfg.MaxConcurrent
	if !cfg.ExecuteParallel || maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &ActionBatch{
		ID:              uuid.New(),
		UserID:          cfg.UserID,
		BatchName:       cfg.BatchName,
		BatchType:       cfg.BatchType,
		ActionIDs:       make([]uuid.UUID, 0, totalActions),
		TotalActions:    totalActions,
		Pending:         totalActions,
		Status:          BatchStatusPending,
		ExecuteParallel: cfg.ExecuteParallel,
		MaxConcurrent:   maxConcurrent,
		StopOnError:     cfg.StopOnError,
		CreatedAt:       time.Now().UTC(),
	}
}

// MarkStarted transitions the batch into running
func (b *ActionBatch) MarkStarted() {
	now := time.Now().UTC()
	b.Status = BatchStatusRunning
	b.StartedAt = &now
}

// Validate checks the counter invariant: completed + failed + skipped +
// pending always equals total_actions.
func (b *ActionBatch) Validate() error {
	if b.Completed+b.Failed+b.Skipped+b.Pending != b.TotalActions {
		return fmt.Errorf("batch %s counters out of balance: %d+%d+%d+%d != %d",
			b.ID, b.Completed, b.Failed, b.Skipped, b.Pending, b.TotalActions)
	}
	return nil
}

// IsDone reports whether every member reached a terminal state
func (b *ActionBatch) IsDone() bool {
	return b.Pending == 0
}

// Finalize stamps completion once no members remain pending. A
// stop-on-error batch that cut members short lands in stopped.
func (b *ActionBatch) Finalize() {
	now := time.Now().UTC()
	b.Status = BatchStatusCompleted
	if b.StopOnError && b.Skipped > 0 {
		b.Status = BatchStatusStopped
	}
	b.CompletedAt = &now
	if b.StartedAt != nil {
		d := now.Sub(*b.StartedAt)
		b.ActualDuration = &d
	}
}
