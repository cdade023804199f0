package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/shelfwise/action-engine/domain/entity"
	"github.com/shelfwise/action-engine/domain/repository"
	"github.com/shelfwise/action-engine/pkg/logging"
)

const batchColumns = `id, user_id, batch_name, batch_type, action_ids,
	total_actions, completed, failed, pending, skipped,
	status, execute_parallel, max_concurrent, stop_on_error,
	estimated_duration, actual_duration, total_expected_impact, total_actual_impact, success_rate,
	created_at, started_at, completed_at`

// PostgresBatchRepository implements BatchRepository on PostgreSQL. Terminal
// outcomes are applied under a row lock so the counter invariant holds at
// every observable point, enforced again by a CHECK constraint.
type PostgresBatchRepository struct {
	db     *sqlx.DB
	logger *logging.Logger
}

// NewPostgresBatchRepository creates a PostgreSQL batch repository
func NewPostgresBatchRepository(db *sqlx.DB, logger *logging.Logger) *PostgresBatchRepository {
	return &PostgresBatchRepository{
		db:     db,
		logger: logger.WithComponent("batch_repository"),
	}
}

// Create inserts a new batch record
func (r *PostgresBatchRepository) Create(ctx context.Context, batch *entity.ActionBatch) error {
	query := `
		INSERT INTO action_batches (` + batchColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22
		)`

	_, err := r.db.ExecContext(ctx, query,
		batch.ID, batch.UserID, batch.BatchName, batch.BatchType, uuidArray(batch.ActionIDs),
		batch.TotalActions, batch.Completed, batch.Failed, batch.Pending, batch.Skipped,
		batch.Status, batch.ExecuteParallel, batch.MaxConcurrent, batch.StopOnError,
		durationNanos(batch.EstimatedDuration), durationNanos(batch.ActualDuration),
		batch.TotalExpectedImpact, batch.TotalActualImpact, batch.SuccessRate,
		batch.CreatedAt, batch.StartedAt, batch.CompletedAt,
	)
	if err != nil {
		r.logger.Error("failed to create batch", zap.String("batch_id", batch.ID.String()), zap.Error(err))
		return fmt.Errorf("failed to create batch: %w", err)
	}
	return nil
}

// GetByID retrieves a batch record
func (r *PostgresBatchRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.ActionBatch, error) {
	query := `SELECT ` + batchColumns + ` FROM action_batches WHERE id = $1`
	row := r.db.QueryRowxContext(ctx, query, id)
	batch, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return nil, &entity.NotFoundError{Kind: "batch", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return batch, nil
}

// Update persists mutable batch fields. Counters are owned by
// RecordTerminal and are deliberately not written here.
func (r *PostgresBatchRepository) Update(ctx context.Context, batch *entity.ActionBatch) error {
	query := `
		UPDATE action_batches SET
			action_ids = $2, status = $3,
			estimated_duration = $4, actual_duration = $5, success_rate = $6,
			started_at = $7, completed_at = $8
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query,
		batch.ID, uuidArray(batch.ActionIDs), batch.Status,
		durationNanos(batch.EstimatedDuration), durationNanos(batch.ActualDuration), batch.SuccessRate,
		batch.StartedAt, batch.CompletedAt,
	)
	if err != nil {
		r.logger.Error("failed to update batch", zap.String("batch_id", batch.ID.String()), zap.Error(err))
		return fmt.Errorf("failed to update batch: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return &entity.NotFoundError{Kind: "batch", ID: batch.ID}
	}
	return nil
}

// RecordTerminal applies one member's terminal outcome to the counters in a
// single transaction and returns the updated batch
func (r *PostgresBatchRepository) RecordTerminal(ctx context.Context, batchID uuid.UUID, outcome repository.BatchTerminalOutcome) (*entity.ActionBatch, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowxContext(ctx, `SELECT `+batchColumns+` FROM action_batches WHERE id = $1 FOR UPDATE`, batchID)
	batch, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return nil, &entity.NotFoundError{Kind: "batch", ID: batchID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock batch: %w", err)
	}

	if batch.Pending <= 0 {
		return nil, fmt.Errorf("batch %s has no pending members left", batchID)
	}
	batch.Pending--
	switch outcome.Status {
	case entity.ActionStatusCompleted:
		batch.Completed++
	case entity.ActionStatusSkipped:
		batch.Skipped++
	default:
		// failed and rejected members both count as failed
		batch.Failed++
	}
	batch.TotalExpectedImpact += outcome.ExpectedImpact
	if outcome.ActualImpact != nil {
		batch.TotalActualImpact += *outcome.ActualImpact
	}
	if err := batch.Validate(); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE action_batches SET
			completed = $2, failed = $3, pending = $4, skipped = $5,
			total_expected_impact = $6, total_actual_impact = $7
		WHERE id = $1`,
		batch.ID, batch.Completed, batch.Failed, batch.Pending, batch.Skipped,
		batch.TotalExpectedImpact, batch.TotalActualImpact,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update batch counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit batch counters: %w", err)
	}
	return batch, nil
}

func scanBatch(row rowScanner) (*entity.ActionBatch, error) {
	var batch entity.ActionBatch
	var actionIDs pq.StringArray
	var estimated, actual sql.NullInt64

	err := row.Scan(
		&batch.ID, &batch.UserID, &batch.BatchName, &batch.BatchType, &actionIDs,
		&batch.TotalActions, &batch.Completed, &batch.Failed, &batch.Pending, &batch.Skipped,
		&batch.Status, &batch.ExecuteParallel, &batch.MaxConcurrent, &batch.StopOnError,
		&estimated, &actual, &batch.TotalExpectedImpact, &batch.TotalActualImpact, &batch.SuccessRate,
		&batch.CreatedAt, &batch.StartedAt, &batch.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	batch.ActionIDs = make([]uuid.UUID, 0, len(actionIDs))
	for _, raw := range actionIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("malformed action id in batch %s: %w", batch.ID, err)
		}
		batch.ActionIDs = append(batch.ActionIDs, id)
	}
	if estimated.Valid {
		d := time.Duration(estimated.Int64)
		batch.EstimatedDuration = &d
	}
	if actual.Valid {
		d := time.Duration(actual.Int64)
		batch.ActualDuration = &d
	}
	return &batch, nil
}

func uuidArray(ids []uuid.UUID) pq.StringArray {
	out := make(pq.StringArray, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func durationNanos(d *time.Duration) interface{} {
	if d == nil {
		return nil
	}
	return int64(*d)
}
