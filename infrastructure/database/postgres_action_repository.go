package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/shelfwise/action-engine/domain/entity"
	"github.com/shelfwise/action-engine/pkg/logging"
)

const actionColumns = `id, user_id, action_type, target_sku, target_skus, action_payload, reason,
	expected_impact, confidence_score, status, initiated_by,
	initiated_at, validated_at, executed_at, completed_at,
	requires_approval, approved_by, approved_at,
	actual_impact, success_metrics, error_message,
	rollback_data, rolled_back, rolled_back_at, rolled_back_by,
	external_refs, affected_systems, sync_status, batch_id`

// PostgresActionRepository implements ActionRepository on PostgreSQL. Every
// status transition is a guarded UPDATE on the expected previous status, so
// concurrent writers lose with a StateConflictError instead of overwriting.
type PostgresActionRepository struct {
	db     *sqlx.DB
	logger *logging.Logger
}

// NewPostgresActionRepository creates a PostgreSQL action repository
func NewPostgresActionRepository(db *sqlx.DB, logger *logging.Logger) *PostgresActionRepository {
	return &PostgresActionRepository{
		db:     db,
		logger: logger.WithComponent("action_repository"),
	}
}

// Create inserts a new action record
func (r *PostgresActionRepository) Create(ctx context.Context, action *entity.ActionRecord) error {
	query := `
		INSERT INTO actions (` + actionColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29
		)`

	metricsJSON, _ := json.Marshal(action.SuccessMetrics)
	refsJSON, _ := json.Marshal(action.ExternalRefs)
	syncJSON, _ := json.Marshal(action.SyncStatus)

	_, err := r.db.ExecContext(ctx, query,
		action.ID, action.UserID, action.ActionType, action.TargetSKU, pq.Array(action.TargetSKUs),
		[]byte(action.ActionPayload), action.Reason, action.ExpectedImpact, action.ConfidenceScore,
		action.Status, action.InitiatedBy,
		action.InitiatedAt, action.ValidatedAt, action.ExecutedAt, action.CompletedAt,
		action.RequiresApproval, action.ApprovedBy, action.ApprovedAt,
		action.ActualImpact, metricsJSON, action.ErrorMessage,
		nullableJSON(action.RollbackData), action.RolledBack, action.RolledBackAt, action.RolledBackBy,
		refsJSON, pq.Array(action.AffectedSystems), syncJSON, action.BatchID,
	)
	if err != nil {
		r.logger.Error("failed to create action", zap.String("action_id", action.ID.String()), zap.Error(err))
		return fmt.Errorf("failed to create action: %w", err)
	}
	return nil
}

// GetByID retrieves an action record
func (r *PostgresActionRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.ActionRecord, error) {
	query := `SELECT ` + actionColumns + ` FROM actions WHERE id = $1`
	row := r.db.QueryRowxContext(ctx, query, id)
	action, err := scanAction(row)
	if err == sql.ErrNoRows {
		return nil, &entity.NotFoundError{Kind: "action", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get action: %w", err)
	}
	return action, nil
}

// ListByBatch returns every member of a batch in submission order
func (r *PostgresActionRepository) ListByBatch(ctx context.Context, batchID uuid.UUID) ([]*entity.ActionRecord, error) {
	query := `SELECT ` + actionColumns + ` FROM actions WHERE batch_id = $1 ORDER BY initiated_at`
	rows, err := r.db.QueryxContext(ctx, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list batch actions: %w", err)
	}
	defer rows.Close()

	var actions []*entity.ActionRecord
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		actions = append(actions, action)
	}
	return actions, rows.Err()
}

// Transition persists the record's current fields guarded on the stored
// status still being `from`
func (r *PostgresActionRepository) Transition(ctx context.Context, action *entity.ActionRecord, from entity.ActionStatus) error {
	query := `
		UPDATE actions SET
			status = $3, validated_at = $4, executed_at = $5, completed_at = $6,
			requires_approval = $7, approved_by = $8, approved_at = $9,
			actual_impact = $10, success_metrics = $11, error_message = $12,
			rollback_data = $13, external_refs = $14, affected_systems = $15, sync_status = $16
		WHERE id = $1 AND status = $2`

	metricsJSON, _ := json.Marshal(action.SuccessMetrics)
	refsJSON, _ := json.Marshal(action.ExternalRefs)
	syncJSON, _ := json.Marshal(action.SyncStatus)

	result, err := r.db.ExecContext(ctx, query,
		action.ID, from,
		action.Status, action.ValidatedAt, action.ExecutedAt, action.CompletedAt,
		action.RequiresApproval, action.ApprovedBy, action.ApprovedAt,
		action.ActualImpact, metricsJSON, action.ErrorMessage,
		nullableJSON(action.RollbackData), refsJSON, pq.Array(action.AffectedSystems), syncJSON,
	)
	if err != nil {
		r.logger.Error("failed to transition action", zap.String("action_id", action.ID.String()), zap.Error(err))
		return fmt.Errorf("failed to transition action: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return r.conflict(ctx, action.ID, from)
	}
	return nil
}

// MarkRolledBack sets the rollback annotation guarded on the action still
// being completed and not yet rolled back
func (r *PostgresActionRepository) MarkRolledBack(ctx context.Context, action *entity.ActionRecord) error {
	query := `
		UPDATE actions SET rolled_back = TRUE, rolled_back_at = $2, rolled_back_by = $3, external_refs = $4
		WHERE id = $1 AND status = 'completed' AND rolled_back = FALSE`

	refsJSON, _ := json.Marshal(action.ExternalRefs)
	result, err := r.db.ExecContext(ctx, query, action.ID, action.RolledBackAt, action.RolledBackBy, refsJSON)
	if err != nil {
		return fmt.Errorf("failed to mark action rolled back: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return &entity.AlreadyRolledBackError{ActionID: action.ID}
	}
	return nil
}

// HealthCheck verifies the database is reachable
func (r *PostgresActionRepository) HealthCheck(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// conflict reads the actual status to build a precise StateConflictError
func (r *PostgresActionRepository) conflict(ctx context.Context, id uuid.UUID, expected entity.ActionStatus) error {
	var actual entity.ActionStatus
	err := r.db.GetContext(ctx, &actual, `SELECT status FROM actions WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return &entity.NotFoundError{Kind: "action", ID: id}
	}
	if err != nil {
		return fmt.Errorf("failed to read action status: %w", err)
	}
	return &entity.StateConflictError{ActionID: id, Expected: expected, Actual: actual}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAction(row rowScanner) (*entity.ActionRecord, error) {
	var action entity.ActionRecord
	var targetSKUs, affectedSystems pq.StringArray
	var payload, metricsJSON, refsJSON, syncJSON []byte
	var rollbackJSON sql.NullString

	err := row.Scan(
		&action.ID, &action.UserID, &action.ActionType, &action.TargetSKU, &targetSKUs,
		&payload, &action.Reason, &action.ExpectedImpact, &action.ConfidenceScore,
		&action.Status, &action.InitiatedBy,
		&action.InitiatedAt, &action.ValidatedAt, &action.ExecutedAt, &action.CompletedAt,
		&action.RequiresApproval, &action.ApprovedBy, &action.ApprovedAt,
		&action.ActualImpact, &metricsJSON, &action.ErrorMessage,
		&rollbackJSON, &action.RolledBack, &action.RolledBackAt, &action.RolledBackBy,
		&refsJSON, &affectedSystems, &syncJSON, &action.BatchID,
	)
	if err != nil {
		return nil, err
	}

	action.TargetSKUs = targetSKUs
	action.AffectedSystems = affectedSystems
	action.ActionPayload = json.RawMessage(payload)
	if rollbackJSON.Valid {
		action.RollbackData = json.RawMessage(rollbackJSON.String)
	}
	if len(metricsJSON) > 0 {
		json.Unmarshal(metricsJSON, &action.SuccessMetrics)
	}
	if len(refsJSON) > 0 {
		json.Unmarshal(refsJSON, &action.ExternalRefs)
	}
	if len(syncJSON) > 0 {
		json.Unmarshal(syncJSON, &action.SyncStatus)
	}
	return &action, nil
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
