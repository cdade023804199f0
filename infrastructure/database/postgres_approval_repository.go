package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/shelfwise/action-engine/domain/entity"
	"github.com/shelfwise/action-engine/pkg/logging"
)

const approvalColumns = `id, action_id, requester_id, approver_id, approval_status, approval_reason,
	risk_level, estimated_impact, requested_at, reviewed_at, review_notes,
	auto_approved, notification_sent, notification_sent_at, reminder_count, last_reminder,
	created_at, expires_at`

// PostgresApprovalRepository implements ApprovalRepository on PostgreSQL.
// Resolutions are guarded on approval_status still being pending, so the
// first decision is the one that sticks.
type PostgresApprovalRepository struct {
	db     *sqlx.DB
	logger *logging.Logger
}

// NewPostgresApprovalRepository creates a PostgreSQL approval repository
func NewPostgresApprovalRepository(db *sqlx.DB, logger *logging.Logger) *PostgresApprovalRepository {
	return &PostgresApprovalRepository{
		db:     db,
		logger: logger.WithComponent("approval_repository"),
	}
}

// Create inserts a new approval record
func (r *PostgresApprovalRepository) Create(ctx context.Context, approval *entity.ApprovalRecord) error {
	query := `
		INSERT INTO action_approvals (` + approvalColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18
		)`

	_, err := r.db.ExecContext(ctx, query,
		approval.ID, approval.ActionID, approval.RequesterID, approval.ApproverID,
		approval.ApprovalStatus, approval.ApprovalReason, approval.RiskLevel, approval.EstimatedImpact,
		approval.RequestedAt, approval.ReviewedAt, approval.ReviewNotes,
		approval.AutoApproved, approval.NotificationSent, approval.NotificationSentAt,
		approval.ReminderCount, approval.LastReminder,
		approval.CreatedAt, approval.ExpiresAt,
	)
	if err != nil {
		r.logger.Error("failed to create approval", zap.String("approval_id", approval.ID.String()), zap.Error(err))
		return fmt.Errorf("failed to create approval: %w", err)
	}
	return nil
}

// GetByID retrieves an approval record
func (r *PostgresApprovalRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.ApprovalRecord, error) {
	query := `SELECT ` + approvalColumns + ` FROM action_approvals WHERE id = $1`
	var approval entity.ApprovalRecord
	err := r.db.GetContext(ctx, &approval, query, id)
	if err == sql.ErrNoRows {
		return nil, &entity.ApprovalNotFoundError{ApprovalID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get approval: %w", err)
	}
	return &approval, nil
}

// GetByActionID retrieves the approval attached to an action
func (r *PostgresApprovalRepository) GetByActionID(ctx context.Context, actionID uuid.UUID) (*entity.ApprovalRecord, error) {
	query := `SELECT ` + approvalColumns + ` FROM action_approvals WHERE action_id = $1 ORDER BY created_at DESC LIMIT 1`
	var approval entity.ApprovalRecord
	err := r.db.GetContext(ctx, &approval, query, actionID)
	if err == sql.ErrNoRows {
		return nil, &entity.NotFoundError{Kind: "approval for action", ID: actionID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get approval by action: %w", err)
	}
	return &approval, nil
}

// Resolve persists a resolution guarded on the approval still being pending
func (r *PostgresApprovalRepository) Resolve(ctx context.Context, approval *entity.ApprovalRecord) error {
	query := `
		UPDATE action_approvals SET
			approval_status = $2, approver_id = $3, reviewed_at = $4, review_notes = $5
		WHERE id = $1 AND approval_status = 'pending'`

	result, err := r.db.ExecContext(ctx, query,
		approval.ID, approval.ApprovalStatus, approval.ApproverID, approval.ReviewedAt, approval.ReviewNotes,
	)
	if err != nil {
		r.logger.Error("failed to resolve approval", zap.String("approval_id", approval.ID.String()), zap.Error(err))
		return fmt.Errorf("failed to resolve approval: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return r.conflict(ctx, approval.ID)
	}
	return nil
}

// ListPendingExpired returns pending approvals whose TTL has elapsed
func (r *PostgresApprovalRepository) ListPendingExpired(ctx context.Context, now time.Time) ([]*entity.ApprovalRecord, error) {
	query := `SELECT ` + approvalColumns + ` FROM action_approvals
		WHERE approval_status = 'pending' AND expires_at IS NOT NULL AND expires_at < $1
		ORDER BY expires_at`

	var approvals []*entity.ApprovalRecord
	if err := r.db.SelectContext(ctx, &approvals, query, now); err != nil {
		return nil, fmt.Errorf("failed to list expired approvals: %w", err)
	}
	return approvals, nil
}

// ListPendingForReminder returns pending approvals that have not been
// notified since the cutoff
func (r *PostgresApprovalRepository) ListPendingForReminder(ctx context.Context, cutoff time.Time) ([]*entity.ApprovalRecord, error) {
	query := `SELECT ` + approvalColumns + ` FROM action_approvals
		WHERE approval_status = 'pending'
			AND (last_reminder IS NULL OR last_reminder < $1)
			AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY requested_at`

	var approvals []*entity.ApprovalRecord
	if err := r.db.SelectContext(ctx, &approvals, query, cutoff); err != nil {
		return nil, fmt.Errorf("failed to list approvals for reminder: %w", err)
	}
	return approvals, nil
}

// UpdateReminder persists notification counters
func (r *PostgresApprovalRepository) UpdateReminder(ctx context.Context, approval *entity.ApprovalRecord) error {
	query := `
		UPDATE action_approvals SET
			notification_sent = $2, notification_sent_at = $3, reminder_count = $4, last_reminder = $5
		WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query,
		approval.ID, approval.NotificationSent, approval.NotificationSentAt,
		approval.ReminderCount, approval.LastReminder,
	)
	if err != nil {
		return fmt.Errorf("failed to update approval reminder: %w", err)
	}
	return nil
}

func (r *PostgresApprovalRepository) conflict(ctx context.Context, id uuid.UUID) error {
	var status entity.ApprovalStatus
	err := r.db.GetContext(ctx, &status, `SELECT approval_status FROM action_approvals WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return &entity.ApprovalNotFoundError{ApprovalID: id}
	}
	if err != nil {
		return fmt.Errorf("failed to read approval status: %w", err)
	}
	return entity.NewApprovalConflictError(id, status)
}
