package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/shelfwise/action-engine/domain/entity"
	"github.com/shelfwise/action-engine/pkg/logging"
)

// PostgresAuditRepository is the append-only ledger table. There is no
// update or delete path.
type PostgresAuditRepository struct {
	db     *sqlx.DB
	logger *logging.Logger
}

// NewPostgresAuditRepository creates a PostgreSQL audit repository
func NewPostgresAuditRepository(db *sqlx.DB, logger *logging.Logger) *PostgresAuditRepository {
	return &PostgresAuditRepository{
		db:     db,
		logger: logger.WithComponent("audit_repository"),
	}
}

// Append inserts one ledger entry
func (r *PostgresAuditRepository) Append(ctx context.Context, event *entity.AuditEvent) error {
	query := `
		INSERT INTO action_audit_events (
			id, action_id, batch_id, event_type, from_status, to_status,
			actor, detail, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	metadataJSON, _ := json.Marshal(event.Metadata)
	if event.Metadata == nil {
		metadataJSON = []byte("{}")
	}

	_, err := r.db.ExecContext(ctx, query,
		event.ID, event.ActionID, event.BatchID, event.EventType,
		event.FromStatus, event.ToStatus, event.Actor, event.Detail,
		metadataJSON, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

// ListByAction returns an action's full history in chronological order
func (r *PostgresAuditRepository) ListByAction(ctx context.Context, actionID uuid.UUID) ([]*entity.AuditEvent, error) {
	query := `
		SELECT id, action_id, batch_id, event_type, from_status, to_status,
			actor, detail, metadata, created_at
		FROM action_audit_events
		WHERE action_id = $1
		ORDER BY created_at, id`

	rows, err := r.db.QueryxContext(ctx, query, actionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	var events []*entity.AuditEvent
	for rows.Next() {
		var event entity.AuditEvent
		var metadataJSON []byte
		err := rows.Scan(
			&event.ID, &event.ActionID, &event.BatchID, &event.EventType,
			&event.FromStatus, &event.ToStatus, &event.Actor, &event.Detail,
			&metadataJSON, &event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if len(metadataJSON) > 0 {
			json.Unmarshal(metadataJSON, &event.Metadata)
		}
		events = append(events, &event)
	}
	return events, rows.Err()
}
