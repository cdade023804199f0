package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/shelfwise/action-engine/domain/entity"
	"github.com/shelfwise/action-engine/pkg/logging"
)

// PostgresRuleRepository loads tenant validation rules from PostgreSQL
type PostgresRuleRepository struct {
	db     *sqlx.DB
	logger *logging.Logger
}

// NewPostgresRuleRepository creates a PostgreSQL rule repository
func NewPostgresRuleRepository(db *sqlx.DB, logger *logging.Logger) *PostgresRuleRepository {
	return &PostgresRuleRepository{
		db:     db,
		logger: logger.WithComponent("rule_repository"),
	}
}

// Create inserts a validation rule
func (r *PostgresRuleRepository) Create(ctx context.Context, rule *entity.ValidationRule) error {
	query := `
		INSERT INTO action_validation_rules (
			id, user_id, action_type, rule_type, rule_config, enabled, priority,
			created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.ExecContext(ctx, query,
		rule.ID, rule.UserID, rule.ActionType, rule.RuleType, []byte(rule.RuleConfig),
		rule.Enabled, rule.Priority, rule.CreatedBy, rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create validation rule: %w", err)
	}
	return nil
}

// ListEnabled returns enabled rules for a tenant and action type, higher
// priority first
func (r *PostgresRuleRepository) ListEnabled(ctx context.Context, userID uuid.UUID, actionType entity.ActionType) ([]*entity.ValidationRule, error) {
	query := `
		SELECT id, user_id, action_type, rule_type, rule_config, enabled, priority,
			created_by, created_at, updated_at
		FROM action_validation_rules
		WHERE user_id = $1 AND action_type = $2 AND enabled
		ORDER BY priority DESC, created_at`

	var rules []*entity.ValidationRule
	if err := r.db.SelectContext(ctx, &rules, query, userID, actionType); err != nil {
		return nil, fmt.Errorf("failed to list validation rules: %w", err)
	}
	return rules, nil
}
