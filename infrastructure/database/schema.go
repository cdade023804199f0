package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Schema statements for the engine's durable tables. Audit events are
// append-only; the table carries no UPDATE path.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS actions (
		id               UUID PRIMARY KEY,
		user_id          UUID NOT NULL,
		action_type      VARCHAR(50) NOT NULL,
		target_sku       VARCHAR(100) NOT NULL DEFAULT '',
		target_skus      TEXT[] NOT NULL DEFAULT '{}',
		action_payload   JSONB NOT NULL,
		reason           TEXT NOT NULL DEFAULT '',
		expected_impact  DOUBLE PRECISION NOT NULL DEFAULT 0,
		confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		status           VARCHAR(30) NOT NULL,
		initiated_by     VARCHAR(100) NOT NULL,
		initiated_at     TIMESTAMPTZ NOT NULL,
		validated_at     TIMESTAMPTZ,
		executed_at      TIMESTAMPTZ,
		completed_at     TIMESTAMPTZ,
		requires_approval BOOLEAN NOT NULL DEFAULT FALSE,
		approved_by      UUID,
		approved_at      TIMESTAMPTZ,
		actual_impact    DOUBLE PRECISION,
		success_metrics  JSONB NOT NULL DEFAULT '{}',
		error_message    TEXT NOT NULL DEFAULT '',
		rollback_data    JSONB,
		rolled_back      BOOLEAN NOT NULL DEFAULT FALSE,
		rolled_back_at   TIMESTAMPTZ,
		rolled_back_by   VARCHAR(100) NOT NULL DEFAULT '',
		external_refs    JSONB NOT NULL DEFAULT '{}',
		affected_systems TEXT[] NOT NULL DEFAULT '{}',
		sync_status      JSONB NOT NULL DEFAULT '{}',
		batch_id         UUID
	)`,
	`CREATE INDEX IF NOT EXISTS idx_actions_user_id ON actions (user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_actions_status ON actions (status)`,
	`CREATE INDEX IF NOT EXISTS idx_actions_batch_id ON actions (batch_id) WHERE batch_id IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_actions_target_sku ON actions (target_sku)`,

	`CREATE TABLE IF NOT EXISTS action_approvals (
		id                   UUID PRIMARY KEY,
		action_id            UUID NOT NULL UNIQUE REFERENCES actions (id),
		requester_id         UUID NOT NULL,
		approver_id          UUID,
		approval_status      VARCHAR(20) NOT NULL,
		approval_reason      TEXT NOT NULL DEFAULT '',
		risk_level           VARCHAR(20) NOT NULL,
		estimated_impact     DOUBLE PRECISION NOT NULL DEFAULT 0,
		requested_at         TIMESTAMPTZ NOT NULL,
		reviewed_at          TIMESTAMPTZ,
		review_notes         TEXT NOT NULL DEFAULT '',
		auto_approved        BOOLEAN NOT NULL DEFAULT FALSE,
		notification_sent    BOOLEAN NOT NULL DEFAULT FALSE,
		notification_sent_at TIMESTAMPTZ,
		reminder_count       INTEGER NOT NULL DEFAULT 0,
		last_reminder        TIMESTAMPTZ,
		created_at           TIMESTAMPTZ NOT NULL,
		expires_at           TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_approvals_pending_expiry ON action_approvals (expires_at) WHERE approval_status = 'pending'`,

	`CREATE TABLE IF NOT EXISTS action_batches (
		id                    UUID PRIMARY KEY,
		user_id               UUID NOT NULL,
		batch_name            VARCHAR(200) NOT NULL,
		batch_type            VARCHAR(50) NOT NULL DEFAULT '',
		action_ids            UUID[] NOT NULL DEFAULT '{}',
		total_actions         INTEGER NOT NULL,
		completed             INTEGER NOT NULL DEFAULT 0,
		failed                INTEGER NOT NULL DEFAULT 0,
		pending               INTEGER NOT NULL,
		skipped               INTEGER NOT NULL DEFAULT 0,
		status                VARCHAR(20) NOT NULL,
		execute_parallel      BOOLEAN NOT NULL DEFAULT FALSE,
		max_concurrent        INTEGER NOT NULL DEFAULT 1,
		stop_on_error         BOOLEAN NOT NULL DEFAULT FALSE,
		estimated_duration    BIGINT,
		actual_duration       BIGINT,
		total_expected_impact DOUBLE PRECISION NOT NULL DEFAULT 0,
		total_actual_impact   DOUBLE PRECISION NOT NULL DEFAULT 0,
		success_rate          DOUBLE PRECISION,
		created_at            TIMESTAMPTZ NOT NULL,
		started_at            TIMESTAMPTZ,
		completed_at          TIMESTAMPTZ,
		CONSTRAINT batch_counters_balanced CHECK (completed + failed + skipped + pending = total_actions)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_batches_user_id ON action_batches (user_id)`,

	`CREATE TABLE IF NOT EXISTS action_validation_rules (
		id          UUID PRIMARY KEY,
		user_id     UUID NOT NULL,
		action_type VARCHAR(50) NOT NULL,
		rule_type   VARCHAR(50) NOT NULL,
		rule_config JSONB NOT NULL DEFAULT '{}',
		enabled     BOOLEAN NOT NULL DEFAULT TRUE,
		priority    INTEGER NOT NULL DEFAULT 0,
		created_by  VARCHAR(100) NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rules_lookup ON action_validation_rules (user_id, action_type) WHERE enabled`,

	`CREATE TABLE IF NOT EXISTS action_audit_events (
		id          UUID PRIMARY KEY,
		action_id   UUID NOT NULL,
		batch_id    UUID,
		event_type  VARCHAR(50) NOT NULL,
		from_status VARCHAR(30) NOT NULL DEFAULT '',
		to_status   VARCHAR(30) NOT NULL DEFAULT '',
		actor       VARCHAR(100) NOT NULL,
		detail      TEXT NOT NULL DEFAULT '',
		metadata    JSONB NOT NULL DEFAULT '{}',
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_action_id ON action_audit_events (action_id, created_at)`,
}

// Migrate creates the engine's tables and indexes if they do not exist
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}
