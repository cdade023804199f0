package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/shelfwise/action-engine/domain/entity"
)

// ActionRepository persists action records. All status transitions are
// guarded read-modify-write sequences: a transition whose expected
// precondition no longer matches is rejected with StateConflictError,
// never silently overwritten.
type ActionRepository interface {
	// Create inserts a new action record (status pending)
	Create(ctx context.Context, action *entity.ActionRecord) error

	// GetByID retrieves an action record by its ID
	GetByID(ctx context.Context, id uuid.UUID) (*entity.ActionRecord, error)

	// ListByBatch returns every member of a batch
	ListByBatch(ctx context.Context, batchID uuid.UUID) ([]*entity.ActionRecord, error)

	// Transition persists the record's current fields guarded on the
	// stored status still being `from`. Returns StateConflictError when
	// the guard fails.
	Transition(ctx context.Context, action *entity.ActionRecord, from entity.ActionStatus) error

	// MarkRolledBack sets the rolled_back annotation guarded on
	// status=completed and rolled_back=false
	MarkRolledBack(ctx context.Context, action *entity.ActionRecord) error

	// HealthCheck verifies the backing store is reachable
	HealthCheck(ctx context.Context) error
}

// ApprovalRepository persists approval records, one per gated action
type ApprovalRepository interface {
	Create(ctx context.Context, approval *entity.ApprovalRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.ApprovalRecord, error)
	GetByActionID(ctx context.Context, actionID uuid.UUID) (*entity.ApprovalRecord, error)

	// Resolve persists a resolution guarded on approval_status=pending.
	// Returns ApprovalConflictError when the approval was already
	// resolved or expired.
	Resolve(ctx context.Context, approval *entity.ApprovalRecord) error

	// ListPendingExpired returns pending approvals whose TTL elapsed
	ListPendingExpired(ctx context.Context, now time.Time) ([]*entity.ApprovalRecord, error)

	// ListPendingForReminder returns pending approvals whose last
	// notification is older than the given cutoff
	ListPendingForReminder(ctx context.Context, cutoff time.Time) ([]*entity.ApprovalRecord, error)

	// UpdateReminder persists notification/reminder counters
	UpdateReminder(ctx context.Context, approval *entity.ApprovalRecord) error
}

// BatchTerminalOutcome describes one member action reaching a terminal
// state, applied transactionally to the batch aggregates.
type BatchTerminalOutcome struct {
	ActionID       uuid.UUID
	Status         entity.ActionStatus
	ExpectedImpact float64
	ActualImpact   *float64
}

// BatchRepository persists batch records and their aggregate counters
type BatchRepository interface {
	Create(ctx context.Context, batch *entity.ActionBatch) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.ActionBatch, error)

	// Update persists mutable batch fields (status, timing, action IDs)
	Update(ctx context.Context, batch *entity.ActionBatch) error

	// RecordTerminal applies a member's terminal outcome to the counters
	// in one transaction and returns the updated batch. The counter
	// invariant completed+failed+skipped+pending == total holds at every
	// observable point.
	RecordTerminal(ctx context.Context, batchID uuid.UUID, outcome BatchTerminalOutcome) (*entity.ActionBatch, error)
}

// RuleRepository loads tenant validation rules
type RuleRepository interface {
	Create(ctx context.Context, rule *entity.ValidationRule) error

	// ListEnabled returns the enabled rules for a tenant and action type,
	// ordered by priority, higher first
	ListEnabled(ctx context.Context, userID uuid.UUID, actionType entity.ActionType) ([]*entity.ValidationRule, error)
}

// AuditRepository is the append-only compliance ledger
type AuditRepository interface {
	Append(ctx context.Context, event *entity.AuditEvent) error
	ListByAction(ctx context.Context, actionID uuid.UUID) ([]*entity.AuditEvent, error)
}
