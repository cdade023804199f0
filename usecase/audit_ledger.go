package usecase

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shelfwise/action-engine/domain/entity"
	"github.com/shelfwise/action-engine/domain/repository"
	"github.com/shelfwise/action-engine/pkg/logging"
	"github.com/shelfwise/action-engine/pkg/metrics"
)

// AuditSink publishes ledger entries to an external stream in addition to
// the durable table (e.g. a Kafka topic for downstream compliance tooling)
type AuditSink interface {
	Publish(ctx context.Context, event *entity.AuditEvent) error
}

// AuditLedger is the append-only record of every state transition. Entries
// land in the durable ledger table and are mirrored to the sink. Ledger
// failures are surfaced through logs and metrics but never abort the
// pipeline operation that produced the entry.
type AuditLedger struct {
	repo    repository.AuditRepository
	sink    AuditSink
	logger  *logging.Logger
	metrics *metrics.Collector
}

// NewAuditLedger creates the ledger. The sink may be nil when no stream
// is configured.
func NewAuditLedger(repo repository.AuditRepository, sink AuditSink, logger *logging.Logger, collector *metrics.Collector) *AuditLedger {
	return &AuditLedger{
		repo:    repo,
		sink:    sink,
		logger:  logger.WithComponent("audit_ledger"),
		metrics: collector,
	}
}

// Record appends one event to the ledger and mirrors it to the sink
func (l *AuditLedger) Record(ctx context.Context, event *entity.AuditEvent) {
	if err := l.repo.Append(ctx, event); err != nil {
		l.logger.Error("failed to append audit event",
			zap.String("action_id", event.ActionID.String()),
			zap.String("event_type", event.EventType),
			zap.Error(err),
		)
		l.metrics.RecordError("audit_append", "audit_ledger")
	}

	if l.sink == nil {
		return
	}
	if err := l.sink.Publish(ctx, event); err != nil {
		l.logger.Warn("failed to publish audit event",
			zap.String("action_id", event.ActionID.String()),
			zap.String("event_type", event.EventType),
			zap.Error(err),
		)
		l.metrics.RecordError("audit_publish", "audit_ledger")
	}
}

// Transition records a status transition on an action
func (l *AuditLedger) Transition(ctx context.Context, action *entity.ActionRecord, from, to entity.ActionStatus, actor, detail string) {
	l.Record(ctx, entity.NewTransitionEvent(action, from, to, actor, detail))
}

// Trail returns the full audit history of one action
func (l *AuditLedger) Trail(ctx context.Context, actionID uuid.UUID) ([]*entity.AuditEvent, error) {
	return l.repo.ListByAction(ctx, actionID)
}
