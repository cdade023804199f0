package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shelfwise/action-engine/domain/entity"
	"github.com/shelfwise/action-engine/domain/repository"
	"github.com/shelfwise/action-engine/pkg/logging"
	"github.com/shelfwise/action-engine/pkg/metrics"
)

// ApprovalGateConfig controls the gate's time-driven behavior
type ApprovalGateConfig struct {
	// TTL expires a pending approval after this duration; zero disables
	// expiry
	TTL time.Duration `mapstructure:"ttl"`

	// ReminderInterval re-notifies approvers of pending approvals; zero
	// disables reminders
	ReminderInterval time.Duration `mapstructure:"reminder_interval"`

	// SweepInterval drives the background expiry/reminder sweep
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// DefaultApprovalGateConfig returns the gate defaults
func DefaultApprovalGateConfig() ApprovalGateConfig {
	return ApprovalGateConfig{
		TTL:              72 * time.Hour,
		ReminderInterval: 12 * time.Hour,
		SweepInterval:    time.Minute,
	}
}

// ApprovalGate persists and resolves approval decisions. An action that
// requires approval is parked in awaiting_approval and cannot reach
// executing until its approval record is resolved.
type ApprovalGate struct {
	approvals repository.ApprovalRepository
	actions   repository.ActionRepository
	ledger    *AuditLedger
	observer  TerminalObserver
	logger    *logging.Logger
	metrics   *metrics.Collector
	config    ApprovalGateConfig
}

// NewApprovalGate creates the gate
func NewApprovalGate(
	approvals repository.ApprovalRepository,
	actions repository.ActionRepository,
	ledger *AuditLedger,
	observer TerminalObserver,
	logger *logging.Logger,
	collector *metrics.Collector,
	config ApprovalGateConfig,
) *ApprovalGate {
	return &ApprovalGate{
		approvals: approvals,
		actions:   actions,
		ledger:    ledger,
		observer:  observer,
		logger:    logger.WithComponent("approval_gate"),
		metrics:   collector,
		config:    config,
	}
}

// SubmitForApproval parks a validated action behind a pending approval
func (g *ApprovalGate) SubmitForApproval(ctx context.Context, action *entity.ActionRecord, assessment RiskAssessment) (*entity.ApprovalRecord, error) {
	from := action.Status
	action.MarkAwaitingApproval()
	if err := g.actions.Transition(ctx, action, from); err != nil {
		return nil, err
	}

	approval := entity.NewApprovalRecord(action, assessment.Level, assessment.Reason(), g.config.TTL)
	if err := g.approvals.Create(ctx, approval); err != nil {
		return nil, fmt.Errorf("failed to create approval record: %w", err)
	}

	g.ledger.Transition(ctx, action, from, action.Status, action.InitiatedBy, assessment.Reason())
	g.ledger.Record(ctx, entity.NewAuditEvent(action.ID, entity.AuditEventApprovalRequested, action.InitiatedBy, assessment.Reason()))
	g.metrics.ApprovalsPending.Inc()

	g.logger.Info("action parked for approval",
		zap.String("action_id", action.ID.String()),
		zap.String("approval_id", approval.ID.String()),
		zap.String("risk_level", string(assessment.Level)),
	)
	return approval, nil
}

// AutoApprove resolves a narrow-policy approval without waiting for a
// human. The approval record is kept so the audit trail shows the gate
// was consulted.
func (g *ApprovalGate) AutoApprove(ctx context.Context, action *entity.ActionRecord, assessment RiskAssessment) (*entity.ApprovalRecord, error) {
	approval := entity.NewApprovalRecord(action, assessment.Level, assessment.Reason(), 0)
	approval.AutoApproved = true
	if err := approval.Resolve(entity.ApprovalDecisionApprove, action.UserID, "auto-approved by policy"); err != nil {
		return nil, err
	}
	if err := g.approvals.Create(ctx, approval); err != nil {
		return nil, fmt.Errorf("failed to create approval record: %w", err)
	}

	from := action.Status
	action.RequiresApproval = true
	action.MarkApproved(action.UserID)
	if err := g.actions.Transition(ctx, action, from); err != nil {
		return nil, err
	}

	g.ledger.Transition(ctx, action, from, action.Status, action.InitiatedBy, "auto-approved by policy")
	g.ledger.Record(ctx, entity.NewAuditEvent(action.ID, entity.AuditEventApprovalResolved, action.InitiatedBy, "auto-approved by policy"))
	g.metrics.ApprovalsTotal.WithLabelValues("auto_approved", string(assessment.Level)).Inc()
	return approval, nil
}

// Resolve applies an approve/deny decision. The second resolution of the
// same approval gets an explicit conflict; the first decision sticks.
// On approve the action becomes eligible for execution; actually running
// it is the caller's responsibility.
func (g *ApprovalGate) Resolve(ctx context.Context, approvalID uuid.UUID, decision entity.ApprovalDecision, approver uuid.UUID, notes string) (*entity.ActionRecord, error) {
	approval, err := g.approvals.GetByID(ctx, approvalID)
	if err != nil {
		return nil, err
	}

	if err := approval.Resolve(decision, approver, notes); err != nil {
		return nil, err
	}
	if err := g.approvals.Resolve(ctx, approval); err != nil {
		return nil, err
	}
	g.metrics.ApprovalsPending.Dec()
	g.metrics.ApprovalsTotal.WithLabelValues(string(approval.ApprovalStatus), string(approval.RiskLevel)).Inc()

	action, err := g.actions.GetByID(ctx, approval.ActionID)
	if err != nil {
		return nil, err
	}

	from := action.Status
	switch decision {
	case entity.ApprovalDecisionApprove:
		action.MarkApproved(approver)
	case entity.ApprovalDecisionDeny:
		action.MarkRejected(fmt.Sprintf("approval denied by %s: %s", approver, notes))
	}
	if err := g.actions.Transition(ctx, action, from); err != nil {
		return nil, err
	}

	g.ledger.Transition(ctx, action, from, action.Status, approver.String(), notes)
	g.ledger.Record(ctx, entity.NewAuditEvent(action.ID, entity.AuditEventApprovalResolved, approver.String(), string(decision)))

	if decision == entity.ApprovalDecisionDeny {
		g.observer.ActionTerminal(ctx, action)
	}

	g.logger.Info("approval resolved",
		zap.String("approval_id", approvalID.String()),
		zap.String("action_id", action.ID.String()),
		zap.String("decision", string(decision)),
	)
	return action, nil
}

// Sweep expires pending approvals past their TTL and sends reminders for
// stale ones. Expiry is treated as denial: the parked action is rejected.
func (g *ApprovalGate) Sweep(ctx context.Context, now time.Time) (expired, reminded int, err error) {
	stale, err := g.approvals.ListPendingExpired(ctx, now)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list expired approvals: %w", err)
	}
	for _, approval := range stale {
		if swept := g.expireOne(ctx, approval); swept {
			expired++
		}
	}

	if g.config.ReminderInterval <= 0 {
		return expired, 0, nil
	}
	cutoff := now.Add(-g.config.ReminderInterval)
	pending, err := g.approvals.ListPendingForReminder(ctx, cutoff)
	if err != nil {
		return expired, 0, fmt.Errorf("failed to list approvals for reminder: %w", err)
	}
	for _, approval := range pending {
		approval.RecordReminder()
		if err := g.approvals.UpdateReminder(ctx, approval); err != nil {
			g.logger.Warn("failed to record approval reminder",
				zap.String("approval_id", approval.ID.String()), zap.Error(err))
			continue
		}
		g.ledger.Record(ctx, entity.NewAuditEvent(approval.ActionID, entity.AuditEventApprovalReminder,
			"system", fmt.Sprintf("reminder %d sent", approval.ReminderCount)))
		reminded++
	}
	return expired, reminded, nil
}

func (g *ApprovalGate) expireOne(ctx context.Context, approval *entity.ApprovalRecord) bool {
	approval.MarkExpired()
	if err := g.approvals.Resolve(ctx, approval); err != nil {
		// lost the race against a concurrent human resolution
		g.logger.Debug("approval expired concurrently with resolution",
			zap.String("approval_id", approval.ID.String()), zap.Error(err))
		return false
	}
	g.metrics.ApprovalsPending.Dec()
	g.metrics.ApprovalsTotal.WithLabelValues(string(entity.ApprovalStatusExpired), string(approval.RiskLevel)).Inc()

	action, err := g.actions.GetByID(ctx, approval.ActionID)
	if err != nil {
		g.logger.Error("expired approval references missing action",
			zap.String("approval_id", approval.ID.String()), zap.Error(err))
		return true
	}
	from := action.Status
	action.MarkRejected("approval expired before review")
	if err := g.actions.Transition(ctx, action, from); err != nil {
		g.logger.Error("failed to reject action for expired approval",
			zap.String("action_id", action.ID.String()), zap.Error(err))
		return true
	}
	g.ledger.Transition(ctx, action, from, action.Status, "system", "approval expired")
	g.ledger.Record(ctx, entity.NewAuditEvent(action.ID, entity.AuditEventApprovalExpired, "system", "approval TTL elapsed"))
	g.observer.ActionTerminal(ctx, action)
	return true
}

// RunSweeper drives Sweep on a ticker until the context is cancelled
func (g *ApprovalGate) RunSweeper(ctx context.Context) {
	interval := g.config.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	g.logger.Info("approval sweeper started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			g.logger.Info("approval sweeper stopped")
			return
		case now := <-ticker.C:
			expired, reminded, err := g.Sweep(ctx, now.UTC())
			if err != nil {
				g.logger.Error("approval sweep failed", zap.Error(err))
				continue
			}
			if expired > 0 || reminded > 0 {
				g.logger.Info("approval sweep finished",
					zap.Int("expired", expired), zap.Int("reminded", reminded))
			}
		}
	}
}
