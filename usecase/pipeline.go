package usecase

import (
	"context"

	"github.com/google/uuid"

	"github.com/shelfwise/action-engine/domain/entity"
	"github.com/shelfwise/action-engine/domain/repository"
	"github.com/shelfwise/action-engine/domain/service"
	"github.com/shelfwise/action-engine/pkg/logging"
	"github.com/shelfwise/action-engine/pkg/metrics"
)

// TerminalObserver is notified exactly once when an action reaches a
// terminal status, for batch aggregate accounting
type TerminalObserver interface {
	ActionTerminal(ctx context.Context, action *entity.ActionRecord)
}

// SubmitOutcome is the result of pushing one request through the
// pipeline. Exactly one of Approval/Change describes how it ended:
// parked for approval, or executed.
type SubmitOutcome struct {
	Action   *entity.ActionRecord
	Approval *entity.ApprovalRecord
	Change   *service.ChangeResult
}

// RequiresApproval reports whether the action is parked behind the gate
func (o *SubmitOutcome) RequiresApproval() bool {
	return o.Approval != nil && o.Approval.ApprovalStatus == entity.ApprovalStatusPending
}

// ActionPipeline drives one request through validation, risk
// classification, the approval gate, and execution, in strict forward
// order
type ActionPipeline struct {
	validator  *ValidationEngine
	classifier *RiskClassifier
	gate       *ApprovalGate
	executor   *Executor
	actions    repository.ActionRepository
	ledger     *AuditLedger
	observer   TerminalObserver
	slots      *BatchSlotRegistry
	logger     *logging.Logger
	metrics    *metrics.Collector
}

// NewActionPipeline wires the pipeline stages together
func NewActionPipeline(
	validator *ValidationEngine,
	classifier *RiskClassifier,
	gate *ApprovalGate,
	executor *Executor,
	actions repository.ActionRepository,
	ledger *AuditLedger,
	observer TerminalObserver,
	slots *BatchSlotRegistry,
	logger *logging.Logger,
	collector *metrics.Collector,
) *ActionPipeline {
	return &ActionPipeline{
		validator:  validator,
		classifier: classifier,
		gate:       gate,
		executor:   executor,
		actions:    actions,
		ledger:     ledger,
		observer:   observer,
		slots:      slots,
		logger:     logger.WithComponent("pipeline"),
		metrics:    collector,
	}
}

// Submit runs the full pipeline for one request. A validation failure
// returns ValidationFailedError with nothing persisted. An action that
// requires approval is parked and returned; execution happens when the
// approval resolves. Execution failures return ExecutionError with the
// action persisted as failed.
func (p *ActionPipeline) Submit(ctx context.Context, req *entity.ActionRequest, batchID *uuid.UUID) (*SubmitOutcome, error) {
	validation, err := p.validator.Validate(ctx, req)
	if err != nil {
		return nil, err
	}
	if !validation.Valid {
		return nil, entity.NewValidationFailedError(validation.Violations)
	}
	if req.ExpectedImpact == 0 {
		req.ExpectedImpact = validation.ExpectedImpact
	}

	action := entity.NewActionRecord(req)
	action.BatchID = batchID
	if err := p.actions.Create(ctx, action); err != nil {
		return nil, err
	}
	p.ledger.Transition(ctx, action, "", entity.ActionStatusPending, action.InitiatedBy, req.Reason)

	action.MarkValidated()
	if err := p.actions.Transition(ctx, action, entity.ActionStatusPending); err != nil {
		return nil, err
	}
	p.ledger.Transition(ctx, action, entity.ActionStatusPending, entity.ActionStatusValidated, action.InitiatedBy, "")

	assessment := p.classifier.Classify(req, validation)
	if assessment.RequiresApproval {
		if assessment.AutoApprovable {
			approval, err := p.gate.AutoApprove(ctx, action, assessment)
			if err != nil {
				return nil, err
			}
			return p.execute(ctx, action, approval)
		}
		approval, err := p.gate.SubmitForApproval(ctx, action, assessment)
		if err != nil {
			return nil, err
		}
		return &SubmitOutcome{Action: action, Approval: approval}, nil
	}

	return p.execute(ctx, action, nil)
}

// ResolveApproval applies an approval decision and, on approve, runs the
// parked action to a terminal state. An approved batch member takes a
// slot of its batch's concurrency pool before executing, so the batch's
// max_concurrent bound holds even while the batch is still draining.
func (p *ActionPipeline) ResolveApproval(ctx context.Context, approvalID uuid.UUID, decision entity.ApprovalDecision, approver uuid.UUID, notes string) (*SubmitOutcome, error) {
	action, err := p.gate.Resolve(ctx, approvalID, decision, approver, notes)
	if err != nil {
		return nil, err
	}
	if action.Status != entity.ActionStatusApproved {
		// denied: terminal, already accounted by the gate
		return &SubmitOutcome{Action: action}, nil
	}

	if action.BatchID != nil {
		release, err := p.slots.Acquire(ctx, *action.BatchID)
		if err != nil {
			return nil, err
		}
		defer release()
	}
	return p.execute(ctx, action, nil)
}

// Skip persists a never-dispatched batch member in the skipped terminal
// state so aggregate counts stay exact
func (p *ActionPipeline) Skip(ctx context.Context, req *entity.ActionRequest, batchID *uuid.UUID, reason string) (*entity.ActionRecord, error) {
	action := entity.NewActionRecord(req)
	action.BatchID = batchID
	action.MarkSkipped(reason)
	if err := p.actions.Create(ctx, action); err != nil {
		return nil, err
	}
	p.ledger.Transition(ctx, action, "", entity.ActionStatusSkipped, action.InitiatedBy, reason)
	p.metrics.RecordActionTerminal(string(action.ActionType), string(entity.ActionStatusSkipped))
	p.observer.ActionTerminal(ctx, action)
	return action, nil
}

func (p *ActionPipeline) execute(ctx context.Context, action *entity.ActionRecord, approval *entity.ApprovalRecord) (*SubmitOutcome, error) {
	result, err := p.executor.Execute(ctx, action)
	if err != nil {
		if action.Status.IsTerminal() {
			p.observer.ActionTerminal(ctx, action)
		}
		return &SubmitOutcome{Action: action, Approval: approval}, err
	}
	p.observer.ActionTerminal(ctx, action)
	return &SubmitOutcome{Action: action, Approval: approval, Change: result.Change}, nil
}
