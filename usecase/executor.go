package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shelfwise/action-engine/domain/entity"
	"github.com/shelfwise/action-engine/domain/repository"
	"github.com/shelfwise/action-engine/domain/service"
	"github.com/shelfwise/action-engine/pkg/logging"
	"github.com/shelfwise/action-engine/pkg/metrics"
)

// CacheInvalidator is implemented by cached catalog readers so the
// executor can force a fresh read before snapshotting and drop stale
// entries after mutating.
type CacheInvalidator interface {
	InvalidateSKU(ctx context.Context, sku string) error
}

// ExecutionResult carries the completed action and the raw change outcome
type ExecutionResult struct {
	Action *entity.ActionRecord
	Change *service.ChangeResult
}

// Executor performs the actual mutation against the commerce system. The
// pre-mutation snapshot is persisted together with the transition into
// executing, strictly before the mutating call, so a crash in between
// never leaves a mutated target without a recoverable snapshot.
type Executor struct {
	actions repository.ActionRepository
	catalog service.CatalogReader
	gateway service.CommerceGateway
	locks   *SKULockRegistry
	ledger  *AuditLedger
	logger  *logging.Logger
	metrics *metrics.Collector
	timeout time.Duration
}

// NewExecutor creates the executor. timeout bounds each mutating call;
// zero means no deadline.
func NewExecutor(
	actions repository.ActionRepository,
	catalog service.CatalogReader,
	gateway service.CommerceGateway,
	locks *SKULockRegistry,
	ledger *AuditLedger,
	logger *logging.Logger,
	collector *metrics.Collector,
	timeout time.Duration,
) *Executor {
	return &Executor{
		actions: actions,
		catalog: catalog,
		gateway: gateway,
		locks:   locks,
		ledger:  ledger,
		logger:  logger.WithComponent("executor"),
		metrics: collector,
		timeout: timeout,
	}
}

// Execute runs a validated or approved action to a terminal state. Any
// other starting status is rejected with InvalidStateError. On failure
// the action is persisted as failed with an error message; the returned
// ExecutionError distinguishes transient from permanent causes.
func (e *Executor) Execute(ctx context.Context, action *entity.ActionRecord) (*ExecutionResult, error) {
	if action.Status != entity.ActionStatusValidated && action.Status != entity.ActionStatusApproved {
		return nil, &entity.InvalidStateError{
			ActionID:  action.ID,
			Status:    action.Status,
			Operation: "execute",
		}
	}

	payload, err := entity.DecodePayload(action.ActionType, action.ActionPayload)
	if err != nil {
		return nil, e.failBeforeMutation(ctx, action, err)
	}

	release, err := e.locks.Acquire(ctx, action.TargetSKUs)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire SKU locks: %w", err)
	}
	defer release()

	snapshot, err := e.captureSnapshot(ctx, action, payload)
	if err != nil {
		return nil, e.failBeforeMutation(ctx, action, err)
	}
	encoded, err := snapshot.Encode()
	if err != nil {
		return nil, e.failBeforeMutation(ctx, action, err)
	}

	// Persist the snapshot atomically with the move into executing.
	from := action.Status
	action.BeginExecution(encoded)
	if err := e.actions.Transition(ctx, action, from); err != nil {
		return nil, err
	}
	e.ledger.Transition(ctx, action, from, entity.ActionStatusExecuting, action.InitiatedBy, "rollback snapshot captured")
	e.metrics.ActionsExecuting.Inc()
	defer e.metrics.ActionsExecuting.Dec()

	started := time.Now()
	mutationCtx := ctx
	cancel := func() {}
	if e.timeout > 0 {
		mutationCtx, cancel = context.WithTimeout(ctx, e.timeout)
	}
	change, mutErr := e.applyMutation(mutationCtx, action, payload, snapshot)
	cancel()
	e.metrics.ActionDuration.WithLabelValues(string(action.ActionType)).Observe(time.Since(started).Seconds())

	if mutErr != nil {
		return nil, e.failAfterDispatch(ctx, action, mutErr)
	}

	e.recordChange(action, change)
	action.MarkCompleted(change.ActualImpact, change.Metrics)
	if err := e.actions.Transition(ctx, action, entity.ActionStatusExecuting); err != nil {
		return nil, err
	}
	e.invalidate(ctx, action.TargetSKUs)
	e.ledger.Transition(ctx, action, entity.ActionStatusExecuting, entity.ActionStatusCompleted, action.InitiatedBy, "")
	e.metrics.RecordActionTerminal(string(action.ActionType), string(entity.ActionStatusCompleted))

	e.logger.Info("action executed",
		zap.String("action_id", action.ID.String()),
		zap.String("action_type", string(action.ActionType)),
		zap.Duration("duration", time.Since(started)),
	)
	return &ExecutionResult{Action: action, Change: change}, nil
}

// captureSnapshot re-reads current target state and builds the
// type-specific rollback snapshot
func (e *Executor) captureSnapshot(ctx context.Context, action *entity.ActionRecord, payload *entity.ActionPayload) (*entity.RollbackData, error) {
	switch action.ActionType {
	case entity.ActionTypePriceUpdate:
		sku, err := e.freshRead(ctx, payload.PriceUpdate.TargetSKU)
		if err != nil {
			return nil, err
		}
		data := entity.NewRollbackData(entity.RollbackKindPrice)
		data.Price = &entity.PriceSnapshot{SKU: sku.SKU, OldPrice: sku.Price, Currency: sku.Currency}
		return data, nil

	case entity.ActionTypeReorderStock:
		sku, err := e.freshRead(ctx, payload.ReorderStock.TargetSKU)
		if err != nil {
			return nil, err
		}
		data := entity.NewRollbackData(entity.RollbackKindStock)
		data.Stock = &entity.StockSnapshot{SKU: sku.SKU, OldQuantity: sku.Quantity}
		return data, nil

	case entity.ActionTypeLaunchCampaign:
		// The campaign ID is minted here, before the mutation, so the
		// snapshot alone is enough to cancel it later.
		data := entity.NewRollbackData(entity.RollbackKindCampaign)
		data.Campaign = &entity.CampaignSnapshot{
			CampaignID:   uuid.New().String(),
			CampaignName: payload.LaunchCampaign.CampaignName,
			TargetSKUs:   payload.LaunchCampaign.TargetSKUs,
		}
		return data, nil

	case entity.ActionTypeAdjustDiscount:
		sku, err := e.freshRead(ctx, payload.AdjustDiscount.TargetSKU)
		if err != nil {
			return nil, err
		}
		data := entity.NewRollbackData(entity.RollbackKindDiscount)
		data.Discount = &entity.DiscountSnapshot{SKU: sku.SKU, OldDiscountPct: sku.DiscountPct}
		return data, nil
	}
	return nil, fmt.Errorf("no snapshot strategy for action type %s", action.ActionType)
}

// applyMutation performs the forward call for the action's type
func (e *Executor) applyMutation(ctx context.Context, action *entity.ActionRecord, payload *entity.ActionPayload, snapshot *entity.RollbackData) (*service.ChangeResult, error) {
	switch action.ActionType {
	case entity.ActionTypePriceUpdate:
		return e.gateway.ApplyPriceChange(ctx, payload.PriceUpdate.TargetSKU, payload.PriceUpdate.NewPrice)
	case entity.ActionTypeReorderStock:
		target := snapshot.Stock.OldQuantity + payload.ReorderStock.Quantity
		return e.gateway.ApplyStockChange(ctx, payload.ReorderStock.TargetSKU, target, payload.ReorderStock.SupplierID)
	case entity.ActionTypeLaunchCampaign:
		return e.gateway.LaunchCampaign(ctx, snapshot.Campaign.CampaignID, payload.LaunchCampaign)
	case entity.ActionTypeAdjustDiscount:
		return e.gateway.ApplyDiscountChange(ctx, payload.AdjustDiscount.TargetSKU, payload.AdjustDiscount.DiscountPct)
	}
	return nil, fmt.Errorf("no mutation strategy for action type %s", action.ActionType)
}

// freshRead bypasses any cached state before snapshotting
func (e *Executor) freshRead(ctx context.Context, sku string) (*service.SKUSnapshot, error) {
	if invalidator, ok := e.catalog.(CacheInvalidator); ok {
		if err := invalidator.InvalidateSKU(ctx, sku); err != nil {
			e.logger.Warn("failed to invalidate cached SKU", zap.String("sku", sku), zap.Error(err))
		}
	}
	snapshot, err := e.catalog.GetSKU(ctx, sku)
	if err != nil {
		return nil, fmt.Errorf("failed to read current state of %s: %w", sku, err)
	}
	return snapshot, nil
}

// invalidate drops cached entries for mutated SKUs
func (e *Executor) invalidate(ctx context.Context, skus []string) {
	invalidator, ok := e.catalog.(CacheInvalidator)
	if !ok {
		return
	}
	for _, sku := range skus {
		if err := invalidator.InvalidateSKU(ctx, sku); err != nil {
			e.logger.Warn("failed to invalidate cached SKU", zap.String("sku", sku), zap.Error(err))
		}
	}
}

// recordChange folds the gateway's outcome into the record
func (e *Executor) recordChange(action *entity.ActionRecord, change *service.ChangeResult) {
	action.AffectedSystems = change.AffectedSystems
	for system, status := range change.SyncStatus {
		action.SetSyncState(system, status, "")
	}
	for key, value := range change.ExternalRefs {
		action.ExternalRefs[key] = value
	}
}

// failBeforeMutation terminates the action when nothing external was
// touched yet: no snapshot is required, nothing needs compensation.
func (e *Executor) failBeforeMutation(ctx context.Context, action *entity.ActionRecord, cause error) error {
	from := action.Status
	action.MarkFailed(cause.Error())
	if err := e.actions.Transition(ctx, action, from); err != nil {
		return err
	}
	e.ledger.Transition(ctx, action, from, entity.ActionStatusFailed, action.InitiatedBy, cause.Error())
	e.metrics.RecordActionTerminal(string(action.ActionType), string(entity.ActionStatusFailed))
	return &entity.ExecutionError{ActionID: action.ID, Transient: false, Cause: cause}
}

// failAfterDispatch terminates the action once the mutating call was
// issued. rollback_data stays valid: an error response means the target
// was not mutated, while the flag distinguishes "never ran" from "ran and
// needs rollback".
func (e *Executor) failAfterDispatch(ctx context.Context, action *entity.ActionRecord, cause error) error {
	transient := false
	message := cause.Error()
	if errors.Is(cause, context.DeadlineExceeded) {
		transient = true
		message = fmt.Sprintf("execution timed out after %s: %v", e.timeout, cause)
	}

	action.MarkFailed(message)
	if err := e.actions.Transition(ctx, action, entity.ActionStatusExecuting); err != nil {
		return err
	}
	e.ledger.Transition(ctx, action, entity.ActionStatusExecuting, entity.ActionStatusFailed, action.InitiatedBy, message)
	e.metrics.RecordActionTerminal(string(action.ActionType), string(entity.ActionStatusFailed))

	e.logger.Warn("action execution failed",
		zap.String("action_id", action.ID.String()),
		zap.Bool("transient", transient),
		zap.Error(cause),
	)
	return &entity.ExecutionError{ActionID: action.ID, Transient: transient, Cause: cause}
}
