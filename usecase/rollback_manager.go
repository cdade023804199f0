package usecase

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shelfwise/action-engine/domain/entity"
	"github.com/shelfwise/action-engine/domain/repository"
	"github.com/shelfwise/action-engine/domain/service"
	"github.com/shelfwise/action-engine/pkg/logging"
	"github.com/shelfwise/action-engine/pkg/metrics"
)

// RollbackManager applies the inverse of a completed action using only
// the snapshot captured before execution. A failed compensating mutation
// leaves the action unrolled-back for manual follow-up; rollback never
// partially applies.
type RollbackManager struct {
	actions repository.ActionRepository
	gateway service.CommerceGateway
	catalog service.CatalogReader
	locks   *SKULockRegistry
	ledger  *AuditLedger
	logger  *logging.Logger
	metrics *metrics.Collector
}

// NewRollbackManager creates the rollback manager
func NewRollbackManager(
	actions repository.ActionRepository,
	gateway service.CommerceGateway,
	catalog service.CatalogReader,
	locks *SKULockRegistry,
	ledger *AuditLedger,
	logger *logging.Logger,
	collector *metrics.Collector,
) *RollbackManager {
	return &RollbackManager{
		actions: actions,
		gateway: gateway,
		catalog: catalog,
		locks:   locks,
		ledger:  ledger,
		logger:  logger.WithComponent("rollback_manager"),
		metrics: collector,
	}
}

// Rollback compensates a completed action. Preconditions: the action is
// completed and not yet rolled back; anything else is rejected
// explicitly, never silently ignored. Status remains completed; the
// rollback is recorded as an annotation so history stays legible.
func (m *RollbackManager) Rollback(ctx context.Context, actionID uuid.UUID, reason, initiator string) (*entity.ActionRecord, error) {
	action, err := m.actions.GetByID(ctx, actionID)
	if err != nil {
		return nil, err
	}

	if err := checkRollbackable(action); err != nil {
		return nil, err
	}

	release, err := m.locks.Acquire(ctx, action.TargetSKUs)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire SKU locks: %w", err)
	}
	defer release()

	// Re-read under the lock: a concurrent rollback may have won the race
	// between the first read and lock acquisition, and the compensating
	// mutation must only ever be applied once.
	action, err = m.actions.GetByID(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if err := checkRollbackable(action); err != nil {
		return nil, err
	}

	snapshot, err := entity.DecodeRollbackData(action.RollbackData)
	if err != nil {
		return nil, fmt.Errorf("rollback data for action %s is unusable: %w", action.ID, err)
	}

	if err := m.applyInverse(ctx, snapshot); err != nil {
		m.ledger.Record(ctx, entity.NewAuditEvent(action.ID, entity.AuditEventRollbackFailed, initiator, err.Error()))
		m.metrics.RollbacksTotal.WithLabelValues(string(action.ActionType), "failed").Inc()
		return nil, &entity.RollbackError{ActionID: action.ID, Cause: err}
	}

	action.MarkRolledBack(initiator, reason)
	if err := m.actions.MarkRolledBack(ctx, action); err != nil {
		return nil, err
	}
	m.invalidate(ctx, action.TargetSKUs)
	m.ledger.Record(ctx, entity.NewAuditEvent(action.ID, entity.AuditEventRolledBack, initiator, reason))
	m.metrics.RollbacksTotal.WithLabelValues(string(action.ActionType), "succeeded").Inc()

	m.logger.Info("action rolled back",
		zap.String("action_id", action.ID.String()),
		zap.String("initiator", initiator),
		zap.String("reason", reason),
	)
	return action, nil
}

// checkRollbackable enforces the rollback preconditions: completed and
// not yet rolled back
func checkRollbackable(action *entity.ActionRecord) error {
	if action.Status != entity.ActionStatusCompleted {
		return &entity.InvalidStateError{
			ActionID:  action.ID,
			Status:    action.Status,
			Operation: "rollback",
		}
	}
	if action.RolledBack {
		return &entity.AlreadyRolledBackError{ActionID: action.ID}
	}
	return nil
}

// applyInverse dispatches on the snapshot's kind tag to the compensating
// mutation, the inverse of the executor's forward call
func (m *RollbackManager) applyInverse(ctx context.Context, snapshot *entity.RollbackData) error {
	switch snapshot.Kind {
	case entity.RollbackKindPrice:
		_, err := m.gateway.ApplyPriceChange(ctx, snapshot.Price.SKU, snapshot.Price.OldPrice)
		return err
	case entity.RollbackKindStock:
		_, err := m.gateway.ApplyStockChange(ctx, snapshot.Stock.SKU, snapshot.Stock.OldQuantity, "")
		return err
	case entity.RollbackKindCampaign:
		_, err := m.gateway.CancelCampaign(ctx, snapshot.Campaign.CampaignID)
		return err
	case entity.RollbackKindDiscount:
		_, err := m.gateway.ApplyDiscountChange(ctx, snapshot.Discount.SKU, snapshot.Discount.OldDiscountPct)
		return err
	}
	return fmt.Errorf("no compensating mutation for snapshot kind %s", snapshot.Kind)
}

func (m *RollbackManager) invalidate(ctx context.Context, skus []string) {
	invalidator, ok := m.catalog.(CacheInvalidator)
	if !ok {
		return
	}
	for _, sku := range skus {
		if err := invalidator.InvalidateSKU(ctx, sku); err != nil {
			m.logger.Warn("failed to invalidate cached SKU", zap.String("sku", sku), zap.Error(err))
		}
	}
}
