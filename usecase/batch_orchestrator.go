package usecase

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shelfwise/action-engine/domain/entity"
	"github.com/shelfwise/action-engine/domain/repository"
	"github.com/shelfwise/action-engine/pkg/logging"
	"github.com/shelfwise/action-engine/pkg/metrics"
)

// BatchAccountant keeps batch aggregate counters exact. It observes every
// terminal action, applies the outcome to the owning batch in one guarded
// repository call, and finalizes the batch when the last member lands.
// Actions without a batch are ignored.
type BatchAccountant struct {
	batches repository.BatchRepository
	actions repository.ActionRepository
	ledger  *AuditLedger
	slots   *BatchSlotRegistry
	logger  *logging.Logger
	metrics *metrics.Collector
}

// NewBatchAccountant creates the accountant
func NewBatchAccountant(
	batches repository.BatchRepository,
	actions repository.ActionRepository,
	ledger *AuditLedger,
	slots *BatchSlotRegistry,
	logger *logging.Logger,
	collector *metrics.Collector,
) *BatchAccountant {
	return &BatchAccountant{
		batches: batches,
		actions: actions,
		ledger:  ledger,
		slots:   slots,
		logger:  logger.WithComponent("batch_accountant"),
		metrics: collector,
	}
}

// ActionTerminal applies one member's terminal outcome to its batch
func (a *BatchAccountant) ActionTerminal(ctx context.Context, action *entity.ActionRecord) {
	if action.BatchID == nil {
		return
	}
	outcome := repository.BatchTerminalOutcome{
		ActionID:       action.ID,
		Status:         action.Status,
		ExpectedImpact: action.ExpectedImpact,
		ActualImpact:   action.ActualImpact,
	}
	a.record(ctx, *action.BatchID, outcome)
}

// RecordUnpersisted accounts for a batch member that never produced an
// action record, such as a validation failure. The outcome carries a nil
// action ID and counts as failed.
func (a *BatchAccountant) RecordUnpersisted(ctx context.Context, batchID uuid.UUID, expectedImpact float64) {
	a.record(ctx, batchID, repository.BatchTerminalOutcome{
		ActionID:       uuid.Nil,
		Status:         entity.ActionStatusFailed,
		ExpectedImpact: expectedImpact,
	})
}

func (a *BatchAccountant) record(ctx context.Context, batchID uuid.UUID, outcome repository.BatchTerminalOutcome) {
	batch, err := a.batches.RecordTerminal(ctx, batchID, outcome)
	if err != nil {
		a.logger.Error("failed to record batch terminal outcome",
			zap.String("batch_id", batchID.String()),
			zap.String("action_id", outcome.ActionID.String()),
			zap.String("status", string(outcome.Status)),
			zap.Error(err),
		)
		a.metrics.RecordError("batch_accounting", "batch_accountant")
		return
	}
	if batch.IsDone() && batch.Status == entity.BatchStatusRunning {
		a.finalize(ctx, batch)
	}
}

// finalize stamps completion once the last member lands. A batch whose
// final members resolve through the approval gate long after RunBatch
// returned is finalized here, not by the orchestrator.
func (a *BatchAccountant) finalize(ctx context.Context, batch *entity.ActionBatch) {
	batch.SuccessRate = a.successRate(ctx, batch)
	batch.Finalize()
	a.slots.Remove(batch.ID)
	if err := a.batches.Update(ctx, batch); err != nil {
		a.logger.Error("failed to finalize batch",
			zap.String("batch_id", batch.ID.String()),
			zap.Error(err),
		)
		a.metrics.RecordError("batch_finalize", "batch_accountant")
		return
	}

	event := entity.NewAuditEvent(uuid.Nil, entity.AuditEventBatchFinished, "system",
		fmt.Sprintf("batch %s finished: %d completed, %d failed, %d skipped",
			batch.BatchName, batch.Completed, batch.Failed, batch.Skipped))
	event.BatchID = &batch.ID
	a.ledger.Record(ctx, event)

	a.metrics.BatchesTotal.WithLabelValues(string(batch.Status)).Inc()
	a.logger.Info("batch finished",
		zap.String("batch_id", batch.ID.String()),
		zap.Int("completed", batch.Completed),
		zap.Int("failed", batch.Failed),
		zap.Int("skipped", batch.Skipped),
	)
}

// successRate is the share of completed members whose actual impact met
// or exceeded the expectation. Nil when nothing completed.
func (a *BatchAccountant) successRate(ctx context.Context, batch *entity.ActionBatch) *float64 {
	if batch.Completed == 0 {
		return nil
	}
	members, err := a.actions.ListByBatch(ctx, batch.ID)
	if err != nil {
		a.logger.Warn("failed to list batch members for success rate",
			zap.String("batch_id", batch.ID.String()),
			zap.Error(err),
		)
		return nil
	}
	completed, met := 0, 0
	for _, m := range members {
		if m.Status != entity.ActionStatusCompleted {
			continue
		}
		completed++
		if m.ActualImpact != nil && *m.ActualImpact >= m.ExpectedImpact {
			met++
		}
	}
	if completed == 0 {
		return nil
	}
	rate := float64(met) / float64(completed)
	return &rate
}

// BatchOrchestrator executes a set of requests as one batch under a
// shared concurrency and error policy. Member execution is bounded by a
// weighted semaphore sized to max_concurrent; a sequential batch is the
// degenerate case with weight one.
type BatchOrchestrator struct {
	pipeline   *ActionPipeline
	batches    repository.BatchRepository
	accountant *BatchAccountant
	slots      *BatchSlotRegistry
	ledger     *AuditLedger
	logger     *logging.Logger
	metrics    *metrics.Collector
}

// NewBatchOrchestrator creates the orchestrator
func NewBatchOrchestrator(
	pipeline *ActionPipeline,
	batches repository.BatchRepository,
	accountant *BatchAccountant,
	slots *BatchSlotRegistry,
	ledger *AuditLedger,
	logger *logging.Logger,
	collector *metrics.Collector,
) *BatchOrchestrator {
	return &BatchOrchestrator{
		pipeline:   pipeline,
		batches:    batches,
		accountant: accountant,
		slots:      slots,
		ledger:     ledger,
		logger:     logger.WithComponent("batch_orchestrator"),
		metrics:    collector,
	}
}

// RunBatch dispatches every request through the pipeline and returns once
// no member is still executing. Members parked behind the approval gate
// remain pending; the returned batch reflects the counters at return time
// and the accountant finalizes it when the last approval resolves. With
// stop_on_error set, members not yet dispatched when a failure lands are
// persisted as skipped.
func (o *BatchOrchestrator) RunBatch(ctx context.Context, cfg entity.BatchConfig, reqs []*entity.ActionRequest) (*entity.ActionBatch, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("batch %q has no actions", cfg.BatchName)
	}

	batch := entity.NewActionBatch(cfg, len(reqs))
	if err := o.batches.Create(ctx, batch); err != nil {
		return nil, err
	}

	batch.MarkStarted()
	if err := o.batches.Update(ctx, batch); err != nil {
		return nil, err
	}

	started := entity.NewAuditEvent(uuid.Nil, entity.AuditEventBatchStarted, cfg.UserID.String(),
		fmt.Sprintf("batch %s started: %d actions, max_concurrent=%d", batch.BatchName, len(reqs), batch.MaxConcurrent))
	started.BatchID = &batch.ID
	o.ledger.Record(ctx, started)
	o.metrics.BatchMembers.WithLabelValues(strconv.FormatBool(batch.ExecuteParallel)).Observe(float64(len(reqs)))

	o.logger.Info("batch started",
		zap.String("batch_id", batch.ID.String()),
		zap.String("batch_name", batch.BatchName),
		zap.Int("total_actions", len(reqs)),
		zap.Int("max_concurrent", batch.MaxConcurrent),
		zap.Bool("stop_on_error", batch.StopOnError),
	)

	// the registry entry outlives this call: approvals resolved after the
	// return take a slot from the same pool
	sem := o.slots.Register(batch.ID, batch.MaxConcurrent)
	var (
		wg      sync.WaitGroup
		stopped atomic.Bool
		mu      sync.Mutex
	)
	actionIDs := make([]uuid.UUID, 0, len(reqs))

	for _, req := range reqs {
		if batch.StopOnError && stopped.Load() {
			o.skipMember(ctx, req, batch, &mu, &actionIDs)
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			// context cancelled while waiting for a slot
			o.skipMember(ctx, req, batch, &mu, &actionIDs)
			stopped.Store(true)
			continue
		}

		// acquisition may have raced a failure
		if batch.StopOnError && stopped.Load() {
			sem.Release(1)
			o.skipMember(ctx, req, batch, &mu, &actionIDs)
			continue
		}

		wg.Add(1)
		go func(req *entity.ActionRequest) {
			defer wg.Done()
			defer sem.Release(1)
			o.runMember(ctx, req, batch, &stopped, &mu, &actionIDs)
		}(req)
	}
	wg.Wait()

	current, err := o.batches.GetByID(ctx, batch.ID)
	if err != nil {
		return nil, err
	}
	current.ActionIDs = actionIDs
	if err := o.batches.Update(ctx, current); err != nil {
		return nil, err
	}
	return current, nil
}

func (o *BatchOrchestrator) runMember(ctx context.Context, req *entity.ActionRequest, batch *entity.ActionBatch, stopped *atomic.Bool, mu *sync.Mutex, actionIDs *[]uuid.UUID) {
	outcome, err := o.pipeline.Submit(ctx, req, &batch.ID)
	if outcome != nil && outcome.Action != nil {
		mu.Lock()
		*actionIDs = append(*actionIDs, outcome.Action.ID)
		mu.Unlock()
	}
	if err == nil {
		return
	}

	if entity.IsValidationFailed(err) {
		// nothing was persisted; the member still counts as failed
		o.accountant.RecordUnpersisted(ctx, batch.ID, req.ExpectedImpact)
	}
	o.logger.Warn("batch member failed",
		zap.String("batch_id", batch.ID.String()),
		zap.String("action_type", string(req.ActionType)),
		zap.Error(err),
	)
	stopped.Store(true)
}

func (o *BatchOrchestrator) skipMember(ctx context.Context, req *entity.ActionRequest, batch *entity.ActionBatch, mu *sync.Mutex, actionIDs *[]uuid.UUID) {
	action, err := o.pipeline.Skip(ctx, req, &batch.ID, "skipped after earlier batch failure")
	if err != nil {
		o.logger.Error("failed to persist skipped batch member",
			zap.String("batch_id", batch.ID.String()),
			zap.Error(err),
		)
		o.accountant.record(ctx, batch.ID, repository.BatchTerminalOutcome{
			ActionID:       uuid.Nil,
			Status:         entity.ActionStatusSkipped,
			ExpectedImpact: req.ExpectedImpact,
		})
		return
	}
	mu.Lock()
	*actionIDs = append(*actionIDs, action.ID)
	mu.Unlock()
}
