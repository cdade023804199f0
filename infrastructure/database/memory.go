package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shelfwise/action-engine/domain/entity"
	"github.com/shelfwise/action-engine/domain/repository"
)

// In-memory repositories with the same guard semantics as the PostgreSQL
// implementations. Used by tests and local development; records are copied
// on the way in and out so callers never share memory with the store.

// MemoryActionRepository is an in-memory ActionRepository
type MemoryActionRepository struct {
	mu      sync.RWMutex
	actions map[uuid.UUID]*entity.ActionRecord
}

// NewMemoryActionRepository creates an empty in-memory action store
func NewMemoryActionRepository() *MemoryActionRepository {
	return &MemoryActionRepository{actions: make(map[uuid.UUID]*entity.ActionRecord)}
}

func (r *MemoryActionRepository) Create(ctx context.Context, action *entity.ActionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[action.ID] = cloneAction(action)
	return nil
}

func (r *MemoryActionRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.ActionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored, ok := r.actions[id]
	if !ok {
		return nil, &entity.NotFoundError{Kind: "action", ID: id}
	}
	return cloneAction(stored), nil
}

func (r *MemoryActionRepository) ListByBatch(ctx context.Context, batchID uuid.UUID) ([]*entity.ActionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entity.ActionRecord
	for _, stored := range r.actions {
		if stored.BatchID != nil && *stored.BatchID == batchID {
			out = append(out, cloneAction(stored))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InitiatedAt.Before(out[j].InitiatedAt) })
	return out, nil
}

func (r *MemoryActionRepository) Transition(ctx context.Context, action *entity.ActionRecord, from entity.ActionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.actions[action.ID]
	if !ok {
		return &entity.NotFoundError{Kind: "action", ID: action.ID}
	}
	if stored.Status != from {
		return &entity.StateConflictError{ActionID: action.ID, Expected: from, Actual: stored.Status}
	}
	r.actions[action.ID] = cloneAction(action)
	return nil
}

func (r *MemoryActionRepository) MarkRolledBack(ctx context.Context, action *entity.ActionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.actions[action.ID]
	if !ok {
		return &entity.NotFoundError{Kind: "action", ID: action.ID}
	}
	if stored.Status != entity.ActionStatusCompleted || stored.RolledBack {
		return &entity.AlreadyRolledBackError{ActionID: action.ID}
	}
	r.actions[action.ID] = cloneAction(action)
	return nil
}

func (r *MemoryActionRepository) HealthCheck(ctx context.Context) error { return nil }

// MemoryApprovalRepository is an in-memory ApprovalRepository
type MemoryApprovalRepository struct {
	mu        sync.RWMutex
	approvals map[uuid.UUID]*entity.ApprovalRecord
}

// NewMemoryApprovalRepository creates an empty in-memory approval store
func NewMemoryApprovalRepository() *MemoryApprovalRepository {
	return &MemoryApprovalRepository{approvals: make(map[uuid.UUID]*entity.ApprovalRecord)}
}

func (r *MemoryApprovalRepository) Create(ctx context.Context, approval *entity.ApprovalRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	// one approval per action, same as the unique constraint in Postgres
	for _, stored := range r.approvals {
		if stored.ActionID == approval.ActionID {
			return fmt.Errorf("approval already exists for action %s", approval.ActionID)
		}
	}
	r.approvals[approval.ID] = cloneApproval(approval)
	return nil
}

func (r *MemoryApprovalRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.ApprovalRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored, ok := r.approvals[id]
	if !ok {
		return nil, &entity.ApprovalNotFoundError{ApprovalID: id}
	}
	return cloneApproval(stored), nil
}

func (r *MemoryApprovalRepository) GetByActionID(ctx context.Context, actionID uuid.UUID) (*entity.ApprovalRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *entity.ApprovalRecord
	for _, stored := range r.approvals {
		if stored.ActionID != actionID {
			continue
		}
		if latest == nil || stored.CreatedAt.After(latest.CreatedAt) {
			latest = stored
		}
	}
	if latest == nil {
		return nil, &entity.NotFoundError{Kind: "approval for action", ID: actionID}
	}
	return cloneApproval(latest), nil
}

func (r *MemoryApprovalRepository) Resolve(ctx context.Context, approval *entity.ApprovalRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.approvals[approval.ID]
	if !ok {
		return &entity.ApprovalNotFoundError{ApprovalID: approval.ID}
	}
	if stored.ApprovalStatus != entity.ApprovalStatusPending {
		return entity.NewApprovalConflictError(approval.ID, stored.ApprovalStatus)
	}
	r.approvals[approval.ID] = cloneApproval(approval)
	return nil
}

func (r *MemoryApprovalRepository) ListPendingExpired(ctx context.Context, now time.Time) ([]*entity.ApprovalRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entity.ApprovalRecord
	for _, stored := range r.approvals {
		if stored.IsExpired(now) {
			out = append(out, cloneApproval(stored))
		}
	}
	sortApprovals(out)
	return out, nil
}

func (r *MemoryApprovalRepository) ListPendingForReminder(ctx context.Context, cutoff time.Time) ([]*entity.ApprovalRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := time.Now().UTC()
	var out []*entity.ApprovalRecord
	for _, stored := range r.approvals {
		if stored.ApprovalStatus != entity.ApprovalStatusPending || stored.IsExpired(now) {
			continue
		}
		if stored.LastReminder == nil || stored.LastReminder.Before(cutoff) {
			out = append(out, cloneApproval(stored))
		}
	}
	sortApprovals(out)
	return out, nil
}

func (r *MemoryApprovalRepository) UpdateReminder(ctx context.Context, approval *entity.ApprovalRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.approvals[approval.ID]; !ok {
		return &entity.ApprovalNotFoundError{ApprovalID: approval.ID}
	}
	r.approvals[approval.ID] = cloneApproval(approval)
	return nil
}

// MemoryBatchRepository is an in-memory BatchRepository
type MemoryBatchRepository struct {
	mu      sync.Mutex
	batches map[uuid.UUID]*entity.ActionBatch
}

// NewMemoryBatchRepository creates an empty in-memory batch store
func NewMemoryBatchRepository() *MemoryBatchRepository {
	return &MemoryBatchRepository{batches: make(map[uuid.UUID]*entity.ActionBatch)}
}

func (r *MemoryBatchRepository) Create(ctx context.Context, batch *entity.ActionBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches[batch.ID] = cloneBatch(batch)
	return nil
}

func (r *MemoryBatchRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.ActionBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.batches[id]
	if !ok {
		return nil, &entity.NotFoundError{Kind: "batch", ID: id}
	}
	return cloneBatch(stored), nil
}

func (r *MemoryBatchRepository) Update(ctx context.Context, batch *entity.ActionBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.batches[batch.ID]
	if !ok {
		return &entity.NotFoundError{Kind: "batch", ID: batch.ID}
	}
	// counters are owned by RecordTerminal
	next := cloneBatch(batch)
	next.Completed = stored.Completed
	next.Failed = stored.Failed
	next.Pending = stored.Pending
	next.Skipped = stored.Skipped
	next.TotalExpectedImpact = stored.TotalExpectedImpact
	next.TotalActualImpact = stored.TotalActualImpact
	r.batches[batch.ID] = next
	return nil
}

func (r *MemoryBatchRepository) RecordTerminal(ctx context.Context, batchID uuid.UUID, outcome repository.BatchTerminalOutcome) (*entity.ActionBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.batches[batchID]
	if !ok {
		return nil, &entity.NotFoundError{Kind: "batch", ID: batchID}
	}
	if stored.Pending <= 0 {
		return nil, errNoPending(batchID)
	}
	stored.Pending--
	switch outcome.Status {
	case entity.ActionStatusCompleted:
		stored.Completed++
	case entity.ActionStatusSkipped:
		stored.Skipped++
	default:
		stored.Failed++
	}
	stored.TotalExpectedImpact += outcome.ExpectedImpact
	if outcome.ActualImpact != nil {
		stored.TotalActualImpact += *outcome.ActualImpact
	}
	if err := stored.Validate(); err != nil {
		return nil, err
	}
	return cloneBatch(stored), nil
}

// MemoryRuleRepository is an in-memory RuleRepository
type MemoryRuleRepository struct {
	mu    sync.RWMutex
	rules []*entity.ValidationRule
}

// NewMemoryRuleRepository creates an empty in-memory rule store
func NewMemoryRuleRepository() *MemoryRuleRepository {
	return &MemoryRuleRepository{}
}

func (r *MemoryRuleRepository) Create(ctx context.Context, rule *entity.ValidationRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *rule
	r.rules = append(r.rules, &copied)
	return nil
}

func (r *MemoryRuleRepository) ListEnabled(ctx context.Context, userID uuid.UUID, actionType entity.ActionType) ([]*entity.ValidationRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entity.ValidationRule
	for _, rule := range r.rules {
		if rule.Enabled && rule.UserID == userID && rule.ActionType == actionType {
			copied := *rule
			out = append(out, &copied)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out, nil
}

// MemoryAuditRepository is an in-memory append-only AuditRepository
type MemoryAuditRepository struct {
	mu     sync.RWMutex
	events []*entity.AuditEvent
}

// NewMemoryAuditRepository creates an empty in-memory ledger
func NewMemoryAuditRepository() *MemoryAuditRepository {
	return &MemoryAuditRepository{}
}

func (r *MemoryAuditRepository) Append(ctx context.Context, event *entity.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *event
	r.events = append(r.events, &copied)
	return nil
}

func (r *MemoryAuditRepository) ListByAction(ctx context.Context, actionID uuid.UUID) ([]*entity.AuditEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entity.AuditEvent
	for _, event := range r.events {
		if event.ActionID == actionID {
			copied := *event
			out = append(out, &copied)
		}
	}
	return out, nil
}

// All returns every recorded event in append order
func (r *MemoryAuditRepository) All() []*entity.AuditEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entity.AuditEvent, len(r.events))
	copy(out, r.events)
	return out
}

func sortApprovals(approvals []*entity.ApprovalRecord) {
	sort.Slice(approvals, func(i, j int) bool {
		return approvals[i].RequestedAt.Before(approvals[j].RequestedAt)
	})
}

type noPendingError struct{ batchID uuid.UUID }

func (e *noPendingError) Error() string {
	return "batch " + e.batchID.String() + " has no pending members left"
}

func errNoPending(batchID uuid.UUID) error {
	return &noPendingError{batchID: batchID}
}

func cloneAction(a *entity.ActionRecord) *entity.ActionRecord {
	copied := *a
	copied.TargetSKUs = append([]string(nil), a.TargetSKUs...)
	copied.ActionPayload = append([]byte(nil), a.ActionPayload...)
	copied.RollbackData = append([]byte(nil), a.RollbackData...)
	copied.AffectedSystems = append([]string(nil), a.AffectedSystems...)
	if a.SuccessMetrics != nil {
		copied.SuccessMetrics = make(map[string]float64, len(a.SuccessMetrics))
		for k, v := range a.SuccessMetrics {
			copied.SuccessMetrics[k] = v
		}
	}
	if a.ExternalRefs != nil {
		copied.ExternalRefs = make(map[string]string, len(a.ExternalRefs))
		for k, v := range a.ExternalRefs {
			copied.ExternalRefs[k] = v
		}
	}
	if a.SyncStatus != nil {
		copied.SyncStatus = make(map[string]entity.SyncState, len(a.SyncStatus))
		for k, v := range a.SyncStatus {
			copied.SyncStatus[k] = v
		}
	}
	return &copied
}

func cloneApproval(a *entity.ApprovalRecord) *entity.ApprovalRecord {
	copied := *a
	return &copied
}

func cloneBatch(b *entity.ActionBatch) *entity.ActionBatch {
	copied := *b
	copied.ActionIDs = append([]uuid.UUID(nil), b.ActionIDs...)
	return &copied
}
