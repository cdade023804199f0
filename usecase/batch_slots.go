package usecase

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// BatchSlotRegistry holds the weighted semaphore bounding each running
// batch. Members executed outside the orchestrator's dispatch loop,
// such as actions approved after RunBatch returned, acquire a slot here
// so the batch's max_concurrent bound holds for them too.
type BatchSlotRegistry struct {
	mu    sync.Mutex
	slots map[uuid.UUID]*semaphore.Weighted
}

// NewBatchSlotRegistry creates an empty registry
func NewBatchSlotRegistry() *BatchSlotRegistry {
	return &BatchSlotRegistry{slots: make(map[uuid.UUID]*semaphore.Weighted)}
}

// Register creates the batch's semaphore, or returns the existing one
func (r *BatchSlotRegistry) Register(batchID uuid.UUID, maxConcurrent int) *semaphore.Weighted {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sem, ok := r.slots[batchID]; ok {
		return sem
	}
	sem := semaphore.NewWeighted(int64(maxConcurrent))
	r.slots[batchID] = sem
	return sem
}

// Acquire takes one slot of the batch's pool, blocking while the pool is
// full. The returned release must be called once the member reaches a
// terminal state. A batch unknown to the registry is not bounded.
func (r *BatchSlotRegistry) Acquire(ctx context.Context, batchID uuid.UUID) (func(), error) {
	r.mu.Lock()
	sem, ok := r.slots[batchID]
	r.mu.Unlock()
	if !ok {
		return func() {}, nil
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}

// Remove drops a finalized batch's pool
func (r *BatchSlotRegistry) Remove(batchID uuid.UUID) {
	r.mu.Lock()
	delete(r.slots, batchID)
	r.mu.Unlock()
}
