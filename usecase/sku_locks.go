package usecase

import (
	"context"
	"sort"
	"sync"
)

// SKULockRegistry serializes mutations per SKU. Two actions touching the
// same SKU must never have overlapping executing windows, even across
// batches: an interleaved second writer would snapshot stale state and
// produce an incorrect rollback.
type SKULockRegistry struct {
	mu    sync.Mutex
	locks map[string]*skuLock
}

type skuLock struct {
	ch   chan struct{}
	refs int
}

// NewSKULockRegistry creates an empty registry
func NewSKULockRegistry() *SKULockRegistry {
	return &SKULockRegistry{
		locks: make(map[string]*skuLock),
	}
}

// Acquire locks every given SKU, in sorted order so two multi-SKU actions
// can never deadlock against each other. Duplicate keys are locked once.
// The returned release function must be called exactly once. Acquisition
// respects context cancellation.
func (r *SKULockRegistry) Acquire(ctx context.Context, skus []string) (func(), error) {
	keys := make([]string, len(skus))
	copy(keys, skus)
	sort.Strings(keys)

	unique := keys[:0]
	for _, key := range keys {
		if len(unique) == 0 || unique[len(unique)-1] != key {
			unique = append(unique, key)
		}
	}
	keys = unique

	acquired := make([]*skuLock, 0, len(keys))
	for _, key := range keys {
		lock := r.checkout(key)
		select {
		case lock.ch <- struct{}{}:
			acquired = append(acquired, lock)
		case <-ctx.Done():
			r.checkin(lock)
			r.releaseAll(acquired)
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			r.releaseAll(acquired)
		})
	}
	return release, nil
}

// checkout returns the lock entry for a key, creating it on first use
func (r *SKULockRegistry) checkout(key string) *skuLock {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, ok := r.locks[key]
	if !ok {
		lock = &skuLock{ch: make(chan struct{}, 1)}
		r.locks[key] = lock
	}
	lock.refs++
	return lock
}

// checkin drops a reference without unlocking (used when acquisition
// fails mid-way)
func (r *SKULockRegistry) checkin(lock *skuLock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock.refs--
	r.collect()
}

func (r *SKULockRegistry) releaseAll(acquired []*skuLock) {
	for i := len(acquired) - 1; i >= 0; i-- {
		<-acquired[i].ch
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, lock := range acquired {
		lock.refs--
	}
	r.collect()
}

// collect removes unreferenced entries; callers hold r.mu
func (r *SKULockRegistry) collect() {
	for key, lock := range r.locks {
		if lock.refs == 0 {
			delete(r.locks, key)
		}
	}
}
