package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockRegistrySerializesSameKey(t *testing.T) {
	registry := NewSKULockRegistry()

	release, err := registry.Acquire(context.Background(), []string{"SKU-1"})
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		second, err := registry.Acquire(context.Background(), []string{"SKU-1"})
		if err == nil {
			second()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire must block while the key is held")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire never proceeded after release")
	}
}

func TestLockRegistryDisjointKeysDoNotBlock(t *testing.T) {
	registry := NewSKULockRegistry()

	releaseA, err := registry.Acquire(context.Background(), []string{"SKU-1"})
	require.NoError(t, err)
	defer releaseA()

	done := make(chan struct{})
	go func() {
		releaseB, err := registry.Acquire(context.Background(), []string{"SKU-2"})
		require.NoError(t, err)
		releaseB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disjoint keys must not contend")
	}
}

func TestLockRegistryMultiKeyOrderingAvoidsDeadlock(t *testing.T) {
	registry := NewSKULockRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		keys := []string{"SKU-1", "SKU-2", "SKU-3"}
		if i%2 == 1 {
			keys = []string{"SKU-3", "SKU-2", "SKU-1"}
		}
		wg.Add(1)
		go func(keys []string) {
			defer wg.Done()
			release, err := registry.Acquire(context.Background(), keys)
			if err != nil {
				return
			}
			time.Sleep(time.Millisecond)
			release()
		}(keys)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("opposite-order multi-key acquires deadlocked")
	}
}

func TestLockRegistryDuplicateKeysLockOnce(t *testing.T) {
	registry := NewSKULockRegistry()

	release, err := registry.Acquire(context.Background(), []string{"SKU-1", "SKU-1"})
	require.NoError(t, err)
	release()
}

func TestLockRegistryHonorsCancellation(t *testing.T) {
	registry := NewSKULockRegistry()

	release, err := registry.Acquire(context.Background(), []string{"SKU-1"})
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = registry.Acquire(ctx, []string{"SKU-1"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
