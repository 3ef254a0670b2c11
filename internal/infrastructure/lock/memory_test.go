package lock

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	corelock "fiscalcore/internal/core/lock"
)

func TestMemoryBackend_SetIfAbsent(t *testing.T) {
	b := NewMemoryBackend(time.Minute)
	ctx := context.Background()
	k := corelock.SeriesKey("t1", "s1")

	ok, err := b.TryAcquire(ctx, k, "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryAcquire(ctx, k, "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// Other series and other tenants are independent.
	ok, _ = b.TryAcquire(ctx, corelock.SeriesKey("t1", "s2"), "b", time.Minute)
	assert.True(t, ok)
	ok, _ = b.TryAcquire(ctx, corelock.SeriesKey("t2", "s1"), "b", time.Minute)
	assert.True(t, ok)
}

func TestMemoryBackend_CompareAndDelete(t *testing.T) {
	b := NewMemoryBackend(time.Minute)
	ctx := context.Background()
	k := corelock.SeriesKey("t1", "s1")

	_, _ = b.TryAcquire(ctx, k, "a", time.Minute)

	released, err := b.Release(ctx, k, "b")
	require.NoError(t, err)
	assert.False(t, released)

	ok, _ := b.TryAcquire(ctx, k, "b", time.Minute)
	assert.False(t, ok, "foreign release must not free the key")

	released, _ = b.Release(ctx, k, "a")
	assert.True(t, released)

	released, _ = b.Release(ctx, k, "a")
	assert.False(t, released, "double release is a no-op")
}

func TestMemoryBackend_ExpiredHolderIsReclaimed(t *testing.T) {
	b := NewMemoryBackend(time.Minute)
	ctx := context.Background()
	k := corelock.SeriesKey("t1", "s1")

	_, _ = b.TryAcquire(ctx, k, "crashed", 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	ok, err := b.TryAcquire(ctx, k, "next", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	released, _ := b.Release(ctx, k, "crashed")
	assert.False(t, released, "stale holder cannot release the new lock")
}

func TestMemoryBackend_StaleReleaseRacingAcquire(t *testing.T) {
	b := NewMemoryBackend(time.Minute)
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		k := corelock.SeriesKey("t1", fmt.Sprintf("s%d", i))
		_, _ = b.TryAcquire(ctx, k, "stale", time.Millisecond)
		time.Sleep(2 * time.Millisecond)

		var (
			wg       sync.WaitGroup
			acquired bool
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = b.Release(ctx, k, "stale")
		}()
		go func() {
			defer wg.Done()
			acquired, _ = b.TryAcquire(ctx, k, "fresh", time.Minute)
		}()
		wg.Wait()

		require.True(t, acquired, "expired key must be reclaimable")
		ok, _ := b.TryAcquire(ctx, k, "third", time.Minute)
		require.False(t, ok, "iteration %d: stale release removed the new holder", i)
	}
}
