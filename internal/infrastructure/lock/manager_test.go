package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiscalcore/internal/core/apperror"
	corelock "fiscalcore/internal/core/lock"
)

type fakeBackend struct {
	name      string
	acquire   func(owner string) (bool, error)
	calls     atomic.Int32
	mu        sync.Mutex
	releasers []string
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) TryAcquire(_ context.Context, _ corelock.Key, owner string, _ time.Duration) (bool, error) {
	f.calls.Add(1)
	return f.acquire(owner)
}

func (f *fakeBackend) Release(_ context.Context, _ corelock.Key, owner string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releasers = append(f.releasers, owner)
	return true, nil
}

func granting(name string) *fakeBackend {
	return &fakeBackend{name: name, acquire: func(string) (bool, error) { return true, nil }}
}

func contended(name string) *fakeBackend {
	return &fakeBackend{name: name, acquire: func(string) (bool, error) { return false, nil }}
}

func failing(name string) *fakeBackend {
	return &fakeBackend{name: name, acquire: func(string) (bool, error) { return false, errors.New("connection refused") }}
}

func fastOpts() corelock.Options {
	return corelock.Options{TTL: time.Second, MaxAttempts: 3, RetryDelay: time.Millisecond}
}

var key = corelock.SeriesKey("tenant-1", "series-1")

func TestManager_FastBackendFirst(t *testing.T) {
	fast, durable := granting("fast"), granting("durable")
	m := NewManager(fast, durable, Config{})

	lease, err := m.Acquire(context.Background(), key, fastOpts())
	require.NoError(t, err)
	assert.Equal(t, "fast", lease.Backend)
	assert.Equal(t, 1, lease.Attempts)
	assert.NotEmpty(t, lease.Owner)
	assert.Zero(t, durable.calls.Load())
}

func TestManager_FallsBackWhenFastUnavailable(t *testing.T) {
	fast, durable := failing("fast"), granting("durable")
	m := NewManager(fast, durable, Config{})

	lease, err := m.Acquire(context.Background(), key, fastOpts())
	require.NoError(t, err)
	assert.Equal(t, "durable", lease.Backend)

	m.Release(context.Background(), lease)
	assert.Equal(t, []string{lease.Owner}, durable.releasers)
	assert.Empty(t, fast.releasers)
}

func TestManager_ContentionDoesNotFallBackByDefault(t *testing.T) {
	fast, durable := contended("fast"), granting("durable")
	m := NewManager(fast, durable, Config{})

	_, err := m.Acquire(context.Background(), key, fastOpts())
	require.Error(t, err)
	assert.True(t, apperror.IsLockUnavailable(err))
	assert.Equal(t, int32(3), fast.calls.Load())
	assert.Zero(t, durable.calls.Load())

	appErr, _ := apperror.AsAppError(err)
	assert.Equal(t, 3, appErr.Details["attempts"])
}

func TestManager_FallbackOnContention(t *testing.T) {
	fast, durable := contended("fast"), granting("durable")
	m := NewManager(fast, durable, Config{FallbackOnContention: true})

	lease, err := m.Acquire(context.Background(), key, fastOpts())
	require.NoError(t, err)
	assert.Equal(t, "durable", lease.Backend)
}

func TestManager_DurableOnly(t *testing.T) {
	attempts := 0
	durable := &fakeBackend{name: "durable", acquire: func(string) (bool, error) {
		attempts++
		return attempts == 3, nil
	}}
	m := NewManager(nil, durable, Config{})

	lease, err := m.Acquire(context.Background(), key, fastOpts())
	require.NoError(t, err)
	assert.Equal(t, 3, lease.Attempts)
}

func TestManager_BothBackendsFailing(t *testing.T) {
	m := NewManager(failing("fast"), failing("durable"), Config{})

	_, err := m.Acquire(context.Background(), key, fastOpts())
	assert.True(t, apperror.IsLockUnavailable(err))
}

func TestManager_DefaultsApplied(t *testing.T) {
	durable := contended("durable")
	m := NewManager(nil, durable, Config{Defaults: corelock.Options{MaxAttempts: 2, RetryDelay: time.Millisecond}})

	_, err := m.Acquire(context.Background(), key, corelock.Options{})
	require.Error(t, err)
	assert.Equal(t, int32(2), durable.calls.Load())
}

func TestManager_ExponentialPolicyWaitsLonger(t *testing.T) {
	durable := contended("durable")
	m := NewManager(nil, durable, Config{})

	opts := corelock.Options{TTL: time.Second, MaxAttempts: 4, RetryDelay: 5 * time.Millisecond, Policy: corelock.PolicyExponential}
	start := time.Now()
	_, err := m.Acquire(context.Background(), key, opts)
	require.Error(t, err)

	// 5 + 10 + 20 ms between four attempts.
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
	assert.Equal(t, int32(4), durable.calls.Load())
}

func TestManager_SerializesHolders(t *testing.T) {
	m := NewManager(NewMemoryBackend(time.Minute), nil, Config{})
	opts := corelock.Options{TTL: 5 * time.Second, MaxAttempts: 2000, RetryDelay: time.Millisecond}

	var holders, maxHolders atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := m.Acquire(context.Background(), key, opts)
			if !assert.NoError(t, err) {
				return
			}
			n := holders.Add(1)
			for {
				cur := maxHolders.Load()
				if n <= cur || maxHolders.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			holders.Add(-1)
			m.Release(context.Background(), lease)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxHolders.Load())
}

func TestManager_ReleaseOfForeignLeaseIsNoop(t *testing.T) {
	mem := NewMemoryBackend(time.Minute)
	m := NewManager(mem, nil, Config{})
	opts := corelock.Options{TTL: time.Minute, MaxAttempts: 1, RetryDelay: time.Millisecond}

	leaseA, err := m.Acquire(context.Background(), key, opts)
	require.NoError(t, err)

	forged := *leaseA
	forged.Owner = "owner-b"
	m.Release(context.Background(), &forged)

	_, err = m.Acquire(context.Background(), key, opts)
	assert.True(t, apperror.IsLockUnavailable(err), "lock of A must survive a release by B")

	m.Release(context.Background(), leaseA)
	_, err = m.Acquire(context.Background(), key, opts)
	assert.NoError(t, err)
}
