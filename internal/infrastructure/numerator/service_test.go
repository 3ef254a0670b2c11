package numerator

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiscalcore/internal/core/apperror"
	"fiscalcore/internal/core/id"
	corelock "fiscalcore/internal/core/lock"
	corenumerator "fiscalcore/internal/core/numerator"
	"fiscalcore/internal/core/tx"
	infralock "fiscalcore/internal/infrastructure/lock"
)

// memStore mimics the guarded UPDATE of the postgres counter store.
type memStore struct {
	mu      sync.Mutex
	current map[id.ID]int64
	status  map[id.ID]corenumerator.Status
	fail    error
}

func newMemStore(seq *corenumerator.Sequence) *memStore {
	return &memStore{
		current: map[id.ID]int64{seq.ID: seq.CurrentNumber},
		status:  map[id.ID]corenumerator.Status{seq.ID: seq.Status},
	}
}

func (m *memStore) Increment(_ context.Context, _ string, seriesID id.ID, limit int64) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return 0, false, m.fail
	}
	if m.status[seriesID] != corenumerator.StatusActive || m.current[seriesID] >= limit {
		return 0, false, nil
	}
	m.current[seriesID]++
	return m.current[seriesID], true, nil
}

type unavailableTx struct{}

func (unavailableTx) RunInTransaction(context.Context, func(context.Context) error) error {
	return tx.ErrUnavailable
}

func newSequence(t *testing.T, prefix string, rangeEnd *int64) *corenumerator.Sequence {
	t.Helper()
	seq, err := corenumerator.NewSequence("tenant-1", "main", "invoice", prefix, 0, nil, rangeEnd, true)
	require.NoError(t, err)
	return seq
}

func memoryLocker() corelock.Locker {
	return infralock.NewManager(infralock.NewMemoryBackend(time.Minute), nil, infralock.Config{})
}

func lockOpts() corelock.Options {
	return corelock.Options{TTL: 5 * time.Second, MaxAttempts: 200, RetryDelay: time.Millisecond}
}

func TestService_NextNumber_Sequential(t *testing.T) {
	seq := newSequence(t, "F-", nil)
	svc := New(memoryLocker(), newMemStore(seq), nil, lockOpts())

	first, err := svc.NextNumber(context.Background(), seq, "tenant-1")
	require.NoError(t, err)
	second, err := svc.NextNumber(context.Background(), seq, "tenant-1")
	require.NoError(t, err)

	assert.Equal(t, "F-1", first)
	assert.Equal(t, "F-2", second)
}

func TestService_NextNumber_Concurrent(t *testing.T) {
	seq := newSequence(t, "", nil)
	seq.CurrentNumber = 10
	svc := New(memoryLocker(), newMemStore(seq), nil, lockOpts())

	const n = 20
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.NextNumber(context.Background(), seq, "tenant-1")
		}(i)
	}
	wg.Wait()

	got := make([]int, n)
	for i, err := range errs {
		require.NoError(t, err)
		v, err := strconv.Atoi(results[i])
		require.NoError(t, err)
		got[i] = v
	}
	sort.Ints(got)
	for i, v := range got {
		assert.Equal(t, 11+i, v, "numbers must be unique and gap-free")
	}
}

func TestService_NextNumber_Exhausted(t *testing.T) {
	end := int64(2)
	seq := newSequence(t, "A", &end)
	svc := New(memoryLocker(), newMemStore(seq), nil, lockOpts())

	for i := 0; i < 2; i++ {
		_, err := svc.NextNumber(context.Background(), seq, "tenant-1")
		require.NoError(t, err)
	}
	_, err := svc.NextNumber(context.Background(), seq, "tenant-1")
	require.Error(t, err)
	assert.True(t, apperror.IsSequenceExhausted(err))
}

func TestService_NextNumber_PausedSeries(t *testing.T) {
	seq := newSequence(t, "A", nil)
	seq.Status = corenumerator.StatusPaused
	svc := New(memoryLocker(), newMemStore(seq), nil, lockOpts())

	_, err := svc.NextNumber(context.Background(), seq, "tenant-1")
	assert.True(t, apperror.IsSequenceExhausted(err))
}

func TestService_NextNumber_LockUnavailable(t *testing.T) {
	seq := newSequence(t, "A", nil)
	store := newMemStore(seq)
	locker := &corelock.MockLocker{
		AcquireFunc: func(_ context.Context, key corelock.Key, opts corelock.Options) (*corelock.Lease, error) {
			return nil, apperror.NewLockUnavailable(key.TenantID, key.Resource, opts.MaxAttempts)
		},
	}
	svc := New(locker, store, nil, lockOpts())

	_, err := svc.NextNumber(context.Background(), seq, "tenant-1")
	require.Error(t, err)
	assert.True(t, apperror.IsLockUnavailable(err))
	assert.Equal(t, int64(0), store.current[seq.ID], "no number may be consumed without the lock")
}

func TestService_NextNumber_FallsBackWithoutTransactions(t *testing.T) {
	seq := newSequence(t, "X", nil)
	svc := New(memoryLocker(), newMemStore(seq), unavailableTx{}, lockOpts())

	number, err := svc.NextNumber(context.Background(), seq, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "X1", number)
}

func TestService_NextNumber_StoreErrorReleasesLock(t *testing.T) {
	seq := newSequence(t, "X", nil)
	store := newMemStore(seq)
	store.fail = errors.New("connection reset")
	locker := memoryLocker()
	svc := New(locker, store, nil, corelock.Options{TTL: time.Minute, MaxAttempts: 1, RetryDelay: time.Millisecond})

	_, err := svc.NextNumber(context.Background(), seq, "tenant-1")
	require.ErrorContains(t, err, "connection reset")

	store.fail = nil
	number, err := svc.NextNumber(context.Background(), seq, "tenant-1")
	require.NoError(t, err, "lock must have been released after the failed increment")
	assert.Equal(t, "X1", number)
}
