package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	corelock "fiscalcore/internal/core/lock"
)

// fakeRedis implements SET NX and the release script in memory.
type fakeRedis struct {
	redis.Scripter
	mu   sync.Mutex
	data map[string]string
	down bool
}

func newFakeRedis() *fakeRedis { return &fakeRedis{data: map[string]string{}} }

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return redis.NewBoolResult(false, errors.New("dial tcp: connection refused"))
	}
	if _, ok := f.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) EvalSha(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return redis.NewCmdResult(nil, errors.New("dial tcp: connection refused"))
	}
	if f.data[keys[0]] == args[0].(string) {
		delete(f.data, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func TestRedisBackend_AcquireAndRelease(t *testing.T) {
	client := newFakeRedis()
	b := NewRedisBackend(client, "")
	ctx := context.Background()
	k := corelock.SeriesKey("t1", "s1")

	ok, err := b.TryAcquire(ctx, k, "owner-a", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "owner-a", client.data["fiscal:lock:t1:series:s1"])

	ok, err = b.TryAcquire(ctx, k, "owner-b", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	released, err := b.Release(ctx, k, "owner-b")
	require.NoError(t, err)
	assert.False(t, released)

	released, err = b.Release(ctx, k, "owner-a")
	require.NoError(t, err)
	assert.True(t, released)
	assert.Empty(t, client.data)
}

func TestRedisBackend_OutageFallsThroughToDurable(t *testing.T) {
	client := newFakeRedis()
	client.down = true
	durable := NewMemoryBackend(time.Minute)
	m := NewManager(NewRedisBackend(client, "test:"), durable, Config{})

	lease, err := m.Acquire(context.Background(), corelock.SeriesKey("t1", "s1"), fastOpts())
	require.NoError(t, err)
	assert.Equal(t, "memory", lease.Backend)
}
