// Package lock provides the fast lock backends and the Manager that combines
// them with the durable PostgreSQL backend.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	corelock "fiscalcore/internal/core/lock"
)

// releaseScript deletes the key only when it still carries the caller's owner token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisClient is the subset of the go-redis client used by the backend.
type RedisClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisBackend grants locks with SET NX PX and releases them with a
// compare-and-delete Lua script.
type RedisBackend struct {
	client    RedisClient
	keyPrefix string
}

// NewRedisBackend creates a backend on top of an existing client.
func NewRedisBackend(client RedisClient, keyPrefix string) *RedisBackend {
	if keyPrefix == "" {
		keyPrefix = "fiscal:lock:"
	}
	return &RedisBackend{client: client, keyPrefix: keyPrefix}
}

// Name implements corelock.Backend.
func (b *RedisBackend) Name() string { return "redis" }

func (b *RedisBackend) redisKey(key corelock.Key) string {
	return b.keyPrefix + key.String()
}

// TryAcquire implements corelock.Backend.
func (b *RedisBackend) TryAcquire(ctx context.Context, key corelock.Key, owner string, ttl time.Duration) (bool, error) {
	ok, err := b.client.SetNX(ctx, b.redisKey(key), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}

// Release implements corelock.Backend.
func (b *RedisBackend) Release(ctx context.Context, key corelock.Key, owner string) (bool, error) {
	n, err := releaseScript.Run(ctx, b.client, []string{b.redisKey(key)}, owner).Int64()
	if err != nil {
		return false, fmt.Errorf("redis release %s: %w", key, err)
	}
	return n == 1, nil
}

var _ corelock.Backend = (*RedisBackend)(nil)
