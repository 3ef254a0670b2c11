package lock

import (
	"context"
	"sync"
	"time"

	goCache "github.com/patrickmn/go-cache"

	corelock "fiscalcore/internal/core/lock"
)

// MemoryBackend is a single-process fast backend built on go-cache.
// It gives the same guarantees as Redis within one process and is meant for
// development and single-instance deployments.
//
// go-cache locks each call on its own, but Release is a Get followed by a
// Delete. mu makes that pair atomic, and TryAcquire takes it too so a new
// owner cannot Add between a stale owner's Get and Delete and then lose the key.
type MemoryBackend struct {
	mu    sync.Mutex
	cache *goCache.Cache
}

// NewMemoryBackend creates an in-process backend. Expired entries are swept
// every cleanupInterval; an expired entry is never returned even before the sweep.
func NewMemoryBackend(cleanupInterval time.Duration) *MemoryBackend {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	return &MemoryBackend{cache: goCache.New(goCache.NoExpiration, cleanupInterval)}
}

// Name implements corelock.Backend.
func (b *MemoryBackend) Name() string { return "memory" }

// TryAcquire implements corelock.Backend. Add fails when an unexpired item exists.
func (b *MemoryBackend) TryAcquire(_ context.Context, key corelock.Key, owner string, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cache.Add(key.String(), owner, ttl) == nil, nil
}

// Release implements corelock.Backend.
func (b *MemoryBackend) Release(_ context.Context, key corelock.Key, owner string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current, ok := b.cache.Get(key.String())
	if !ok || current.(string) != owner {
		return false, nil
	}
	b.cache.Delete(key.String())
	return true, nil
}

var _ corelock.Backend = (*MemoryBackend)(nil)
