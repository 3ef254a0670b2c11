// Package lock defines the distributed mutual-exclusion contract used to guard
// numbering series and document issuance across processes.
// Implementations live in infrastructure/lock and infrastructure/storage/postgres.
package lock

import (
	"context"
	"fmt"
	"time"
)

// Key identifies one lockable resource of one tenant.
type Key struct {
	TenantID string
	Resource string
}

// String renders the key as "tenant:resource".
func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.TenantID, k.Resource)
}

// SeriesKey is the lock key guarding a numbering series counter.
func SeriesKey(tenantID, seriesID string) Key {
	return Key{TenantID: tenantID, Resource: "series:" + seriesID}
}

// DocumentKey is the lock key guarding issuance of a single document.
func DocumentKey(tenantID, documentID string) Key {
	return Key{TenantID: tenantID, Resource: "document:" + documentID}
}

// Backend is one storage mechanism able to grant a lock.
//
// Both operations are atomic on the backend side:
//   - TryAcquire grants the key to owner only if no unexpired holder exists.
//   - Release deletes the key only if it is still held by owner
//     (compare-and-delete). A foreign or expired owner gets released=false, never an error.
type Backend interface {
	Name() string
	TryAcquire(ctx context.Context, key Key, owner string, ttl time.Duration) (granted bool, err error)
	Release(ctx context.Context, key Key, owner string) (released bool, err error)
}

// RetryPolicy selects the delay between acquisition attempts.
type RetryPolicy string

const (
	// PolicyConstant waits RetryDelay between every attempt.
	PolicyConstant RetryPolicy = "constant"
	// PolicyExponential doubles the delay after every attempt, starting at RetryDelay.
	PolicyExponential RetryPolicy = "exponential"
)

// Options controls a single acquisition.
type Options struct {
	TTL         time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
	Policy      RetryPolicy
}

// DefaultOptions returns 2s TTL, 5 attempts and 100ms constant delay.
func DefaultOptions() Options {
	return Options{
		TTL:         2 * time.Second,
		MaxAttempts: 5,
		RetryDelay:  100 * time.Millisecond,
		Policy:      PolicyConstant,
	}
}

// Normalize fills zero fields with defaults.
func (o Options) Normalize() Options {
	def := DefaultOptions()
	if o.TTL <= 0 {
		o.TTL = def.TTL
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = def.MaxAttempts
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = def.RetryDelay
	}
	if o.Policy == "" {
		o.Policy = def.Policy
	}
	return o
}

// Lease is a granted lock. Owner is the only authority for releasing it.
type Lease struct {
	Key      Key
	Owner    string
	Backend  string
	Attempts int
	Until    time.Time
}

// Locker acquires and releases leases.
type Locker interface {
	// Acquire returns a lease or an apperror with code LOCK_UNAVAILABLE
	// once all attempts are exhausted.
	Acquire(ctx context.Context, key Key, opts Options) (*Lease, error)

	// Release gives the lease back. Releasing a lease that is no longer owned
	// is a no-op.
	Release(ctx context.Context, lease *Lease)
}
