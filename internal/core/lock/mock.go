package lock

import (
	"context"
	"time"
)

// MockLocker is a test implementation of Locker.
// With nil funcs it always grants and ignores releases.
type MockLocker struct {
	AcquireFunc func(ctx context.Context, key Key, opts Options) (*Lease, error)
	ReleaseFunc func(ctx context.Context, lease *Lease)
}

// Acquire implements Locker.
func (m *MockLocker) Acquire(ctx context.Context, key Key, opts Options) (*Lease, error) {
	if m.AcquireFunc != nil {
		return m.AcquireFunc(ctx, key, opts)
	}
	return &Lease{Key: key, Owner: "mock", Backend: "mock", Attempts: 1, Until: time.Now().Add(opts.TTL)}, nil
}

// Release implements Locker.
func (m *MockLocker) Release(ctx context.Context, lease *Lease) {
	if m.ReleaseFunc != nil {
		m.ReleaseFunc(ctx, lease)
	}
}

var _ Locker = (*MockLocker)(nil)
