package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	corelock "fiscalcore/internal/core/lock"
)

// LockStore is the durable lock backend. A lock is a row in billing_locks;
// the conditional upsert only overwrites a row whose locked_until has passed,
// so a crashed holder heals itself after its TTL.
//
// expire_at trails locked_until by GracePeriod and is what PurgeExpired
// (the TTL index equivalent) uses to garbage-collect abandoned rows.
type LockStore struct {
	txManager   *TxManager
	GracePeriod time.Duration
	now         func() time.Time
}

// NewLockStore creates the durable lock backend.
func NewLockStore(txManager *TxManager) *LockStore {
	return &LockStore{
		txManager:   txManager,
		GracePeriod: time.Minute,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Name implements corelock.Backend.
func (s *LockStore) Name() string { return "postgres" }

const acquireLockSQL = `
	INSERT INTO billing_locks (tenant_id, resource, owner, locked_until, expire_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (tenant_id, resource) DO UPDATE SET
		owner = EXCLUDED.owner,
		locked_until = EXCLUDED.locked_until,
		expire_at = EXCLUDED.expire_at
	WHERE billing_locks.locked_until < $6
	RETURNING owner
`

// TryAcquire implements corelock.Backend.
func (s *LockStore) TryAcquire(ctx context.Context, key corelock.Key, owner string, ttl time.Duration) (bool, error) {
	now := s.now()
	until := now.Add(ttl)

	var got string
	err := s.txManager.GetQuerier(ctx).QueryRow(ctx, acquireLockSQL,
		key.TenantID, key.Resource, owner, until, until.Add(s.GracePeriod), now,
	).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		// Conflict with an unexpired holder: the WHERE clause filtered the update.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	return got == owner, nil
}

// Release implements corelock.Backend.
func (s *LockStore) Release(ctx context.Context, key corelock.Key, owner string) (bool, error) {
	tag, err := s.txManager.GetQuerier(ctx).Exec(ctx, `
		DELETE FROM billing_locks
		WHERE tenant_id = $1 AND resource = $2 AND owner = $3
	`, key.TenantID, key.Resource, owner)
	if err != nil {
		return false, fmt.Errorf("release lock %s: %w", key, err)
	}
	return tag.RowsAffected() == 1, nil
}

// PurgeExpired deletes rows whose expire_at has passed. Returns rows removed.
func (s *LockStore) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := s.txManager.GetQuerier(ctx).Exec(ctx,
		`DELETE FROM billing_locks WHERE expire_at < $1`, s.now())
	if err != nil {
		return 0, fmt.Errorf("purge expired locks: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ corelock.Backend = (*LockStore)(nil)
