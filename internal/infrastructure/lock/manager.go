package lock

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"fiscalcore/internal/core/apperror"
	"fiscalcore/internal/core/id"
	corelock "fiscalcore/internal/core/lock"
	"fiscalcore/pkg/logger"
)

var tracer = otel.Tracer("fiscalcore/lock")

var errNotGranted = errors.New("lock held by another owner")

// Config configures the Manager.
type Config struct {
	// Defaults applies to Acquire calls whose options are zero.
	Defaults corelock.Options

	// FallbackOnContention sends a request to the durable backend even when the
	// fast backend answered "held by someone else". Off by default: with it on,
	// two holders can coexist (one per backend) and only the counter's
	// conditional update keeps numbers unique.
	FallbackOnContention bool
}

// Manager implements corelock.Locker over an optional fast backend and a
// durable fallback backend. The durable backend is used when the fast one is
// not configured or returns an error.
type Manager struct {
	fast     corelock.Backend
	durable  corelock.Backend
	cfg      Config
	newOwner func() string
}

// NewManager creates a Manager. Either backend may be nil, not both.
func NewManager(fast, durable corelock.Backend, cfg Config) *Manager {
	if fast == nil && durable == nil {
		panic("lock: at least one backend is required")
	}
	cfg.Defaults = cfg.Defaults.Normalize()
	return &Manager{
		fast:     fast,
		durable:  durable,
		cfg:      cfg,
		newOwner: id.NewToken,
	}
}

// Acquire implements corelock.Locker.
func (m *Manager) Acquire(ctx context.Context, key corelock.Key, opts corelock.Options) (*corelock.Lease, error) {
	opts = m.merge(opts)

	ctx, span := tracer.Start(ctx, "lock.acquire", trace.WithAttributes(
		attribute.String("lock.key", key.String()),
		attribute.Int("lock.max_attempts", opts.MaxAttempts),
	))
	defer span.End()

	owner := m.newOwner()
	attempts := 0
	var granted corelock.Backend

	op := func() error {
		attempts++
		b, err := m.tryOnce(ctx, key, owner, opts.TTL)
		if err != nil {
			return err
		}
		if b == nil {
			return errNotGranted
		}
		granted = b
		return nil
	}

	err := backoff.Retry(op, m.policy(ctx, opts))
	if err != nil || granted == nil {
		span.SetAttributes(attribute.Bool("lock.granted", false))
		logger.Warn(ctx, "lock not acquired",
			"lock_key", key.String(),
			"attempts", attempts,
			"error", err,
		)
		return nil, apperror.NewLockUnavailable(key.TenantID, key.Resource, attempts).WithCause(err)
	}

	span.SetAttributes(
		attribute.Bool("lock.granted", true),
		attribute.String("lock.backend", granted.Name()),
		attribute.Int("lock.attempts", attempts),
	)
	return &corelock.Lease{
		Key:      key,
		Owner:    owner,
		Backend:  granted.Name(),
		Attempts: attempts,
		Until:    time.Now().Add(opts.TTL),
	}, nil
}

// tryOnce makes a single acquisition attempt. A nil backend with nil error
// means the key is held by someone else.
func (m *Manager) tryOnce(ctx context.Context, key corelock.Key, owner string, ttl time.Duration) (corelock.Backend, error) {
	var fastErr error
	if m.fast != nil {
		ok, err := m.fast.TryAcquire(ctx, key, owner, ttl)
		switch {
		case err != nil:
			fastErr = err
			logger.Warn(ctx, "fast lock backend unavailable, falling back",
				"lock_key", key.String(),
				"backend", m.fast.Name(),
				"error", err,
			)
		case ok:
			return m.fast, nil
		case !m.cfg.FallbackOnContention:
			return nil, nil
		}
	}

	if m.durable == nil {
		return nil, fastErr
	}

	ok, err := m.durable.TryAcquire(ctx, key, owner, ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return m.durable, nil
}

// Release implements corelock.Locker. It runs even if ctx was cancelled so a
// failed request does not leave its lock behind until the TTL.
func (m *Manager) Release(ctx context.Context, lease *corelock.Lease) {
	if lease == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	b := m.backend(lease.Backend)
	if b == nil {
		logger.Error(ctx, "lease references unknown lock backend", "backend", lease.Backend)
		return
	}

	released, err := b.Release(ctx, lease.Key, lease.Owner)
	if err != nil {
		logger.Warn(ctx, "lock release failed, it will expire by ttl",
			"lock_key", lease.Key.String(),
			"backend", b.Name(),
			"error", err,
		)
		return
	}
	if !released {
		// Lease expired and someone else may hold the key now. Not an error.
		logger.Debug(ctx, "lock no longer owned, release skipped",
			"lock_key", lease.Key.String(),
			"backend", b.Name(),
		)
	}
}

func (m *Manager) backend(name string) corelock.Backend {
	if m.fast != nil && m.fast.Name() == name {
		return m.fast
	}
	if m.durable != nil && m.durable.Name() == name {
		return m.durable
	}
	return nil
}

func (m *Manager) merge(opts corelock.Options) corelock.Options {
	def := m.cfg.Defaults
	if opts.TTL <= 0 {
		opts.TTL = def.TTL
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	if opts.Policy == "" {
		opts.Policy = def.Policy
	}
	return opts
}

// policy builds the wait schedule between attempts. MaxAttempts counts the
// first try, so MaxAttempts-1 retries follow it.
func (m *Manager) policy(ctx context.Context, opts corelock.Options) backoff.BackOff {
	var b backoff.BackOff
	switch opts.Policy {
	case corelock.PolicyExponential:
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = opts.RetryDelay
		eb.RandomizationFactor = 0
		eb.Multiplier = 2
		eb.MaxElapsedTime = 0
		eb.Reset()
		b = eb
	default:
		b = backoff.NewConstantBackOff(opts.RetryDelay)
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(opts.MaxAttempts-1)), ctx)
}

var _ corelock.Locker = (*Manager)(nil)
