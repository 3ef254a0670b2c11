// Package numerator assigns gap-free document numbers.
// It implements core/numerator.Generator on top of a distributed lock and a
// guarded counter increment.
package numerator

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fiscalcore/internal/core/apperror"
	corelock "fiscalcore/internal/core/lock"
	corenumerator "fiscalcore/internal/core/numerator"
	"fiscalcore/internal/core/tx"
	"fiscalcore/pkg/logger"
)

var tracer = otel.Tracer("fiscalcore/numerator")

// Service numbers documents one series at a time.
//
// The series lock is held only around the increment. The increment itself is
// guarded in SQL (active and below the range end), so even a lost lock cannot
// hand out the same number twice; the lock keeps contention off the row.
type Service struct {
	locker corelock.Locker
	store  corenumerator.CounterStore
	txm    tx.Manager
	opts   corelock.Options
}

// Ensure compile-time interface compliance.
var _ corenumerator.Generator = (*Service)(nil)

// New creates a numbering service. A nil tx manager runs the increment as a
// single statement.
func New(locker corelock.Locker, store corenumerator.CounterStore, txm tx.Manager, opts corelock.Options) *Service {
	if txm == nil {
		txm = tx.Nop{}
	}
	return &Service{
		locker: locker,
		store:  store,
		txm:    txm,
		opts:   opts,
	}
}

// NextNumber implements corenumerator.Generator.
func (s *Service) NextNumber(ctx context.Context, seq *corenumerator.Sequence, tenantID string) (string, error) {
	if seq == nil {
		return "", apperror.NewValidation("numbering series is required")
	}

	ctx, span := tracer.Start(ctx, "numerator.next_number", trace.WithAttributes(
		attribute.String("series.id", seq.ID.String()),
		attribute.String("tenant.id", tenantID),
	))
	defer span.End()

	lease, err := s.locker.Acquire(ctx, corelock.SeriesKey(tenantID, seq.ID.String()), s.opts)
	if err != nil {
		span.SetStatus(codes.Error, "lock unavailable")
		return "", err
	}
	defer s.locker.Release(ctx, lease)

	span.SetAttributes(attribute.String("lock.backend", lease.Backend))

	var (
		next int64
		ok   bool
	)
	increment := func(ctx context.Context) error {
		var err error
		next, ok, err = s.store.Increment(ctx, tenantID, seq.ID, seq.Limit())
		return err
	}

	err = s.txm.RunInTransaction(ctx, increment)
	if errors.Is(err, tx.ErrUnavailable) {
		logger.Warn(ctx, "transactions unavailable, incrementing with a single statement",
			"series_id", seq.ID,
		)
		err = increment(ctx)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "increment failed")
		return "", fmt.Errorf("increment series %s: %w", seq.ID, err)
	}
	if !ok {
		span.SetStatus(codes.Error, "series exhausted")
		return "", apperror.NewSequenceExhausted(seq.ID.String())
	}

	number := corenumerator.Format(seq.Prefix, next)
	logger.Debug(ctx, "number assigned",
		"series_id", seq.ID,
		"number", number,
		"lock_backend", lease.Backend,
	)
	return number, nil
}
