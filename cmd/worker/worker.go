package main

import (
	"context"
	"time"

	"github.com/sourcegraph/conc"

	"fiscalcore/internal/config"
	appctx "fiscalcore/internal/core/context"
	"fiscalcore/internal/domain/auth"
	"fiscalcore/internal/domain/billing"
	"fiscalcore/pkg/logger"
)

// Retrier replays dead-lettered provider calls.
type Retrier interface {
	Tenants(ctx context.Context) ([]string, error)
	RetryPending(ctx context.Context, tenantID string, maxAttempts, limit int) ([]billing.RetryOutcome, error)
}

// Relay moves outbox rows to the event bus.
type Relay interface {
	ProcessBatch(ctx context.Context) (int, error)
	PurgePublished(ctx context.Context, olderThan time.Time) (int64, error)
}

// LockPurger removes expired rows from the durable lock table.
type LockPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Worker runs the periodic jobs. Each job has its own ticker so a slow
// provider does not hold back the outbox.
type Worker struct {
	retrier Retrier
	relay   Relay
	locks   LockPurger
	cfg     config.WorkerConfig
	log     *logger.Logger
	now     func() time.Time
}

func NewWorker(retrier Retrier, relay Relay, locks LockPurger, cfg config.WorkerConfig, log *logger.Logger) *Worker {
	return &Worker{
		retrier: retrier,
		relay:   relay,
		locks:   locks,
		cfg:     cfg,
		log:     log.WithComponent("worker"),
		now:     time.Now,
	}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	var wg conc.WaitGroup
	wg.Go(func() { w.every(ctx, w.cfg.RetryInterval, w.retryFailures) })
	wg.Go(func() { w.every(ctx, w.cfg.OutboxInterval, w.relayOutbox) })
	wg.Go(func() { w.every(ctx, w.cfg.CleanupInterval, w.cleanup) })
	wg.Wait()
}

func (w *Worker) every(ctx context.Context, interval time.Duration, job func(context.Context)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job(ctx)
		}
	}
}

// retryFailures replays pending failures tenant by tenant, each under a
// system identity so audit entries name the worker as actor.
func (w *Worker) retryFailures(ctx context.Context) {
	tenants, err := w.retrier.Tenants(ctx)
	if err != nil {
		w.log.Errorw("failed to list tenants with pending failures", "error", err)
		return
	}

	for _, tenantID := range tenants {
		if ctx.Err() != nil {
			return
		}
		tctx := appctx.WithUser(ctx, auth.SystemContext(tenantID))
		outcomes, err := w.retrier.RetryPending(tctx, tenantID, w.cfg.RetryMaxAttempts, w.cfg.RetryBatchSize)
		if err != nil {
			w.log.Errorw("retry batch failed", "tenant_id", tenantID, "error", err)
			continue
		}
		if len(outcomes) == 0 {
			continue
		}

		succeeded := 0
		for _, o := range outcomes {
			if o.OK {
				succeeded++
			}
		}
		w.log.Infow("retried imprenta failures",
			"tenant_id", tenantID,
			"attempted", len(outcomes),
			"succeeded", succeeded,
		)
	}
}

func (w *Worker) relayOutbox(ctx context.Context) {
	n, err := w.relay.ProcessBatch(ctx)
	if err != nil {
		w.log.Errorw("outbox relay failed", "error", err)
		return
	}
	if n > 0 {
		w.log.Debugw("relayed outbox batch", "count", n)
	}
}

func (w *Worker) cleanup(ctx context.Context) {
	if n, err := w.locks.PurgeExpired(ctx); err != nil {
		w.log.Warnw("failed to purge expired locks", "error", err)
	} else if n > 0 {
		w.log.Infow("purged expired locks", "count", n)
	}

	if w.cfg.OutboxRetention <= 0 {
		return
	}
	cutoff := w.now().Add(-w.cfg.OutboxRetention)
	if n, err := w.relay.PurgePublished(ctx, cutoff); err != nil {
		w.log.Warnw("failed to purge outbox", "error", err)
	} else if n > 0 {
		w.log.Infow("purged published outbox messages", "count", n)
	}
}
