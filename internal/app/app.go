// Package app wires the billing pipeline to its infrastructure. The server
// and the worker build the same graph and differ only in what they run.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fiscalcore/internal/config"
	corelock "fiscalcore/internal/core/lock"
	"fiscalcore/internal/domain/billing"
	"fiscalcore/internal/infrastructure/archive"
	"fiscalcore/internal/infrastructure/imprenta"
	infralock "fiscalcore/internal/infrastructure/lock"
	infranumerator "fiscalcore/internal/infrastructure/numerator"
	"fiscalcore/internal/infrastructure/storage/postgres"
	"fiscalcore/internal/infrastructure/storage/postgres/billing_repo"
	"fiscalcore/pkg/logger"
)

// App is the assembled dependency graph.
type App struct {
	Config *config.Config
	Log    *logger.Logger

	Pool      *postgres.Pool
	TxManager *postgres.TxManager
	Redis     *redis.Client
	LockStore *postgres.LockStore
	Locker    *infralock.Manager
	Providers *imprenta.Factory

	Pipeline *billing.Pipeline
	Retry    *billing.RetryCoordinator
	Series   *billing.SeriesService

	closers []func()
}

// New connects to PostgreSQL (and Redis when enabled) and builds the pipeline.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	pool, err := postgres.NewPool(ctx, cfg.Database.Pool())
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a.Pool = pool
	a.closers = append(a.closers, pool.Close)
	a.TxManager = postgres.NewTxManager(pool)

	fast, err := a.fastLockBackend(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.LockStore = postgres.NewLockStore(a.TxManager)
	a.Locker = infralock.NewManager(fast, a.LockStore, infralock.Config{
		Defaults:             cfg.Lock.Options(),
		FallbackOnContention: cfg.Lock.FallbackOnContention,
	})

	providerCfg, err := cfg.Imprenta.Provider()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Providers = imprenta.NewFactory(providerCfg, log.WithComponent("imprenta"))

	audit, err := postgres.NewAuditLog(a.TxManager)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create audit log: %w", err)
	}

	seriesRepo := billing_repo.NewSeriesRepo(a.TxManager)

	deps := billing.Deps{
		Documents: billing_repo.NewDocumentRepo(a.TxManager),
		Series:    seriesRepo,
		Evidence:  billing_repo.NewEvidenceRepo(a.TxManager),
		Audit:     audit,
		Failures:  billing_repo.NewFailureRepo(a.TxManager),
		Numbers:   infranumerator.New(a.Locker, seriesRepo, a.TxManager, cfg.Lock.Options()),
		Providers: a.Providers,
		Events:    postgres.NewOutboxPublisher(a.TxManager),
		Locker:    a.Locker,
		Tx:        a.TxManager,
	}

	archiver, err := archive.NewS3Archiver(ctx, cfg.Archive.S3())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create evidence archive: %w", err)
	}
	// A nil *S3Archiver must not become a non-nil interface.
	if archiver != nil {
		deps.Archive = archiver
	}

	pipelineCfg := billing.DefaultConfig()
	if cfg.Lock.IssueTTL > 0 {
		pipelineCfg.IssueLock.TTL = cfg.Lock.IssueTTL
	}

	a.Pipeline = billing.NewPipeline(deps, pipelineCfg)
	a.Retry = billing.NewRetryCoordinator(a.Pipeline, cfg.Worker.RetryConcurrency)
	a.Series = billing.NewSeriesService(seriesRepo)

	log.Infow("billing pipeline ready",
		"imprenta_mode", providerCfg.Mode,
		"lock_fast_backend", cfg.Lock.FastBackend,
		"archive_enabled", archiver != nil,
	)
	return a, nil
}

func (a *App) fastLockBackend(ctx context.Context) (corelock.Backend, error) {
	switch a.Config.Lock.FastBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     a.Config.Redis.Addr,
			Password: a.Config.Redis.Password,
			DB:       a.Config.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			// The durable backend still serves every lock; start degraded.
			a.Log.Warnw("redis unreachable at startup, locks fall back to postgres", "addr", a.Config.Redis.Addr, "error", err)
		}
		a.Redis = client
		a.closers = append(a.closers, func() { _ = client.Close() })
		return infralock.NewRedisBackend(client, ""), nil
	case "memory":
		return infralock.NewMemoryBackend(time.Minute), nil
	default:
		return nil, nil
	}
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
