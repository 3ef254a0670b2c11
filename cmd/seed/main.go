// Package main provisions a tenant for local use: one default numbering
// series per document type and, optionally, an admin access token.
// Usage: seed --tenant acme [--token]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"fiscalcore/internal/config"
	appctx "fiscalcore/internal/core/context"
	"fiscalcore/internal/core/numerator"
	"fiscalcore/internal/domain/auth"
	"fiscalcore/internal/domain/billing"
	"fiscalcore/internal/infrastructure/storage/postgres"
	"fiscalcore/internal/infrastructure/storage/postgres/billing_repo"
	"fiscalcore/pkg/logger"
)

// defaultSeries lists the series a fresh tenant starts with.
var defaultSeries = []billing.SeriesInput{
	{Name: "Facturas", Type: billing.TypeInvoice, Prefix: "F-", StartNumber: 1, IsDefault: true},
	{Name: "Notas de crédito", Type: billing.TypeCreditNote, Prefix: "NC-", StartNumber: 1, IsDefault: true},
	{Name: "Notas de débito", Type: billing.TypeDebitNote, Prefix: "ND-", StartNumber: 1, IsDefault: true},
	{Name: "Notas de entrega", Type: billing.TypeDeliveryNote, Prefix: "NE-", StartNumber: 1, IsDefault: true},
	{Name: "Presupuestos", Type: billing.TypeQuote, Prefix: "P-", StartNumber: 1, IsDefault: true},
}

func main() {
	tenantID := flag.String("tenant", "", "tenant identifier (required)")
	withToken := flag.Bool("token", false, "print a billing admin access token for the tenant")
	flag.Parse()

	if *tenantID == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Level: "info", Development: true})
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		os.Exit(1)
	}

	ctx := logger.WithLogger(context.Background(), log)
	ctx = appctx.WithUser(ctx, auth.SystemContext(*tenantID))

	pool, err := postgres.NewPool(ctx, cfg.Database.Pool())
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	series := billing.NewSeriesService(billing_repo.NewSeriesRepo(postgres.NewTxManager(pool)))
	if err := seedSeries(ctx, series, *tenantID, log); err != nil {
		log.Fatalw("failed to seed series", "tenant_id", *tenantID, "error", err)
	}

	if *withToken {
		if cfg.JWT.Secret == "" {
			log.Fatal("FISCAL_JWT_SECRET is required to issue a token")
		}
		jwtConfig := auth.DefaultJWTConfig(cfg.JWT.Secret)
		if cfg.JWT.Issuer != "" {
			jwtConfig.Issuer = cfg.JWT.Issuer
		}
		jwtConfig.AccessTokenTTL = 24 * time.Hour
		token, expires, err := auth.NewJWTService(jwtConfig).GenerateAccessToken(appctx.UserContext{
			UserID:   "seed-admin",
			TenantID: *tenantID,
			Roles:    []string{auth.RoleBillingAdmin},
		})
		if err != nil {
			log.Fatalw("failed to issue token", "error", err)
		}
		fmt.Printf("access token (expires %s):\n%s\n", expires.Format(time.RFC3339), token)
	}

	log.Infow("seed complete", "tenant_id", *tenantID)
}

// SeriesCreator is the part of the series service seeding needs.
type SeriesCreator interface {
	List(ctx context.Context, tenantID string) ([]*numerator.Sequence, error)
	Create(ctx context.Context, tenantID string, in billing.SeriesInput) (*numerator.Sequence, error)
}

// seedSeries creates the missing default series. Types that already have a
// default are left alone, so running it twice is harmless.
func seedSeries(ctx context.Context, series SeriesCreator, tenantID string, log *logger.Logger) error {
	existing, err := series.List(ctx, tenantID)
	if err != nil {
		return err
	}
	hasDefault := make(map[string]bool, len(existing))
	for _, seq := range existing {
		if seq.IsDefault {
			hasDefault[seq.Type] = true
		}
	}

	for _, in := range defaultSeries {
		if hasDefault[string(in.Type)] {
			log.Infow("default series exists, skipped", "type", in.Type)
			continue
		}
		seq, err := series.Create(ctx, tenantID, in)
		if err != nil {
			return fmt.Errorf("create %s series: %w", in.Type, err)
		}
		log.Infow("created series", "type", seq.Type, "prefix", seq.Prefix, "series_id", seq.ID)
	}
	return nil
}
