// Package main is the entry point for the fiscal billing API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fiscalcore/internal/app"
	"fiscalcore/internal/config"
	"fiscalcore/internal/domain/auth"
	v1 "fiscalcore/internal/infrastructure/http/v1"
	"fiscalcore/internal/infrastructure/http/v1/handlers"
	"fiscalcore/internal/infrastructure/http/v1/middleware"
	"fiscalcore/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.App.IsDevelopment(),
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx := context.Background()
	log.Infow("starting fiscalcore server", "env", cfg.App.Env)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize application", "error", err)
	}
	defer a.Close()

	checks := map[string]handlers.Pinger{
		"database": a.Pool,
	}
	if a.Redis != nil {
		checks["redis"] = handlers.PingFunc(func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		})
	}

	// Without a validator the tenant comes from X-Tenant-ID; only for
	// deployments behind a gateway that already authenticates.
	var validator middleware.JWTValidator
	if cfg.JWT.Required {
		jwtConfig := auth.DefaultJWTConfig(cfg.JWT.Secret)
		if cfg.JWT.Issuer != "" {
			jwtConfig.Issuer = cfg.JWT.Issuer
		}
		validator = auth.NewJWTService(jwtConfig)
	} else {
		log.Warn("JWT authentication disabled, tenant taken from request header")
	}

	router := v1.NewRouter(v1.RouterConfig{
		Logger:       log,
		JWTValidator: validator,
		Documents:    a.Pipeline,
		Failures:     a.Retry,
		Series:       a.Series,
		HealthChecks: checks,
	})

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "port", cfg.App.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	// In-flight issuance holds a document lock; let it finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}
