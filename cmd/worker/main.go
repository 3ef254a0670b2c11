// Package main is the entry point for the fiscal billing background worker.
// It replays dead-lettered provider calls, relays the outbox to in-process
// listeners and purges expired rows.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"fiscalcore/internal/app"
	"fiscalcore/internal/config"
	"fiscalcore/internal/infrastructure/events"
	"fiscalcore/internal/infrastructure/storage/postgres"
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logger.WithLogger(ctx, log)

	log.Info("starting fiscalcore worker")

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize application", "error", err)
	}
	defer a.Close()

	bus, err := events.NewBus(log.WithComponent("events"))
	if err != nil {
		log.Fatalw("failed to create event bus", "error", err)
	}
	events.RegisterDefaultListeners(bus)

	busDone := make(chan struct{})
	go func() {
		defer close(busDone)
		if err := bus.Run(ctx); err != nil {
			log.Errorw("event bus stopped", "error", err)
		}
	}()
	<-bus.Running()

	relay := postgres.NewOutboxRelay(
		a.TxManager,
		cfg.Worker.OutboxBatchSize,
		cfg.Worker.OutboxMaxRetries,
		events.NewOutboxForwarder(bus.Publisher()),
	)

	worker := NewWorker(a.Retry, relay, a.LockStore, cfg.Worker, log)

	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	cancel()
	<-done

	if err := bus.Close(); err != nil {
		log.Warnw("failed to close event bus", "error", err)
	}
	<-busDone
	log.Info("worker stopped")
}
