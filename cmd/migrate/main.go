// Package main applies the embedded schema migrations.
// Usage: migrate up
//        migrate down
//        migrate steps -1
//        migrate version
package main

import (
	"fmt"
	"os"
	"strconv"

	"fiscalcore/internal/config"
	"fiscalcore/internal/infrastructure/storage/postgres/migrations"
	"fiscalcore/pkg/logger"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Development: true})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	m, err := migrations.New(cfg.Database.DSN, log)
	if err != nil {
		log.Fatalw("failed to open migrations", "error", err)
	}
	defer func() { _ = m.Close() }()

	switch os.Args[1] {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "steps":
		if len(os.Args) < 3 {
			printUsage()
			os.Exit(1)
		}
		n, convErr := strconv.Atoi(os.Args[2])
		if convErr != nil {
			fmt.Printf("invalid step count %q\n", os.Args[2])
			os.Exit(1)
		}
		err = m.Steps(n)
	case "version":
		version, dirty, verr := m.Version()
		if verr != nil {
			err = verr
			break
		}
		fmt.Printf("version %d (dirty: %t)\n", version, dirty)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		log.Fatalw("migration failed", "command", os.Args[1], "error", err)
	}
}

func printUsage() {
	fmt.Println(`fiscalcore schema migrations

Usage:
  migrate <command> [args]

Commands:
  up         Apply all pending migrations
  down       Roll back every migration
  steps N    Apply N migrations (negative N rolls back)
  version    Print the current schema version

Environment Variables:
  FISCAL_DATABASE_DSN   PostgreSQL connection string (required)`)
}
