// Command migrate applies or rolls back the tracker schema in Postgres and creates the
// ClickHouse valuation history table.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/coin-tracker/internal/config"
	"github.com/coin-tracker/internal/logging"
	"github.com/coin-tracker/internal/storage"
)

func main() {
	var (
		action = flag.String("action", "up", "Migration action: up, down, version")
		dbType = flag.String("db", "postgres", "Database type: postgres, clickhouse")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.WithFields(map[string]interface{}{"db": *dbType, "action": *action})

	switch *dbType {
	case "postgres":
		err = migratePostgres(cfg.PostgresURL(), *action, logger)
	case "clickhouse":
		err = migrateClickHouse(&cfg.Database.ClickHouse, *action, logger)
	default:
		err = fmt.Errorf("unknown database type %q", *dbType)
	}
	if err != nil {
		logger.WithError(err).Fatal("Migration failed")
	}
}

func migratePostgres(databaseURL, action string, logger *logging.Logger) error {
	switch action {
	case "up":
		if err := storage.RunMigrations(databaseURL); err != nil {
			return err
		}
	case "down":
		if err := storage.RollbackMigrations(databaseURL); err != nil {
			return err
		}
	case "version":
	default:
		return fmt.Errorf("unknown action %q", action)
	}

	version, dirty, err := storage.MigrationVersion(databaseURL)
	if err != nil {
		return err
	}
	logger.WithFields(map[string]interface{}{
		"version": version,
		"dirty":   dirty,
	}).Info("Postgres schema version")
	return nil
}

// migrateClickHouse only creates tables; its statements are idempotent and have no down step
func migrateClickHouse(cfg *config.ClickHouseConfig, action string, logger *logging.Logger) error {
	if action != "up" {
		return fmt.Errorf("clickhouse supports only the up action, got %q", action)
	}

	db, err := storage.NewClickHouseDB(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.WithError(err).Warn("Error closing ClickHouse connection")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := storage.RunClickHouseMigrations(logging.WithLogger(ctx, logger), db); err != nil {
		return err
	}
	logger.WithField("database", db.Database()).Info("ClickHouse migrations applied")
	return nil
}
