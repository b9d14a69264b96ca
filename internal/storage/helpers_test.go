package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/coin-tracker/internal/config"
)

// testContext creates a context with timeout for tests
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// setupTestPostgres connects to the database named by the POSTGRES_* variables,
// migrates it and empties the tracker tables. The test is skipped unless the database
// name contains "test" and the database is reachable.
func setupTestPostgres(t *testing.T) *PostgresDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if !strings.Contains(cfg.Database.Postgres.Database, "test") {
		t.Skipf("Skipping test - POSTGRES_DB %q is not a test database", cfg.Database.Postgres.Database)
	}

	db, err := NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
	}
	t.Cleanup(db.Close)

	if err := RunMigrations(cfg.PostgresURL()); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}

	ctx := testContext(t)
	if _, err := db.Pool().Exec(ctx, `TRUNCATE portfolio_holdings, portfolios, market_snapshots`); err != nil {
		t.Fatalf("truncate error = %v", err)
	}

	return db
}
