// Package storage provides database connection and repository implementations.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/coin-tracker/internal/config"
	apperrors "github.com/coin-tracker/internal/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const applicationName = "coin-tracker"

// PostgresDB holds the pool serving market snapshots and portfolios
type PostgresDB struct {
	pool *pgxpool.Pool
}

// NewPostgresDB opens a pool and checks it with a ping
func NewPostgresDB(cfg *config.PostgresConfig) (*PostgresDB, error) {
	poolConfig, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, apperrors.NewDatabaseError("open postgres pool", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, apperrors.NewDatabaseError("ping postgres", err)
	}

	return &PostgresDB{pool: pool}, nil
}

func poolConfig(cfg *config.PostgresConfig) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL(url.Values{"application_name": {applicationName}}))
	if err != nil {
		return nil, apperrors.NewConfigError("POSTGRES_*", fmt.Sprintf("invalid connection settings: %v", err))
	}

	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 10
	}
	poolConfig.MaxConns = int32(maxConns) // #nosec G115 - MaxConnections is small and operator-set
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 15 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute
	return poolConfig, nil
}

// Close closes the database connection pool
func (db *PostgresDB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// Pool returns the underlying connection pool
func (db *PostgresDB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks if the database is reachable
func (db *PostgresDB) Ping(ctx context.Context) error {
	if err := db.pool.Ping(ctx); err != nil {
		return apperrors.NewDatabaseError("ping postgres", err)
	}
	return nil
}

// InTx runs fn in one transaction. fn's error is returned unchanged after rollback;
// begin and commit failures are database errors.
func (db *PostgresDB) InTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return apperrors.NewDatabaseError("begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // nolint:errcheck // no-op after commit
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return apperrors.NewDatabaseError("commit transaction", err)
	}
	return nil
}
