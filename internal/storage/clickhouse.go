package storage

import (
	"context"
	"net"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/coin-tracker/internal/config"
	apperrors "github.com/coin-tracker/internal/errors"
)

// ClickHouseDB holds the connection to the valuation history store.
// History writes are small append-only batches, one per revaluation pass.
type ClickHouseDB struct {
	conn     driver.Conn
	database string
}

// NewClickHouseDB opens and pings a ClickHouse connection
func NewClickHouseDB(cfg *config.ClickHouseConfig) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(clickhouseOptions(cfg))
	if err != nil {
		return nil, apperrors.NewDatabaseError("open clickhouse", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, apperrors.NewDatabaseError("ping clickhouse", err)
	}

	return &ClickHouseDB{conn: conn, database: cfg.Database}, nil
}

func clickhouseOptions(cfg *config.ClickHouseConfig) *clickhouse.Options {
	return &clickhouse.Options{
		Addr: []string{net.JoinHostPort(cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 30,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout:     5 * time.Second,
		MaxOpenConns:    4,
		MaxIdleConns:    1,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// Close closes the ClickHouse connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Conn returns the underlying ClickHouse connection
func (db *ClickHouseDB) Conn() driver.Conn {
	return db.conn
}

// Database returns the database the connection was opened on
func (db *ClickHouseDB) Database() string {
	return db.database
}

// Ping checks if the database is reachable
func (db *ClickHouseDB) Ping(ctx context.Context) error {
	if err := db.conn.Ping(ctx); err != nil {
		return apperrors.NewDatabaseError("ping clickhouse", err)
	}
	return nil
}

// Exec executes a statement without returning rows
func (db *ClickHouseDB) Exec(ctx context.Context, query string, args ...interface{}) error {
	if err := db.conn.Exec(ctx, query, args...); err != nil {
		return apperrors.NewDatabaseError("clickhouse exec", err)
	}
	return nil
}

// Select runs query and scans every row into dest, a pointer to a slice of
// structs tagged with `ch` column names
func (db *ClickHouseDB) Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	if err := db.conn.Select(ctx, dest, query, args...); err != nil {
		return apperrors.NewDatabaseError("clickhouse select", err)
	}
	return nil
}
