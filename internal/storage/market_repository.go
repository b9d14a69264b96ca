package storage

import (
	"context"
	"errors"

	apperrors "github.com/coin-tracker/internal/errors"
	"github.com/coin-tracker/internal/models"
	"github.com/jackc/pgx/v5"
)

const marketSnapshotColumns = `
	id, symbol, current_price, market_cap, price_change_24h, price_change_percentage_24h,
	market_cap_change_24h, market_cap_change_percentage_24h, ath, ath_change_percentage,
	ath_date, atl, atl_change_percentage, atl_date, created_at, updated_at`

// MarketRepository handles market snapshot persistence
type MarketRepository struct {
	db *PostgresDB
}

// NewMarketRepository creates a new market snapshot repository
func NewMarketRepository(db *PostgresDB) *MarketRepository {
	return &MarketRepository{db: db}
}

// Count returns the number of stored snapshots
func (r *MarketRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM market_snapshots`).Scan(&count); err != nil {
		return 0, apperrors.NewDatabaseError("count market snapshots", err)
	}
	return count, nil
}

// GetByID retrieves a snapshot by asset id. It returns nil and no error when absent.
func (r *MarketRepository) GetByID(ctx context.Context, id string) (*models.MarketSnapshot, error) {
	query := `SELECT ` + marketSnapshotColumns + ` FROM market_snapshots WHERE id = $1`

	snapshot, err := scanMarketSnapshot(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.NewDatabaseError("get market snapshot", err)
	}
	return snapshot, nil
}

// GetAll returns every snapshot, largest market cap first
func (r *MarketRepository) GetAll(ctx context.Context) ([]*models.MarketSnapshot, error) {
	return r.list(ctx, `SELECT `+marketSnapshotColumns+` FROM market_snapshots ORDER BY market_cap DESC, id`)
}

// GetTop returns at most limit snapshots, largest market cap first
func (r *MarketRepository) GetTop(ctx context.Context, limit int) ([]*models.MarketSnapshot, error) {
	return r.list(ctx, `SELECT `+marketSnapshotColumns+` FROM market_snapshots ORDER BY market_cap DESC, id LIMIT $1`, limit)
}

func (r *MarketRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.MarketSnapshot, error) {
	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list market snapshots", err)
	}
	defer rows.Close()

	var snapshots []*models.MarketSnapshot
	for rows.Next() {
		snapshot, err := scanMarketSnapshot(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("scan market snapshot", err)
		}
		snapshots = append(snapshots, snapshot)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate market snapshots", err)
	}
	return snapshots, nil
}

// Create inserts a new snapshot with the timestamps already set on it
func (r *MarketRepository) Create(ctx context.Context, s *models.MarketSnapshot) error {
	query := `INSERT INTO market_snapshots (` + marketSnapshotColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := r.db.Pool().Exec(ctx, query,
		s.ID,
		s.Symbol,
		s.CurrentPrice,
		s.MarketCap,
		s.PriceChange24h,
		s.PriceChangePercentage24h,
		s.MarketCapChange24h,
		s.MarketCapChangePercentage24h,
		s.ATH,
		s.ATHChangePercentage,
		s.ATHDate,
		s.ATL,
		s.ATLChangePercentage,
		s.ATLDate,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		return apperrors.NewDatabaseError("create market snapshot", err)
	}
	return nil
}

// Update overwrites every mutable field and updated_at. created_at is never written.
func (r *MarketRepository) Update(ctx context.Context, s *models.MarketSnapshot) error {
	query := `
		UPDATE market_snapshots SET
			symbol = $2,
			current_price = $3,
			market_cap = $4,
			price_change_24h = $5,
			price_change_percentage_24h = $6,
			market_cap_change_24h = $7,
			market_cap_change_percentage_24h = $8,
			ath = $9,
			ath_change_percentage = $10,
			ath_date = $11,
			atl = $12,
			atl_change_percentage = $13,
			atl_date = $14,
			updated_at = $15
		WHERE id = $1
	`

	result, err := r.db.Pool().Exec(ctx, query,
		s.ID,
		s.Symbol,
		s.CurrentPrice,
		s.MarketCap,
		s.PriceChange24h,
		s.PriceChangePercentage24h,
		s.MarketCapChange24h,
		s.MarketCapChangePercentage24h,
		s.ATH,
		s.ATHChangePercentage,
		s.ATHDate,
		s.ATL,
		s.ATLChangePercentage,
		s.ATLDate,
		s.UpdatedAt,
	)
	if err != nil {
		return apperrors.NewDatabaseError("update market snapshot", err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("market snapshot", s.ID)
	}
	return nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMarketSnapshot(row rowScanner) (*models.MarketSnapshot, error) {
	var s models.MarketSnapshot
	err := row.Scan(
		&s.ID,
		&s.Symbol,
		&s.CurrentPrice,
		&s.MarketCap,
		&s.PriceChange24h,
		&s.PriceChangePercentage24h,
		&s.MarketCapChange24h,
		&s.MarketCapChangePercentage24h,
		&s.ATH,
		&s.ATHChangePercentage,
		&s.ATHDate,
		&s.ATL,
		&s.ATLChangePercentage,
		&s.ATLDate,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
