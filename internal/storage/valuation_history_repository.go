package storage

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/coin-tracker/internal/errors"
	"github.com/coin-tracker/internal/models"
)

// ValuationHistoryRepository stores valuation history in ClickHouse
type ValuationHistoryRepository struct {
	db *ClickHouseDB
}

// NewValuationHistoryRepository creates a new valuation history repository
func NewValuationHistoryRepository(db *ClickHouseDB) *ValuationHistoryRepository {
	return &ValuationHistoryRepository{db: db}
}

// Record appends a batch of valuation records
func (r *ValuationHistoryRepository) Record(ctx context.Context, records []models.ValuationRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO valuation_history (
			entity_type, portfolio_id, coin_id, quantity, quote_value,
			quote_value_invested, pnl_percentage, pnl_quote_value, recorded_at
		)
	`)
	if err != nil {
		return apperrors.NewDatabaseError("prepare valuation history batch", err)
	}
	defer func() {
		_ = batch.Abort() // nolint:errcheck // no-op after send
	}()

	for _, rec := range records {
		if err := batch.Append(
			rec.EntityType,
			rec.PortfolioID,
			rec.CoinID,
			rec.Quantity,
			rec.QuoteValue,
			rec.QuoteValueInvested,
			rec.PNLPercentage,
			rec.PNLQuoteValue,
			rec.RecordedAt,
		); err != nil {
			return fmt.Errorf("failed to append valuation record: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return apperrors.NewDatabaseError("send valuation history batch", err)
	}
	return nil
}

// GetPortfolioHistory returns the portfolio-level records of one portfolio, newest first
func (r *ValuationHistoryRepository) GetPortfolioHistory(ctx context.Context, portfolioID string, since time.Time, limit int) ([]models.ValuationRecord, error) {
	query := `
		SELECT entity_type, portfolio_id, coin_id, quantity, quote_value,
		       quote_value_invested, pnl_percentage, pnl_quote_value, recorded_at
		FROM valuation_history
		WHERE portfolio_id = ? AND entity_type = ? AND recorded_at >= ?
		ORDER BY recorded_at DESC
		LIMIT ?
	`

	var records []models.ValuationRecord
	if err := r.db.Select(ctx, &records, query, portfolioID, models.EntityPortfolio, since, limit); err != nil {
		return nil, err
	}
	return records, nil
}
