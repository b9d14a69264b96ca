package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/coin-tracker/internal/errors"
	"github.com/coin-tracker/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const valuationSelect = `
	quote_value, quote_value_ath, quote_value_atl, quote_value_invested,
	pnl_percentage, pnl_percentage_ath, pnl_percentage_atl,
	pnl_quote_value, pnl_quote_value_ath, pnl_quote_value_atl`

const portfolioColumns = `id,` + valuationSelect + `, created_at, updated_at`

const holdingColumns = `id, portfolio_id, coin_id, quantity, quantity_ath, quantity_atl,` +
	valuationSelect + `, created_at, updated_at`

// PortfolioRepository handles portfolio and holding persistence
type PortfolioRepository struct {
	db  *PostgresDB
	now func() time.Time
}

// NewPortfolioRepository creates a new portfolio repository
func NewPortfolioRepository(db *PostgresDB) *PortfolioRepository {
	return &PortfolioRepository{db: db, now: time.Now}
}

// Create inserts a portfolio. An empty ID is filled with a new uuid.
func (r *PortfolioRepository) Create(ctx context.Context, portfolio *models.Portfolio) error {
	if portfolio.ID == "" {
		portfolio.ID = uuid.New().String()
	}

	now := r.now()
	portfolio.CreatedAt = now
	portfolio.UpdatedAt = now

	query := `INSERT INTO portfolios (` + portfolioColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	args := append([]interface{}{portfolio.ID}, valuationArgs(portfolio.Valuation)...)
	args = append(args, portfolio.CreatedAt, portfolio.UpdatedAt)

	if _, err := r.db.Pool().Exec(ctx, query, args...); err != nil {
		return apperrors.NewDatabaseError("create portfolio", err)
	}
	return nil
}

// GetByID retrieves a portfolio with its holdings
func (r *PortfolioRepository) GetByID(ctx context.Context, id string) (*models.Portfolio, error) {
	query := `SELECT ` + portfolioColumns + ` FROM portfolios WHERE id = $1`

	portfolio, err := scanPortfolio(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("portfolio", id)
		}
		return nil, apperrors.NewDatabaseError("get portfolio", err)
	}

	holdings, err := r.listHoldings(ctx,
		`SELECT `+holdingColumns+` FROM portfolio_holdings WHERE portfolio_id = $1 ORDER BY coin_id`, id)
	if err != nil {
		return nil, err
	}
	portfolio.Holdings = holdings

	return portfolio, nil
}

// GetAll retrieves every portfolio with its holdings
func (r *PortfolioRepository) GetAll(ctx context.Context) ([]*models.Portfolio, error) {
	rows, err := r.db.Pool().Query(ctx, `SELECT `+portfolioColumns+` FROM portfolios ORDER BY created_at, id`)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list portfolios", err)
	}
	defer rows.Close()

	var portfolios []*models.Portfolio
	byID := make(map[string]*models.Portfolio)
	for rows.Next() {
		portfolio, err := scanPortfolio(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("scan portfolio", err)
		}
		portfolios = append(portfolios, portfolio)
		byID[portfolio.ID] = portfolio
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate portfolios", err)
	}

	if len(portfolios) == 0 {
		return portfolios, nil
	}

	holdings, err := r.listHoldings(ctx,
		`SELECT `+holdingColumns+` FROM portfolio_holdings ORDER BY portfolio_id, coin_id`)
	if err != nil {
		return nil, err
	}
	for _, h := range holdings {
		if p, ok := byID[h.PortfolioID]; ok {
			p.Holdings = append(p.Holdings, h)
		}
	}

	return portfolios, nil
}

// GetHolding retrieves one holding by its portfolio and asset. It returns nil and no error when absent.
func (r *PortfolioRepository) GetHolding(ctx context.Context, portfolioID, coinID string) (*models.PortfolioHolding, error) {
	query := `SELECT ` + holdingColumns + ` FROM portfolio_holdings WHERE portfolio_id = $1 AND coin_id = $2`

	holding, err := scanHolding(r.db.Pool().QueryRow(ctx, query, portfolioID, coinID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.NewDatabaseError("get holding", err)
	}
	return holding, nil
}

// CreateHoldings inserts holdings and, when given, applies the portfolio patch, all in one transaction
func (r *PortfolioRepository) CreateHoldings(ctx context.Context, holdings []models.PortfolioHolding, portfolio *models.PortfolioPatch) error {
	now := r.now()
	query := `INSERT INTO portfolio_holdings (` + holdingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	batch := &pgx.Batch{}
	for i := range holdings {
		h := &holdings[i]
		if h.ID == "" {
			h.ID = uuid.New().String()
		}
		h.CreatedAt = now
		h.UpdatedAt = now

		args := []interface{}{h.ID, h.PortfolioID, h.CoinID, h.Quantity, h.QuantityATH, h.QuantityATL}
		args = append(args, valuationArgs(h.Valuation)...)
		args = append(args, h.CreatedAt, h.UpdatedAt)
		batch.Queue(query, args...)
	}

	if err := r.queuePortfolioPatch(batch, portfolio, now); err != nil {
		return err
	}

	return r.sendBatch(ctx, batch, "create holdings")
}

// UpdateHoldings applies holding patches and, when given, the portfolio patch, all in one transaction
func (r *PortfolioRepository) UpdateHoldings(ctx context.Context, patches []models.HoldingPatch, portfolio *models.PortfolioPatch) error {
	now := r.now()

	batch := &pgx.Batch{}
	for _, patch := range patches {
		query, args, err := buildUpdate("portfolio_holdings", patch.HoldingID, patch.Fields(), now)
		if err != nil {
			return apperrors.NewInternalError("build holding update", err)
		}
		batch.Queue(query, args...)
	}

	if err := r.queuePortfolioPatch(batch, portfolio, now); err != nil {
		return err
	}

	return r.sendBatch(ctx, batch, "update holdings")
}

func (r *PortfolioRepository) queuePortfolioPatch(batch *pgx.Batch, patch *models.PortfolioPatch, now time.Time) error {
	if patch == nil {
		return nil
	}
	query, args, err := buildUpdate("portfolios", patch.PortfolioID, patch.Fields(), now)
	if err != nil {
		return apperrors.NewInternalError("build portfolio update", err)
	}
	batch.Queue(query, args...)
	return nil
}

// sendBatch runs every queued statement in one transaction. Any failed or no-op statement rolls back the whole batch.
func (r *PortfolioRepository) sendBatch(ctx context.Context, batch *pgx.Batch, operation string) error {
	if batch.Len() == 0 {
		return nil
	}

	err := r.db.InTx(ctx, func(tx pgx.Tx) error {
		results := tx.SendBatch(ctx, batch)

		for i := 0; i < batch.Len(); i++ {
			tag, err := results.Exec()
			if err != nil {
				_ = results.Close()
				return fmt.Errorf("statement %d: %w", i, err)
			}
			if tag.RowsAffected() == 0 {
				_ = results.Close()
				return fmt.Errorf("statement %d affected no rows", i)
			}
		}
		return results.Close()
	})
	if err != nil {
		return apperrors.NewDatabaseError(operation, err)
	}
	return nil
}

func (r *PortfolioRepository) listHoldings(ctx context.Context, query string, args ...interface{}) ([]models.PortfolioHolding, error) {
	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list holdings", err)
	}
	defer rows.Close()

	var holdings []models.PortfolioHolding
	for rows.Next() {
		holding, err := scanHolding(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("scan holding", err)
		}
		holdings = append(holdings, *holding)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate holdings", err)
	}
	return holdings, nil
}

func valuationArgs(v models.Valuation) []interface{} {
	return []interface{}{
		v.QuoteValue, v.QuoteValueATH, v.QuoteValueATL, v.QuoteValueInvested,
		v.PNLPercentage, v.PNLPercentageATH, v.PNLPercentageATL,
		v.PNLQuoteValue, v.PNLQuoteValueATH, v.PNLQuoteValueATL,
	}
}

func valuationDest(v *models.Valuation) []interface{} {
	return []interface{}{
		&v.QuoteValue, &v.QuoteValueATH, &v.QuoteValueATL, &v.QuoteValueInvested,
		&v.PNLPercentage, &v.PNLPercentageATH, &v.PNLPercentageATL,
		&v.PNLQuoteValue, &v.PNLQuoteValueATH, &v.PNLQuoteValueATL,
	}
}

func scanPortfolio(row rowScanner) (*models.Portfolio, error) {
	var p models.Portfolio
	dest := append([]interface{}{&p.ID}, valuationDest(&p.Valuation)...)
	dest = append(dest, &p.CreatedAt, &p.UpdatedAt)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanHolding(row rowScanner) (*models.PortfolioHolding, error) {
	var h models.PortfolioHolding
	dest := []interface{}{&h.ID, &h.PortfolioID, &h.CoinID, &h.Quantity, &h.QuantityATH, &h.QuantityATL}
	dest = append(dest, valuationDest(&h.Valuation)...)
	dest = append(dest, &h.CreatedAt, &h.UpdatedAt)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &h, nil
}
