package storage

import (
	"testing"
	"time"

	"github.com/coin-tracker/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildUpdate_HoldingPatch(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	qv := decimal.NewFromInt(1200)
	pnl := decimal.NewFromInt(20)
	patch := models.HoldingPatch{
		HoldingID: "h1",
		Valuation: models.ValuationPatch{QuoteValue: &qv, PNLPercentage: &pnl},
	}

	query, args, err := buildUpdate("portfolio_holdings", patch.HoldingID, patch.Fields(), now)
	require.NoError(t, err)

	assert.Equal(t,
		"UPDATE portfolio_holdings SET quote_value = $1, pnl_percentage = $2, updated_at = $3 WHERE id = $4",
		query)
	require.Len(t, args, 4)
	assert.True(t, args[0].(decimal.Decimal).Equal(qv))
	assert.Equal(t, now, args[2])
	assert.Equal(t, "h1", args[3])
}

func TestBuildUpdate_EmptyPatchTouchesUpdatedAt(t *testing.T) {
	query, args, err := buildUpdate("portfolios", "p1", nil, time.Now())
	require.NoError(t, err)

	assert.Equal(t, "UPDATE portfolios SET updated_at = $1 WHERE id = $2", query)
	assert.Len(t, args, 2)
}

func TestBuildUpdate_FullValuationPatch(t *testing.T) {
	patch := models.PortfolioPatch{
		PortfolioID: "p1",
		Valuation:   models.PatchFromValuation(models.Valuation{}),
	}

	query, args, err := buildUpdate("portfolios", patch.PortfolioID, patch.Fields(), time.Now())
	require.NoError(t, err)
	assert.Len(t, args, 12)
	assert.Contains(t, query, "pnl_quote_value_atl = $10")
	assert.Contains(t, query, "WHERE id = $12")
}

func TestBuildUpdate_Rejects(t *testing.T) {
	one := decimal.NewFromInt(1)

	_, _, err := buildUpdate("market_snapshots", "btc", nil, time.Now())
	assert.Error(t, err)

	_, _, err = buildUpdate("portfolios", "p1", []models.PatchField{{Column: "quantity", Value: one}}, time.Now())
	assert.Error(t, err, "quantity is not a portfolio column")

	_, _, err = buildUpdate("portfolio_holdings", "h1", []models.PatchField{{Column: "quantity", Value: one}}, time.Now())
	assert.Error(t, err, "quantity is fixed once a holding is bought")

	_, _, err = buildUpdate("portfolios", "p1", []models.PatchField{{Column: "id; DROP TABLE portfolios", Value: one}}, time.Now())
	assert.Error(t, err)

	_, _, err = buildUpdate("portfolios", "p1", []models.PatchField{
		{Column: "quote_value", Value: one},
		{Column: "quote_value", Value: one},
	}, time.Now())
	assert.Error(t, err)
}
