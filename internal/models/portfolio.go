package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Valuation is the value, cost basis and PNL of a position, each with its
// running all-time high and low. Portfolios and holdings share it.
type Valuation struct {
	QuoteValue         decimal.Decimal `json:"quoteValue" db:"quote_value"`
	QuoteValueATH      decimal.Decimal `json:"quoteValueAth" db:"quote_value_ath"`
	QuoteValueATL      decimal.Decimal `json:"quoteValueAtl" db:"quote_value_atl"`
	QuoteValueInvested decimal.Decimal `json:"quoteValueInvested" db:"quote_value_invested"`
	PNLPercentage      decimal.Decimal `json:"pnlPercentage" db:"pnl_percentage"`
	PNLPercentageATH   decimal.Decimal `json:"pnlPercentageAth" db:"pnl_percentage_ath"`
	PNLPercentageATL   decimal.Decimal `json:"pnlPercentageAtl" db:"pnl_percentage_atl"`
	PNLQuoteValue      decimal.Decimal `json:"pnlQuoteValue" db:"pnl_quote_value"`
	PNLQuoteValueATH   decimal.Decimal `json:"pnlQuoteValueAth" db:"pnl_quote_value_ath"`
	PNLQuoteValueATL   decimal.Decimal `json:"pnlQuoteValueAtl" db:"pnl_quote_value_atl"`
}

// Portfolio is a tracked set of holdings valued in one quote currency
type Portfolio struct {
	ID string `json:"id" db:"id"`
	Valuation
	Holdings  []PortfolioHolding `json:"holdings,omitempty" db:"-"`
	CreatedAt time.Time          `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time          `json:"updatedAt" db:"updated_at"`
}

// PortfolioHolding is a portfolio's position in one asset
type PortfolioHolding struct {
	ID          string          `json:"id" db:"id"`
	PortfolioID string          `json:"portfolioId" db:"portfolio_id"`
	CoinID      string          `json:"coinId" db:"coin_id"`
	Quantity    decimal.Decimal `json:"quantity" db:"quantity"`
	QuantityATH decimal.Decimal `json:"quantityAth" db:"quantity_ath"`
	QuantityATL decimal.Decimal `json:"quantityAtl" db:"quantity_atl"`
	Valuation
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// CoinIDs returns the set of assets the portfolio already holds
func (p *Portfolio) CoinIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(p.Holdings))
	for _, h := range p.Holdings {
		ids[h.CoinID] = struct{}{}
	}
	return ids
}
