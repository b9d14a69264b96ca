package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Entity types of a valuation record
const (
	EntityPortfolio = "portfolio"
	EntityHolding   = "holding"
)

// ValuationRecord is one point of valuation history written after a revaluation pass.
// CoinID is empty for portfolio records.
type ValuationRecord struct {
	EntityType         string          `json:"entityType" ch:"entity_type"`
	PortfolioID        string          `json:"portfolioId" ch:"portfolio_id"`
	CoinID             string          `json:"coinId" ch:"coin_id"`
	Quantity           decimal.Decimal `json:"quantity" ch:"quantity"`
	QuoteValue         decimal.Decimal `json:"quoteValue" ch:"quote_value"`
	QuoteValueInvested decimal.Decimal `json:"quoteValueInvested" ch:"quote_value_invested"`
	PNLPercentage      decimal.Decimal `json:"pnlPercentage" ch:"pnl_percentage"`
	PNLQuoteValue      decimal.Decimal `json:"pnlQuoteValue" ch:"pnl_quote_value"`
	RecordedAt         time.Time       `json:"recordedAt" ch:"recorded_at"`
}

// HoldingRecord builds the history row of a holding
func HoldingRecord(h PortfolioHolding, at time.Time) ValuationRecord {
	return ValuationRecord{
		EntityType:         EntityHolding,
		PortfolioID:        h.PortfolioID,
		CoinID:             h.CoinID,
		Quantity:           h.Quantity,
		QuoteValue:         h.QuoteValue,
		QuoteValueInvested: h.QuoteValueInvested,
		PNLPercentage:      h.PNLPercentage,
		PNLQuoteValue:      h.PNLQuoteValue,
		RecordedAt:         at,
	}
}

// PortfolioRecord builds the history row of a portfolio
func PortfolioRecord(p Portfolio, at time.Time) ValuationRecord {
	return ValuationRecord{
		EntityType:         EntityPortfolio,
		PortfolioID:        p.ID,
		QuoteValue:         p.QuoteValue,
		QuoteValueInvested: p.QuoteValueInvested,
		PNLPercentage:      p.PNLPercentage,
		PNLQuoteValue:      p.PNLQuoteValue,
		RecordedAt:         at,
	}
}
