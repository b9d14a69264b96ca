package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketSnapshot is the stored market data of one asset as of its last sync
type MarketSnapshot struct {
	ID                           string          `json:"id" db:"id"`
	Symbol                       string          `json:"symbol" db:"symbol"`
	CurrentPrice                 decimal.Decimal `json:"currentPrice" db:"current_price"`
	MarketCap                    int64           `json:"marketCap" db:"market_cap"`
	PriceChange24h               decimal.Decimal `json:"priceChange24h" db:"price_change_24h"`
	PriceChangePercentage24h     decimal.Decimal `json:"priceChangePercentage24h" db:"price_change_percentage_24h"`
	MarketCapChange24h           decimal.Decimal `json:"marketCapChange24h" db:"market_cap_change_24h"`
	MarketCapChangePercentage24h decimal.Decimal `json:"marketCapChangePercentage24h" db:"market_cap_change_percentage_24h"`
	ATH                          decimal.Decimal `json:"ath" db:"ath"`
	ATHChangePercentage          decimal.Decimal `json:"athChangePercentage" db:"ath_change_percentage"`
	ATHDate                      time.Time       `json:"athDate" db:"ath_date"`
	ATL                          decimal.Decimal `json:"atl" db:"atl"`
	ATLChangePercentage          decimal.Decimal `json:"atlChangePercentage" db:"atl_change_percentage"`
	ATLDate                      time.Time       `json:"atlDate" db:"atl_date"`
	CreatedAt                    time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt                    time.Time       `json:"updatedAt" db:"updated_at"`
}

// SameMarketData reports whether two snapshots carry identical market fields,
// ignoring timestamps
func (s MarketSnapshot) SameMarketData(o MarketSnapshot) bool {
	return s.ID == o.ID &&
		s.Symbol == o.Symbol &&
		s.CurrentPrice.Equal(o.CurrentPrice) &&
		s.MarketCap == o.MarketCap &&
		s.PriceChange24h.Equal(o.PriceChange24h) &&
		s.PriceChangePercentage24h.Equal(o.PriceChangePercentage24h) &&
		s.MarketCapChange24h.Equal(o.MarketCapChange24h) &&
		s.MarketCapChangePercentage24h.Equal(o.MarketCapChangePercentage24h) &&
		s.ATH.Equal(o.ATH) &&
		s.ATHChangePercentage.Equal(o.ATHChangePercentage) &&
		s.ATHDate.Equal(o.ATHDate) &&
		s.ATL.Equal(o.ATL) &&
		s.ATLChangePercentage.Equal(o.ATLChangePercentage) &&
		s.ATLDate.Equal(o.ATLDate)
}
