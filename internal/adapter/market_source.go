package adapter

import (
	"context"

	"github.com/coin-tracker/internal/types"
)

// MarketSource fetches one page of market data, largest market cap first.
// Absent optional fields are left nil on the returned records. Rows that cannot be
// decoded are reported in MarketPage.Malformed; an error means the whole page is lost.
type MarketSource interface {
	FetchPage(ctx context.Context, pageSize, page int) (*types.MarketPage, error)
}
