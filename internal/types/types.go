package types

import (
	"encoding/json"
	"fmt"
)

// MarketRecord is one row of a market source page as decoded from JSON.
// Optional numeric fields are nil when absent or null; dates are RFC 3339 strings.
type MarketRecord struct {
	ID                           string   `json:"id"`
	Symbol                       string   `json:"symbol"`
	Name                         string   `json:"name,omitempty"`
	CurrentPrice                 *float64 `json:"current_price"`
	MarketCap                    *float64 `json:"market_cap"`
	PriceChange24h               *float64 `json:"price_change_24h"`
	PriceChangePercentage24h     *float64 `json:"price_change_percentage_24h"`
	MarketCapChange24h           *float64 `json:"market_cap_change_24h"`
	MarketCapChangePercentage24h *float64 `json:"market_cap_change_percentage_24h"`
	ATH                          *float64 `json:"ath"`
	ATHChangePercentage          *float64 `json:"ath_change_percentage"`
	ATHDate                      *string  `json:"ath_date"`
	ATL                          *float64 `json:"atl"`
	ATLChangePercentage          *float64 `json:"atl_change_percentage"`
	ATLDate                      *string  `json:"atl_date"`
}

// MarketCapValue returns the reported market cap, or 0 when missing
func (r MarketRecord) MarketCapValue() float64 {
	if r.MarketCap == nil {
		return 0
	}
	return *r.MarketCap
}

// MalformedRecord is a page element that could not be decoded into a MarketRecord
type MalformedRecord struct {
	Index int
	// ID is the element's "id" when it could still be read
	ID  string
	Err error
}

// MarketPage is one decoded page. Malformed elements are reported apart from the
// records so that one bad row does not cost the rest of the page.
type MarketPage struct {
	Records   []MarketRecord
	Malformed []MalformedRecord
}

// DecodeMarketPage decodes a JSON array of market rows element by element.
// It fails only when body is not a JSON array.
func DecodeMarketPage(body []byte) (*MarketPage, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode market page: %w", err)
	}

	page := &MarketPage{Records: make([]MarketRecord, 0, len(raw))}
	for i, elem := range raw {
		var rec MarketRecord
		if err := json.Unmarshal(elem, &rec); err != nil {
			var ident struct {
				ID string `json:"id"`
			}
			_ = json.Unmarshal(elem, &ident) // nolint:errcheck // best effort, only for the log line
			page.Malformed = append(page.Malformed, MalformedRecord{Index: i, ID: ident.ID, Err: err})
			continue
		}
		page.Records = append(page.Records, rec)
	}
	return page, nil
}

// ServiceError represents a service-level error returned by the read API
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
