package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func columns(fields []PatchField) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, f.Column)
	}
	return out
}

func TestValuationPatch_OnlySetFields(t *testing.T) {
	v := decimal.NewFromInt(42)
	p := ValuationPatch{QuoteValue: &v, PNLQuoteValueATL: &v}

	assert.Equal(t, []string{"quote_value", "pnl_quote_value_atl"}, columns(p.Fields()))
	assert.Empty(t, ValuationPatch{}.Fields())
}

func TestPatchFromValuation_SetsEveryColumn(t *testing.T) {
	val := Valuation{QuoteValue: decimal.NewFromInt(1200), PNLPercentage: decimal.NewFromInt(20)}

	fields := PatchFromValuation(val).Fields()
	assert.Len(t, fields, 10)
	assert.Equal(t, "quote_value", fields[0].Column)
	assert.True(t, fields[0].Value.Equal(decimal.NewFromInt(1200)))
	assert.Equal(t, "pnl_percentage", fields[4].Column)
	assert.True(t, fields[4].Value.Equal(decimal.NewFromInt(20)))
}

func TestPatchFromValuation_CopiesValues(t *testing.T) {
	val := Valuation{QuoteValue: decimal.NewFromInt(1)}
	p := PatchFromValuation(val)
	val.QuoteValue = decimal.NewFromInt(2)

	assert.True(t, p.QuoteValue.Equal(decimal.NewFromInt(1)))
}

func TestHoldingPatch_OnlyValuationColumns(t *testing.T) {
	qv := decimal.NewFromInt(1200)
	pnl := decimal.NewFromInt(20)
	p := HoldingPatch{HoldingID: "h1", Valuation: ValuationPatch{QuoteValue: &qv, PNLPercentage: &pnl}}

	assert.Equal(t, []string{"quote_value", "pnl_percentage"}, columns(p.Fields()))
}

func TestPortfolio_CoinIDs(t *testing.T) {
	p := &Portfolio{Holdings: []PortfolioHolding{{CoinID: "btc"}, {CoinID: "eth"}}}

	ids := p.CoinIDs()
	assert.Len(t, ids, 2)
	assert.Contains(t, ids, "btc")
	assert.NotContains(t, ids, "sol")
}
