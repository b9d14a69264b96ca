package models

import "github.com/shopspring/decimal"

// PatchField is one column assignment of a partial update
type PatchField struct {
	Column string
	Value  decimal.Decimal
}

// ValuationPatch carries only the valuation columns to change. Nil fields are left untouched.
type ValuationPatch struct {
	QuoteValue         *decimal.Decimal
	QuoteValueATH      *decimal.Decimal
	QuoteValueATL      *decimal.Decimal
	QuoteValueInvested *decimal.Decimal
	PNLPercentage      *decimal.Decimal
	PNLPercentageATH   *decimal.Decimal
	PNLPercentageATL   *decimal.Decimal
	PNLQuoteValue      *decimal.Decimal
	PNLQuoteValueATH   *decimal.Decimal
	PNLQuoteValueATL   *decimal.Decimal
}

// PatchFromValuation returns a patch that sets every column of v
func PatchFromValuation(v Valuation) ValuationPatch {
	return ValuationPatch{
		QuoteValue:         ptr(v.QuoteValue),
		QuoteValueATH:      ptr(v.QuoteValueATH),
		QuoteValueATL:      ptr(v.QuoteValueATL),
		QuoteValueInvested: ptr(v.QuoteValueInvested),
		PNLPercentage:      ptr(v.PNLPercentage),
		PNLPercentageATH:   ptr(v.PNLPercentageATH),
		PNLPercentageATL:   ptr(v.PNLPercentageATL),
		PNLQuoteValue:      ptr(v.PNLQuoteValue),
		PNLQuoteValueATH:   ptr(v.PNLQuoteValueATH),
		PNLQuoteValueATL:   ptr(v.PNLQuoteValueATL),
	}
}

// Fields returns the set columns in a fixed order
func (p ValuationPatch) Fields() []PatchField {
	var fields []PatchField
	fields = appendSet(fields, "quote_value", p.QuoteValue)
	fields = appendSet(fields, "quote_value_ath", p.QuoteValueATH)
	fields = appendSet(fields, "quote_value_atl", p.QuoteValueATL)
	fields = appendSet(fields, "quote_value_invested", p.QuoteValueInvested)
	fields = appendSet(fields, "pnl_percentage", p.PNLPercentage)
	fields = appendSet(fields, "pnl_percentage_ath", p.PNLPercentageATH)
	fields = appendSet(fields, "pnl_percentage_atl", p.PNLPercentageATL)
	fields = appendSet(fields, "pnl_quote_value", p.PNLQuoteValue)
	fields = appendSet(fields, "pnl_quote_value_ath", p.PNLQuoteValueATH)
	fields = appendSet(fields, "pnl_quote_value_atl", p.PNLQuoteValueATL)
	return fields
}

// PortfolioPatch is a partial update of one portfolio row
type PortfolioPatch struct {
	PortfolioID string
	Valuation   ValuationPatch
}

// Fields returns the set columns in a fixed order
func (p PortfolioPatch) Fields() []PatchField {
	return p.Valuation.Fields()
}

// HoldingPatch is a partial update of one holding row. Quantities are fixed when a
// holding is bought, so only valuation columns change afterwards.
type HoldingPatch struct {
	HoldingID string
	Valuation ValuationPatch
}

// Fields returns the set columns in a fixed order
func (p HoldingPatch) Fields() []PatchField {
	return p.Valuation.Fields()
}

func appendSet(fields []PatchField, column string, v *decimal.Decimal) []PatchField {
	if v == nil {
		return fields
	}
	return append(fields, PatchField{Column: column, Value: *v})
}

func ptr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
