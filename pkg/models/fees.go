package models

import "github.com/shopspring/decimal"

// FeeSchedule holds the four fee rates charged for a reseller's order flow.
// Rates are fixed-point fractions of notional: 1 = 100%.
type FeeSchedule struct {
	MakerExchange decimal.Decimal `json:"maker_exchange"`
	MakerReseller decimal.Decimal `json:"maker_reseller"`
	TakerExchange decimal.Decimal `json:"taker_exchange"`
	TakerReseller decimal.Decimal `json:"taker_reseller"`
}

// Total returns the sum of the four rates, checked against the protocol cap.
func (f FeeSchedule) Total() decimal.Decimal {
	return f.MakerExchange.Add(f.MakerReseller).Add(f.TakerExchange).Add(f.TakerReseller)
}

// HasResellerRates reports whether either reseller-side rate is nonzero.
func (f FeeSchedule) HasResellerRates() bool {
	return !f.MakerReseller.IsZero() || !f.TakerReseller.IsZero()
}
