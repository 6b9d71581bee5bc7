package domain

import (
	"github.com/shopspring/decimal"
)

// moneyPlaces is the precision freezing amounts are rounded to.
const moneyPlaces = 2

var oneHundred = decimal.NewFromInt(100)

// FreezingParams is the result of the collateral calculation. All values are
// recorded on the transaction verbatim and never recomputed later.
type FreezingParams struct {
	// Market rate the calculation was based on
	MarketRate decimal.Decimal
	// Rate after the platform markup, rounded down
	AdjustedRate decimal.Decimal
	// Collateral principal, rounded up so the reserve always covers the
	// payment in full
	FrozenAmount decimal.Decimal
	// Trader commission on the collateral principal, rounded down
	Commission decimal.Decimal
	// FrozenAmount + Commission
	TotalRequired decimal.Decimal
}

// CalculateFreezing computes the collateral to reserve for a payment of
// amount at the given market rate. markupPercent lowers the effective rate in
// the platform's favor; feePercent is the trader commission taken on the
// collateral principal.
//
// Rounding is fixed so the same inputs always yield the same reserve: the
// adjusted rate and the commission round toward the platform (down), the
// frozen principal rounds up so it never undershoots the payment.
func CalculateFreezing(amount, marketRate, markupPercent, feePercent decimal.Decimal) (FreezingParams, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return FreezingParams{}, ErrInvalidAmount
	}
	if marketRate.LessThanOrEqual(decimal.Zero) {
		return FreezingParams{}, ErrInvalidRate
	}

	multiplier := oneHundred.Sub(markupPercent).Div(oneHundred)
	adjustedRate := marketRate.Mul(multiplier).RoundFloor(moneyPlaces)
	if adjustedRate.LessThanOrEqual(decimal.Zero) {
		return FreezingParams{}, ErrInvalidRate
	}

	frozen := amount.Div(adjustedRate).RoundCeil(moneyPlaces)
	commission := frozen.Mul(feePercent).Div(oneHundred).RoundFloor(moneyPlaces)

	return FreezingParams{
		MarketRate:    marketRate,
		AdjustedRate:  adjustedRate,
		FrozenAmount:  frozen,
		Commission:    commission,
		TotalRequired: frozen.Add(commission),
	}, nil
}
