package engine

import "github.com/shopspring/decimal"

// FeeModel computes the commission charged on one fill
type FeeModel interface {
	Compute(price, qty decimal.Decimal) decimal.Decimal
}

// FixedFeeModel charges Rate × notional on every fill
type FixedFeeModel struct{ Rate decimal.Decimal }

func (m FixedFeeModel) Compute(price, qty decimal.Decimal) decimal.Decimal {
	return price.Mul(qty).Abs().Mul(m.Rate)
}
