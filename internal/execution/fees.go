package execution

import (
	"portfolio-systemv1/internal/model"
	"portfolio-systemv1/internal/money"
)

// FlatPlusBps is the default fee schedule: a flat amount per fill plus a
// proportional component in basis points of the gross amount. Fees are
// rounded to cash precision, increase cost on BUY and reduce proceeds on
// SELL.
type FlatPlusBps struct {
	Flat money.Money
	Bps  int64
}

// ComputeFee implements model.FeeSchedule.
func (f FlatPlusBps) ComputeFee(_ *model.Order, qty money.Quantity, price money.Money) money.Money {
	fee := f.Flat
	if f.Bps > 0 {
		gross := price.Mul(qty)
		fee = fee.Add(gross.MulFloat(float64(f.Bps) / 10000.0))
	}
	return fee.Round()
}

// FreeOfCharge charges nothing. Used in tests and paper accounts.
type FreeOfCharge struct{}

// ComputeFee implements model.FeeSchedule.
func (FreeOfCharge) ComputeFee(*model.Order, money.Quantity, money.Money) money.Money {
	return money.Zero
}
