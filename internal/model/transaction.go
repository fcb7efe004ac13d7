package model

import (
	"time"

	"portfolio-systemv1/internal/money"
)

// Transaction is the immutable record of one fill. It is written exactly
// once by the execution engine and is the system of record for analytics
// and for reconstructing positions.
type Transaction struct {
	ID      string `json:"id"`
	Owner   string `json:"owner"`
	AssetID string `json:"asset_id"`
	OrderID string `json:"order_id"`

	Side         Side           `json:"side"`
	Quantity     money.Quantity `json:"quantity"`
	PricePerUnit money.Money    `json:"price_per_unit"`
	Fees         money.Money    `json:"fees"`

	// TotalAmount is quantity x price, plus fees on BUY and minus fees
	// on SELL (net proceeds).
	TotalAmount money.Money `json:"total_amount"`

	ExecutedAt time.Time `json:"executed_at"`
}

// GrossAmount returns quantity x price before fees.
func (t *Transaction) GrossAmount() money.Money {
	return t.PricePerUnit.Mul(t.Quantity)
}

// Position is the per-(owner, asset) holding. It is created on first fill,
// updated by every subsequent fill, and never deleted; a zero-quantity
// position persists for history.
type Position struct {
	Owner   string `json:"owner"`
	AssetID string `json:"asset_id"`

	Quantity     money.Quantity `json:"quantity"`
	AvgCostBasis money.Money    `json:"average_cost_basis"`
	RealizedPnL  money.Money    `json:"realized_pnl"`

	// Halted is set when an internal invariant violation is detected on
	// this position. Mutation stops until manual reconciliation.
	Halted bool `json:"halted,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// MarketValue returns the holding value at the given price.
func (p *Position) MarketValue(price money.Money) money.Money {
	return price.Mul(p.Quantity)
}

// UnrealizedPnL returns (price - basis) x quantity at the given price.
func (p *Position) UnrealizedPnL(price money.Money) money.Money {
	return price.Sub(p.AvgCostBasis).Mul(p.Quantity)
}
