package model

import (
	"time"

	"portfolio-systemv1/internal/money"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType is the closed set of supported order types. Trigger evaluation
// and fill pricing switch exhaustively over it; adding a type is a
// compile-time extension.
type OrderType string

const (
	OrderMarket    OrderType = "MARKET"
	OrderLimit     OrderType = "LIMIT"
	OrderStop      OrderType = "STOP"
	OrderStopLimit OrderType = "STOP_LIMIT"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusPending         OrderStatus = "PENDING"
	StatusTriggered       OrderStatus = "TRIGGERED"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusRejected        OrderStatus = "REJECTED"
)

// Terminal reports whether the status can never be exited.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

// Cancellable reports whether a cancel request may succeed from this status.
func (s OrderStatus) Cancellable() bool {
	return s == StatusPending || s == StatusTriggered || s == StatusPartiallyFilled
}

// Order is a single buy/sell instruction. Side, Type, Quantity and the
// price fields are immutable after submission; only Status, FilledQuantity
// and the timestamps mutate, and only through the state machine.
type Order struct {
	ID      string `json:"id"`
	Owner   string `json:"owner"`
	AssetID string `json:"asset_id"`

	Side     Side           `json:"side"`
	Type     OrderType      `json:"order_type"`
	Quantity money.Quantity `json:"quantity"`

	// LimitPrice is set iff Type is LIMIT or STOP_LIMIT.
	LimitPrice money.Money `json:"limit_price,omitempty"`
	// StopPrice is set iff Type is STOP or STOP_LIMIT.
	StopPrice money.Money `json:"stop_price,omitempty"`

	Status         OrderStatus    `json:"status"`
	FilledQuantity money.Quantity `json:"filled_quantity"`
	Reason         RejectReason   `json:"reason,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	TriggeredAt time.Time `json:"triggered_at,omitempty"`
	FilledAt    time.Time `json:"filled_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() money.Quantity {
	return o.Quantity.Sub(o.FilledQuantity)
}

// Validate checks the static order invariants: positive quantity, and the
// price fields required (and only those required) by the order type.
func (o *Order) Validate() error {
	if !o.Quantity.IsPositive() {
		return Rejection(ReasonInvalidQuantity, "quantity must be positive")
	}
	if o.Side != SideBuy && o.Side != SideSell {
		return Rejection(ReasonInvalidParams, "side must be BUY or SELL")
	}

	switch o.Type {
	case OrderMarket, OrderLimit, OrderStop, OrderStopLimit:
	default:
		return Rejection(ReasonInvalidParams, "unknown order type "+string(o.Type))
	}

	needsLimit := o.Type == OrderLimit || o.Type == OrderStopLimit
	needsStop := o.Type == OrderStop || o.Type == OrderStopLimit

	if needsLimit && !o.LimitPrice.IsPositive() {
		return Rejection(ReasonMissingLimitPrice, "limit price required for "+string(o.Type))
	}
	if !needsLimit && !o.LimitPrice.IsZero() {
		return Rejection(ReasonInvalidParams, "limit price not allowed for "+string(o.Type))
	}
	if needsStop && !o.StopPrice.IsPositive() {
		return Rejection(ReasonMissingStopPrice, "stop price required for "+string(o.Type))
	}
	if !needsStop && !o.StopPrice.IsZero() {
		return Rejection(ReasonInvalidParams, "stop price not allowed for "+string(o.Type))
	}
	return nil
}
