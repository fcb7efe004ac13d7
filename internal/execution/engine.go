// Package execution computes and applies fills. Given a triggered order and
// the triggering price it determines the effective fill price and fees,
// then applies the fill as one atomic unit: ledger mutation, transaction
// append, and order transition either all land or none do.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"portfolio-systemv1/internal/ledger"
	"portfolio-systemv1/internal/model"
	"portfolio-systemv1/internal/money"
)

// Engine applies fills to the ledger and the durable store.
type Engine struct {
	ledger *ledger.Ledger
	store  model.FillStore
	fees   model.FeeSchedule

	// MaxOrderQty rejects fills whose order quantity exceeds the
	// configured maximum. Zero disables the check.
	maxOrderQty money.Quantity

	log *slog.Logger
	now func() time.Time

	// OnFill is invoked after a fill has been durably applied. Optional;
	// wired to metrics, the analytics cache invalidator, and pub/sub.
	OnFill func(t model.Transaction)

	// OnFillLatency reports the wall-clock duration of one durable fill
	// application. Optional; wired to the fill latency histogram.
	OnFillLatency func(d time.Duration)
}

// New creates an execution Engine.
func New(l *ledger.Ledger, store model.FillStore, fees model.FeeSchedule,
	maxOrderQty money.Quantity, log *slog.Logger) *Engine {
	return &Engine{
		ledger:      l,
		store:       store,
		fees:        fees,
		maxOrderQty: maxOrderQty,
		log:         log,
		now:         time.Now,
	}
}

// effectivePrice returns the price a fill executes at. MARKET and triggered
// STOP fill at the triggering price. LIMIT and triggered STOP_LIMIT fill at
// the limit price or the better tick price, never worse than the limit:
// for a BUY the lower of tick and limit, for a SELL the higher.
func effectivePrice(o *model.Order, trigger money.Money) money.Money {
	switch o.Type {
	case model.OrderMarket, model.OrderStop:
		return trigger
	case model.OrderLimit, model.OrderStopLimit:
		if o.Side == model.SideBuy {
			if trigger.LessThan(o.LimitPrice) {
				return trigger
			}
			return o.LimitPrice
		}
		if trigger.GreaterThan(o.LimitPrice) {
			return trigger
		}
		return o.LimitPrice
	default:
		// Unreachable: Validate rejects unknown types at submission.
		return trigger
	}
}

// Fill implements orders.Filler. It fills up to cap of the order's
// remaining quantity (zero cap = unconstrained), mutating the order's
// status, filled quantity, and timestamps on success. The caller holds the
// order's transition lock.
func (e *Engine) Fill(ctx context.Context, o *model.Order, trigger money.Money,
	cap money.Quantity) (money.Quantity, error) {

	qty := o.Remaining()
	if cap.IsPositive() {
		qty = qty.Min(cap)
	}
	if !qty.IsPositive() {
		return money.QZero, nil
	}

	if e.maxOrderQty.IsPositive() && o.Quantity.GreaterThan(e.maxOrderQty) {
		return money.QZero, model.Rejection(model.ReasonQuantityTooLarge,
			"order quantity exceeds configured maximum")
	}

	start := time.Now()
	price := effectivePrice(o, trigger)
	fees := e.fees.ComputeFee(o, qty, price)
	gross := price.Mul(qty)

	now := e.now()
	t := model.Transaction{
		ID:           uuid.New().String(),
		Owner:        o.Owner,
		AssetID:      o.AssetID,
		OrderID:      o.ID,
		Side:         o.Side,
		Quantity:     qty,
		PricePerUnit: price,
		Fees:         fees,
		ExecutedAt:   now,
	}
	if o.Side == model.SideBuy {
		t.TotalAmount = gross.Add(fees)
	} else {
		t.TotalAmount = gross.Sub(fees)
	}

	// Candidate order state; committed to *o only if the whole unit lands.
	next := *o
	next.FilledQuantity = next.FilledQuantity.Add(qty)
	next.UpdatedAt = now
	if next.Remaining().IsZero() {
		next.Status = model.StatusFilled
		next.FilledAt = now
	} else {
		next.Status = model.StatusPartiallyFilled
	}

	err := e.ledger.Fill(o.Owner, o.AssetID, o.Side, qty, price, fees, now,
		func(pos model.Position, realized money.Money) error {
			if err := e.store.ApplyFill(ctx, &t, &pos, &next); err != nil {
				return fmt.Errorf("apply fill: %w", err)
			}
			return nil
		})
	if err != nil {
		return money.QZero, err
	}

	*o = next
	e.log.Info("fill",
		"order_id", o.ID,
		"asset_id", o.AssetID,
		"side", string(o.Side),
		"qty", qty.String(),
		"price", price.String(),
		"fees", fees.String(),
		"status", string(o.Status))

	if e.OnFillLatency != nil {
		e.OnFillLatency(time.Since(start))
	}
	if e.OnFill != nil {
		e.OnFill(t)
	}
	return qty, nil
}
