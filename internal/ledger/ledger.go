// Package ledger maintains per-(owner, asset) positions: held quantity,
// weighted-average cost basis, and cumulative realized P&L.
//
// Positions are mutated only by confirmed fills coming from the execution
// engine. Each entry is a single-writer resource: the entry lock is held
// across the whole fill application, including the durable commit, so
// concurrent fills against the same position serialize and a failed commit
// leaves the in-memory position untouched.
package ledger

import (
	"sync"
	"time"

	"portfolio-systemv1/internal/model"
	"portfolio-systemv1/internal/money"
)

type entry struct {
	mu  sync.Mutex
	pos model.Position
}

// Ledger tracks all positions.
type Ledger struct {
	mu      sync.RWMutex
	entries map[string]*entry // key = owner + "|" + assetID
}

// New creates an empty Ledger.
func New() *Ledger {
	return &Ledger{entries: make(map[string]*entry)}
}

func key(owner, assetID string) string { return owner + "|" + assetID }

// Restore seeds the ledger from persisted positions at startup.
func (l *Ledger) Restore(positions []model.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range positions {
		p := p
		l.entries[key(p.Owner, p.AssetID)] = &entry{pos: p}
	}
}

func (l *Ledger) get(owner, assetID string) *entry {
	l.mu.RLock()
	e, ok := l.entries[key(owner, assetID)]
	l.mu.RUnlock()
	if ok {
		return e
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok = l.entries[key(owner, assetID)]; ok {
		return e
	}
	e = &entry{pos: model.Position{Owner: owner, AssetID: assetID}}
	l.entries[key(owner, assetID)] = e
	return e
}

// Get returns a copy of the position, or model.ErrNoPosition.
func (l *Ledger) Get(owner, assetID string) (model.Position, error) {
	l.mu.RLock()
	e, ok := l.entries[key(owner, assetID)]
	l.mu.RUnlock()
	if !ok {
		return model.Position{}, model.ErrNoPosition
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos, nil
}

// ListByOwner returns copies of all positions held by owner.
func (l *Ledger) ListByOwner(owner string) []model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []model.Position
	for _, e := range l.entries {
		e.mu.Lock()
		if e.pos.Owner == owner {
			out = append(out, e.pos)
		}
		e.mu.Unlock()
	}
	return out
}

// Quantity returns the currently held quantity, zero if no position.
func (l *Ledger) Quantity(owner, assetID string) money.Quantity {
	pos, err := l.Get(owner, assetID)
	if err != nil {
		return money.QZero
	}
	return pos.Quantity
}

// Fill applies one fill to the position. The new position is computed from
// the old one, then commit is invoked with the candidate position and the
// realized P&L of this fill while the entry lock is held. Only if commit
// returns nil does the in-memory position advance; any error rolls the
// whole application back.
//
// BUY: quantity grows, basis becomes the weighted average of old basis and
// fill price over the combined quantity.
// SELL: requires qty <= held quantity (no shorting); realized P&L grows by
// qty x (price - basis) - fees; basis is unchanged.
func (l *Ledger) Fill(owner, assetID string, side model.Side, qty money.Quantity,
	price, fees money.Money, ts time.Time,
	commit func(pos model.Position, realized money.Money) error) error {

	e := l.get(owner, assetID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pos.Halted {
		return model.ErrPositionHalted
	}
	if e.pos.Quantity.IsNegative() {
		// Should be impossible; quarantine the position rather than
		// compounding the damage.
		e.pos.Halted = true
		return model.ErrPositionHalted
	}

	next := e.pos
	realized := money.Zero

	switch side {
	case model.SideBuy:
		combined := next.Quantity.Add(qty)
		oldCost := next.AvgCostBasis.Mul(next.Quantity)
		fillCost := price.Mul(qty)
		next.AvgCostBasis = oldCost.Add(fillCost).Div(combined)
		next.Quantity = combined
	case model.SideSell:
		if qty.GreaterThan(next.Quantity) {
			return model.Rejection(model.ReasonInsufficientHoldings,
				"sell quantity exceeds held position")
		}
		realized = price.Sub(next.AvgCostBasis).Mul(qty).Sub(fees)
		next.RealizedPnL = next.RealizedPnL.Add(realized)
		next.Quantity = next.Quantity.Sub(qty)
	default:
		return model.Rejection(model.ReasonInvalidParams, "unknown side "+string(side))
	}
	next.UpdatedAt = ts

	if commit != nil {
		if err := commit(next, realized); err != nil {
			return err
		}
	}
	e.pos = next
	return nil
}

// Halt quarantines a position; subsequent fills fail with ErrPositionHalted.
func (l *Ledger) Halt(owner, assetID string) {
	e := l.get(owner, assetID)
	e.mu.Lock()
	e.pos.Halted = true
	e.mu.Unlock()
}

// Snapshot returns copies of every position.
func (l *Ledger) Snapshot() []model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Position, 0, len(l.entries))
	for _, e := range l.entries {
		e.mu.Lock()
		out = append(out, e.pos)
		e.mu.Unlock()
	}
	return out
}
