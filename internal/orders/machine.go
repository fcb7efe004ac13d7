// Package orders owns the order lifecycle: submission validation, trigger
// evaluation against the price stream, and the status transitions from
// PENDING through the terminal states.
//
// Resting orders for an asset are kept in a btree ordered by creation time,
// so each price update walks them oldest-first and earlier orders get first
// claim on constrained fill capacity (price-time priority). The caller must
// serialize price updates per asset; submissions and cancellations may
// arrive concurrently and are reconciled per order under its own lock.
package orders

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/btree"

	"portfolio-systemv1/internal/model"
	"portfolio-systemv1/internal/money"
)

// Filler executes up to cap of the order's remaining quantity at the
// triggering price. A zero cap means unconstrained. It returns the
// quantity actually filled; rejection errors are terminal for the order.
type Filler interface {
	Fill(ctx context.Context, o *model.Order, trigger money.Money, cap money.Quantity) (money.Quantity, error)
}

// Holdings answers how much of an asset an owner currently holds, for the
// submission-time sell check.
type Holdings interface {
	Quantity(owner, assetID string) money.Quantity
}

// AssetResolver resolves an asset ID to its current record, or nil if
// unknown. Implemented by the service's asset table.
type AssetResolver func(assetID string) *model.Asset

// AccountResolver resolves an owner to its account record, or nil if
// unknown. Unknown owners are accepted with unlimited buying power.
type AccountResolver func(owner string) *model.Account

// Config holds the tunables of the state machine.
type Config struct {
	// TickLiquidityCap bounds the total quantity fillable per price
	// event per asset. Zero disables the cap (orders always fill in
	// full against the feed price).
	TickLiquidityCap money.Quantity

	// TriggeredTTL expires orders stuck in TRIGGERED (a STOP_LIMIT whose
	// limit condition never became satisfiable) by cancelling the
	// remainder. Zero means never expire.
	TriggeredTTL time.Duration
}

// managed wraps an order with its transition lock. Cancellation may race a
// trigger evaluation on another goroutine; every transition re-checks the
// status under this lock (compare-and-transition, no blind overwrite).
type managed struct {
	mu sync.Mutex
	o  model.Order
}

type bookKey struct {
	createdAt int64 // UnixNano
	id        string
}

type bookItem struct {
	key bookKey
	mg  *managed
}

func lessItem(a, b bookItem) bool {
	if a.key.createdAt != b.key.createdAt {
		return a.key.createdAt < b.key.createdAt
	}
	return a.key.id < b.key.id
}

// Machine is the order state machine.
type Machine struct {
	mu     sync.RWMutex
	orders map[string]*managed
	books  map[string]*btree.BTreeG[bookItem] // resting orders per asset

	cfg      Config
	store    model.OrderStore
	filler   Filler
	holdings Holdings
	assets   AssetResolver
	accounts AccountResolver
	log      *slog.Logger
	now      func() time.Time

	// OnTransition is invoked after every persisted status change.
	// Optional; used for metrics and fanout.
	OnTransition func(o model.Order)
}

// New creates a Machine.
func New(cfg Config, store model.OrderStore, filler Filler, holdings Holdings,
	assets AssetResolver, accounts AccountResolver, log *slog.Logger) *Machine {
	return &Machine{
		orders:   make(map[string]*managed),
		books:    make(map[string]*btree.BTreeG[bookItem]),
		cfg:      cfg,
		store:    store,
		filler:   filler,
		holdings: holdings,
		assets:   assets,
		accounts: accounts,
		log:      log,
		now:      time.Now,
	}
}

// SubmitRequest carries the order parameters from the API boundary.
type SubmitRequest struct {
	Owner      string
	AssetID    string
	Side       model.Side
	Type       model.OrderType
	Quantity   money.Quantity
	LimitPrice money.Money
	StopPrice  money.Money
}

// Submit validates and accepts a new order. Validation failures reject the
// order before it enters the state machine; funds/holdings failures
// transition it straight to REJECTED. Accepted MARKET orders trigger
// immediately; all accepted orders are evaluated once against the current
// price snapshot of their asset.
func (m *Machine) Submit(ctx context.Context, req SubmitRequest) (*model.Order, error) {
	now := m.now()
	o := model.Order{
		ID:         uuid.New().String(),
		Owner:      req.Owner,
		AssetID:    req.AssetID,
		Side:       req.Side,
		Type:       req.Type,
		Quantity:   req.Quantity,
		LimitPrice: req.LimitPrice,
		StopPrice:  req.StopPrice,
		Status:     model.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	// Malformed parameters never enter the state machine.
	if err := o.Validate(); err != nil {
		return nil, err
	}

	asset := m.assets(req.AssetID)
	if asset == nil {
		return nil, model.Rejection(model.ReasonUnknownAsset, "asset "+req.AssetID+" not found")
	}

	// Funds/holdings failures produce a persisted REJECTED order.
	if err := m.preCheck(&o, asset); err != nil {
		o.Status = model.StatusRejected
		o.Reason = model.ReasonOf(err)
		if serr := m.store.SaveOrder(ctx, &o); serr != nil {
			m.log.Error("persist rejected order", "order_id", o.ID, "err", serr)
		}
		m.notify(o)
		return &o, err
	}

	if o.Type == model.OrderMarket {
		o.Status = model.StatusTriggered
		o.TriggeredAt = now
	}

	mg := &managed{o: o}
	m.mu.Lock()
	m.orders[o.ID] = mg
	m.bookFor(o.AssetID).Set(bookItem{key: itemKey(&o), mg: mg})
	m.mu.Unlock()

	if err := m.store.SaveOrder(ctx, &o); err != nil {
		m.log.Error("persist order", "order_id", o.ID, "err", err)
	}
	m.notify(o)

	// Evaluate once against the latest known price; no price yet means
	// the order simply rests until the feed produces one.
	if !asset.CurrentPrice.IsZero() {
		m.evaluateOrder(ctx, mg, asset.CurrentPrice, now, m.cfg.TickLiquidityCap)
	}

	snap := m.snapshot(mg)
	return &snap, nil
}

func (m *Machine) preCheck(o *model.Order, asset *model.Asset) error {
	if !asset.Tradeable() {
		return model.Rejection(model.ReasonAssetNotTradeable,
			"asset "+asset.Symbol+" is "+string(asset.Status))
	}

	switch o.Side {
	case model.SideSell:
		if m.holdings.Quantity(o.Owner, o.AssetID).LessThan(o.Quantity) {
			return model.Rejection(model.ReasonInsufficientHoldings,
				"held quantity below sell quantity")
		}
	case model.SideBuy:
		acc := m.accounts(o.Owner)
		if acc != nil && acc.BuyingPower.IsPositive() {
			ref := o.LimitPrice
			if ref.IsZero() {
				ref = asset.CurrentPrice
			}
			if ref.IsPositive() && ref.Mul(o.Quantity).GreaterThan(acc.BuyingPower) {
				return model.Rejection(model.ReasonInsufficientFunds,
					"estimated cost exceeds buying power")
			}
		}
	}
	return nil
}

// Cancel transitions the order to CANCELLED if it is still cancellable.
// Racing against an in-flight fill is resolved under the order lock: if
// the order already reached a terminal state, ErrStaleState is returned.
func (m *Machine) Cancel(ctx context.Context, orderID, owner string) error {
	m.mu.RLock()
	mg, ok := m.orders[orderID]
	m.mu.RUnlock()
	if !ok {
		return model.ErrOrderNotFound
	}

	mg.mu.Lock()
	if mg.o.Owner != owner {
		mg.mu.Unlock()
		return model.ErrOrderNotFound
	}
	if !mg.o.Status.Cancellable() {
		mg.mu.Unlock()
		return model.ErrStaleState
	}
	mg.o.Status = model.StatusCancelled
	mg.o.UpdatedAt = m.now()
	snap := mg.o
	mg.mu.Unlock()

	m.unbook(&snap)
	if err := m.store.SaveOrder(ctx, &snap); err != nil {
		m.log.Error("persist cancel", "order_id", snap.ID, "err", err)
	}
	m.notify(snap)
	return nil
}

// Get returns a copy of the order.
func (m *Machine) Get(orderID string) (model.Order, error) {
	m.mu.RLock()
	mg, ok := m.orders[orderID]
	m.mu.RUnlock()
	if !ok {
		return model.Order{}, model.ErrOrderNotFound
	}
	return m.snapshot(mg), nil
}

// OnPriceUpdate re-evaluates every resting order for the asset, oldest
// first. Each order is evaluated exactly once per event; evaluation of an
// already-terminal order is a no-op. The caller serializes updates for the
// same asset.
func (m *Machine) OnPriceUpdate(ctx context.Context, u model.PriceUpdate) {
	m.mu.RLock()
	book, ok := m.books[u.AssetID]
	m.mu.RUnlock()
	if !ok {
		return
	}

	// Stable snapshot of the book for this event: orders submitted while
	// the event is being processed wait for the next tick.
	items := make([]bookItem, 0, book.Len())
	book.Scan(func(it bookItem) bool {
		items = append(items, it)
		return true
	})

	capLeft := m.cfg.TickLiquidityCap
	capped := capLeft.IsPositive()

	for _, it := range items {
		if capped && !capLeft.IsPositive() {
			break
		}
		filled := m.evaluateOrder(ctx, it.mg, u.Price, u.TS, capLeft)
		if capped {
			capLeft = capLeft.Sub(filled)
		}
	}
}

// Restore rebuilds the in-memory books from persisted non-terminal orders.
func (m *Machine) Restore(open []model.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range open {
		o := o
		mg := &managed{o: o}
		m.orders[o.ID] = mg
		m.bookFor(o.AssetID).Set(bookItem{key: itemKey(&o), mg: mg})
	}
}

// OpenOrders returns the number of resting orders across all assets.
func (m *Machine) OpenOrders() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, b := range m.books {
		n += b.Len()
	}
	return n
}

// ── internals ──

func itemKey(o *model.Order) bookKey {
	return bookKey{createdAt: o.CreatedAt.UnixNano(), id: o.ID}
}

func (m *Machine) bookFor(assetID string) *btree.BTreeG[bookItem] {
	b, ok := m.books[assetID]
	if !ok {
		b = btree.NewBTreeG[bookItem](lessItem)
		m.books[assetID] = b
	}
	return b
}

func (m *Machine) unbook(o *model.Order) {
	m.mu.Lock()
	if b, ok := m.books[o.AssetID]; ok {
		b.Delete(bookItem{key: itemKey(o)})
	}
	m.mu.Unlock()
}

func (m *Machine) snapshot(mg *managed) model.Order {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	return mg.o
}

func (m *Machine) notify(o model.Order) {
	if m.OnTransition != nil {
		m.OnTransition(o)
	}
}

// triggered reports whether the price satisfies the order's trigger
// condition. Exhaustive over the order-type enum.
func triggered(o *model.Order, price money.Money) bool {
	switch o.Type {
	case model.OrderMarket:
		return true
	case model.OrderLimit:
		if o.Side == model.SideBuy {
			return price.LessOrEqual(o.LimitPrice)
		}
		return price.GreaterOrEqual(o.LimitPrice)
	case model.OrderStop, model.OrderStopLimit:
		if o.Side == model.SideBuy {
			return price.GreaterOrEqual(o.StopPrice)
		}
		return price.LessOrEqual(o.StopPrice)
	default:
		return false
	}
}

// fillEligible reports whether a TRIGGERED order may fill at this price.
// A triggered STOP behaves as MARKET; a triggered STOP_LIMIT behaves as
// LIMIT and may rest in TRIGGERED while the limit condition is not
// satisfiable (gapped price).
func fillEligible(o *model.Order, price money.Money) bool {
	switch o.Type {
	case model.OrderMarket, model.OrderStop:
		return true
	case model.OrderLimit, model.OrderStopLimit:
		if o.Side == model.SideBuy {
			return price.LessOrEqual(o.LimitPrice)
		}
		return price.GreaterOrEqual(o.LimitPrice)
	default:
		return false
	}
}

// evaluateOrder runs one evaluation pass for one order against one price.
// Returns the quantity filled in this pass.
func (m *Machine) evaluateOrder(ctx context.Context, mg *managed,
	price money.Money, ts time.Time, capLeft money.Quantity) money.Quantity {

	mg.mu.Lock()
	defer mg.mu.Unlock()

	o := &mg.o
	if o.Status.Terminal() {
		// Re-evaluating a finished order must have no side effect.
		return money.QZero
	}

	if o.Status == model.StatusPending && triggered(o, price) {
		o.Status = model.StatusTriggered
		o.TriggeredAt = ts
		o.UpdatedAt = ts
		m.persist(ctx, o)
		m.notify(*o)
	}

	if o.Status == model.StatusPending {
		return money.QZero
	}

	// Expire orders stuck in TRIGGERED past the configured TTL.
	if m.cfg.TriggeredTTL > 0 && o.Status == model.StatusTriggered &&
		ts.Sub(o.TriggeredAt) > m.cfg.TriggeredTTL && !fillEligible(o, price) {
		o.Status = model.StatusCancelled
		o.UpdatedAt = ts
		snap := *o
		m.persist(ctx, o)
		m.unbook(&snap)
		m.notify(snap)
		return money.QZero
	}

	if !fillEligible(o, price) {
		return money.QZero
	}

	filled, err := m.filler.Fill(ctx, o, price, capLeft)
	if err != nil {
		if model.ReasonOf(err) != "" || err == model.ErrPositionHalted {
			// Rejection is terminal: surfaced, not retried.
			o.Status = model.StatusRejected
			o.Reason = model.ReasonOf(err)
			if err == model.ErrPositionHalted {
				o.Reason = model.ReasonPositionHalted
			}
			o.UpdatedAt = ts
			snap := *o
			m.persist(ctx, o)
			m.unbook(&snap)
			m.notify(snap)
			return money.QZero
		}
		// Transient failure (e.g. store unavailable): leave the order
		// as-is; the next price event retries.
		m.log.Warn("fill attempt failed", "order_id", o.ID, "err", err)
		return money.QZero
	}

	if filled.IsZero() {
		return money.QZero
	}

	// The filler already persisted the order row as part of the atomic
	// fill unit; only the book and listeners remain.
	snap := *o
	if o.Status.Terminal() {
		m.unbook(&snap)
	}
	m.notify(snap)
	return filled
}

func (m *Machine) persist(ctx context.Context, o *model.Order) {
	if err := m.store.SaveOrder(ctx, o); err != nil {
		m.log.Error("persist order transition", "order_id", o.ID,
			"status", string(o.Status), "err", err)
	}
}
