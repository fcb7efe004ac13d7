// Package service wires the core together: the position ledger, the order
// state machine, the execution engine, and the analytics aggregator, fed by
// the price stream and flanked by the non-authoritative Redis layers.
//
// Price updates are sharded by asset ID onto N worker goroutines over SPSC
// ring buffers. The same asset always lands on the same shard, which gives
// the state machine the per-asset serialization it requires while different
// assets evaluate in parallel.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log"
	"log/slog"
	"sync"
	"time"

	"portfolio-systemv1/internal/analytics"
	"portfolio-systemv1/internal/execution"
	"portfolio-systemv1/internal/ledger"
	"portfolio-systemv1/internal/logger"
	"portfolio-systemv1/internal/metrics"
	"portfolio-systemv1/internal/model"
	"portfolio-systemv1/internal/money"
	"portfolio-systemv1/internal/orders"
	"portfolio-systemv1/internal/ringbuf"
)

// Publisher pushes fills and order transitions out for dashboard consumers.
// Implemented by the Redis publisher; nil disables publication.
type Publisher interface {
	PublishFill(t model.Transaction)
	PublishOrder(o model.Order)
	PendingCount() int
}

// Config holds the core tunables.
type Config struct {
	// Shards is the number of price worker goroutines. Default 4.
	Shards int

	// RingSize is the per-shard ring buffer capacity. Default 1024.
	RingSize int

	// Orders carries the state machine tunables (tick liquidity cap,
	// triggered-order TTL).
	Orders orders.Config

	// MaxOrderQty rejects orders above this quantity. Zero disables.
	MaxOrderQty money.Quantity
}

type shard struct {
	ring *ringbuf.Ring
	wake chan struct{}
}

// Core is the engine facade. Everything the outer surfaces call goes
// through here.
type Core struct {
	cfg   Config
	store model.Store
	cache model.AnalyticsCache // optional
	pub   Publisher            // optional
	mx    *metrics.Metrics     // optional

	ledger  *ledger.Ledger
	machine *orders.Machine
	engine  *execution.Engine
	agg     *analytics.Aggregator

	mu       sync.RWMutex
	assets   map[string]*model.Asset
	accounts map[string]*model.Account

	shards []*shard
	wg     sync.WaitGroup
	log    *slog.Logger
}

// New creates a Core. cache, pub, and mx may be nil; the engine runs
// without them.
func New(cfg Config, store model.Store, cache model.AnalyticsCache,
	pub Publisher, fees model.FeeSchedule, mx *metrics.Metrics,
	logger *slog.Logger) *Core {

	if cfg.Shards <= 0 {
		cfg.Shards = 4
	}
	if cfg.RingSize <= 0 {
		cfg.RingSize = 1024
	}

	c := &Core{
		cfg:      cfg,
		store:    store,
		cache:    cache,
		pub:      pub,
		mx:       mx,
		ledger:   ledger.New(),
		assets:   make(map[string]*model.Asset),
		accounts: make(map[string]*model.Account),
		log:      logger,
	}

	c.engine = execution.New(c.ledger, store, fees, cfg.MaxOrderQty, logger)
	c.engine.OnFill = c.onFill
	if mx != nil {
		c.engine.OnFillLatency = func(d time.Duration) {
			mx.FillDur.Observe(d.Seconds())
		}
	}
	c.machine = orders.New(cfg.Orders, store, c.engine, c.ledger,
		c.resolveAsset, c.resolveAccount, logger)
	c.machine.OnTransition = c.onTransition
	c.agg = analytics.New(store, logger)

	for i := 0; i < cfg.Shards; i++ {
		c.shards = append(c.shards, &shard{
			ring: ringbuf.New(cfg.RingSize),
			wake: make(chan struct{}, 1),
		})
	}
	return c
}

// Start restores persisted state and launches the shard workers. Workers
// exit when ctx is cancelled; Wait blocks until they have.
func (c *Core) Start(ctx context.Context) error {
	if err := c.restore(ctx); err != nil {
		return err
	}
	for i, s := range c.shards {
		c.wg.Add(1)
		go c.runShard(ctx, i, s)
	}
	c.log.Info("core started",
		"shards", c.cfg.Shards,
		"open_orders", c.machine.OpenOrders())
	return nil
}

// Wait blocks until all shard workers have exited.
func (c *Core) Wait() { c.wg.Wait() }

// restore rebuilds the in-memory state from the durable store: the asset
// table, accounts, the ledger, and the resting order books.
func (c *Core) restore(ctx context.Context) error {
	assets, err := c.store.ListAssets(ctx)
	if err != nil {
		return fmt.Errorf("restore assets: %w", err)
	}
	accounts, err := c.store.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("restore accounts: %w", err)
	}
	positions, err := c.store.ListAllPositions(ctx)
	if err != nil {
		return fmt.Errorf("restore positions: %w", err)
	}
	open, err := c.store.ListOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("restore open orders: %w", err)
	}

	c.mu.Lock()
	for i := range assets {
		a := assets[i]
		c.assets[a.ID] = &a
	}
	for i := range accounts {
		acc := accounts[i]
		c.accounts[acc.Owner] = &acc
	}
	c.mu.Unlock()

	c.ledger.Restore(positions)
	c.machine.Restore(open)

	c.log.Info("state restored",
		"assets", len(assets),
		"accounts", len(accounts),
		"positions", len(positions),
		"open_orders", len(open))
	return nil
}

// ── price path ──

// ApplyPriceUpdate routes one feed observation to its shard. Non-blocking:
// a full ring drops the update, the next one supersedes it anyway.
func (c *Core) ApplyPriceUpdate(u model.PriceUpdate) {
	if u.AssetID == "" || !u.Price.IsPositive() {
		return
	}
	idx := shardFor(u.AssetID, len(c.shards))
	s := c.shards[idx]
	if !s.ring.Push(u) {
		if c.mx != nil {
			c.mx.FanoutDropsTotal.WithLabelValues(fmt.Sprintf("shard%d", idx)).Inc()
		}
		log.Printf("[core] shard %d ring full, dropped update for %s", idx, u.AssetID)
		return
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func shardFor(assetID string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(assetID))
	return int(h.Sum32()) % n
}

func (c *Core) runShard(ctx context.Context, idx int, s *shard) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
			for {
				u, ok := s.ring.Pop()
				if !ok {
					break
				}
				c.handlePrice(ctx, u)
			}
		}
	}
}

// handlePrice applies one observation to the asset table, persists it, and
// re-evaluates the resting orders. Runs on the asset's shard only.
func (c *Core) handlePrice(ctx context.Context, u model.PriceUpdate) {
	if u.TS.IsZero() {
		u.TS = time.Now()
	}

	c.mu.Lock()
	a, ok := c.assets[u.AssetID]
	if !ok {
		c.mu.Unlock()
		c.log.Debug("price for unknown asset", "asset_id", u.AssetID)
		return
	}
	a.ApplyPrice(u.Price, u.TS)
	snap := *a
	c.mu.Unlock()

	if c.mx != nil {
		c.mx.PriceUpdatesTotal.Inc()
	}
	if err := c.store.RecordPrice(ctx, &snap); err != nil {
		c.log.Warn("record price", "asset_id", u.AssetID, "err", err)
	}

	start := time.Now()
	c.machine.OnPriceUpdate(ctx, u)
	if c.mx != nil {
		c.mx.TickEvalDur.Observe(time.Since(start).Seconds())
	}
}

// ── resolvers (asset table) ──

func (c *Core) resolveAsset(assetID string) *model.Asset {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.assets[assetID]
	if !ok {
		return nil
	}
	snap := *a
	return &snap
}

func (c *Core) resolveAccount(owner string) *model.Account {
	c.mu.RLock()
	defer c.mu.RUnlock()
	acc, ok := c.accounts[owner]
	if !ok {
		return nil
	}
	snap := *acc
	return &snap
}

// CurrentPrice implements model.PriceSource.
func (c *Core) CurrentPrice(assetID string) (money.Money, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.assets[assetID]
	if !ok {
		return money.Zero, model.ErrUnknownAsset
	}
	if a.CurrentPrice.IsZero() {
		return money.Zero, model.ErrPriceUnavailable
	}
	return a.CurrentPrice, nil
}

// ── order operations ──

// SubmitOrder validates and accepts a new order. Each submission carries a
// trace ID so the accept log line and downstream fill lines correlate.
func (c *Core) SubmitOrder(ctx context.Context, req orders.SubmitRequest) (*model.Order, error) {
	if logger.TraceID(ctx) == "" {
		ctx = logger.WithTraceID(ctx, logger.NewTraceID())
	}
	o, err := c.machine.Submit(ctx, req)
	if err == nil {
		args := []any{"order_id", o.ID, "asset_id", o.AssetID, "side", string(o.Side)}
		args = append(args, logger.LogWithTrace(ctx)...)
		c.log.Info("order accepted", args...)
	}
	if c.mx != nil {
		if err != nil {
			c.mx.OrdersRejected.WithLabelValues(string(model.ReasonOf(err))).Inc()
		} else {
			c.mx.OrdersSubmitted.Inc()
		}
		c.mx.OpenOrders.Set(float64(c.machine.OpenOrders()))
	}
	return o, err
}

// CancelOrder cancels an order if it is still cancellable.
func (c *Core) CancelOrder(ctx context.Context, orderID, owner string) error {
	return c.machine.Cancel(ctx, orderID, owner)
}

// GetOrder returns a copy of the order.
func (c *Core) GetOrder(orderID string) (model.Order, error) {
	return c.machine.Get(orderID)
}

// GetPosition returns the owner's position in an asset.
func (c *Core) GetPosition(owner, assetID string) (model.Position, error) {
	return c.ledger.Get(owner, assetID)
}

// ListPositions returns all positions held by the owner.
func (c *Core) ListPositions(owner string) []model.Position {
	return c.ledger.ListByOwner(owner)
}

// PriceHistory returns the logged observations for an asset after the given
// time, oldest first. Backed by the durable price log, not the in-memory
// asset table.
func (c *Core) PriceHistory(ctx context.Context, assetID string, after time.Time) ([]model.PriceUpdate, error) {
	c.mu.RLock()
	_, ok := c.assets[assetID]
	c.mu.RUnlock()
	if !ok {
		return nil, model.ErrUnknownAsset
	}
	return c.store.ReadPriceHistory(ctx, assetID, after)
}

// ── analytics ──

// GetAnalytics serves one dashboard graph, from the cache when possible.
// A cache hit returns the stored payload unmarshalled; Data then holds
// generic JSON values rather than the typed series.
func (c *Core) GetAnalytics(ctx context.Context, graphName string, days int, owner string) (*analytics.Result, error) {
	graph, err := analytics.ParseGraph(graphName)
	if err != nil {
		return nil, err
	}
	days = analytics.ClampDays(days)

	var key string
	if c.cache != nil {
		key = analytics.CacheKey(c.cache.Version(ctx), graph, days, owner)
		if payload, ok := c.cache.Get(ctx, key); ok {
			if c.mx != nil {
				c.mx.CacheHits.Inc()
			}
			var res analytics.Result
			if err := json.Unmarshal(payload, &res); err == nil {
				return &res, nil
			}
			c.log.Warn("corrupt cache payload", "key", key)
		}
		if c.mx != nil {
			c.mx.CacheMisses.Inc()
		}
	}

	res, err := c.agg.Compute(ctx, graph, days, owner)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if payload, err := json.Marshal(res); err == nil {
			c.cache.Set(ctx, key, payload)
		}
	}
	return res, nil
}

// ── registration ──

// RegisterAccount creates (or refreshes) the minimal per-owner record.
// Zero buying power means unlimited.
func (c *Core) RegisterAccount(ctx context.Context, owner string, buyingPower money.Money) (*model.Account, error) {
	acc := &model.Account{
		Owner:       owner,
		CreatedAt:   time.Now(),
		BuyingPower: buyingPower,
	}

	c.mu.Lock()
	if existing, ok := c.accounts[owner]; ok {
		acc.CreatedAt = existing.CreatedAt
	}
	c.accounts[owner] = acc
	c.mu.Unlock()

	if err := c.store.UpsertAccount(ctx, acc); err != nil {
		return nil, fmt.Errorf("persist account: %w", err)
	}
	snap := *acc
	return &snap, nil
}

// UpsertAsset registers or updates a tradeable asset.
func (c *Core) UpsertAsset(ctx context.Context, a *model.Asset) error {
	if a.ID == "" || a.Symbol == "" {
		return model.Rejection(model.ReasonInvalidParams, "asset needs id and symbol")
	}
	if a.Status == "" {
		a.Status = model.AssetActive
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	if err := c.store.UpsertAsset(ctx, a); err != nil {
		return fmt.Errorf("persist asset: %w", err)
	}

	c.mu.Lock()
	snap := *a
	c.assets[a.ID] = &snap
	c.mu.Unlock()
	return nil
}

// Assets returns a copy of the asset table.
func (c *Core) Assets() []model.Asset {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Asset, 0, len(c.assets))
	for _, a := range c.assets {
		out = append(out, *a)
	}
	return out
}

// ── event hooks ──

// onFill runs after a fill has durably committed: the analytics cache
// generation advances and the fill goes out on pub/sub.
func (c *Core) onFill(t model.Transaction) {
	if c.cache != nil {
		c.cache.Invalidate(context.Background())
		if c.mx != nil {
			c.mx.CacheInvalidations.Inc()
		}
	}
	if c.pub != nil {
		c.pub.PublishFill(t)
		if c.mx != nil {
			c.mx.PublisherPendingLen.Set(float64(c.pub.PendingCount()))
		}
	}
}

func (c *Core) onTransition(o model.Order) {
	if c.mx != nil {
		switch o.Status {
		case model.StatusFilled:
			c.mx.OrdersFilled.Inc()
		case model.StatusPartiallyFilled:
			c.mx.PartialFills.Inc()
		case model.StatusCancelled:
			c.mx.OrdersCancelled.Inc()
		case model.StatusRejected:
			c.mx.OrdersRejected.WithLabelValues(string(o.Reason)).Inc()
		}
		c.mx.OpenOrders.Set(float64(c.machine.OpenOrders()))
	}
	if c.pub != nil {
		c.pub.PublishOrder(o)
	}
}
