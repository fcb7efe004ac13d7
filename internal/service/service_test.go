package service

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-systemv1/internal/execution"
	"portfolio-systemv1/internal/model"
	"portfolio-systemv1/internal/money"
	"portfolio-systemv1/internal/orders"
	"portfolio-systemv1/internal/store/sqlite"
)

type fakeCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	version int64
	hits    int
	sets    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string][]byte)}
}

func (f *fakeCache) Get(_ context.Context, key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.data[key]
	if ok {
		f.hits++
	}
	return p, ok
}

func (f *fakeCache) Set(_ context.Context, key string, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	f.data[key] = payload
}

func (f *fakeCache) Invalidate(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.version++
}

func (f *fakeCache) Version(context.Context) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.version
}

type fakePub struct {
	mu     sync.Mutex
	fills  []model.Transaction
	orders []model.Order
}

func (f *fakePub) PublishFill(t model.Transaction) {
	f.mu.Lock()
	f.fills = append(f.fills, t)
	f.mu.Unlock()
}

func (f *fakePub) PublishOrder(o model.Order) {
	f.mu.Lock()
	f.orders = append(f.orders, o)
	f.mu.Unlock()
}

func (f *fakePub) PendingCount() int { return 0 }

func (f *fakePub) fillCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fills)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func newCore(t *testing.T, cfg Config) (*Core, *fakeCache, *fakePub) {
	t.Helper()
	store, err := sqlite.New(sqlite.Config{DBPath: filepath.Join(t.TempDir(), "core.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cache := newFakeCache()
	pub := &fakePub{}
	c := New(cfg, store, cache, pub, execution.FreeOfCharge{}, nil, discard())
	return c, cache, pub
}

func startCore(t *testing.T, c *Core) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Start(ctx))
	t.Cleanup(func() {
		cancel()
		c.Wait()
	})
	return cancel
}

func registerAapl(t *testing.T, c *Core) {
	t.Helper()
	require.NoError(t, c.UpsertAsset(context.Background(), &model.Asset{
		ID: "aapl", Symbol: "AAPL", Name: "Apple", Type: model.AssetStock,
		Currency: "USD", Status: model.AssetActive,
	}))
}

func TestEndToEndMarketBuy(t *testing.T) {
	c, _, pub := newCore(t, Config{Shards: 1})
	startCore(t, c)
	ctx := context.Background()

	registerAapl(t, c)
	_, err := c.RegisterAccount(ctx, "u1", money.Zero)
	require.NoError(t, err)

	c.ApplyPriceUpdate(model.PriceUpdate{
		AssetID: "aapl", Price: money.FromFloat(150.25), TS: time.Now(),
	})
	require.Eventually(t, func() bool {
		p, err := c.CurrentPrice("aapl")
		return err == nil && p.Equal(money.FromFloat(150.25))
	}, 2*time.Second, 5*time.Millisecond, "price never reached the asset table")

	o, err := c.SubmitOrder(ctx, orders.SubmitRequest{
		Owner: "u1", AssetID: "aapl",
		Side: model.SideBuy, Type: model.OrderMarket,
		Quantity: money.QFromInt(100),
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusFilled, o.Status)

	pos, err := c.GetPosition("u1", "aapl")
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(money.QFromInt(100)))
	assert.True(t, pos.AvgCostBasis.Equal(money.FromFloat(150.25)))

	assert.Equal(t, 1, pub.fillCount(), "fill must go out on pub/sub")
}

func TestLimitOrderFillsViaPricePath(t *testing.T) {
	c, _, _ := newCore(t, Config{Shards: 2})
	startCore(t, c)
	ctx := context.Background()

	registerAapl(t, c)
	c.ApplyPriceUpdate(model.PriceUpdate{AssetID: "aapl", Price: money.FromInt(200), TS: time.Now()})
	require.Eventually(t, func() bool {
		_, err := c.CurrentPrice("aapl")
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)

	o, err := c.SubmitOrder(ctx, orders.SubmitRequest{
		Owner: "u1", AssetID: "aapl",
		Side: model.SideBuy, Type: model.OrderLimit,
		Quantity: money.QFromInt(5), LimitPrice: money.FromInt(180),
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, o.Status, "200 > 180 must not trigger a buy limit")

	c.ApplyPriceUpdate(model.PriceUpdate{AssetID: "aapl", Price: money.FromInt(175), TS: time.Now()})
	require.Eventually(t, func() bool {
		got, err := c.GetOrder(o.ID)
		return err == nil && got.Status == model.StatusFilled
	}, 2*time.Second, 5*time.Millisecond, "limit order never filled")

	got, err := c.GetOrder(o.ID)
	require.NoError(t, err)
	assert.True(t, got.FilledQuantity.Equal(money.QFromInt(5)))
}

func TestCancelRestingOrder(t *testing.T) {
	c, _, _ := newCore(t, Config{Shards: 1})
	startCore(t, c)
	ctx := context.Background()

	registerAapl(t, c)
	o, err := c.SubmitOrder(ctx, orders.SubmitRequest{
		Owner: "u1", AssetID: "aapl",
		Side: model.SideBuy, Type: model.OrderLimit,
		Quantity: money.QFromInt(5), LimitPrice: money.FromInt(100),
	})
	require.NoError(t, err)

	require.NoError(t, c.CancelOrder(ctx, o.ID, "u1"))
	got, err := c.GetOrder(o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)

	assert.ErrorIs(t, c.CancelOrder(ctx, o.ID, "u1"), model.ErrStaleState)
}

func TestSubmitUnknownAssetRejected(t *testing.T) {
	c, _, _ := newCore(t, Config{Shards: 1})
	startCore(t, c)

	_, err := c.SubmitOrder(context.Background(), orders.SubmitRequest{
		Owner: "u1", AssetID: "ghost",
		Side: model.SideBuy, Type: model.OrderMarket,
		Quantity: money.QFromInt(1),
	})
	assert.Equal(t, model.ReasonUnknownAsset, model.ReasonOf(err))
}

func TestSubmitOrderLogsTraceID(t *testing.T) {
	var buf bytes.Buffer
	store, err := sqlite.New(sqlite.Config{DBPath: filepath.Join(t.TempDir(), "core.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	c := New(Config{Shards: 1}, store, nil, nil, execution.FreeOfCharge{}, nil,
		slog.New(slog.NewJSONHandler(&buf, nil)))
	startCore(t, c)
	registerAapl(t, c)

	_, err = c.SubmitOrder(context.Background(), orders.SubmitRequest{
		Owner: "u1", AssetID: "aapl",
		Side: model.SideBuy, Type: model.OrderLimit,
		Quantity: money.QFromInt(5), LimitPrice: money.FromInt(100),
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "order accepted")
	assert.Contains(t, out, "trace_id", "accept line must carry the minted trace ID")
}

func TestCurrentPriceErrors(t *testing.T) {
	c, _, _ := newCore(t, Config{Shards: 1})
	startCore(t, c)

	_, err := c.CurrentPrice("ghost")
	assert.ErrorIs(t, err, model.ErrUnknownAsset)

	registerAapl(t, c)
	_, err = c.CurrentPrice("aapl")
	assert.ErrorIs(t, err, model.ErrPriceUnavailable)
}

func TestAnalyticsCacheMissThenHit(t *testing.T) {
	c, cache, _ := newCore(t, Config{Shards: 1})
	startCore(t, c)
	ctx := context.Background()

	_, err := c.RegisterAccount(ctx, "u1", money.Zero)
	require.NoError(t, err)

	res, err := c.GetAnalytics(ctx, "user_growth", 7, "")
	require.NoError(t, err)
	assert.Equal(t, 7, res.Days)
	assert.Equal(t, 1, cache.sets, "miss must populate the cache")

	_, err = c.GetAnalytics(ctx, "user_growth", 7, "")
	require.NoError(t, err)
	assert.Equal(t, 1, cache.hits, "second read must hit the cache")
	assert.Equal(t, 1, cache.sets)
}

func TestFillInvalidatesAnalyticsCache(t *testing.T) {
	c, cache, _ := newCore(t, Config{Shards: 1})
	startCore(t, c)
	ctx := context.Background()

	registerAapl(t, c)
	c.ApplyPriceUpdate(model.PriceUpdate{AssetID: "aapl", Price: money.FromInt(100), TS: time.Now()})
	require.Eventually(t, func() bool {
		_, err := c.CurrentPrice("aapl")
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)

	_, err := c.GetAnalytics(ctx, "transaction_volume", 7, "")
	require.NoError(t, err)
	before := cache.Version(ctx)

	_, err = c.SubmitOrder(ctx, orders.SubmitRequest{
		Owner: "u1", AssetID: "aapl",
		Side: model.SideBuy, Type: model.OrderMarket,
		Quantity: money.QFromInt(1),
	})
	require.NoError(t, err)

	assert.Greater(t, cache.Version(ctx), before, "fill must bump the cache generation")

	// The old generation's key no longer matches; this recomputes.
	sets := cache.sets
	_, err = c.GetAnalytics(ctx, "transaction_volume", 7, "")
	require.NoError(t, err)
	assert.Equal(t, sets+1, cache.sets)
}

func TestGetAnalyticsUnknownGraph(t *testing.T) {
	c, _, _ := newCore(t, Config{Shards: 1})
	startCore(t, c)

	_, err := c.GetAnalytics(context.Background(), "bogus", 7, "")
	assert.Error(t, err)
}

func TestShardAssignmentIsStable(t *testing.T) {
	for _, id := range []string{"aapl", "tsla", "btc-usd"} {
		first := shardFor(id, 4)
		for i := 0; i < 10; i++ {
			if got := shardFor(id, 4); got != first {
				t.Fatalf("shardFor(%q) unstable: %d then %d", id, first, got)
			}
		}
	}
}

func TestPriceHistoryReadsFromLog(t *testing.T) {
	store, err := sqlite.New(sqlite.Config{DBPath: filepath.Join(t.TempDir(), "core.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	// Feed the durable price log directly, the way the feed pipeline does.
	ch := make(chan model.PriceUpdate, 8)
	done := make(chan struct{})
	go func() {
		store.RunPriceLog(ctx, ch)
		close(done)
	}()
	base := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		ch <- model.PriceUpdate{
			AssetID: "aapl",
			Price:   money.FromInt(int64(150 + i)),
			TS:      base.Add(time.Duration(i) * time.Minute),
		}
	}
	close(ch)
	<-done

	c := New(Config{Shards: 1}, store, nil, nil, execution.FreeOfCharge{}, nil, discard())
	startCore(t, c)
	registerAapl(t, c)

	hist, err := c.PriceHistory(ctx, "aapl", time.Time{})
	require.NoError(t, err)
	require.Len(t, hist, 4)
	assert.True(t, hist[0].Price.Equal(money.FromInt(150)))
	assert.True(t, hist[3].Price.Equal(money.FromInt(153)))

	// The after bound excludes earlier observations.
	hist, err = c.PriceHistory(ctx, "aapl", base.Add(90*time.Second))
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.True(t, hist[0].Price.Equal(money.FromInt(152)))

	_, err = c.PriceHistory(ctx, "ghost", time.Time{})
	assert.ErrorIs(t, err, model.ErrUnknownAsset)
}

func TestRestartRestoresState(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "core.db")
	ctx := context.Background()

	store, err := sqlite.New(sqlite.Config{DBPath: dbPath})
	require.NoError(t, err)

	c1 := New(Config{Shards: 1}, store, nil, nil, execution.FreeOfCharge{}, nil, discard())
	runCtx, cancel := context.WithCancel(ctx)
	require.NoError(t, c1.Start(runCtx))

	registerAapl(t, c1)
	c1.ApplyPriceUpdate(model.PriceUpdate{AssetID: "aapl", Price: money.FromInt(100), TS: time.Now()})
	require.Eventually(t, func() bool {
		_, err := c1.CurrentPrice("aapl")
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)

	// One fill and one resting order survive the restart.
	_, err = c1.SubmitOrder(ctx, orders.SubmitRequest{
		Owner: "u1", AssetID: "aapl",
		Side: model.SideBuy, Type: model.OrderMarket,
		Quantity: money.QFromInt(10),
	})
	require.NoError(t, err)
	resting, err := c1.SubmitOrder(ctx, orders.SubmitRequest{
		Owner: "u1", AssetID: "aapl",
		Side: model.SideBuy, Type: model.OrderLimit,
		Quantity: money.QFromInt(5), LimitPrice: money.FromInt(50),
	})
	require.NoError(t, err)

	cancel()
	c1.Wait()
	require.NoError(t, store.Close())

	store2, err := sqlite.New(sqlite.Config{DBPath: dbPath})
	require.NoError(t, err)
	t.Cleanup(func() { store2.Close() })

	c2 := New(Config{Shards: 1}, store2, nil, nil, execution.FreeOfCharge{}, nil, discard())
	runCtx2, cancel2 := context.WithCancel(ctx)
	t.Cleanup(func() {
		cancel2()
		c2.Wait()
	})
	require.NoError(t, c2.Start(runCtx2))

	pos, err := c2.GetPosition("u1", "aapl")
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(money.QFromInt(10)))

	got, err := c2.GetOrder(resting.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, 1, c2.machine.OpenOrders())
}
