package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-systemv1/internal/model"
	"portfolio-systemv1/internal/money"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{DBPath: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func ts(sec int) time.Time {
	return time.Date(2025, 6, 2, 10, 0, sec, 0, time.UTC)
}

func TestAssetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := &model.Asset{
		ID: "aapl", Symbol: "AAPL", Name: "Apple", Type: model.AssetStock,
		Currency: "USD", Status: model.AssetActive,
		CurrentPrice: money.FromFloat(150.25), PriceVersion: 3,
		PriceUpdatedAt: ts(0), DayHigh: money.FromFloat(151),
		DayLow: money.FromFloat(149.5), MarketCap: money.FromInt(3_000_000),
		CreatedAt: ts(0),
	}
	require.NoError(t, s.UpsertAsset(ctx, a))

	got, err := s.GetAsset(ctx, "aapl")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", got.Symbol)
	assert.True(t, got.CurrentPrice.Equal(money.FromFloat(150.25)))
	assert.Equal(t, int64(3), got.PriceVersion)
	assert.Equal(t, ts(0), got.PriceUpdatedAt)

	_, err = s.GetAsset(ctx, "ghost")
	assert.ErrorIs(t, err, model.ErrUnknownAsset)

	// RecordPrice updates the price columns in place.
	a.ApplyPrice(money.FromFloat(152), ts(5))
	require.NoError(t, s.RecordPrice(ctx, a))
	got, err = s.GetAsset(ctx, "aapl")
	require.NoError(t, err)
	assert.True(t, got.CurrentPrice.Equal(money.FromFloat(152)))
	assert.Equal(t, int64(4), got.PriceVersion)
	assert.True(t, got.DayHigh.Equal(money.FromFloat(152)))
}

func TestOrderRoundTripAndOpenOrders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mk := func(id string, status model.OrderStatus, created time.Time) *model.Order {
		return &model.Order{
			ID: id, Owner: "u1", AssetID: "aapl",
			Side: model.SideBuy, Type: model.OrderLimit,
			Quantity: money.QFromInt(10), LimitPrice: money.FromInt(180),
			Status: status, CreatedAt: created, UpdatedAt: created,
		}
	}
	require.NoError(t, s.SaveOrder(ctx, mk("o-2", model.StatusPending, ts(2))))
	require.NoError(t, s.SaveOrder(ctx, mk("o-1", model.StatusTriggered, ts(1))))
	require.NoError(t, s.SaveOrder(ctx, mk("o-3", model.StatusFilled, ts(0))))
	require.NoError(t, s.SaveOrder(ctx, mk("o-4", model.StatusCancelled, ts(3))))

	got, err := s.GetOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusTriggered, got.Status)
	assert.True(t, got.LimitPrice.Equal(money.FromInt(180)))
	assert.True(t, got.TriggeredAt.IsZero(), "unset timestamps round-trip as zero")

	_, err = s.GetOrder(ctx, "nope")
	assert.ErrorIs(t, err, model.ErrOrderNotFound)

	// Only non-terminal orders, oldest first.
	open, err := s.ListOpenOrders(ctx)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "o-1", open[0].ID)
	assert.Equal(t, "o-2", open[1].ID)
}

func TestPositionUpsertIsUnique(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &model.Position{
		Owner: "u1", AssetID: "aapl",
		Quantity: money.QFromInt(10), AvgCostBasis: money.FromInt(100),
		UpdatedAt: ts(0),
	}
	require.NoError(t, s.UpsertPosition(ctx, p))

	p.Quantity = money.QFromInt(20)
	p.AvgCostBasis = money.FromInt(110)
	require.NoError(t, s.UpsertPosition(ctx, p))

	all, err := s.ListAllPositions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1, "(owner, asset) must stay unique")
	assert.True(t, all[0].Quantity.Equal(money.QFromInt(20)))
	assert.True(t, all[0].AvgCostBasis.Equal(money.FromInt(110)))

	_, err = s.GetPosition(ctx, "u1", "tsla")
	assert.ErrorIs(t, err, model.ErrNoPosition)
}

func mkTx(id, owner string, at time.Time) *model.Transaction {
	q := money.QFromInt(10)
	p := money.FromFloat(150.25)
	return &model.Transaction{
		ID: id, Owner: owner, AssetID: "aapl", OrderID: "o-1",
		Side: model.SideBuy, Quantity: q, PricePerUnit: p,
		Fees: money.Zero, TotalAmount: p.Mul(q), ExecutedAt: at,
	}
}

func TestTransactionsAppendOnlyAndWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendTransaction(ctx, mkTx("t-1", "u1", ts(1))))
	require.NoError(t, s.AppendTransaction(ctx, mkTx("t-2", "u2", ts(5))))
	require.NoError(t, s.AppendTransaction(ctx, mkTx("t-3", "u1", ts(9))))

	// Double append of the same ID must fail, not overwrite.
	assert.Error(t, s.AppendTransaction(ctx, mkTx("t-1", "u1", ts(1))))

	all, err := s.ListTransactions(ctx, ts(0), ts(10), "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "t-1", all[0].ID)
	assert.True(t, all[0].TotalAmount.Equal(money.FromFloat(1502.5)))

	windowed, err := s.ListTransactions(ctx, ts(2), ts(6), "")
	require.NoError(t, err)
	require.Len(t, windowed, 1)
	assert.Equal(t, "t-2", windowed[0].ID)

	mine, err := s.ListTransactions(ctx, ts(0), ts(10), "u1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
}

func TestApplyFillIsAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	o := &model.Order{
		ID: "o-1", Owner: "u1", AssetID: "aapl",
		Side: model.SideBuy, Type: model.OrderMarket,
		Quantity: money.QFromInt(10), FilledQuantity: money.QFromInt(10),
		Status: model.StatusFilled, CreatedAt: ts(0), UpdatedAt: ts(1),
		FilledAt: ts(1),
	}
	p := &model.Position{
		Owner: "u1", AssetID: "aapl",
		Quantity: money.QFromInt(10), AvgCostBasis: money.FromFloat(150.25),
		UpdatedAt: ts(1),
	}
	require.NoError(t, s.ApplyFill(ctx, mkTx("t-1", "u1", ts(1)), p, o))

	gotOrder, err := s.GetOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFilled, gotOrder.Status)
	gotPos, err := s.GetPosition(ctx, "u1", "aapl")
	require.NoError(t, err)
	assert.True(t, gotPos.Quantity.Equal(money.QFromInt(10)))

	// Second apply reuses the transaction ID: the append-only constraint
	// fires and nothing else may land either.
	p2 := *p
	p2.Quantity = money.QFromInt(999)
	o2 := *o
	o2.FilledQuantity = money.QFromInt(999)
	err = s.ApplyFill(ctx, mkTx("t-1", "u1", ts(2)), &p2, &o2)
	require.Error(t, err)

	gotPos, err = s.GetPosition(ctx, "u1", "aapl")
	require.NoError(t, err)
	assert.True(t, gotPos.Quantity.Equal(money.QFromInt(10)), "position changed despite rollback")
	gotOrder, err = s.GetOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.True(t, gotOrder.FilledQuantity.Equal(money.QFromInt(10)), "order changed despite rollback")
}

func TestApplyFillReportsCommitDuration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var commits int
	s.OnCommit = func(d time.Duration) {
		commits++
		assert.GreaterOrEqual(t, d, time.Duration(0))
	}

	o := &model.Order{
		ID: "o-1", Owner: "u1", AssetID: "aapl",
		Side: model.SideBuy, Type: model.OrderMarket,
		Quantity: money.QFromInt(10), FilledQuantity: money.QFromInt(10),
		Status: model.StatusFilled, CreatedAt: ts(0), UpdatedAt: ts(1),
		FilledAt: ts(1),
	}
	p := &model.Position{
		Owner: "u1", AssetID: "aapl",
		Quantity: money.QFromInt(10), AvgCostBasis: money.FromFloat(150.25),
		UpdatedAt: ts(1),
	}
	require.NoError(t, s.ApplyFill(ctx, mkTx("t-1", "u1", ts(1)), p, o))
	assert.Equal(t, 1, commits)

	// A rolled back apply commits nothing and reports nothing.
	require.Error(t, s.ApplyFill(ctx, mkTx("t-1", "u1", ts(2)), p, o))
	assert.Equal(t, 1, commits)
}

func TestPriceLogBatchesAndFlushes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ch := make(chan model.PriceUpdate, 16)
	done := make(chan struct{})
	go func() {
		s.RunPriceLog(ctx, ch)
		close(done)
	}()

	for i := 0; i < 5; i++ {
		ch <- model.PriceUpdate{AssetID: "aapl", Price: money.FromFloat(150 + float64(i)), TS: ts(i)}
	}
	close(ch)
	<-done

	hist, err := s.ReadPriceHistory(ctx, "aapl", time.Time{})
	require.NoError(t, err)
	require.Len(t, hist, 5)
	assert.True(t, hist[0].Price.Equal(money.FromInt(150)))
	assert.True(t, hist[4].Price.Equal(money.FromInt(154)))
	assert.Equal(t, ts(4), hist[4].TS)
}

func TestAccountsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertAccount(ctx, &model.Account{
		Owner: "u2", CreatedAt: ts(5), BuyingPower: money.FromInt(10000)}))
	require.NoError(t, s.UpsertAccount(ctx, &model.Account{
		Owner: "u1", CreatedAt: ts(1)}))

	accs, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accs, 2)
	assert.Equal(t, "u1", accs[0].Owner, "ordered by creation time")
	assert.True(t, accs[1].BuyingPower.Equal(money.FromInt(10000)))
}
