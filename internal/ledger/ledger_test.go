package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-systemv1/internal/model"
	"portfolio-systemv1/internal/money"
)

func fill(t *testing.T, l *Ledger, side model.Side, qty int64, price float64, fees float64) money.Money {
	t.Helper()
	var realized money.Money
	err := l.Fill("u1", "AAPL", side, money.QFromInt(qty),
		money.FromFloat(price), money.FromFloat(fees), time.Now(),
		func(pos model.Position, r money.Money) error {
			realized = r
			return nil
		})
	require.NoError(t, err)
	return realized
}

func TestCostBasisRoundTrip(t *testing.T) {
	l := New()

	// Buy 10 @ 100, then 10 @ 120 -> basis 110.
	fill(t, l, model.SideBuy, 10, 100, 0)
	fill(t, l, model.SideBuy, 10, 120, 0)

	pos, err := l.Get("u1", "AAPL")
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(money.QFromInt(20)), "quantity = %s", pos.Quantity)
	assert.True(t, pos.AvgCostBasis.Equal(money.FromInt(110)), "basis = %s", pos.AvgCostBasis)

	// Sell 5 @ 130 -> realized 5 x (130-110) = 100, basis unchanged.
	realized := fill(t, l, model.SideSell, 5, 130, 0)
	assert.True(t, realized.Equal(money.FromInt(100)), "realized = %s", realized)

	pos, err = l.Get("u1", "AAPL")
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(money.QFromInt(15)))
	assert.True(t, pos.AvgCostBasis.Equal(money.FromInt(110)), "basis moved on sell: %s", pos.AvgCostBasis)
	assert.True(t, pos.RealizedPnL.Equal(money.FromInt(100)))
}

func TestSellFeesReduceRealized(t *testing.T) {
	l := New()
	fill(t, l, model.SideBuy, 10, 100, 0)

	realized := fill(t, l, model.SideSell, 10, 110, 25)
	// 10 x (110-100) - 25 = 75
	assert.True(t, realized.Equal(money.FromInt(75)), "realized = %s", realized)
}

func TestNoShorting(t *testing.T) {
	l := New()
	fill(t, l, model.SideBuy, 5, 100, 0)

	err := l.Fill("u1", "AAPL", model.SideSell, money.QFromInt(6),
		money.FromFloat(100), money.Zero, time.Now(), nil)
	require.Error(t, err)
	assert.Equal(t, model.ReasonInsufficientHoldings, model.ReasonOf(err))

	// Position untouched by the rejected sell.
	pos, err := l.Get("u1", "AAPL")
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(money.QFromInt(5)))
	assert.False(t, pos.Quantity.IsNegative())
}

func TestCommitFailureRollsBack(t *testing.T) {
	l := New()
	fill(t, l, model.SideBuy, 10, 100, 0)

	boom := errors.New("disk full")
	err := l.Fill("u1", "AAPL", model.SideBuy, money.QFromInt(10),
		money.FromFloat(200), money.Zero, time.Now(),
		func(model.Position, money.Money) error { return boom })
	require.ErrorIs(t, err, boom)

	pos, err := l.Get("u1", "AAPL")
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(money.QFromInt(10)), "quantity mutated despite failed commit")
	assert.True(t, pos.AvgCostBasis.Equal(money.FromInt(100)), "basis mutated despite failed commit")
}

func TestHaltedPositionRefusesFills(t *testing.T) {
	l := New()
	fill(t, l, model.SideBuy, 10, 100, 0)
	l.Halt("u1", "AAPL")

	err := l.Fill("u1", "AAPL", model.SideBuy, money.QFromInt(1),
		money.FromFloat(100), money.Zero, time.Now(), nil)
	require.ErrorIs(t, err, model.ErrPositionHalted)
}

func TestZeroQuantityPositionPersists(t *testing.T) {
	l := New()
	fill(t, l, model.SideBuy, 10, 100, 0)
	fill(t, l, model.SideSell, 10, 120, 0)

	pos, err := l.Get("u1", "AAPL")
	require.NoError(t, err)
	assert.True(t, pos.Quantity.IsZero())
	assert.True(t, pos.RealizedPnL.Equal(money.FromInt(200)))
}

func TestRestore(t *testing.T) {
	l := New()
	l.Restore([]model.Position{{
		Owner:        "u2",
		AssetID:      "BTC",
		Quantity:     money.QFromFloat(0.5),
		AvgCostBasis: money.FromInt(40000),
	}})

	pos, err := l.Get("u2", "BTC")
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(money.QFromFloat(0.5)))
	assert.True(t, pos.AvgCostBasis.Equal(money.FromInt(40000)))
}
