package money

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoFloatDrift(t *testing.T) {
	// 0.1 + 0.2 must be exactly 0.3.
	sum := FromFloat(0.1).Add(FromFloat(0.2))
	assert.True(t, sum.Equal(FromFloat(0.3)), "got %s", sum)

	// Summing 0.10 a thousand times must be exactly 100.
	total := Zero
	for i := 0; i < 1000; i++ {
		total = total.Add(FromFloat(0.10))
	}
	assert.True(t, total.Equal(FromInt(100)), "got %s", total)
}

func TestMulDiv(t *testing.T) {
	// 100 units at 150.25 -> 15025.
	gross := FromFloat(150.25).Mul(QFromInt(100))
	assert.True(t, gross.Equal(FromInt(15025)), "got %s", gross)

	perUnit := gross.Div(QFromInt(100))
	assert.True(t, perUnit.Equal(FromFloat(150.25)), "got %s", perUnit)
}

func TestFractionalQuantity(t *testing.T) {
	// 0.00000001 BTC at 50,000,000 -> 0.50.
	v := FromInt(50_000_000).Mul(QFromFloat(0.00000001))
	assert.True(t, v.Equal(FromFloat(0.5)), "got %s", v)
}

func TestParseRoundTrip(t *testing.T) {
	m, err := Parse("150.25")
	require.NoError(t, err)
	assert.Equal(t, "150.25", m.String())

	_, err = Parse("not-a-number")
	require.Error(t, err)

	q, err := ParseQuantity("0.00000001")
	require.NoError(t, err)
	assert.Equal(t, "0.00000001", q.String())
}

func TestSQLScan(t *testing.T) {
	var m Money
	require.NoError(t, m.Scan("19.99"))
	assert.True(t, m.Equal(FromFloat(19.99)))

	require.NoError(t, m.Scan([]byte("7")))
	assert.True(t, m.Equal(FromInt(7)))

	require.NoError(t, m.Scan(nil))
	assert.True(t, m.IsZero())

	require.Error(t, m.Scan(struct{}{}))
}

func TestJSON(t *testing.T) {
	b, err := json.Marshal(FromFloat(123.45))
	require.NoError(t, err)
	assert.Equal(t, `"123.45"`, string(b))

	var m Money
	require.NoError(t, json.Unmarshal([]byte(`"123.45"`), &m))
	assert.True(t, m.Equal(FromFloat(123.45)))
}

func TestQuantityMin(t *testing.T) {
	a, b := QFromInt(5), QFromInt(3)
	assert.True(t, a.Min(b).Equal(b))
	assert.True(t, b.Min(a).Equal(b))
}
