// Package money provides fixed-precision monetary and quantity arithmetic
// on top of shopspring/decimal. Prices carry 2 decimal places, quantities
// up to 8 (fractional crypto units). Float64 never touches the books.
package money

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// PriceScale is the number of decimal places kept on monetary amounts.
const PriceScale = 2

// QuantityScale is the number of decimal places kept on asset quantities.
const QuantityScale = 8

// Money is a fixed-precision monetary amount. The currency is tracked on
// the Asset, not here; mixing currencies is the caller's bug to avoid.
type Money struct {
	dec decimal.Decimal
}

// Zero is the zero amount.
var Zero = Money{}

// New builds a Money from a decimal value.
func New(d decimal.Decimal) Money { return Money{dec: d} }

// FromFloat builds a Money from a float, e.g. for config and test inputs.
func FromFloat(f float64) Money { return Money{dec: decimal.NewFromFloat(f)} }

// FromInt builds a Money from whole units.
func FromInt(n int64) Money { return Money{dec: decimal.NewFromInt(n)} }

// Parse builds a Money from its string form, as stored in SQLite.
func Parse(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("parse money %q: %w", s, err)
	}
	return Money{dec: d}, nil
}

func (m Money) Add(n Money) Money { return Money{dec: m.dec.Add(n.dec)} }
func (m Money) Sub(n Money) Money { return Money{dec: m.dec.Sub(n.dec)} }
func (m Money) Neg() Money        { return Money{dec: m.dec.Neg()} }

// Mul multiplies a per-unit amount by a quantity.
func (m Money) Mul(q Quantity) Money { return Money{dec: m.dec.Mul(q.dec)} }

// Div divides a total amount by a quantity, yielding a per-unit amount.
func (m Money) Div(q Quantity) Money { return Money{dec: m.dec.Div(q.dec)} }

// MulFloat scales by a dimensionless factor (fee rates).
func (m Money) MulFloat(f float64) Money {
	return Money{dec: m.dec.Mul(decimal.NewFromFloat(f))}
}

// Round returns the amount rounded to PriceScale, half away from zero.
func (m Money) Round() Money { return Money{dec: m.dec.Round(PriceScale)} }

func (m Money) Cmp(n Money) int              { return m.dec.Cmp(n.dec) }
func (m Money) Equal(n Money) bool           { return m.dec.Equal(n.dec) }
func (m Money) LessThan(n Money) bool        { return m.dec.LessThan(n.dec) }
func (m Money) LessOrEqual(n Money) bool     { return m.dec.LessThanOrEqual(n.dec) }
func (m Money) GreaterThan(n Money) bool     { return m.dec.GreaterThan(n.dec) }
func (m Money) GreaterOrEqual(n Money) bool  { return m.dec.GreaterThanOrEqual(n.dec) }
func (m Money) IsZero() bool                 { return m.dec.IsZero() }
func (m Money) IsPositive() bool             { return m.dec.IsPositive() }
func (m Money) IsNegative() bool             { return m.dec.IsNegative() }
func (m Money) Decimal() decimal.Decimal     { return m.dec }
func (m Money) Float() float64               { return m.dec.InexactFloat64() }
func (m Money) String() string               { return m.dec.StringFixed(PriceScale) }

func (m Money) MarshalJSON() ([]byte, error)  { return m.dec.MarshalJSON() }
func (m *Money) UnmarshalJSON(b []byte) error { return m.dec.UnmarshalJSON(b) }

// Value implements driver.Valuer so Money binds as TEXT in SQL statements.
func (m Money) Value() (driver.Value, error) { return m.dec.String(), nil }

// Scan implements sql.Scanner.
func (m *Money) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		m.dec = decimal.Decimal{}
		return nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("scan money: %w", err)
		}
		m.dec = d
		return nil
	case []byte:
		return m.Scan(string(v))
	case float64:
		m.dec = decimal.NewFromFloat(v)
		return nil
	case int64:
		m.dec = decimal.NewFromInt(v)
		return nil
	default:
		return fmt.Errorf("scan money: unsupported type %T", src)
	}
}

// Quantity is a fixed-precision asset quantity.
type Quantity struct {
	dec decimal.Decimal
}

// QZero is the zero quantity.
var QZero = Quantity{}

// Q builds a Quantity from a decimal value.
func Q(d decimal.Decimal) Quantity { return Quantity{dec: d} }

// QFromFloat builds a Quantity from a float.
func QFromFloat(f float64) Quantity { return Quantity{dec: decimal.NewFromFloat(f)} }

// QFromInt builds a Quantity from whole units.
func QFromInt(n int64) Quantity { return Quantity{dec: decimal.NewFromInt(n)} }

// ParseQuantity builds a Quantity from its string form.
func ParseQuantity(s string) (Quantity, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Quantity{}, fmt.Errorf("parse quantity %q: %w", s, err)
	}
	return Quantity{dec: d}, nil
}

func (q Quantity) Add(r Quantity) Quantity      { return Quantity{dec: q.dec.Add(r.dec)} }
func (q Quantity) Sub(r Quantity) Quantity      { return Quantity{dec: q.dec.Sub(r.dec)} }
func (q Quantity) Min(r Quantity) Quantity {
	if q.dec.LessThanOrEqual(r.dec) {
		return q
	}
	return r
}
func (q Quantity) Cmp(r Quantity) int           { return q.dec.Cmp(r.dec) }
func (q Quantity) Equal(r Quantity) bool        { return q.dec.Equal(r.dec) }
func (q Quantity) LessThan(r Quantity) bool     { return q.dec.LessThan(r.dec) }
func (q Quantity) LessOrEqual(r Quantity) bool  { return q.dec.LessThanOrEqual(r.dec) }
func (q Quantity) GreaterThan(r Quantity) bool  { return q.dec.GreaterThan(r.dec) }
func (q Quantity) IsZero() bool                 { return q.dec.IsZero() }
func (q Quantity) IsPositive() bool             { return q.dec.IsPositive() }
func (q Quantity) IsNegative() bool             { return q.dec.IsNegative() }
func (q Quantity) Decimal() decimal.Decimal     { return q.dec }
func (q Quantity) Float() float64               { return q.dec.InexactFloat64() }
func (q Quantity) String() string               { return q.dec.String() }

func (q Quantity) MarshalJSON() ([]byte, error)  { return q.dec.MarshalJSON() }
func (q *Quantity) UnmarshalJSON(b []byte) error { return q.dec.UnmarshalJSON(b) }

// Value implements driver.Valuer.
func (q Quantity) Value() (driver.Value, error) { return q.dec.String(), nil }

// Scan implements sql.Scanner.
func (q *Quantity) Scan(src any) error {
	var m Money
	if err := m.Scan(src); err != nil {
		return err
	}
	q.dec = m.dec
	return nil
}
