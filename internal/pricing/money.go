package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is an amount in the smallest currency unit (paise/cents).
type Money int64

var hundred = decimal.NewFromInt(100)

// FromDecimal converts a major-unit amount, rounding half away from zero to one minor unit.
func FromDecimal(d decimal.Decimal) Money {
	return Money(d.Mul(hundred).Round(0).IntPart())
}

func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -2)
}

func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// MarshalJSON renders money as a fixed two-decimal string to avoid float drift on clients.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", m.String())), nil
}

func (m *Money) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' {
		s = s[1 : len(s)-1]
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("money: %w", err)
	}
	*m = FromDecimal(d)
	return nil
}

// Percent applies a percentage rate to an amount, rounding to the minor unit.
func Percent(m Money, rate decimal.Decimal) Money {
	return Money(decimal.NewFromInt(int64(m)).Mul(rate).Div(hundred).Round(0).IntPart())
}
