package pricing

import "github.com/shopspring/decimal"

type Line struct {
	UnitPrice Money
	Quantity  int
	TaxRate   decimal.Decimal // percent, e.g. 18
}

func (l Line) Total() Money { return l.UnitPrice * Money(l.Quantity) }

// Policy holds store-wide pricing settings.
type Policy struct {
	DeliveryFee           Money
	FreeDeliveryThreshold Money
	// DefaultTaxRate is the compound rate reported as two equal halves.
	DefaultTaxRate decimal.Decimal
}

// Adjustments are the coupon outcome fed back into pricing.
type Adjustments struct {
	Discount     Money
	FreeDelivery bool
}

type Quote struct {
	Subtotal       Money `json:"subtotal"`
	Discount       Money `json:"discount"`
	TaxPrimary     Money `json:"tax_primary"`
	TaxSecondary   Money `json:"tax_secondary"`
	DeliveryCharge Money `json:"delivery_charge"`
	Total          Money `json:"total"`
}

func (q Quote) Tax() Money { return q.TaxPrimary + q.TaxSecondary }

func Subtotal(lines []Line) Money {
	var s Money
	for _, l := range lines {
		s += l.Total()
	}
	return s
}

// Price is pure: no I/O, no clock.
//
// Tax is charged on the discounted amount. The discount is spread over lines in proportion to
// their totals so mixed tax rates stay correct; rounding to the minor unit happens once per
// tax bucket. Tax at the default compound rate is split evenly (odd unit to the primary
// component); tax at any other rate is reported entirely in the primary component.
func Price(lines []Line, adj Adjustments, p Policy) Quote {
	q := Quote{Subtotal: Subtotal(lines)}

	discount := adj.Discount
	if discount < 0 {
		discount = 0
	}
	if discount > q.Subtotal {
		discount = q.Subtotal
	}
	q.Discount = discount

	if q.Subtotal > 0 {
		sub := decimal.NewFromInt(int64(q.Subtotal))
		factor := decimal.NewFromInt(int64(q.Subtotal - discount)).Div(sub)

		compound := decimal.Zero
		other := decimal.Zero
		for _, l := range lines {
			taxable := decimal.NewFromInt(int64(l.Total())).Mul(factor)
			t := taxable.Mul(l.TaxRate).Div(hundred)
			if l.TaxRate.Equal(p.DefaultTaxRate) {
				compound = compound.Add(t)
			} else {
				other = other.Add(t)
			}
		}
		compoundTax := Money(compound.Round(0).IntPart())
		half := compoundTax / 2
		q.TaxSecondary = half
		q.TaxPrimary = compoundTax - half + Money(other.Round(0).IntPart())
	}

	if !adj.FreeDelivery && q.Subtotal < p.FreeDeliveryThreshold {
		q.DeliveryCharge = p.DeliveryFee
	}

	q.Total = q.Subtotal - q.Discount + q.TaxPrimary + q.TaxSecondary + q.DeliveryCharge
	return q
}
