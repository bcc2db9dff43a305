package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/ariefcatur/go-grocery-orders/internal/pricing"
	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	Percentage   DiscountType = "percentage"
	Fixed        DiscountType = "fixed"
	FreeDelivery DiscountType = "free_delivery"
)

type Coupon struct {
	ID    string
	Code  string
	Type  DiscountType
	Value decimal.Decimal // percent for Percentage, major currency units for Fixed
	// MaxDiscount caps percentage discounts; nil means uncapped.
	MaxDiscount    *pricing.Money
	MinOrderAmount pricing.Money
	UsageLimit     int // <= 0: unlimited
	UsedCount      int
	PerUserLimit   int // <= 0: unlimited
	ValidFrom      time.Time
	ValidUntil     time.Time
	Active         bool
}

// Redemption is one row of coupon usage history.
type Redemption struct {
	ID       string
	CouponID string
	UserID   string
	OrderID  string
	Discount pricing.Money
	UsedAt   time.Time
}

type Repository interface {
	CouponByCode(ctx context.Context, code string) (Coupon, error)
	CountUserRedemptions(ctx context.Context, couponID, userID string) (int, error)
	// Redeem appends the usage row and increments used_count in one conditional write.
	// It returns false when usage_limit (or the per-user limit) was reached meanwhile.
	Redeem(ctx context.Context, r Redemption) (bool, error)
}

// Normalize makes codes case-insensitive.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Amount computes the monetary discount of c against subtotal. It is clamped to the subtotal.
func Amount(c Coupon, subtotal pricing.Money) pricing.Money {
	var d pricing.Money
	switch c.Type {
	case Percentage:
		d = pricing.Percent(subtotal, c.Value)
		if c.MaxDiscount != nil && d > *c.MaxDiscount {
			d = *c.MaxDiscount
		}
	case Fixed:
		d = pricing.FromDecimal(c.Value)
	case FreeDelivery:
		d = 0
	}
	if d > subtotal {
		d = subtotal
	}
	if d < 0 {
		d = 0
	}
	return d
}
