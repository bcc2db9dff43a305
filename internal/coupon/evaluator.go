package coupon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-grocery-orders/internal/apperr"
	"github.com/ariefcatur/go-grocery-orders/internal/pricing"
)

type Result struct {
	CouponID     string        `json:"-"`
	Code         string        `json:"code"`
	Discount     pricing.Money `json:"discount"`
	FreeDelivery bool          `json:"free_delivery"`
}

func (r Result) Adjustments() pricing.Adjustments {
	return pricing.Adjustments{Discount: r.Discount, FreeDelivery: r.FreeDelivery}
}

type Evaluator struct {
	Repo Repository
	Now  func() time.Time
}

func NewEvaluator(repo Repository) *Evaluator {
	return &Evaluator{Repo: repo, Now: time.Now}
}

// Evaluate runs the checks in fixed order; the first failure is returned as *apperr.CouponError.
// userID may be empty for a quote without history (ApplyCoupon from an anonymous cart).
func (e *Evaluator) Evaluate(ctx context.Context, code, userID string, subtotal pricing.Money) (Result, error) {
	code = Normalize(code)
	reject := func(reason, detail string) (Result, error) {
		return Result{}, &apperr.CouponError{Code: code, Reason: reason, Detail: detail}
	}

	c, err := e.Repo.CouponByCode(ctx, code)
	if errors.Is(err, apperr.ErrNotFound) {
		return reject(apperr.CouponNotFound, "")
	}
	if err != nil {
		return Result{}, fmt.Errorf("load coupon: %w", err)
	}
	if !c.Active {
		return reject(apperr.CouponInactive, "")
	}

	now := e.Now()
	if !c.ValidFrom.IsZero() && now.Before(c.ValidFrom) {
		return reject(apperr.CouponNotStarted, "")
	}
	if !c.ValidUntil.IsZero() && now.After(c.ValidUntil) {
		return reject(apperr.CouponExpired, "")
	}

	if c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit {
		return reject(apperr.CouponUsageExhausted, "")
	}

	if c.PerUserLimit > 0 && userID != "" {
		n, err := e.Repo.CountUserRedemptions(ctx, c.ID, userID)
		if err != nil {
			return Result{}, fmt.Errorf("count redemptions: %w", err)
		}
		if n >= c.PerUserLimit {
			return reject(apperr.CouponUserLimit, "")
		}
	}

	if subtotal < c.MinOrderAmount {
		return reject(apperr.CouponMinAmount, "minimum order is "+c.MinOrderAmount.String())
	}

	return Result{
		CouponID:     c.ID,
		Code:         c.Code,
		Discount:     Amount(c, subtotal),
		FreeDelivery: c.Type == FreeDelivery,
	}, nil
}
