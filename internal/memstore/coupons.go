package memstore

import (
	"context"

	"github.com/ariefcatur/go-grocery-orders/internal/coupon"
)

func (s *Store) CouponByCode(_ context.Context, code string) (coupon.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons[coupon.Normalize(code)]
	if !ok {
		return coupon.Coupon{}, notFound("coupon", code)
	}
	return c, nil
}

func (s *Store) CountUserRedemptions(_ context.Context, couponID, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countUser(couponID, userID), nil
}

func (s *Store) countUser(couponID, userID string) int {
	n := 0
	for _, r := range s.redeemed {
		if r.CouponID == couponID && r.UserID == userID {
			n++
		}
	}
	return n
}

func (s *Store) Redeem(_ context.Context, r coupon.Redemption) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failing(OpRedeem); err != nil {
		return false, err
	}
	for _, prev := range s.redeemed {
		if r.OrderID != "" && prev.OrderID == r.OrderID {
			return true, nil
		}
	}
	for code, c := range s.coupons {
		if c.ID != r.CouponID {
			continue
		}
		if c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit {
			return false, nil
		}
		if c.PerUserLimit > 0 && s.countUser(c.ID, r.UserID) >= c.PerUserLimit {
			return false, nil
		}
		c.UsedCount++
		s.coupons[code] = c
		s.redeemed = append(s.redeemed, r)
		return true, nil
	}
	return false, nil
}
