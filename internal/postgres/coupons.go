package postgres

import (
	"context"
	"database/sql"

	"github.com/ariefcatur/go-grocery-orders/internal/coupon"
	"github.com/ariefcatur/go-grocery-orders/internal/pricing"
	"github.com/jackc/pgx/v5/pgxpool"
)

type CouponRepo struct{ DB *pgxpool.Pool }

func (r *CouponRepo) CouponByCode(ctx context.Context, code string) (coupon.Coupon, error) {
	var (
		c        coupon.Coupon
		typ      string
		maxDisc  sql.NullInt64
		from, to sql.NullTime
	)
	err := r.DB.QueryRow(ctx, `
		SELECT id, code, discount_type, value, max_discount_cents, min_order_cents,
		       usage_limit, used_count, per_user_limit, valid_from, valid_until, active
		FROM coupons WHERE upper(code) = $1`, coupon.Normalize(code)).
		Scan(&c.ID, &c.Code, &typ, &c.Value, &maxDisc, &c.MinOrderAmount,
			&c.UsageLimit, &c.UsedCount, &c.PerUserLimit, &from, &to, &c.Active)
	if err != nil {
		return coupon.Coupon{}, notFound(err, "coupon", code)
	}
	c.Type = coupon.DiscountType(typ)
	c.Code = coupon.Normalize(c.Code)
	if maxDisc.Valid {
		m := pricing.Money(maxDisc.Int64)
		c.MaxDiscount = &m
	}
	if from.Valid {
		c.ValidFrom = from.Time
	}
	if to.Valid {
		c.ValidUntil = to.Time
	}
	return c, nil
}

func (r *CouponRepo) CountUserRedemptions(ctx context.Context, couponID, userID string) (int, error) {
	var n int
	err := r.DB.QueryRow(ctx, `SELECT count(*) FROM coupon_usages WHERE coupon_id = $1 AND user_id = $2`, couponID, userID).Scan(&n)
	return n, err
}

// Redeem bumps used_count under the limit and appends the usage row in one statement.
// coupon_usages.order_id is unique, so a replay for the same order reports success.
func (r *CouponRepo) Redeem(ctx context.Context, red coupon.Redemption) (bool, error) {
	tag, err := r.DB.Exec(ctx, `
		WITH upd AS (
			UPDATE coupons SET used_count = used_count + 1
			WHERE id = $1
			  AND (usage_limit <= 0 OR used_count < usage_limit)
			  AND (per_user_limit <= 0 OR
			       (SELECT count(*) FROM coupon_usages WHERE coupon_id = $1 AND user_id = $2) < per_user_limit)
			RETURNING id
		)
		INSERT INTO coupon_usages (id, coupon_id, user_id, order_id, discount_cents, used_at)
		SELECT $3, id, $2, $4, $5, $6 FROM upd`,
		red.CouponID, red.UserID, red.ID, red.OrderID, int64(red.Discount), red.UsedAt)
	if isUniqueViolation(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return exists(ctx, r.DB, `SELECT EXISTS (SELECT 1 FROM coupon_usages WHERE order_id = $1)`, red.OrderID)
}
