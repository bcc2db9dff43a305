package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ariefcatur/go-grocery-orders/internal/orders"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type OrderRepo struct{ DB *pgxpool.Pool }

const orderColumns = `id, order_number, user_id, status, payment_status, payment_method, payment_ref,
	subtotal_cents, discount_cents, tax_primary_cents, tax_secondary_cents, delivery_charge_cents,
	total_cents, refund_amount_cents, slot_id, address, coupon_code, COALESCE(idempotency_key, ''),
	needs_reconciliation, reconciliation_note, created_at, updated_at`

func scanOrder(row pgx.Row) (*orders.Order, error) {
	var (
		o                        orders.Order
		status, payStatus, payBy string
		addr                     []byte
	)
	if err := row.Scan(&o.ID, &o.OrderNumber, &o.UserID, &status, &payStatus, &payBy, &o.PaymentRef,
		&o.Subtotal, &o.Discount, &o.TaxPrimary, &o.TaxSecondary, &o.DeliveryCharge,
		&o.Total, &o.RefundAmount, &o.SlotID, &addr, &o.CouponCode, &o.IdempotencyKey,
		&o.NeedsReconciliation, &o.ReconciliationNote, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Status = orders.Status(status)
	o.PaymentStatus = orders.PaymentStatus(payStatus)
	o.PaymentMethod = orders.PaymentMethod(payBy)
	if err := json.Unmarshal(addr, &o.Address); err != nil {
		return nil, fmt.Errorf("decode address: %w", err)
	}
	return &o, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *OrderRepo) InsertOrder(ctx context.Context, o *orders.Order) error {
	addr, err := json.Marshal(o.Address)
	if err != nil {
		return err
	}
	_, err = r.DB.Exec(ctx, `
		INSERT INTO orders (id, order_number, user_id, status, payment_status, payment_method, payment_ref,
			subtotal_cents, discount_cents, tax_primary_cents, tax_secondary_cents, delivery_charge_cents,
			total_cents, slot_id, address, coupon_code, idempotency_key, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$18)`,
		o.ID, o.OrderNumber, o.UserID, string(o.Status), string(o.PaymentStatus), string(o.PaymentMethod), o.PaymentRef,
		int64(o.Subtotal), int64(o.Discount), int64(o.TaxPrimary), int64(o.TaxSecondary), int64(o.DeliveryCharge),
		int64(o.Total), o.SlotID, addr, o.CouponCode, nullable(o.IdempotencyKey), o.CreatedAt)
	if isUniqueViolation(err) {
		return orders.ErrAlreadyExists
	}
	return err
}

// InsertItems writes all rows in one transaction so an order never has only some of its items.
func (r *OrderRepo) InsertItems(ctx context.Context, items []orders.OrderItem) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(`
			INSERT INTO order_items (id, order_id, product_id, product_name, quantity,
				unit_price_cents, line_total_cents, tax_rate, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			it.ID, it.OrderID, it.ProductID, it.ProductName, it.Quantity,
			int64(it.UnitPrice), int64(it.LineTotal), it.TaxRate, it.CreatedAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *OrderRepo) Order(ctx context.Context, id string) (*orders.Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "order", id)
	}
	return o, nil
}

func (r *OrderRepo) OrderByIdempotencyKey(ctx context.Context, userID, key string) (*orders.Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 AND idempotency_key = $2`, userID, key))
	if err != nil {
		return nil, notFound(err, "order", key)
	}
	return o, nil
}

func (r *OrderRepo) Items(ctx context.Context, orderID string) ([]orders.OrderItem, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, product_id, product_name, quantity, unit_price_cents, line_total_cents, tax_rate, created_at
		FROM order_items WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.OrderItem
	for rows.Next() {
		var it orders.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.Quantity,
			&it.UnitPrice, &it.LineTotal, &it.TaxRate, &it.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *OrderRepo) ListByUser(ctx context.Context, userID string) ([]orders.Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE user_id = $1 AND NOT needs_reconciliation
		ORDER BY created_at DESC LIMIT 200`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []orders.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func statusStrings(ss []orders.Status) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

// Transition updates the status and appends the history row in the same statement.
func (r *OrderRepo) Transition(ctx context.Context, t orders.Transition) (bool, error) {
	tag, err := r.DB.Exec(ctx, `
		WITH upd AS (
			UPDATE orders SET status = $2, updated_at = now()
			WHERE id = $1 AND status = ANY($3) AND (NOT $4::bool OR NOT needs_reconciliation)
			RETURNING id, status
		)
		INSERT INTO order_status_history (id, order_id, status, note, actor, created_at)
		SELECT $5, id, status, $6, $7, now() FROM upd`,
		t.OrderID, string(t.To), statusStrings(t.From), t.Unflagged, uuid.NewString(), t.Note, t.Actor)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *OrderRepo) SetPaymentStatus(ctx context.Context, p orders.PaymentUpdate) (bool, error) {
	from := make([]string, len(p.From))
	for i, s := range p.From {
		from[i] = string(s)
	}
	tag, err := r.DB.Exec(ctx, `
		UPDATE orders
		SET payment_status      = $2,
		    payment_ref         = COALESCE(NULLIF($3, ''), payment_ref),
		    refund_amount_cents = CASE WHEN $4::bigint > 0 THEN $4::bigint ELSE refund_amount_cents END,
		    updated_at          = now()
		WHERE id = $1 AND payment_status = ANY($5)`,
		p.OrderID, string(p.To), p.PaymentRef, int64(p.RefundAmount), from)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *OrderRepo) AppendHistory(ctx context.Context, e orders.HistoryEntry) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO order_status_history (id, order_id, status, note, actor, created_at)
		VALUES ($1,$2,$3,$4,$5,$6) ON CONFLICT (id) DO NOTHING`,
		e.ID, e.OrderID, string(e.Status), e.Note, e.Actor, e.CreatedAt)
	return err
}

func (r *OrderRepo) History(ctx context.Context, orderID string) ([]orders.HistoryEntry, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, status, note, actor, created_at
		FROM order_status_history WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.HistoryEntry
	for rows.Next() {
		var e orders.HistoryEntry
		var st string
		if err := rows.Scan(&e.ID, &e.OrderID, &st, &e.Note, &e.Actor, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Status = orders.Status(st)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *OrderRepo) FlagForReconciliation(ctx context.Context, orderID, note string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE orders SET needs_reconciliation = TRUE, reconciliation_note = $2, updated_at = now()
		WHERE id = $1`, orderID, note)
	return err
}

func (r *OrderRepo) RecordPartialFailure(ctx context.Context, f orders.PartialFailure) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO partial_failures (id, order_id, step, order_item_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		f.ID, f.OrderID, f.Step, f.OrderItemID, f.Detail, f.CreatedAt)
	return err
}

func (r *OrderRepo) OpenPartialFailures(ctx context.Context, limit int) ([]orders.PartialFailure, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, step, order_item_id, detail, created_at
		FROM partial_failures WHERE resolved_at IS NULL
		ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.PartialFailure
	for rows.Next() {
		var f orders.PartialFailure
		if err := rows.Scan(&f.ID, &f.OrderID, &f.Step, &f.OrderItemID, &f.Detail, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *OrderRepo) ResolvePartialFailure(ctx context.Context, id string) error {
	_, err := r.DB.Exec(ctx, `UPDATE partial_failures SET resolved_at = now() WHERE id = $1 AND resolved_at IS NULL`, id)
	return err
}

func (r *OrderRepo) HeadlessOrders(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT o.id FROM orders o
		WHERE o.status = 'pending' AND o.created_at < $1
		  AND NOT EXISTS (SELECT 1 FROM order_items i WHERE i.order_id = o.id)
		ORDER BY o.created_at LIMIT 100`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

type AddressRepo struct{ DB *pgxpool.Pool }

func (r *AddressRepo) Address(ctx context.Context, userID, addressID string) (orders.Address, error) {
	var a orders.Address
	err := r.DB.QueryRow(ctx, `
		SELECT id, user_id, name, phone, line1, line2, city, state, postal_code
		FROM addresses WHERE id = $1 AND user_id = $2`, addressID, userID).
		Scan(&a.ID, &a.UserID, &a.Name, &a.Phone, &a.Line1, &a.Line2, &a.City, &a.State, &a.PostalCode)
	if err != nil {
		return orders.Address{}, notFound(err, "address", addressID)
	}
	return a, nil
}
