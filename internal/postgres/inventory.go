package postgres

import (
	"context"

	"github.com/ariefcatur/go-grocery-orders/internal/inventory"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type InventoryRepo struct{ DB *pgxpool.Pool }

func (r *InventoryRepo) Products(ctx context.Context, ids []string) (map[string]inventory.Product, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, name, price_cents, tax_rate, stock_quantity, sold_count,
		       min_order_quantity, max_order_quantity, active, updated_at
		FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]inventory.Product, len(ids))
	for rows.Next() {
		var p inventory.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.TaxRate, &p.StockQuantity, &p.SoldCount,
			&p.MinOrderQuantity, &p.MaxOrderQuantity, &p.Active, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

// ReserveStock decrements and logs in one statement; the WHERE clause is the stock check.
func (r *InventoryRepo) ReserveStock(ctx context.Context, res inventory.Reservation) (bool, error) {
	tag, err := r.DB.Exec(ctx, `
		WITH upd AS (
			UPDATE products
			SET stock_quantity = stock_quantity - $2::int,
			    sold_count     = sold_count + $2::int,
			    updated_at     = now()
			WHERE id = $1 AND active AND $2::int > 0 AND stock_quantity >= $2::int
			RETURNING id, stock_quantity
		)
		INSERT INTO inventory_logs (id, product_id, type, quantity, previous_quantity, new_quantity, reason, order_id, order_item_id)
		SELECT $3, id, 'sale', -$2::int, stock_quantity + $2::int, stock_quantity, $4, $5, $6 FROM upd`,
		res.ProductID, res.Quantity, uuid.NewString(), inventory.ReasonOrderPlaced, res.OrderID, res.OrderItemID)
	if isUniqueViolation(err) {
		// this item already holds its stock; the statement rolled back
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	// no stock left, unless an earlier attempt already took it for this item
	return exists(ctx, r.DB, `SELECT EXISTS (SELECT 1 FROM inventory_logs WHERE order_item_id = $1 AND type = 'sale')`, res.OrderItemID)
}

// RestoreStock reads the reserved quantity from the sale entry. The partial unique index on
// compensation entries turns a concurrent second restore into a rolled back no-op.
func (r *InventoryRepo) RestoreStock(ctx context.Context, res inventory.Reservation, reason string) (bool, error) {
	tag, err := r.DB.Exec(ctx, `
		WITH sale AS (
			SELECT product_id, -quantity AS qty
			FROM inventory_logs
			WHERE order_item_id = $1 AND order_id = $2 AND type = 'sale'
			  AND NOT EXISTS (
				SELECT 1 FROM inventory_logs c
				WHERE c.order_item_id = $1 AND c.type = 'adjustment' AND c.quantity > 0
			  )
		), upd AS (
			UPDATE products p
			SET stock_quantity = p.stock_quantity + sale.qty,
			    sold_count     = GREATEST(p.sold_count - sale.qty, 0),
			    updated_at     = now()
			FROM sale
			WHERE p.id = sale.product_id
			RETURNING p.id, p.stock_quantity, sale.qty
		)
		INSERT INTO inventory_logs (id, product_id, type, quantity, previous_quantity, new_quantity, reason, order_id, order_item_id)
		SELECT $3, id, 'adjustment', qty, stock_quantity - qty, stock_quantity, $4, $2, $1 FROM upd`,
		res.OrderItemID, res.OrderID, uuid.NewString(), reason)
	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *InventoryRepo) LogsForOrder(ctx context.Context, orderID string) ([]inventory.LogEntry, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, product_id, type, quantity, previous_quantity, new_quantity, reason,
		       COALESCE(order_id, ''), COALESCE(order_item_id, ''), created_at
		FROM inventory_logs WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []inventory.LogEntry
	for rows.Next() {
		var e inventory.LogEntry
		var typ string
		if err := rows.Scan(&e.ID, &e.ProductID, &typ, &e.Quantity, &e.PreviousQuantity, &e.NewQuantity,
			&e.Reason, &e.OrderID, &e.OrderItemID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = inventory.LogType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}
