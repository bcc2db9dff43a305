package postgres

import (
	"context"
	"time"

	"github.com/ariefcatur/go-grocery-orders/internal/slots"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SlotRepo struct{ DB *pgxpool.Pool }

const slotColumns = `id, slot_date, start_time, end_time, kind, capacity, booked_count, available, active`

func scanSlot(row pgx.Row) (slots.Slot, error) {
	var s slots.Slot
	err := row.Scan(&s.ID, &s.Date, &s.StartTime, &s.EndTime, &s.Kind, &s.Capacity, &s.BookedCount, &s.Available, &s.Active)
	return s, err
}

func (r *SlotRepo) Slot(ctx context.Context, id string) (slots.Slot, error) {
	s, err := scanSlot(r.DB.QueryRow(ctx, `SELECT `+slotColumns+` FROM delivery_slots WHERE id = $1`, id))
	if err != nil {
		return slots.Slot{}, notFound(err, "delivery slot", id)
	}
	return s, nil
}

func (r *SlotRepo) ListAvailable(ctx context.Context, date time.Time, kind string) ([]slots.Slot, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+slotColumns+` FROM delivery_slots
		WHERE slot_date = $1::date AND active AND booked_count < capacity
		  AND ($2 = '' OR kind = $2)
		ORDER BY start_time, id`, date.Format("2006-01-02"), kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []slots.Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ReserveSlot books one unit of capacity and records the holder. A second reservation for
// the same order hits the slot_reservations key and rolls back.
func (r *SlotRepo) ReserveSlot(ctx context.Context, slotID, orderID string) (bool, error) {
	tag, err := r.DB.Exec(ctx, `
		WITH upd AS (
			UPDATE delivery_slots
			SET booked_count = booked_count + 1,
			    available    = booked_count + 1 < capacity
			WHERE id = $1 AND active AND booked_count < capacity
			RETURNING id
		)
		INSERT INTO slot_reservations (order_id, slot_id) SELECT $2, id FROM upd`, slotID, orderID)
	if isUniqueViolation(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return exists(ctx, r.DB, `SELECT EXISTS (SELECT 1 FROM slot_reservations WHERE order_id = $1 AND released_at IS NULL)`, orderID)
}

func (r *SlotRepo) ReleaseSlot(ctx context.Context, orderID string) (bool, error) {
	tag, err := r.DB.Exec(ctx, `
		WITH rel AS (
			UPDATE slot_reservations SET released_at = now()
			WHERE order_id = $1 AND released_at IS NULL
			RETURNING slot_id
		)
		UPDATE delivery_slots s
		SET booked_count = GREATEST(s.booked_count - 1, 0),
		    available    = s.active AND GREATEST(s.booked_count - 1, 0) < s.capacity
		FROM rel WHERE s.id = rel.slot_id`, orderID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
