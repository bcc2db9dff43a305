package memstore

import (
	"context"

	"github.com/ariefcatur/go-grocery-orders/internal/inventory"
)

func (s *Store) Products(_ context.Context, ids []string) (map[string]inventory.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]inventory.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (s *Store) ReserveStock(_ context.Context, r inventory.Reservation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failing(OpReserveStock); err != nil {
		return false, err
	}
	for _, e := range s.invLogs {
		if r.OrderItemID != "" && e.OrderItemID == r.OrderItemID && e.Type == inventory.LogSale {
			return true, nil
		}
	}
	p, ok := s.products[r.ProductID]
	if !ok || !p.Active || r.Quantity <= 0 || p.StockQuantity < r.Quantity {
		return false, nil
	}
	prev := p.StockQuantity
	p.StockQuantity -= r.Quantity
	p.SoldCount += r.Quantity
	p.UpdatedAt = s.Now()
	s.products[p.ID] = p
	s.invLogs = append(s.invLogs, inventory.LogEntry{
		ID: newID(), ProductID: p.ID, Type: inventory.LogSale, Quantity: -r.Quantity,
		PreviousQuantity: prev, NewQuantity: p.StockQuantity, Reason: inventory.ReasonOrderPlaced,
		OrderID: r.OrderID, OrderItemID: r.OrderItemID, CreatedAt: s.Now(),
	})
	return true, nil
}

// RestoreStock gives back exactly the quantity of the sale entry for r.OrderItemID.
func (s *Store) RestoreStock(_ context.Context, r inventory.Reservation, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failing(OpRestoreStock); err != nil {
		return false, err
	}
	var sale *inventory.LogEntry
	for i := range s.invLogs {
		e := &s.invLogs[i]
		if e.OrderItemID != r.OrderItemID || e.OrderID != r.OrderID {
			continue
		}
		if e.Type == inventory.LogAdjustment && e.Quantity > 0 {
			return false, nil
		}
		if e.Type == inventory.LogSale {
			sale = e
		}
	}
	if sale == nil {
		return false, nil
	}
	qty := -sale.Quantity
	p := s.products[sale.ProductID]
	prev := p.StockQuantity
	p.StockQuantity += qty
	p.SoldCount -= qty
	if p.SoldCount < 0 {
		p.SoldCount = 0
	}
	p.UpdatedAt = s.Now()
	s.products[p.ID] = p
	s.invLogs = append(s.invLogs, inventory.LogEntry{
		ID: newID(), ProductID: p.ID, Type: inventory.LogAdjustment, Quantity: qty,
		PreviousQuantity: prev, NewQuantity: p.StockQuantity, Reason: reason,
		OrderID: r.OrderID, OrderItemID: r.OrderItemID, CreatedAt: s.Now(),
	})
	return true, nil
}

func (s *Store) LogsForOrder(_ context.Context, orderID string) ([]inventory.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []inventory.LogEntry
	for _, e := range s.invLogs {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}
