package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/ariefcatur/go-grocery-orders/internal/orders"
)

func (s *Store) Address(_ context.Context, userID, addressID string) (orders.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.addresses[addressID]
	if !ok || a.UserID != userID {
		return orders.Address{}, notFound("address", addressID)
	}
	return a, nil
}

func (s *Store) InsertOrder(_ context.Context, o *orders.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failing(OpInsertOrder); err != nil {
		return err
	}
	for _, existing := range s.orders {
		if existing.ID == o.ID || existing.OrderNumber == o.OrderNumber {
			return orders.ErrAlreadyExists
		}
		if o.IdempotencyKey != "" && existing.UserID == o.UserID && existing.IdempotencyKey == o.IdempotencyKey {
			return orders.ErrAlreadyExists
		}
	}
	cp := *o
	cp.Items = nil
	s.orders[o.ID] = cp
	return nil
}

func (s *Store) InsertItems(_ context.Context, items []orders.OrderItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failing(OpInsertItems); err != nil {
		return err
	}
	for _, it := range items {
		s.items[it.OrderID] = append(s.items[it.OrderID], it)
	}
	return nil
}

func (s *Store) Order(_ context.Context, id string) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, notFound("order", id)
	}
	return &o, nil
}

func (s *Store) OrderByIdempotencyKey(_ context.Context, userID, key string) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.UserID == userID && o.IdempotencyKey == key {
			return &o, nil
		}
	}
	return nil, notFound("order", key)
}

func (s *Store) Items(_ context.Context, orderID string) ([]orders.OrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]orders.OrderItem(nil), s.items[orderID]...), nil
}

func (s *Store) ListByUser(_ context.Context, userID string) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []orders.Order{}
	for _, o := range s.orders {
		if o.UserID == userID && !o.NeedsReconciliation {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) Transition(_ context.Context, t orders.Transition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[t.OrderID]
	if !ok {
		return false, notFound("order", t.OrderID)
	}
	if !statusIn(o.Status, t.From) || (t.Unflagged && o.NeedsReconciliation) {
		return false, nil
	}
	now := s.Now()
	o.Status = t.To
	o.UpdatedAt = now
	s.orders[o.ID] = o
	s.history[o.ID] = append(s.history[o.ID], orders.HistoryEntry{
		ID: newID(), OrderID: o.ID, Status: t.To, Note: t.Note, Actor: t.Actor, CreatedAt: now,
	})
	return true, nil
}

func statusIn(st orders.Status, set []orders.Status) bool {
	for _, x := range set {
		if st == x {
			return true
		}
	}
	return false
}

func (s *Store) SetPaymentStatus(_ context.Context, p orders.PaymentUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failing(OpSetPayment); err != nil {
		return false, err
	}
	o, ok := s.orders[p.OrderID]
	if !ok {
		return false, notFound("order", p.OrderID)
	}
	match := false
	for _, f := range p.From {
		if o.PaymentStatus == f {
			match = true
		}
	}
	if !match {
		return false, nil
	}
	o.PaymentStatus = p.To
	if p.PaymentRef != "" {
		o.PaymentRef = p.PaymentRef
	}
	if p.RefundAmount > 0 {
		o.RefundAmount = p.RefundAmount
	}
	o.UpdatedAt = s.Now()
	s.orders[o.ID] = o
	return true, nil
}

func (s *Store) AppendHistory(_ context.Context, e orders.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failing(OpAppendHistory); err != nil {
		return err
	}
	s.history[e.OrderID] = append(s.history[e.OrderID], e)
	return nil
}

func (s *Store) History(_ context.Context, orderID string) ([]orders.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]orders.HistoryEntry(nil), s.history[orderID]...), nil
}

func (s *Store) FlagForReconciliation(_ context.Context, orderID, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return notFound("order", orderID)
	}
	o.NeedsReconciliation = true
	o.ReconciliationNote = note
	s.orders[orderID] = o
	return nil
}

func (s *Store) RecordPartialFailure(_ context.Context, f orders.PartialFailure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, f)
	return nil
}

func (s *Store) OpenPartialFailures(_ context.Context, limit int) ([]orders.PartialFailure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []orders.PartialFailure
	for _, f := range s.failures {
		if f.ResolvedAt != nil {
			continue
		}
		out = append(out, f)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ResolvePartialFailure(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.failures {
		if s.failures[i].ID == id && s.failures[i].ResolvedAt == nil {
			now := s.Now()
			s.failures[i].ResolvedAt = &now
			return nil
		}
	}
	return nil
}

func (s *Store) HeadlessOrders(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id, o := range s.orders {
		if o.Status == orders.StatusPending && o.CreatedAt.Before(cutoff) && len(s.items[id]) == 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}
