package memstore

import (
	"context"
	"time"

	"github.com/ariefcatur/go-grocery-orders/internal/slots"
)

func (s *Store) Slot(_ context.Context, id string) (slots.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[id]
	if !ok {
		return slots.Slot{}, notFound("delivery slot", id)
	}
	return sl, nil
}

func (s *Store) ListAvailable(_ context.Context, date time.Time, kind string) ([]slots.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	y, m, d := date.Date()
	var out []slots.Slot
	for _, id := range sortedKeys(s.slots) {
		sl := s.slots[id]
		sy, sm, sd := sl.Date.Date()
		if sy != y || sm != m || sd != d {
			continue
		}
		if kind != "" && sl.Kind != kind {
			continue
		}
		if sl.Open() {
			out = append(out, sl)
		}
	}
	return out, nil
}

func (s *Store) ReserveSlot(_ context.Context, slotID, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failing(OpReserveSlot); err != nil {
		return false, err
	}
	if _, held := s.holds[orderID]; held {
		return true, nil
	}
	sl, ok := s.slots[slotID]
	if !ok || !sl.Open() {
		return false, nil
	}
	sl.BookedCount++
	sl.Available = sl.BookedCount < sl.Capacity
	s.slots[slotID] = sl
	s.holds[orderID] = slotHold{slotID: slotID}
	return true, nil
}

func (s *Store) ReleaseSlot(_ context.Context, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failing(OpReleaseSlot); err != nil {
		return false, err
	}
	h, ok := s.holds[orderID]
	if !ok || h.released {
		return false, nil
	}
	h.released = true
	s.holds[orderID] = h
	sl := s.slots[h.slotID]
	if sl.BookedCount > 0 {
		sl.BookedCount--
	}
	sl.Available = sl.Active && sl.BookedCount < sl.Capacity
	s.slots[h.slotID] = sl
	return true, nil
}
