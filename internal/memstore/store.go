// Package memstore is a mutex-guarded in-memory implementation of every repository the order
// pipeline uses. Each conditional write holds the lock for its whole check-and-set, mirroring
// the single-statement writes of the postgres store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-grocery-orders/internal/apperr"
	"github.com/ariefcatur/go-grocery-orders/internal/coupon"
	"github.com/ariefcatur/go-grocery-orders/internal/inventory"
	"github.com/ariefcatur/go-grocery-orders/internal/orders"
	"github.com/ariefcatur/go-grocery-orders/internal/slots"
	"github.com/google/uuid"
)

// Operation names accepted by Fail.
const (
	OpInsertOrder   = "InsertOrder"
	OpInsertItems   = "InsertItems"
	OpReserveStock  = "ReserveStock"
	OpRestoreStock  = "RestoreStock"
	OpReserveSlot   = "ReserveSlot"
	OpReleaseSlot   = "ReleaseSlot"
	OpRedeem        = "Redeem"
	OpAppendHistory = "AppendHistory"
	OpClearCart     = "ClearCart"
	OpSetPayment    = "SetPaymentStatus"
)

type slotHold struct {
	slotID   string
	released bool
}

type Store struct {
	mu sync.Mutex

	products  map[string]inventory.Product
	invLogs   []inventory.LogEntry
	slots     map[string]slots.Slot
	holds     map[string]slotHold // by order id
	coupons   map[string]coupon.Coupon
	redeemed  []coupon.Redemption
	addresses map[string]orders.Address
	orders    map[string]orders.Order
	items     map[string][]orders.OrderItem
	history   map[string][]orders.HistoryEntry
	failures  []orders.PartialFailure
	carts     map[string][]string

	fail map[string]error
	Now  func() time.Time
}

func New() *Store {
	return &Store{
		products:  map[string]inventory.Product{},
		slots:     map[string]slots.Slot{},
		holds:     map[string]slotHold{},
		coupons:   map[string]coupon.Coupon{},
		addresses: map[string]orders.Address{},
		orders:    map[string]orders.Order{},
		items:     map[string][]orders.OrderItem{},
		history:   map[string][]orders.HistoryEntry{},
		carts:     map[string][]string{},
		fail:      map[string]error{},
		Now:       time.Now,
	}
}

// Fail makes every later call of op return err until Heal(op).
func (s *Store) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[op] = err
}

func (s *Store) Heal(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fail, op)
}

// failing must be called with mu held.
func (s *Store) failing(op string) error { return s.fail[op] }

// Seeding and inspection helpers.

func (s *Store) PutProduct(p inventory.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *Store) Product(id string) inventory.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id]
}

func (s *Store) PutSlot(sl slots.Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl.Available = sl.Active && sl.BookedCount < sl.Capacity
	s.slots[sl.ID] = sl
}

func (s *Store) PutCoupon(c coupon.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Code = coupon.Normalize(c.Code)
	s.coupons[c.Code] = c
}

func (s *Store) PutAddress(a orders.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addresses[a.ID] = a
}

// PutCart records which products a user has in the cart so Clear is observable.
func (s *Store) PutCart(userID string, productIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts[userID] = productIDs
}

func (s *Store) CartSize(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.carts[userID])
}

func (s *Store) Clear(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failing(OpClearCart); err != nil {
		return err
	}
	delete(s.carts, userID)
	return nil
}

func (s *Store) PartialFailures() []orders.PartialFailure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]orders.PartialFailure(nil), s.failures...)
}

func (s *Store) Redemptions() []coupon.Redemption {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]coupon.Redemption(nil), s.redeemed...)
}

func newID() string { return uuid.NewString() }

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func notFound(entity, id string) error { return apperr.NotFound(entity, id) }
