package memstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ariefcatur/go-grocery-orders/internal/coupon"
	"github.com/ariefcatur/go-grocery-orders/internal/inventory"
	"github.com/ariefcatur/go-grocery-orders/internal/orders"
	"github.com/ariefcatur/go-grocery-orders/internal/slots"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveStock_ConcurrentRequestsNeverOversell(t *testing.T) {
	s := New()
	s.PutProduct(inventory.Product{ID: "p1", Name: "Milk", Price: 1000, StockQuantity: 5, Active: true})

	var wg sync.WaitGroup
	var won atomic.Int32
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.ReserveStock(context.Background(), inventory.Reservation{
				ProductID: "p1", Quantity: 3, OrderID: "o" + string(rune('a'+i)), OrderItemID: "i" + string(rune('a'+i)),
			})
			assert.NoError(t, err)
			if ok {
				won.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), won.Load())
	p := s.Product("p1")
	assert.Equal(t, 2, p.StockQuantity)
	assert.Equal(t, 3, p.SoldCount)
}

func TestRestoreStock_OncePerItem(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.PutProduct(inventory.Product{ID: "p1", StockQuantity: 10, Active: true})
	r := inventory.Reservation{ProductID: "p1", Quantity: 4, OrderID: "o1", OrderItemID: "i1"}

	ok, err := s.ReserveStock(ctx, r)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.RestoreStock(ctx, r, inventory.ReasonOrderCancelled)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.RestoreStock(ctx, r, inventory.ReasonOrderCancelled)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 10, s.Product("p1").StockQuantity)
	logs, err := s.LogsForOrder(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, inventory.LogSale, logs[0].Type)
	assert.Equal(t, -4, logs[0].Quantity)
	assert.Equal(t, inventory.LogAdjustment, logs[1].Type)
	assert.Equal(t, 4, logs[1].Quantity)
	assert.Equal(t, 6, logs[1].PreviousQuantity)
}

func TestReserveStock_SameItemHoldsOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.PutProduct(inventory.Product{ID: "p1", Name: "Milk", Price: 1000, StockQuantity: 5, Active: true})
	res := inventory.Reservation{ProductID: "p1", Quantity: 3, OrderID: "o1", OrderItemID: "i1"}

	ok, err := s.ReserveStock(ctx, res)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.ReserveStock(ctx, res)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, s.Product("p1").StockQuantity)
}

func TestRestoreStock_WithoutSaleIsNoop(t *testing.T) {
	s := New()
	s.PutProduct(inventory.Product{ID: "p1", StockQuantity: 3, Active: true})
	ok, err := s.RestoreStock(context.Background(), inventory.Reservation{ProductID: "p1", Quantity: 2, OrderID: "o1", OrderItemID: "i1"}, "x")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, s.Product("p1").StockQuantity)
}

func TestSlot_ReserveToCapacityAndReleaseOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.PutSlot(slots.Slot{ID: "s1", Date: day, Kind: slots.KindStandard, Capacity: 1, Active: true})

	ok, err := s.ReserveSlot(ctx, "s1", "o1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.ReserveSlot(ctx, "s1", "o2")
	require.NoError(t, err)
	assert.False(t, ok)

	list, err := s.ListAvailable(ctx, day, "")
	require.NoError(t, err)
	assert.Empty(t, list)

	ok, err = s.ReleaseSlot(ctx, "o1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.ReleaseSlot(ctx, "o1")
	require.NoError(t, err)
	assert.False(t, ok)

	sl, err := s.Slot(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, sl.BookedCount)
	assert.True(t, sl.Available)
}

func TestRedeem_ConcurrentNeverExceedsLimit(t *testing.T) {
	s := New()
	s.PutCoupon(coupon.Coupon{ID: "c1", Code: "save10", Type: coupon.Fixed, UsageLimit: 3, Active: true})

	var wg sync.WaitGroup
	var won atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.Redeem(context.Background(), coupon.Redemption{ID: newID(), CouponID: "c1", UserID: "u" + string(rune('0'+i)), OrderID: "o" + string(rune('0'+i))})
			assert.NoError(t, err)
			if ok {
				won.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(3), won.Load())
	c, err := s.CouponByCode(context.Background(), "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, 3, c.UsedCount)
	assert.Len(t, s.Redemptions(), 3)
}

func TestRedeem_SameOrderCountsOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.PutCoupon(coupon.Coupon{ID: "c1", Code: "save10", Type: coupon.Fixed, UsageLimit: 1, Active: true})

	ok, err := s.Redeem(ctx, coupon.Redemption{ID: newID(), CouponID: "c1", UserID: "u1", OrderID: "o1"})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Redeem(ctx, coupon.Redemption{ID: newID(), CouponID: "c1", UserID: "u1", OrderID: "o1"})
	require.NoError(t, err)
	assert.True(t, ok)

	c, err := s.CouponByCode(ctx, "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, 1, c.UsedCount)
	assert.Len(t, s.Redemptions(), 1)

	ok, err = s.Redeem(ctx, coupon.Redemption{ID: newID(), CouponID: "c1", UserID: "u2", OrderID: "o2"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTransition_Conditional(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.InsertOrder(ctx, &orders.Order{ID: "o1", OrderNumber: "N1", Status: orders.StatusPending}))

	ok, err := s.Transition(ctx, orders.Transition{OrderID: "o1", From: orders.Cancellable(), To: orders.StatusCancelled, Actor: orders.ActorCustomer})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Transition(ctx, orders.Transition{OrderID: "o1", From: orders.Cancellable(), To: orders.StatusCancelled, Actor: orders.ActorCustomer})
	require.NoError(t, err)
	assert.False(t, ok)

	h, err := s.History(ctx, "o1")
	require.NoError(t, err)
	assert.Len(t, h, 1)
}

func TestInsertOrder_IdempotencyKeyConflict(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.InsertOrder(ctx, &orders.Order{ID: "o1", OrderNumber: "N1", UserID: "u1", IdempotencyKey: "k"}))
	err := s.InsertOrder(ctx, &orders.Order{ID: "o2", OrderNumber: "N2", UserID: "u1", IdempotencyKey: "k"})
	assert.ErrorIs(t, err, orders.ErrAlreadyExists)

	o, err := s.OrderByIdempotencyKey(ctx, "u1", "k")
	require.NoError(t, err)
	assert.Equal(t, "o1", o.ID)
}

func TestListByUser_HidesFlagged(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.InsertOrder(ctx, &orders.Order{ID: "o1", OrderNumber: "N1", UserID: "u1"}))
	require.NoError(t, s.InsertOrder(ctx, &orders.Order{ID: "o2", OrderNumber: "N2", UserID: "u1"}))
	require.NoError(t, s.FlagForReconciliation(ctx, "o2", "reserve_stock: boom"))

	list, err := s.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "o1", list[0].ID)
}
