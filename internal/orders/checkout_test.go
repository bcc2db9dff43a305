package orders_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ariefcatur/go-grocery-orders/internal/apperr"
	"github.com/ariefcatur/go-grocery-orders/internal/cart"
	"github.com/ariefcatur/go-grocery-orders/internal/coupon"
	"github.com/ariefcatur/go-grocery-orders/internal/inventory"
	"github.com/ariefcatur/go-grocery-orders/internal/memstore"
	"github.com/ariefcatur/go-grocery-orders/internal/orders"
	"github.com/ariefcatur/go-grocery-orders/internal/pricing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOrder_ScenarioA(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o := f.place(t, scenarioA(orders.PaymentCOD))

	assert.Equal(t, pricing.Money(4000), o.Subtotal)
	assert.Equal(t, pricing.Money(300), o.Discount)
	assert.Equal(t, pricing.Money(333), o.TaxPrimary)
	assert.Equal(t, pricing.Money(333), o.TaxSecondary)
	assert.Equal(t, pricing.Money(2500), o.DeliveryCharge)
	assert.Equal(t, pricing.Money(6866), o.Total)
	assert.Equal(t, o.Subtotal-o.Discount+o.TaxPrimary+o.TaxSecondary+o.DeliveryCharge, o.Total)
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Equal(t, orders.PaymentPending, o.PaymentStatus)
	assert.Equal(t, "TENOFF", o.CouponCode)
	assert.Contains(t, o.OrderNumber, "ORD-")
	require.Len(t, o.Items, 2)

	assert.Equal(t, 8, f.store.Product("p1").StockQuantity)
	assert.Equal(t, 9, f.store.Product("p2").StockQuantity)
	sl, err := f.store.Slot(ctx, "slot-1")
	require.NoError(t, err)
	assert.Equal(t, 1, sl.BookedCount)
	c, err := f.store.CouponByCode(ctx, "TENOFF")
	require.NoError(t, err)
	assert.Equal(t, 1, c.UsedCount)
	assert.Zero(t, f.store.CartSize("u1"))

	h, err := f.svc.OrderHistory(ctx, o.ID, "u1")
	require.NoError(t, err)
	require.Len(t, h, 1)
	assert.Equal(t, orders.StatusPending, h[0].Status)

	logs, err := f.store.LogsForOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
	assert.Equal(t, []string{orders.TopicOrderCreated}, f.events.topics())
	assert.Empty(t, f.store.PartialFailures())
}

func TestCreateOrder_ValidationIsAggregatedAndWritesNothing(t *testing.T) {
	f := newFixture(t)
	in := scenarioA(orders.PaymentCOD)
	in.Items = []cart.Line{{ProductID: "p1", Quantity: 50}, {ProductID: "ghost", Quantity: 1}}

	_, err := f.svc.CreateOrder(context.Background(), in)
	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Violations, 2)
	assert.Equal(t, 10, f.store.Product("p1").StockQuantity)
	list, _ := f.store.ListByUser(context.Background(), "u1")
	assert.Empty(t, list)
}

func TestCreateOrder_InputChecks(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateOrder(context.Background(), orders.CreateOrderInput{})
	var aerr *apperr.AuthError
	assert.ErrorAs(t, err, &aerr)

	_, err = f.svc.CreateOrder(context.Background(), orders.CreateOrderInput{UserID: "u1", PaymentMethod: "card"})
	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Violations, 3)
}

func TestCreateOrder_ForeignAddressIsNotFound(t *testing.T) {
	f := newFixture(t)
	in := scenarioA(orders.PaymentCOD)
	in.UserID = "u2"
	_, err := f.svc.CreateOrder(context.Background(), in)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCreateOrder_CouponRejectedBeforeWrites(t *testing.T) {
	f := newFixture(t)
	in := scenarioA(orders.PaymentCOD)
	in.CouponCode = "NOPE"
	_, err := f.svc.CreateOrder(context.Background(), in)
	var cerr *apperr.CouponError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, apperr.CouponNotFound, cerr.Reason)
	assert.Equal(t, 10, f.store.Product("p1").StockQuantity)
}

func TestCreateOrder_ConcurrentOrdersForScarceStock(t *testing.T) {
	f := newFixture(t)
	f.store.PutProduct(inventory.Product{ID: "p3", Name: "Eggs", Price: 500, TaxRate: rate18, StockQuantity: 5, Active: true})
	// both checkouts read stock 5 before either reserves, so the race is decided by ReserveStock
	f.svc.Validator = &cart.Validator{Catalog: newBarrierCatalog(f.store, 2)}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.CreateOrder(context.Background(), orders.CreateOrderInput{
				UserID: "u1", AddressID: "addr-1", SlotID: "slot-1", PaymentMethod: orders.PaymentCOD,
				Items: []cart.Line{{ProductID: "p3", Quantity: 3}},
			})
		}(i)
	}
	wg.Wait()

	var ok, stock int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		var serr *apperr.StockError
		if assert.ErrorAs(t, err, &serr) {
			stock++
			assert.Equal(t, "p3", serr.ProductID)
			assert.Equal(t, 2, serr.Available)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, stock)
	assert.Equal(t, 2, f.store.Product("p3").StockQuantity)
}

func TestCreateOrder_InsufficientStockIsStockError(t *testing.T) {
	f := newFixture(t)
	f.store.PutProduct(inventory.Product{ID: "p3", Name: "Eggs", Price: 500, TaxRate: rate18, StockQuantity: 5, Active: true})
	in := orders.CreateOrderInput{
		UserID: "u1", AddressID: "addr-1", SlotID: "slot-1", PaymentMethod: orders.PaymentCOD,
		Items: []cart.Line{{ProductID: "p3", Quantity: 3}},
	}
	f.place(t, in)

	_, err := f.svc.CreateOrder(context.Background(), in)
	var serr *apperr.StockError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 2, serr.Available)
	var verr *apperr.ValidationError
	assert.False(t, errors.As(err, &verr))
	assert.Equal(t, 2, f.store.Product("p3").StockQuantity)
}

func TestCreateOrder_ReservationFailureLeavesFlaggedPartial(t *testing.T) {
	f := newFixture(t)
	f.store.Fail(memstore.OpReserveSlot, errors.New("connection reset"))

	_, err := f.svc.CreateOrder(context.Background(), scenarioA(orders.PaymentCOD))
	var pf *apperr.PartialFailureError
	require.ErrorAs(t, err, &pf)
	assert.Equal(t, orders.StepReserveSlot, pf.Step)
	assert.Contains(t, pf.PublicMessage(), pf.OrderID)

	o, err := f.store.Order(context.Background(), pf.OrderID)
	require.NoError(t, err)
	assert.True(t, o.NeedsReconciliation)
	list, _ := f.svc.ListOrders(context.Background(), "u1")
	assert.Empty(t, list)

	// stock stays reserved until reconciliation compensates it
	assert.Equal(t, 8, f.store.Product("p1").StockQuantity)
	failures := f.store.PartialFailures()
	require.Len(t, failures, 1)
	assert.Equal(t, orders.StepReserveSlot, failures[0].Step)
	assert.Contains(t, f.events.topics(), orders.TopicPartialFailure)
	assert.NotContains(t, f.events.topics(), orders.TopicOrderCreated)
}

func TestCreateOrder_StockRaceReportsItem(t *testing.T) {
	f := newFixture(t)
	f.store.Fail(memstore.OpReserveStock, errors.New("timeout"))

	_, err := f.svc.CreateOrder(context.Background(), scenarioA(orders.PaymentCOD))
	var pf *apperr.PartialFailureError
	require.ErrorAs(t, err, &pf)
	assert.Equal(t, orders.StepReserveStock, pf.Step)
	assert.NotEmpty(t, pf.ItemID)
}

func TestCreateOrder_HeadlessWhenItemsFail(t *testing.T) {
	f := newFixture(t)
	f.store.Fail(memstore.OpInsertItems, errors.New("disk full"))

	_, err := f.svc.CreateOrder(context.Background(), scenarioA(orders.PaymentCOD))
	var pf *apperr.PartialFailureError
	require.ErrorAs(t, err, &pf)
	assert.Equal(t, orders.StepInsertItems, pf.Step)

	items, err := f.store.Items(context.Background(), pf.OrderID)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, 10, f.store.Product("p1").StockQuantity)
}

func TestCreateOrder_CosmeticFailuresDoNotFailCheckout(t *testing.T) {
	f := newFixture(t)
	f.store.Fail(memstore.OpClearCart, errors.New("redis down"))

	o := f.place(t, scenarioA(orders.PaymentCOD))
	stored, err := f.store.Order(context.Background(), o.ID)
	require.NoError(t, err)
	assert.False(t, stored.NeedsReconciliation)
	failures := f.store.PartialFailures()
	require.Len(t, failures, 1)
	assert.Equal(t, orders.StepClearCart, failures[0].Step)
}

func TestCreateOrder_CouponBoundUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	f.store.PutCoupon(coupon.Coupon{ID: "c2", Code: "ONCE", Type: coupon.FreeDelivery, UsageLimit: 1, Active: true})

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := scenarioA(orders.PaymentCOD)
			in.Items = []cart.Line{{ProductID: "p1", Quantity: 1}}
			in.CouponCode = "once"
			_, errs[i] = f.svc.CreateOrder(context.Background(), in)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded)
	c, err := f.store.CouponByCode(context.Background(), "ONCE")
	require.NoError(t, err)
	assert.Equal(t, 1, c.UsedCount)
}

func TestCreateOrder_IdempotencyKeyReplays(t *testing.T) {
	f := newFixture(t)
	in := scenarioA(orders.PaymentCOD)
	in.IdempotencyKey = "checkout-1"

	first, err := f.svc.CreateOrder(context.Background(), in)
	require.NoError(t, err)
	again, err := f.svc.CreateOrder(context.Background(), in)
	require.NoError(t, err)

	assert.True(t, again.Replayed)
	assert.Equal(t, first.Order.ID, again.Order.ID)
	assert.Equal(t, 8, f.store.Product("p1").StockQuantity)
}

func TestCreateOrder_ReplayOfFailedCheckoutStaysPartial(t *testing.T) {
	f := newFixture(t)
	f.store.Fail(memstore.OpReserveSlot, errors.New("connection reset"))
	in := scenarioA(orders.PaymentCOD)
	in.IdempotencyKey = "checkout-2"

	_, err := f.svc.CreateOrder(context.Background(), in)
	var first *apperr.PartialFailureError
	require.ErrorAs(t, err, &first)

	f.store.Heal(memstore.OpReserveSlot)
	res, err := f.svc.CreateOrder(context.Background(), in)
	var again *apperr.PartialFailureError
	require.ErrorAs(t, err, &again)
	assert.Nil(t, res.Order)
	assert.Equal(t, first.OrderID, again.OrderID)
	assert.Equal(t, orders.StepReserveSlot, again.Step)
	assert.Contains(t, again.PublicMessage(), first.OrderID)
	assert.Len(t, f.store.PartialFailures(), 1)
}

func TestCreateOrder_FreeDeliveryAboveThreshold(t *testing.T) {
	f := newFixture(t)
	in := scenarioA(orders.PaymentCOD)
	in.CouponCode = ""
	in.Items = []cart.Line{{ProductID: "p2", Quantity: 10}, {ProductID: "p1", Quantity: 10}}

	o := f.place(t, in)
	assert.Equal(t, pricing.Money(30000), o.Subtotal)
	assert.Equal(t, pricing.Money(2500), o.DeliveryCharge)

	f2 := newFixture(t)
	f2.store.PutProduct(inventory.Product{ID: "p9", Name: "Oil", Price: 60000, TaxRate: rate18, StockQuantity: 2, Active: true})
	o2 := f2.place(t, orders.CreateOrderInput{
		UserID: "u1", AddressID: "addr-1", SlotID: "slot-1", PaymentMethod: orders.PaymentCOD,
		Items: []cart.Line{{ProductID: "p9", Quantity: 1}},
	})
	assert.Equal(t, pricing.Money(0), o2.DeliveryCharge)
}
