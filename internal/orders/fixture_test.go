package orders_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-grocery-orders/internal/cart"
	"github.com/ariefcatur/go-grocery-orders/internal/coupon"
	"github.com/ariefcatur/go-grocery-orders/internal/inventory"
	"github.com/ariefcatur/go-grocery-orders/internal/memstore"
	"github.com/ariefcatur/go-grocery-orders/internal/orders"
	"github.com/ariefcatur/go-grocery-orders/internal/pricing"
	"github.com/ariefcatur/go-grocery-orders/internal/slots"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

var (
	testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rate18  = decimal.NewFromInt(18)
)

type published struct {
	topic string
	key   string
	event string
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *fakePublisher) Publish(topic string, key, _ []byte, headers ...kafka.Header) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ev := ""
	for _, h := range headers {
		if h.Key == "x-event-type" {
			ev = string(h.Value)
		}
	}
	p.msgs = append(p.msgs, published{topic: topic, key: string(key), event: ev})
}

func (p *fakePublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.msgs))
	for _, m := range p.msgs {
		out = append(out, m.topic)
	}
	return out
}

type fakeGateway struct {
	pass bool
	err  error
	refs []string
}

func (g *fakeGateway) Verify(_ context.Context, _, ref string, _ pricing.Money) (bool, error) {
	g.refs = append(g.refs, ref)
	return g.pass, g.err
}

// barrierCatalog holds the first n product reads until all n have arrived.
type barrierCatalog struct {
	cart.Catalog
	mu      sync.Mutex
	n       int
	arrived int
	release chan struct{}
}

func newBarrierCatalog(c cart.Catalog, n int) *barrierCatalog {
	return &barrierCatalog{Catalog: c, n: n, release: make(chan struct{})}
}

func (b *barrierCatalog) Products(ctx context.Context, ids []string) (map[string]inventory.Product, error) {
	b.mu.Lock()
	b.arrived++
	wait := b.arrived <= b.n
	if b.arrived == b.n {
		close(b.release)
	}
	b.mu.Unlock()
	if wait {
		select {
		case <-b.release:
		case <-time.After(5 * time.Second):
		}
	}
	return b.Catalog.Products(ctx, ids)
}

type fixture struct {
	store  *memstore.Store
	events *fakePublisher
	gw     *fakeGateway
	svc    *orders.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memstore.New()
	st.Now = func() time.Time { return testNow }

	st.PutProduct(inventory.Product{ID: "p1", Name: "Milk", Price: 1000, TaxRate: rate18, StockQuantity: 10, Active: true})
	st.PutProduct(inventory.Product{ID: "p2", Name: "Bread", Price: 2000, TaxRate: rate18, StockQuantity: 10, Active: true})
	st.PutSlot(slots.Slot{ID: "slot-1", Date: testNow, StartTime: "10:00", EndTime: "12:00", Kind: slots.KindStandard, Capacity: 5, Active: true})
	st.PutAddress(orders.Address{ID: "addr-1", UserID: "u1", Name: "Ana", Line1: "Main St 1", City: "Pune", PostalCode: "411001"})
	cap300 := pricing.Money(300)
	st.PutCoupon(coupon.Coupon{
		ID: "c1", Code: "TENOFF", Type: coupon.Percentage, Value: decimal.NewFromInt(10),
		MaxDiscount: &cap300, UsageLimit: 100, Active: true,
	})
	st.PutCart("u1", "p1", "p2")

	ev := &fakePublisher{}
	gw := &fakeGateway{pass: true}
	eval := coupon.NewEvaluator(st)
	eval.Now = func() time.Time { return testNow }

	svc := &orders.Service{
		Orders:    st,
		Addresses: st,
		Inventory: st,
		Slots:     st,
		Coupons:   eval,
		Carts:     st,
		Validator: &cart.Validator{Catalog: st},
		Policy: pricing.Policy{
			DeliveryFee:           2500,
			FreeDeliveryThreshold: 50000,
			DefaultTaxRate:        rate18,
		},
		Events:          ev,
		Payments:        gw,
		Log:             zerolog.Nop(),
		ServiceName:     "order-api-test",
		PipelineTimeout: 5 * time.Second,
		Now:             func() time.Time { return testNow },
	}
	return &fixture{store: st, events: ev, gw: gw, svc: svc}
}

func scenarioA(method orders.PaymentMethod) orders.CreateOrderInput {
	return orders.CreateOrderInput{
		UserID:        "u1",
		AddressID:     "addr-1",
		SlotID:        "slot-1",
		PaymentMethod: method,
		Items:         []cart.Line{{ProductID: "p1", Quantity: 2}, {ProductID: "p2", Quantity: 1}},
		CouponCode:    "tenoff",
	}
}

func (f *fixture) place(t *testing.T, in orders.CreateOrderInput) *orders.Order {
	t.Helper()
	res, err := f.svc.CreateOrder(context.Background(), in)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return res.Order
}
