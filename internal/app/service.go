// Package app assembles the order service from config and live connections.
// Both binaries build the same service so reconciliation runs the exact code paths checkout does.
package app

import (
	"github.com/ariefcatur/go-grocery-orders/internal/cart"
	"github.com/ariefcatur/go-grocery-orders/internal/config"
	"github.com/ariefcatur/go-grocery-orders/internal/coupon"
	"github.com/ariefcatur/go-grocery-orders/internal/orders"
	"github.com/ariefcatur/go-grocery-orders/internal/payment"
	"github.com/ariefcatur/go-grocery-orders/internal/postgres"
	"github.com/ariefcatur/go-grocery-orders/internal/pricing"
	"github.com/ariefcatur/go-grocery-orders/internal/redisx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type Deps struct {
	DB     *pgxpool.Pool
	Redis  *redis.Client
	Events orders.Publisher
	Log    zerolog.Logger
}

func NewOrderService(cfg config.Config, d Deps) *orders.Service {
	inv := &postgres.InventoryRepo{DB: d.DB}
	svc := &orders.Service{
		Orders:    &postgres.OrderRepo{DB: d.DB},
		Addresses: &postgres.AddressRepo{DB: d.DB},
		Inventory: inv,
		Slots:     &postgres.SlotRepo{DB: d.DB},
		Coupons:   coupon.NewEvaluator(&postgres.CouponRepo{DB: d.DB}),
		Carts:     cart.NewRedisStore(d.Redis),
		Validator: &cart.Validator{Catalog: inv, MinOrderAmount: pricing.Money(cfg.MinOrderCents)},
		Policy: pricing.Policy{
			DeliveryFee:           pricing.Money(cfg.DeliveryFeeCents),
			FreeDeliveryThreshold: pricing.Money(cfg.FreeDeliveryThresholdCents),
			DefaultTaxRate:        cfg.TaxRatePercent,
		},
		Events:          d.Events,
		Cache:           &redisx.StatusCache{RDB: d.Redis},
		Log:             d.Log,
		ServiceName:     cfg.ServiceName,
		PipelineTimeout: cfg.PipelineTimeout,
	}
	if cfg.PaymentGatewayURL != "" {
		svc.Payments = payment.NewClient(cfg.PaymentGatewayURL, cfg.PaymentTimeout, d.Log)
	}
	return svc
}
