package orders

import (
	"time"

	"github.com/ariefcatur/go-grocery-orders/internal/pricing"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

type PaymentMethod string

const (
	PaymentCOD    PaymentMethod = "cod"
	PaymentOnline PaymentMethod = "online"
)

func (m PaymentMethod) Valid() bool { return m == PaymentCOD || m == PaymentOnline }

// Address is the delivery address snapshot stored on the order.
type Address struct {
	ID         string `json:"id"`
	UserID     string `json:"-"`
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
}

type Order struct {
	ID                  string        `json:"id"`
	OrderNumber         string        `json:"order_number"`
	UserID              string        `json:"user_id"`
	Status              Status        `json:"status"`
	PaymentStatus       PaymentStatus `json:"payment_status"`
	PaymentMethod       PaymentMethod `json:"payment_method"`
	PaymentRef          string        `json:"payment_ref,omitempty"`
	Subtotal            pricing.Money `json:"subtotal"`
	Discount            pricing.Money `json:"discount"`
	TaxPrimary          pricing.Money `json:"tax_primary"`
	TaxSecondary        pricing.Money `json:"tax_secondary"`
	DeliveryCharge      pricing.Money `json:"delivery_charge"`
	Total               pricing.Money `json:"total"`
	RefundAmount        pricing.Money `json:"refund_amount"`
	SlotID              string        `json:"slot_id"`
	Address             Address       `json:"address"`
	CouponCode          string        `json:"coupon_code,omitempty"`
	IdempotencyKey      string        `json:"-"`
	NeedsReconciliation bool          `json:"needs_reconciliation"`
	ReconciliationNote  string        `json:"-"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
	Items               []OrderItem   `json:"items,omitempty"`
}

func (o *Order) applyQuote(q pricing.Quote) {
	o.Subtotal = q.Subtotal
	o.Discount = q.Discount
	o.TaxPrimary = q.TaxPrimary
	o.TaxSecondary = q.TaxSecondary
	o.DeliveryCharge = q.DeliveryCharge
	o.Total = q.Total
}

// OrderItem is written once with its order; Quantity is the reserved quantity.
type OrderItem struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"order_id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   pricing.Money   `json:"unit_price"`
	LineTotal   pricing.Money   `json:"line_total"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
	CreatedAt   time.Time       `json:"created_at"`
}

type HistoryEntry struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	Status    Status    `json:"status"`
	Note      string    `json:"note,omitempty"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"created_at"`
}

// Pipeline steps, used in partial failure records and logs.
const (
	StepInsertOrder   = "insert_order"
	StepInsertItems   = "insert_items"
	StepReserveStock  = "reserve_stock"
	StepReserveSlot   = "reserve_slot"
	StepRedeemCoupon  = "redeem_coupon"
	StepClearCart     = "clear_cart"
	StepAppendHistory = "append_history"
	StepRestoreStock  = "restore_stock"
	StepReleaseSlot   = "release_slot"
	StepRefund        = "refund"
)

// PartialFailure is the durable record a reconciliation pass works from.
type PartialFailure struct {
	ID          string     `json:"id"`
	OrderID     string     `json:"order_id"`
	Step        string     `json:"step"`
	OrderItemID string     `json:"order_item_id,omitempty"`
	Detail      string     `json:"detail"`
	CreatedAt   time.Time  `json:"created_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

const (
	ActorCustomer   = "customer"
	ActorSystem     = "system"
	ActorReconciler = "reconciler"
	ActorPayment    = "payment"
)
