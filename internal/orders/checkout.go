package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ariefcatur/go-grocery-orders/internal/apperr"
	"github.com/ariefcatur/go-grocery-orders/internal/cart"
	"github.com/ariefcatur/go-grocery-orders/internal/coupon"
	"github.com/ariefcatur/go-grocery-orders/internal/inventory"
	"github.com/ariefcatur/go-grocery-orders/internal/pricing"
)

type CreateOrderInput struct {
	UserID         string
	AddressID      string
	SlotID         string
	PaymentMethod  PaymentMethod
	Items          []cart.Line
	CouponCode     string
	IdempotencyKey string
}

type CreateOrderResult struct {
	Order    *Order
	Replayed bool
}

// CreateOrder validates and prices the cart, then runs the write sequence:
// header, items, stock per item, slot, coupon, cart clear, history.
// Everything up to pricing is side-effect free. From the header insert on, failures are
// reported as *apperr.PartialFailureError and the order is left flagged for reconciliation.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (CreateOrderResult, error) {
	if in.UserID == "" {
		return CreateOrderResult{}, &apperr.AuthError{Reason: "no active session"}
	}
	var missing []string
	if in.AddressID == "" {
		missing = append(missing, "address is required")
	}
	if in.SlotID == "" {
		missing = append(missing, "delivery slot is required")
	}
	if !in.PaymentMethod.Valid() {
		missing = append(missing, fmt.Sprintf("unsupported payment method %q", in.PaymentMethod))
	}
	if len(missing) > 0 {
		return CreateOrderResult{}, apperr.Invalid(missing...)
	}

	if in.IdempotencyKey != "" {
		prev, err := s.Orders.OrderByIdempotencyKey(ctx, in.UserID, in.IdempotencyKey)
		if err == nil {
			return replay(prev)
		}
		if !isNotFound(err) {
			return CreateOrderResult{}, fmt.Errorf("idempotency lookup: %w", err)
		}
	}

	validated, err := s.Validator.Validate(ctx, in.Items)
	if err != nil {
		return CreateOrderResult{}, err
	}
	if err := validated.Err(); err != nil {
		return CreateOrderResult{}, err
	}

	addr, err := s.Addresses.Address(ctx, in.UserID, in.AddressID)
	if err != nil {
		return CreateOrderResult{}, err
	}

	slot, err := s.Slots.Slot(ctx, in.SlotID)
	if err != nil {
		return CreateOrderResult{}, err
	}
	if !slot.Open() {
		return CreateOrderResult{}, &apperr.SlotError{SlotID: slot.ID, Reason: "slot is full or unavailable"}
	}

	var applied coupon.Result
	if in.CouponCode != "" {
		applied, err = s.Coupons.Evaluate(ctx, in.CouponCode, in.UserID, validated.Subtotal)
		if err != nil {
			return CreateOrderResult{}, err
		}
	}

	quote := pricing.Price(validated.PricingLines(), applied.Adjustments(), s.Policy)

	now := s.now()
	o := &Order{
		ID:             s.newID(),
		OrderNumber:    s.newOrderNumber(),
		UserID:         in.UserID,
		Status:         StatusPending,
		PaymentStatus:  PaymentPending,
		PaymentMethod:  in.PaymentMethod,
		SlotID:         slot.ID,
		Address:        addr,
		CouponCode:     applied.Code,
		IdempotencyKey: in.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	o.applyQuote(quote)
	for _, l := range validated.Lines {
		o.Items = append(o.Items, OrderItem{
			ID:          s.newID(),
			OrderID:     o.ID,
			ProductID:   l.Product.ID,
			ProductName: l.Product.Name,
			Quantity:    l.Quantity,
			UnitPrice:   l.Product.Price,
			LineTotal:   l.PricingLine().Total(),
			TaxRate:     l.Product.TaxRate,
			CreatedAt:   now,
		})
	}

	wctx, cancel := s.detach(ctx)
	defer cancel()
	return s.write(wctx, o, applied)
}

// replay answers a repeated Idempotency-Key. An order that failed partway is still reported
// as a partial failure, not as a success.
func replay(prev *Order) (CreateOrderResult, error) {
	if prev.NeedsReconciliation {
		step, detail, ok := strings.Cut(prev.ReconciliationNote, ": ")
		if !ok {
			step, detail = "checkout", prev.ReconciliationNote
		}
		return CreateOrderResult{}, &apperr.PartialFailureError{
			OrderID:     prev.ID,
			OrderNumber: prev.OrderNumber,
			Step:        step,
			Err:         errors.New("order is under reconciliation: " + detail),
		}
	}
	return CreateOrderResult{Order: prev, Replayed: true}, nil
}

func (s *Service) write(ctx context.Context, o *Order, applied coupon.Result) (CreateOrderResult, error) {
	items := o.Items
	o.Items = nil

	if err := s.Orders.InsertOrder(ctx, o); err != nil {
		if errors.Is(err, ErrAlreadyExists) && o.IdempotencyKey != "" {
			prev, perr := s.Orders.OrderByIdempotencyKey(ctx, o.UserID, o.IdempotencyKey)
			if perr == nil {
				return replay(prev)
			}
		}
		s.Log.Error().Err(err).Str("order_id", o.ID).Str("step", StepInsertOrder).Str("outcome", "failed").Msg("checkout aborted")
		return CreateOrderResult{}, fmt.Errorf("insert order: %w", err)
	}
	s.logStep(o, StepInsertOrder).Str("order_number", o.OrderNumber).Str("total", o.Total.String()).Msg("order header written")

	if err := s.Orders.InsertItems(ctx, items); err != nil {
		return CreateOrderResult{}, s.recordPartial(ctx, o, StepInsertItems, "", err, true)
	}
	o.Items = items
	s.logStep(o, StepInsertItems).Int("items", len(items)).Msg("order items written")

	for _, it := range items {
		ok, err := s.Inventory.ReserveStock(ctx, inventory.Reservation{
			ProductID: it.ProductID, Quantity: it.Quantity, OrderID: o.ID, OrderItemID: it.ID,
		})
		if err == nil && !ok {
			err = s.shortage(ctx, it)
		}
		if err != nil {
			return CreateOrderResult{}, s.recordPartial(ctx, o, StepReserveStock, it.ID, err, true)
		}
		s.logStep(o, StepReserveStock).Str("item_id", it.ID).Str("product_id", it.ProductID).Int("qty", it.Quantity).Msg("stock reserved")
	}

	ok, err := s.Slots.ReserveSlot(ctx, o.SlotID, o.ID)
	if err == nil && !ok {
		err = &apperr.SlotError{SlotID: o.SlotID, Reason: "slot is full"}
	}
	if err != nil {
		return CreateOrderResult{}, s.recordPartial(ctx, o, StepReserveSlot, "", err, true)
	}
	s.logStep(o, StepReserveSlot).Str("slot_id", o.SlotID).Msg("slot reserved")

	if applied.CouponID != "" {
		ok, err := s.Coupons.Repo.Redeem(ctx, coupon.Redemption{
			ID: s.newID(), CouponID: applied.CouponID, UserID: o.UserID, OrderID: o.ID,
			Discount: o.Discount, UsedAt: s.now(),
		})
		if err == nil && !ok {
			err = &apperr.CouponError{Code: applied.Code, Reason: apperr.CouponUsageExhausted}
		}
		if err != nil {
			return CreateOrderResult{}, s.recordPartial(ctx, o, StepRedeemCoupon, "", err, true)
		}
		s.logStep(o, StepRedeemCoupon).Str("coupon", applied.Code).Msg("coupon redeemed")
	}

	// The order is complete from here on; the last two steps only get recorded if they fail.
	if err := s.Carts.Clear(ctx, o.UserID); err != nil {
		s.recordPartial(ctx, o, StepClearCart, "", err, false)
	}
	if err := s.Orders.AppendHistory(ctx, HistoryEntry{
		ID: s.newID(), OrderID: o.ID, Status: StatusPending, Note: "order created",
		Actor: ActorCustomer, CreatedAt: s.now(),
	}); err != nil {
		s.recordPartial(ctx, o, StepAppendHistory, "", err, false)
	}

	payload := OrderCreatedPayload{OrderID: o.ID, OrderNumber: o.OrderNumber, UserID: o.UserID, SlotID: o.SlotID, Total: o.Total}
	for _, it := range items {
		payload.Items = append(payload.Items, ItemQty{ProductID: it.ProductID, Qty: it.Quantity})
	}
	s.emit(ctx, TopicOrderCreated, EventOrderCreated, o.ID, payload)
	s.logStep(o, "complete").Str("order_number", o.OrderNumber).Msg("checkout complete")

	return CreateOrderResult{Order: o}, nil
}

// shortage re-reads the product so the error says how much is actually left.
func (s *Service) shortage(ctx context.Context, it OrderItem) error {
	ps, err := s.Inventory.Products(ctx, []string{it.ProductID})
	if err != nil {
		return &apperr.StockError{ProductID: it.ProductID, ProductName: it.ProductName, Requested: it.Quantity}
	}
	p, ok := ps[it.ProductID]
	if !ok {
		return &apperr.StockError{ProductID: it.ProductID, ProductName: it.ProductName, Requested: it.Quantity}
	}
	return inventory.Shortage(p, it.Quantity)
}
