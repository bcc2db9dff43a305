package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-grocery-orders/internal/apperr"
	"github.com/ariefcatur/go-grocery-orders/internal/cart"
	"github.com/ariefcatur/go-grocery-orders/internal/coupon"
	"github.com/ariefcatur/go-grocery-orders/internal/inventory"
	"github.com/ariefcatur/go-grocery-orders/internal/pricing"
	"github.com/ariefcatur/go-grocery-orders/internal/slots"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Service runs the checkout, cancellation and status pipelines. It holds no per-request state;
// everything shared lives behind the repository interfaces.
type Service struct {
	Orders    Repository
	Addresses AddressBook
	Inventory inventory.Repository
	Slots     slots.Repository
	Coupons   *coupon.Evaluator
	Carts     CartStore
	Validator *cart.Validator
	Policy    pricing.Policy

	// Optional collaborators.
	Events   Publisher
	Cache    StatusCache
	Payments PaymentVerifier

	Log         zerolog.Logger
	ServiceName string
	// PipelineTimeout bounds the detached part of checkout and cancellation.
	PipelineTimeout time.Duration

	Now            func() time.Time
	NewID          func() string
	NewOrderNumber func() string
}

const defaultPipelineTimeout = 30 * time.Second

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

// newOrderNumber is time-ordered with a random tail, so retries never collide.
func (s *Service) newOrderNumber() string {
	if s.NewOrderNumber != nil {
		return s.NewOrderNumber()
	}
	return "ORD-" + ulid.Make().String()
}

// detach keeps a pipeline running after the caller goes away. Once the order header is
// written, stock and slot may already be held, so the client disconnecting must not abort us.
func (s *Service) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	d := s.PipelineTimeout
	if d <= 0 {
		d = defaultPipelineTimeout
	}
	return context.WithTimeout(context.WithoutCancel(ctx), d)
}

func (s *Service) invalidate(ctx context.Context, orderID string) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Invalidate(ctx, orderID); err != nil {
		s.Log.Warn().Err(err).Str("order_id", orderID).Msg("status cache invalidate failed")
	}
}

// loadOwned returns NotFound for orders of other users so ids cannot be probed.
// An empty userID skips the check (admin and system callers).
func (s *Service) loadOwned(ctx context.Context, orderID, userID string) (*Order, error) {
	o, err := s.Orders.Order(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if userID != "" && o.UserID != userID {
		return nil, apperr.NotFound("order", orderID)
	}
	return o, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID, userID string) (*Order, error) {
	o, err := s.loadOwned(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	items, err := s.Orders.Items(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	o.Items = items
	return o, nil
}

func (s *Service) ListOrders(ctx context.Context, userID string) ([]Order, error) {
	if userID == "" {
		return nil, &apperr.AuthError{Reason: "no active session"}
	}
	return s.Orders.ListByUser(ctx, userID)
}

func (s *Service) OrderHistory(ctx context.Context, orderID, userID string) ([]HistoryEntry, error) {
	if _, err := s.loadOwned(ctx, orderID, userID); err != nil {
		return nil, err
	}
	return s.Orders.History(ctx, orderID)
}

func (s *Service) ValidateCart(ctx context.Context, lines []cart.Line) (cart.Result, error) {
	return s.Validator.Validate(ctx, lines)
}

// ApplyCoupon prices a code against a subtotal without redeeming it.
func (s *Service) ApplyCoupon(ctx context.Context, code, userID string, subtotal pricing.Money) (coupon.Result, error) {
	if code == "" {
		return coupon.Result{}, apperr.Invalid("coupon code is required")
	}
	if subtotal < 0 {
		return coupon.Result{}, apperr.Invalid("subtotal must not be negative")
	}
	return s.Coupons.Evaluate(ctx, code, userID, subtotal)
}

func (s *Service) ListAvailableSlots(ctx context.Context, date time.Time, kind string) ([]slots.Slot, error) {
	if !slots.ValidKind(kind) {
		return nil, apperr.Invalid(fmt.Sprintf("unknown slot type %q", kind))
	}
	list, err := s.Slots.ListAvailable(ctx, date, kind)
	if err != nil {
		return nil, err
	}
	out := list[:0]
	for _, sl := range list {
		if sl.Open() {
			out = append(out, sl)
		}
	}
	return out, nil
}

// recordPartial logs, persists and publishes a partial failure. flag hides the order from the
// shopper until reconciliation; cosmetic steps (cart, history) leave it visible.
func (s *Service) recordPartial(ctx context.Context, o *Order, step, itemID string, cause error, flag bool) *apperr.PartialFailureError {
	pf := PartialFailure{
		ID:          s.newID(),
		OrderID:     o.ID,
		Step:        step,
		OrderItemID: itemID,
		Detail:      cause.Error(),
		CreatedAt:   s.now(),
	}
	s.Log.Error().Err(cause).
		Str("order_id", o.ID).
		Str("order_number", o.OrderNumber).
		Str("step", step).
		Str("item_id", itemID).
		Str("outcome", "failed").
		Bool("flagged", flag).
		Msg("partial failure")

	if flag {
		if err := s.Orders.FlagForReconciliation(ctx, o.ID, step+": "+cause.Error()); err != nil {
			s.Log.Error().Err(err).Str("order_id", o.ID).Msg("flag for reconciliation failed")
		}
	}
	if err := s.Orders.RecordPartialFailure(ctx, pf); err != nil {
		s.Log.Error().Err(err).Str("order_id", o.ID).Str("step", step).Msg("record partial failure failed")
	}
	s.emit(ctx, TopicPartialFailure, EventPartialFailure, o.ID, PartialFailurePayload{
		FailureID: pf.ID, OrderID: o.ID, Step: step, OrderItemID: itemID, Detail: pf.Detail,
	})
	return &apperr.PartialFailureError{OrderID: o.ID, OrderNumber: o.OrderNumber, Step: step, ItemID: itemID, Err: cause}
}

func (s *Service) logStep(o *Order, step string) *zerolog.Event {
	return s.Log.Info().Str("order_id", o.ID).Str("step", step).Str("outcome", "ok")
}

func isNotFound(err error) bool { return errors.Is(err, apperr.ErrNotFound) }
