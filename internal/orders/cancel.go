package orders

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-grocery-orders/internal/apperr"
	"github.com/ariefcatur/go-grocery-orders/internal/inventory"
)

type CancelInput struct {
	OrderID string
	// UserID restricts the cancel to the owner; empty for admin and reconciler calls.
	UserID string
	Reason string
	Actor  string
}

// CancelOrder moves a pending or confirmed order to cancelled and compensates its reservations.
// Cancelling a delivered or already cancelled order is a ConflictError.
func (s *Service) CancelOrder(ctx context.Context, in CancelInput) error {
	o, err := s.loadOwned(ctx, in.OrderID, in.UserID)
	if err != nil {
		return err
	}
	if !CanTransition(o.Status, StatusCancelled) {
		return &apperr.ConflictError{Reason: fmt.Sprintf("order in status %s cannot be cancelled", o.Status)}
	}
	actor := in.Actor
	if actor == "" {
		actor = ActorCustomer
	}
	reason := in.Reason
	if reason == "" {
		reason = "cancelled by " + actor
	}

	wctx, cancel := s.detach(ctx)
	defer cancel()

	ok, err := s.Orders.Transition(wctx, Transition{
		OrderID: o.ID,
		From:    Cancellable(),
		To:      StatusCancelled,
		Note:    reason,
		Actor:   actor,
	})
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if !ok {
		// Someone else moved the order between our read and the conditional write.
		return &apperr.ConflictError{Reason: "order status changed, cannot be cancelled"}
	}
	s.logStep(o, "cancel").Str("from", string(o.Status)).Str("actor", actor).Msg("order cancelled")
	s.invalidate(wctx, o.ID)
	s.emit(wctx, TopicOrderCancelled, EventOrderCancelled, o.ID, OrderCancelledPayload{
		OrderID: o.ID, Reason: reason, Actor: actor,
	})

	return s.Compensate(wctx, o.ID)
}

// Compensate reverses stock and slot reservations of a cancelled order and records a refund
// if it had been paid. Each step is keyed off its own ledger, so running it again after a
// success or a partial failure changes nothing that was already restored.
// Failed steps are recorded as partial failures.
func (s *Service) Compensate(ctx context.Context, orderID string) error {
	return s.compensate(ctx, orderID, true)
}

// RetryCompensation is Compensate for callers that already hold a partial failure record
// for the order; failures are returned but not recorded again.
func (s *Service) RetryCompensation(ctx context.Context, orderID string) error {
	return s.compensate(ctx, orderID, false)
}

func (s *Service) compensate(ctx context.Context, orderID string, record bool) error {
	o, err := s.Orders.Order(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status != StatusCancelled {
		return &apperr.ConflictError{Reason: fmt.Sprintf("order in status %s is not cancelled", o.Status)}
	}

	var first error
	fail := func(step, itemID string, cause error) {
		var err error
		if record {
			err = s.recordPartial(ctx, o, step, itemID, cause, false)
		} else {
			s.Log.Warn().Err(cause).Str("order_id", o.ID).Str("step", step).Str("item_id", itemID).Str("outcome", "failed").Msg("compensation retry failed")
			err = fmt.Errorf("%s: %w", step, cause)
		}
		if first == nil {
			first = err
		}
	}

	items, err := s.Orders.Items(ctx, o.ID)
	if err != nil {
		fail(StepRestoreStock, "", fmt.Errorf("load items: %w", err))
		return first
	}
	for _, it := range items {
		restored, err := s.Inventory.RestoreStock(ctx, inventory.Reservation{
			ProductID: it.ProductID, Quantity: it.Quantity, OrderID: o.ID, OrderItemID: it.ID,
		}, inventory.ReasonOrderCancelled)
		if err != nil {
			fail(StepRestoreStock, it.ID, err)
			continue
		}
		s.logStep(o, StepRestoreStock).Str("item_id", it.ID).Int("qty", it.Quantity).Bool("restored", restored).Msg("stock compensation")
	}

	released, err := s.Slots.ReleaseSlot(ctx, o.ID)
	if err != nil {
		fail(StepReleaseSlot, "", err)
	} else {
		s.logStep(o, StepReleaseSlot).Str("slot_id", o.SlotID).Bool("released", released).Msg("slot compensation")
	}

	if o.PaymentStatus == PaymentPaid {
		if err := s.refund(ctx, o); err != nil {
			fail(StepRefund, "", err)
		}
	}
	return first
}

// refund only marks the order; moving money is the gateway's job.
func (s *Service) refund(ctx context.Context, o *Order) error {
	ok, err := s.Orders.SetPaymentStatus(ctx, PaymentUpdate{
		OrderID:      o.ID,
		From:         []PaymentStatus{PaymentPaid},
		To:           PaymentRefunded,
		PaymentRef:   o.PaymentRef,
		RefundAmount: o.Total,
	})
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := s.Orders.AppendHistory(ctx, HistoryEntry{
		ID: s.newID(), OrderID: o.ID, Status: StatusCancelled,
		Note:  "refund of " + o.Total.String() + " recorded",
		Actor: ActorSystem, CreatedAt: s.now(),
	}); err != nil {
		s.Log.Warn().Err(err).Str("order_id", o.ID).Msg("refund history append failed")
	}
	s.invalidate(ctx, o.ID)
	s.emit(ctx, TopicRefundRequested, EventRefundRequested, o.ID, RefundRequestedPayload{
		OrderID: o.ID, PaymentRef: o.PaymentRef, Amount: o.Total,
	})
	s.logStep(o, StepRefund).Str("amount", o.Total.String()).Msg("refund recorded")
	return nil
}
