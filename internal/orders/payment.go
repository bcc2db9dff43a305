package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-grocery-orders/internal/apperr"
)

var ErrNoPaymentGateway = errors.New("payment gateway not configured")

type ConfirmPaymentInput struct {
	OrderID    string
	UserID     string
	PaymentRef string
}

// ConfirmPayment settles a pending order. Online orders are checked with the gateway first;
// a decline marks the payment failed and may be retried with a new reference.
// COD orders are confirmed straight away and get paid on delivery.
func (s *Service) ConfirmPayment(ctx context.Context, in ConfirmPaymentInput) (*Order, error) {
	o, err := s.loadOwned(ctx, in.OrderID, in.UserID)
	if err != nil {
		return nil, err
	}
	if o.NeedsReconciliation {
		return nil, &apperr.ConflictError{Reason: "order is under review"}
	}
	if o.Status != StatusPending {
		return nil, &apperr.ConflictError{Reason: fmt.Sprintf("order in status %s cannot take a payment", o.Status)}
	}

	if o.PaymentMethod == PaymentCOD {
		if err := s.confirm(ctx, o, "cash on delivery", ActorSystem); err != nil {
			return nil, err
		}
		return s.Orders.Order(ctx, o.ID)
	}

	if o.PaymentStatus != PaymentPending && o.PaymentStatus != PaymentFailed {
		return nil, &apperr.ConflictError{Reason: fmt.Sprintf("payment already %s", o.PaymentStatus)}
	}
	if in.PaymentRef == "" {
		return nil, apperr.Invalid("payment reference is required")
	}
	if s.Payments == nil {
		return nil, ErrNoPaymentGateway
	}

	passed, err := s.Payments.Verify(ctx, o.ID, in.PaymentRef, o.Total)
	if err != nil {
		s.Log.Warn().Err(err).Str("order_id", o.ID).Msg("payment verification unavailable")
		return nil, err
	}

	wctx, cancel := s.detach(ctx)
	defer cancel()

	if !passed {
		if _, err := s.Orders.SetPaymentStatus(wctx, PaymentUpdate{
			OrderID: o.ID, From: []PaymentStatus{PaymentPending, PaymentFailed}, To: PaymentFailed, PaymentRef: in.PaymentRef,
		}); err != nil {
			return nil, fmt.Errorf("mark payment failed: %w", err)
		}
		if err := s.Orders.AppendHistory(wctx, HistoryEntry{
			ID: s.newID(), OrderID: o.ID, Status: o.Status, Note: "payment " + in.PaymentRef + " declined",
			Actor: ActorPayment, CreatedAt: s.now(),
		}); err != nil {
			s.Log.Warn().Err(err).Str("order_id", o.ID).Msg("payment history append failed")
		}
		s.invalidate(wctx, o.ID)
		s.Log.Info().Str("order_id", o.ID).Str("payment_ref", in.PaymentRef).Str("outcome", "declined").Msg("payment")
		return nil, &apperr.PaymentError{OrderID: o.ID, Reason: "payment was declined"}
	}

	ok, err := s.Orders.SetPaymentStatus(wctx, PaymentUpdate{
		OrderID: o.ID, From: []PaymentStatus{PaymentPending, PaymentFailed}, To: PaymentPaid, PaymentRef: in.PaymentRef,
	})
	if err != nil {
		return nil, fmt.Errorf("mark payment paid: %w", err)
	}
	if !ok {
		return nil, &apperr.ConflictError{Reason: "payment status changed concurrently"}
	}
	o.PaymentStatus = PaymentPaid
	o.PaymentRef = in.PaymentRef

	if err := s.confirm(wctx, o, "payment received", ActorPayment); err != nil {
		// Cancelled while we were talking to the gateway: the money has to go back.
		if cur, rerr := s.Orders.Order(wctx, o.ID); rerr == nil && cur.Status == StatusCancelled {
			if ferr := s.refund(wctx, cur); ferr != nil {
				return nil, s.recordPartial(wctx, cur, StepRefund, "", ferr, false)
			}
		}
		return nil, err
	}
	return s.Orders.Order(wctx, o.ID)
}

func (s *Service) confirm(ctx context.Context, o *Order, note, actor string) error {
	ok, err := s.Orders.Transition(ctx, Transition{
		OrderID:   o.ID,
		From:      []Status{StatusPending},
		To:        StatusConfirmed,
		Note:      note,
		Actor:     actor,
		Unflagged: true,
	})
	if err != nil {
		return fmt.Errorf("confirm order: %w", err)
	}
	if !ok {
		return &apperr.ConflictError{Reason: "order status changed, cannot be confirmed"}
	}
	s.statusChanged(ctx, o.ID, StatusPending, StatusConfirmed, actor)
	return nil
}

type AdvanceInput struct {
	OrderID string
	To      Status
	Note    string
	Actor   string
}

// AdvanceStatus moves an order one step along the fulfilment path. Cancellation goes through
// CancelOrder so that compensation runs.
func (s *Service) AdvanceStatus(ctx context.Context, in AdvanceInput) (*Order, error) {
	if !in.To.Valid() {
		return nil, apperr.Invalid(fmt.Sprintf("unknown status %q", in.To))
	}
	actor := in.Actor
	if actor == "" {
		actor = ActorSystem
	}
	if in.To == StatusCancelled {
		if err := s.CancelOrder(ctx, CancelInput{OrderID: in.OrderID, Reason: in.Note, Actor: actor}); err != nil {
			return nil, err
		}
		return s.Orders.Order(ctx, in.OrderID)
	}

	o, err := s.Orders.Order(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(o.Status, in.To) {
		return nil, &apperr.ConflictError{Reason: fmt.Sprintf("cannot move order from %s to %s", o.Status, in.To)}
	}
	if o.NeedsReconciliation {
		return nil, &apperr.ConflictError{Reason: "order is under review"}
	}

	wctx, cancel := s.detach(ctx)
	defer cancel()

	ok, err := s.Orders.Transition(wctx, Transition{
		OrderID: o.ID, From: []Status{o.Status}, To: in.To, Note: in.Note, Actor: actor, Unflagged: true,
	})
	if err != nil {
		return nil, fmt.Errorf("advance order: %w", err)
	}
	if !ok {
		return nil, &apperr.ConflictError{Reason: "order status changed concurrently"}
	}
	s.statusChanged(wctx, o.ID, o.Status, in.To, actor)

	if in.To == StatusDelivered && o.PaymentMethod == PaymentCOD && o.PaymentStatus == PaymentPending {
		if _, err := s.Orders.SetPaymentStatus(wctx, PaymentUpdate{
			OrderID: o.ID, From: []PaymentStatus{PaymentPending}, To: PaymentPaid,
		}); err != nil {
			s.Log.Error().Err(err).Str("order_id", o.ID).Msg("cod payment mark failed")
		}
	}
	return s.Orders.Order(wctx, o.ID)
}

func (s *Service) statusChanged(ctx context.Context, orderID string, from, to Status, actor string) {
	s.invalidate(ctx, orderID)
	s.emit(ctx, TopicStatusChanged, EventStatusChanged, orderID, StatusChangedPayload{
		OrderID: orderID, From: from, To: to, Actor: actor,
	})
	s.Log.Info().Str("order_id", orderID).Str("from", string(from)).Str("to", string(to)).Str("actor", actor).Msg("status changed")
}
