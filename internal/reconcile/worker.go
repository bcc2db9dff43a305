package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-grocery-orders/internal/apperr"
	"github.com/ariefcatur/go-grocery-orders/internal/orders"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Worker repairs orders the checkout or cancellation pipeline left half done.
// Every action it takes goes through the same idempotent service calls a shopper would
// trigger, so two workers racing on one record do no harm.
type Worker struct {
	Orders  orders.Repository
	Service *orders.Service
	Log     zerolog.Logger

	Interval      time.Duration
	HeadlessGrace time.Duration
	BatchSize     int
	Now           func() time.Time
}

type Report struct {
	Headless int
	Resolved int
	Pending  int
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// Run sweeps every Interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	interval := w.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if _, err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
			w.Log.Error().Err(err).Msg("reconcile sweep failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

func (w *Worker) Sweep(ctx context.Context) (Report, error) {
	var rep Report

	grace := w.HeadlessGrace
	if grace <= 0 {
		grace = 2 * time.Minute
	}
	ids, err := w.Orders.HeadlessOrders(ctx, w.now().Add(-grace))
	if err != nil {
		return rep, fmt.Errorf("headless orders: %w", err)
	}
	for _, id := range ids {
		if err := w.cancelHeadless(ctx, id); err != nil {
			w.Log.Warn().Err(err).Str("order_id", id).Msg("headless order not cancelled")
			continue
		}
		rep.Headless++
	}

	limit := w.BatchSize
	if limit <= 0 {
		limit = 100
	}
	open, err := w.Orders.OpenPartialFailures(ctx, limit)
	if err != nil {
		return rep, fmt.Errorf("open partial failures: %w", err)
	}
	for _, f := range open {
		done, err := w.Resolve(ctx, f)
		if err != nil {
			w.Log.Warn().Err(err).Str("failure_id", f.ID).Str("order_id", f.OrderID).Str("step", f.Step).Msg("partial failure still open")
		}
		if done {
			rep.Resolved++
		} else {
			rep.Pending++
		}
	}
	if rep.Headless+rep.Resolved+rep.Pending > 0 {
		w.Log.Info().Int("headless", rep.Headless).Int("resolved", rep.Resolved).Int("pending", rep.Pending).Msg("reconcile sweep")
	}
	return rep, nil
}

func (w *Worker) cancelHeadless(ctx context.Context, orderID string) error {
	if err := w.Orders.FlagForReconciliation(ctx, orderID, "order has no items"); err != nil {
		return err
	}
	return w.Service.CancelOrder(ctx, orders.CancelInput{
		OrderID: orderID,
		Reason:  "checkout did not complete",
		Actor:   orders.ActorReconciler,
	})
}

// Resolve repairs the order behind f and marks f resolved. It reports false while the repair
// still fails; the record then stays open for the next sweep.
func (w *Worker) Resolve(ctx context.Context, f orders.PartialFailure) (bool, error) {
	o, err := w.Orders.Order(ctx, f.OrderID)
	if errors.Is(err, apperr.ErrNotFound) {
		return true, w.Orders.ResolvePartialFailure(ctx, f.ID)
	}
	if err != nil {
		return false, err
	}

	switch f.Step {
	case orders.StepInsertItems, orders.StepReserveStock, orders.StepReserveSlot, orders.StepRedeemCoupon:
		err = w.abandon(ctx, o, f.Step)
	case orders.StepRestoreStock, orders.StepReleaseSlot, orders.StepRefund:
		err = w.Service.RetryCompensation(ctx, o.ID)
	case orders.StepClearCart:
		err = w.Service.Carts.Clear(ctx, o.UserID)
	case orders.StepAppendHistory:
		err = w.backfillHistory(ctx, o)
	default:
		w.Log.Warn().Str("failure_id", f.ID).Str("step", f.Step).Msg("unknown step, resolving as is")
	}
	if err != nil {
		return false, err
	}
	if err := w.Orders.ResolvePartialFailure(ctx, f.ID); err != nil {
		return false, err
	}
	w.Log.Info().Str("failure_id", f.ID).Str("order_id", o.ID).Str("step", f.Step).Str("outcome", "resolved").Msg("partial failure resolved")
	return true, nil
}

// abandon cancels an order whose checkout never finished and gives back what it holds.
func (w *Worker) abandon(ctx context.Context, o *orders.Order, step string) error {
	switch o.Status {
	case orders.StatusPending, orders.StatusConfirmed:
		return w.Service.CancelOrder(ctx, orders.CancelInput{
			OrderID: o.ID,
			Reason:  "checkout failed at " + step,
			Actor:   orders.ActorReconciler,
		})
	case orders.StatusCancelled:
		return w.Service.RetryCompensation(ctx, o.ID)
	default:
		// Already moving towards delivery, which means someone repaired it by hand.
		return nil
	}
}

func (w *Worker) backfillHistory(ctx context.Context, o *orders.Order) error {
	h, err := w.Orders.History(ctx, o.ID)
	if err != nil {
		return err
	}
	for _, e := range h {
		if e.Status == orders.StatusPending {
			return nil
		}
	}
	return w.Orders.AppendHistory(ctx, orders.HistoryEntry{
		ID:        uuid.NewString(),
		OrderID:   o.ID,
		Status:    orders.StatusPending,
		Note:      "order created",
		Actor:     orders.ActorReconciler,
		CreatedAt: o.CreatedAt,
	})
}
