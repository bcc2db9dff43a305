package reconcile

import (
	"context"
	"encoding/json"

	kafkax "github.com/ariefcatur/go-grocery-orders/internal/kafka"
	"github.com/ariefcatur/go-grocery-orders/internal/orders"
	"github.com/ariefcatur/go-grocery-orders/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
)

const dedupService = "reconciler"

// Handler reacts to order.partial_failure events right away instead of waiting for a sweep.
type Handler struct {
	Worker *Worker
	Redis  *redis.Client
}

// HandlePartialFailure is installed as the consumer handler. A nil return commits the offset.
func (h *Handler) HandlePartialFailure(ctx context.Context, m kafkago.Message) error {
	if t := kafkax.Header(m, "x-event-type"); t != "" && t != orders.EventPartialFailure {
		return nil
	}
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		h.Worker.Log.Warn().Err(err).Int64("offset", m.Offset).Msg("dropping undecodable event")
		return nil
	}
	if env.EventType != orders.EventPartialFailure {
		return nil
	}

	if h.Redis != nil {
		if seen, _ := redisx.Seen(ctx, h.Redis, dedupService, env.EventID); seen {
			return nil
		}
	}

	p, err := kafkax.UnwrapPayload[orders.PartialFailurePayload](env.Payload)
	if err != nil {
		h.Worker.Log.Warn().Err(err).Str("event_id", env.EventID).Msg("dropping event with bad payload")
		return nil
	}

	done, err := h.Worker.Resolve(ctx, orders.PartialFailure{
		ID: p.FailureID, OrderID: p.OrderID, Step: p.Step, OrderItemID: p.OrderItemID, Detail: p.Detail,
	})
	if err != nil || !done {
		// The sweep picks the record up again; the event itself is done.
		h.Worker.Log.Warn().Err(err).Str("order_id", p.OrderID).Str("step", p.Step).Msg("partial failure left for sweep")
	}

	if h.Redis != nil {
		if err := redisx.MarkSeen(ctx, h.Redis, dedupService, env.EventID); err != nil {
			h.Worker.Log.Warn().Err(err).Str("event_id", env.EventID).Msg("dedup mark failed")
		}
	}
	return nil
}
