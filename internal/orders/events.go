package orders

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	kafkax "github.com/ariefcatur/go-grocery-orders/internal/kafka"
	"github.com/ariefcatur/go-grocery-orders/internal/pricing"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

const (
	EventOrderCreated    = "OrderCreated"
	EventOrderCancelled  = "OrderCancelled"
	EventStatusChanged   = "OrderStatusChanged"
	EventRefundRequested = "RefundRequested"
	EventPartialFailure  = "OrderPartialFailure"

	eventVersion = 1
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

type ItemQty struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type OrderCreatedPayload struct {
	OrderID     string        `json:"order_id"`
	OrderNumber string        `json:"order_number"`
	UserID      string        `json:"user_id"`
	SlotID      string        `json:"slot_id"`
	Items       []ItemQty     `json:"items"`
	Total       pricing.Money `json:"total"`
}

type OrderCancelledPayload struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
	Actor   string `json:"actor"`
}

type StatusChangedPayload struct {
	OrderID string `json:"order_id"`
	From    Status `json:"from"`
	To      Status `json:"to"`
	Actor   string `json:"actor"`
}

type RefundRequestedPayload struct {
	OrderID    string        `json:"order_id"`
	PaymentRef string        `json:"payment_ref"`
	Amount     pricing.Money `json:"amount"`
}

type PartialFailurePayload struct {
	FailureID   string `json:"failure_id"`
	OrderID     string `json:"order_id"`
	Step        string `json:"step"`
	OrderItemID string `json:"order_item_id,omitempty"`
	Detail      string `json:"detail"`
}

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header)
}

func (s *Service) emit(ctx context.Context, topic, eventType, orderID string, payload any) {
	if s.Events == nil {
		return
	}
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  eventVersion,
		OccurredAt:    s.now().UTC(),
		Producer:      s.ServiceName,
		TraceID:       middleware.GetReqID(ctx),
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	s.Events.Publish(topic, PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(eventVersion))},
	)
}
