package orders

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/go-grocery-orders/internal/pricing"
)

var ErrAlreadyExists = errors.New("order already exists")

// Transition is a conditional status change: it applies only while the current status is one
// of From, and appends the history entry in the same write.
type Transition struct {
	OrderID string
	From    []Status
	To      Status
	Note    string
	Actor   string
	// Unflagged additionally requires needs_reconciliation = false.
	Unflagged bool
}

type PaymentUpdate struct {
	OrderID      string
	From         []PaymentStatus
	To           PaymentStatus
	PaymentRef   string
	RefundAmount pricing.Money
}

type Repository interface {
	// InsertOrder returns ErrAlreadyExists when the idempotency key was already used.
	InsertOrder(ctx context.Context, o *Order) error
	InsertItems(ctx context.Context, items []OrderItem) error

	Order(ctx context.Context, id string) (*Order, error)
	OrderByIdempotencyKey(ctx context.Context, userID, key string) (*Order, error)
	Items(ctx context.Context, orderID string) ([]OrderItem, error)
	// ListByUser hides orders flagged for reconciliation.
	ListByUser(ctx context.Context, userID string) ([]Order, error)

	Transition(ctx context.Context, t Transition) (bool, error)
	SetPaymentStatus(ctx context.Context, p PaymentUpdate) (bool, error)
	AppendHistory(ctx context.Context, e HistoryEntry) error
	History(ctx context.Context, orderID string) ([]HistoryEntry, error)

	FlagForReconciliation(ctx context.Context, orderID, note string) error
	RecordPartialFailure(ctx context.Context, f PartialFailure) error
	OpenPartialFailures(ctx context.Context, limit int) ([]PartialFailure, error)
	ResolvePartialFailure(ctx context.Context, id string) error
	// HeadlessOrders lists pending orders created before cutoff that have no item rows.
	HeadlessOrders(ctx context.Context, cutoff time.Time) ([]string, error)
}

type AddressBook interface {
	Address(ctx context.Context, userID, addressID string) (Address, error)
}

type CartStore interface {
	Clear(ctx context.Context, userID string) error
}

type StatusCache interface {
	Invalidate(ctx context.Context, orderID string) error
}

// PaymentVerifier asks the payment gateway whether paymentRef settled amount for orderID.
type PaymentVerifier interface {
	Verify(ctx context.Context, orderID, paymentRef string, amount pricing.Money) (bool, error)
}
