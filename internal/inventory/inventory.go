package inventory

import (
	"context"
	"time"

	"github.com/ariefcatur/go-grocery-orders/internal/apperr"
	"github.com/ariefcatur/go-grocery-orders/internal/pricing"
	"github.com/shopspring/decimal"
)

type Product struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Price            pricing.Money   `json:"price"`
	TaxRate          decimal.Decimal `json:"tax_rate"`
	StockQuantity    int             `json:"stock_quantity"`
	SoldCount        int             `json:"sold_count"`
	MinOrderQuantity int             `json:"min_order_quantity"`
	MaxOrderQuantity int             `json:"max_order_quantity"` // <= 0: no upper bound
	Active           bool            `json:"active"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type LogType string

const (
	LogSale       LogType = "sale"
	LogAdjustment LogType = "adjustment"
	LogPurchase   LogType = "purchase"
	LogExpired    LogType = "expired"
)

// LogEntry is append-only.
type LogEntry struct {
	ID               string    `json:"id"`
	ProductID        string    `json:"product_id"`
	Type             LogType   `json:"type"`
	Quantity         int       `json:"quantity"` // signed delta
	PreviousQuantity int       `json:"previous_quantity"`
	NewQuantity      int       `json:"new_quantity"`
	Reason           string    `json:"reason"`
	OrderID          string    `json:"order_id,omitempty"`
	OrderItemID      string    `json:"order_item_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Reservation identifies one order item's stock movement.
type Reservation struct {
	ProductID   string
	Quantity    int
	OrderID     string
	OrderItemID string
}

const (
	ReasonOrderPlaced    = "order placed"
	ReasonOrderCancelled = "order cancelled"
)

type Repository interface {
	Products(ctx context.Context, ids []string) (map[string]Product, error)

	// ReserveStock decrements stock_quantity by r.Quantity only if enough stock is left,
	// bumps sold_count and appends a sale log entry, all in one conditional write.
	// false means the condition did not hold and nothing was written.
	ReserveStock(ctx context.Context, r Reservation) (bool, error)

	// RestoreStock reverses a prior sale for r.OrderItemID. It writes only when a sale entry
	// exists for that item and no compensating entry does yet, so repeated calls restore once.
	RestoreStock(ctx context.Context, r Reservation, reason string) (bool, error)

	LogsForOrder(ctx context.Context, orderID string) ([]LogEntry, error)
}

// Shortage builds the user-facing stock error from the latest product state.
func Shortage(p Product, requested int) *apperr.StockError {
	available := p.StockQuantity
	if available < 0 {
		available = 0
	}
	return &apperr.StockError{ProductID: p.ID, ProductName: p.Name, Requested: requested, Available: available}
}
