package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-grocery-orders/internal/apperr"
	"github.com/ariefcatur/go-grocery-orders/internal/inventory"
	"github.com/ariefcatur/go-grocery-orders/internal/pricing"
)

type Line struct {
	ProductID string        `json:"product_id"`
	Quantity  int           `json:"quantity"`
	Price     pricing.Money `json:"price,omitempty"` // price the shopper saw; zero skips the check
}

type Cart struct {
	UserID    string    `json:"user_id"`
	Lines     []Line    `json:"lines"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Catalog is the read side the validator needs.
type Catalog interface {
	Products(ctx context.Context, ids []string) (map[string]inventory.Product, error)
}

// ValidLine is a cart line priced from current product state.
type ValidLine struct {
	Product  inventory.Product
	Quantity int
}

func (l ValidLine) PricingLine() pricing.Line {
	return pricing.Line{UnitPrice: l.Product.Price, Quantity: l.Quantity, TaxRate: l.Product.TaxRate}
}

type Result struct {
	Valid      bool          `json:"valid"`
	Violations []string      `json:"violations"`
	Subtotal   pricing.Money `json:"subtotal"`
	Lines      []ValidLine   `json:"-"`
	// Shortages repeats the stock violations as typed errors.
	Shortages []*apperr.StockError `json:"-"`
}

// Err is what blocks a checkout of this cart: a ValidationError for everything that is not
// about stock, otherwise the first StockError. Nil when the cart is valid.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	short := make(map[string]bool, len(r.Shortages))
	for _, se := range r.Shortages {
		short[se.Error()] = true
	}
	var rest []string
	for _, v := range r.Violations {
		if !short[v] {
			rest = append(rest, v)
		}
	}
	if len(rest) > 0 || len(r.Shortages) == 0 {
		return apperr.Invalid(rest...)
	}
	return r.Shortages[0]
}

func (r Result) PricingLines() []pricing.Line {
	out := make([]pricing.Line, 0, len(r.Lines))
	for _, l := range r.Lines {
		out = append(out, l.PricingLine())
	}
	return out
}

type Validator struct {
	Catalog        Catalog
	MinOrderAmount pricing.Money
}

// Validate collects every violation instead of stopping at the first one.
// The returned error is reserved for infrastructure failures.
func (v *Validator) Validate(ctx context.Context, lines []Line) (Result, error) {
	res := Result{Violations: []string{}}
	lines = merge(lines)
	if len(lines) == 0 {
		res.Violations = append(res.Violations, "cart is empty")
		return res, nil
	}

	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}
	products, err := v.Catalog.Products(ctx, ids)
	if err != nil {
		return Result{}, fmt.Errorf("load products: %w", err)
	}

	for _, l := range lines {
		p, ok := products[l.ProductID]
		if !ok || !p.Active {
			name := l.ProductID
			if ok {
				name = p.Name
			}
			res.Violations = append(res.Violations, fmt.Sprintf("%s is no longer available", name))
			continue
		}
		before := len(res.Violations)
		if l.Quantity <= 0 {
			res.Violations = append(res.Violations, fmt.Sprintf("quantity for %s must be at least 1", p.Name))
		}
		if p.MinOrderQuantity > 0 && l.Quantity < p.MinOrderQuantity {
			res.Violations = append(res.Violations, fmt.Sprintf("minimum quantity for %s is %d", p.Name, p.MinOrderQuantity))
		}
		if p.MaxOrderQuantity > 0 && l.Quantity > p.MaxOrderQuantity {
			res.Violations = append(res.Violations, fmt.Sprintf("maximum quantity for %s is %d", p.Name, p.MaxOrderQuantity))
		}
		if l.Quantity > 0 && p.StockQuantity < l.Quantity {
			se := inventory.Shortage(p, l.Quantity)
			res.Shortages = append(res.Shortages, se)
			res.Violations = append(res.Violations, se.Error())
		}
		if l.Price > 0 && l.Price != p.Price {
			res.Violations = append(res.Violations, fmt.Sprintf("price of %s changed from %s to %s", p.Name, l.Price, p.Price))
		}
		if len(res.Violations) == before {
			res.Lines = append(res.Lines, ValidLine{Product: p, Quantity: l.Quantity})
		}
	}

	res.Subtotal = pricing.Subtotal(res.PricingLines())
	if v.MinOrderAmount > 0 && res.Subtotal < v.MinOrderAmount {
		res.Violations = append(res.Violations, fmt.Sprintf("minimum order amount is %s", v.MinOrderAmount))
	}
	res.Valid = len(res.Violations) == 0
	return res, nil
}

// merge folds repeated product lines into one, keeping first-seen order.
func merge(lines []Line) []Line {
	idx := make(map[string]int, len(lines))
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		if i, ok := idx[l.ProductID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		idx[l.ProductID] = len(out)
		out = append(out, l)
	}
	return out
}
