package httpx

import (
	"context"
	"net/http"

	"github.com/ariefcatur/go-grocery-orders/internal/apperr"
	"github.com/ariefcatur/go-grocery-orders/internal/cart"
	"github.com/ariefcatur/go-grocery-orders/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type CartStore interface {
	Get(ctx context.Context, userID string) (cart.Cart, error)
	SetQuantity(ctx context.Context, userID, productID string, qty int) error
	Clear(ctx context.Context, userID string) error
}

type CartHandler struct {
	Carts   CartStore
	Service *orders.Service
	Log     zerolog.Logger
}

type setQuantityReq struct {
	Quantity int `json:"quantity"`
}

type validateReq struct {
	Items []cart.Line `json:"items"`
}

func (h *CartHandler) Register(r chi.Router) {
	r.Get("/cart", h.get)
	r.Put("/cart/items/{productID}", h.setQuantity)
	r.Delete("/cart/items/{productID}", h.remove)
	r.Delete("/cart", h.clear)
	r.Post("/cart/validate", h.validate)
}

func (h *CartHandler) get(w http.ResponseWriter, r *http.Request) {
	c, err := h.Carts.Get(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *CartHandler) setQuantity(w http.ResponseWriter, r *http.Request) {
	var req setQuantityReq
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}
	if req.Quantity < 0 {
		writeError(w, r, h.Log, apperr.Invalid("quantity must not be negative"))
		return
	}
	h.update(w, r, chi.URLParam(r, "productID"), req.Quantity)
}

func (h *CartHandler) remove(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, chi.URLParam(r, "productID"), 0)
}

func (h *CartHandler) update(w http.ResponseWriter, r *http.Request, productID string, qty int) {
	uid := userID(r)
	if err := h.Carts.SetQuantity(r.Context(), uid, productID, qty); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	h.get(w, r)
}

func (h *CartHandler) clear(w http.ResponseWriter, r *http.Request) {
	if err := h.Carts.Clear(r.Context(), userID(r)); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// validate checks the posted lines, or the stored cart when the body has none.
func (h *CartHandler) validate(w http.ResponseWriter, r *http.Request) {
	var req validateReq
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
			return
		}
	}
	lines := req.Items
	if len(lines) == 0 {
		c, err := h.Carts.Get(r.Context(), userID(r))
		if err != nil {
			writeError(w, r, h.Log, err)
			return
		}
		lines = c.Lines
	}
	res, err := h.Service.ValidateCart(r.Context(), lines)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
