package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/go-grocery-orders/internal/apperr"
	"github.com/ariefcatur/go-grocery-orders/internal/cart"
	"github.com/ariefcatur/go-grocery-orders/internal/orders"
	"github.com/ariefcatur/go-grocery-orders/internal/pricing"
	"github.com/ariefcatur/go-grocery-orders/internal/redisx"
	"github.com/ariefcatur/go-grocery-orders/internal/slots"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type OrdersHandler struct {
	Service *orders.Service
	Cache   *redisx.StatusCache      // optional
	Idem    *redisx.IdempotencyIndex // optional
	Carts   CartStore                // optional; used when a checkout request has no items
	Log     zerolog.Logger
}

type CreateOrderReq struct {
	AddressID     string               `json:"address_id"`
	SlotID        string               `json:"slot_id"`
	PaymentMethod orders.PaymentMethod `json:"payment_method"`
	Items         []cart.Line          `json:"items"`
	CouponCode    string               `json:"coupon_code,omitempty"`
}

type CreateOrderResp struct {
	Order    *orders.Order `json:"order"`
	Replayed bool          `json:"replayed"`
}

type cancelReq struct {
	Reason string `json:"reason"`
}

type paymentReq struct {
	PaymentRef string `json:"payment_ref"`
}

type advanceReq struct {
	Status orders.Status `json:"status"`
	Note   string        `json:"note"`
}

type applyCouponReq struct {
	Code     string        `json:"code"`
	Subtotal pricing.Money `json:"subtotal"`
}

type orderStatus struct {
	OrderID       string               `json:"order_id"`
	UserID        string               `json:"user_id"`
	Status        orders.Status        `json:"status"`
	PaymentStatus orders.PaymentStatus `json:"payment_status"`
}

// Register mounts shopper routes on an authenticated router.
func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/history", h.history)
	r.Get("/orders/{id}/status", h.status)
	r.Post("/orders/{id}/cancel", h.cancel)
	r.Post("/orders/{id}/payment", h.confirmPayment)
	r.Post("/coupons/apply", h.applyCoupon)
	r.Get("/slots", h.listSlots)
}

// RegisterAdmin mounts operator routes; the caller guards them with RequireAdmin.
func (h *OrdersHandler) RegisterAdmin(r chi.Router) {
	r.Post("/admin/orders/{id}/status", h.advance)
	r.Post("/admin/orders/{id}/cancel", h.adminCancel)
}

func userID(r *http.Request) string {
	id, _ := IdentityFrom(r.Context())
	return id.UserID
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}
	uid := userID(r)
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))

	// Fast path only; the unique index on orders stays the source of truth.
	if key != "" && h.Idem != nil {
		if id, ok := h.Idem.Lookup(r.Context(), uid, key); ok {
			// flagged orders go through the service, which reports them as partial failures
			if o, err := h.Service.GetOrder(r.Context(), id, uid); err == nil && !o.NeedsReconciliation {
				writeJSON(w, http.StatusOK, CreateOrderResp{Order: o, Replayed: true})
				return
			}
		}
	}

	if len(req.Items) == 0 && h.Carts != nil {
		c, err := h.Carts.Get(r.Context(), uid)
		if err != nil {
			writeError(w, r, h.Log, err)
			return
		}
		req.Items = c.Lines
	}

	res, err := h.Service.CreateOrder(r.Context(), orders.CreateOrderInput{
		UserID:         uid,
		AddressID:      req.AddressID,
		SlotID:         req.SlotID,
		PaymentMethod:  req.PaymentMethod,
		Items:          req.Items,
		CouponCode:     req.CouponCode,
		IdempotencyKey: key,
	})
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}

	if key != "" && h.Idem != nil {
		if err := h.Idem.Remember(r.Context(), uid, key, res.Order.ID); err != nil {
			h.Log.Warn().Err(err).Str("order_id", res.Order.ID).Msg("idempotency index write failed")
		}
	}
	code := http.StatusCreated
	if res.Replayed {
		code = http.StatusOK
	}
	writeJSON(w, code, CreateOrderResp{Order: res.Order, Replayed: res.Replayed})
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.ListOrders(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Service.GetOrder(r.Context(), chi.URLParam(r, "id"), userID(r))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) history(w http.ResponseWriter, r *http.Request) {
	hist, err := h.Service.OrderHistory(r.Context(), chi.URLParam(r, "id"), userID(r))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

func (h *OrdersHandler) status(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	uid := userID(r)

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) cache
	if h.Cache != nil {
		if raw, ok := h.Cache.Get(ctx, orderID); ok {
			var st orderStatus
			if json.Unmarshal(raw, &st) == nil && st.UserID == uid {
				writeJSON(w, http.StatusOK, st)
				return
			}
		}
	}

	// 2) fallback DB
	o, err := h.Service.GetOrder(ctx, orderID, uid)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	st := orderStatus{OrderID: o.ID, UserID: o.UserID, Status: o.Status, PaymentStatus: o.PaymentStatus}
	if h.Cache != nil {
		if err := h.Cache.Set(ctx, orderID, st); err != nil {
			h.Log.Warn().Err(err).Str("order_id", orderID).Msg("status cache write failed")
		}
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelReq
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
			return
		}
	}
	h.doCancel(w, r, orders.CancelInput{
		OrderID: chi.URLParam(r, "id"), UserID: userID(r), Reason: req.Reason, Actor: orders.ActorCustomer,
	})
}

func (h *OrdersHandler) adminCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelReq
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
			return
		}
	}
	h.doCancel(w, r, orders.CancelInput{
		OrderID: chi.URLParam(r, "id"), Reason: req.Reason, Actor: "admin:" + userID(r),
	})
}

func (h *OrdersHandler) doCancel(w http.ResponseWriter, r *http.Request, in orders.CancelInput) {
	if err := h.Service.CancelOrder(r.Context(), in); err != nil {
		var pf *apperr.PartialFailureError
		if errors.As(err, &pf) {
			// The cancel itself went through; compensation is left to reconciliation.
			h.Log.Error().Err(err).Str("order_id", in.OrderID).Msg("cancel compensation incomplete")
			writeJSON(w, http.StatusAccepted, map[string]string{"status": string(orders.StatusCancelled), "reference": pf.OrderID})
			return
		}
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(orders.StatusCancelled)})
}

func (h *OrdersHandler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentReq
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}
	o, err := h.Service.ConfirmPayment(r.Context(), orders.ConfirmPaymentInput{
		OrderID: chi.URLParam(r, "id"), UserID: userID(r), PaymentRef: req.PaymentRef,
	})
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) advance(w http.ResponseWriter, r *http.Request) {
	var req advanceReq
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}
	o, err := h.Service.AdvanceStatus(r.Context(), orders.AdvanceInput{
		OrderID: chi.URLParam(r, "id"), To: req.Status, Note: req.Note, Actor: "admin:" + userID(r),
	})
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) applyCoupon(w http.ResponseWriter, r *http.Request) {
	var req applyCouponReq
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}
	res, err := h.Service.ApplyCoupon(r.Context(), req.Code, userID(r), req.Subtotal)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *OrdersHandler) listSlots(w http.ResponseWriter, r *http.Request) {
	day := time.Now()
	if d := r.URL.Query().Get("date"); d != "" {
		parsed, err := time.Parse("2006-01-02", d)
		if err != nil {
			writeError(w, r, h.Log, apperr.Invalid("date must be YYYY-MM-DD"))
			return
		}
		day = parsed
	}
	list, err := h.Service.ListAvailableSlots(r.Context(), day, r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	if list == nil {
		list = []slots.Slot{}
	}
	writeJSON(w, http.StatusOK, list)
}
