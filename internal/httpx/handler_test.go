package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-grocery-orders/internal/apperr"
	"github.com/ariefcatur/go-grocery-orders/internal/cart"
	"github.com/ariefcatur/go-grocery-orders/internal/coupon"
	"github.com/ariefcatur/go-grocery-orders/internal/inventory"
	"github.com/ariefcatur/go-grocery-orders/internal/memstore"
	"github.com/ariefcatur/go-grocery-orders/internal/orders"
	"github.com/ariefcatur/go-grocery-orders/internal/pricing"
	"github.com/ariefcatur/go-grocery-orders/internal/redisx"
	"github.com/ariefcatur/go-grocery-orders/internal/slots"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type testAPI struct {
	srv   *httptest.Server
	store *memstore.Store
	carts *cart.RedisStore
	auth  *Authenticator
	mr    *miniredis.Miniredis
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	rate := decimal.NewFromInt(18)
	st := memstore.New()
	st.Now = func() time.Time { return testNow }
	st.PutProduct(inventory.Product{ID: "p1", Name: "Milk", Price: 1000, TaxRate: rate, StockQuantity: 10, Active: true})
	st.PutProduct(inventory.Product{ID: "p2", Name: "Bread", Price: 2000, TaxRate: rate, StockQuantity: 1, Active: true})
	st.PutSlot(slots.Slot{ID: "slot-1", Date: testNow, StartTime: "10:00", EndTime: "12:00", Kind: slots.KindStandard, Capacity: 5, Active: true})
	st.PutAddress(orders.Address{ID: "addr-1", UserID: "u1", Name: "Ana", Line1: "Main St 1", City: "Pune", PostalCode: "411001"})
	st.PutCoupon(coupon.Coupon{ID: "c1", Code: "TENOFF", Type: coupon.Percentage, Value: decimal.NewFromInt(10), UsageLimit: 100, Active: true})

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	carts := cart.NewRedisStore(rdb)
	cache := &redisx.StatusCache{RDB: rdb}

	eval := coupon.NewEvaluator(st)
	eval.Now = func() time.Time { return testNow }
	svc := &orders.Service{
		Orders: st, Addresses: st, Inventory: st, Slots: st, Coupons: eval,
		Carts:     carts,
		Validator: &cart.Validator{Catalog: st},
		Policy:    pricing.Policy{DeliveryFee: 2500, FreeDeliveryThreshold: 50000, DefaultTaxRate: rate},
		Cache:     cache,
		Log:       zerolog.Nop(),
		Now:       func() time.Time { return testNow },
	}

	auth := &Authenticator{Secret: []byte("test-secret"), Log: zerolog.Nop()}
	r := NewRouter(zerolog.Nop())
	Mount(r, auth,
		&OrdersHandler{Service: svc, Cache: cache, Idem: &redisx.IdempotencyIndex{RDB: rdb}, Carts: carts, Log: zerolog.Nop()},
		&CartHandler{Carts: carts, Service: svc, Log: zerolog.Nop()},
	)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testAPI{srv: srv, store: st, carts: carts, auth: auth, mr: mr}
}

func (a *testAPI) token(t *testing.T, user, role string) string {
	t.Helper()
	tok, err := a.auth.IssueToken(user, role)
	require.NoError(t, err)
	return tok
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any, headers ...string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, a.srv.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(res.Body).Decode(&out)
	return res, out
}

func checkoutBody(items ...cart.Line) CreateOrderReq {
	return CreateOrderReq{AddressID: "addr-1", SlotID: "slot-1", PaymentMethod: orders.PaymentCOD, Items: items}
}

func TestCreateOrder_CreatedThenReplayed(t *testing.T) {
	api := newTestAPI(t)
	tok := api.token(t, "u1", "")
	body := checkoutBody(cart.Line{ProductID: "p1", Quantity: 2})

	res, out := api.do(t, http.MethodPost, "/orders", tok, body, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, res.StatusCode)
	first := out["order"].(map[string]any)["id"]

	res, out = api.do(t, http.MethodPost, "/orders", tok, body, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, true, out["replayed"])
	assert.Equal(t, first, out["order"].(map[string]any)["id"])
	assert.Equal(t, 8, api.store.Product("p1").StockQuantity)
}

func TestCreateOrder_UsesStoredCart(t *testing.T) {
	api := newTestAPI(t)
	tok := api.token(t, "u1", "")

	res, _ := api.do(t, http.MethodPut, "/cart/items/p1", tok, setQuantityReq{Quantity: 3})
	require.Equal(t, http.StatusOK, res.StatusCode)

	res, _ = api.do(t, http.MethodPost, "/orders", tok, checkoutBody())
	require.Equal(t, http.StatusCreated, res.StatusCode)
	assert.Equal(t, 7, api.store.Product("p1").StockQuantity)
	assert.False(t, api.mr.Exists("cart:u1"))
}

func TestErrorStatusMapping(t *testing.T) {
	api := newTestAPI(t)
	tok := api.token(t, "u1", "")

	res, out := api.do(t, http.MethodPost, "/orders", tok, CreateOrderReq{PaymentMethod: "cheque"})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Len(t, out["violations"], 3)

	res, _ = api.do(t, http.MethodPost, "/orders", "", checkoutBody(cart.Line{ProductID: "p1", Quantity: 1}))
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, _ = api.do(t, http.MethodGet, "/orders/missing", tok, nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	body := checkoutBody(cart.Line{ProductID: "p1", Quantity: 1})
	body.CouponCode = "NOPE"
	res, out = api.do(t, http.MethodPost, "/orders", tok, body)
	assert.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)
	assert.Equal(t, apperr.CouponNotFound, out["code"])

	res, _ = api.do(t, http.MethodPost, "/orders", tok, map[string]any{"bogus": true})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestCancel_ConflictOnSecondAttempt(t *testing.T) {
	api := newTestAPI(t)
	tok := api.token(t, "u1", "")
	_, out := api.do(t, http.MethodPost, "/orders", tok, checkoutBody(cart.Line{ProductID: "p1", Quantity: 2}))
	id := out["order"].(map[string]any)["id"].(string)

	res, _ := api.do(t, http.MethodPost, "/orders/"+id+"/cancel", tok, cancelReq{Reason: "changed my mind"})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, 10, api.store.Product("p1").StockQuantity)

	res, _ = api.do(t, http.MethodPost, "/orders/"+id+"/cancel", tok, nil)
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	res, _ = api.do(t, http.MethodPost, "/orders/"+id+"/cancel", api.token(t, "u2", ""), nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestPartialFailure_GenericMessage(t *testing.T) {
	api := newTestAPI(t)
	tok := api.token(t, "u1", "")
	api.store.Fail(memstore.OpReserveSlot, errors.New("connection reset by peer"))

	res, out := api.do(t, http.MethodPost, "/orders", tok, checkoutBody(cart.Line{ProductID: "p1", Quantity: 1}))
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Contains(t, out["error"], "contact support")
	assert.NotContains(t, out["error"], "connection reset")
	assert.NotEmpty(t, out["reference"])
}

func TestOutOfStock_Conflict(t *testing.T) {
	api := newTestAPI(t)
	tok := api.token(t, "u1", "")

	res, _ := api.do(t, http.MethodPost, "/orders", tok, checkoutBody(cart.Line{ProductID: "p2", Quantity: 1}))
	require.Equal(t, http.StatusCreated, res.StatusCode)

	res, out := api.do(t, http.MethodPost, "/orders", tok, checkoutBody(cart.Line{ProductID: "p2", Quantity: 1}))
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, "Bread is out of stock", out["error"])
	assert.Nil(t, out["violations"])
	assert.Equal(t, 0, api.store.Product("p2").StockQuantity)
}

func TestReplayAfterPartialFailure(t *testing.T) {
	api := newTestAPI(t)
	tok := api.token(t, "u1", "")
	api.store.Fail(memstore.OpReserveSlot, errors.New("connection reset by peer"))
	body := checkoutBody(cart.Line{ProductID: "p1", Quantity: 1})

	res, first := api.do(t, http.MethodPost, "/orders", tok, body, "Idempotency-Key", "k-9")
	require.Equal(t, http.StatusInternalServerError, res.StatusCode)
	ref := first["reference"]
	require.NotEmpty(t, ref)

	// seed the fast path the way a crashed earlier attempt could have
	require.NoError(t, (&redisx.IdempotencyIndex{RDB: redis.NewClient(&redis.Options{Addr: api.mr.Addr()})}).
		Remember(context.Background(), "u1", "k-9", ref.(string)))
	api.store.Heal(memstore.OpReserveSlot)

	res, again := api.do(t, http.MethodPost, "/orders", tok, body, "Idempotency-Key", "k-9")
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Equal(t, ref, again["reference"])
	assert.Contains(t, again["error"], "contact support")
	assert.Nil(t, again["order"])
}

func TestStatus_CachedPerOwner(t *testing.T) {
	api := newTestAPI(t)
	tok := api.token(t, "u1", "")
	_, out := api.do(t, http.MethodPost, "/orders", tok, checkoutBody(cart.Line{ProductID: "p1", Quantity: 1}))
	id := out["order"].(map[string]any)["id"].(string)

	res, out := api.do(t, http.MethodGet, "/orders/"+id+"/status", tok, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "pending", out["status"])
	assert.True(t, api.mr.Exists(fmt.Sprintf(redisx.KeyOrderStatus, id)))

	res, _ = api.do(t, http.MethodGet, "/orders/"+id+"/status", api.token(t, "u2", ""), nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res, _ = api.do(t, http.MethodPost, "/orders/"+id+"/cancel", tok, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.False(t, api.mr.Exists(fmt.Sprintf(redisx.KeyOrderStatus, id)))
}

func TestGuestToken(t *testing.T) {
	api := newTestAPI(t)
	res, out := api.do(t, http.MethodGet, "/orders", "", nil, "X-Guest-Token", "abc")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Nil(t, out)

	res, _ = api.do(t, http.MethodGet, "/orders", "", nil, "Authorization", "Bearer not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestAdminRoutes(t *testing.T) {
	api := newTestAPI(t)
	tok := api.token(t, "u1", "")
	_, out := api.do(t, http.MethodPost, "/orders", tok, checkoutBody(cart.Line{ProductID: "p1", Quantity: 1}))
	id := out["order"].(map[string]any)["id"].(string)

	res, _ := api.do(t, http.MethodPost, "/admin/orders/"+id+"/status", tok, advanceReq{Status: orders.StatusConfirmed})
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	admin := api.token(t, "ops-1", RoleAdmin)
	res, out = api.do(t, http.MethodPost, "/admin/orders/"+id+"/status", admin, advanceReq{Status: orders.StatusConfirmed, Note: "checked"})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "confirmed", out["status"])

	res, _ = api.do(t, http.MethodPost, "/admin/orders/"+id+"/status", admin, advanceReq{Status: orders.StatusDelivered})
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	res, _ = api.do(t, http.MethodPost, "/admin/orders/"+id+"/cancel", admin, cancelReq{Reason: "out of area"})
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestCouponApplyAndSlots(t *testing.T) {
	api := newTestAPI(t)
	tok := api.token(t, "u1", "")

	res, out := api.do(t, http.MethodPost, "/coupons/apply", tok, applyCouponReq{Code: "tenoff", Subtotal: 5000})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.EqualValues(t, 500, out["discount"])

	req, _ := http.NewRequest(http.MethodGet, api.srv.URL+"/slots?date=2026-03-01&type=standard", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()
	var list []map[string]any
	require.NoError(t, json.NewDecoder(raw.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, "slot-1", list[0]["id"])

	res, _ = api.do(t, http.MethodGet, "/slots?date=01-03-2026", tok, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestCartValidate(t *testing.T) {
	api := newTestAPI(t)
	tok := api.token(t, "u1", "")

	res, out := api.do(t, http.MethodPost, "/cart/validate", tok, validateReq{Items: []cart.Line{{ProductID: "p2", Quantity: 5}}})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, false, out["valid"])

	res, _ = api.do(t, http.MethodDelete, "/cart", tok, nil)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
}
