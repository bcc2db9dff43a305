package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/go-grocery-orders/internal/pricing"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// ErrGatewayUnavailable covers transport errors, 5xx answers and an open breaker.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

type verifyRequest struct {
	OrderID    string        `json:"order_id"`
	PaymentRef string        `json:"payment_ref"`
	Amount     pricing.Money `json:"amount"`
}

type verifyResponse struct {
	Status string        `json:"status"` // succeeded | failed
	Amount pricing.Money `json:"amount"`
}

// Client asks the gateway whether a payment reference settled. The gateway is opaque: it only
// answers pass or fail.
type Client struct {
	baseURL string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker[bool]
	log     zerolog.Logger
}

func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
	c.cb = gobreaker.NewCircuitBreaker[bool](gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	return c
}

func (c *Client) Verify(ctx context.Context, orderID, paymentRef string, amount pricing.Money) (bool, error) {
	ok, err := c.cb.Execute(func() (bool, error) {
		return c.verify(ctx, orderID, paymentRef, amount)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	return ok, err
}

func (c *Client) verify(ctx context.Context, orderID, paymentRef string, amount pricing.Money) (bool, error) {
	body, err := json.Marshal(verifyRequest{OrderID: orderID, PaymentRef: paymentRef, Amount: amount})
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payments/verify", bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return false, fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusPaymentRequired:
		return false, nil
	case resp.StatusCode >= 300:
		return false, fmt.Errorf("payment gateway: unexpected status %d", resp.StatusCode)
	}

	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("payment gateway: decode: %w", err)
	}
	if out.Status != "succeeded" {
		return false, nil
	}
	if out.Amount != 0 && out.Amount != amount {
		c.log.Warn().Str("order_id", orderID).Str("expected", amount.String()).Str("settled", out.Amount.String()).Msg("settled amount mismatch")
		return false, nil
	}
	return true, nil
}
