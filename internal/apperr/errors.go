package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is matched by every NotFoundError via errors.Is.
var ErrNotFound = errors.New("not found")

// ValidationError aggregates every problem found before any write happened.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return "validation failed"
	}
	return "validation failed: " + strings.Join(e.Violations, "; ")
}

func Invalid(violations ...string) *ValidationError {
	return &ValidationError{Violations: violations}
}

// StockError is returned when a conditional stock decrement did not match.
type StockError struct {
	ProductID   string
	ProductName string
	Requested   int
	Available   int
}

func (e *StockError) Error() string {
	name := e.ProductName
	if name == "" {
		name = e.ProductID
	}
	if e.Available <= 0 {
		return fmt.Sprintf("%s is out of stock", name)
	}
	return fmt.Sprintf("only %d left in stock for %s", e.Available, name)
}

type SlotError struct {
	SlotID string
	Reason string
}

func (e *SlotError) Error() string {
	return fmt.Sprintf("delivery slot %s: %s", e.SlotID, e.Reason)
}

// Coupon rejection reasons, in evaluation order.
const (
	CouponNotFound       = "not_found"
	CouponInactive       = "inactive"
	CouponNotStarted     = "not_started"
	CouponExpired        = "expired"
	CouponUsageExhausted = "usage_limit_reached"
	CouponUserLimit      = "per_user_limit_reached"
	CouponMinAmount      = "min_order_amount_not_met"
)

type CouponError struct {
	Code   string
	Reason string
	Detail string
}

func (e *CouponError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("coupon %s rejected: %s (%s)", e.Code, e.Reason, e.Detail)
	}
	return fmt.Sprintf("coupon %s rejected: %s", e.Code, e.Reason)
}

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func NotFound(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string { return "unauthorized: " + e.Reason }

// ConflictError reports a state-machine rejection, e.g. cancelling a delivered order.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return e.Reason }

// PaymentError is a declined or unverifiable payment; the order stays payable.
type PaymentError struct {
	OrderID string
	Reason  string
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("payment for order %s: %s", e.OrderID, e.Reason)
}

// PartialFailureError means a later pipeline step failed after earlier ones committed.
// It carries what a reconciliation pass needs to repair the order.
type PartialFailureError struct {
	OrderID     string
	OrderNumber string
	Step        string
	ItemID      string
	Err         error
}

func (e *PartialFailureError) Error() string {
	if e.ItemID != "" {
		return fmt.Sprintf("order %s partially failed at %s (item %s): %v", e.OrderID, e.Step, e.ItemID, e.Err)
	}
	return fmt.Sprintf("order %s partially failed at %s: %v", e.OrderID, e.Step, e.Err)
}

func (e *PartialFailureError) Unwrap() error { return e.Err }

// PublicMessage is what a shopper sees; reconciliation details stay internal.
func (e *PartialFailureError) PublicMessage() string {
	return "order could not be completed, please contact support with reference " + e.OrderID
}
