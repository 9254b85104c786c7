// Package order owns order creation and the order lifecycle state machine.
package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// PaymentMethod enumerates the supported payment methods.
type PaymentMethod string

const (
	PaymentCOD      PaymentMethod = "COD"
	PaymentRazorpay PaymentMethod = "Razorpay"
)

// Valid reports whether m is a recognized payment method.
func (m PaymentMethod) Valid() bool {
	return m == PaymentCOD || m == PaymentRazorpay
}

// PaymentStatus enumerates the payment settlement states.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "Pending"
	PaymentPaid    PaymentStatus = "Paid"
)

// Status enumerates the fulfillment states. The recognized progression is
// Placed -> Processing -> Shipped -> Delivered, with Cancelled reachable from
// any state before Delivered. Delivered and Cancelled are terminal.
type Status string

const (
	StatusPlaced     Status = "Order Placed"
	StatusProcessing Status = "Processing"
	StatusShipped    Status = "Shipped"
	StatusDelivered  Status = "Delivered"
	StatusCancelled  Status = "Cancelled"
)

// next maps each non-terminal status to its single forward successor.
var next = map[Status]Status{
	StatusPlaced:     StatusProcessing,
	StatusProcessing: StatusShipped,
	StatusShipped:    StatusDelivered,
}

// Valid reports whether s is a recognized fulfillment status.
func (s Status) Valid() bool {
	switch s {
	case StatusPlaced, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// CanAdvanceTo reports whether target is a legal single-step transition from
// s: the next status in the forward progression, or Cancelled from any
// non-terminal state. Backward and skipped transitions are rejected.
func (s Status) CanAdvanceTo(target Status) bool {
	if target == StatusCancelled {
		return !s.Terminal()
	}
	return next[s] == target
}

// LineItem is a single purchased product variant within an order.
type LineItem struct {
	ProductID         string          `json:"product_id"`
	Quantity          int             `json:"quantity"`
	Color             string          `json:"color,omitempty"`
	Size              string          `json:"size,omitempty"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	IsCustomDesign    bool            `json:"is_custom_design,omitempty"`
	CustomDesignImage string          `json:"custom_design_image,omitempty"`
}

// Order is a durable record of a placed order. Orders are never deleted;
// they are only status-terminated.
type Order struct {
	ID            string
	UserID        string
	Items         []LineItem
	Amount        decimal.Decimal
	AddressID     string
	Status        Status
	PaymentMethod PaymentMethod
	PaymentStatus PaymentStatus
	CreatedAt     time.Time
}

// Sentinel errors for order operations.
var (
	ErrNotFound           = errors.New("order not found")
	ErrEmptyItems         = errors.New("items required")
	ErrAmountMismatch     = errors.New("order amount mismatch")
	ErrPaymentNotVerified = errors.New("payment not verified")
)

// InvalidQuantityError indicates a line item with a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// InvalidTransitionError indicates a rejected lifecycle transition.
type InvalidTransitionError struct {
	From   string
	To     string
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid transition %s -> %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// Repository defines persistence operations for orders. The conditional
// updates compare against the expected current value and must return
// storage.ErrConcurrencyConflict when the row exists but the expectation no
// longer holds, and ErrNotFound when the row is missing.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	UpdateStatus(ctx context.Context, id string, from, to Status) error
	UpdatePaymentStatus(ctx context.Context, id string, from, to PaymentStatus) error
}
