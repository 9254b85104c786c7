// Package returns manages post-delivery return and refund requests.
package returns

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Reason enumerates the accepted grounds for a return.
type Reason string

const (
	ReasonWrongSize      Reason = "wrong_size"
	ReasonDamaged        Reason = "damaged"
	ReasonNotAsDescribed Reason = "not_as_described"
	ReasonQualityIssue   Reason = "quality_issue"
	ReasonOther          Reason = "other"
)

// Valid reports whether r is a recognized return reason.
func (r Reason) Valid() bool {
	switch r {
	case ReasonWrongSize, ReasonDamaged, ReasonNotAsDescribed, ReasonQualityIssue, ReasonOther:
		return true
	}
	return false
}

// Status enumerates the return request lifecycle states:
// Pending -> Approved or Rejected; Approved -> Picked Up -> Refund Processed.
type Status string

const (
	StatusPending         Status = "Pending"
	StatusApproved        Status = "Approved"
	StatusRejected        Status = "Rejected"
	StatusPickedUp        Status = "Picked Up"
	StatusRefundProcessed Status = "Refund Processed"
)

// next maps each status to its single forward successor past the
// approve/reject fork.
var next = map[Status]Status{
	StatusApproved: StatusPickedUp,
	StatusPickedUp: StatusRefundProcessed,
}

// CanAdvanceTo reports whether target is a legal transition from s.
func (s Status) CanAdvanceTo(target Status) bool {
	if s == StatusPending {
		return target == StatusApproved || target == StatusRejected
	}
	return next[s] == target
}

// RefundMethod enumerates how an approved refund is paid out.
type RefundMethod string

const (
	RefundOriginal    RefundMethod = "original"
	RefundStoreCredit RefundMethod = "store_credit"
)

// Valid reports whether m is a recognized refund method.
func (m RefundMethod) Valid() bool {
	return m == RefundOriginal || m == RefundStoreCredit
}

// ItemRef identifies a returned order line item.
type ItemRef struct {
	ProductID string `json:"product_id"`
	Color     string `json:"color,omitempty"`
	Size      string `json:"size,omitempty"`
	Quantity  int    `json:"quantity"`
}

// Request is a durable return/refund request against a delivered order.
type Request struct {
	ID            string
	OrderID       string
	UserID        string
	Items         []ItemRef
	Reason        Reason
	Description   string
	RefundAmount  decimal.Decimal
	RefundMethod  RefundMethod
	Status        Status
	AdminResponse string
	CreatedAt     time.Time
}

// Sentinel errors for return operations.
var (
	ErrNotFound         = errors.New("return request not found")
	ErrOrderNotEligible = errors.New("order not eligible for return")
)

// ItemNotOnOrderError indicates a return item that does not match any line
// item on the referenced order.
type ItemNotOnOrderError struct {
	ProductID string
}

func (e *ItemNotOnOrderError) Error() string {
	return fmt.Sprintf("product %s is not on the order", e.ProductID)
}

// InvalidTransitionError indicates a rejected return status transition.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid return transition %s -> %s", e.From, e.To)
}

// Repository defines persistence operations for return requests.
// UpdateStatus is conditional on the current status and must return
// storage.ErrConcurrencyConflict when the row exists but the expectation no
// longer holds, and ErrNotFound when the row is missing.
type Repository interface {
	Create(ctx context.Context, r *Request) error
	Get(ctx context.Context, id string) (*Request, error)
	ListByOrder(ctx context.Context, orderID string) ([]Request, error)
	UpdateStatus(ctx context.Context, id string, from, to Status, adminResponse string) error
}
