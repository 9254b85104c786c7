package returns

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vastramlabs/vastram-core/internal/domain/order"
	"github.com/vastramlabs/vastram-core/internal/domain/storage"
)

// OrderStore is the read access the workflow needs on orders.
type OrderStore interface {
	Get(ctx context.Context, id string) (*order.Order, error)
}

// RefundFunc is invoked when a request reaches Refund Processed. Delivery is
// at least once per request, so implementations must be idempotent per order
// ID. It drives the compensating reversal of any referral commission
// previously credited for the order.
type RefundFunc func(ctx context.Context, orderID string) error

// OpenRequestInput holds the input for opening a return request.
type OpenRequestInput struct {
	OrderID      string
	UserID       string
	Items        []ItemRef
	Reason       Reason
	Description  string
	RefundMethod RefundMethod
}

// Service encapsulates the return/refund workflow.
type Service struct {
	requests Repository
	orders   OrderStore
	onRefund RefundFunc
	now      func() time.Time
}

// NewService creates a returns Service. onRefund may be nil when no referral
// reversal is wired.
func NewService(requests Repository, orders OrderStore, onRefund RefundFunc) *Service {
	return &Service{
		requests: requests,
		orders:   orders,
		onRefund: onRefund,
		now:      time.Now,
	}
}

// OpenRequest opens a return request against a delivered order owned by the
// given user. The refund amount is the summed recorded value of the
// referenced line items, capped at the order's paid amount. Return quantities
// exceeding the ordered quantity are clamped to it.
func (s *Service) OpenRequest(ctx context.Context, in OpenRequestInput) (*Request, error) {
	if len(in.Items) == 0 {
		return nil, errors.New("items required")
	}
	if !in.Reason.Valid() {
		return nil, errors.Errorf("unknown return reason %q", in.Reason)
	}
	if !in.RefundMethod.Valid() {
		return nil, errors.Errorf("unknown refund method %q", in.RefundMethod)
	}

	o, err := s.orders.Get(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	// Ownership failures look identical to a missing order.
	if o.UserID != in.UserID {
		return nil, order.ErrNotFound
	}
	if o.Status != order.StatusDelivered {
		return nil, errors.Wrapf(ErrOrderNotEligible, "order status is %q", o.Status)
	}

	refund, err := refundAmount(o, in.Items)
	if err != nil {
		return nil, err
	}

	r := &Request{
		ID:           uuid.New().String(),
		OrderID:      in.OrderID,
		UserID:       in.UserID,
		Items:        in.Items,
		Reason:       in.Reason,
		Description:  in.Description,
		RefundAmount: refund,
		RefundMethod: in.RefundMethod,
		Status:       StatusPending,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.requests.Create(ctx, r); err != nil {
		return nil, errors.Wrap(err, "create return request")
	}
	return r, nil
}

// refundAmount sums unit price * quantity for each referenced line item,
// capped at the order's paid amount.
func refundAmount(o *order.Order, items []ItemRef) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, ref := range items {
		if ref.Quantity <= 0 {
			return decimal.Zero, errors.Errorf("quantity must be greater than 0 for product %s", ref.ProductID)
		}

		line, ok := findLineItem(o, ref)
		if !ok {
			return decimal.Zero, &ItemNotOnOrderError{ProductID: ref.ProductID}
		}

		qty := min(ref.Quantity, line.Quantity)
		total = total.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(qty))))
	}

	return decimal.Min(total.Round(2), o.Amount), nil
}

func findLineItem(o *order.Order, ref ItemRef) (order.LineItem, bool) {
	for _, li := range o.Items {
		if li.ProductID == ref.ProductID && li.Color == ref.Color && li.Size == ref.Size {
			return li, true
		}
	}
	return order.LineItem{}, false
}

// Resolve decides a pending request: Approved or Rejected, with an admin
// response recorded on the request.
func (s *Service) Resolve(ctx context.Context, requestID string, decision Status, adminResponse string) error {
	if decision != StatusApproved && decision != StatusRejected {
		return errors.Errorf("decision must be %q or %q", StatusApproved, StatusRejected)
	}

	return storage.WithRetry(ctx, func(ctx context.Context) error {
		r, err := s.requests.Get(ctx, requestID)
		if err != nil {
			return err
		}
		if r.Status != StatusPending {
			return &InvalidTransitionError{From: r.Status, To: decision}
		}
		return s.requests.UpdateStatus(ctx, requestID, StatusPending, decision, adminResponse)
	})
}

// Advance moves an approved request one step forward:
// Approved -> Picked Up -> Refund Processed. On transition to Refund
// Processed the refund hook is delivered at least once: it fires after the
// status update commits, and again on re-applied Refund Processed calls, so
// a hook failure after the commit is recoverable by retrying. The referral
// ledger's reversed flag turns at-least-once delivery into an exactly-once
// reversal.
func (s *Service) Advance(ctx context.Context, requestID string, target Status) error {
	return storage.WithRetry(ctx, func(ctx context.Context) error {
		r, err := s.requests.Get(ctx, requestID)
		if err != nil {
			return err
		}
		if r.Status == target {
			// Already committed, possibly by an attempt whose hook failed
			// afterwards. Redeliver instead of dropping it.
			return s.fireRefund(ctx, r, target)
		}
		if !r.Status.CanAdvanceTo(target) || target == StatusApproved || target == StatusRejected {
			return &InvalidTransitionError{From: r.Status, To: target}
		}
		if err := s.requests.UpdateStatus(ctx, requestID, r.Status, target, ""); err != nil {
			return err
		}
		return s.fireRefund(ctx, r, target)
	})
}

// fireRefund delivers the refund-processed signal for a request. Callers may
// invoke it more than once for the same request; the hook is required to be
// idempotent per order ID.
func (s *Service) fireRefund(ctx context.Context, r *Request, target Status) error {
	if target != StatusRefundProcessed || s.onRefund == nil {
		return nil
	}
	return s.onRefund(ctx, r.OrderID)
}

// Get returns the request with the given ID.
func (s *Service) Get(ctx context.Context, requestID string) (*Request, error) {
	return s.requests.Get(ctx, requestID)
}

// ListByOrder returns all return requests filed against the given order.
func (s *Service) ListByOrder(ctx context.Context, orderID string) ([]Request, error) {
	return s.requests.ListByOrder(ctx, orderID)
}
