package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vastramlabs/vastram-core/internal/domain/cart"
	"github.com/vastramlabs/vastram-core/internal/domain/catalog"
	"github.com/vastramlabs/vastram-core/internal/domain/storage"
)

// amountTolerance is the minor-unit rounding tolerance within which the
// client-claimed total must match the computed total.
var amountTolerance = decimal.New(1, -2) // 0.01

// CompletionFunc is invoked when an order reaches Delivered. Delivery is at
// least once per order, so implementations must be idempotent per order ID.
// It feeds the referral ledger's qualifying-completion input.
type CompletionFunc func(ctx context.Context, orderID, userID string, amount decimal.Decimal) error

// CreateOrderRequest holds the input for creating an order.
type CreateOrderRequest struct {
	UserID        string
	Entries       []cart.Entry
	AddressID     string
	PaymentMethod PaymentMethod
	// ShippingFee is the externally computed shipping/tax amount added on
	// top of the item subtotal.
	ShippingFee decimal.Decimal
	// ExpectedAmount is the total the caller claims to charge. It must
	// reconcile with the computed total within the minor-unit tolerance.
	ExpectedAmount decimal.Decimal
	// CustomDesigns maps an entry's encoded line-item key to an uploaded
	// design image for made-to-order items.
	CustomDesigns map[string]string
}

// Service encapsulates order creation and lifecycle transitions.
type Service struct {
	orders       Repository
	inventory    catalog.Inventory
	pricing      catalog.Pricing
	onCompletion CompletionFunc
	now          func() time.Time
}

// NewService creates an order Service. onCompletion may be nil when no
// referral crediting is wired.
func NewService(
	orders Repository,
	inventory catalog.Inventory,
	pricing catalog.Pricing,
	onCompletion CompletionFunc,
) *Service {
	return &Service{
		orders:       orders,
		inventory:    inventory,
		pricing:      pricing,
		onCompletion: onCompletion,
		now:          time.Now,
	}
}

// CreateOrder validates the cart entries, resolves unit prices, reserves
// stock, reconciles the claimed amount, and persists the order in its initial
// state (Order Placed / payment Pending).
//
// Stock reservation and order creation are effectively atomic: every reserved
// entry is released again if any later step fails, so a failed call never
// leaves stock decremented without a persisted order.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	if len(req.Entries) == 0 {
		return nil, ErrEmptyItems
	}
	if !req.PaymentMethod.Valid() {
		return nil, errors.Errorf("unsupported payment method %q", req.PaymentMethod)
	}

	for _, e := range req.Entries {
		if e.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: e.ProductID}
		}
	}

	// Resolve prices before touching stock.
	items := make([]LineItem, len(req.Entries))
	subtotal := decimal.Zero
	for i, e := range req.Entries {
		v := catalog.Variant{Color: e.Color, Size: e.Size}
		price, err := s.pricing.UnitPrice(ctx, e.ProductID, v)
		if err != nil {
			return nil, errors.Wrapf(err, "resolve price for product %s", e.ProductID)
		}

		items[i] = LineItem{
			ProductID: e.ProductID,
			Quantity:  e.Quantity,
			Color:     e.Color,
			Size:      e.Size,
			UnitPrice: price,
		}
		if img, ok := s.customDesignFor(req.CustomDesigns, e); ok {
			items[i].IsCustomDesign = true
			items[i].CustomDesignImage = img
		}

		subtotal = subtotal.Add(price.Mul(decimal.NewFromInt(int64(e.Quantity))))
	}

	total := subtotal.Add(req.ShippingFee).Round(2)
	if total.Sub(req.ExpectedAmount).Abs().GreaterThan(amountTolerance) {
		return nil, errors.Wrapf(ErrAmountMismatch, "computed %s, claimed %s", total, req.ExpectedAmount)
	}

	// Reserve stock entry by entry, compensating on any failure.
	reserved := make([]cart.Entry, 0, len(req.Entries))
	for _, e := range req.Entries {
		v := catalog.Variant{Color: e.Color, Size: e.Size}
		if err := s.inventory.ReserveStock(ctx, e.ProductID, v, e.Quantity); err != nil {
			s.releaseAll(ctx, reserved)
			return nil, err
		}
		reserved = append(reserved, e)
	}

	o := &Order{
		ID:            uuid.New().String(),
		UserID:        req.UserID,
		Items:         items,
		Amount:        total,
		AddressID:     req.AddressID,
		Status:        StatusPlaced,
		PaymentMethod: req.PaymentMethod,
		PaymentStatus: PaymentPending,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.orders.Create(ctx, o); err != nil {
		s.releaseAll(ctx, reserved)
		return nil, errors.Wrap(err, "create order")
	}

	return o, nil
}

func (s *Service) customDesignFor(designs map[string]string, e cart.Entry) (string, bool) {
	if len(designs) == 0 {
		return "", false
	}
	key, err := cart.Encode(e.ProductID, e.Color, e.Size)
	if err != nil {
		return "", false
	}
	img, ok := designs[key]
	return img, ok && img != ""
}

// releaseAll compensates partially reserved stock after an aborted creation.
func (s *Service) releaseAll(ctx context.Context, reserved []cart.Entry) {
	for _, e := range reserved {
		v := catalog.Variant{Color: e.Color, Size: e.Size}
		// Release is best effort; the inventory collaborator owns durable
		// reconciliation of failed compensations.
		_ = s.inventory.ReleaseStock(ctx, e.ProductID, v, e.Quantity)
	}
}

// MarkPaid transitions the order's payment status to Paid. Only verified
// non-COD orders in Pending state may transition; an already-Paid order is a
// no-op so provider callback retries cannot double-process.
func (s *Service) MarkPaid(ctx context.Context, orderID string, verified bool) error {
	return storage.WithRetry(ctx, func(ctx context.Context) error {
		o, err := s.orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if o.PaymentStatus == PaymentPaid {
			return nil
		}
		if o.PaymentMethod == PaymentCOD {
			return &InvalidTransitionError{
				From:   string(PaymentPending),
				To:     string(PaymentPaid),
				Reason: "COD orders settle outside payment verification",
			}
		}
		if !verified {
			return ErrPaymentNotVerified
		}
		return s.orders.UpdatePaymentStatus(ctx, orderID, PaymentPending, PaymentPaid)
	})
}

// AdvanceStatus moves the order one step along the forward-only fulfillment
// progression, or to Cancelled from any non-terminal state. Re-applying the
// order's current status is a no-op on the order itself.
//
// On transition to Delivered the completion hook is delivered at least once:
// it fires after the status update commits, and fires again on re-applied
// Delivered calls, so a hook failure after the commit is recoverable by
// retrying. The referral ledger's per-order marker turns at-least-once
// delivery into an exactly-once credit.
func (s *Service) AdvanceStatus(ctx context.Context, orderID string, target Status) error {
	if !target.Valid() {
		return &InvalidTransitionError{To: string(target), Reason: "unknown status"}
	}

	return storage.WithRetry(ctx, func(ctx context.Context) error {
		o, err := s.orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status == target {
			// The transition is already committed, possibly by an attempt
			// whose hook failed afterwards. Redeliver instead of dropping it.
			return s.fireCompletion(ctx, o, target)
		}
		if !o.Status.CanAdvanceTo(target) {
			return &InvalidTransitionError{From: string(o.Status), To: string(target)}
		}
		if err := s.orders.UpdateStatus(ctx, orderID, o.Status, target); err != nil {
			return err
		}
		return s.fireCompletion(ctx, o, target)
	})
}

// ForceStatus applies target regardless of the forward-only progression.
// Callers are responsible for authorizing it. Terminal orders are still
// immutable, and forcing Delivered fires the completion hook like a normal
// transition.
func (s *Service) ForceStatus(ctx context.Context, orderID string, target Status) error {
	if !target.Valid() {
		return &InvalidTransitionError{To: string(target), Reason: "unknown status"}
	}

	return storage.WithRetry(ctx, func(ctx context.Context) error {
		o, err := s.orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status == target {
			return s.fireCompletion(ctx, o, target)
		}
		if o.Status.Terminal() {
			return &InvalidTransitionError{
				From:   string(o.Status),
				To:     string(target),
				Reason: "terminal status",
			}
		}
		if err := s.orders.UpdateStatus(ctx, orderID, o.Status, target); err != nil {
			return err
		}
		return s.fireCompletion(ctx, o, target)
	})
}

// fireCompletion delivers the qualifying-completion signal for a Delivered
// order. Callers may invoke it more than once for the same order; the hook is
// required to be idempotent per order ID.
func (s *Service) fireCompletion(ctx context.Context, o *Order, target Status) error {
	if target != StatusDelivered || s.onCompletion == nil {
		return nil
	}
	return s.onCompletion(ctx, o.ID, o.UserID, o.Amount)
}

// Get returns the order with the given ID.
func (s *Service) Get(ctx context.Context, orderID string) (*Order, error) {
	return s.orders.Get(ctx, orderID)
}

// ListByUser returns all orders placed by the given user.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	return s.orders.ListByUser(ctx, userID)
}
