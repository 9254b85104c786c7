package returns

import (
	"context"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/vastramlabs/vastram-core/internal/domain/order"
	"github.com/vastramlabs/vastram-core/internal/domain/storage"
)

// --- Mock implementations ---

type mockOrderStore struct {
	orders map[string]*order.Order
}

func (m *mockOrderStore) Get(_ context.Context, id string) (*order.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o, nil
}

type mockRequestRepo struct {
	mu       sync.Mutex
	requests map[string]*Request
}

func newMockRequestRepo() *mockRequestRepo {
	return &mockRequestRepo{requests: make(map[string]*Request)}
}

func (m *mockRequestRepo) Create(_ context.Context, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *mockRequestRepo) Get(_ context.Context, id string) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockRequestRepo) ListByOrder(_ context.Context, orderID string) ([]Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Request
	for _, r := range m.requests {
		if r.OrderID == orderID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *mockRequestRepo) UpdateStatus(_ context.Context, id string, from, to Status, adminResponse string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return ErrNotFound
	}
	if r.Status != from {
		return storage.ErrConcurrencyConflict
	}
	r.Status = to
	if adminResponse != "" {
		r.AdminResponse = adminResponse
	}
	return nil
}

// --- Helpers ---

func deliveredOrder() *order.Order {
	return &order.Order{
		ID:     "o1",
		UserID: "u1",
		Items: []order.LineItem{
			{ProductID: "p1", Quantity: 2, Color: "red", Size: "M", UnitPrice: decimal.RequireFromString("500.00")},
			{ProductID: "p2", Quantity: 1, UnitPrice: decimal.RequireFromString("300.00")},
		},
		Amount:        decimal.RequireFromString("1600.00"), // incl. 300 shipping
		Status:        order.StatusDelivered,
		PaymentMethod: order.PaymentRazorpay,
		PaymentStatus: order.PaymentPaid,
	}
}

type fixture struct {
	repo    *mockRequestRepo
	orders  *mockOrderStore
	refunds []string
	mu      sync.Mutex
	svc     *Service
}

func newFixture(orders ...*order.Order) *fixture {
	f := &fixture{
		repo:   newMockRequestRepo(),
		orders: &mockOrderStore{orders: make(map[string]*order.Order)},
	}
	for _, o := range orders {
		f.orders.orders[o.ID] = o
	}
	f.svc = NewService(f.repo, f.orders, func(_ context.Context, orderID string) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.refunds = append(f.refunds, orderID)
		return nil
	})
	return f
}

func (f *fixture) openedRequest(t *testing.T) *Request {
	t.Helper()
	r, err := f.svc.OpenRequest(context.Background(), OpenRequestInput{
		OrderID:      "o1",
		UserID:       "u1",
		Items:        []ItemRef{{ProductID: "p2", Quantity: 1}},
		Reason:       ReasonDamaged,
		Description:  "arrived torn",
		RefundMethod: RefundOriginal,
	})
	require.NoError(t, err)
	return r
}

// --- OpenRequest ---

func TestOpenRequest_Success(t *testing.T) {
	f := newFixture(deliveredOrder())

	r, err := f.svc.OpenRequest(context.Background(), OpenRequestInput{
		OrderID: "o1",
		UserID:  "u1",
		Items: []ItemRef{
			{ProductID: "p1", Color: "red", Size: "M", Quantity: 2},
			{ProductID: "p2", Quantity: 1},
		},
		Reason:       ReasonWrongSize,
		RefundMethod: RefundOriginal,
	})

	require.NoError(t, err)
	assert.Equal(t, StatusPending, r.Status)
	// 2 x 500 + 1 x 300 = 1300, below the 1600 paid amount.
	assert.True(t, decimal.RequireFromString("1300.00").Equal(r.RefundAmount))
}

func TestOpenRequest_RefundCappedAtPaidAmount(t *testing.T) {
	o := deliveredOrder()
	o.Amount = decimal.RequireFromString("900.00")
	f := newFixture(o)

	r, err := f.svc.OpenRequest(context.Background(), OpenRequestInput{
		OrderID:      "o1",
		UserID:       "u1",
		Items:        []ItemRef{{ProductID: "p1", Color: "red", Size: "M", Quantity: 2}},
		Reason:       ReasonDamaged,
		RefundMethod: RefundOriginal,
	})

	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("900.00").Equal(r.RefundAmount))
}

func TestOpenRequest_QuantityClampedToOrdered(t *testing.T) {
	f := newFixture(deliveredOrder())

	r, err := f.svc.OpenRequest(context.Background(), OpenRequestInput{
		OrderID:      "o1",
		UserID:       "u1",
		Items:        []ItemRef{{ProductID: "p2", Quantity: 5}}, // only 1 ordered
		Reason:       ReasonDamaged,
		RefundMethod: RefundStoreCredit,
	})

	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("300.00").Equal(r.RefundAmount))
}

func TestOpenRequest_NotDelivered(t *testing.T) {
	o := deliveredOrder()
	o.Status = order.StatusProcessing
	f := newFixture(o)

	_, err := f.svc.OpenRequest(context.Background(), OpenRequestInput{
		OrderID:      "o1",
		UserID:       "u1",
		Items:        []ItemRef{{ProductID: "p2", Quantity: 1}},
		Reason:       ReasonDamaged,
		RefundMethod: RefundOriginal,
	})

	require.ErrorIs(t, err, ErrOrderNotEligible)
}

func TestOpenRequest_OrderNotFound(t *testing.T) {
	f := newFixture()

	_, err := f.svc.OpenRequest(context.Background(), OpenRequestInput{
		OrderID:      "missing",
		UserID:       "u1",
		Items:        []ItemRef{{ProductID: "p2", Quantity: 1}},
		Reason:       ReasonDamaged,
		RefundMethod: RefundOriginal,
	})

	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestOpenRequest_WrongOwnerLooksLikeNotFound(t *testing.T) {
	f := newFixture(deliveredOrder())

	_, err := f.svc.OpenRequest(context.Background(), OpenRequestInput{
		OrderID:      "o1",
		UserID:       "intruder",
		Items:        []ItemRef{{ProductID: "p2", Quantity: 1}},
		Reason:       ReasonDamaged,
		RefundMethod: RefundOriginal,
	})

	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestOpenRequest_ItemNotOnOrder(t *testing.T) {
	f := newFixture(deliveredOrder())

	_, err := f.svc.OpenRequest(context.Background(), OpenRequestInput{
		OrderID:      "o1",
		UserID:       "u1",
		Items:        []ItemRef{{ProductID: "p9", Quantity: 1}},
		Reason:       ReasonDamaged,
		RefundMethod: RefundOriginal,
	})

	var inErr *ItemNotOnOrderError
	require.ErrorAs(t, err, &inErr)
	assert.Equal(t, "p9", inErr.ProductID)
}

func TestOpenRequest_VariantMustMatch(t *testing.T) {
	f := newFixture(deliveredOrder())

	// p1 was ordered in red/M; blue/M is not on the order.
	_, err := f.svc.OpenRequest(context.Background(), OpenRequestInput{
		OrderID:      "o1",
		UserID:       "u1",
		Items:        []ItemRef{{ProductID: "p1", Color: "blue", Size: "M", Quantity: 1}},
		Reason:       ReasonWrongSize,
		RefundMethod: RefundOriginal,
	})

	var inErr *ItemNotOnOrderError
	require.ErrorAs(t, err, &inErr)
}

func TestOpenRequest_UnknownReason(t *testing.T) {
	f := newFixture(deliveredOrder())

	_, err := f.svc.OpenRequest(context.Background(), OpenRequestInput{
		OrderID:      "o1",
		UserID:       "u1",
		Items:        []ItemRef{{ProductID: "p2", Quantity: 1}},
		Reason:       Reason("changed_mind"),
		RefundMethod: RefundOriginal,
	})

	require.Error(t, err)
}

// --- Resolve / Advance ---

func TestResolve_ApproveAndReject(t *testing.T) {
	f := newFixture(deliveredOrder())
	ctx := context.Background()

	r1 := f.openedRequest(t)
	require.NoError(t, f.svc.Resolve(ctx, r1.ID, StatusApproved, "ok"))
	got, err := f.svc.Get(ctx, r1.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)
	assert.Equal(t, "ok", got.AdminResponse)

	r2 := f.openedRequest(t)
	require.NoError(t, f.svc.Resolve(ctx, r2.ID, StatusRejected, "outside window"))
	got, err = f.svc.Get(ctx, r2.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, got.Status)
}

func TestResolve_OnlyPending(t *testing.T) {
	f := newFixture(deliveredOrder())
	ctx := context.Background()
	r := f.openedRequest(t)

	require.NoError(t, f.svc.Resolve(ctx, r.ID, StatusRejected, ""))

	var itErr *InvalidTransitionError
	require.ErrorAs(t, f.svc.Resolve(ctx, r.ID, StatusApproved, ""), &itErr)
}

func TestResolve_InvalidDecision(t *testing.T) {
	f := newFixture(deliveredOrder())
	r := f.openedRequest(t)

	require.Error(t, f.svc.Resolve(context.Background(), r.ID, StatusRefundProcessed, ""))
}

func TestAdvance_FullFlow(t *testing.T) {
	f := newFixture(deliveredOrder())
	ctx := context.Background()
	r := f.openedRequest(t)

	require.NoError(t, f.svc.Resolve(ctx, r.ID, StatusApproved, ""))
	require.NoError(t, f.svc.Advance(ctx, r.ID, StatusPickedUp))
	require.NoError(t, f.svc.Advance(ctx, r.ID, StatusRefundProcessed))

	got, err := f.svc.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRefundProcessed, got.Status)
	assert.Equal(t, []string{"o1"}, f.refunds)
}

func TestAdvance_RejectedCannotProgress(t *testing.T) {
	f := newFixture(deliveredOrder())
	ctx := context.Background()
	r := f.openedRequest(t)

	require.NoError(t, f.svc.Resolve(ctx, r.ID, StatusRejected, ""))

	var itErr *InvalidTransitionError
	require.ErrorAs(t, f.svc.Advance(ctx, r.ID, StatusPickedUp), &itErr)
}

func TestAdvance_SkipRejected(t *testing.T) {
	f := newFixture(deliveredOrder())
	ctx := context.Background()
	r := f.openedRequest(t)

	require.NoError(t, f.svc.Resolve(ctx, r.ID, StatusApproved, ""))

	var itErr *InvalidTransitionError
	require.ErrorAs(t, f.svc.Advance(ctx, r.ID, StatusRefundProcessed), &itErr)
}

func TestAdvance_ConcurrentRefundAlwaysDelivers(t *testing.T) {
	f := newFixture(deliveredOrder())
	ctx := context.Background()
	r := f.openedRequest(t)

	require.NoError(t, f.svc.Resolve(ctx, r.ID, StatusApproved, ""))
	require.NoError(t, f.svc.Advance(ctx, r.ID, StatusPickedUp))

	var g errgroup.Group
	for range 6 {
		g.Go(func() error {
			return f.svc.Advance(ctx, r.ID, StatusRefundProcessed)
		})
	}
	require.NoError(t, g.Wait())

	// Losers of the status race redeliver the hook, so the signal arrives at
	// least once and only ever for this order. Exactly-once reversal is the
	// ledger's job, keyed on the order ID.
	require.NotEmpty(t, f.refunds, "refund signal must not be lost")
	for _, id := range f.refunds {
		assert.Equal(t, "o1", id)
	}
}

func TestAdvance_RefundRetriedAfterConflict(t *testing.T) {
	f := newFixture(deliveredOrder())
	ctx := context.Background()
	r := f.openedRequest(t)

	inner := f.svc.onRefund
	var calls int
	f.svc.onRefund = func(ctx context.Context, orderID string) error {
		calls++
		if calls == 1 {
			return storage.ErrConcurrencyConflict
		}
		return inner(ctx, orderID)
	}

	require.NoError(t, f.svc.Resolve(ctx, r.ID, StatusApproved, ""))
	require.NoError(t, f.svc.Advance(ctx, r.ID, StatusPickedUp))
	require.NoError(t, f.svc.Advance(ctx, r.ID, StatusRefundProcessed))

	got, err := f.svc.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRefundProcessed, got.Status)
	assert.Equal(t, 2, calls, "hook must be redelivered after the conflict")
	assert.Equal(t, []string{"o1"}, f.refunds)
}

func TestAdvance_RefundFailureSurfacesAndRedelivers(t *testing.T) {
	f := newFixture(deliveredOrder())
	ctx := context.Background()
	r := f.openedRequest(t)

	inner := f.svc.onRefund
	var calls int
	hookErr := errors.New("ledger unavailable")
	f.svc.onRefund = func(ctx context.Context, orderID string) error {
		calls++
		if calls == 1 {
			return hookErr
		}
		return inner(ctx, orderID)
	}

	require.NoError(t, f.svc.Resolve(ctx, r.ID, StatusApproved, ""))
	require.NoError(t, f.svc.Advance(ctx, r.ID, StatusPickedUp))

	// The transition commits but the hook failure is not swallowed.
	require.ErrorIs(t, f.svc.Advance(ctx, r.ID, StatusRefundProcessed), hookErr)
	got, err := f.svc.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRefundProcessed, got.Status)
	assert.Empty(t, f.refunds)

	// Re-applying Refund Processed redelivers the signal.
	require.NoError(t, f.svc.Advance(ctx, r.ID, StatusRefundProcessed))
	assert.Equal(t, []string{"o1"}, f.refunds)
}
