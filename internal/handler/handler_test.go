package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vastramlabs/vastram-core/internal/domain/cart"
	"github.com/vastramlabs/vastram-core/internal/domain/catalog"
	"github.com/vastramlabs/vastram-core/internal/domain/order"
	"github.com/vastramlabs/vastram-core/internal/domain/referral"
	"github.com/vastramlabs/vastram-core/internal/domain/returns"
	"github.com/vastramlabs/vastram-core/internal/domain/storage"
)

type stubCatalog struct {
	products []catalog.Product
}

func (s *stubCatalog) List(context.Context) ([]catalog.Product, error) {
	return s.products, nil
}

func (s *stubCatalog) GetByID(_ context.Context, id string) (*catalog.Product, error) {
	for i := range s.products {
		if s.products[i].ID == id {
			return &s.products[i], nil
		}
	}
	return nil, catalog.ErrNotFound
}

func (s *stubCatalog) GetByIDs(_ context.Context, ids []string) ([]catalog.Product, error) {
	var out []catalog.Product
	for _, id := range ids {
		if p, err := s.GetByID(context.Background(), id); err == nil {
			out = append(out, *p)
		}
	}
	return out, nil
}

func testMux(t *testing.T) *http.ServeMux {
	t.Helper()
	h := NewHandler(&stubCatalog{products: []catalog.Product{
		{
			ID:        "classic-tee",
			Name:      "Classic Cotton Tee",
			BasePrice: decimal.RequireFromString("499.00"),
			Variants: []catalog.ProductVariant{
				{
					Variant:   catalog.Variant{Color: "black", Size: "M"},
					UnitPrice: decimal.RequireFromString("499.00"),
					Stock:     12,
				},
			},
		},
	}}, nil, nil, nil, nil)

	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

func TestListProducts(t *testing.T) {
	rec := httptest.NewRecorder()
	testMux(t).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/products", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got []productDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "classic-tee", got[0].ID)
	require.Len(t, got[0].Variants, 1)
	assert.Equal(t, "black", got[0].Variants[0].Color)
	assert.Equal(t, 12, got[0].Variants[0].Stock)
}

func TestGetProduct_NotFound(t *testing.T) {
	rec := httptest.NewRecorder()
	testMux(t).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/products/ghost", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"order not found", order.ErrNotFound, http.StatusNotFound},
		{"wrapped not found", errors.Wrap(order.ErrNotFound, "lookup"), http.StatusNotFound},
		{"return not found", returns.ErrNotFound, http.StatusNotFound},
		{"code not found", referral.ErrCodeNotFound, http.StatusNotFound},
		{"empty items", order.ErrEmptyItems, http.StatusBadRequest},
		{"malformed key", &cart.MalformedKeyError{Key: "_p1", Reason: "empty product id"}, http.StatusBadRequest},
		{"invalid amount", &referral.InvalidAmountError{Amount: decimal.Zero}, http.StatusBadRequest},
		{"amount mismatch", order.ErrAmountMismatch, http.StatusUnprocessableEntity},
		{"payment not verified", order.ErrPaymentNotVerified, http.StatusUnprocessableEntity},
		{"not eligible", returns.ErrOrderNotEligible, http.StatusUnprocessableEntity},
		{"insufficient balance", referral.ErrInsufficientBalance, http.StatusUnprocessableEntity},
		{"invalid quantity", &order.InvalidQuantityError{ProductID: "p1"}, http.StatusUnprocessableEntity},
		{"item not on order", &returns.ItemNotOnOrderError{ProductID: "p1"}, http.StatusUnprocessableEntity},
		{"insufficient stock", &catalog.InsufficientStockError{ProductID: "p1", Requested: 3}, http.StatusConflict},
		{"order transition", &order.InvalidTransitionError{From: "Delivered", To: "Shipped"}, http.StatusConflict},
		{"return transition", &returns.InvalidTransitionError{From: returns.StatusRejected, To: returns.StatusPickedUp}, http.StatusConflict},
		{"concurrency conflict", storage.ErrConcurrencyConflict, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, ok := statusFor(tt.err)
			require.True(t, ok)
			assert.Equal(t, tt.status, status)
		})
	}

	_, ok := statusFor(errors.New("database on fire"))
	assert.False(t, ok, "unknown errors must stay opaque 500s")
}
