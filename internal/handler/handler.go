// Package handler exposes the commerce core over HTTP. Handlers stay thin:
// decode the request, delegate to a domain service, map the result or error
// back to JSON.
package handler

import (
	"net/http"

	"github.com/vastramlabs/vastram-core/internal/domain/catalog"
	"github.com/vastramlabs/vastram-core/internal/domain/order"
	"github.com/vastramlabs/vastram-core/internal/domain/payment"
	"github.com/vastramlabs/vastram-core/internal/domain/referral"
	"github.com/vastramlabs/vastram-core/internal/domain/returns"
)

// Handler bundles the HTTP endpoints with their domain dependencies.
type Handler struct {
	products  catalog.Repository
	orders    *order.Service
	returns   *returns.Service
	referrals *referral.Service
	verifier  *payment.Verifier
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	products catalog.Repository,
	orders *order.Service,
	rets *returns.Service,
	referrals *referral.Service,
	verifier *payment.Verifier,
) *Handler {
	return &Handler{
		products:  products,
		orders:    orders,
		returns:   rets,
		referrals: referrals,
		verifier:  verifier,
	}
}

// Register installs all API routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/products", h.listProducts)
	mux.HandleFunc("GET /api/products/{id}", h.getProduct)

	mux.HandleFunc("POST /api/orders", h.createOrder)
	mux.HandleFunc("GET /api/orders/{id}", h.getOrder)
	mux.HandleFunc("GET /api/users/{userID}/orders", h.listUserOrders)
	mux.HandleFunc("POST /api/orders/{id}/status", h.updateOrderStatus)
	mux.HandleFunc("POST /api/payments/verify", h.verifyPayment)

	mux.HandleFunc("POST /api/returns", h.openReturn)
	mux.HandleFunc("GET /api/returns/{id}", h.getReturn)
	mux.HandleFunc("GET /api/orders/{id}/returns", h.listOrderReturns)
	mux.HandleFunc("POST /api/returns/{id}/decision", h.resolveReturn)
	mux.HandleFunc("POST /api/returns/{id}/status", h.advanceReturn)

	mux.HandleFunc("POST /api/referral/accounts", h.registerReferralAccount)
	mux.HandleFunc("GET /api/referral/accounts/{userID}", h.getReferralAccount)
	mux.HandleFunc("POST /api/referral/accounts/{userID}/withdraw", h.withdrawReferralBalance)
	mux.HandleFunc("GET /api/referral/codes/{code}", h.resolveReferralCode)
}
