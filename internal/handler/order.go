package handler

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vastramlabs/vastram-core/internal/domain/cart"
	"github.com/vastramlabs/vastram-core/internal/domain/order"
)

// createOrderRequest carries the cart as a map of encoded line-item keys to
// quantities, the persisted representation the storefront uses.
type createOrderRequest struct {
	UserID         string            `json:"user_id"`
	Items          map[string]int    `json:"items"`
	AddressID      string            `json:"address_id"`
	PaymentMethod  string            `json:"payment_method"`
	ShippingFee    decimal.Decimal   `json:"shipping_fee"`
	ExpectedAmount decimal.Decimal   `json:"expected_amount"`
	CustomDesigns  map[string]string `json:"custom_designs,omitempty"`
}

type orderDTO struct {
	ID            string           `json:"id"`
	UserID        string           `json:"user_id"`
	Items         []order.LineItem `json:"items"`
	Amount        decimal.Decimal  `json:"amount"`
	AddressID     string           `json:"address_id,omitempty"`
	Status        string           `json:"status"`
	PaymentMethod string           `json:"payment_method"`
	PaymentStatus string           `json:"payment_status"`
	CreatedAt     time.Time        `json:"created_at"`
}

func toOrderDTO(o *order.Order) orderDTO {
	return orderDTO{
		ID:            o.ID,
		UserID:        o.UserID,
		Items:         o.Items,
		Amount:        o.Amount,
		AddressID:     o.AddressID,
		Status:        string(o.Status),
		PaymentMethod: string(o.PaymentMethod),
		PaymentStatus: string(o.PaymentStatus),
		CreatedAt:     o.CreatedAt,
	}
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeBody(r, &req); err != nil {
		respondErrorStatus(w, http.StatusBadRequest, "invalid request body")
		return
	}

	entries, err := cart.Decode(req.Items)
	if err != nil {
		respondError(w, r, err)
		return
	}

	o, err := h.orders.CreateOrder(r.Context(), order.CreateOrderRequest{
		UserID:         req.UserID,
		Entries:        entries,
		AddressID:      req.AddressID,
		PaymentMethod:  order.PaymentMethod(req.PaymentMethod),
		ShippingFee:    req.ShippingFee,
		ExpectedAmount: req.ExpectedAmount,
		CustomDesigns:  req.CustomDesigns,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toOrderDTO(o))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderDTO(o))
}

func (h *Handler) listUserOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListByUser(r.Context(), r.PathValue("userID"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	dtos := make([]orderDTO, len(orders))
	for i := range orders {
		dtos[i] = toOrderDTO(&orders[i])
	}
	respondJSON(w, http.StatusOK, dtos)
}

type updateOrderStatusRequest struct {
	Status string `json:"status"`
	// Force skips the forward-only progression check. Terminal orders stay
	// immutable either way.
	Force bool `json:"force,omitempty"`
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req updateOrderStatusRequest
	if err := decodeBody(r, &req); err != nil {
		respondErrorStatus(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id := r.PathValue("id")
	target := order.Status(req.Status)

	var err error
	if req.Force {
		err = h.orders.ForceStatus(r.Context(), id, target)
	} else {
		err = h.orders.AdvanceStatus(r.Context(), id, target)
	}
	if err != nil {
		respondError(w, r, err)
		return
	}

	o, err := h.orders.Get(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderDTO(o))
}

type verifyPaymentRequest struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

// verifyPayment handles the payment provider's callback: check the HMAC
// signature, then settle the order. A forged signature rejects the callback
// with 422 and the order stays Pending.
func (h *Handler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentRequest
	if err := decodeBody(r, &req); err != nil {
		respondErrorStatus(w, http.StatusBadRequest, "invalid request body")
		return
	}

	verified, err := h.verifier.Verify(req.OrderID, req.PaymentID, req.Signature)
	if err != nil {
		respondError(w, r, err)
		return
	}

	if err := h.orders.MarkPaid(r.Context(), req.OrderID, verified); err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"verified": verified})
}
