package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/vastramlabs/vastram-core/internal/domain/cart"
	"github.com/vastramlabs/vastram-core/internal/domain/catalog"
	"github.com/vastramlabs/vastram-core/internal/domain/order"
	"github.com/vastramlabs/vastram-core/internal/domain/payment"
	"github.com/vastramlabs/vastram-core/internal/domain/referral"
	"github.com/vastramlabs/vastram-core/internal/domain/returns"
	"github.com/vastramlabs/vastram-core/internal/domain/storage"
)

// errorResponse is the JSON error envelope shared by all endpoints.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondErrorStatus(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Code: status, Message: message})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// respondError maps domain errors onto HTTP statuses. Unrecognized errors are
// logged and surface as an opaque 500.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	if status, ok := statusFor(err); ok {
		respondErrorStatus(w, status, err.Error())
		return
	}
	zctx.From(r.Context()).Error("Request failed", zap.Error(err))
	respondErrorStatus(w, http.StatusInternalServerError, "internal error")
}

func statusFor(err error) (int, bool) {
	switch {
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, returns.ErrNotFound),
		errors.Is(err, referral.ErrNotFound),
		errors.Is(err, referral.ErrCodeNotFound),
		errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound, true

	case errors.Is(err, order.ErrEmptyItems),
		errors.Is(err, payment.ErrInvalidVerificationInput):
		return http.StatusBadRequest, true

	case errors.Is(err, storage.ErrConcurrencyConflict):
		return http.StatusConflict, true

	case errors.Is(err, order.ErrAmountMismatch),
		errors.Is(err, order.ErrPaymentNotVerified),
		errors.Is(err, returns.ErrOrderNotEligible),
		errors.Is(err, referral.ErrInvalidReferral),
		errors.Is(err, referral.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, true
	}

	var (
		malformedKey      *cart.MalformedKeyError
		invalidQty        *order.InvalidQuantityError
		invalidAmount     *referral.InvalidAmountError
		insufficientStock *catalog.InsufficientStockError
		orderTransition   *order.InvalidTransitionError
		returnTransition  *returns.InvalidTransitionError
		itemNotOnOrder    *returns.ItemNotOnOrderError
	)
	switch {
	case errors.As(err, &malformedKey), errors.As(err, &invalidAmount):
		return http.StatusBadRequest, true
	case errors.As(err, &invalidQty), errors.As(err, &itemNotOnOrder):
		return http.StatusUnprocessableEntity, true
	case errors.As(err, &insufficientStock),
		errors.As(err, &orderTransition),
		errors.As(err, &returnTransition):
		return http.StatusConflict, true
	}

	return 0, false
}
