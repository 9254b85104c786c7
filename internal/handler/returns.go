package handler

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vastramlabs/vastram-core/internal/domain/returns"
)

type openReturnRequest struct {
	OrderID      string            `json:"order_id"`
	UserID       string            `json:"user_id"`
	Items        []returns.ItemRef `json:"items"`
	Reason       string            `json:"reason"`
	Description  string            `json:"description,omitempty"`
	RefundMethod string            `json:"refund_method"`
}

type returnDTO struct {
	ID            string            `json:"id"`
	OrderID       string            `json:"order_id"`
	UserID        string            `json:"user_id"`
	Items         []returns.ItemRef `json:"items"`
	Reason        string            `json:"reason"`
	Description   string            `json:"description,omitempty"`
	RefundAmount  decimal.Decimal   `json:"refund_amount"`
	RefundMethod  string            `json:"refund_method"`
	Status        string            `json:"status"`
	AdminResponse string            `json:"admin_response,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

func toReturnDTO(r *returns.Request) returnDTO {
	return returnDTO{
		ID:            r.ID,
		OrderID:       r.OrderID,
		UserID:        r.UserID,
		Items:         r.Items,
		Reason:        string(r.Reason),
		Description:   r.Description,
		RefundAmount:  r.RefundAmount,
		RefundMethod:  string(r.RefundMethod),
		Status:        string(r.Status),
		AdminResponse: r.AdminResponse,
		CreatedAt:     r.CreatedAt,
	}
}

func (h *Handler) openReturn(w http.ResponseWriter, r *http.Request) {
	var req openReturnRequest
	if err := decodeBody(r, &req); err != nil {
		respondErrorStatus(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := h.returns.OpenRequest(r.Context(), returns.OpenRequestInput{
		OrderID:      req.OrderID,
		UserID:       req.UserID,
		Items:        req.Items,
		Reason:       returns.Reason(req.Reason),
		Description:  req.Description,
		RefundMethod: returns.RefundMethod(req.RefundMethod),
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toReturnDTO(created))
}

func (h *Handler) getReturn(w http.ResponseWriter, r *http.Request) {
	req, err := h.returns.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toReturnDTO(req))
}

func (h *Handler) listOrderReturns(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.returns.ListByOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	dtos := make([]returnDTO, len(reqs))
	for i := range reqs {
		dtos[i] = toReturnDTO(&reqs[i])
	}
	respondJSON(w, http.StatusOK, dtos)
}

type resolveReturnRequest struct {
	Decision      string `json:"decision"`
	AdminResponse string `json:"admin_response,omitempty"`
}

func (h *Handler) resolveReturn(w http.ResponseWriter, r *http.Request) {
	var req resolveReturnRequest
	if err := decodeBody(r, &req); err != nil {
		respondErrorStatus(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id := r.PathValue("id")
	if err := h.returns.Resolve(r.Context(), id, returns.Status(req.Decision), req.AdminResponse); err != nil {
		respondError(w, r, err)
		return
	}

	updated, err := h.returns.Get(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toReturnDTO(updated))
}

type advanceReturnRequest struct {
	Status string `json:"status"`
}

func (h *Handler) advanceReturn(w http.ResponseWriter, r *http.Request) {
	var req advanceReturnRequest
	if err := decodeBody(r, &req); err != nil {
		respondErrorStatus(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id := r.PathValue("id")
	if err := h.returns.Advance(r.Context(), id, returns.Status(req.Status)); err != nil {
		respondError(w, r, err)
		return
	}

	updated, err := h.returns.Get(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toReturnDTO(updated))
}
