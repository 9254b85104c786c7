package handler

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vastramlabs/vastram-core/internal/domain/referral"
)

type registerReferralRequest struct {
	UserID       string `json:"user_id"`
	ReferralCode string `json:"referral_code,omitempty"`
}

type rewardEventDTO struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description,omitempty"`
	ReferredUserID string          `json:"referred_user_id,omitempty"`
	OrderID        string          `json:"order_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

type referralEntryDTO struct {
	UserID            string    `json:"user_id"`
	HasCompletedOrder bool      `json:"has_completed_order"`
	JoinedAt          time.Time `json:"joined_at"`
}

type referralAccountDTO struct {
	UserID              string             `json:"user_id"`
	Code                string             `json:"code"`
	ReferredBy          string             `json:"referred_by,omitempty"`
	Referrals           []referralEntryDTO `json:"referrals"`
	TotalReferrals      int                `json:"total_referrals"`
	SuccessfulReferrals int                `json:"successful_referrals"`
	TotalEarnings       decimal.Decimal    `json:"total_earnings"`
	AvailableBalance    decimal.Decimal    `json:"available_balance"`
	WithdrawnBalance    decimal.Decimal    `json:"withdrawn_balance"`
	Rewards             []rewardEventDTO   `json:"rewards"`
	CreatedAt           time.Time          `json:"created_at"`
}

func toReferralAccountDTO(a *referral.Account) referralAccountDTO {
	dto := referralAccountDTO{
		UserID:              a.UserID,
		Code:                a.Code,
		ReferredBy:          a.ReferredBy,
		Referrals:           make([]referralEntryDTO, len(a.Referrals)),
		TotalReferrals:      a.TotalReferrals,
		SuccessfulReferrals: a.SuccessfulReferrals,
		TotalEarnings:       a.TotalEarnings,
		AvailableBalance:    a.AvailableBalance,
		WithdrawnBalance:    a.WithdrawnBalance,
		Rewards:             make([]rewardEventDTO, len(a.Rewards)),
		CreatedAt:           a.CreatedAt,
	}
	for i, e := range a.Referrals {
		dto.Referrals[i] = referralEntryDTO{
			UserID:            e.UserID,
			HasCompletedOrder: e.HasCompletedOrder,
			JoinedAt:          e.JoinedAt,
		}
	}
	for i, ev := range a.Rewards {
		dto.Rewards[i] = rewardEventDTO{
			ID:             ev.ID,
			Type:           string(ev.Type),
			Amount:         ev.Amount,
			Description:    ev.Description,
			ReferredUserID: ev.ReferredUserID,
			OrderID:        ev.OrderID,
			CreatedAt:      ev.CreatedAt,
		}
	}
	return dto
}

func (h *Handler) registerReferralAccount(w http.ResponseWriter, r *http.Request) {
	var req registerReferralRequest
	if err := decodeBody(r, &req); err != nil {
		respondErrorStatus(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		respondErrorStatus(w, http.StatusBadRequest, "user_id is required")
		return
	}

	a, err := h.referrals.RegisterAccount(r.Context(), req.UserID, req.ReferralCode)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toReferralAccountDTO(a))
}

func (h *Handler) getReferralAccount(w http.ResponseWriter, r *http.Request) {
	a, err := h.referrals.GetAccount(r.Context(), r.PathValue("userID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toReferralAccountDTO(a))
}

type withdrawRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (h *Handler) withdrawReferralBalance(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decodeBody(r, &req); err != nil {
		respondErrorStatus(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID := r.PathValue("userID")
	if err := h.referrals.Withdraw(r.Context(), userID, req.Amount); err != nil {
		respondError(w, r, err)
		return
	}

	a, err := h.referrals.GetAccount(r.Context(), userID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toReferralAccountDTO(a))
}

// resolveReferralCode validates a user-typed code, returning the owner's user
// ID without exposing the full account.
func (h *Handler) resolveReferralCode(w http.ResponseWriter, r *http.Request) {
	a, err := h.referrals.ResolveCode(r.Context(), r.PathValue("code"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"code":    a.Code,
		"user_id": a.UserID,
	})
}
