package referral

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vastramlabs/vastram-core/internal/domain/storage"
)

const codeLength = 10

var hundred = decimal.NewFromInt(100)

// Service encapsulates referral registration, reward accrual, and withdrawal.
type Service struct {
	accounts Repository
	policy   Policy
	codes    *CodeFilter
	now      func() time.Time
}

// NewService creates a referral Service. codes may be nil to disable the
// bloom prefilter.
func NewService(accounts Repository, policy Policy, codes *CodeFilter) *Service {
	return &Service{
		accounts: accounts,
		policy:   policy,
		codes:    codes,
		now:      time.Now,
	}
}

// newCode derives a short uppercase referral code from a fresh UUID.
func newCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:codeLength]
}

// RegisterAccount creates the referral account for a newly signed-up user,
// credits the signup bonus, and, when referredByCode resolves to another
// user's code, records the referral relationship and credits the referrer's
// referral bonus. An unresolvable code is ignored rather than failing the
// signup. Re-registering an existing user returns the existing account.
func (s *Service) RegisterAccount(ctx context.Context, userID, referredByCode string) (*Account, error) {
	if existing, err := s.accounts.GetAccount(ctx, userID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, errors.Wrap(err, "lookup account")
	}

	referrerID := ""
	if referredByCode != "" {
		referrer, err := s.ResolveCode(ctx, referredByCode)
		switch {
		case err == nil:
			referrerID = referrer.UserID
		case errors.Is(err, ErrCodeNotFound):
			// Typos and guesses must not block signup.
		default:
			return nil, errors.Wrap(err, "resolve referral code")
		}
	}
	if referrerID == userID {
		return nil, ErrInvalidReferral
	}

	a := &Account{
		UserID:     userID,
		Code:       newCode(),
		ReferredBy: referrerID,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.accounts.Create(ctx, a); err != nil {
		return nil, errors.Wrap(err, "create account")
	}
	if s.codes != nil {
		s.codes.Add(a.Code)
	}

	if s.policy.SignupBonus.IsPositive() {
		ev := RewardEvent{
			ID:          uuid.New().String(),
			Type:        RewardSignupBonus,
			Amount:      s.policy.SignupBonus,
			Description: "Signup bonus",
			CreatedAt:   s.now().UTC(),
		}
		if err := s.accounts.CreditReward(ctx, userID, ev); err != nil {
			return nil, errors.Wrap(err, "credit signup bonus")
		}
	}

	if err := s.RegisterReferral(ctx, userID, referrerID); err != nil {
		return nil, err
	}

	return s.accounts.GetAccount(ctx, userID)
}

// RegisterReferral records newUserID as referred by referrerUserID: appends
// a referral entry, increments the referrer's total, and credits the
// referral bonus. An empty or unknown referrer is a no-op; a self-referral
// fails with ErrInvalidReferral.
func (s *Service) RegisterReferral(ctx context.Context, newUserID, referrerUserID string) error {
	if referrerUserID == "" {
		return nil
	}
	if referrerUserID == newUserID {
		return ErrInvalidReferral
	}

	if _, err := s.accounts.GetAccount(ctx, referrerUserID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return errors.Wrap(err, "lookup referrer")
	}

	e := Entry{UserID: newUserID, JoinedAt: s.now().UTC()}
	if err := s.accounts.AddReferral(ctx, referrerUserID, e); err != nil {
		return errors.Wrap(err, "add referral entry")
	}

	if s.policy.ReferralBonus.IsPositive() {
		ev := RewardEvent{
			ID:             uuid.New().String(),
			Type:           RewardReferralBonus,
			Amount:         s.policy.ReferralBonus,
			Description:    "Referral bonus",
			ReferredUserID: newUserID,
			CreatedAt:      s.now().UTC(),
		}
		if err := s.accounts.CreditReward(ctx, referrerUserID, ev); err != nil {
			return errors.Wrap(err, "credit referral bonus")
		}
	}
	return nil
}

// OnQualifyingCompletion credits the buyer's referrer with an order
// commission. The order ID is the idempotency key: the trigger is delivered
// at least once, and retries (or concurrent duplicates) must not credit
// twice. A buyer without a referrer, or one whose first completed order was
// already counted, is a no-op.
func (s *Service) OnQualifyingCompletion(ctx context.Context, orderID, buyerUserID string, orderValue decimal.Decimal) error {
	buyer, err := s.accounts.GetAccount(ctx, buyerUserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return errors.Wrap(err, "lookup buyer account")
	}
	if buyer.ReferredBy == "" {
		return nil
	}

	commission := orderValue.Mul(s.policy.CommissionPercent).Div(hundred).Round(2)
	if !commission.IsPositive() {
		return nil
	}

	ev := RewardEvent{
		ID:             uuid.New().String(),
		Type:           RewardOrderCommission,
		Amount:         commission,
		Description:    fmt.Sprintf("Commission for order %s", orderID),
		ReferredUserID: buyerUserID,
		OrderID:        orderID,
		CreatedAt:      s.now().UTC(),
	}

	return storage.WithRetry(ctx, func(ctx context.Context) error {
		_, err := s.accounts.CreditCommission(ctx, buyer.ReferredBy, ev)
		return err
	})
}

// OnRefund reverses the commission previously credited for orderID, if any.
// The reversal is applied at most once per order and is clamped at the
// referrer's available balance: an already-withdrawn commission never drives
// the balance negative, and the shortfall is recorded on the event.
func (s *Service) OnRefund(ctx context.Context, orderID string) error {
	desc := fmt.Sprintf("Commission reversal for refunded order %s", orderID)
	return storage.WithRetry(ctx, func(ctx context.Context) error {
		_, err := s.accounts.ReverseCommission(ctx, orderID, desc)
		return err
	})
}

// Withdraw moves amount from the user's available balance to the withdrawn
// balance. Total earnings are unchanged; the movement is recorded implicitly
// by the balance split, not by a reward event.
func (s *Service) Withdraw(ctx context.Context, userID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return &InvalidAmountError{Amount: amount}
	}
	return storage.WithRetry(ctx, func(ctx context.Context) error {
		return s.accounts.Withdraw(ctx, userID, amount)
	})
}

// GetAccount returns the referral account for the given user.
func (s *Service) GetAccount(ctx context.Context, userID string) (*Account, error) {
	return s.accounts.GetAccount(ctx, userID)
}

// ResolveCode resolves a referral code to its owning account. Codes that the
// bloom prefilter rules out are rejected without a repository lookup.
func (s *Service) ResolveCode(ctx context.Context, code string) (*Account, error) {
	if code == "" {
		return nil, ErrCodeNotFound
	}
	if s.codes != nil && !s.codes.MayContain(code) {
		return nil, ErrCodeNotFound
	}
	a, err := s.accounts.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, err
	}
	return a, nil
}
