// Package referral tracks referral relationships and reward accrual.
//
// Balances are derived state: every credit and debit is backed by an
// append-only RewardEvent, and the invariant
//
//	availableBalance + withdrawnBalance == totalEarnings == sum(events)
//
// must hold before and after every mutating operation. Order commissions are
// credited at most once per order via a persisted idempotency marker that is
// checked and set atomically with the reward append.
package referral

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// RewardType enumerates the reward event kinds.
type RewardType string

const (
	RewardSignupBonus        RewardType = "signup_bonus"
	RewardReferralBonus      RewardType = "referral_bonus"
	RewardOrderCommission    RewardType = "order_commission"
	RewardCommissionReversal RewardType = "commission_reversal"
)

// RewardEvent is an immutable audit record of a single balance mutation.
// Reversals carry a negative amount; all other kinds are positive.
type RewardEvent struct {
	ID             string
	Type           RewardType
	Amount         decimal.Decimal
	Description    string
	ReferredUserID string
	OrderID        string
	CreatedAt      time.Time
}

// Entry records one referred user under a referrer's account.
// HasCompletedOrder flips at most once, when the referred user's first order
// is delivered.
type Entry struct {
	UserID            string
	HasCompletedOrder bool
	JoinedAt          time.Time
}

// Account is a user's referral ledger.
type Account struct {
	UserID              string
	Code                string
	ReferredBy          string
	Referrals           []Entry
	TotalReferrals      int
	SuccessfulReferrals int
	TotalEarnings       decimal.Decimal
	AvailableBalance    decimal.Decimal
	WithdrawnBalance    decimal.Decimal
	Rewards             []RewardEvent
	CreatedAt           time.Time
}

// Reconcile verifies the account's balance invariants against its reward
// events. It returns a descriptive error on any drift.
func (a *Account) Reconcile() error {
	if got := a.AvailableBalance.Add(a.WithdrawnBalance); !got.Equal(a.TotalEarnings) {
		return errors.Errorf("account %s: available %s + withdrawn %s != total earnings %s",
			a.UserID, a.AvailableBalance, a.WithdrawnBalance, a.TotalEarnings)
	}

	sum := decimal.Zero
	for _, ev := range a.Rewards {
		sum = sum.Add(ev.Amount)
	}
	if !sum.Equal(a.TotalEarnings) {
		return errors.Errorf("account %s: reward events sum to %s but total earnings is %s",
			a.UserID, sum, a.TotalEarnings)
	}

	if a.SuccessfulReferrals > a.TotalReferrals {
		return errors.Errorf("account %s: successful referrals %d exceed total referrals %d",
			a.UserID, a.SuccessfulReferrals, a.TotalReferrals)
	}
	return nil
}

// Policy configures reward sizing. Amounts are in the store currency;
// CommissionPercent is applied to the delivered order's amount.
type Policy struct {
	CommissionPercent decimal.Decimal
	SignupBonus       decimal.Decimal
	ReferralBonus     decimal.Decimal
}

// Sentinel errors for referral operations.
var (
	ErrNotFound            = errors.New("referral account not found")
	ErrCodeNotFound        = errors.New("referral code not found")
	ErrInvalidReferral     = errors.New("invalid referral")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// InvalidAmountError indicates a non-positive withdrawal amount.
type InvalidAmountError struct {
	Amount decimal.Decimal
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("amount must be positive, got %s", e.Amount)
}

// Repository defines persistence operations for referral accounts.
//
// CreditReward and Withdraw must atomically adjust the balance columns
// together with the event append; Withdraw is conditional on
// availableBalance >= amount and returns ErrInsufficientBalance otherwise.
//
// CreditCommission must run as one atomic unit: set the per-order idempotency
// marker, flip the referred user's completion flag, increment
// successfulReferrals, append the event, and adjust balances. It returns
// false without side effects when the marker already exists or the flag was
// already set.
//
// ReverseCommission marks the order's commission as reversed (at most once)
// and appends a negative commission_reversal event clamped at the referrer's
// current available balance. It returns nil when there is nothing to reverse.
type Repository interface {
	Create(ctx context.Context, a *Account) error
	GetAccount(ctx context.Context, userID string) (*Account, error)
	GetByCode(ctx context.Context, code string) (*Account, error)
	AddReferral(ctx context.Context, referrerID string, e Entry) error
	CreditReward(ctx context.Context, userID string, ev RewardEvent) error
	CreditCommission(ctx context.Context, referrerID string, ev RewardEvent) (bool, error)
	ReverseCommission(ctx context.Context, orderID, description string) (*RewardEvent, error)
	Withdraw(ctx context.Context, userID string, amount decimal.Decimal) error
	ListCodes(ctx context.Context) ([]string, error)
}
