package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vastramlabs/vastram-core/internal/domain/referral"
)

// errAlreadyCounted aborts the commission transaction when the referred
// user's first completed order was already counted. Never escapes the
// repository.
var errAlreadyCounted = errors.New("first completed order already counted")

const (
	createReferralAccountSQL = `INSERT INTO referral_accounts
		(user_id, code, referred_by, created_at)
		VALUES ($1, $2, $3, $4)`

	getReferralAccountSQL = `SELECT user_id, code, referred_by, total_referrals, successful_referrals,
		total_earnings, available_balance, withdrawn_balance, created_at
		FROM referral_accounts WHERE user_id = $1`

	getUserIDByCodeSQL = `SELECT user_id FROM referral_accounts WHERE code = $1`

	listReferralEntriesSQL = `SELECT user_id, has_completed_order, joined_at
		FROM referral_entries WHERE referrer_id = $1 ORDER BY joined_at`

	listRewardEventsSQL = `SELECT id, type, amount, description, referred_user_id, order_id, created_at
		FROM referral_rewards WHERE user_id = $1 ORDER BY created_at`

	addReferralEntrySQL = `INSERT INTO referral_entries (referrer_id, user_id, joined_at)
		VALUES ($1, $2, $3)`

	bumpTotalReferralsSQL = `UPDATE referral_accounts SET total_referrals = total_referrals + 1
		WHERE user_id = $1`

	insertRewardEventSQL = `INSERT INTO referral_rewards
		(id, user_id, type, amount, description, referred_user_id, order_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	creditBalancesSQL = `UPDATE referral_accounts
		SET total_earnings = total_earnings + $2, available_balance = available_balance + $2
		WHERE user_id = $1`

	insertOrderCreditSQL = `INSERT INTO referral_order_credits (order_id, referrer_id, amount)
		VALUES ($1, $2, $3) ON CONFLICT (order_id) DO NOTHING`

	flipCompletionFlagSQL = `UPDATE referral_entries SET has_completed_order = TRUE
		WHERE referrer_id = $1 AND user_id = $2 AND has_completed_order = FALSE`

	bumpSuccessfulReferralsSQL = `UPDATE referral_accounts
		SET successful_referrals = successful_referrals + 1 WHERE user_id = $1`

	markCreditReversedSQL = `UPDATE referral_order_credits SET reversed = TRUE
		WHERE order_id = $1 AND reversed = FALSE
		RETURNING referrer_id, amount`

	lockAvailableBalanceSQL = `SELECT available_balance FROM referral_accounts
		WHERE user_id = $1 FOR UPDATE`

	withdrawSQL = `UPDATE referral_accounts
		SET available_balance = available_balance - $2, withdrawn_balance = withdrawn_balance + $2
		WHERE user_id = $1 AND available_balance >= $2`

	referralAccountExistsSQL = `SELECT EXISTS (SELECT 1 FROM referral_accounts WHERE user_id = $1)`

	listReferralCodesSQL = `SELECT code FROM referral_accounts`
)

var _ referral.Repository = (*ReferralRepository)(nil)

// ReferralRepository implements referral.Repository backed by PostgreSQL.
//
// Balance mutations pair the reward event insert with the balance update in
// one transaction, keeping the ledger and the derived balances in lockstep.
// Commission idempotency rides on the referral_order_credits primary key: the
// first transaction to insert the order's row wins, and every later attempt
// sees zero rows inserted and backs off.
type ReferralRepository struct {
	pool *pgxpool.Pool
}

// NewReferralRepository returns a ReferralRepository that uses the given pool.
func NewReferralRepository(pool *pgxpool.Pool) *ReferralRepository {
	return &ReferralRepository{pool: pool}
}

// Create persists a new referral account with zeroed balances.
func (r *ReferralRepository) Create(ctx context.Context, a *referral.Account) error {
	_, err := r.pool.Exec(ctx, createReferralAccountSQL, a.UserID, a.Code, a.ReferredBy, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating referral account for user %q: %w", a.UserID, err)
	}
	return nil
}

// GetAccount returns the full referral account: balances, referral entries,
// and the reward event ledger. Returns referral.ErrNotFound when missing.
func (r *ReferralRepository) GetAccount(ctx context.Context, userID string) (*referral.Account, error) {
	var a referral.Account
	err := r.pool.QueryRow(ctx, getReferralAccountSQL, userID).Scan(
		&a.UserID, &a.Code, &a.ReferredBy, &a.TotalReferrals, &a.SuccessfulReferrals,
		&a.TotalEarnings, &a.AvailableBalance, &a.WithdrawnBalance, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, referral.ErrNotFound
		}
		return nil, fmt.Errorf("getting referral account for user %q: %w", userID, err)
	}

	entryRows, err := r.pool.Query(ctx, listReferralEntriesSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing referrals for user %q: %w", userID, err)
	}
	a.Referrals, err = pgx.CollectRows(entryRows, scanReferralEntry)
	if err != nil {
		return nil, fmt.Errorf("listing referrals for user %q: %w", userID, err)
	}

	rewardRows, err := r.pool.Query(ctx, listRewardEventsSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing rewards for user %q: %w", userID, err)
	}
	a.Rewards, err = pgx.CollectRows(rewardRows, scanRewardEvent)
	if err != nil {
		return nil, fmt.Errorf("listing rewards for user %q: %w", userID, err)
	}

	return &a, nil
}

// GetByCode resolves a referral code to its owning account.
func (r *ReferralRepository) GetByCode(ctx context.Context, code string) (*referral.Account, error) {
	var userID string
	err := r.pool.QueryRow(ctx, getUserIDByCodeSQL, code).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, referral.ErrNotFound
		}
		return nil, fmt.Errorf("resolving referral code: %w", err)
	}
	return r.GetAccount(ctx, userID)
}

// AddReferral appends a referral entry under the referrer and bumps the total.
func (r *ReferralRepository) AddReferral(ctx context.Context, referrerID string, e referral.Entry) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, addReferralEntrySQL, referrerID, e.UserID, e.JoinedAt); err != nil {
			return fmt.Errorf("adding referral entry: %w", err)
		}
		if _, err := tx.Exec(ctx, bumpTotalReferralsSQL, referrerID); err != nil {
			return fmt.Errorf("bumping total referrals: %w", err)
		}
		return nil
	})
}

// CreditReward appends a reward event and adjusts the balances atomically.
func (r *ReferralRepository) CreditReward(ctx context.Context, userID string, ev referral.RewardEvent) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		return creditRewardTx(ctx, tx, userID, ev)
	})
}

// CreditCommission credits an order commission exactly once. The per-order
// idempotency row, the referred user's completion flag, the successful
// referral count, the reward event, and the balances all commit together or
// not at all. Returns false when the order was already credited or the
// referred user's first completed order was already counted.
func (r *ReferralRepository) CreditCommission(ctx context.Context, referrerID string, ev referral.RewardEvent) (credited bool, err error) {
	err = r.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, insertOrderCreditSQL, ev.OrderID, referrerID, ev.Amount)
		if err != nil {
			return fmt.Errorf("inserting order credit marker: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		tag, err = tx.Exec(ctx, flipCompletionFlagSQL, referrerID, ev.ReferredUserID)
		if err != nil {
			return fmt.Errorf("flipping completion flag: %w", err)
		}
		if tag.RowsAffected() == 0 {
			// Another order already counted as the first completion.
			// Rolling back also discards the marker insert above.
			return errAlreadyCounted
		}

		if _, err := tx.Exec(ctx, bumpSuccessfulReferralsSQL, referrerID); err != nil {
			return fmt.Errorf("bumping successful referrals: %w", err)
		}
		if err := creditRewardTx(ctx, tx, referrerID, ev); err != nil {
			return err
		}
		credited = true
		return nil
	})
	if errors.Is(err, errAlreadyCounted) {
		return false, nil
	}
	return credited, err
}

// ReverseCommission reverses the commission credited for orderID, at most
// once, appending a negative reward event clamped at the referrer's current
// available balance. Returns nil when there is nothing to reverse.
func (r *ReferralRepository) ReverseCommission(ctx context.Context, orderID, description string) (*referral.RewardEvent, error) {
	var reversed *referral.RewardEvent
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var (
			referrerID string
			amount     decimal.Decimal
		)
		err := tx.QueryRow(ctx, markCreditReversedSQL, orderID).Scan(&referrerID, &amount)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("marking commission reversed: %w", err)
		}

		var available decimal.Decimal
		if err := tx.QueryRow(ctx, lockAvailableBalanceSQL, referrerID).Scan(&available); err != nil {
			return fmt.Errorf("locking referrer balance: %w", err)
		}

		ev := referral.RewardEvent{
			ID:          uuid.New().String(),
			Type:        referral.RewardCommissionReversal,
			Amount:      decimal.Min(amount, available).Neg(),
			Description: description,
			OrderID:     orderID,
			CreatedAt:   time.Now().UTC(),
		}
		if err := creditRewardTx(ctx, tx, referrerID, ev); err != nil {
			return err
		}
		reversed = &ev
		return nil
	})
	return reversed, err
}

// Withdraw conditionally moves amount from available to withdrawn. Returns
// referral.ErrInsufficientBalance when the balance does not cover the amount
// and referral.ErrNotFound when the account is missing.
func (r *ReferralRepository) Withdraw(ctx context.Context, userID string, amount decimal.Decimal) error {
	tag, err := r.pool.Exec(ctx, withdrawSQL, userID, amount)
	if err != nil {
		return fmt.Errorf("withdrawing for user %q: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, referralAccountExistsSQL, userID).Scan(&exists); err != nil {
			return fmt.Errorf("withdrawing for user %q: %w", userID, err)
		}
		if !exists {
			return referral.ErrNotFound
		}
		return referral.ErrInsufficientBalance
	}
	return nil
}

// ListCodes returns every issued referral code, used to warm the code
// prefilter at startup.
func (r *ReferralRepository) ListCodes(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, listReferralCodesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing referral codes: %w", err)
	}
	codes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (string, error) {
		var code string
		err := row.Scan(&code)
		return code, err
	})
	if err != nil {
		return nil, fmt.Errorf("listing referral codes: %w", err)
	}
	return codes, nil
}

func (r *ReferralRepository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func creditRewardTx(ctx context.Context, tx pgx.Tx, userID string, ev referral.RewardEvent) error {
	_, err := tx.Exec(ctx, insertRewardEventSQL,
		ev.ID, userID, string(ev.Type), ev.Amount, ev.Description,
		ev.ReferredUserID, ev.OrderID, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting reward event: %w", err)
	}
	if _, err := tx.Exec(ctx, creditBalancesSQL, userID, ev.Amount); err != nil {
		return fmt.Errorf("updating balances: %w", err)
	}
	return nil
}

func scanReferralEntry(row pgx.CollectableRow) (referral.Entry, error) {
	var e referral.Entry
	err := row.Scan(&e.UserID, &e.HasCompletedOrder, &e.JoinedAt)
	return e, err
}

func scanRewardEvent(row pgx.CollectableRow) (referral.RewardEvent, error) {
	var (
		ev     referral.RewardEvent
		evType string
	)
	err := row.Scan(&ev.ID, &evType, &ev.Amount, &ev.Description, &ev.ReferredUserID, &ev.OrderID, &ev.CreatedAt)
	ev.Type = referral.RewardType(evType)
	return ev, err
}
