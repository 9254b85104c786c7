package referral

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// --- Mock repository ---

type commissionMarker struct {
	referrerID string
	amount     decimal.Decimal
	reversed   bool
}

type mockRepo struct {
	mu       sync.Mutex
	accounts map[string]*Account
	byCode   map[string]string
	credits  map[string]*commissionMarker
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		accounts: make(map[string]*Account),
		byCode:   make(map[string]string),
		credits:  make(map[string]*commissionMarker),
	}
}

func (m *mockRepo) Create(_ context.Context, a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.accounts[a.UserID] = &cp
	m.byCode[a.Code] = a.UserID
	return nil
}

func (m *mockRepo) GetAccount(_ context.Context, userID string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(userID)
}

func (m *mockRepo) getLocked(userID string) (*Account, error) {
	a, ok := m.accounts[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	cp.Referrals = append([]Entry(nil), a.Referrals...)
	cp.Rewards = append([]RewardEvent(nil), a.Rewards...)
	return &cp, nil
}

func (m *mockRepo) GetByCode(_ context.Context, code string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userID, ok := m.byCode[code]
	if !ok {
		return nil, ErrNotFound
	}
	return m.getLocked(userID)
}

func (m *mockRepo) AddReferral(_ context.Context, referrerID string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[referrerID]
	if !ok {
		return ErrNotFound
	}
	a.Referrals = append(a.Referrals, e)
	a.TotalReferrals++
	return nil
}

func (m *mockRepo) CreditReward(_ context.Context, userID string, ev RewardEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID]
	if !ok {
		return ErrNotFound
	}
	m.creditLocked(a, ev)
	return nil
}

func (m *mockRepo) creditLocked(a *Account, ev RewardEvent) {
	a.Rewards = append(a.Rewards, ev)
	a.TotalEarnings = a.TotalEarnings.Add(ev.Amount)
	a.AvailableBalance = a.AvailableBalance.Add(ev.Amount)
}

func (m *mockRepo) CreditCommission(_ context.Context, referrerID string, ev RewardEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.credits[ev.OrderID]; exists {
		return false, nil
	}
	a, ok := m.accounts[referrerID]
	if !ok {
		return false, ErrNotFound
	}

	flipped := false
	for i := range a.Referrals {
		if a.Referrals[i].UserID == ev.ReferredUserID && !a.Referrals[i].HasCompletedOrder {
			a.Referrals[i].HasCompletedOrder = true
			flipped = true
			break
		}
	}
	if !flipped {
		return false, nil
	}

	m.credits[ev.OrderID] = &commissionMarker{referrerID: referrerID, amount: ev.Amount}
	a.SuccessfulReferrals++
	m.creditLocked(a, ev)
	return true, nil
}

func (m *mockRepo) ReverseCommission(_ context.Context, orderID, description string) (*RewardEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	marker, ok := m.credits[orderID]
	if !ok || marker.reversed {
		return nil, nil
	}
	a, ok := m.accounts[marker.referrerID]
	if !ok {
		return nil, ErrNotFound
	}

	marker.reversed = true
	clamp := decimal.Min(marker.amount, a.AvailableBalance)
	ev := RewardEvent{
		Type:        RewardCommissionReversal,
		Amount:      clamp.Neg(),
		Description: description,
		OrderID:     orderID,
	}
	a.Rewards = append(a.Rewards, ev)
	a.TotalEarnings = a.TotalEarnings.Sub(clamp)
	a.AvailableBalance = a.AvailableBalance.Sub(clamp)
	return &ev, nil
}

func (m *mockRepo) Withdraw(_ context.Context, userID string, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID]
	if !ok {
		return ErrNotFound
	}
	if a.AvailableBalance.LessThan(amount) {
		return ErrInsufficientBalance
	}
	a.AvailableBalance = a.AvailableBalance.Sub(amount)
	a.WithdrawnBalance = a.WithdrawnBalance.Add(amount)
	return nil
}

func (m *mockRepo) ListCodes(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	codes := make([]string, 0, len(m.byCode))
	for c := range m.byCode {
		codes = append(codes, c)
	}
	return codes, nil
}

// --- Helpers ---

func testPolicy() Policy {
	return Policy{
		CommissionPercent: decimal.NewFromInt(10),
		SignupBonus:       decimal.NewFromInt(50),
		ReferralBonus:     decimal.NewFromInt(25),
	}
}

func newService(repo *mockRepo) *Service {
	filter := NewCodeFilter(1000, 0.01)
	return NewService(repo, testPolicy(), filter)
}

// requireReconciled asserts the balance invariants on the stored account.
func requireReconciled(t *testing.T, repo *mockRepo, userID string) *Account {
	t.Helper()
	a, err := repo.GetAccount(context.Background(), userID)
	require.NoError(t, err)
	require.NoError(t, a.Reconcile())
	return a
}

// referredPair registers a referrer and a referred buyer, returning both.
func referredPair(t *testing.T, svc *Service) (referrer, buyer *Account) {
	t.Helper()
	ctx := context.Background()

	referrer, err := svc.RegisterAccount(ctx, "referrer", "")
	require.NoError(t, err)

	buyer, err = svc.RegisterAccount(ctx, "buyer", referrer.Code)
	require.NoError(t, err)
	return referrer, buyer
}

// --- RegisterAccount / RegisterReferral ---

func TestRegisterAccount_SignupBonus(t *testing.T) {
	repo := newMockRepo()
	svc := newService(repo)

	a, err := svc.RegisterAccount(context.Background(), "u1", "")
	require.NoError(t, err)
	assert.Len(t, a.Code, codeLength)
	assert.Empty(t, a.ReferredBy)

	got := requireReconciled(t, repo, "u1")
	assert.True(t, decimal.NewFromInt(50).Equal(got.TotalEarnings))
	assert.True(t, decimal.NewFromInt(50).Equal(got.AvailableBalance))
	require.Len(t, got.Rewards, 1)
	assert.Equal(t, RewardSignupBonus, got.Rewards[0].Type)
}

func TestRegisterAccount_WithReferralCode(t *testing.T) {
	repo := newMockRepo()
	svc := newService(repo)

	referrer, buyer := referredPair(t, svc)
	assert.Equal(t, referrer.UserID, buyer.ReferredBy)

	got := requireReconciled(t, repo, referrer.UserID)
	assert.Equal(t, 1, got.TotalReferrals)
	assert.Equal(t, 0, got.SuccessfulReferrals)
	require.Len(t, got.Referrals, 1)
	assert.Equal(t, "buyer", got.Referrals[0].UserID)
	assert.False(t, got.Referrals[0].HasCompletedOrder)

	// 50 signup + 25 referral bonus.
	assert.True(t, decimal.NewFromInt(75).Equal(got.TotalEarnings))
}

func TestRegisterAccount_UnknownCodeIgnored(t *testing.T) {
	repo := newMockRepo()
	svc := newService(repo)

	a, err := svc.RegisterAccount(context.Background(), "u1", "NOSUCHCODE")
	require.NoError(t, err)
	assert.Empty(t, a.ReferredBy)
}

func TestRegisterAccount_Idempotent(t *testing.T) {
	repo := newMockRepo()
	svc := newService(repo)
	ctx := context.Background()

	first, err := svc.RegisterAccount(ctx, "u1", "")
	require.NoError(t, err)
	second, err := svc.RegisterAccount(ctx, "u1", "")
	require.NoError(t, err)

	assert.Equal(t, first.Code, second.Code)
	got := requireReconciled(t, repo, "u1")
	assert.Len(t, got.Rewards, 1, "signup bonus must not be credited twice")
}

func TestRegisterReferral_SelfReferralRejected(t *testing.T) {
	repo := newMockRepo()
	svc := newService(repo)

	err := svc.RegisterReferral(context.Background(), "u1", "u1")
	require.ErrorIs(t, err, ErrInvalidReferral)
}

func TestRegisterReferral_MissingReferrerIsNoOp(t *testing.T) {
	repo := newMockRepo()
	svc := newService(repo)

	require.NoError(t, svc.RegisterReferral(context.Background(), "u1", ""))
	require.NoError(t, svc.RegisterReferral(context.Background(), "u1", "ghost"))
}

// --- ResolveCode ---

func TestResolveCode(t *testing.T) {
	repo := newMockRepo()
	svc := newService(repo)
	ctx := context.Background()

	a, err := svc.RegisterAccount(ctx, "u1", "")
	require.NoError(t, err)

	got, err := svc.ResolveCode(ctx, a.Code)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)

	_, err = svc.ResolveCode(ctx, "DEFINITELYNOT")
	require.ErrorIs(t, err, ErrCodeNotFound)

	_, err = svc.ResolveCode(ctx, "")
	require.ErrorIs(t, err, ErrCodeNotFound)
}

func TestCodeFilter_NegativeLookup(t *testing.T) {
	f := NewCodeFilter(100, 0.01)
	f.Load([]string{"AAAA111111", "BBBB222222"})

	assert.True(t, f.MayContain("AAAA111111"))
	assert.True(t, f.MayContain("BBBB222222"))
	assert.False(t, f.MayContain("CCCC333333"))
}

// --- OnQualifyingCompletion ---

func TestOnQualifyingCompletion_CreditsCommissionOnce(t *testing.T) {
	repo := newMockRepo()
	svc := newService(repo)
	ctx := context.Background()

	referrer, _ := referredPair(t, svc)
	orderValue := decimal.RequireFromString("1600.00")

	require.NoError(t, svc.OnQualifyingCompletion(ctx, "o1", "buyer", orderValue))
	// Retried delivery of the same order must not double-credit.
	require.NoError(t, svc.OnQualifyingCompletion(ctx, "o1", "buyer", orderValue))

	got := requireReconciled(t, repo, referrer.UserID)
	assert.Equal(t, 1, got.SuccessfulReferrals)
	assert.True(t, got.Referrals[0].HasCompletedOrder)

	// 50 signup + 25 referral + 160 commission (10% of 1600).
	assert.True(t, decimal.NewFromInt(235).Equal(got.TotalEarnings), "got %s", got.TotalEarnings)
}

func TestOnQualifyingCompletion_Concurrent(t *testing.T) {
	repo := newMockRepo()
	svc := newService(repo)
	ctx := context.Background()

	referrer, _ := referredPair(t, svc)

	var g errgroup.Group
	for range 8 {
		g.Go(func() error {
			return svc.OnQualifyingCompletion(ctx, "o1", "buyer", decimal.NewFromInt(1000))
		})
	}
	require.NoError(t, g.Wait())

	got := requireReconciled(t, repo, referrer.UserID)
	assert.Equal(t, 1, got.SuccessfulReferrals)
	// Exactly one 100 commission on top of the 75 in bonuses.
	assert.True(t, decimal.NewFromInt(175).Equal(got.TotalEarnings), "got %s", got.TotalEarnings)
}

func TestOnQualifyingCompletion_SecondOrderNotCommissioned(t *testing.T) {
	repo := newMockRepo()
	svc := newService(repo)
	ctx := context.Background()

	referrer, _ := referredPair(t, svc)

	require.NoError(t, svc.OnQualifyingCompletion(ctx, "o1", "buyer", decimal.NewFromInt(1000)))
	require.NoError(t, svc.OnQualifyingCompletion(ctx, "o2", "buyer", decimal.NewFromInt(2000)))

	got := requireReconciled(t, repo, referrer.UserID)
	assert.Equal(t, 1, got.SuccessfulReferrals)
	assert.True(t, decimal.NewFromInt(175).Equal(got.TotalEarnings), "got %s", got.TotalEarnings)
}

func TestOnQualifyingCompletion_UnreferredBuyerIsNoOp(t *testing.T) {
	repo := newMockRepo()
	svc := newService(repo)
	ctx := context.Background()

	_, err := svc.RegisterAccount(ctx, "loner", "")
	require.NoError(t, err)

	require.NoError(t, svc.OnQualifyingCompletion(ctx, "o1", "loner", decimal.NewFromInt(1000)))
	require.NoError(t, svc.OnQualifyingCompletion(ctx, "o2", "stranger", decimal.NewFromInt(1000)))
}

// --- Withdraw ---

func TestWithdraw_ExactBalance(t *testing.T) {
	repo := newMockRepo()
	svc := newService(repo)
	ctx := context.Background()

	_, err := svc.RegisterAccount(ctx, "u1", "")
	require.NoError(t, err)

	require.NoError(t, svc.Withdraw(ctx, "u1", decimal.NewFromInt(50)))

	got := requireReconciled(t, repo, "u1")
	assert.True(t, got.AvailableBalance.IsZero())
	assert.True(t, decimal.NewFromInt(50).Equal(got.WithdrawnBalance))
	assert.True(t, decimal.NewFromInt(50).Equal(got.TotalEarnings), "total earnings unchanged")
}

func TestWithdraw_OverBalance(t *testing.T) {
	repo := newMockRepo()
	svc := newService(repo)
	ctx := context.Background()

	_, err := svc.RegisterAccount(ctx, "u1", "")
	require.NoError(t, err)

	err = svc.Withdraw(ctx, "u1", decimal.NewFromInt(51))
	require.ErrorIs(t, err, ErrInsufficientBalance)

	got := requireReconciled(t, repo, "u1")
	assert.True(t, decimal.NewFromInt(50).Equal(got.AvailableBalance), "balances untouched")
	assert.True(t, got.WithdrawnBalance.IsZero())
}

func TestWithdraw_NonPositiveAmount(t *testing.T) {
	repo := newMockRepo()
	svc := newService(repo)

	var iaErr *InvalidAmountError
	require.ErrorAs(t, svc.Withdraw(context.Background(), "u1", decimal.Zero), &iaErr)
	require.ErrorAs(t, svc.Withdraw(context.Background(), "u1", decimal.NewFromInt(-5)), &iaErr)
}

// --- OnRefund ---

func TestOnRefund_ReversesCommission(t *testing.T) {
	repo := newMockRepo()
	svc := newService(repo)
	ctx := context.Background()

	referrer, _ := referredPair(t, svc)
	require.NoError(t, svc.OnQualifyingCompletion(ctx, "o1", "buyer", decimal.NewFromInt(1000)))

	require.NoError(t, svc.OnRefund(ctx, "o1"))

	got := requireReconciled(t, repo, referrer.UserID)
	// Back down to the 75 in bonuses; the 100 commission is reversed.
	assert.True(t, decimal.NewFromInt(75).Equal(got.TotalEarnings), "got %s", got.TotalEarnings)

	last := got.Rewards[len(got.Rewards)-1]
	assert.Equal(t, RewardCommissionReversal, last.Type)
	assert.True(t, decimal.NewFromInt(-100).Equal(last.Amount))
}

func TestOnRefund_Idempotent(t *testing.T) {
	repo := newMockRepo()
	svc := newService(repo)
	ctx := context.Background()

	referrer, _ := referredPair(t, svc)
	require.NoError(t, svc.OnQualifyingCompletion(ctx, "o1", "buyer", decimal.NewFromInt(1000)))

	require.NoError(t, svc.OnRefund(ctx, "o1"))
	require.NoError(t, svc.OnRefund(ctx, "o1"))

	got := requireReconciled(t, repo, referrer.UserID)
	assert.True(t, decimal.NewFromInt(75).Equal(got.TotalEarnings), "reversal applied once")
}

func TestOnRefund_NoCommissionIsNoOp(t *testing.T) {
	repo := newMockRepo()
	svc := newService(repo)

	require.NoError(t, svc.OnRefund(context.Background(), "never-credited"))
}

func TestOnRefund_ClampedAtAvailableBalance(t *testing.T) {
	repo := newMockRepo()
	svc := newService(repo)
	ctx := context.Background()

	referrer, _ := referredPair(t, svc)
	require.NoError(t, svc.OnQualifyingCompletion(ctx, "o1", "buyer", decimal.NewFromInt(1000)))

	// Withdraw everything (175) before the refund arrives.
	require.NoError(t, svc.Withdraw(ctx, referrer.UserID, decimal.NewFromInt(175)))

	require.NoError(t, svc.OnRefund(ctx, "o1"))

	// Nothing left to claw back; the invariant still holds.
	got := requireReconciled(t, repo, referrer.UserID)
	assert.True(t, got.AvailableBalance.IsZero())
	assert.True(t, decimal.NewFromInt(175).Equal(got.WithdrawnBalance))
	assert.True(t, decimal.NewFromInt(175).Equal(got.TotalEarnings))
}
