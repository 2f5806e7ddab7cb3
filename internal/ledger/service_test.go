package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	accounts map[string]Account
	balances map[uuid.UUID]int64
	posted   []PostingInput
	refs     map[string]bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		accounts: make(map[string]Account),
		balances: make(map[uuid.UUID]int64),
		refs:     make(map[string]bool),
	}
}

func keyString(key AccountKey) string {
	owner := ""
	if key.OwnerID != nil {
		owner = key.OwnerID.String()
	}
	return string(key.OwnerKind) + "|" + owner + "|" + key.Currency + "|" + string(key.Role)
}

func (r *memoryRepo) EnsureAccount(ctx context.Context, key AccountKey) (Account, error) {
	if a, ok := r.accounts[keyString(key)]; ok {
		return a, nil
	}
	a := Account{ID: uuid.New(), OwnerKind: key.OwnerKind, OwnerID: key.OwnerID, Currency: key.Currency, Role: key.Role}
	r.accounts[keyString(key)] = a
	return a, nil
}

func (r *memoryRepo) FindAccount(ctx context.Context, key AccountKey) (Account, error) {
	if a, ok := r.accounts[keyString(key)]; ok {
		return a, nil
	}
	return Account{}, ErrAccountNotFound
}

func (r *memoryRepo) GetAccount(ctx context.Context, id uuid.UUID) (Account, error) {
	for _, a := range r.accounts {
		if a.ID == id {
			return a, nil
		}
	}
	return Account{}, ErrAccountNotFound
}

func (r *memoryRepo) Balance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	return r.balances[accountID], nil
}

func (r *memoryRepo) Entries(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]Entry, error) {
	return nil, nil
}

func (r *memoryRepo) PostTransfer(ctx context.Context, in PostingInput) error {
	if r.refs[in.Reference] {
		return ErrDuplicateReference
	}
	from, err := r.GetAccount(ctx, in.From)
	if err != nil {
		return err
	}
	if _, err := r.GetAccount(ctx, in.To); err != nil {
		return err
	}
	if from.OwnerKind == OwnerUser && r.balances[in.From] < in.Amount {
		return ErrInsufficientFunds
	}
	r.balances[in.From] -= in.Amount
	r.balances[in.To] += in.Amount
	r.refs[in.Reference] = true
	r.posted = append(r.posted, in)
	return nil
}

func (r *memoryRepo) SumByReferencePrefix(ctx context.Context, prefix string, day time.Time) (int64, error) {
	return 0, nil
}

func (r *memoryRepo) IntegrityGap(ctx context.Context) (int64, error) {
	return 0, nil
}

type countingMetrics struct {
	posted map[string]int
}

func (m *countingMetrics) TransferPosted(kind string) {
	if m.posted == nil {
		m.posted = make(map[string]int)
	}
	m.posted[kind]++
}

func seedAccounts(t *testing.T, repo *memoryRepo) (Account, Account) {
	t.Helper()
	userID := uuid.New()
	wallet, err := repo.EnsureAccount(context.Background(), AccountKey{OwnerKind: OwnerUser, OwnerID: &userID, Currency: "NGN", Role: RoleWallet})
	require.NoError(t, err)
	clearing, err := repo.EnsureAccount(context.Background(), AccountKey{OwnerKind: OwnerSystem, Currency: "NGN", Role: RoleUtilityClearing})
	require.NoError(t, err)
	return wallet, clearing
}

func TestPostTransferMovesBalancedAmount(t *testing.T) {
	repo := newMemoryRepo()
	metrics := &countingMetrics{}
	svc := NewService(repo, nil, metrics, nil)
	ctx := context.Background()

	wallet, clearing := seedAccounts(t, repo)
	repo.balances[wallet.ID] = 10_000

	err := svc.PostTransfer(ctx, PostingInput{
		From: wallet.ID, To: clearing.ID, Amount: 2_500, Reference: "AIR-TEST1",
		Metadata: map[string]any{"type": "airtime"},
	})
	require.NoError(t, err)
	require.EqualValues(t, 7_500, repo.balances[wallet.ID])
	require.EqualValues(t, 2_500, repo.balances[clearing.ID])
	require.Equal(t, 1, metrics.posted["airtime"])
}

func TestPostTransferRejectsInvalidInput(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()
	wallet, clearing := seedAccounts(t, repo)

	cases := []PostingInput{
		{From: wallet.ID, To: clearing.ID, Amount: 0, Reference: "X-1"},
		{From: wallet.ID, To: clearing.ID, Amount: -5, Reference: "X-2"},
		{From: wallet.ID, To: wallet.ID, Amount: 100, Reference: "X-3"},
		{From: uuid.Nil, To: clearing.ID, Amount: 100, Reference: "X-4"},
		{From: wallet.ID, To: clearing.ID, Amount: 100, Reference: ""},
	}
	for _, in := range cases {
		require.Error(t, svc.PostTransfer(ctx, in))
	}
	require.Empty(t, repo.posted)
}

func TestPostTransferRejectsOverdraw(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	wallet, clearing := seedAccounts(t, repo)
	repo.balances[wallet.ID] = 100

	err := svc.PostTransfer(ctx, PostingInput{From: wallet.ID, To: clearing.ID, Amount: 101, Reference: "AIR-OVER"})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	require.EqualValues(t, 100, repo.balances[wallet.ID])
}

func TestPostTransferRejectsDuplicateReference(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	wallet, clearing := seedAccounts(t, repo)
	repo.balances[wallet.ID] = 1_000

	in := PostingInput{From: wallet.ID, To: clearing.ID, Amount: 400, Reference: "AIR-DUP"}
	require.NoError(t, svc.PostTransfer(ctx, in))
	require.ErrorIs(t, svc.PostTransfer(ctx, in), ErrDuplicateReference)
	require.EqualValues(t, 600, repo.balances[wallet.ID])
}

func TestBalanceUsesCacheUntilInvalidated(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := newMemoryRepo()
	cache := NewBalanceCache(client, time.Minute)
	svc := NewService(repo, cache, nil, nil)
	ctx := context.Background()

	wallet, clearing := seedAccounts(t, repo)
	repo.balances[wallet.ID] = 5_000

	balance, err := svc.Balance(ctx, wallet.ID)
	require.NoError(t, err)
	require.EqualValues(t, 5_000, balance)

	// A direct repo change is invisible while the cache holds the value.
	repo.balances[wallet.ID] = 9_999
	balance, err = svc.Balance(ctx, wallet.ID)
	require.NoError(t, err)
	require.EqualValues(t, 5_000, balance)

	// Posting through the service invalidates both sides.
	require.NoError(t, svc.PostTransfer(ctx, PostingInput{From: wallet.ID, To: clearing.ID, Amount: 999, Reference: "WD-CACHE"}))
	balance, err = svc.Balance(ctx, wallet.ID)
	require.NoError(t, err)
	require.EqualValues(t, 9_000, balance)
}

func TestPostingOptionsSeeCommittedCompetingDebits(t *testing.T) {
	// The overdraw check takes the account row lock and then sums entries.
	// At ReadCommitted that sum includes every debit committed while the
	// transaction waited on the lock. A snapshot level would fix the view
	// before the lock was granted, letting two concurrent debits of the same
	// wallet both pass the check.
	require.Equal(t, pgx.ReadCommitted, PostingTxOptions.IsoLevel)
}
