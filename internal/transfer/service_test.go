package transfer

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/kudipay/kudipay/internal/ledger"
	"github.com/kudipay/kudipay/internal/shared"
	"github.com/kudipay/kudipay/internal/users"
)

type memoryRepo struct {
	byRef  map[string]Transfer
	nextID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{byRef: make(map[string]Transfer)}
}

func (r *memoryRepo) Insert(ctx context.Context, t *Transfer) error {
	r.nextID++
	t.ID = r.nextID
	r.byRef[t.Reference] = *t
	return nil
}

func (r *memoryRepo) GetByReference(ctx context.Context, reference string) (Transfer, error) {
	t, ok := r.byRef[reference]
	if !ok {
		return Transfer{}, ErrNotFound
	}
	return t, nil
}

func (r *memoryRepo) UpdateStatus(ctx context.Context, reference string, from, to Status) error {
	t, ok := r.byRef[reference]
	if !ok || t.Status != from || !from.CanTransitionTo(to) {
		return ErrIllegalTransition
	}
	t.Status = to
	r.byRef[reference] = t
	return nil
}

type stubLedger struct {
	accounts map[string]ledger.Account
	balances map[uuid.UUID]int64
	refs     map[string]bool
}

func newStubLedger() *stubLedger {
	return &stubLedger{
		accounts: make(map[string]ledger.Account),
		balances: make(map[uuid.UUID]int64),
		refs:     make(map[string]bool),
	}
}

func accountKeyString(key ledger.AccountKey) string {
	owner := ""
	if key.OwnerID != nil {
		owner = key.OwnerID.String()
	}
	return string(key.OwnerKind) + "|" + owner + "|" + key.Currency + "|" + string(key.Role)
}

func (l *stubLedger) EnsureAccount(ctx context.Context, key ledger.AccountKey) (ledger.Account, error) {
	if a, ok := l.accounts[accountKeyString(key)]; ok {
		return a, nil
	}
	a := ledger.Account{ID: uuid.New(), OwnerKind: key.OwnerKind, OwnerID: key.OwnerID, Currency: key.Currency, Role: key.Role}
	l.accounts[accountKeyString(key)] = a
	return a, nil
}

func (l *stubLedger) PostTransfer(ctx context.Context, in ledger.PostingInput) error {
	if err := in.Validate(); err != nil {
		return err
	}
	if l.refs[in.Reference] {
		return ledger.ErrDuplicateReference
	}
	if l.balances[in.From] < in.Amount {
		return ledger.ErrInsufficientFunds
	}
	l.balances[in.From] -= in.Amount
	l.balances[in.To] += in.Amount
	l.refs[in.Reference] = true
	return nil
}

type stubUsers struct {
	byUID     map[string]users.Profile
	byAccount map[string]users.Profile
}

func (u *stubUsers) ByPublicUID(ctx context.Context, publicUID string) (users.Profile, error) {
	p, ok := u.byUID[publicUID]
	if !ok {
		return users.Profile{}, users.ErrUserNotFound
	}
	return p, nil
}

func (u *stubUsers) ByVirtualAccount(ctx context.Context, accountNumber string) (users.Profile, error) {
	p, ok := u.byAccount[accountNumber]
	if !ok {
		return users.Profile{}, users.ErrUserNotFound
	}
	return p, nil
}

type stubIdem struct {
	seen map[string]bool
}

func (i *stubIdem) Begin(ctx context.Context, key, scope string) error {
	k := scope + ":" + key
	if i.seen[k] {
		return shared.ErrIdempotencyConflict
	}
	i.seen[k] = true
	return nil
}

type fixtureState struct {
	svc       *Service
	repo      *memoryRepo
	ldg       *stubLedger
	sender    users.Profile
	recipient users.Profile
}

func fixture(t *testing.T, senderBalance int64) fixtureState {
	t.Helper()
	repo := newMemoryRepo()
	ldg := newStubLedger()
	sender := users.Profile{ID: uuid.New(), Email: "ada@example.com", PublicUID: "ada"}
	recipient := users.Profile{ID: uuid.New(), Email: "bisi@example.com", PublicUID: "bisi"}
	directory := &stubUsers{
		byUID:     map[string]users.Profile{sender.PublicUID: sender, recipient.PublicUID: recipient},
		byAccount: map[string]users.Profile{"0123456789": recipient},
	}
	wallet, err := ldg.EnsureAccount(context.Background(), ledger.AccountKey{
		OwnerKind: ledger.OwnerUser, OwnerID: &sender.ID, Currency: "NGN", Role: ledger.RoleWallet,
	})
	require.NoError(t, err)
	ldg.balances[wallet.ID] = senderBalance
	svc := NewService(repo, ldg, directory, &stubIdem{seen: make(map[string]bool)}, nil, "NGN")
	return fixtureState{svc: svc, repo: repo, ldg: ldg, sender: sender, recipient: recipient}
}

func TestSendByPublicUID(t *testing.T) {
	f := fixture(t, 5000)

	got, err := f.svc.Send(context.Background(), SendInput{
		SenderID: f.sender.ID, Recipient: "bisi", Amount: 2000, Reference: "TRF-1",
	})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
	require.Equal(t, f.recipient.ID, got.RecipientID)
	require.Equal(t, int64(3000), f.ldg.balances[got.FromAccount])
	require.Equal(t, int64(2000), f.ldg.balances[got.ToAccount])
}

func TestSendByVirtualAccount(t *testing.T) {
	f := fixture(t, 5000)

	got, err := f.svc.Send(context.Background(), SendInput{
		SenderID: f.sender.ID, Recipient: "0123456789", Amount: 1500, Reference: "TRF-2",
	})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
	require.Equal(t, f.recipient.ID, got.RecipientID)
	require.Equal(t, "0123456789", got.RecipientLookup)
}

func TestSendToSelfRejected(t *testing.T) {
	f := fixture(t, 5000)

	_, err := f.svc.Send(context.Background(), SendInput{
		SenderID: f.sender.ID, Recipient: "ada", Amount: 1000, Reference: "TRF-3",
	})
	require.ErrorIs(t, err, shared.ErrInvalidRequest)
	_, err = f.repo.GetByReference(context.Background(), "TRF-3")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSendRecipientNotFound(t *testing.T) {
	f := fixture(t, 5000)

	_, err := f.svc.Send(context.Background(), SendInput{
		SenderID: f.sender.ID, Recipient: "nobody", Amount: 1000, Reference: "TRF-4",
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSendInsufficientFunds(t *testing.T) {
	f := fixture(t, 500)

	got, err := f.svc.Send(context.Background(), SendInput{
		SenderID: f.sender.ID, Recipient: "bisi", Amount: 1000, Reference: "TRF-5",
	})
	require.ErrorIs(t, err, shared.ErrInsufficientFunds)
	require.Equal(t, StatusFailed, got.Status)

	stored, err := f.repo.GetByReference(context.Background(), "TRF-5")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, stored.Status)
	require.Equal(t, int64(500), f.ldg.balances[got.FromAccount])
}

func TestSendReplayCompleted(t *testing.T) {
	f := fixture(t, 5000)

	first, err := f.svc.Send(context.Background(), SendInput{
		SenderID: f.sender.ID, Recipient: "bisi", Amount: 2000, Reference: "TRF-6",
	})
	require.NoError(t, err)

	again, err := f.svc.Send(context.Background(), SendInput{
		SenderID: f.sender.ID, Recipient: "bisi", Amount: 2000, Reference: "TRF-6",
	})
	require.NoError(t, err)
	require.Equal(t, first.Reference, again.Reference)
	require.Equal(t, StatusCompleted, again.Status)
	require.Equal(t, int64(3000), f.ldg.balances[first.FromAccount])
}

func TestSendReplayFailed(t *testing.T) {
	f := fixture(t, 500)

	_, err := f.svc.Send(context.Background(), SendInput{
		SenderID: f.sender.ID, Recipient: "bisi", Amount: 1000, Reference: "TRF-7",
	})
	require.ErrorIs(t, err, shared.ErrInsufficientFunds)

	_, err = f.svc.Send(context.Background(), SendInput{
		SenderID: f.sender.ID, Recipient: "bisi", Amount: 1000, Reference: "TRF-7",
	})
	require.ErrorIs(t, err, shared.ErrDuplicateCompleted)
}
