package withdrawal

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/kudipay/kudipay/internal/gateway"
	"github.com/kudipay/kudipay/internal/ledger"
	"github.com/kudipay/kudipay/internal/shared"
)

type memoryRepo struct {
	byRef  map[string]*Withdrawal
	nextID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{byRef: make(map[string]*Withdrawal)}
}

func (r *memoryRepo) Insert(ctx context.Context, w *Withdrawal) error {
	r.nextID++
	w.ID = r.nextID
	w.CreatedAt = time.Now()
	w.UpdatedAt = w.CreatedAt
	cp := *w
	r.byRef[w.Reference] = &cp
	return nil
}

func (r *memoryRepo) GetByReference(ctx context.Context, reference string) (Withdrawal, error) {
	if w, ok := r.byRef[reference]; ok {
		return *w, nil
	}
	return Withdrawal{}, ErrNotFound
}

func (r *memoryRepo) GetByTransferCode(ctx context.Context, transferCode string) (Withdrawal, error) {
	for _, w := range r.byRef {
		if w.TransferCode == transferCode && transferCode != "" {
			return *w, nil
		}
	}
	return Withdrawal{}, ErrNotFound
}

func (r *memoryRepo) UpdateStatus(ctx context.Context, reference string, from, to Status) error {
	w, ok := r.byRef[reference]
	if !ok || w.Status != from || !from.CanTransitionTo(to) {
		return ErrIllegalTransition
	}
	w.Status = to
	return nil
}

func (r *memoryRepo) SumSuccessful(ctx context.Context, day time.Time) (int64, error) {
	var total int64
	for _, w := range r.byRef {
		if w.Status == StatusSuccessful {
			total += w.Amount
		}
	}
	return total, nil
}

func (r *memoryRepo) SetGatewayHandle(ctx context.Context, reference, transferCode string, raw []byte) error {
	if w, ok := r.byRef[reference]; ok {
		if transferCode != "" {
			w.TransferCode = transferCode
		}
		w.GatewayResponse = raw
	}
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
	for _, a := range l.accounts {
		if a.ID == in.From && a.OwnerKind == ledger.OwnerUser && l.balances[in.From] < in.Amount {
			return ledger.ErrInsufficientFunds
		}
	}
	l.balances[in.From] -= in.Amount
	l.balances[in.To] += in.Amount
	l.refs[in.Reference] = true
	return nil
}

type stubGateway struct {
	recipient gateway.Result
	transfer  gateway.Result
}

func (g *stubGateway) CreateTransferRecipient(ctx context.Context, req gateway.RecipientRequest) gateway.Result {
	return g.recipient
}

func (g *stubGateway) InitiateTransfer(ctx context.Context, req gateway.TransferRequest) gateway.Result {
	return g.transfer
}

type stubIdem struct {
	seen map[string]bool
}

func newStubIdem() *stubIdem {
	return &stubIdem{seen: make(map[string]bool)}
}

func (i *stubIdem) Begin(ctx context.Context, key, scope string) error {
	k := scope + ":" + key
	if i.seen[k] {
		return shared.ErrIdempotencyConflict
	}
	i.seen[k] = true
	return nil
}

func fixture(t *testing.T, balance int64, gw *stubGateway) (*Service, *memoryRepo, *stubLedger, uuid.UUID, ledger.Account) {
	t.Helper()
	repo := newMemoryRepo()
	ldg := newStubLedger()
	svc := NewService(repo, ldg, gw, newStubIdem(), nil, nil, nil, "NGN")

	userID := uuid.New()
	wallet, err := ldg.EnsureAccount(context.Background(), ledger.AccountKey{
		OwnerKind: ledger.OwnerUser, OwnerID: &userID, Currency: "NGN", Role: ledger.RoleWallet,
	})
	require.NoError(t, err)
	ldg.balances[wallet.ID] = balance
	return svc, repo, ldg, userID, wallet
}

func TestWithdrawEndsAtProcessing(t *testing.T) {
	gw := &stubGateway{
		recipient: gateway.Result{OK: true, Code: "RCP_1"},
		transfer:  gateway.Result{OK: true, Code: "TRF_code_1", Raw: []byte(`{"status":"pending"}`)},
	}
	svc, repo, ldg, userID, wallet := fixture(t, 10_000, gw)

	w, err := svc.Withdraw(context.Background(), WithdrawInput{
		UserID: userID, Amount: 10_000, BankCode: "058", AccountNumber: "0123456789",
	})
	require.NoError(t, err)
	// Never successful synchronously; settlement arrives by webhook.
	require.Equal(t, StatusProcessing, w.Status)
	require.Equal(t, "TRF_code_1", w.TransferCode)
	require.EqualValues(t, 0, ldg.balances[wallet.ID])

	stored, err := repo.GetByReference(context.Background(), w.Reference)
	require.NoError(t, err)
	require.Equal(t, StatusProcessing, stored.Status)
	require.Equal(t, "TRF_code_1", stored.TransferCode)
}

func TestWithdrawInsufficientFunds(t *testing.T) {
	gw := &stubGateway{recipient: gateway.Result{OK: true}, transfer: gateway.Result{OK: true}}
	svc, _, ldg, userID, wallet := fixture(t, 4_999, gw)

	w, err := svc.Withdraw(context.Background(), WithdrawInput{
		UserID: userID, Amount: 5_000, BankCode: "058", AccountNumber: "0123456789",
	})
	require.ErrorIs(t, err, shared.ErrInsufficientFunds)
	require.Equal(t, StatusFailed, w.Status)
	require.EqualValues(t, 4_999, ldg.balances[wallet.ID])
}

func TestWithdrawRefundsWhenTransferRejectedSynchronously(t *testing.T) {
	gw := &stubGateway{
		recipient: gateway.Result{OK: true, Code: "RCP_1"},
		transfer:  gateway.Result{OK: false, Message: "insufficient gateway balance"},
	}
	svc, repo, ldg, userID, wallet := fixture(t, 10_000, gw)

	w, err := svc.Withdraw(context.Background(), WithdrawInput{
		UserID: userID, Amount: 10_000, BankCode: "058", AccountNumber: "0123456789",
	})
	require.ErrorIs(t, err, shared.ErrProviderError)
	require.Equal(t, StatusRefunded, w.Status)
	require.EqualValues(t, 10_000, ldg.balances[wallet.ID])

	stored, err := repo.GetByReference(context.Background(), w.Reference)
	require.NoError(t, err)
	require.Equal(t, StatusRefunded, stored.Status)
}

func TestSettleSuccess(t *testing.T) {
	gw := &stubGateway{
		recipient: gateway.Result{OK: true, Code: "RCP_1"},
		transfer:  gateway.Result{OK: true, Code: "TRF_code_1"},
	}
	svc, repo, _, userID, _ := fixture(t, 10_000, gw)

	w, err := svc.Withdraw(context.Background(), WithdrawInput{
		UserID: userID, Amount: 10_000, BankCode: "058", AccountNumber: "0123456789",
	})
	require.NoError(t, err)

	settled, err := svc.Settle(context.Background(), w.Reference, OutcomeSuccess, []byte(`{"status":"success"}`))
	require.NoError(t, err)
	require.Equal(t, StatusSuccessful, settled.Status)

	stored, err := repo.GetByReference(context.Background(), w.Reference)
	require.NoError(t, err)
	require.Equal(t, StatusSuccessful, stored.Status)
}

func TestSettleFailureRefundsWallet(t *testing.T) {
	gw := &stubGateway{
		recipient: gateway.Result{OK: true, Code: "RCP_1"},
		transfer:  gateway.Result{OK: true, Code: "TRF_code_1"},
	}
	svc, repo, ldg, userID, wallet := fixture(t, 10_000, gw)

	w, err := svc.Withdraw(context.Background(), WithdrawInput{
		UserID: userID, Amount: 10_000, BankCode: "058", AccountNumber: "0123456789",
	})
	require.NoError(t, err)
	require.EqualValues(t, 0, ldg.balances[wallet.ID])

	settled, err := svc.Settle(context.Background(), w.Reference, OutcomeFailed, nil)
	require.NoError(t, err)
	require.Equal(t, StatusRefunded, settled.Status)
	require.EqualValues(t, 10_000, ldg.balances[wallet.ID])

	stored, err := repo.GetByReference(context.Background(), w.Reference)
	require.NoError(t, err)
	require.Equal(t, StatusRefunded, stored.Status)
}

func TestSettleRedeliveryIsNoOp(t *testing.T) {
	gw := &stubGateway{
		recipient: gateway.Result{OK: true, Code: "RCP_1"},
		transfer:  gateway.Result{OK: true, Code: "TRF_code_1"},
	}
	svc, _, ldg, userID, wallet := fixture(t, 10_000, gw)

	w, err := svc.Withdraw(context.Background(), WithdrawInput{
		UserID: userID, Amount: 10_000, BankCode: "058", AccountNumber: "0123456789",
	})
	require.NoError(t, err)

	first, err := svc.Settle(context.Background(), w.Reference, OutcomeFailed, nil)
	require.NoError(t, err)
	require.Equal(t, StatusRefunded, first.Status)

	// A second delivery for the same transfer must not refund twice.
	second, err := svc.Settle(context.Background(), w.Reference, OutcomeFailed, nil)
	require.NoError(t, err)
	require.Equal(t, StatusRefunded, second.Status)
	require.EqualValues(t, 10_000, ldg.balances[wallet.ID])
}

func TestSettleResolvesByTransferCode(t *testing.T) {
	gw := &stubGateway{
		recipient: gateway.Result{OK: true, Code: "RCP_1"},
		transfer:  gateway.Result{OK: true, Code: "TRF_code_9"},
	}
	svc, _, _, userID, _ := fixture(t, 10_000, gw)

	w, err := svc.Withdraw(context.Background(), WithdrawInput{
		UserID: userID, Amount: 10_000, BankCode: "058", AccountNumber: "0123456789",
	})
	require.NoError(t, err)

	settled, err := svc.Settle(context.Background(), "TRF_code_9", OutcomeSuccess, nil)
	require.NoError(t, err)
	require.Equal(t, w.Reference, settled.Reference)
	require.Equal(t, StatusSuccessful, settled.Status)
}
