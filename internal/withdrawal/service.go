package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kudipay/kudipay/internal/gateway"
	"github.com/kudipay/kudipay/internal/ledger"
	"github.com/kudipay/kudipay/internal/shared"
)

// IdempotencyScope keys withdrawal references apart from other operation types.
const IdempotencyScope = "withdrawal"

// LedgerPort is the slice of the transfer engine withdrawals need.
type LedgerPort interface {
	PostTransfer(ctx context.Context, in ledger.PostingInput) error
	EnsureAccount(ctx context.Context, key ledger.AccountKey) (ledger.Account, error)
}

// GatewayPort registers payees and initiates outbound transfers.
type GatewayPort interface {
	CreateTransferRecipient(ctx context.Context, req gateway.RecipientRequest) gateway.Result
	InitiateTransfer(ctx context.Context, req gateway.TransferRequest) gateway.Result
}

// IdempotencyPort guards against duplicate references.
type IdempotencyPort interface {
	Begin(ctx context.Context, key, scope string) error
}

// AuditPort records manually-actionable conditions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts refund failures.
type MetricsPort interface {
	RefundFailure()
}

// Service drives the payout lifecycle. The synchronous path ends at
// processing; terminal settlement arrives via transfer webhooks.
type Service struct {
	repo     Repository
	ledger   LedgerPort
	gateway  GatewayPort
	idem     IdempotencyPort
	audit    AuditPort
	metrics  MetricsPort
	logger   *slog.Logger
	currency string
}

// NewService constructs the Service. audit and metrics may be nil.
func NewService(repo Repository, ledgerPort LedgerPort, gatewayPort GatewayPort, idem IdempotencyPort, audit AuditPort, metrics MetricsPort, logger *slog.Logger, currency string) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		ledger:   ledgerPort,
		gateway:  gatewayPort,
		idem:     idem,
		audit:    audit,
		metrics:  metrics,
		logger:   logger,
		currency: currency,
	}
}

// WithdrawInput describes one payout request.
type WithdrawInput struct {
	UserID        uuid.UUID
	Amount        int64
	BankCode      string
	AccountNumber string
	AccountName   string
	Reference     string
}

func (in WithdrawInput) validate() error {
	if in.UserID == uuid.Nil {
		return shared.ErrUnauthorized
	}
	if in.Amount <= 0 || in.BankCode == "" || in.AccountNumber == "" {
		return shared.ErrInvalidRequest
	}
	return nil
}

// Withdraw debits the wallet into withdrawal clearing, registers the payee and
// initiates the outbound transfer. The returned record reports processing on
// the happy path; it never reports successful synchronously.
func (s *Service) Withdraw(ctx context.Context, in WithdrawInput) (Withdrawal, error) {
	if err := in.validate(); err != nil {
		return Withdrawal{}, err
	}
	if in.Reference == "" {
		in.Reference = shared.NewReference("WD")
	}

	if err := s.idem.Begin(ctx, in.Reference, IdempotencyScope); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			return s.replay(ctx, in.Reference)
		}
		return Withdrawal{}, fmt.Errorf("%w: %v", shared.ErrBackendError, err)
	}

	wallet, err := s.ledger.EnsureAccount(ctx, ledger.AccountKey{
		OwnerKind: ledger.OwnerUser, OwnerID: &in.UserID, Currency: s.currency, Role: ledger.RoleWallet,
	})
	if err != nil {
		return Withdrawal{}, fmt.Errorf("%w: %v", shared.ErrBackendError, err)
	}
	clearing, err := s.ledger.EnsureAccount(ctx, ledger.AccountKey{
		OwnerKind: ledger.OwnerSystem, Currency: s.currency, Role: ledger.RoleWithdrawalClearing,
	})
	if err != nil {
		return Withdrawal{}, fmt.Errorf("%w: %v", shared.ErrBackendError, err)
	}

	w := Withdrawal{
		UserID:        in.UserID,
		Amount:        in.Amount,
		BankCode:      in.BankCode,
		AccountNumber: in.AccountNumber,
		AccountName:   in.AccountName,
		Status:        StatusPending,
		Reference:     in.Reference,
	}
	if err := s.repo.Insert(ctx, &w); err != nil {
		return Withdrawal{}, fmt.Errorf("%w: %v", shared.ErrBackendError, err)
	}

	err = s.ledger.PostTransfer(ctx, ledger.PostingInput{
		From:      wallet.ID,
		To:        clearing.ID,
		Amount:    in.Amount,
		Reference: in.Reference,
		Metadata:  map[string]any{"type": "withdrawal", "bank_code": in.BankCode},
	})
	if err != nil {
		_ = s.repo.UpdateStatus(ctx, in.Reference, StatusPending, StatusFailed)
		w.Status = StatusFailed
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return w, shared.ErrInsufficientFunds
		}
		return w, fmt.Errorf("%w: %v", shared.ErrBackendError, err)
	}
	if err := s.repo.UpdateStatus(ctx, in.Reference, StatusPending, StatusDebited); err != nil {
		return w, fmt.Errorf("%w: %v", shared.ErrBackendError, err)
	}
	if err := s.repo.UpdateStatus(ctx, in.Reference, StatusDebited, StatusProcessing); err != nil {
		return w, fmt.Errorf("%w: %v", shared.ErrBackendError, err)
	}
	w.Status = StatusProcessing

	name := in.AccountName
	if name == "" {
		name = "Wallet Withdrawal"
	}
	recipient := s.gateway.CreateTransferRecipient(ctx, gateway.RecipientRequest{
		Type:          "nuban",
		Name:          name,
		AccountNumber: in.AccountNumber,
		BankCode:      in.BankCode,
		Currency:      s.currency,
	})
	if !recipient.OK {
		// No asynchronous handle exists yet, so no webhook will ever arrive;
		// the orchestrator refunds on its own.
		s.failAndRefund(ctx, &w, clearing.ID, wallet.ID, recipient.Raw)
		return w, shared.ErrProviderError
	}

	transfer := s.gateway.InitiateTransfer(ctx, gateway.TransferRequest{
		Source:    "balance",
		Amount:    in.Amount,
		Recipient: recipient.Code,
		Reference: in.Reference,
	})
	if !transfer.OK {
		s.failAndRefund(ctx, &w, clearing.ID, wallet.ID, transfer.Raw)
		return w, shared.ErrProviderError
	}

	if err := s.repo.SetGatewayHandle(ctx, in.Reference, transfer.Code, transfer.Raw); err != nil {
		s.logger.Error("store transfer handle", slog.String("reference", in.Reference), slog.Any("error", err))
	}
	w.TransferCode = transfer.Code
	return w, nil
}

// Outcome is the webhook-reported terminal result of an outbound transfer.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailed   Outcome = "failed"
	OutcomeReversed Outcome = "reversed"
)

// Settle finalizes a withdrawal from a transfer webhook event. Redelivery of
// an already-finalized reference is a no-op.
func (s *Service) Settle(ctx context.Context, reference string, outcome Outcome, raw []byte) (Withdrawal, error) {
	w, err := s.repo.GetByReference(ctx, reference)
	if errors.Is(err, ErrNotFound) {
		// The gateway's transfer events carry our reference, but fall back to
		// the transfer code for robustness.
		w, err = s.repo.GetByTransferCode(ctx, reference)
	}
	if err != nil {
		return Withdrawal{}, err
	}
	if w.Status.Terminal() {
		return w, nil
	}

	if raw != nil {
		if err := s.repo.SetGatewayHandle(ctx, w.Reference, w.TransferCode, raw); err != nil {
			s.logger.Warn("store settlement payload", slog.String("reference", w.Reference), slog.Any("error", err))
		}
	}

	if outcome == OutcomeSuccess {
		if err := s.repo.UpdateStatus(ctx, w.Reference, StatusProcessing, StatusSuccessful); err != nil {
			if errors.Is(err, ErrIllegalTransition) {
				// Lost the race against a concurrent delivery.
				return s.repo.GetByReference(ctx, w.Reference)
			}
			return w, err
		}
		w.Status = StatusSuccessful
		return w, nil
	}

	if err := s.repo.UpdateStatus(ctx, w.Reference, StatusProcessing, StatusFailed); err != nil {
		if errors.Is(err, ErrIllegalTransition) {
			return s.repo.GetByReference(ctx, w.Reference)
		}
		return w, err
	}
	w.Status = StatusFailed

	wallet, err := s.ledger.EnsureAccount(ctx, ledger.AccountKey{
		OwnerKind: ledger.OwnerUser, OwnerID: &w.UserID, Currency: s.currency, Role: ledger.RoleWallet,
	})
	if err != nil {
		return w, err
	}
	clearing, err := s.ledger.EnsureAccount(ctx, ledger.AccountKey{
		OwnerKind: ledger.OwnerSystem, Currency: s.currency, Role: ledger.RoleWithdrawalClearing,
	})
	if err != nil {
		return w, err
	}
	s.refund(ctx, &w, clearing.ID, wallet.ID, "transfer_"+string(outcome))
	return w, nil
}

func (s *Service) failAndRefund(ctx context.Context, w *Withdrawal, from, to uuid.UUID, raw []byte) {
	if raw != nil {
		_ = s.repo.SetGatewayHandle(ctx, w.Reference, w.TransferCode, raw)
	}
	if err := s.repo.UpdateStatus(ctx, w.Reference, StatusProcessing, StatusFailed); err != nil {
		s.logger.Error("mark withdrawal failed", slog.String("reference", w.Reference), slog.Any("error", err))
		return
	}
	w.Status = StatusFailed
	s.refund(ctx, w, from, to, "withdrawal_failed")
}

func (s *Service) refund(ctx context.Context, w *Withdrawal, from, to uuid.UUID, reason string) {
	err := s.ledger.PostTransfer(ctx, ledger.PostingInput{
		From:      from,
		To:        to,
		Amount:    w.Amount,
		Reference: shared.RefundReference(w.Reference),
		Metadata:  map[string]any{"type": "refund", "reason": reason},
	})
	if err != nil {
		s.logger.Error("withdrawal refund failed, manual action required",
			slog.String("reference", w.Reference),
			slog.String("amount", shared.FormatMinor(s.currency, w.Amount)),
			slog.Any("error", err))
		if s.metrics != nil {
			s.metrics.RefundFailure()
		}
		if s.audit != nil {
			_ = s.audit.Record(ctx, shared.AuditLog{
				Action:   "withdrawal.refund_failed",
				Entity:   "withdrawal",
				EntityID: w.Reference,
				Meta:     map[string]any{"amount": w.Amount, "error": err.Error()},
			})
		}
		return
	}
	if err := s.repo.UpdateStatus(ctx, w.Reference, StatusFailed, StatusRefunded); err != nil {
		s.logger.Error("mark withdrawal refunded", slog.String("reference", w.Reference), slog.Any("error", err))
		return
	}
	w.Status = StatusRefunded
}

func (s *Service) replay(ctx context.Context, reference string) (Withdrawal, error) {
	w, err := s.repo.GetByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Withdrawal{}, shared.ErrDuplicateInProgress
		}
		return Withdrawal{}, fmt.Errorf("%w: %v", shared.ErrBackendError, err)
	}
	switch w.Status {
	case StatusSuccessful:
		return w, nil
	case StatusPending, StatusDebited, StatusProcessing:
		return w, shared.ErrDuplicateInProgress
	default:
		return w, shared.ErrDuplicateCompleted
	}
}

// Get returns the withdrawal for a reference.
func (s *Service) Get(ctx context.Context, reference string) (Withdrawal, error) {
	return s.repo.GetByReference(ctx, reference)
}
