package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kudipay/kudipay/internal/ledger"
	"github.com/kudipay/kudipay/internal/shared"
	"github.com/kudipay/kudipay/internal/users"
)

// IdempotencyScope keys P2P references apart from other operation types.
const IdempotencyScope = "transfer"

// LedgerPort is the slice of the transfer engine P2P sends need.
type LedgerPort interface {
	PostTransfer(ctx context.Context, in ledger.PostingInput) error
	EnsureAccount(ctx context.Context, key ledger.AccountKey) (ledger.Account, error)
}

// UsersPort resolves recipient identifiers.
type UsersPort interface {
	ByPublicUID(ctx context.Context, publicUID string) (users.Profile, error)
	ByVirtualAccount(ctx context.Context, accountNumber string) (users.Profile, error)
}

// IdempotencyPort guards against duplicate references.
type IdempotencyPort interface {
	Begin(ctx context.Context, key, scope string) error
}

// Service resolves the recipient and posts the wallet-to-wallet transfer.
// No external gateway is involved.
type Service struct {
	repo     Repository
	ledger   LedgerPort
	users    UsersPort
	idem     IdempotencyPort
	logger   *slog.Logger
	currency string
}

// NewService constructs the Service.
func NewService(repo Repository, ledgerPort LedgerPort, usersPort UsersPort, idem IdempotencyPort, logger *slog.Logger, currency string) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		ledger:   ledgerPort,
		users:    usersPort,
		idem:     idem,
		logger:   logger,
		currency: currency,
	}
}

// SendInput describes one P2P send. Recipient is a single identifier: a
// 10-digit virtual account number or a public uid.
type SendInput struct {
	SenderID  uuid.UUID
	Recipient string
	Amount    int64
	Reference string
}

// Send executes the transfer synchronously and returns the final record.
func (s *Service) Send(ctx context.Context, in SendInput) (Transfer, error) {
	if in.SenderID == uuid.Nil {
		return Transfer{}, shared.ErrUnauthorized
	}
	if in.Recipient == "" || in.Amount <= 0 {
		return Transfer{}, shared.ErrInvalidRequest
	}
	if in.Reference == "" {
		in.Reference = shared.NewReference("TRF")
	}

	if err := s.idem.Begin(ctx, in.Reference, IdempotencyScope); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			return s.replay(ctx, in.Reference)
		}
		return Transfer{}, fmt.Errorf("%w: %v", shared.ErrBackendError, err)
	}

	recipient, err := s.resolveRecipient(ctx, in.Recipient)
	if err != nil {
		return Transfer{}, err
	}
	if recipient.ID == in.SenderID {
		return Transfer{}, shared.ErrInvalidRequest
	}

	senderAccount, err := s.ledger.EnsureAccount(ctx, ledger.AccountKey{
		OwnerKind: ledger.OwnerUser, OwnerID: &in.SenderID, Currency: s.currency, Role: ledger.RoleWallet,
	})
	if err != nil {
		return Transfer{}, fmt.Errorf("%w: %v", shared.ErrBackendError, err)
	}
	recipientAccount, err := s.ledger.EnsureAccount(ctx, ledger.AccountKey{
		OwnerKind: ledger.OwnerUser, OwnerID: &recipient.ID, Currency: s.currency, Role: ledger.RoleWallet,
	})
	if err != nil {
		return Transfer{}, fmt.Errorf("%w: %v", shared.ErrBackendError, err)
	}

	t := Transfer{
		SenderID:        in.SenderID,
		RecipientID:     recipient.ID,
		FromAccount:     senderAccount.ID,
		ToAccount:       recipientAccount.ID,
		Amount:          in.Amount,
		Currency:        s.currency,
		Status:          StatusPending,
		Reference:       in.Reference,
		RecipientLookup: in.Recipient,
	}
	if err := s.repo.Insert(ctx, &t); err != nil {
		return Transfer{}, fmt.Errorf("%w: %v", shared.ErrBackendError, err)
	}

	err = s.ledger.PostTransfer(ctx, ledger.PostingInput{
		From:      senderAccount.ID,
		To:        recipientAccount.ID,
		Amount:    in.Amount,
		Reference: in.Reference,
		Metadata: map[string]any{
			"type":              "internal_transfer",
			"recipient_user_id": recipient.ID.String(),
		},
	})
	if err != nil {
		_ = s.repo.UpdateStatus(ctx, in.Reference, StatusPending, StatusFailed)
		t.Status = StatusFailed
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return t, shared.ErrInsufficientFunds
		}
		return t, fmt.Errorf("%w: %v", shared.ErrBackendError, err)
	}
	if err := s.repo.UpdateStatus(ctx, in.Reference, StatusPending, StatusCompleted); err != nil {
		return t, fmt.Errorf("%w: %v", shared.ErrBackendError, err)
	}
	t.Status = StatusCompleted
	return t, nil
}

func (s *Service) resolveRecipient(ctx context.Context, recipient string) (users.Profile, error) {
	var (
		profile users.Profile
		err     error
	)
	if users.IsLikelyAccountNumber(recipient) {
		profile, err = s.users.ByVirtualAccount(ctx, recipient)
	} else {
		profile, err = s.users.ByPublicUID(ctx, recipient)
	}
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			return users.Profile{}, shared.ErrNotFound
		}
		return users.Profile{}, fmt.Errorf("%w: %v", shared.ErrBackendError, err)
	}
	return profile, nil
}

func (s *Service) replay(ctx context.Context, reference string) (Transfer, error) {
	t, err := s.repo.GetByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Transfer{}, shared.ErrDuplicateInProgress
		}
		return Transfer{}, fmt.Errorf("%w: %v", shared.ErrBackendError, err)
	}
	switch t.Status {
	case StatusCompleted:
		return t, nil
	case StatusPending:
		return t, shared.ErrDuplicateInProgress
	default:
		return t, shared.ErrDuplicateCompleted
	}
}

// Get returns the transfer for a reference.
func (s *Service) Get(ctx context.Context, reference string) (Transfer, error) {
	return s.repo.GetByReference(ctx, reference)
}
