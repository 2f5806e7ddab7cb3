// Package wallet exposes the read side of a user's ledger position and the
// funding entry point. Actual funding settlement arrives via the webhook
// processor once the gateway confirms the charge.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kudipay/kudipay/internal/gateway"
	"github.com/kudipay/kudipay/internal/ledger"
	"github.com/kudipay/kudipay/internal/shared"
	"github.com/kudipay/kudipay/internal/users"
)

// LedgerPort is the slice of the transfer engine the wallet needs.
type LedgerPort interface {
	EnsureAccount(ctx context.Context, key ledger.AccountKey) (ledger.Account, error)
	Balance(ctx context.Context, accountID uuid.UUID) (int64, error)
	Entries(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]ledger.Entry, error)
}

// GatewayPort starts hosted funding transactions.
type GatewayPort interface {
	InitializeTransaction(ctx context.Context, req gateway.InitializeRequest) gateway.Result
}

// UsersPort looks up the profile funding checkout needs.
type UsersPort interface {
	ByID(ctx context.Context, id uuid.UUID) (users.Profile, error)
}

// Service reads balances and entry history and initiates funding.
type Service struct {
	ledger   LedgerPort
	gateway  GatewayPort
	users    UsersPort
	logger   *slog.Logger
	currency string
}

// NewService constructs the Service.
func NewService(ledgerPort LedgerPort, gatewayPort GatewayPort, usersPort UsersPort, logger *slog.Logger, currency string) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{ledger: ledgerPort, gateway: gatewayPort, users: usersPort, logger: logger, currency: currency}
}

func (s *Service) walletAccount(ctx context.Context, userID uuid.UUID) (ledger.Account, error) {
	return s.ledger.EnsureAccount(ctx, ledger.AccountKey{
		OwnerKind: ledger.OwnerUser, OwnerID: &userID, Currency: s.currency, Role: ledger.RoleWallet,
	})
}

// Balance returns the derived wallet balance in minor units.
func (s *Service) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	account, err := s.walletAccount(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", shared.ErrBackendError, err)
	}
	return s.ledger.Balance(ctx, account.ID)
}

// Entries lists the wallet's recent ledger entries, newest first.
func (s *Service) Entries(ctx context.Context, userID uuid.UUID, limit, offset int) ([]ledger.Entry, error) {
	account, err := s.walletAccount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrBackendError, err)
	}
	return s.ledger.Entries(ctx, account.ID, limit, offset)
}

// FundingIntent is a hosted checkout the caller completes out of band.
type FundingIntent struct {
	Reference        string
	AuthorizationURL string
}

// InitiateFunding creates a gateway checkout for the amount. The wallet is
// credited only when the charge.success webhook arrives.
func (s *Service) InitiateFunding(ctx context.Context, userID uuid.UUID, amount int64) (FundingIntent, error) {
	if userID == uuid.Nil {
		return FundingIntent{}, shared.ErrUnauthorized
	}
	if amount <= 0 {
		return FundingIntent{}, shared.ErrInvalidRequest
	}
	profile, err := s.users.ByID(ctx, userID)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			return FundingIntent{}, shared.ErrUnauthorized
		}
		return FundingIntent{}, fmt.Errorf("%w: %v", shared.ErrBackendError, err)
	}

	reference := shared.NewReference("FUND")
	res := s.gateway.InitializeTransaction(ctx, gateway.InitializeRequest{
		Amount:    amount,
		Email:     profile.Email,
		Currency:  s.currency,
		Reference: reference,
		// Echoed back in the charge.success event; the webhook processor uses
		// it to attribute the credit.
		Metadata: map[string]any{"user_id": userID.String()},
	})
	if !res.OK {
		s.logger.Warn("funding initialization rejected",
			slog.String("reference", reference),
			slog.String("message", res.Message))
		return FundingIntent{}, shared.ErrProviderError
	}

	var data struct {
		AuthorizationURL string `json:"authorization_url"`
	}
	if err := json.Unmarshal(res.Raw, &data); err != nil || data.AuthorizationURL == "" {
		return FundingIntent{}, shared.ErrProviderError
	}
	return FundingIntent{Reference: reference, AuthorizationURL: data.AuthorizationURL}, nil
}
