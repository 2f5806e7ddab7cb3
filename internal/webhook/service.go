// Package webhook settles gateway callbacks against the ledger. Inbound
// charges credit user wallets, outbound transfer events finalize
// withdrawals. Every delivery is verified against the shared secret and
// deduplicated on the event reference before any ledger write.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/kudipay/kudipay/internal/ledger"
	"github.com/kudipay/kudipay/internal/shared"
	"github.com/kudipay/kudipay/internal/users"
	"github.com/kudipay/kudipay/internal/withdrawal"
)

// Gateway event names this processor understands.
const (
	EventChargeSuccess    = "charge.success"
	EventTransferSuccess  = "transfer.success"
	EventTransferFailed   = "transfer.failed"
	EventTransferReversed = "transfer.reversed"
)

// ErrBadPayload indicates the event body could not be parsed.
var ErrBadPayload = errors.New("webhook: malformed event payload")

// LedgerPort is the slice of the transfer engine the processor needs.
type LedgerPort interface {
	EnsureAccount(ctx context.Context, key ledger.AccountKey) (ledger.Account, error)
	InvalidateBalance(ctx context.Context, accountID uuid.UUID)
}

// WithdrawalPort finalizes withdrawals from transfer events.
type WithdrawalPort interface {
	Settle(ctx context.Context, reference string, outcome withdrawal.Outcome, raw []byte) (withdrawal.Withdrawal, error)
}

// UsersPort resolves the wallet owner of an inbound charge.
type UsersPort interface {
	ByID(ctx context.Context, id uuid.UUID) (users.Profile, error)
	ByEmail(ctx context.Context, email string) (users.Profile, error)
}

// MetricsPort counts processed events.
type MetricsPort interface {
	WebhookEvent(event, outcome string)
}

// AuditPort records settlement decisions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service dispatches verified gateway events.
type Service struct {
	repo        Repository
	ledger      LedgerPort
	withdrawals WithdrawalPort
	users       UsersPort
	metrics     MetricsPort
	audit       AuditPort
	logger      *slog.Logger
	currency    string
}

// NewService constructs the Service. metrics and audit may be nil.
func NewService(repo Repository, ledgerPort LedgerPort, withdrawals WithdrawalPort, usersPort UsersPort, metrics MetricsPort, audit AuditPort, logger *slog.Logger, currency string) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo: repo, ledger: ledgerPort, withdrawals: withdrawals, users: usersPort,
		metrics: metrics, audit: audit, logger: logger, currency: currency,
	}
}

func (s *Service) count(event, outcome string) {
	if s.metrics != nil {
		s.metrics.WebhookEvent(event, outcome)
	}
}

func (s *Service) record(ctx context.Context, log shared.AuditLog) {
	if s.audit != nil {
		_ = s.audit.Record(ctx, log)
	}
}

type event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type chargeData struct {
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Customer  struct {
		Email string `json:"email"`
	} `json:"customer"`
	Metadata struct {
		UserID string `json:"user_id"`
	} `json:"metadata"`
}

type transferData struct {
	Reference    string `json:"reference"`
	TransferCode string `json:"transfer_code"`
	Amount       int64  `json:"amount"`
}

// Process handles one verified event body. Unknown events and events that
// cannot be attributed are acknowledged without ledger effect so the gateway
// stops redelivering them.
func (s *Service) Process(ctx context.Context, body []byte) error {
	var ev event
	if err := json.Unmarshal(body, &ev); err != nil || ev.Event == "" {
		return ErrBadPayload
	}

	switch ev.Event {
	case EventChargeSuccess:
		return s.creditFunding(ctx, ev, body)
	case EventTransferSuccess:
		return s.settleTransfer(ctx, ev, body, withdrawal.OutcomeSuccess)
	case EventTransferFailed:
		return s.settleTransfer(ctx, ev, body, withdrawal.OutcomeFailed)
	case EventTransferReversed:
		return s.settleTransfer(ctx, ev, body, withdrawal.OutcomeReversed)
	default:
		s.count(ev.Event, "ignored")
		s.logger.Info("ignoring gateway event", slog.String("event", ev.Event))
		return nil
	}
}

func (s *Service) creditFunding(ctx context.Context, ev event, body []byte) error {
	var data chargeData
	if err := json.Unmarshal(ev.Data, &data); err != nil || data.Reference == "" || data.Amount <= 0 {
		return ErrBadPayload
	}

	profile, err := s.resolveOwner(ctx, data)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			// Acknowledged so the gateway stops retrying; the audit trail
			// keeps the orphan visible for manual settlement.
			s.count(ev.Event, "unresolved")
			s.logger.Warn("charge could not be attributed",
				slog.String("reference", data.Reference),
				slog.String("email", data.Customer.Email))
			s.record(ctx, shared.AuditLog{
				Action: "webhook.charge_unresolved", Entity: "gateway_transaction", EntityID: data.Reference,
				Meta: map[string]any{"amount": data.Amount, "email": data.Customer.Email},
			})
			return nil
		}
		return err
	}

	wallet, err := s.ledger.EnsureAccount(ctx, ledger.AccountKey{
		OwnerKind: ledger.OwnerUser, OwnerID: &profile.ID, Currency: s.currency, Role: ledger.RoleWallet,
	})
	if err != nil {
		return err
	}
	clearing, err := s.ledger.EnsureAccount(ctx, ledger.AccountKey{
		OwnerKind: ledger.OwnerSystem, Currency: s.currency, Role: ledger.RoleFundingClearing,
	})
	if err != nil {
		return err
	}

	err = s.repo.CreditOnce(ctx, data.Reference, ev.Event, body, ledger.PostingInput{
		From:      clearing.ID,
		To:        wallet.ID,
		Amount:    data.Amount,
		Reference: fundingReference(data.Reference),
		Metadata:  map[string]any{"type": "wallet_funding", "user_id": profile.ID.String()},
	})
	if errors.Is(err, ErrEventSeen) || errors.Is(err, ledger.ErrDuplicateReference) {
		s.count(ev.Event, "duplicate")
		s.logger.Info("charge already settled", slog.String("reference", data.Reference))
		return nil
	}
	if err != nil {
		s.count(ev.Event, "error")
		return fmt.Errorf("credit funding %s: %w", data.Reference, err)
	}

	s.ledger.InvalidateBalance(ctx, wallet.ID)
	s.count(ev.Event, "credited")
	s.record(ctx, shared.AuditLog{
		Action: "webhook.wallet_funded", Entity: "ledger_entry", EntityID: data.Reference,
		Meta: map[string]any{"amount": data.Amount, "user_id": profile.ID.String()},
	})
	return nil
}

func (s *Service) resolveOwner(ctx context.Context, data chargeData) (users.Profile, error) {
	if raw := data.Metadata.UserID; raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			return s.users.ByID(ctx, id)
		}
	}
	if data.Customer.Email != "" {
		return s.users.ByEmail(ctx, data.Customer.Email)
	}
	return users.Profile{}, users.ErrUserNotFound
}

func (s *Service) settleTransfer(ctx context.Context, ev event, body []byte, outcome withdrawal.Outcome) error {
	var data transferData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		return ErrBadPayload
	}
	reference := data.Reference
	if reference == "" {
		reference = data.TransferCode
	}
	if reference == "" {
		return ErrBadPayload
	}

	w, err := s.withdrawals.Settle(ctx, reference, outcome, body)
	if errors.Is(err, withdrawal.ErrNotFound) {
		// Not marked seen: the withdrawal row may not exist yet, and a later
		// redelivery should still be able to settle it.
		s.count(ev.Event, "unresolved")
		s.logger.Warn("transfer event for unknown withdrawal", slog.String("reference", reference))
		s.record(ctx, shared.AuditLog{
			Action: "webhook.transfer_unresolved", Entity: "gateway_transaction", EntityID: reference,
			Meta: map[string]any{"event": ev.Event},
		})
		return nil
	}
	if err != nil {
		// No dedup row either; the gateway must be free to redeliver until
		// the withdrawal reaches a terminal state.
		s.count(ev.Event, "error")
		return fmt.Errorf("settle withdrawal %s: %w", reference, err)
	}

	// The dedup row is written only after the settle succeeded. Settle itself
	// is a no-op on a terminal withdrawal, so a redelivery that races this
	// insert stays harmless.
	if err := s.repo.MarkSeen(ctx, reference+":"+string(outcome), ev.Event, body); err != nil {
		if errors.Is(err, ErrEventSeen) {
			s.count(ev.Event, "duplicate")
			return nil
		}
		return err
	}

	s.count(ev.Event, "settled")
	s.record(ctx, shared.AuditLog{
		Action: "webhook.withdrawal_settled", Entity: "withdrawal", EntityID: w.Reference,
		Meta: map[string]any{"event": ev.Event, "status": string(w.Status)},
	})
	return nil
}

// fundingReference keeps all funding credits under one reference prefix so
// reconciliation can total them by prefix.
func fundingReference(eventRef string) string {
	if strings.HasPrefix(eventRef, "FUND") {
		return eventRef
	}
	return "FUND-" + eventRef
}
