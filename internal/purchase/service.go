package purchase

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

// IdempotencyScope keys purchase references apart from other operation types.
const IdempotencyScope = "purchase"

// LedgerPort is the slice of the transfer engine purchases need.
type LedgerPort interface {
	PostTransfer(ctx context.Context, in ledger.PostingInput) error
	EnsureAccount(ctx context.Context, key ledger.AccountKey) (ledger.Account, error)
}

// GatewayPort calls the external bill endpoints.
type GatewayPort interface {
	PurchaseAirtime(ctx context.Context, req gateway.AirtimeRequest) gateway.Result
	PurchaseData(ctx context.Context, req gateway.DataRequest) gateway.Result
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

// Service drives the purchase lifecycle: debit, gateway call, settle or
// compensate.
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

// BuyInput describes one purchase request.
type BuyInput struct {
	UserID    uuid.UUID
	Kind      Kind
	Phone     string
	Provider  string
	PlanCode  string
	Amount    int64
	Reference string
}

func (in BuyInput) validate() error {
	if in.UserID == uuid.Nil {
		return shared.ErrUnauthorized
	}
	if !in.Kind.Valid() || in.Phone == "" || in.Provider == "" || in.Amount <= 0 {
		return shared.ErrInvalidRequest
	}
	if in.Kind == KindData && in.PlanCode == "" {
		return shared.ErrInvalidRequest
	}
	return nil
}

// Buy executes one purchase end to end and returns the final record. A repeat
// of an already-seen reference never re-executes: a successful record is
// returned as-is, an unfinished one surfaces ErrDuplicateInProgress, and a
// failed or refunded one surfaces ErrDuplicateCompleted.
func (s *Service) Buy(ctx context.Context, in BuyInput) (Purchase, error) {
	if err := in.validate(); err != nil {
		return Purchase{}, err
	}
	if in.Reference == "" {
		prefix := "AIR"
		if in.Kind == KindData {
			prefix = "DATA"
		}
		in.Reference = shared.NewReference(prefix)
	}

	if err := s.idem.Begin(ctx, in.Reference, IdempotencyScope); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			return s.replay(ctx, in.Reference)
		}
		return Purchase{}, fmt.Errorf("%w: %v", shared.ErrBackendError, err)
	}

	wallet, err := s.ledger.EnsureAccount(ctx, ledger.AccountKey{
		OwnerKind: ledger.OwnerUser, OwnerID: &in.UserID, Currency: s.currency, Role: ledger.RoleWallet,
	})
	if err != nil {
		return Purchase{}, fmt.Errorf("%w: %v", shared.ErrBackendError, err)
	}
	clearing, err := s.ledger.EnsureAccount(ctx, ledger.AccountKey{
		OwnerKind: ledger.OwnerSystem, Currency: s.currency, Role: ledger.RoleUtilityClearing,
	})
	if err != nil {
		return Purchase{}, fmt.Errorf("%w: %v", shared.ErrBackendError, err)
	}

	p := Purchase{
		UserID:    in.UserID,
		Kind:      in.Kind,
		Phone:     in.Phone,
		Provider:  in.Provider,
		PlanCode:  in.PlanCode,
		Amount:    in.Amount,
		Status:    StatusPending,
		Reference: in.Reference,
	}
	if err := s.repo.Insert(ctx, &p); err != nil {
		return Purchase{}, fmt.Errorf("%w: %v", shared.ErrBackendError, err)
	}

	// pending -> debited: wallet into utility clearing. An atomic failure here
	// means nothing was debited, so there is nothing to compensate.
	err = s.ledger.PostTransfer(ctx, ledger.PostingInput{
		From:      wallet.ID,
		To:        clearing.ID,
		Amount:    in.Amount,
		Reference: in.Reference,
		Metadata:  map[string]any{"type": string(in.Kind), "phone": in.Phone, "provider": in.Provider},
	})
	if err != nil {
		_ = s.repo.UpdateStatus(ctx, in.Reference, StatusPending, StatusFailed)
		p.Status = StatusFailed
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return p, shared.ErrInsufficientFunds
		}
		return p, fmt.Errorf("%w: %v", shared.ErrBackendError, err)
	}
	if err := s.repo.UpdateStatus(ctx, in.Reference, StatusPending, StatusDebited); err != nil {
		return p, fmt.Errorf("%w: %v", shared.ErrBackendError, err)
	}
	if err := s.repo.UpdateStatus(ctx, in.Reference, StatusDebited, StatusProcessing); err != nil {
		return p, fmt.Errorf("%w: %v", shared.ErrBackendError, err)
	}
	p.Status = StatusProcessing

	res := s.callGateway(ctx, in)
	if res.OK {
		if err := s.repo.SetGatewayResult(ctx, in.Reference, res.Reference, res.Raw); err != nil {
			s.logger.Error("store gateway result", slog.String("reference", in.Reference), slog.Any("error", err))
		}
		if err := s.repo.UpdateStatus(ctx, in.Reference, StatusProcessing, StatusSuccessful); err != nil {
			return p, fmt.Errorf("%w: %v", shared.ErrBackendError, err)
		}
		p.Status = StatusSuccessful
		p.GatewayReference = res.Reference
		return p, nil
	}

	// Any non-success, including a timeout the gateway may have fulfilled, is
	// refunded by policy. Reconciliation reports double fulfilment afterwards.
	if res.Raw != nil {
		_ = s.repo.SetGatewayResult(ctx, in.Reference, res.Reference, res.Raw)
	}
	if err := s.repo.UpdateStatus(ctx, in.Reference, StatusProcessing, StatusFailed); err != nil {
		return p, fmt.Errorf("%w: %v", shared.ErrBackendError, err)
	}
	p.Status = StatusFailed
	s.refund(ctx, &p, clearing.ID, wallet.ID)
	return p, shared.ErrProviderError
}

func (s *Service) callGateway(ctx context.Context, in BuyInput) gateway.Result {
	if in.Kind == KindData {
		return s.gateway.PurchaseData(ctx, gateway.DataRequest{
			Phone:     in.Phone,
			Amount:    in.Amount,
			Provider:  in.Provider,
			PlanCode:  in.PlanCode,
			Reference: in.Reference,
		})
	}
	return s.gateway.PurchaseAirtime(ctx, gateway.AirtimeRequest{
		Phone:     in.Phone,
		Amount:    in.Amount,
		Provider:  in.Provider,
		Reference: in.Reference,
	})
}

// refund posts the compensating transfer from utility clearing back to the
// wallet. A refund that itself fails is a manually-actionable condition: it is
// audited and counted, never swallowed.
func (s *Service) refund(ctx context.Context, p *Purchase, from, to uuid.UUID) {
	err := s.ledger.PostTransfer(ctx, ledger.PostingInput{
		From:      from,
		To:        to,
		Amount:    p.Amount,
		Reference: shared.RefundReference(p.Reference),
		Metadata:  map[string]any{"type": "refund", "reason": string(p.Kind) + "_failed"},
	})
	if err != nil {
		s.logger.Error("purchase refund failed, manual action required",
			slog.String("reference", p.Reference),
			slog.String("amount", shared.FormatMinor(s.currency, p.Amount)),
			slog.Any("error", err))
		if s.metrics != nil {
			s.metrics.RefundFailure()
		}
		if s.audit != nil {
			_ = s.audit.Record(ctx, shared.AuditLog{
				Action:   "purchase.refund_failed",
				Entity:   "purchase",
				EntityID: p.Reference,
				Meta:     map[string]any{"amount": p.Amount, "error": err.Error()},
			})
		}
		return
	}
	if err := s.repo.UpdateStatus(ctx, p.Reference, StatusFailed, StatusRefunded); err != nil {
		s.logger.Error("mark purchase refunded", slog.String("reference", p.Reference), slog.Any("error", err))
		return
	}
	p.Status = StatusRefunded
}

func (s *Service) replay(ctx context.Context, reference string) (Purchase, error) {
	p, err := s.repo.GetByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Key acquired by a racing request that has not inserted its
			// record yet.
			return Purchase{}, shared.ErrDuplicateInProgress
		}
		return Purchase{}, fmt.Errorf("%w: %v", shared.ErrBackendError, err)
	}
	switch p.Status {
	case StatusSuccessful:
		return p, nil
	case StatusPending, StatusDebited, StatusProcessing:
		return p, shared.ErrDuplicateInProgress
	default:
		return p, shared.ErrDuplicateCompleted
	}
}

// Get returns the purchase for a reference.
func (s *Service) Get(ctx context.Context, reference string) (Purchase, error) {
	return s.repo.GetByReference(ctx, reference)
}
