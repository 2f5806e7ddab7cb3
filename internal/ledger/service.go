package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// MetricsPort counts posted transfers.
type MetricsPort interface {
	TransferPosted(kind string)
}

// Service is the transfer engine. Every component that moves money goes
// through PostTransfer; no caller writes entries directly.
type Service struct {
	repo    Repository
	cache   *BalanceCache
	metrics MetricsPort
	logger  *slog.Logger
	group   singleflight.Group
}

// NewService constructs the Service. cache and metrics may be nil.
func NewService(repo Repository, cache *BalanceCache, metrics MetricsPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, metrics: metrics, logger: logger}
}

// PostTransfer moves amount between two accounts under a single reference.
// Either both legs exist afterwards or neither does.
func (s *Service) PostTransfer(ctx context.Context, in PostingInput) error {
	if err := in.Validate(); err != nil {
		return err
	}
	if err := s.repo.PostTransfer(ctx, in); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, in.From, in.To)
	if s.metrics != nil {
		kind, _ := in.Metadata["type"].(string)
		if kind == "" {
			kind = "unknown"
		}
		s.metrics.TransferPosted(kind)
	}
	s.logger.Debug("transfer posted",
		slog.String("reference", in.Reference),
		slog.Int64("amount", in.Amount))
	return nil
}

// Balance derives the account balance. Concurrent reads for the same account
// collapse into one query; results are cached briefly.
func (s *Service) Balance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	if balance, ok := s.cache.Get(ctx, accountID); ok {
		return balance, nil
	}
	v, err, _ := s.group.Do(accountID.String(), func() (any, error) {
		balance, err := s.repo.Balance(ctx, accountID)
		if err != nil {
			return int64(0), err
		}
		s.cache.Set(ctx, accountID, balance)
		return balance, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// InvalidateBalance drops any cached balance for the account. Callers that
// post entries inside their own transaction via PostTransferTx use this to
// keep reads fresh.
func (s *Service) InvalidateBalance(ctx context.Context, accountID uuid.UUID) {
	s.cache.Invalidate(ctx, accountID)
}

// EnsureAccount returns the account for the key, creating it on first need.
func (s *Service) EnsureAccount(ctx context.Context, key AccountKey) (Account, error) {
	return s.repo.EnsureAccount(ctx, key)
}

// FindAccount returns the account for the key without creating it.
func (s *Service) FindAccount(ctx context.Context, key AccountKey) (Account, error) {
	return s.repo.FindAccount(ctx, key)
}

// Entries lists recent entries for an account, newest first.
func (s *Service) Entries(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]Entry, error) {
	return s.repo.Entries(ctx, accountID, limit, offset)
}

// SumByReferencePrefix totals credits for a reference prefix on a day.
func (s *Service) SumByReferencePrefix(ctx context.Context, prefix string, day time.Time) (int64, error) {
	return s.repo.SumByReferencePrefix(ctx, prefix, day)
}

// IntegrityGap returns total debits minus total credits across the book.
func (s *Service) IntegrityGap(ctx context.Context) (int64, error) {
	return s.repo.IntegrityGap(ctx)
}
