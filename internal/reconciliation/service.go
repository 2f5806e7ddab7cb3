package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kudipay/kudipay/internal/gateway"
	"github.com/kudipay/kudipay/internal/purchase"
	"github.com/kudipay/kudipay/internal/shared"
)

// LedgerPort reads the ledger's daily totals.
type LedgerPort interface {
	SumByReferencePrefix(ctx context.Context, prefix string, day time.Time) (int64, error)
}

// PurchasePort reads settled purchase totals.
type PurchasePort interface {
	SumSuccessful(ctx context.Context, kind purchase.Kind, day time.Time) (int64, error)
}

// WithdrawalPort reads settled payout totals. Only confirmed withdrawals
// count; refunded and in-flight payouts would never appear in the gateway's
// settled-transfer report and would show up as phantom mismatches.
type WithdrawalPort interface {
	SumSuccessful(ctx context.Context, day time.Time) (int64, error)
}

// GatewayPort pulls the provider's settlement reports.
type GatewayPort interface {
	ListTransactions(ctx context.Context, day time.Time) ([]gateway.ReportRow, error)
	ListTransfers(ctx context.Context, day time.Time) ([]gateway.ReportRow, error)
	ListBills(ctx context.Context, day time.Time) ([]gateway.ReportRow, error)
}

// MetricsPort counts detected mismatches.
type MetricsPort interface {
	ReconciliationMismatch()
}

// AuditPort records run outcomes.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service runs the daily ledger-vs-gateway comparison.
type Service struct {
	repo        Repository
	ledger      LedgerPort
	purchases   PurchasePort
	withdrawals WithdrawalPort
	gateway     GatewayPort
	metrics     MetricsPort
	audit       AuditPort
	logger      *slog.Logger
}

// NewService constructs the Service.
func NewService(repo Repository, ledgerPort LedgerPort, purchases PurchasePort, withdrawals WithdrawalPort, gatewayPort GatewayPort, metrics MetricsPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo: repo, ledger: ledgerPort, purchases: purchases, withdrawals: withdrawals,
		gateway: gatewayPort, metrics: metrics, audit: audit, logger: logger,
	}
}

// Run reconciles one UTC day and persists the result, replacing any stored
// run for that day. A mismatch never fails the run; only an unreachable
// source does.
func (s *Service) Run(ctx context.Context, day time.Time) (Run, error) {
	day = day.UTC().Truncate(24 * time.Hour)
	run := Run{ID: uuid.New(), Day: day, Status: RunMatched, CreatedAt: time.Now().UTC()}

	gatewayTotals, err := s.gatewayTotals(ctx, day)
	if err != nil {
		return Run{}, err
	}

	for _, category := range Categories {
		ledgerTotal, err := s.ledgerTotal(ctx, category, day)
		if err != nil {
			return Run{}, fmt.Errorf("reconcile %s: %w", category, err)
		}
		item := Item{
			ID:           uuid.New(),
			RunID:        run.ID,
			Category:     category,
			LedgerTotal:  ledgerTotal,
			GatewayTotal: gatewayTotals[category],
			Status:       ItemMatched,
		}
		item.Delta = item.LedgerTotal - item.GatewayTotal
		if item.Delta != 0 {
			item.Status = ItemMismatch
			run.Status = RunMismatch
			run.Discrepancy += abs(item.Delta)
			s.metrics.ReconciliationMismatch()
			s.logger.Warn("reconciliation mismatch",
				slog.String("category", string(category)),
				slog.Int64("ledger", item.LedgerTotal),
				slog.Int64("gateway", item.GatewayTotal),
				slog.Int64("delta", item.Delta))
		}
		run.Items = append(run.Items, item)
	}

	if err := s.repo.SaveRun(ctx, run); err != nil {
		return Run{}, err
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Action: "reconciliation.run", Entity: "reconciliation_run", EntityID: run.ID.String(),
		Meta: map[string]any{
			"day": day.Format("2006-01-02"), "status": run.Status, "discrepancy": run.Discrepancy,
		},
	})
	s.logger.Info("reconciliation run complete",
		slog.String("day", day.Format("2006-01-02")),
		slog.String("status", run.Status),
		slog.Int64("discrepancy", run.Discrepancy))
	return run, nil
}

// Latest returns recent runs, newest first.
func (s *Service) Latest(ctx context.Context, limit int) ([]Run, error) {
	if limit < 1 || limit > 100 {
		limit = 30
	}
	return s.repo.ListRuns(ctx, limit)
}

// ForDay returns the stored run for a day.
func (s *Service) ForDay(ctx context.Context, day time.Time) (Run, error) {
	return s.repo.GetRun(ctx, day.UTC().Truncate(24*time.Hour))
}

func (s *Service) ledgerTotal(ctx context.Context, category Category, day time.Time) (int64, error) {
	switch category {
	case CategoryFunding:
		return s.ledger.SumByReferencePrefix(ctx, "FUND", day)
	case CategoryWithdrawal:
		return s.withdrawals.SumSuccessful(ctx, day)
	case CategoryAirtime:
		return s.purchases.SumSuccessful(ctx, purchase.KindAirtime, day)
	case CategoryData:
		return s.purchases.SumSuccessful(ctx, purchase.KindData, day)
	default:
		return 0, fmt.Errorf("reconciliation: unknown category %q", category)
	}
}

func (s *Service) gatewayTotals(ctx context.Context, day time.Time) (map[Category]int64, error) {
	totals := make(map[Category]int64, len(Categories))

	charges, err := s.gateway.ListTransactions(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("gateway transactions: %w", err)
	}
	totals[CategoryFunding] = sumSettled(charges, "")

	transfers, err := s.gateway.ListTransfers(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("gateway transfers: %w", err)
	}
	totals[CategoryWithdrawal] = sumSettled(transfers, "")

	bills, err := s.gateway.ListBills(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("gateway bills: %w", err)
	}
	totals[CategoryAirtime] = sumSettled(bills, "airtime")
	totals[CategoryData] = sumSettled(bills, "data")
	return totals, nil
}

// sumSettled totals rows the gateway reports as settled. typ narrows bill
// rows to one product; empty matches every row.
func sumSettled(rows []gateway.ReportRow, typ string) int64 {
	var total int64
	for _, row := range rows {
		if row.Status != "success" && row.Status != "successful" {
			continue
		}
		if typ != "" && row.Type != typ {
			continue
		}
		total += row.Amount
	}
	return total
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
