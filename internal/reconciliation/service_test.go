package reconciliation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kudipay/kudipay/internal/gateway"
	"github.com/kudipay/kudipay/internal/purchase"
	"github.com/kudipay/kudipay/internal/shared"
)

type memoryRepo struct {
	runs map[string]Run
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{runs: make(map[string]Run)}
}

func dayKey(day time.Time) string {
	return day.UTC().Format("2006-01-02")
}

func (r *memoryRepo) SaveRun(ctx context.Context, run Run) error {
	r.runs[dayKey(run.Day)] = run
	return nil
}

func (r *memoryRepo) GetRun(ctx context.Context, day time.Time) (Run, error) {
	run, ok := r.runs[dayKey(day)]
	if !ok {
		return Run{}, ErrRunNotFound
	}
	return run, nil
}

func (r *memoryRepo) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	out := make([]Run, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, run)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type stubLedger struct {
	funding int64
}

func (l *stubLedger) SumByReferencePrefix(ctx context.Context, prefix string, day time.Time) (int64, error) {
	return l.funding, nil
}

type stubWithdrawals struct {
	settled int64
}

func (w *stubWithdrawals) SumSuccessful(ctx context.Context, day time.Time) (int64, error) {
	return w.settled, nil
}

type stubPurchases struct {
	airtime int64
	data    int64
}

func (p *stubPurchases) SumSuccessful(ctx context.Context, kind purchase.Kind, day time.Time) (int64, error) {
	if kind == purchase.KindAirtime {
		return p.airtime, nil
	}
	return p.data, nil
}

type stubGateway struct {
	transactions []gateway.ReportRow
	transfers    []gateway.ReportRow
	bills        []gateway.ReportRow
	err          error
}

func (g *stubGateway) ListTransactions(ctx context.Context, day time.Time) ([]gateway.ReportRow, error) {
	return g.transactions, g.err
}

func (g *stubGateway) ListTransfers(ctx context.Context, day time.Time) ([]gateway.ReportRow, error) {
	return g.transfers, g.err
}

func (g *stubGateway) ListBills(ctx context.Context, day time.Time) ([]gateway.ReportRow, error) {
	return g.bills, g.err
}

type countingMetrics struct {
	mismatches int
}

func (m *countingMetrics) ReconciliationMismatch() { m.mismatches++ }

type noopAudit struct{}

func (noopAudit) Record(ctx context.Context, log shared.AuditLog) error { return nil }

func itemFor(t *testing.T, run Run, category Category) Item {
	t.Helper()
	for _, item := range run.Items {
		if item.Category == category {
			return item
		}
	}
	t.Fatalf("run has no %s item", category)
	return Item{}
}

func TestRunAllMatched(t *testing.T) {
	repo := newMemoryRepo()
	metrics := &countingMetrics{}
	gw := &stubGateway{
		transactions: []gateway.ReportRow{{Status: "success", Amount: 50_000}},
		transfers:    []gateway.ReportRow{{Status: "success", Amount: 20_000}},
		bills: []gateway.ReportRow{
			{Status: "successful", Amount: 5_000, Type: "airtime"},
			{Status: "successful", Amount: 8_000, Type: "data"},
		},
	}
	svc := NewService(repo, &stubLedger{funding: 50_000}, &stubPurchases{airtime: 5_000, data: 8_000},
		&stubWithdrawals{settled: 20_000}, gw, metrics, noopAudit{}, nil)

	run, err := svc.Run(context.Background(), time.Date(2026, 8, 27, 15, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, RunMatched, run.Status)
	require.Zero(t, run.Discrepancy)
	require.Len(t, run.Items, len(Categories))
	require.Zero(t, metrics.mismatches)

	stored, err := svc.ForDay(context.Background(), run.Day)
	require.NoError(t, err)
	require.Equal(t, run.ID, stored.ID)
}

func TestRunFundingMismatch(t *testing.T) {
	repo := newMemoryRepo()
	metrics := &countingMetrics{}
	gw := &stubGateway{
		transactions: []gateway.ReportRow{
			{Status: "success", Amount: 48_000},
			{Status: "abandoned", Amount: 9_000},
		},
	}
	svc := NewService(repo, &stubLedger{funding: 50_000}, &stubPurchases{}, &stubWithdrawals{}, gw, metrics, noopAudit{}, nil)

	run, err := svc.Run(context.Background(), time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, RunMismatch, run.Status)
	require.Equal(t, int64(2_000), run.Discrepancy)
	require.Equal(t, 1, metrics.mismatches)

	item := itemFor(t, run, CategoryFunding)
	require.Equal(t, ItemMismatch, item.Status)
	require.Equal(t, int64(50_000), item.LedgerTotal)
	require.Equal(t, int64(48_000), item.GatewayTotal)
	require.Equal(t, int64(2_000), item.Delta)
}

func TestRunBillsSplitByProduct(t *testing.T) {
	repo := newMemoryRepo()
	gw := &stubGateway{
		bills: []gateway.ReportRow{
			{Status: "successful", Amount: 3_000, Type: "airtime"},
			{Status: "successful", Amount: 4_000, Type: "data"},
			{Status: "failed", Amount: 1_000, Type: "airtime"},
		},
	}
	svc := NewService(repo, &stubLedger{}, &stubPurchases{airtime: 3_000, data: 4_000},
		&stubWithdrawals{}, gw, &countingMetrics{}, noopAudit{}, nil)

	run, err := svc.Run(context.Background(), time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, RunMatched, run.Status)
	require.Equal(t, int64(3_000), itemFor(t, run, CategoryAirtime).GatewayTotal)
	require.Equal(t, int64(4_000), itemFor(t, run, CategoryData).GatewayTotal)
}

func TestRunFailsWhenGatewayUnreachable(t *testing.T) {
	repo := newMemoryRepo()
	gw := &stubGateway{err: errors.New("connect: timeout")}
	svc := NewService(repo, &stubLedger{}, &stubPurchases{}, &stubWithdrawals{}, gw, &countingMetrics{}, noopAudit{}, nil)

	_, err := svc.Run(context.Background(), time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	require.Empty(t, repo.runs)
}

func TestRunWithdrawalCountsSettledOnly(t *testing.T) {
	repo := newMemoryRepo()
	metrics := &countingMetrics{}
	gw := &stubGateway{
		transfers: []gateway.ReportRow{
			{Status: "success", Amount: 20_000},
			{Status: "failed", Amount: 7_500},
		},
	}
	// The payout total comes from confirmed withdrawals, so a refunded payout
	// on the same day must not tip the category into mismatch.
	svc := NewService(repo, &stubLedger{}, &stubPurchases{}, &stubWithdrawals{settled: 20_000}, gw, metrics, noopAudit{}, nil)

	run, err := svc.Run(context.Background(), time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	item := itemFor(t, run, CategoryWithdrawal)
	require.Equal(t, ItemMatched, item.Status)
	require.Equal(t, int64(20_000), item.LedgerTotal)
	require.Equal(t, int64(20_000), item.GatewayTotal)
}

func TestRunRerunReplacesStored(t *testing.T) {
	repo := newMemoryRepo()
	day := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
	gw := &stubGateway{transactions: []gateway.ReportRow{{Status: "success", Amount: 48_000}}}
	svc := NewService(repo, &stubLedger{funding: 50_000}, &stubPurchases{}, &stubWithdrawals{}, gw, &countingMetrics{}, noopAudit{}, nil)

	first, err := svc.Run(context.Background(), day)
	require.NoError(t, err)
	require.Equal(t, RunMismatch, first.Status)

	// A late journal correction lands; rerunning the same day replaces the
	// stored run rather than keeping the stale mismatch.
	svc = NewService(repo, &stubLedger{funding: 48_000}, &stubPurchases{}, &stubWithdrawals{}, gw, &countingMetrics{}, noopAudit{}, nil)
	second, err := svc.Run(context.Background(), day)
	require.NoError(t, err)
	require.Equal(t, RunMatched, second.Status)

	stored, err := svc.ForDay(context.Background(), day)
	require.NoError(t, err)
	require.Equal(t, second.ID, stored.ID)
	require.Equal(t, RunMatched, stored.Status)
}
