package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kudipay/kudipay/internal/platform/db"
)

// ErrRunNotFound indicates no run exists for the requested day.
var ErrRunNotFound = errors.New("reconciliation: run not found")

// Repository persists reconciliation runs and their per-category items.
type Repository interface {
	// SaveRun stores a run keyed by day. Re-running a day replaces the
	// stored run and its items; runs are snapshots of a comparison, not an
	// append-only journal, and an operator rerun after a late correction is
	// expected to supersede the stale result.
	SaveRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, day time.Time) (Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the pgx-backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) SaveRun(ctx context.Context, run Run) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		// Re-running a day replaces the previous run and its items wholesale.
		var runID uuid.UUID
		err := tx.QueryRow(ctx, `INSERT INTO reconciliation_runs (id, day, status, discrepancy, created_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (day) DO UPDATE SET status = EXCLUDED.status, discrepancy = EXCLUDED.discrepancy, created_at = EXCLUDED.created_at
RETURNING id`,
			run.ID, run.Day, run.Status, run.Discrepancy, run.CreatedAt).Scan(&runID)
		if err != nil {
			return fmt.Errorf("reconciliation: save run: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM reconciliation_items WHERE run_id = $1`, runID); err != nil {
			return fmt.Errorf("reconciliation: clear items: %w", err)
		}
		for _, item := range run.Items {
			if _, err := tx.Exec(ctx, `INSERT INTO reconciliation_items (id, run_id, category, ledger_total, gateway_total, delta, status)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
				item.ID, runID, item.Category, item.LedgerTotal, item.GatewayTotal, item.Delta, item.Status); err != nil {
				return fmt.Errorf("reconciliation: save item %s: %w", item.Category, err)
			}
		}
		return nil
	})
}

func (r *repository) GetRun(ctx context.Context, day time.Time) (Run, error) {
	var run Run
	err := r.pool.QueryRow(ctx, `SELECT id, day, status, discrepancy, created_at
FROM reconciliation_runs WHERE day = $1`, day).
		Scan(&run.ID, &run.Day, &run.Status, &run.Discrepancy, &run.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("reconciliation: get run: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT id, run_id, category, ledger_total, gateway_total, delta, status
FROM reconciliation_items WHERE run_id = $1 ORDER BY category`, run.ID)
	if err != nil {
		return Run{}, fmt.Errorf("reconciliation: get items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.RunID, &item.Category, &item.LedgerTotal, &item.GatewayTotal, &item.Delta, &item.Status); err != nil {
			return Run{}, fmt.Errorf("reconciliation: scan item: %w", err)
		}
		run.Items = append(run.Items, item)
	}
	return run, rows.Err()
}

func (r *repository) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, day, status, discrepancy, created_at
FROM reconciliation_runs ORDER BY day DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("reconciliation: list runs: %w", err)
	}
	defer rows.Close()
	var runs []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.Day, &run.Status, &run.Discrepancy, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("reconciliation: scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
