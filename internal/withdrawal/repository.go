package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates no withdrawal exists for the lookup.
var ErrNotFound = errors.New("withdrawal: not found")

// Repository persists withdrawal operation records.
type Repository interface {
	Insert(ctx context.Context, w *Withdrawal) error
	GetByReference(ctx context.Context, reference string) (Withdrawal, error)
	GetByTransferCode(ctx context.Context, transferCode string) (Withdrawal, error)
	// UpdateStatus moves the record from one status to another, rejecting
	// anything outside the transition table.
	UpdateStatus(ctx context.Context, reference string, from, to Status) error
	SetGatewayHandle(ctx context.Context, reference, transferCode string, raw []byte) error
	// SumSuccessful totals withdrawals initiated on a day that the gateway
	// confirmed. Refunded and still-pending payouts are excluded so the total
	// lines up with the gateway's settled-transfer report.
	SumSuccessful(ctx context.Context, day time.Time) (int64, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the pgx-backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) Insert(ctx context.Context, w *Withdrawal) error {
	row := r.pool.QueryRow(ctx, `INSERT INTO withdrawals (user_id, amount, bank_code, account_number, account_name, status, reference)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id, created_at, updated_at`,
		w.UserID, w.Amount, w.BankCode, w.AccountNumber, w.AccountName, w.Status, w.Reference)
	if err := row.Scan(&w.ID, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return fmt.Errorf("withdrawal: insert: %w", err)
	}
	return nil
}

const selectColumns = `id, user_id, amount, bank_code, account_number, COALESCE(account_name, ''), status, reference, COALESCE(transfer_code, ''), gateway_response, created_at, updated_at`

func (r *repository) GetByReference(ctx context.Context, reference string) (Withdrawal, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM withdrawals WHERE reference=$1`, reference)
	return scan(row)
}

func (r *repository) GetByTransferCode(ctx context.Context, transferCode string) (Withdrawal, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM withdrawals WHERE transfer_code=$1`, transferCode)
	return scan(row)
}

func scan(row pgx.Row) (Withdrawal, error) {
	var w Withdrawal
	err := row.Scan(&w.ID, &w.UserID, &w.Amount, &w.BankCode, &w.AccountNumber, &w.AccountName, &w.Status, &w.Reference, &w.TransferCode, &w.GatewayResponse, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Withdrawal{}, ErrNotFound
		}
		return Withdrawal{}, fmt.Errorf("withdrawal: scan: %w", err)
	}
	return w, nil
}

func (r *repository) UpdateStatus(ctx context.Context, reference string, from, to Status) error {
	if !from.CanTransitionTo(to) {
		return ErrIllegalTransition
	}
	tag, err := r.pool.Exec(ctx, `UPDATE withdrawals SET status=$3, updated_at=NOW() WHERE reference=$1 AND status=$2`, reference, from, to)
	if err != nil {
		return fmt.Errorf("withdrawal: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrIllegalTransition
	}
	return nil
}

func (r *repository) SumSuccessful(ctx context.Context, day time.Time) (int64, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	var total int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM withdrawals
WHERE status='successful' AND created_at >= $1 AND created_at < $2`,
		start, start.Add(24*time.Hour)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("withdrawal: sum successful: %w", err)
	}
	return total, nil
}

func (r *repository) SetGatewayHandle(ctx context.Context, reference, transferCode string, raw []byte) error {
	_, err := r.pool.Exec(ctx, `UPDATE withdrawals SET transfer_code=$2, gateway_response=$3, updated_at=NOW() WHERE reference=$1`, reference, transferCode, raw)
	if err != nil {
		return fmt.Errorf("withdrawal: set gateway handle: %w", err)
	}
	return nil
}
