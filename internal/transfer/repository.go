package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates no transfer exists for the reference.
var ErrNotFound = errors.New("transfer: not found")

// Repository persists P2P transfer operation records.
type Repository interface {
	Insert(ctx context.Context, t *Transfer) error
	GetByReference(ctx context.Context, reference string) (Transfer, error)
	UpdateStatus(ctx context.Context, reference string, from, to Status) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the pgx-backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) Insert(ctx context.Context, t *Transfer) error {
	row := r.pool.QueryRow(ctx, `INSERT INTO transfers (sender_id, recipient_id, from_account, to_account, amount, currency, status, reference, recipient_lookup)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id, created_at, updated_at`,
		t.SenderID, t.RecipientID, t.FromAccount, t.ToAccount, t.Amount, t.Currency, t.Status, t.Reference, t.RecipientLookup)
	if err := row.Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return fmt.Errorf("transfer: insert: %w", err)
	}
	return nil
}

func (r *repository) GetByReference(ctx context.Context, reference string) (Transfer, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, sender_id, recipient_id, from_account, to_account, amount, currency, status, reference, recipient_lookup, created_at, updated_at
FROM transfers WHERE reference=$1`, reference)
	var t Transfer
	err := row.Scan(&t.ID, &t.SenderID, &t.RecipientID, &t.FromAccount, &t.ToAccount, &t.Amount, &t.Currency, &t.Status, &t.Reference, &t.RecipientLookup, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transfer{}, ErrNotFound
		}
		return Transfer{}, fmt.Errorf("transfer: get: %w", err)
	}
	return t, nil
}

func (r *repository) UpdateStatus(ctx context.Context, reference string, from, to Status) error {
	if !from.CanTransitionTo(to) {
		return ErrIllegalTransition
	}
	tag, err := r.pool.Exec(ctx, `UPDATE transfers SET status=$3, updated_at=NOW() WHERE reference=$1 AND status=$2`, reference, from, to)
	if err != nil {
		return fmt.Errorf("transfer: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrIllegalTransition
	}
	return nil
}
