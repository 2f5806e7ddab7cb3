package purchase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates no purchase exists for the reference.
var ErrNotFound = errors.New("purchase: not found")

// Repository persists purchase operation records.
type Repository interface {
	Insert(ctx context.Context, p *Purchase) error
	GetByReference(ctx context.Context, reference string) (Purchase, error)
	// UpdateStatus moves the record from one status to another. It fails with
	// ErrIllegalTransition when the stored status is not `from`, rejecting
	// out-of-order updates at the boundary.
	UpdateStatus(ctx context.Context, reference string, from, to Status) error
	SetGatewayResult(ctx context.Context, reference, gatewayRef string, raw []byte) error
	SumSuccessful(ctx context.Context, kind Kind, day time.Time) (int64, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the pgx-backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) Insert(ctx context.Context, p *Purchase) error {
	row := r.pool.QueryRow(ctx, `INSERT INTO purchases (user_id, kind, phone, provider, plan_code, amount, status, reference)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id, created_at, updated_at`,
		p.UserID, p.Kind, p.Phone, p.Provider, p.PlanCode, p.Amount, p.Status, p.Reference)
	if err := row.Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return fmt.Errorf("purchase: insert: %w", err)
	}
	return nil
}

func (r *repository) GetByReference(ctx context.Context, reference string) (Purchase, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, user_id, kind, phone, provider, plan_code, amount, status, reference, COALESCE(gateway_reference, ''), gateway_response, created_at, updated_at
FROM purchases WHERE reference=$1`, reference)
	var p Purchase
	err := row.Scan(&p.ID, &p.UserID, &p.Kind, &p.Phone, &p.Provider, &p.PlanCode, &p.Amount, &p.Status, &p.Reference, &p.GatewayReference, &p.GatewayResponse, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Purchase{}, ErrNotFound
		}
		return Purchase{}, fmt.Errorf("purchase: get: %w", err)
	}
	return p, nil
}

func (r *repository) UpdateStatus(ctx context.Context, reference string, from, to Status) error {
	if !from.CanTransitionTo(to) {
		return ErrIllegalTransition
	}
	tag, err := r.pool.Exec(ctx, `UPDATE purchases SET status=$3, updated_at=NOW() WHERE reference=$1 AND status=$2`, reference, from, to)
	if err != nil {
		return fmt.Errorf("purchase: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrIllegalTransition
	}
	return nil
}

func (r *repository) SetGatewayResult(ctx context.Context, reference, gatewayRef string, raw []byte) error {
	_, err := r.pool.Exec(ctx, `UPDATE purchases SET gateway_reference=$2, gateway_response=$3, updated_at=NOW() WHERE reference=$1`, reference, gatewayRef, raw)
	if err != nil {
		return fmt.Errorf("purchase: set gateway result: %w", err)
	}
	return nil
}

func (r *repository) SumSuccessful(ctx context.Context, kind Kind, day time.Time) (int64, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	var total int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM purchases
WHERE kind=$1 AND status='successful' AND created_at >= $2 AND created_at < $3`,
		kind, start, start.Add(24*time.Hour)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("purchase: sum successful: %w", err)
	}
	return total, nil
}
