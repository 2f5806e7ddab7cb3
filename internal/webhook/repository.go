package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kudipay/kudipay/internal/ledger"
	"github.com/kudipay/kudipay/internal/platform/db"
)

// ErrEventSeen indicates the gateway already delivered this event reference.
var ErrEventSeen = errors.New("webhook: event already processed")

// Repository records processed gateway events and applies funding credits.
type Repository interface {
	// CreditOnce marks the event reference processed and posts the funding
	// credit in one transaction. Redelivery returns ErrEventSeen with no
	// ledger effect.
	CreditOnce(ctx context.Context, eventRef, event string, payload []byte, posting ledger.PostingInput) error
	// MarkSeen records a non-crediting event so redelivery can be detected.
	MarkSeen(ctx context.Context, eventRef, event string, payload []byte) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the pgx-backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func insertEvent(ctx context.Context, tx pgx.Tx, eventRef, event string, payload []byte) error {
	_, err := tx.Exec(ctx, `INSERT INTO gateway_transactions (id, reference, event, payload, received_at)
VALUES ($1,$2,$3,$4,$5)`,
		uuid.New(), eventRef, event, payload, time.Now().UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrEventSeen
	}
	if err != nil {
		return fmt.Errorf("webhook: record event: %w", err)
	}
	return nil
}

func (r *repository) CreditOnce(ctx context.Context, eventRef, event string, payload []byte, posting ledger.PostingInput) error {
	return db.WithTxOptions(ctx, r.pool, ledger.PostingTxOptions, func(tx pgx.Tx) error {
		if err := insertEvent(ctx, tx, eventRef, event, payload); err != nil {
			return err
		}
		return ledger.PostTransferTx(ctx, tx, posting)
	})
}

func (r *repository) MarkSeen(ctx context.Context, eventRef, event string, payload []byte) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return insertEvent(ctx, tx, eventRef, event, payload)
	})
}
