package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kudipay/kudipay/internal/platform/db"
)

var (
	// ErrAccountNotFound indicates an unknown ledger account id.
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrDuplicateReference indicates entries already exist for the reference.
	// The unique index on (reference, direction) makes the post idempotent at
	// the storage layer, behind the idempotency guard.
	ErrDuplicateReference = errors.New("ledger: reference already posted")
	// ErrInsufficientFunds indicates the debit would take the account negative.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
)

// Repository persists accounts and entries.
type Repository interface {
	EnsureAccount(ctx context.Context, key AccountKey) (Account, error)
	FindAccount(ctx context.Context, key AccountKey) (Account, error)
	GetAccount(ctx context.Context, id uuid.UUID) (Account, error)
	Balance(ctx context.Context, accountID uuid.UUID) (int64, error)
	Entries(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]Entry, error)
	PostTransfer(ctx context.Context, in PostingInput) error
	SumByReferencePrefix(ctx context.Context, prefix string, day time.Time) (int64, error)
	IntegrityGap(ctx context.Context) (int64, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the pgx-backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) EnsureAccount(ctx context.Context, key AccountKey) (Account, error) {
	_, err := r.pool.Exec(ctx, `INSERT INTO ledger_accounts (id, owner_kind, owner_id, currency, role)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (owner_kind, owner_id, currency, role) DO NOTHING`,
		uuid.New(), key.OwnerKind, key.OwnerID, key.Currency, key.Role)
	if err != nil {
		return Account{}, fmt.Errorf("ledger: ensure account: %w", err)
	}
	return r.FindAccount(ctx, key)
}

func (r *repository) FindAccount(ctx context.Context, key AccountKey) (Account, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, owner_kind, owner_id, currency, role, created_at
FROM ledger_accounts
WHERE owner_kind=$1 AND owner_id IS NOT DISTINCT FROM $2 AND currency=$3 AND role=$4`,
		key.OwnerKind, key.OwnerID, key.Currency, key.Role)
	return scanAccount(row)
}

func (r *repository) GetAccount(ctx context.Context, id uuid.UUID) (Account, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, owner_kind, owner_id, currency, role, created_at
FROM ledger_accounts WHERE id=$1`, id)
	return scanAccount(row)
}

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	if err := row.Scan(&a.ID, &a.OwnerKind, &a.OwnerID, &a.Currency, &a.Role, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("ledger: scan account: %w", err)
	}
	return a, nil
}

func (r *repository) Balance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, balanceQuery, accountID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("ledger: balance: %w", err)
	}
	return balance, nil
}

const balanceQuery = `SELECT COALESCE(SUM(CASE direction WHEN 'credit' THEN amount ELSE -amount END), 0)
FROM ledger_entries WHERE account_id=$1`

func (r *repository) Entries(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]Entry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `SELECT id, account_id, direction, amount, reference, metadata, created_at
FROM ledger_entries WHERE account_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`,
		accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ledger: list entries: %w", err)
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var e Entry
		var meta []byte
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Direction, &e.Amount, &e.Reference, &meta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ledger: scan entry: %w", err)
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// IntegrityGap returns total debits minus total credits. A balanced book
// returns zero; any other value means a posting invariant was violated.
func (r *repository) IntegrityGap(ctx context.Context) (int64, error) {
	var gap int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(CASE direction WHEN 'debit' THEN amount ELSE -amount END), 0)
FROM ledger_entries`).Scan(&gap)
	if err != nil {
		return 0, fmt.Errorf("ledger: integrity gap: %w", err)
	}
	return gap, nil
}

// PostingTxOptions are the transaction options every ledger posting must run
// under. The overdraw check locks the account row and then sums its entries;
// at ReadCommitted that sum sees every debit committed while this transaction
// waited on the lock. A snapshot isolation level would fix the view before the
// lock was granted and let two concurrent debits both pass the check.
var PostingTxOptions = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

// PostTransfer posts both legs inside one transaction.
func (r *repository) PostTransfer(ctx context.Context, in PostingInput) error {
	return db.WithTxOptions(ctx, r.pool, PostingTxOptions, func(tx pgx.Tx) error {
		return PostTransferTx(ctx, tx, in)
	})
}

// PostTransferTx posts a balanced transfer on an open transaction. Repositories
// that need the post atomically combined with their own writes (webhook
// settlement records the gateway transaction id in the same unit) call this
// directly; everyone else goes through Repository.PostTransfer. The
// transaction must have been opened with PostingTxOptions.
func PostTransferTx(ctx context.Context, tx pgx.Tx, in PostingInput) error {
	if err := in.Validate(); err != nil {
		return err
	}

	// Lock both account rows in a fixed order so concurrent transfers touching
	// the same pair cannot deadlock.
	first, second := in.From, in.To
	if second.String() < first.String() {
		first, second = second, first
	}
	var fromOwner OwnerKind
	for _, id := range []uuid.UUID{first, second} {
		var locked uuid.UUID
		var owner OwnerKind
		if err := tx.QueryRow(ctx, `SELECT id, owner_kind FROM ledger_accounts WHERE id=$1 FOR UPDATE`, id).Scan(&locked, &owner); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrAccountNotFound
			}
			return fmt.Errorf("ledger: lock account: %w", err)
		}
		if id == in.From {
			fromOwner = owner
		}
	}

	// User wallets can never overdraw. System clearing accounts mirror funds
	// held at the gateway and may run negative: a funding webhook credits the
	// wallet by debiting funding_clearing before any inbound leg exists.
	if fromOwner == OwnerUser {
		var balance int64
		if err := tx.QueryRow(ctx, balanceQuery, in.From).Scan(&balance); err != nil {
			return fmt.Errorf("ledger: compute balance: %w", err)
		}
		if balance < in.Amount {
			return ErrInsufficientFunds
		}
	}

	meta, err := json.Marshal(in.Metadata)
	if err != nil {
		return fmt.Errorf("ledger: marshal metadata: %w", err)
	}
	_, err = tx.Exec(ctx, `INSERT INTO ledger_entries (account_id, direction, amount, reference, metadata)
VALUES ($1,'debit',$3,$4,$5), ($2,'credit',$3,$4,$5)`,
		in.From, in.To, in.Amount, in.Reference, meta)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateReference
		}
		return fmt.Errorf("ledger: insert entries: %w", err)
	}
	return nil
}

func (r *repository) SumByReferencePrefix(ctx context.Context, prefix string, day time.Time) (int64, error) {
	start, end := dayBounds(day)
	var total int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM ledger_entries
WHERE direction='credit' AND reference LIKE $1 || '-%' AND created_at >= $2 AND created_at < $3`,
		prefix, start, end).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("ledger: sum by prefix: %w", err)
	}
	return total, nil
}

func dayBounds(day time.Time) (time.Time, time.Time) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}
