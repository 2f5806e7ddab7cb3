// Package users resolves user identities for transfers and webhook
// settlement. Profiles and virtual accounts are owned by the excluded
// auth/onboarding layer; this package only reads them.
package users

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUserNotFound indicates no profile matched the lookup.
var ErrUserNotFound = errors.New("users: not found")

// Profile is the subset of a user profile needed for settlement.
type Profile struct {
	ID        uuid.UUID
	Email     string
	PublicUID string
	FullName  string
}

// Repository looks up users by the identifiers webhooks and transfers carry.
type Repository interface {
	ByID(ctx context.Context, id uuid.UUID) (Profile, error)
	ByEmail(ctx context.Context, email string) (Profile, error)
	ByPublicUID(ctx context.Context, publicUID string) (Profile, error)
	ByVirtualAccount(ctx context.Context, accountNumber string) (Profile, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the pgx-backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const profileColumns = `p.id, p.email, p.public_uid, p.full_name`

func (r *repository) ByID(ctx context.Context, id uuid.UUID) (Profile, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles p WHERE p.id=$1`, id)
	return scanProfile(row)
}

func (r *repository) ByEmail(ctx context.Context, email string) (Profile, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles p WHERE lower(p.email)=lower($1)`, email)
	return scanProfile(row)
}

func (r *repository) ByPublicUID(ctx context.Context, publicUID string) (Profile, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles p WHERE p.public_uid=$1`, publicUID)
	return scanProfile(row)
}

func (r *repository) ByVirtualAccount(ctx context.Context, accountNumber string) (Profile, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+profileColumns+`
FROM profiles p
JOIN user_virtual_accounts va ON va.user_id = p.id
WHERE va.account_number=$1 AND va.active`, accountNumber)
	return scanProfile(row)
}

func scanProfile(row pgx.Row) (Profile, error) {
	var p Profile
	if err := row.Scan(&p.ID, &p.Email, &p.PublicUID, &p.FullName); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrUserNotFound
		}
		return Profile{}, fmt.Errorf("users: scan profile: %w", err)
	}
	return p, nil
}

var nubanPattern = regexp.MustCompile(`^\d{10}$`)

// IsLikelyAccountNumber reports whether the recipient string looks like a
// 10-digit NUBAN virtual account number rather than a public uid.
func IsLikelyAccountNumber(v string) bool {
	return nubanPattern.MatchString(v)
}
