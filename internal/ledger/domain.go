package ledger

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// OwnerKind distinguishes user wallets from system-owned accounts.
type OwnerKind string

const (
	OwnerUser   OwnerKind = "user"
	OwnerSystem OwnerKind = "system"
)

// Role names the purpose of a balance bucket.
type Role string

const (
	RoleWallet             Role = "wallet"
	RoleUtilityClearing    Role = "utility_clearing"
	RoleWithdrawalClearing Role = "withdrawal_clearing"
	RoleFundingClearing    Role = "funding_clearing"
	RoleRevenue            Role = "revenue"
)

// Direction is one leg of a balanced transfer.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// Account is a named balance bucket. The balance is always derived from
// entries, never stored on the account row.
type Account struct {
	ID        uuid.UUID
	OwnerKind OwnerKind
	OwnerID   *uuid.UUID
	Currency  string
	Role      Role
	CreatedAt time.Time
}

// AccountKey identifies the unique (owner, currency, role) tuple.
type AccountKey struct {
	OwnerKind OwnerKind
	OwnerID   *uuid.UUID
	Currency  string
	Role      Role
}

// Entry is one immutable credit or debit leg.
type Entry struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	Direction Direction
	Amount    int64
	Reference string
	Metadata  map[string]any
	CreatedAt time.Time
}

// PostingInput describes a balanced transfer between exactly two accounts.
type PostingInput struct {
	From      uuid.UUID
	To        uuid.UUID
	Amount    int64
	Reference string
	Metadata  map[string]any
}

// Validate checks the Transfer Engine preconditions.
func (in PostingInput) Validate() error {
	if in.Amount <= 0 {
		return errors.New("ledger: amount must be positive")
	}
	if in.From == uuid.Nil || in.To == uuid.Nil {
		return errors.New("ledger: both accounts required")
	}
	if in.From == in.To {
		return errors.New("ledger: accounts must differ")
	}
	if in.Reference == "" {
		return errors.New("ledger: reference required")
	}
	return nil
}
