package transfer

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the P2P transfer lifecycle state. The operation is synchronous:
// it either completes or fails in the request that created it.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var transitions = map[Status][]Status{
	StatusPending: {StatusCompleted, StatusFailed},
}

// CanTransitionTo reports whether moving to next is legal.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ErrIllegalTransition indicates a status move outside the transition table.
var ErrIllegalTransition = errors.New("transfer: illegal status transition")

// Transfer is one wallet-to-wallet send. Rows are never deleted.
type Transfer struct {
	ID              int64
	SenderID        uuid.UUID
	RecipientID     uuid.UUID
	FromAccount     uuid.UUID
	ToAccount       uuid.UUID
	Amount          int64
	Currency        string
	Status          Status
	Reference       string
	RecipientLookup string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
