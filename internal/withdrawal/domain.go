package withdrawal

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the withdrawal lifecycle state. Terminal settlement between
// successful and refunded is decided asynchronously by the webhook processor.
type Status string

const (
	StatusPending    Status = "pending"
	StatusDebited    Status = "debited"
	StatusProcessing Status = "processing"
	StatusSuccessful Status = "successful"
	StatusFailed     Status = "failed"
	StatusRefunded   Status = "refunded"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusDebited, StatusFailed},
	StatusDebited:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusSuccessful, StatusFailed},
	StatusFailed:     {StatusRefunded},
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

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool {
	return s == StatusSuccessful || s == StatusRefunded
}

// ErrIllegalTransition indicates a status move outside the transition table.
var ErrIllegalTransition = errors.New("withdrawal: illegal status transition")

// Withdrawal is one payout-to-bank operation. Rows are never deleted.
type Withdrawal struct {
	ID              int64
	UserID          uuid.UUID
	Amount          int64
	BankCode        string
	AccountNumber   string
	AccountName     string
	Status          Status
	Reference       string
	TransferCode    string
	GatewayResponse json.RawMessage
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
