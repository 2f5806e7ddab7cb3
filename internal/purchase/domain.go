package purchase

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Kind is the utility product category.
type Kind string

const (
	KindAirtime Kind = "airtime"
	KindData    Kind = "data"
)

// Valid reports whether the kind is a known product category.
func (k Kind) Valid() bool {
	return k == KindAirtime || k == KindData
}

// Status is the purchase lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusDebited    Status = "debited"
	StatusProcessing Status = "processing"
	StatusSuccessful Status = "successful"
	StatusFailed     Status = "failed"
	StatusRefunded   Status = "refunded"
)

// transitions is the validated state machine. failed is terminal only when no
// refund is attempted; otherwise it is transient en route to refunded.
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
var ErrIllegalTransition = errors.New("purchase: illegal status transition")

// Purchase is one outbound utility spend. Rows are never deleted.
type Purchase struct {
	ID               int64
	UserID           uuid.UUID
	Kind             Kind
	Phone            string
	Provider         string
	PlanCode         string
	Amount           int64
	Status           Status
	Reference        string
	GatewayReference string
	GatewayResponse  json.RawMessage
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
