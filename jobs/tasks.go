package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReconcileDaily runs the daily ledger-vs-gateway reconciliation.
	TaskReconcileDaily = "reconcile:daily"
	// TaskLedgerIntegrity verifies the book's debits equal its credits.
	TaskLedgerIntegrity = "ledger:integrity"
)

// ReconcilePayload selects the day to reconcile. An empty Day means
// yesterday UTC.
type ReconcilePayload struct {
	Day string `json:"day,omitempty"`
}

// NewReconcileTask constructs the daily reconciliation task.
func NewReconcileTask(payload ReconcilePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconcileDaily, data), nil
}

// NewLedgerIntegrityTask constructs the integrity sweep task.
func NewLedgerIntegrityTask() *asynq.Task {
	return asynq.NewTask(TaskLedgerIntegrity, nil)
}

// reconcileDay resolves the payload's day, defaulting to yesterday UTC.
func reconcileDay(payload ReconcilePayload) (time.Time, error) {
	if payload.Day == "" {
		return time.Now().UTC().AddDate(0, 0, -1), nil
	}
	return time.Parse("2006-01-02", payload.Day)
}
