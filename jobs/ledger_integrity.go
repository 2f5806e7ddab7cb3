package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

// IntegrityChecker reports the book's debit-minus-credit gap.
type IntegrityChecker interface {
	IntegrityGap(ctx context.Context) (int64, error)
}

// NewLedgerIntegrityHandler returns the asynq handler for TaskLedgerIntegrity.
// A nonzero gap is returned as an error so the failure is visible in the
// queue, not just the logs.
func NewLedgerIntegrityHandler(checker IntegrityChecker, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		gap, err := checker.IntegrityGap(ctx)
		if err != nil {
			return err
		}
		if gap != 0 {
			logger.Error("ledger out of balance", slog.Int64("gap", gap))
			return fmt.Errorf("ledger integrity: debits minus credits = %d", gap)
		}
		logger.Info("ledger integrity verified")
		return nil
	}
}
