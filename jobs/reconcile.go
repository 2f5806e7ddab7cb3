package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/kudipay/kudipay/internal/reconciliation"
)

// ReconcileRunner is the slice of the reconciliation service the job needs.
type ReconcileRunner interface {
	Run(ctx context.Context, day time.Time) (reconciliation.Run, error)
}

// NewReconcileHandler returns the asynq handler for TaskReconcileDaily.
func NewReconcileHandler(runner ReconcileRunner, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ReconcilePayload
		if len(t.Payload()) > 0 {
			if err := json.Unmarshal(t.Payload(), &payload); err != nil {
				return asynq.SkipRetry
			}
		}
		day, err := reconcileDay(payload)
		if err != nil {
			logger.Warn("reconcile task has a bad day value", slog.String("day", payload.Day))
			return asynq.SkipRetry
		}
		run, err := runner.Run(ctx, day)
		if err != nil {
			// Returning the error lets asynq retry; a flaky gateway report
			// endpoint is the common cause.
			logger.Error("scheduled reconciliation failed",
				slog.String("day", day.Format("2006-01-02")),
				slog.Any("error", err))
			return err
		}
		logger.Info("scheduled reconciliation complete",
			slog.String("day", day.Format("2006-01-02")),
			slog.String("status", run.Status),
			slog.Int64("discrepancy", run.Discrepancy))
		return nil
	}
}
