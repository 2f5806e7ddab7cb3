package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kudipay/kudipay/internal/observability"
	"github.com/kudipay/kudipay/internal/purchase"
	"github.com/kudipay/kudipay/internal/reconciliation"
	"github.com/kudipay/kudipay/internal/transfer"
	"github.com/kudipay/kudipay/internal/wallet"
	"github.com/kudipay/kudipay/internal/webhook"
	"github.com/kudipay/kudipay/internal/withdrawal"
	"github.com/kudipay/kudipay/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger                *slog.Logger
	Config                *Config
	Pool                  *pgxpool.Pool
	WalletHandler         *wallet.Handler
	PurchaseHandler       *purchase.Handler
	WithdrawalHandler     *withdrawal.Handler
	TransferHandler       *transfer.Handler
	WebhookHandler        *webhook.Handler
	ReconciliationHandler *reconciliation.Handler
	JobHandler            *jobs.Handler
	Metrics               *observability.Metrics
}

// NewRouter constructs the chi.Router for the payments API.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.Pool != nil {
			if err := params.Pool.Ping(r.Context()); err != nil {
				params.Logger.Warn("health check", slog.Any("error", err))
				http.Error(w, `{"status":"degraded"}`, http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	// Gateway callbacks authenticate with the body signature, not a caller id.
	if params.WebhookHandler != nil {
		params.WebhookHandler.MountRoutes(r)
	}

	if params.WalletHandler != nil {
		params.WalletHandler.MountRoutes(r)
	}
	if params.PurchaseHandler != nil {
		params.PurchaseHandler.MountRoutes(r)
	}
	if params.WithdrawalHandler != nil {
		params.WithdrawalHandler.MountRoutes(r)
	}
	if params.TransferHandler != nil {
		params.TransferHandler.MountRoutes(r)
	}
	if params.ReconciliationHandler != nil {
		params.ReconciliationHandler.MountRoutes(r)
	}
	if params.JobHandler != nil {
		r.Route("/admin/jobs", func(jr chi.Router) {
			params.JobHandler.MountRoutes(jr)
		})
	}

	return r
}
