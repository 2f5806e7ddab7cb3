package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/kudipay/kudipay/internal/app"
	"github.com/kudipay/kudipay/internal/gateway"
	"github.com/kudipay/kudipay/internal/ledger"
	"github.com/kudipay/kudipay/internal/observability"
	"github.com/kudipay/kudipay/internal/purchase"
	"github.com/kudipay/kudipay/internal/reconciliation"
	"github.com/kudipay/kudipay/internal/shared"
	"github.com/kudipay/kudipay/internal/transfer"
	"github.com/kudipay/kudipay/internal/users"
	"github.com/kudipay/kudipay/internal/wallet"
	"github.com/kudipay/kudipay/internal/webhook"
	"github.com/kudipay/kudipay/internal/withdrawal"
	"github.com/kudipay/kudipay/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	audit := shared.NewAuditLogger(pool)
	idempotency := shared.NewIdempotencyStore(pool)

	gatewayClient := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewaySecretKey, cfg.GatewayTimeout, metrics, logger)

	ledgerRepo := ledger.NewRepository(pool)
	balanceCache := ledger.NewBalanceCache(redisClient, cfg.BalanceCacheTTL)
	ledgerService := ledger.NewService(ledgerRepo, balanceCache, metrics, logger)

	usersRepo := users.NewRepository(pool)

	purchaseRepo := purchase.NewRepository(pool)
	purchaseService := purchase.NewService(purchaseRepo, ledgerService, gatewayClient, idempotency, audit, metrics, logger, cfg.Currency)

	withdrawalRepo := withdrawal.NewRepository(pool)
	withdrawalService := withdrawal.NewService(withdrawalRepo, ledgerService, gatewayClient, idempotency, audit, metrics, logger, cfg.Currency)

	transferRepo := transfer.NewRepository(pool)
	transferService := transfer.NewService(transferRepo, ledgerService, usersRepo, idempotency, logger, cfg.Currency)

	walletService := wallet.NewService(ledgerService, gatewayClient, usersRepo, logger, cfg.Currency)

	webhookRepo := webhook.NewRepository(pool)
	webhookService := webhook.NewService(webhookRepo, ledgerService, withdrawalService, usersRepo, metrics, audit, logger, cfg.Currency)

	reconRepo := reconciliation.NewRepository(pool)
	reconService := reconciliation.NewService(reconRepo, ledgerService, purchaseRepo, withdrawalRepo, gatewayClient, metrics, audit, logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:                logger,
		Config:                cfg,
		Pool:                  pool,
		WalletHandler:         wallet.NewHandler(walletService, logger),
		PurchaseHandler:       purchase.NewHandler(logger, purchaseService),
		WithdrawalHandler:     withdrawal.NewHandler(logger, withdrawalService),
		TransferHandler:       transfer.NewHandler(logger, transferService),
		WebhookHandler:        webhook.NewHandler(webhookService, cfg.WebhookSecret, logger),
		ReconciliationHandler: reconciliation.NewHandler(reconService, logger),
		JobHandler:            jobs.NewHandler(inspector, logger),
		Metrics:               metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}
	logger.Info("server stopped")
}
