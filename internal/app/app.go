package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ayo6706/marketplace-ledger/internal/api"
	"github.com/ayo6706/marketplace-ledger/internal/api/handler"
	"github.com/ayo6706/marketplace-ledger/internal/api/middleware"
	"github.com/ayo6706/marketplace-ledger/internal/config"
	"github.com/ayo6706/marketplace-ledger/internal/db"
	"github.com/ayo6706/marketplace-ledger/internal/idempotency"
	"github.com/ayo6706/marketplace-ledger/internal/messaging"
	"github.com/ayo6706/marketplace-ledger/internal/observability"
	"github.com/ayo6706/marketplace-ledger/internal/repository"
	"github.com/ayo6706/marketplace-ledger/internal/service"
	"github.com/ayo6706/marketplace-ledger/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Run bootstraps the HTTP server and background workers. It blocks until
// ctx is cancelled or the server fails, then drains in order: HTTP first,
// then the order consumer, reconciliation and the outbox.
func Run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.OTLPEndpoint, cfg.ServiceName)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	if cfg.AutoMigrate {
		if err := db.Migrate(ctx, cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		logger.Info("database migrations applied")
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL,
		db.WithPoolSize(cfg.DBMinConns, cfg.DBMaxConns),
		db.WithQueryTracing(cfg.DBTraceQueries),
	)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	idemStore := idempotency.NewStore(redisClient, pool, cfg.IdempotencyTTL)
	store := repository.NewStore(pool)

	publisher, closePublisher := newPublisher(cfg, logger)
	defer closePublisher()

	outbox := service.NewOutboxService(store, publisher, cfg.OutboxMaxAttempts)
	balances := service.NewBalanceStore(store, service.BalanceOptions{
		DefaultCurrency:     cfg.DefaultCurrency,
		AllowNegativeCredit: cfg.AllowNegativeCredit,
	})
	credits := service.NewCreditLedger(store, balances, outbox)
	payouts := service.NewPayoutRequestService(store, balances, outbox)
	clearing := service.NewClearingEngine(store, balances, outbox)
	creditor := service.NewOrderBalanceCreditor(store, balances, outbox)
	orderEvents := service.NewOrderEventService(creditor, clearing, cfg.WebhookHMACKey, cfg.WebhookSkipSignature)
	reconciliation := service.NewReconciliationService(store)

	outboxWorker := worker.NewOutboxWorker(outbox).
		WithPollInterval(cfg.OutboxPollInterval).
		WithBatchSize(cfg.OutboxBatchSize)
	stopOutbox := outboxWorker.Run(ctx)
	logger.Info("outbox worker started", zap.Duration("interval", cfg.OutboxPollInterval), zap.Int32("batch", cfg.OutboxBatchSize))

	stopReconciliation, err := worker.NewReconciliationWorker(reconciliation).
		WithSchedule(cfg.ReconciliationSchedule).
		WithJob("idempotency_purge", "@every 1h", idemStore.Purge).
		Run(ctx)
	if err != nil {
		stopOutbox()
		return fmt.Errorf("start reconciliation worker: %w", err)
	}
	logger.Info("reconciliation worker started", zap.String("schedule", cfg.ReconciliationSchedule))

	stopConsumer := func() {}
	var consumerHealth handler.HealthChecker
	if cfg.AMQPURL != "" {
		consumer, err := messaging.NewConsumer(cfg.AMQPURL, cfg.OrderExchange, cfg.OrderQueue, cfg.ConsumerPrefetch)
		if err != nil {
			logger.Warn("order event consumer unavailable; webhook only", zap.Error(err))
		} else {
			orderConsumer := worker.NewOrderEventConsumer(consumer, orderEvents)
			stopConsumer = orderConsumer.Run(ctx)
			consumerHealth = orderConsumer
			logger.Info("order event consumer started", zap.String("queue", cfg.OrderQueue))
		}
	}

	router := api.NewRouter(cfg, logger, pool, api.Services{
		Balances:    balances,
		Credits:     credits,
		Payouts:     payouts,
		Clearing:    clearing,
		Creditor:    creditor,
		OrderEvents: orderEvents,

		OrderConsumer: consumerHealth,
	}, idemStore, redisClient)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			stopConsumer()
			stopReconciliation()
			stopOutbox()
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("stopping workers")
	stopConsumer()
	stopReconciliation()
	stopOutbox()

	logger.Info("shutdown complete")
	return nil
}

// newPublisher connects the outbox to RabbitMQ behind a circuit breaker.
// Without AMQP_URL, or if the broker is down at startup, events are logged
// and dropped by the fallback.
func newPublisher(cfg *config.Config, logger *zap.Logger) (service.Publisher, func()) {
	if cfg.AMQPURL == "" {
		logger.Info("AMQP_URL not set; ledger events will not be published")
		return messaging.FallbackPublisher{}, func() {}
	}
	producer, err := messaging.NewProducer(cfg.AMQPURL, cfg.LedgerExchange)
	if err != nil {
		logger.Warn("rabbitmq unavailable; using fallback publisher", zap.Error(err))
		return messaging.FallbackPublisher{}, func() {}
	}
	breaker := messaging.NewBreakerPublisher(producer, messaging.BreakerConfig{
		Name:                cfg.LedgerExchange,
		ConsecutiveFailures: cfg.BreakerFailures,
		OpenTimeout:         cfg.BreakerOpenTimeout,
	})
	return breaker, producer.Close
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
