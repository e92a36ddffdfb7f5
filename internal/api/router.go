package api

import (
	"net/http"

	"github.com/ayo6706/marketplace-ledger/internal/api/handler"
	"github.com/ayo6706/marketplace-ledger/internal/api/middleware"
	"github.com/ayo6706/marketplace-ledger/internal/api/spec"
	"github.com/ayo6706/marketplace-ledger/internal/config"
	"github.com/ayo6706/marketplace-ledger/internal/idempotency"
	"github.com/ayo6706/marketplace-ledger/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Services bundles the ledger components the HTTP layer calls into.
type Services struct {
	Balances    *service.BalanceStore
	Credits     *service.CreditLedger
	Payouts     *service.PayoutRequestService
	Clearing    *service.ClearingEngine
	Creditor    *service.OrderBalanceCreditor
	OrderEvents *service.OrderEventService

	// OrderConsumer is nil when order events arrive by webhook only.
	OrderConsumer handler.HealthChecker
}

type Router struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *pgxpool.Pool
	services  Services
	idemStore *idempotency.Store
	redis     redis.Cmdable
}

func NewRouter(cfg *config.Config, logger *zap.Logger, db *pgxpool.Pool, services Services, idemStore *idempotency.Store, redisClient redis.Cmdable) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		services:  services,
		idemStore: idemStore,
		redis:     redisClient,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	healthHandler := handler.NewHealthHandler(api.db, api.redis)
	if api.services.OrderConsumer != nil {
		healthHandler.WithConsumer(api.services.OrderConsumer)
	}
	balanceHandler := handler.NewBalanceHandler(api.services.Balances, api.services.Credits)
	payoutHandler := handler.NewPayoutRequestHandler(api.services.Payouts)
	clearingHandler := handler.NewClearingHandler(api.services.Clearing, api.services.Creditor)
	orderEventHandler := handler.NewOrderEventHandler(api.services.OrderEvents)

	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	// Public, HMAC-authenticated.
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Post("/v1/webhooks/order-events", orderEventHandler.Receive)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))
		idem := middleware.IdempotencyMiddleware(api.idemStore, api.logger)

		// Sellers act on their own organization; admins on any.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAnyRole(middleware.RoleAdmin, middleware.RoleSeller))
			r.Get("/v1/organizations/{id}/balance", balanceHandler.GetBalance)
			r.Get("/v1/organizations/{id}/credit-transactions", balanceHandler.ListCreditTransactions)
			r.With(idem).Post("/v1/payout-requests", payoutHandler.Create)
			r.Get("/v1/payout-requests/{id}", payoutHandler.Get)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(middleware.RoleAdmin))
			r.With(idem).Post("/v1/organizations/{id}/credit-adjustments", balanceHandler.CreateCreditAdjustment)

			r.Get("/v1/payout-requests", payoutHandler.List)
			r.With(idem).Post("/v1/payout-requests/{id}/approve", payoutHandler.Approve)
			r.With(idem).Post("/v1/payout-requests/{id}/reject", payoutHandler.Reject)
			r.With(idem).Post("/v1/payout-requests/{id}/complete", payoutHandler.Complete)

			r.With(idem).Post("/v1/orders/{id}/clearing", clearingHandler.CreateForOrder)
			r.Get("/v1/orders/{id}/timeline", clearingHandler.OrderTimeline)
			r.Get("/v1/clearing/buyer-settlements", clearingHandler.ListBuyerSettlements)
			r.Get("/v1/clearing/farmer-payouts", clearingHandler.ListFarmerPayouts)
			r.With(idem).Post("/v1/clearing/legs/{id}/complete", clearingHandler.CompleteLeg)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handler.RespondError(w, r, http.StatusNotFound, "route/not-found", "route not found")
	})
	return r
}
