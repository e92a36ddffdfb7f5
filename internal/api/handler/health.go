package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const readinessTimeout = time.Second

// HealthChecker reports whether a background component is working.
type HealthChecker interface {
	Healthy() bool
}

// HealthHandler exposes liveness and readiness checks. Readiness covers the
// ledger database, the idempotency cache and, when configured, the order
// event consumer.
type HealthHandler struct {
	db       pinger
	redis    redis.Cmdable
	consumer HealthChecker
}

type pinger interface {
	Ping(ctx context.Context) error
}

func NewHealthHandler(db *pgxpool.Pool, redis redis.Cmdable) *HealthHandler {
	h := &HealthHandler{redis: redis}
	if db != nil {
		h.db = db
	}
	return h
}

// WithConsumer adds the order event consumer to readiness.
func (h *HealthHandler) WithConsumer(c HealthChecker) *HealthHandler {
	h.consumer = c
	return h
}

// Live always reports OK while the process is up.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready pings each dependency and returns 503 naming the first one down.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	checks := map[string]string{}
	if err := h.pingPostgres(ctx); err != nil {
		zap.L().Warn("readiness: postgres unavailable", zap.Error(err))
		RespondError(w, r, http.StatusServiceUnavailable, "health/database-unavailable", "database unavailable")
		return
	}
	checks["postgres"] = "ok"

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			zap.L().Warn("readiness: redis unavailable", zap.Error(err))
			RespondError(w, r, http.StatusServiceUnavailable, "health/redis-unavailable", "redis unavailable")
			return
		}
		checks["redis"] = "ok"
	}

	if h.consumer != nil {
		if !h.consumer.Healthy() {
			zap.L().Warn("readiness: order event consumer disconnected")
			RespondError(w, r, http.StatusServiceUnavailable, "health/consumer-unavailable", "order event consumer disconnected")
			return
		}
		checks["order_consumer"] = "ok"
	}

	RespondJSON(w, http.StatusOK, map[string]any{"status": "ready", "checks": checks})
}

func (h *HealthHandler) pingPostgres(ctx context.Context) error {
	if h.db == nil {
		return errNoDatabase
	}
	return h.db.Ping(ctx)
}
