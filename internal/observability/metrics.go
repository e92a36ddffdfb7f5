package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpDurationHistogram *prometheus.HistogramVec
	creditMismatchCounter *prometheus.CounterVec
	idempotencyCounter    *prometheus.CounterVec
	pendingPayoutsGauge   prometheus.Gauge
	payoutTransitionCount *prometheus.CounterVec
	balanceMutationCount  *prometheus.CounterVec
	orderCreditCounter    *prometheus.CounterVec
	clearingLegCounter    *prometheus.CounterVec
	outboxPublishCounter  *prometheus.CounterVec
	outboxBacklogGauge    prometheus.Gauge
	breakerStateGauge     *prometheus.GaugeVec
	orderEventCounter     *prometheus.CounterVec
	workerRunCounter      *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		creditMismatchCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_credit_mismatch_total",
			Help: "Organizations whose credit balance disagrees with their credit transactions",
		}, []string{"check"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		pendingPayoutsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "payout_requests_pending",
			Help: "Payout requests waiting for an admin decision",
		})

		payoutTransitionCount = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payout_request_transitions_total",
			Help: "Payout request state transitions",
		}, []string{"status"})

		balanceMutationCount = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "balance_mutations_total",
			Help: "Balance mutation outcomes",
		}, []string{"result"})

		orderCreditCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_balance_credit_outcomes_total",
			Help: "Outcomes of crediting sellers for fulfilled orders",
		}, []string{"outcome"})

		clearingLegCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clearing_leg_transitions_total",
			Help: "Clearing leg phase transitions",
		}, []string{"leg", "phase"})

		outboxPublishCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_publish_total",
			Help: "Outbox dispatch outcomes",
		}, []string{"result"})

		outboxBacklogGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_backlog",
			Help: "Outbox events waiting to be published",
		})

		breakerStateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		}, []string{"name"})

		orderEventCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_events_total",
			Help: "Order lifecycle events handled, by source and result",
		}, []string{"source", "type", "result"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			creditMismatchCounter,
			idempotencyCounter,
			pendingPayoutsGauge,
			payoutTransitionCount,
			balanceMutationCount,
			orderCreditCounter,
			clearingLegCounter,
			outboxPublishCounter,
			outboxBacklogGauge,
			breakerStateGauge,
			orderEventCounter,
			workerRunCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementCreditMismatch(check string) {
	if creditMismatchCounter == nil {
		return
	}
	creditMismatchCounter.WithLabelValues(check).Inc()
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func SetPendingPayouts(size int64) {
	if pendingPayoutsGauge == nil {
		return
	}
	pendingPayoutsGauge.Set(float64(size))
}

func IncrementPayoutTransition(status string) {
	if payoutTransitionCount == nil {
		return
	}
	payoutTransitionCount.WithLabelValues(status).Inc()
}

func IncrementBalanceMutation(result string) {
	if balanceMutationCount == nil {
		return
	}
	balanceMutationCount.WithLabelValues(result).Inc()
}

func IncrementOrderCredit(outcome string) {
	if orderCreditCounter == nil {
		return
	}
	orderCreditCounter.WithLabelValues(outcome).Inc()
}

func IncrementClearingLeg(leg, phase string) {
	if clearingLegCounter == nil {
		return
	}
	clearingLegCounter.WithLabelValues(leg, phase).Inc()
}

func IncrementOutboxPublish(result string) {
	if outboxPublishCounter == nil {
		return
	}
	outboxPublishCounter.WithLabelValues(result).Inc()
}

func SetOutboxBacklog(size int64) {
	if outboxBacklogGauge == nil {
		return
	}
	outboxBacklogGauge.Set(float64(size))
}

func SetBreakerState(name string, state int) {
	if breakerStateGauge == nil {
		return
	}
	breakerStateGauge.WithLabelValues(name).Set(float64(state))
}

func IncrementOrderEvent(source, eventType, result string) {
	if orderEventCounter == nil {
		return
	}
	orderEventCounter.WithLabelValues(source, eventType, result).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
