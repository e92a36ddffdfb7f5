package middleware

import (
	"net/http"
	"time"

	"github.com/ayo6706/marketplace-ledger/internal/observability"
	"github.com/go-chi/chi/v5"
)

// MetricsMiddleware observes request latency labelled by chi route pattern.
// Requests that match no route share one label to keep cardinality bounded.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		observability.ObserveHTTP(r.Method, metricsRoute(r), rw.status, time.Since(start))
	})
}

func metricsRoute(r *http.Request) string {
	if pattern := routePattern(r); pattern != "" {
		return pattern
	}
	return "unmatched"
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}
