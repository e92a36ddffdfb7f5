package middleware

import (
	"context"
	"net/http"

	"github.com/ayo6706/marketplace-ledger/internal/observability"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// TraceMiddleware tags each request with a trace id, propagated through the
// context and the X-Trace-ID header, and opens a server span for it.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := observability.StartSpan(r.Context(), "http "+r.Method,
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		)
		defer span.End()

		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			if sc := span.SpanContext(); sc.HasTraceID() {
				traceID = sc.TraceID().String()
			} else {
				traceID = uuid.NewString()
			}
		}
		ctx = contextWithTraceID(ctx, traceID)
		w.Header().Set("X-Trace-ID", traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func contextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceContextKey, traceID)
}
