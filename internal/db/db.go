package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/marketplace-ledger/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const connectTimeout = 5 * time.Second

type options struct {
	minConns     int32
	maxConns     int32
	traceQueries bool
}

// Option tunes the pool opened by Connect.
type Option func(*options)

// WithPoolSize bounds the pool. Zero values keep the defaults.
func WithPoolSize(minConns, maxConns int32) Option {
	return func(o *options) {
		if maxConns > 0 {
			o.maxConns = maxConns
		}
		if minConns >= 0 && minConns <= o.maxConns {
			o.minConns = minConns
		}
	}
}

// WithQueryTracing emits one span per statement, named after its query.
func WithQueryTracing(enabled bool) Option {
	return func(o *options) { o.traceQueries = enabled }
}

// Connect opens the ledger's pgx pool and pings it before returning.
func Connect(ctx context.Context, dbURL string, opts ...Option) (*pgxpool.Pool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	o := options{minConns: 2, maxConns: 10}
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	cfg.MaxConns = o.maxConns
	cfg.MinConns = o.minConns
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	if o.traceQueries {
		cfg.ConnConfig.Tracer = queryTracer{}
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return pool, nil
}

// queryTracer implements pgx.QueryTracer on top of the ledger tracer.
type queryTracer struct{}

type spanKey struct{}

func (queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	ctx, span := observability.StartSpan(ctx, "db."+queryName(data.SQL),
		attribute.String("db.system", "postgresql"),
		attribute.Int("db.args", len(data.Args)),
	)
	return context.WithValue(ctx, spanKey{}, span)
}

func (queryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	span, ok := ctx.Value(spanKey{}).(trace.Span)
	if !ok {
		return
	}
	if data.Err == nil {
		span.SetAttributes(attribute.Int64("db.rows_affected", data.CommandTag.RowsAffected()))
	}
	observability.EndSpan(span, data.Err)
}

// queryName reads the "-- name: X" header carried by repository queries.
func queryName(sql string) string {
	const marker = "-- name: "
	sql = strings.TrimSpace(sql)
	if !strings.HasPrefix(sql, marker) {
		return "query"
	}
	rest := sql[len(marker):]
	if end := strings.IndexAny(rest, " \n"); end > 0 {
		return rest[:end]
	}
	return rest
}
