package repository

import (
	"context"
	"fmt"

	"github.com/ayo6706/marketplace-ledger/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
)

var (
	writeTx    = pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite}
	snapshotTx = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
)

// Store scopes ledger queries to the pool or to a single transaction.
// Balance rows are serialized with SELECT ... FOR UPDATE inside write
// transactions, so read committed is enough there.
type Store struct {
	pool    *pgxpool.Pool
	queries *Queries
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, queries: New(pool)}
}

// Queries returns the query set bound to the pool.
func (s *Store) Queries() *Queries {
	return s.queries
}

// RunInTx runs fn in a read-write transaction and commits when it returns
// nil. Any error, or a panic, rolls everything back.
func (s *Store) RunInTx(ctx context.Context, fn func(q *Queries) error) error {
	return s.run(ctx, "write", writeTx, fn)
}

// RunReadOnly runs fn against a single repeatable-read snapshot.
func (s *Store) RunReadOnly(ctx context.Context, fn func(q *Queries) error) error {
	return s.run(ctx, "snapshot", snapshotTx, fn)
}

func (s *Store) run(ctx context.Context, kind string, opts pgx.TxOptions, fn func(q *Queries) error) (err error) {
	ctx, span := observability.StartSpan(ctx, "db.tx", attribute.String("db.tx.kind", kind))
	defer func() { observability.EndSpan(span, err) }()

	tx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin %s transaction: %w", kind, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err = fn(s.queries.WithTx(tx)); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit %s transaction: %w", kind, err)
	}
	return nil
}
