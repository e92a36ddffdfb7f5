// Package idempotency stores the outcome of mutating ledger requests under
// their client-supplied key, so retries of a payout, adjustment or leg
// completion replay the first answer instead of moving money twice.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/marketplace-ledger/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrNotFound     = errors.New("idempotency key not found")
	ErrHashMismatch = errors.New("idempotency key reused for a different request")
	ErrInProgress   = errors.New("idempotency key in progress")
)

const (
	redisKeyPrefix = "ledger:idempotency:"

	SourceRedis    = "redis"
	SourcePostgres = "postgres"

	defaultMaxWait = 10 * time.Second
)

// Record is a finished response stored under a key. ServedBy says which
// tier answered.
type Record struct {
	Key         string `json:"key"`
	RequestHash string `json:"hash"`
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
	ContentType string `json:"content_type"`
	ServedBy    string `json:"-"`
}

// Store keeps reservations in Postgres, which is authoritative, and caches
// finished records in Redis for ttl. A nil Redis client disables the cache.
type Store struct {
	redis     redis.Cmdable
	queries   *repository.Queries
	ttl       time.Duration
	waitEvery time.Duration
	maxWait   time.Duration
}

func NewStore(rdb redis.Cmdable, db repository.DBTX, ttl time.Duration) *Store {
	return &Store{
		redis:     rdb,
		queries:   repository.New(db),
		ttl:       ttl,
		waitEvery: 50 * time.Millisecond,
		maxWait:   defaultMaxWait,
	}
}

// ScopedKey prefixes key with the caller, so two users sending the same
// key never see each other's responses.
func ScopedKey(actor, key string) string {
	if actor == "" {
		return key
	}
	return actor + ":" + key
}

// Lookup returns the finished record for key. Errors are ErrNotFound,
// ErrHashMismatch when key belongs to another request, and ErrInProgress
// while the first request is still running.
func (s *Store) Lookup(ctx context.Context, key, requestHash string) (*Record, error) {
	if rec := s.cached(ctx, key); rec != nil {
		if rec.RequestHash != requestHash {
			return nil, ErrHashMismatch
		}
		return rec, nil
	}

	row, err := s.queries.GetIdempotencyKey(ctx, key)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	case row.RequestHash != requestHash:
		return nil, ErrHashMismatch
	case row.InProgress:
		return nil, ErrInProgress
	}

	rec := recordFromRow(row)
	s.cache(ctx, rec)
	return rec, nil
}

// Reserve claims key for this request. False means someone else holds or
// already finished it.
func (s *Store) Reserve(ctx context.Context, key, requestHash, method, path string) (bool, error) {
	_, err := s.queries.ReserveIdempotencyKey(ctx, repository.ReserveIdempotencyKeyParams{
		IdempotencyKey: key,
		RequestHash:    requestHash,
		Method:         method,
		Path:           path,
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	return true, nil
}

// Finalize records the response for a reserved key and caches it.
func (s *Store) Finalize(ctx context.Context, key, requestHash string, status int, body []byte, contentType string) (*Record, error) {
	row, err := s.queries.FinalizeIdempotencyKey(ctx, repository.FinalizeIdempotencyKeyParams{
		ResponseStatus: int32(status),
		ResponseBody:   body,
		ContentType:    contentType,
		IdempotencyKey: key,
		RequestHash:    requestHash,
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finalize idempotency key: %w", err)
	}
	rec := recordFromRow(row)
	s.cache(ctx, rec)
	return rec, nil
}

// Release drops an unfinished reservation so the client may retry.
func (s *Store) Release(ctx context.Context, key, requestHash string) error {
	if err := s.queries.ReleaseIdempotencyKey(ctx, repository.ReleaseIdempotencyKeyParams{
		IdempotencyKey: key,
		RequestHash:    requestHash,
	}); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// WaitForCompletion polls until the request holding key finishes, ctx ends,
// or maxWait passes. It then returns what Lookup returns.
func (s *Store) WaitForCompletion(ctx context.Context, key, requestHash string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.maxWait)
	defer cancel()

	ticker := time.NewTicker(s.waitEvery)
	defer ticker.Stop()
	for {
		rec, err := s.Lookup(ctx, key, requestHash)
		if !errors.Is(err, ErrInProgress) {
			return rec, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for idempotency key: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Purge deletes keys whose ttl ran out. Redis expires its copies itself.
func (s *Store) Purge(ctx context.Context) error {
	cutoff := pgtype.Timestamptz{Time: time.Now().Add(-s.ttl), Valid: true}
	n, err := s.queries.PurgeIdempotencyKeys(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purge idempotency keys: %w", err)
	}
	if n > 0 {
		zap.L().Info("purged expired idempotency keys", zap.Int64("count", n))
	}
	return nil
}

func recordFromRow(row repository.IdempotencyKey) *Record {
	return &Record{
		Key:         row.IdempotencyKey,
		RequestHash: row.RequestHash,
		Status:      int(row.ResponseStatus),
		Body:        row.ResponseBody,
		ContentType: row.ContentType,
		ServedBy:    SourcePostgres,
	}
}

// cached returns nil on a miss. Redis failures degrade to a miss.
func (s *Store) cached(ctx context.Context, key string) *Record {
	if s.redis == nil {
		return nil
	}
	raw, err := s.redis.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.L().Warn("redis idempotency lookup failed", zap.String("key", key), zap.Error(err))
		}
		return nil
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		zap.L().Warn("corrupt idempotency cache entry", zap.String("key", key), zap.Error(err))
		return nil
	}
	rec.ServedBy = SourceRedis
	return &rec
}

func (s *Store) cache(ctx context.Context, rec *Record) {
	if s.redis == nil {
		return
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		zap.L().Warn("marshal idempotency cache entry", zap.Error(err))
		return
	}
	if err := s.redis.Set(ctx, redisKey(rec.Key), raw, s.ttl).Err(); err != nil {
		zap.L().Warn("redis idempotency cache set failed", zap.String("key", rec.Key), zap.Error(err))
	}
}

func redisKey(key string) string {
	return redisKeyPrefix + key
}
