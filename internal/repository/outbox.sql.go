package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const outboxColumns = `id, event_type, aggregate_type, aggregate_id, actor_id, payload, status, attempts, last_error, published_at, created_at, updated_at`

func scanOutboxEvent(row interface{ Scan(...any) error }) (OutboxEvent, error) {
	var i OutboxEvent
	err := row.Scan(
		&i.ID,
		&i.EventType,
		&i.AggregateType,
		&i.AggregateID,
		&i.ActorID,
		&i.Payload,
		&i.Status,
		&i.Attempts,
		&i.LastError,
		&i.PublishedAt,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const insertOutboxEvent = `-- name: InsertOutboxEvent :exec
INSERT INTO outbox_events (id, event_type, aggregate_type, aggregate_id, actor_id, payload, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, 'PENDING', NOW(), NOW())
`

type InsertOutboxEventParams struct {
	ID            pgtype.UUID `json:"id"`
	EventType     string      `json:"event_type"`
	AggregateType string      `json:"aggregate_type"`
	AggregateID   pgtype.UUID `json:"aggregate_id"`
	ActorID       pgtype.UUID `json:"actor_id"`
	Payload       []byte      `json:"payload"`
}

func (q *Queries) InsertOutboxEvent(ctx context.Context, arg InsertOutboxEventParams) error {
	_, err := q.db.Exec(ctx, insertOutboxEvent,
		arg.ID,
		arg.EventType,
		arg.AggregateType,
		arg.AggregateID,
		arg.ActorID,
		arg.Payload,
	)
	return err
}

const claimOutboxEvents = `-- name: ClaimOutboxEvents :many
UPDATE outbox_events
SET status = 'PROCESSING', updated_at = NOW()
WHERE id IN (
    SELECT id
    FROM outbox_events
    WHERE status = 'PENDING'
       OR (status = 'FAILED' AND attempts < $1)
    ORDER BY created_at
    LIMIT $2
    FOR UPDATE SKIP LOCKED
)
RETURNING ` + outboxColumns + `
`

type ClaimOutboxEventsParams struct {
	MaxAttempts int32 `json:"max_attempts"`
	Limit       int32 `json:"limit"`
}

func (q *Queries) ClaimOutboxEvents(ctx context.Context, arg ClaimOutboxEventsParams) ([]OutboxEvent, error) {
	rows, err := q.db.Query(ctx, claimOutboxEvents, arg.MaxAttempts, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OutboxEvent
	for rows.Next() {
		i, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const markOutboxEventPublished = `-- name: MarkOutboxEventPublished :execrows
UPDATE outbox_events
SET status = 'PUBLISHED', attempts = attempts + 1, last_error = NULL, published_at = NOW(), updated_at = NOW()
WHERE id = $1 AND status = 'PROCESSING'
`

func (q *Queries) MarkOutboxEventPublished(ctx context.Context, id pgtype.UUID) (int64, error) {
	result, err := q.db.Exec(ctx, markOutboxEventPublished, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const markOutboxEventFailed = `-- name: MarkOutboxEventFailed :execrows
UPDATE outbox_events
SET status = 'FAILED', attempts = attempts + 1, last_error = $2, updated_at = NOW()
WHERE id = $1 AND status = 'PROCESSING'
`

type MarkOutboxEventFailedParams struct {
	ID        pgtype.UUID `json:"id"`
	LastError string      `json:"last_error"`
}

func (q *Queries) MarkOutboxEventFailed(ctx context.Context, arg MarkOutboxEventFailedParams) (int64, error) {
	result, err := q.db.Exec(ctx, markOutboxEventFailed, arg.ID, arg.LastError)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const requeueStaleOutboxEvents = `-- name: RequeueStaleOutboxEvents :execrows
UPDATE outbox_events
SET status = 'PENDING', updated_at = NOW()
WHERE status = 'PROCESSING' AND updated_at < $1
`

func (q *Queries) RequeueStaleOutboxEvents(ctx context.Context, updatedBefore pgtype.Timestamptz) (int64, error) {
	result, err := q.db.Exec(ctx, requeueStaleOutboxEvents, updatedBefore)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const countOutboxBacklog = `-- name: CountOutboxBacklog :one
SELECT COUNT(*)
FROM outbox_events
WHERE status = 'PENDING' OR (status = 'FAILED' AND attempts < $1)
`

func (q *Queries) CountOutboxBacklog(ctx context.Context, maxAttempts int32) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countOutboxBacklog, maxAttempts).Scan(&count)
	return count, err
}

const listOutboxEventsByAggregate = `-- name: ListOutboxEventsByAggregate :many
SELECT ` + outboxColumns + `
FROM outbox_events
WHERE aggregate_id = $1
ORDER BY created_at, id
`

func (q *Queries) ListOutboxEventsByAggregate(ctx context.Context, aggregateID pgtype.UUID) ([]OutboxEvent, error) {
	rows, err := q.db.Query(ctx, listOutboxEventsByAggregate, aggregateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OutboxEvent
	for rows.Next() {
		i, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
