package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ayo6706/marketplace-ledger/internal/observability"
	"github.com/ayo6706/marketplace-ledger/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Publisher delivers one encoded event to the broker under routingKey.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// Event is a domain event recorded in the outbox.
type Event struct {
	Type          string
	AggregateType string
	AggregateID   uuid.UUID
	ActorID       *uuid.UUID
	Payload       any
}

// EventEnvelope is the wire form published to the ledger_events exchange.
type EventEnvelope struct {
	ID            uuid.UUID       `json:"id"`
	Type          string          `json:"type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	ActorID       *uuid.UUID      `json:"actor_id,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

const staleOutboxRecoveryWindow = 2 * time.Minute

// OutboxService records events inside mutating transactions and later
// relays them to a Publisher.
type OutboxService struct {
	store       QueryStore
	publisher   Publisher
	maxAttempts int32
}

func NewOutboxService(store QueryStore, publisher Publisher, maxAttempts int32) *OutboxService {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &OutboxService{store: store, publisher: publisher, maxAttempts: maxAttempts}
}

// Emit appends ev to the outbox on qtx.
func (s *OutboxService) Emit(ctx context.Context, qtx *repository.Queries, ev Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", ev.Type, err)
	}
	if err := qtx.InsertOutboxEvent(ctx, repository.InsertOutboxEventParams{
		ID:            repository.ToPgUUID(uuid.New()),
		EventType:     ev.Type,
		AggregateType: ev.AggregateType,
		AggregateID:   repository.ToPgUUID(ev.AggregateID),
		ActorID:       repository.ToPgUUIDPtr(ev.ActorID),
		Payload:       payload,
	}); err != nil {
		return fmt.Errorf("insert outbox event %s: %w", ev.Type, err)
	}
	return nil
}

// Dispatch publishes up to batchSize pending events. A publish failure
// marks the row FAILED for a later attempt and does not stop the batch.
// It returns the number of events published.
func (s *OutboxService) Dispatch(ctx context.Context, batchSize int32) (int, error) {
	queries := s.store.Queries()

	recovered, err := queries.RequeueStaleOutboxEvents(ctx, repository.ToPgTimestamptz(time.Now().Add(-staleOutboxRecoveryWindow)))
	if err != nil {
		return 0, fmt.Errorf("requeue stale outbox events: %w", err)
	}
	if recovered > 0 {
		zap.L().Warn("requeued stale outbox events", zap.Int64("count", recovered))
	}

	events, err := queries.ClaimOutboxEvents(ctx, repository.ClaimOutboxEventsParams{
		MaxAttempts: s.maxAttempts,
		Limit:       batchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("claim outbox events: %w", err)
	}

	published := 0
	for _, ev := range events {
		eventID := repository.FromPgUUID(ev.ID)
		body, err := json.Marshal(EventEnvelope{
			ID:            eventID,
			Type:          ev.EventType,
			AggregateType: ev.AggregateType,
			AggregateID:   repository.FromPgUUID(ev.AggregateID),
			ActorID:       repository.FromPgUUIDPtr(ev.ActorID),
			OccurredAt:    ev.CreatedAt.Time,
			Payload:       json.RawMessage(ev.Payload),
		})
		if err == nil {
			err = s.publisher.Publish(ctx, ev.EventType, body)
		}
		if err != nil {
			observability.IncrementOutboxPublish("failed")
			zap.L().Warn("outbox publish failed",
				zap.String("event_id", eventID.String()),
				zap.String("event_type", ev.EventType),
				zap.Int32("attempts", ev.Attempts+1),
				zap.Error(err),
			)
			rows, markErr := queries.MarkOutboxEventFailed(ctx, repository.MarkOutboxEventFailedParams{
				ID:        ev.ID,
				LastError: err.Error(),
			})
			if markErr == nil {
				markErr = requireExactlyOne(rows, "mark outbox event failed")
			}
			if markErr != nil {
				zap.L().Error("failed to record outbox failure", zap.String("event_id", eventID.String()), zap.Error(markErr))
			}
			continue
		}

		rows, err := queries.MarkOutboxEventPublished(ctx, ev.ID)
		if err == nil {
			err = requireExactlyOne(rows, "mark outbox event published")
		}
		if err != nil {
			zap.L().Error("failed to mark outbox event published", zap.String("event_id", eventID.String()), zap.Error(err))
			continue
		}
		observability.IncrementOutboxPublish("published")
		published++
	}

	if backlog, err := queries.CountOutboxBacklog(ctx, s.maxAttempts); err == nil {
		observability.SetOutboxBacklog(backlog)
	}
	return published, nil
}
