package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/marketplace-ledger/internal/repository"
	"github.com/google/uuid"
)

// AuditEntry is one row of the append-only audit trail. A nil Actor means
// the system acted on its own (order events, clearing).
type AuditEntry struct {
	EntityType string
	EntityID   uuid.UUID
	Actor      *uuid.UUID
	Action     string
	From       string
	To         string
	Metadata   any
}

// AuditService appends to the audit trail. Rows are never updated.
type AuditService struct {
	store QueryStore
}

func NewAuditService(store QueryStore) *AuditService {
	return &AuditService{store: store}
}

// Write appends e on qtx so it lands in the same transaction as the change.
func (s *AuditService) Write(ctx context.Context, qtx *repository.Queries, e AuditEntry) error {
	var metadata []byte
	switch m := e.Metadata.(type) {
	case nil:
	case []byte:
		metadata = m
	case map[string]any:
		if len(m) > 0 {
			metadata = mustJSON(m)
		}
	default:
		metadata = mustJSON(m)
	}

	_, err := qtx.InsertAuditLog(ctx, repository.InsertAuditLogParams{
		EntityType: e.EntityType,
		EntityID:   repository.ToPgUUID(e.EntityID),
		ActorID:    repository.ToPgUUIDPtr(e.Actor),
		Action:     e.Action,
		PrevState:  textParam(e.From),
		NextState:  textParam(e.To),
		Metadata:   metadata,
	})
	if err != nil {
		return fmt.Errorf("insert audit log for %s %s: %w", e.EntityType, e.Action, err)
	}
	return nil
}

// WriteDetached appends e in a transaction of its own, for failures whose
// main transaction already rolled back.
func (s *AuditService) WriteDetached(ctx context.Context, e AuditEntry) error {
	return s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		return s.Write(ctx, qtx, e)
	})
}

func textParam(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
