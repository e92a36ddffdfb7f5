package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/marketplace-ledger/internal/domain"
	"github.com/ayo6706/marketplace-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const payoutEntity = "payout_request"

type payoutTransition struct {
	Next            string
	AdminNote       *string
	RejectionReason *string
	ProofReference  *string
	ActorID         *uuid.UUID
	Action          string
	Metadata        map[string]any
}

// checkPayoutTransition rejects any move the payout state machine forbids.
func checkPayoutTransition(req repository.PayoutRequest, next string) error {
	if domain.CanTransitionPayout(req.Status, next) {
		return nil
	}
	return &domain.InvalidStateTransitionError{
		Entity:   payoutEntity,
		ID:       repository.FromPgUUID(req.ID),
		Current:  req.Status,
		Required: domain.RequiredPayoutStatus(next),
		Target:   next,
	}
}

// transitionPayoutRequest moves req to t.Next only if its stored status still
// equals req.Status, then audits the change on qtx.
func transitionPayoutRequest(ctx context.Context, qtx *repository.Queries, audit *AuditService, req repository.PayoutRequest, t payoutTransition) (repository.PayoutRequest, error) {
	if err := checkPayoutTransition(req, t.Next); err != nil {
		return repository.PayoutRequest{}, err
	}
	id := repository.FromPgUUID(req.ID)

	updated, err := qtx.TransitionPayoutRequest(ctx, repository.TransitionPayoutRequestParams{
		ID:              req.ID,
		ExpectedStatus:  req.Status,
		Status:          t.Next,
		AdminNote:       t.AdminNote,
		RejectionReason: t.RejectionReason,
		ProofReference:  t.ProofReference,
		ProcessedBy:     repository.ToPgUUIDPtr(t.ActorID),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.PayoutRequest{}, &domain.ConcurrencyConflictError{Entity: payoutEntity, ID: id, Expected: req.Status}
		}
		return repository.PayoutRequest{}, fmt.Errorf("update payout request status: %w", err)
	}

	if err := audit.Write(ctx, qtx, AuditEntry{
		EntityType: payoutEntity,
		EntityID:   id,
		Actor:      t.ActorID,
		Action:     t.Action,
		From:       req.Status,
		To:         t.Next,
		Metadata:   t.Metadata,
	}); err != nil {
		return repository.PayoutRequest{}, err
	}
	return updated, nil
}
