package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/marketplace-ledger/internal/domain"
	"github.com/ayo6706/marketplace-ledger/internal/models"
	"github.com/ayo6706/marketplace-ledger/internal/observability"
	"github.com/ayo6706/marketplace-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// PayoutRequestService runs the seller payout workflow:
// PENDING -> APPROVED -> COMPLETED, or PENDING -> REJECTED.
// Funds leave the available balance only on completion.
type PayoutRequestService struct {
	store    QueryStore
	balances *BalanceStore
	audit    *AuditService
	events   *OutboxService
}

func NewPayoutRequestService(store QueryStore, balances *BalanceStore, events *OutboxService) *PayoutRequestService {
	return &PayoutRequestService{
		store:    store,
		balances: balances,
		audit:    NewAuditService(store),
		events:   events,
	}
}

type CreatePayoutInput struct {
	SellerOrgID uuid.UUID
	Amount      int64
	Note        *string
	ActorID     *uuid.UUID
}

// PayoutFilter narrows List. Nil fields match everything.
type PayoutFilter struct {
	Status      *string
	SellerOrgID *uuid.UUID
	Limit       int
	Offset      int
}

type payoutEventPayload struct {
	PayoutRequestID uuid.UUID `json:"payout_request_id"`
	SellerOrgID     uuid.UUID `json:"seller_organization_id"`
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	Status          string    `json:"status"`
	AdminNote       *string   `json:"admin_note,omitempty"`
	RejectionReason *string   `json:"rejection_reason,omitempty"`
	ProofReference  *string   `json:"proof_reference,omitempty"`
	AvailableAfter  *int64    `json:"available_after,omitempty"`
}

// Create opens a PENDING request. Funds are not checked here.
func (s *PayoutRequestService) Create(ctx context.Context, in CreatePayoutInput) (models.PayoutRequest, error) {
	if in.Amount <= 0 {
		return models.PayoutRequest{}, domain.NewValidationError("amount", "must be positive")
	}
	if err := requireOrganization(ctx, s.store.Queries(), in.SellerOrgID, domain.AccountTypeSeller); err != nil {
		return models.PayoutRequest{}, err
	}
	note := trimmedPtr(in.Note)

	var created repository.PayoutRequest
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		currency, err := s.balances.CurrencyOf(ctx, qtx, in.SellerOrgID)
		if err != nil {
			return err
		}
		created, err = qtx.InsertPayoutRequest(ctx, repository.InsertPayoutRequestParams{
			ID:                   repository.ToPgUUID(uuid.New()),
			SellerOrganizationID: repository.ToPgUUID(in.SellerOrgID),
			Amount:               in.Amount,
			Currency:             currency,
			Note:                 note,
		})
		if err != nil {
			return fmt.Errorf("insert payout request: %w", err)
		}
		id := repository.FromPgUUID(created.ID)
		if err := s.audit.Write(ctx, qtx, AuditEntry{
			EntityType: payoutEntity,
			EntityID:   id,
			Actor:      in.ActorID,
			Action:     "created",
			To:         domain.PayoutStatusPending,
		}); err != nil {
			return err
		}
		return s.events.Emit(ctx, qtx, Event{
			Type:          domain.EventPayoutRequested,
			AggregateType: payoutEntity,
			AggregateID:   id,
			ActorID:       in.ActorID,
			Payload:       newPayoutEventPayload(created, nil),
		})
	})
	if err != nil {
		return models.PayoutRequest{}, err
	}

	zap.L().Info("payout requested",
		zap.String("payout_id", repository.FromPgUUID(created.ID).String()),
		zap.String("seller_organization_id", in.SellerOrgID.String()),
		zap.Int64("amount", in.Amount),
	)
	s.afterTransition(ctx, domain.PayoutStatusPending)
	return toPayoutRequest(created), nil
}

// Approve moves a PENDING request to APPROVED after re-reading the seller's
// available balance. The balance itself is not touched.
func (s *PayoutRequestService) Approve(ctx context.Context, id uuid.UUID, adminNote *string, actorID *uuid.UUID) (models.PayoutRequest, error) {
	ctx, span := observability.StartSpan(ctx, "payout.approve", observability.PayoutRequestID(id.String()))
	out, err := s.approve(ctx, id, trimmedPtr(adminNote), actorID)
	observability.EndSpan(span, err)
	return out, err
}

func (s *PayoutRequestService) approve(ctx context.Context, id uuid.UUID, adminNote *string, actorID *uuid.UUID) (models.PayoutRequest, error) {
	req, err := s.load(ctx, s.store.Queries(), id)
	if err != nil {
		return models.PayoutRequest{}, err
	}
	if err := checkPayoutTransition(req, domain.PayoutStatusApproved); err != nil {
		return models.PayoutRequest{}, err
	}

	sellerID := repository.FromPgUUID(req.SellerOrganizationID)
	bal, err := s.balances.Get(ctx, sellerID)
	if err != nil {
		return models.PayoutRequest{}, err
	}
	if bal.Available < req.Amount {
		return models.PayoutRequest{}, &domain.InsufficientBalanceError{OrgID: sellerID, Available: bal.Available, Requested: req.Amount}
	}

	var updated repository.PayoutRequest
	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		updated, err = transitionPayoutRequest(ctx, qtx, s.audit, req, payoutTransition{
			Next:      domain.PayoutStatusApproved,
			AdminNote: adminNote,
			ActorID:   actorID,
			Action:    "approved",
			Metadata:  map[string]any{"available": bal.Available, "amount": req.Amount},
		})
		if err != nil {
			return err
		}
		return s.events.Emit(ctx, qtx, Event{
			Type:          domain.EventPayoutApproved,
			AggregateType: payoutEntity,
			AggregateID:   id,
			ActorID:       actorID,
			Payload:       newPayoutEventPayload(updated, nil),
		})
	})
	if err != nil {
		return models.PayoutRequest{}, err
	}

	zap.L().Info("payout approved", zap.String("payout_id", id.String()), zap.Int64("amount", req.Amount))
	s.afterTransition(ctx, domain.PayoutStatusApproved)
	return toPayoutRequest(updated), nil
}

// Reject moves a PENDING request to REJECTED. reason is required.
func (s *PayoutRequestService) Reject(ctx context.Context, id uuid.UUID, reason string, adminNote *string, actorID *uuid.UUID) (models.PayoutRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return models.PayoutRequest{}, domain.NewValidationError("reason", "is required")
	}
	adminNote = trimmedPtr(adminNote)

	var updated repository.PayoutRequest
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		req, err := s.load(ctx, qtx, id)
		if err != nil {
			return err
		}
		updated, err = transitionPayoutRequest(ctx, qtx, s.audit, req, payoutTransition{
			Next:            domain.PayoutStatusRejected,
			AdminNote:       adminNote,
			RejectionReason: &reason,
			ActorID:         actorID,
			Action:          "rejected",
			Metadata:        map[string]any{"reason": reason},
		})
		if err != nil {
			return err
		}
		return s.events.Emit(ctx, qtx, Event{
			Type:          domain.EventPayoutRejected,
			AggregateType: payoutEntity,
			AggregateID:   id,
			ActorID:       actorID,
			Payload:       newPayoutEventPayload(updated, nil),
		})
	})
	if err != nil {
		return models.PayoutRequest{}, err
	}

	zap.L().Info("payout rejected", zap.String("payout_id", id.String()), zap.String("reason", reason))
	s.afterTransition(ctx, domain.PayoutStatusRejected)
	return toPayoutRequest(updated), nil
}

// Complete deducts the amount from the seller's available balance and marks
// the request COMPLETED in one transaction. The balance row stays locked
// between the sufficiency check and the deduction.
func (s *PayoutRequestService) Complete(ctx context.Context, id uuid.UUID, proofRef string, adminNote *string, actorID *uuid.UUID) (models.PayoutRequest, error) {
	ctx, span := observability.StartSpan(ctx, "payout.complete", observability.PayoutRequestID(id.String()))
	out, err := s.complete(ctx, id, strings.TrimSpace(proofRef), trimmedPtr(adminNote), actorID)
	observability.EndSpan(span, err)
	return out, err
}

func (s *PayoutRequestService) complete(ctx context.Context, id uuid.UUID, proofRef string, adminNote *string, actorID *uuid.UUID) (models.PayoutRequest, error) {
	if proofRef == "" {
		return models.PayoutRequest{}, domain.NewValidationError("proof_reference", "is required")
	}

	var updated repository.PayoutRequest
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		req, err := s.load(ctx, qtx, id)
		if err != nil {
			return err
		}
		if err := checkPayoutTransition(req, domain.PayoutStatusCompleted); err != nil {
			return err
		}

		sellerID := repository.FromPgUUID(req.SellerOrganizationID)
		bal, err := s.balances.GetForUpdate(ctx, qtx, sellerID)
		if err != nil {
			return err
		}
		if bal.Available < req.Amount {
			return &domain.InsufficientBalanceError{OrgID: sellerID, Available: bal.Available, Requested: req.Amount}
		}

		after, err := s.balances.MutateTx(ctx, qtx, MutateParams{
			OrgID:          sellerID,
			Currency:       req.Currency,
			DeltaAvailable: -req.Amount,
		})
		if err != nil {
			return err
		}

		updated, err = transitionPayoutRequest(ctx, qtx, s.audit, req, payoutTransition{
			Next:           domain.PayoutStatusCompleted,
			AdminNote:      adminNote,
			ProofReference: &proofRef,
			ActorID:        actorID,
			Action:         "completed",
			Metadata: map[string]any{
				"proof_reference":  proofRef,
				"available_before": bal.Available,
				"available_after":  after.Available,
			},
		})
		if err != nil {
			return err
		}
		return s.events.Emit(ctx, qtx, Event{
			Type:          domain.EventPayoutCompleted,
			AggregateType: payoutEntity,
			AggregateID:   id,
			ActorID:       actorID,
			Payload:       newPayoutEventPayload(updated, &after.Available),
		})
	})
	if err != nil {
		return models.PayoutRequest{}, err
	}

	zap.L().Info("payout completed",
		zap.String("payout_id", id.String()),
		zap.Int64("amount", updated.Amount),
		zap.String("proof_reference", proofRef),
	)
	s.afterTransition(ctx, domain.PayoutStatusCompleted)
	return toPayoutRequest(updated), nil
}

func (s *PayoutRequestService) Get(ctx context.Context, id uuid.UUID) (models.PayoutRequest, error) {
	req, err := s.load(ctx, s.store.Queries(), id)
	if err != nil {
		return models.PayoutRequest{}, err
	}
	return toPayoutRequest(req), nil
}

// List returns requests newest first.
func (s *PayoutRequestService) List(ctx context.Context, f PayoutFilter) (models.PayoutRequestPage, error) {
	limit := clampLimit(f.Limit)
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	pgOffset, err := pageOffset(int64(offset))
	if err != nil {
		return models.PayoutRequestPage{}, err
	}

	var status *string
	if f.Status != nil && strings.TrimSpace(*f.Status) != "" {
		st := strings.ToUpper(strings.TrimSpace(*f.Status))
		if !domain.IsValidPayoutStatus(st) {
			return models.PayoutRequestPage{}, domain.NewValidationError("status", fmt.Sprintf("unknown payout status %q", *f.Status))
		}
		status = &st
	}
	seller := repository.ToPgUUIDPtr(f.SellerOrgID)

	queries := s.store.Queries()
	rows, err := queries.ListPayoutRequests(ctx, repository.ListPayoutRequestsParams{
		Status:               status,
		SellerOrganizationID: seller,
		Limit:                int32(limit),
		Offset:               pgOffset,
	})
	if err != nil {
		return models.PayoutRequestPage{}, fmt.Errorf("list payout requests: %w", err)
	}
	total, err := queries.CountPayoutRequests(ctx, repository.CountPayoutRequestsParams{
		Status:               status,
		SellerOrganizationID: seller,
	})
	if err != nil {
		return models.PayoutRequestPage{}, fmt.Errorf("count payout requests: %w", err)
	}

	items := make([]models.PayoutRequest, 0, len(rows))
	for _, row := range rows {
		items = append(items, toPayoutRequest(row))
	}
	return models.PayoutRequestPage{Items: items, Limit: limit, Offset: offset, Total: total}, nil
}

func (s *PayoutRequestService) load(ctx context.Context, q *repository.Queries, id uuid.UUID) (repository.PayoutRequest, error) {
	req, err := q.GetPayoutRequest(ctx, repository.ToPgUUID(id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.PayoutRequest{}, domain.NewNotFoundError(payoutEntity, id)
		}
		return repository.PayoutRequest{}, fmt.Errorf("get payout request: %w", err)
	}
	return req, nil
}

func (s *PayoutRequestService) afterTransition(ctx context.Context, status string) {
	observability.IncrementPayoutTransition(status)
	pending := domain.PayoutStatusPending
	count, err := s.store.Queries().CountPayoutRequests(ctx, repository.CountPayoutRequestsParams{Status: &pending})
	if err != nil {
		zap.L().Warn("failed to count pending payout requests", zap.Error(err))
		return
	}
	observability.SetPendingPayouts(count)
}

func newPayoutEventPayload(req repository.PayoutRequest, availableAfter *int64) payoutEventPayload {
	return payoutEventPayload{
		PayoutRequestID: repository.FromPgUUID(req.ID),
		SellerOrgID:     repository.FromPgUUID(req.SellerOrganizationID),
		Amount:          req.Amount,
		Currency:        strings.TrimSpace(req.Currency),
		Status:          req.Status,
		AdminNote:       req.AdminNote,
		RejectionReason: req.RejectionReason,
		ProofReference:  req.ProofReference,
		AvailableAfter:  availableAfter,
	}
}

func toPayoutRequest(row repository.PayoutRequest) models.PayoutRequest {
	return models.PayoutRequest{
		ID:                   repository.FromPgUUID(row.ID),
		SellerOrganizationID: repository.FromPgUUID(row.SellerOrganizationID),
		Amount:               row.Amount,
		Currency:             strings.TrimSpace(row.Currency),
		Status:               row.Status,
		Note:                 row.Note,
		AdminNote:            row.AdminNote,
		RejectionReason:      row.RejectionReason,
		ProofReference:       row.ProofReference,
		ProcessedBy:          repository.FromPgUUIDPtr(row.ProcessedBy),
		RequestedAt:          row.RequestedAt.Time,
		ProcessedAt:          repository.TimePtr(row.ProcessedAt),
		CompletedAt:          repository.TimePtr(row.CompletedAt),
		UpdatedAt:            row.UpdatedAt.Time,
	}
}
