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

const clearingLegEntity = "clearing_leg"

// ClearingEngine derives one buyer-settlement and one seller-payout leg per
// inspected order and tracks their phases.
//
// Balance effects: creating the pair debits the buyer's available balance by
// the order total. Completing the buyer leg credits it back; completing the
// seller leg debits the seller, whose funds left the platform out-of-band.
type ClearingEngine struct {
	store    QueryStore
	balances *BalanceStore
	audit    *AuditService
	events   *OutboxService
}

func NewClearingEngine(store QueryStore, balances *BalanceStore, events *OutboxService) *ClearingEngine {
	return &ClearingEngine{
		store:    store,
		balances: balances,
		audit:    NewAuditService(store),
		events:   events,
	}
}

// LegFilter narrows the leg listings. Nil fields match everything.
type LegFilter struct {
	Phase          *string
	OrganizationID *uuid.UUID
	Limit          int
	Offset         int
}

type clearingCreatedPayload struct {
	FlowID   uuid.UUID `json:"flow_id"`
	OrderID  uuid.UUID `json:"order_id"`
	BuyerID  uuid.UUID `json:"buyer_organization_id"`
	SellerID uuid.UUID `json:"seller_organization_id"`
	Amount   int64     `json:"amount"`
	Currency string    `json:"currency"`
}

type legCompletedPayload struct {
	LegID          uuid.UUID      `json:"leg_id"`
	FlowID         uuid.UUID      `json:"flow_id"`
	OrderID        uuid.UUID      `json:"order_id"`
	Leg            domain.LegKind `json:"leg"`
	OrganizationID uuid.UUID      `json:"organization_id"`
	Amount         int64          `json:"amount"`
	Currency       string         `json:"currency"`
	ProofReference *string        `json:"proof_reference,omitempty"`
	AvailableAfter int64          `json:"available_after"`
}

// CreateClearingTransactions is safe to call repeatedly: later calls return
// the existing pair without touching any balance.
func (s *ClearingEngine) CreateClearingTransactions(ctx context.Context, orderID uuid.UUID) (domain.ClearingPair, error) {
	ctx, span := observability.StartSpan(ctx, "clearing.create", observability.OrderID(orderID.String()))
	pair, err := s.createClearingTransactions(ctx, orderID)
	observability.EndSpan(span, err)
	return pair, err
}

func (s *ClearingEngine) createClearingTransactions(ctx context.Context, orderID uuid.UUID) (domain.ClearingPair, error) {
	order, err := s.store.Queries().GetOrder(ctx, repository.ToPgUUID(orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ClearingPair{}, domain.NewNotFoundError("order", orderID)
		}
		return domain.ClearingPair{}, fmt.Errorf("get order: %w", err)
	}
	if !strings.EqualFold(order.InspectionStatus, domain.InspectionStatusApproved) {
		return domain.ClearingPair{}, domain.NewValidationError("inspection_status",
			fmt.Sprintf("order %s inspection is %s, required %s", orderID, order.InspectionStatus, domain.InspectionStatusApproved))
	}
	if order.TotalAmount <= 0 {
		return domain.ClearingPair{}, domain.NewValidationError("total_amount", "must be positive")
	}

	buyerID := repository.FromPgUUID(order.BuyerOrganizationID)
	sellerID := repository.FromPgUUID(order.SellerOrganizationID)
	currency := strings.TrimSpace(order.Currency)

	var (
		pair    domain.ClearingPair
		created bool
	)
	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		flowID := uuid.New()
		existing, err := qtx.GetClearingLegsByOrder(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("get clearing legs: %w", err)
		}
		if len(existing) > 0 {
			flowID = repository.FromPgUUID(existing[0].FlowID)
		}

		buyerInserted, err := qtx.InsertClearingLeg(ctx, repository.InsertClearingLegParams{
			ID:             repository.ToPgUUID(uuid.New()),
			FlowID:         repository.ToPgUUID(flowID),
			OrderID:        order.ID,
			Leg:            string(domain.LegBuyerSettlement),
			OrganizationID: order.BuyerOrganizationID,
			Amount:         order.TotalAmount,
			Currency:       currency,
		})
		if err != nil {
			return fmt.Errorf("insert buyer settlement leg: %w", err)
		}
		if _, err := qtx.InsertClearingLeg(ctx, repository.InsertClearingLegParams{
			ID:             repository.ToPgUUID(uuid.New()),
			FlowID:         repository.ToPgUUID(flowID),
			OrderID:        order.ID,
			Leg:            string(domain.LegSellerPayout),
			OrganizationID: order.SellerOrganizationID,
			Amount:         order.TotalAmount,
			Currency:       currency,
		}); err != nil {
			return fmt.Errorf("insert seller payout leg: %w", err)
		}

		if buyerInserted == 1 {
			created = true
			if _, err := s.balances.MutateTx(ctx, qtx, MutateParams{
				OrgID:          buyerID,
				Currency:       currency,
				DeltaAvailable: -order.TotalAmount,
			}); err != nil {
				return err
			}
		}

		rows, err := qtx.GetClearingLegsByOrder(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("read clearing legs: %w", err)
		}
		pair, err = toClearingPair(rows)
		if err != nil {
			return err
		}
		if !created {
			return nil
		}

		if err := s.audit.Write(ctx, qtx, AuditEntry{
			EntityType: "order",
			EntityID:   orderID,
			Action:     "clearing_created",
			To:         string(domain.PhasePending),
			Metadata:   map[string]any{"flow_id": pair.FlowID, "amount": order.TotalAmount},
		}); err != nil {
			return err
		}
		return s.events.Emit(ctx, qtx, Event{
			Type:          domain.EventClearingCreated,
			AggregateType: "order",
			AggregateID:   orderID,
			Payload: clearingCreatedPayload{
				FlowID:   pair.FlowID,
				OrderID:  orderID,
				BuyerID:  buyerID,
				SellerID: sellerID,
				Amount:   order.TotalAmount,
				Currency: currency,
			},
		})
	})
	if err != nil {
		return domain.ClearingPair{}, err
	}

	if created {
		observability.IncrementClearingLeg(string(domain.LegBuyerSettlement), string(domain.PhasePending))
		observability.IncrementClearingLeg(string(domain.LegSellerPayout), string(domain.PhasePending))
		zap.L().Info("clearing legs created",
			zap.String("order_id", orderID.String()),
			zap.String("flow_id", pair.FlowID.String()),
			zap.Int64("amount", order.TotalAmount),
		)
	}
	return pair, nil
}

// UpdateLegPhase mirrors the order's external payment status onto one leg.
// Re-asserting the current phase is a no-op. Moving to COMPLETED applies the
// same balance effect as MarkCompleted.
func (s *ClearingEngine) UpdateLegPhase(ctx context.Context, orderID uuid.UUID, kind domain.LegKind, phase domain.Phase) (domain.ClearingLeg, error) {
	row, err := s.store.Queries().GetClearingLegByOrderAndKind(ctx, repository.GetClearingLegByOrderAndKindParams{
		OrderID: repository.ToPgUUID(orderID),
		Leg:     string(kind),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.NotFoundError{Entity: clearingLegEntity, ID: fmt.Sprintf("%s/%s", orderID, kind)}
		}
		return nil, fmt.Errorf("get clearing leg: %w", err)
	}
	leg, err := toClearingLeg(row)
	if err != nil {
		return nil, err
	}

	current := leg.Info().Phase
	if current == phase {
		return leg, nil
	}
	if !current.CanAdvance(phase) {
		return nil, phaseTransitionError(leg.Info(), phase)
	}
	if phase == domain.PhaseCompleted {
		completed, err := s.MarkCompleted(ctx, leg.Info().ID, "", nil)
		if err != nil {
			s.recordCompletionFailure(ctx, leg, err)
			return nil, err
		}
		return completed, nil
	}

	var updated domain.ClearingLeg
	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		row, err := advanceLeg(ctx, qtx, leg.Info(), phase, nil)
		if err != nil {
			return err
		}
		if updated, err = toClearingLeg(row); err != nil {
			return err
		}
		return s.audit.Write(ctx, qtx, AuditEntry{
			EntityType: clearingLegEntity,
			EntityID:   leg.Info().ID,
			Action:     "phase_updated",
			From:       string(current),
			To:         string(phase),
		})
	})
	if err != nil {
		return nil, err
	}
	observability.IncrementClearingLeg(string(kind), string(phase))
	return updated, nil
}

// recordCompletionFailure audits a permanent failure to complete a leg from
// an order event, which the consumer acks and drops. The entry is written
// outside the failed transaction.
func (s *ClearingEngine) recordCompletionFailure(ctx context.Context, leg domain.ClearingLeg, cause error) {
	info := leg.Info()
	zap.L().Error("clearing leg completion failed",
		zap.String("leg_id", info.ID.String()),
		zap.String("leg", string(leg.Kind())),
		zap.String("order_id", info.OrderID.String()),
		zap.Int64("amount", info.Amount),
		zap.Bool("permanent", domain.IsPermanent(cause)),
		zap.Error(cause),
	)
	if !domain.IsPermanent(cause) {
		return
	}
	failure := AuditEntry{
		EntityType: clearingLegEntity,
		EntityID:   info.ID,
		Action:     "completion_failed",
		From:       string(info.Phase),
		To:         string(domain.PhaseCompleted),
		Metadata: map[string]any{
			"order_id":        info.OrderID,
			"organization_id": info.OrganizationID,
			"amount":          info.Amount,
			"error":           cause.Error(),
		},
	}
	if err := s.audit.WriteDetached(ctx, failure); err != nil {
		zap.L().Warn("failed to audit clearing leg failure", zap.String("leg_id", info.ID.String()), zap.Error(err))
	}
}

// MarkCompleted moves a leg to COMPLETED and applies its balance effect.
// A seller leg requires the seller's available balance to cover the amount.
func (s *ClearingEngine) MarkCompleted(ctx context.Context, legID uuid.UUID, proof string, actorID *uuid.UUID) (domain.ClearingLeg, error) {
	ctx, span := observability.StartSpan(ctx, "clearing.mark_completed", observability.ClearingLegID(legID.String()))
	leg, err := s.markCompleted(ctx, legID, textParam(strings.TrimSpace(proof)), actorID)
	observability.EndSpan(span, err)
	return leg, err
}

func (s *ClearingEngine) markCompleted(ctx context.Context, legID uuid.UUID, proof *string, actorID *uuid.UUID) (domain.ClearingLeg, error) {
	var completed domain.ClearingLeg
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		row, err := qtx.GetClearingLeg(ctx, repository.ToPgUUID(legID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.NewNotFoundError(clearingLegEntity, legID)
			}
			return fmt.Errorf("get clearing leg: %w", err)
		}
		leg, err := toClearingLeg(row)
		if err != nil {
			return err
		}
		info := leg.Info()
		if !info.Phase.CanAdvance(domain.PhaseCompleted) {
			return phaseTransitionError(info, domain.PhaseCompleted)
		}

		// Takes the leg's row lock, so a concurrent completion fails here.
		row, err = advanceLeg(ctx, qtx, info, domain.PhaseCompleted, proof)
		if err != nil {
			return err
		}
		if completed, err = toClearingLeg(row); err != nil {
			return err
		}

		if _, ok := leg.(domain.SellerPayoutLeg); ok {
			bal, err := s.balances.GetForUpdate(ctx, qtx, info.OrganizationID)
			if err != nil {
				return err
			}
			if bal.Available < info.Amount {
				return &domain.InsufficientBalanceError{OrgID: info.OrganizationID, Available: bal.Available, Requested: info.Amount}
			}
		}
		after, err := s.balances.MutateTx(ctx, qtx, MutateParams{
			OrgID:          info.OrganizationID,
			Currency:       info.Currency,
			DeltaAvailable: domain.CompletionDeltaAvailable(leg),
		})
		if err != nil {
			return err
		}

		if err := s.audit.Write(ctx, qtx, AuditEntry{
			EntityType: clearingLegEntity,
			EntityID:   legID,
			Actor:      actorID,
			Action:     "completed",
			From:       string(info.Phase),
			To:         string(domain.PhaseCompleted),
			Metadata:   map[string]any{"proof_reference": proof, "available_after": after.Available},
		}); err != nil {
			return err
		}
		return s.events.Emit(ctx, qtx, Event{
			Type:          domain.EventClearingLegCompleted,
			AggregateType: clearingLegEntity,
			AggregateID:   legID,
			ActorID:       actorID,
			Payload: legCompletedPayload{
				LegID:          legID,
				FlowID:         info.FlowID,
				OrderID:        info.OrderID,
				Leg:            leg.Kind(),
				OrganizationID: info.OrganizationID,
				Amount:         info.Amount,
				Currency:       info.Currency,
				ProofReference: proof,
				AvailableAfter: after.Available,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	observability.IncrementClearingLeg(string(completed.Kind()), string(domain.PhaseCompleted))
	zap.L().Info("clearing leg completed",
		zap.String("leg_id", legID.String()),
		zap.String("leg", string(completed.Kind())),
		zap.String("order_id", completed.Info().OrderID.String()),
	)
	return completed, nil
}

// ListBuyerSettlements lists buyer-settlement legs, newest first.
func (s *ClearingEngine) ListBuyerSettlements(ctx context.Context, f LegFilter) (models.ClearingLegPage, error) {
	return s.list(ctx, domain.LegBuyerSettlement, f)
}

// ListFarmerPayouts lists seller-payout legs, newest first.
func (s *ClearingEngine) ListFarmerPayouts(ctx context.Context, f LegFilter) (models.ClearingLegPage, error) {
	return s.list(ctx, domain.LegSellerPayout, f)
}

func (s *ClearingEngine) list(ctx context.Context, kind domain.LegKind, f LegFilter) (models.ClearingLegPage, error) {
	limit := clampLimit(f.Limit)
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	pgOffset, err := pageOffset(int64(offset))
	if err != nil {
		return models.ClearingLegPage{}, err
	}

	var phase *string
	if f.Phase != nil && strings.TrimSpace(*f.Phase) != "" {
		p, err := domain.ParsePhase(*f.Phase)
		if err != nil {
			return models.ClearingLegPage{}, err
		}
		ps := string(p)
		phase = &ps
	}
	org := repository.ToPgUUIDPtr(f.OrganizationID)

	queries := s.store.Queries()
	rows, err := queries.ListClearingLegs(ctx, repository.ListClearingLegsParams{
		Leg:            string(kind),
		Phase:          phase,
		OrganizationID: org,
		Limit:          int32(limit),
		Offset:         pgOffset,
	})
	if err != nil {
		return models.ClearingLegPage{}, fmt.Errorf("list clearing legs: %w", err)
	}
	total, err := queries.CountClearingLegs(ctx, repository.CountClearingLegsParams{
		Leg:            string(kind),
		Phase:          phase,
		OrganizationID: org,
	})
	if err != nil {
		return models.ClearingLegPage{}, fmt.Errorf("count clearing legs: %w", err)
	}

	items := make([]domain.LegInfo, 0, len(rows))
	for _, row := range rows {
		items = append(items, toLegInfo(row))
	}
	return models.ClearingLegPage{Items: items, Limit: limit, Offset: offset, Total: total}, nil
}

func advanceLeg(ctx context.Context, qtx *repository.Queries, info domain.LegInfo, next domain.Phase, proof *string) (repository.ClearingLeg, error) {
	row, err := qtx.AdvanceClearingLegPhase(ctx, repository.AdvanceClearingLegPhaseParams{
		ID:             repository.ToPgUUID(info.ID),
		ExpectedPhase:  string(info.Phase),
		Phase:          string(next),
		ProofReference: proof,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ClearingLeg{}, &domain.ConcurrencyConflictError{Entity: clearingLegEntity, ID: info.ID, Expected: string(info.Phase)}
		}
		return repository.ClearingLeg{}, fmt.Errorf("advance clearing leg: %w", err)
	}
	return row, nil
}

func phaseTransitionError(info domain.LegInfo, target domain.Phase) error {
	required := string(domain.PhasePending)
	if target == domain.PhaseCompleted {
		required = string(domain.PhasePending) + " or " + string(domain.PhaseScheduled)
	}
	return &domain.InvalidStateTransitionError{
		Entity:   clearingLegEntity,
		ID:       info.ID,
		Current:  string(info.Phase),
		Required: required,
		Target:   string(target),
	}
}

func toLegInfo(row repository.ClearingLeg) domain.LegInfo {
	return domain.LegInfo{
		ID:             repository.FromPgUUID(row.ID),
		FlowID:         repository.FromPgUUID(row.FlowID),
		OrderID:        repository.FromPgUUID(row.OrderID),
		OrganizationID: repository.FromPgUUID(row.OrganizationID),
		Amount:         row.Amount,
		Currency:       strings.TrimSpace(row.Currency),
		Phase:          domain.Phase(row.Phase),
		ProofReference: row.ProofReference,
		CompletedAt:    repository.TimePtr(row.CompletedAt),
		CreatedAt:      row.CreatedAt.Time,
		UpdatedAt:      row.UpdatedAt.Time,
	}
}

func toClearingLeg(row repository.ClearingLeg) (domain.ClearingLeg, error) {
	kind, err := domain.ParseLegKind(row.Leg)
	if err != nil {
		return nil, fmt.Errorf("decode clearing leg %s: %w", repository.FromPgUUID(row.ID), err)
	}
	info := toLegInfo(row)
	if info.Phase, err = domain.ParsePhase(row.Phase); err != nil {
		return nil, fmt.Errorf("decode clearing leg %s: %w", info.ID, err)
	}
	return domain.NewClearingLeg(kind, info)
}

func toClearingPair(rows []repository.ClearingLeg) (domain.ClearingPair, error) {
	var (
		pair               domain.ClearingPair
		haveBuyer, haveSel bool
	)
	for _, row := range rows {
		leg, err := toClearingLeg(row)
		if err != nil {
			return domain.ClearingPair{}, err
		}
		switch l := leg.(type) {
		case domain.BuyerSettlementLeg:
			pair.Buyer, haveBuyer = l, true
		case domain.SellerPayoutLeg:
			pair.Seller, haveSel = l, true
		}
		pair.FlowID = leg.Info().FlowID
	}
	if !haveBuyer || !haveSel {
		return domain.ClearingPair{}, fmt.Errorf("clearing pair incomplete: %d legs", len(rows))
	}
	return pair, nil
}
