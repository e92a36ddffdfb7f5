package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/marketplace-ledger/internal/domain"
	"github.com/ayo6706/marketplace-ledger/internal/models"
	"github.com/ayo6706/marketplace-ledger/internal/observability"
	"github.com/ayo6706/marketplace-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// CreditOutcome describes what OnOrderDelivered did.
type CreditOutcome string

const (
	OutcomeCredited                CreditOutcome = "credited"
	OutcomeSkippedNotFulfilled     CreditOutcome = "skipped_not_fulfilled"
	OutcomeSkippedAlreadyFulfilled CreditOutcome = "skipped_already_fulfilled"
	OutcomeSkippedAlreadyCredited  CreditOutcome = "skipped_already_credited"
)

// OrderDelivered is an order's status change as reported by the order service.
type OrderDelivered struct {
	EventID        string
	OrderID        uuid.UUID
	SellerOrgID    uuid.UUID
	TotalAmount    int64
	Currency       string
	PreviousStatus string
	Status         string
	OccurredAt     time.Time
}

type orderCreditedPayload struct {
	OrderID        uuid.UUID `json:"order_id"`
	SellerOrgID    uuid.UUID `json:"seller_organization_id"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	AvailableAfter int64     `json:"available_after"`
	EventID        string    `json:"event_id,omitempty"`
}

// OrderBalanceCreditor credits a seller's available balance once per order.
type OrderBalanceCreditor struct {
	store    QueryStore
	balances *BalanceStore
	audit    *AuditService
	events   *OutboxService
}

func NewOrderBalanceCreditor(store QueryStore, balances *BalanceStore, events *OutboxService) *OrderBalanceCreditor {
	return &OrderBalanceCreditor{
		store:    store,
		balances: balances,
		audit:    NewAuditService(store),
		events:   events,
	}
}

// OnOrderDelivered credits the seller on the order's first transition into a
// fulfilled status. Redelivered events and repeated status writes are no-ops.
func (s *OrderBalanceCreditor) OnOrderDelivered(ctx context.Context, ev OrderDelivered) (CreditOutcome, error) {
	ctx, span := observability.StartSpan(ctx, "order_credit.on_delivered",
		observability.OrderID(ev.OrderID.String()),
		observability.OrganizationID(ev.SellerOrgID.String()),
	)
	outcome, err := s.onOrderDelivered(ctx, ev)
	observability.EndSpan(span, err)

	if err != nil {
		observability.IncrementOrderCredit("failed")
		s.recordFailure(ctx, ev, err)
		return "", err
	}
	observability.IncrementOrderCredit(string(outcome))
	return outcome, nil
}

func (s *OrderBalanceCreditor) onOrderDelivered(ctx context.Context, ev OrderDelivered) (CreditOutcome, error) {
	if !domain.IsFulfilledOrderStatus(ev.Status) {
		return OutcomeSkippedNotFulfilled, nil
	}
	if domain.IsFulfilledOrderStatus(ev.PreviousStatus) {
		return OutcomeSkippedAlreadyFulfilled, nil
	}
	if ev.OrderID == uuid.Nil {
		return "", domain.NewValidationError("order_id", "is required")
	}
	if ev.TotalAmount < 0 {
		return "", domain.NewValidationError("total_amount", "must not be negative")
	}

	outcome := OutcomeCredited
	var sellerID uuid.UUID
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		order, err := orderForCredit(ctx, qtx, ev)
		if err != nil {
			return err
		}
		sellerID = repository.FromPgUUID(order.SellerOrganizationID)
		currency := strings.ToUpper(strings.TrimSpace(order.Currency))
		amount := order.TotalAmount

		inserted, err := qtx.InsertOrderBalanceCredit(ctx, repository.InsertOrderBalanceCreditParams{
			OrderID:              repository.ToPgUUID(ev.OrderID),
			SellerOrganizationID: order.SellerOrganizationID,
			Amount:               amount,
			Currency:             currency,
			EventID:              textParam(ev.EventID),
		})
		if err != nil {
			return fmt.Errorf("record order balance credit: %w", err)
		}
		if inserted == 0 {
			outcome = OutcomeSkippedAlreadyCredited
			return nil
		}

		bal, err := s.balances.MutateTx(ctx, qtx, MutateParams{
			OrgID:          sellerID,
			Currency:       currency,
			DeltaAvailable: amount,
		})
		if err != nil {
			return err
		}

		if _, err := qtx.InsertOrderTimelineEntry(ctx, repository.InsertOrderTimelineEntryParams{
			ID:             repository.ToPgUUID(uuid.New()),
			OrderID:        repository.ToPgUUID(ev.OrderID),
			OrganizationID: order.SellerOrganizationID,
			Kind:           domain.TimelineKindBalanceCredited,
			Message:        fmt.Sprintf("Balance credited with %s", domain.NewMoney(amount, currency)),
			Amount:         &amount,
			Currency:       &currency,
		}); err != nil {
			return fmt.Errorf("insert order timeline entry: %w", err)
		}

		if err := s.audit.Write(ctx, qtx, AuditEntry{
			EntityType: "order",
			EntityID:   ev.OrderID,
			Action:     "order_balance_credited",
			From:       ev.PreviousStatus,
			To:         ev.Status,
			Metadata: map[string]any{
				"order_id": ev.OrderID,
				"amount":   amount,
				"event_id": ev.EventID,
			},
		}); err != nil {
			return err
		}

		return s.events.Emit(ctx, qtx, Event{
			Type:          domain.EventOrderBalanceCredited,
			AggregateType: "order",
			AggregateID:   ev.OrderID,
			Payload: orderCreditedPayload{
				OrderID:        ev.OrderID,
				SellerOrgID:    sellerID,
				Amount:         amount,
				Currency:       currency,
				AvailableAfter: bal.Available,
				EventID:        ev.EventID,
			},
		})
	})
	if err != nil {
		return "", err
	}

	zap.L().Info("order balance credit handled",
		zap.String("order_id", ev.OrderID.String()),
		zap.String("seller_organization_id", sellerID.String()),
		zap.String("outcome", string(outcome)),
	)
	return outcome, nil
}

// orderForCredit locks the order the event names and checks that the event
// agrees with it. Fields the event leaves empty are taken from the order.
func orderForCredit(ctx context.Context, qtx *repository.Queries, ev OrderDelivered) (repository.Order, error) {
	order, err := qtx.GetOrderForUpdate(ctx, repository.ToPgUUID(ev.OrderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.Order{}, domain.NewNotFoundError("order", ev.OrderID)
	}
	if err != nil {
		return repository.Order{}, fmt.Errorf("get order: %w", err)
	}

	sellerID := repository.FromPgUUID(order.SellerOrganizationID)
	switch {
	case order.TotalAmount <= 0:
		return repository.Order{}, domain.NewValidationError("total_amount", fmt.Sprintf("order %s has non-positive total %d", ev.OrderID, order.TotalAmount))
	case ev.SellerOrgID != uuid.Nil && ev.SellerOrgID != sellerID:
		return repository.Order{}, domain.NewValidationError("seller_organization_id", fmt.Sprintf("order %s belongs to seller %s", ev.OrderID, sellerID))
	case ev.TotalAmount != 0 && ev.TotalAmount != order.TotalAmount:
		return repository.Order{}, domain.NewValidationError("total_amount", fmt.Sprintf("event total %d does not match order total %d", ev.TotalAmount, order.TotalAmount))
	case strings.TrimSpace(ev.Currency) != "" && !strings.EqualFold(strings.TrimSpace(ev.Currency), strings.TrimSpace(order.Currency)):
		return repository.Order{}, domain.NewValidationError("currency", fmt.Sprintf("event currency %s does not match order currency %s", ev.Currency, order.Currency))
	}
	if err := requireOrganization(ctx, qtx, sellerID, domain.AccountTypeSeller); err != nil {
		return repository.Order{}, err
	}
	return order, nil
}

// recordFailure keeps a trace of permanent failures. The order's own status
// is owned upstream and is left untouched.
func (s *OrderBalanceCreditor) recordFailure(ctx context.Context, ev OrderDelivered, cause error) {
	zap.L().Error("order balance credit failed",
		zap.String("order_id", ev.OrderID.String()),
		zap.String("seller_organization_id", ev.SellerOrgID.String()),
		zap.Int64("amount", ev.TotalAmount),
		zap.Bool("permanent", domain.IsPermanent(cause)),
		zap.Error(cause),
	)
	if !domain.IsPermanent(cause) || ev.OrderID == uuid.Nil {
		return
	}
	failure := AuditEntry{
		EntityType: "order",
		EntityID:   ev.OrderID,
		Action:     "order_credit_failed",
		From:       ev.PreviousStatus,
		To:         ev.Status,
		Metadata: map[string]any{
			"seller_organization_id": ev.SellerOrgID,
			"amount":                 ev.TotalAmount,
			"event_id":               ev.EventID,
			"error":                  cause.Error(),
		},
	}
	if err := s.audit.WriteDetached(ctx, failure); err != nil {
		zap.L().Warn("failed to audit order credit failure", zap.String("order_id", ev.OrderID.String()), zap.Error(err))
	}
}

// Timeline lists an order's ledger timeline entries, oldest first.
func (s *OrderBalanceCreditor) Timeline(ctx context.Context, orderID uuid.UUID) ([]models.TimelineEntry, error) {
	rows, err := s.store.Queries().ListOrderTimeline(ctx, repository.ToPgUUID(orderID))
	if err != nil {
		return nil, fmt.Errorf("list order timeline: %w", err)
	}
	out := make([]models.TimelineEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.TimelineEntry{
			ID:             repository.FromPgUUID(row.ID),
			OrderID:        repository.FromPgUUID(row.OrderID),
			OrganizationID: repository.FromPgUUID(row.OrganizationID),
			Kind:           row.Kind,
			Message:        row.Message,
			Amount:         row.Amount,
			Currency:       row.Currency,
			CreatedAt:      row.CreatedAt.Time,
		})
	}
	return out, nil
}
