package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/marketplace-ledger/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrInvalidSignature = errors.New("invalid signature")

// OrderEvent is the envelope the order service publishes on the
// order_events exchange and posts to the webhook. Fields beyond the first
// four depend on Type.
type OrderEvent struct {
	EventID    string    `json:"event_id"`
	Type       string    `json:"type"`
	OrderID    string    `json:"order_id"`
	OccurredAt time.Time `json:"occurred_at"`

	// order.delivered
	SellerOrganizationID string `json:"seller_organization_id,omitempty"`
	TotalAmount          int64  `json:"total_amount,omitempty"`
	Currency             string `json:"currency,omitempty"`
	PreviousStatus       string `json:"previous_status,omitempty"`
	Status               string `json:"status,omitempty"`

	// order.payment_status_changed
	Leg   string `json:"leg,omitempty"`
	Phase string `json:"phase,omitempty"`
}

// OrderEventResult reports how an event was handled.
type OrderEventResult struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Outcome string `json:"outcome"`
}

// OrderEventService routes order lifecycle events to the ledger components.
// Every handler is idempotent, so redelivery is safe.
type OrderEventService struct {
	creditor *OrderBalanceCreditor
	clearing *ClearingEngine
	hmacKey  []byte
	skipSig  bool
}

func NewOrderEventService(creditor *OrderBalanceCreditor, clearing *ClearingEngine, hmacKey string, skipSignature bool) *OrderEventService {
	return &OrderEventService{
		creditor: creditor,
		clearing: clearing,
		hmacKey:  []byte(hmacKey),
		skipSig:  skipSignature,
	}
}

// Verify checks a "sha256=<hex>" HMAC signature over payload.
func (s *OrderEventService) Verify(payload []byte, signature string) error {
	if s.skipSig {
		return nil
	}
	if len(s.hmacKey) == 0 {
		return ErrInvalidSignature
	}

	h := hmac.New(sha256.New, s.hmacKey)
	h.Write(payload)
	expectedSig := "sha256=" + hex.EncodeToString(h.Sum(nil))

	if !hmac.Equal([]byte(strings.TrimSpace(signature)), []byte(expectedSig)) {
		return ErrInvalidSignature
	}
	return nil
}

// DecodeOrderEvent parses and validates the common envelope fields.
func DecodeOrderEvent(payload []byte) (OrderEvent, uuid.UUID, error) {
	var ev OrderEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return OrderEvent{}, uuid.Nil, domain.NewValidationError("payload", fmt.Sprintf("invalid JSON: %v", err))
	}
	ev.Type = strings.ToLower(strings.TrimSpace(ev.Type))
	ev.EventID = strings.TrimSpace(ev.EventID)
	if ev.Type == "" {
		return OrderEvent{}, uuid.Nil, domain.NewValidationError("type", "is required")
	}
	orderID, err := uuid.Parse(strings.TrimSpace(ev.OrderID))
	if err != nil {
		return OrderEvent{}, uuid.Nil, domain.NewValidationError("order_id", "must be a UUID")
	}
	return ev, orderID, nil
}

// Handle decodes payload and dispatches it by type. Unknown types are
// ignored so that new upstream events do not block the queue.
func (s *OrderEventService) Handle(ctx context.Context, payload []byte) (OrderEventResult, error) {
	ev, orderID, err := DecodeOrderEvent(payload)
	if err != nil {
		return OrderEventResult{}, err
	}
	result := OrderEventResult{EventID: ev.EventID, Type: ev.Type}

	switch ev.Type {
	case domain.OrderEventDelivered:
		var sellerID uuid.UUID
		if raw := strings.TrimSpace(ev.SellerOrganizationID); raw != "" {
			if sellerID, err = uuid.Parse(raw); err != nil {
				return result, domain.NewValidationError("seller_organization_id", "must be a UUID")
			}
		}
		outcome, err := s.creditor.OnOrderDelivered(ctx, OrderDelivered{
			EventID:        ev.EventID,
			OrderID:        orderID,
			SellerOrgID:    sellerID,
			TotalAmount:    ev.TotalAmount,
			Currency:       ev.Currency,
			PreviousStatus: ev.PreviousStatus,
			Status:         ev.Status,
			OccurredAt:     ev.OccurredAt,
		})
		if err != nil {
			return result, err
		}
		result.Outcome = string(outcome)

	case domain.OrderEventInspectionApproved:
		pair, err := s.clearing.CreateClearingTransactions(ctx, orderID)
		if err != nil {
			return result, err
		}
		result.Outcome = "clearing_flow:" + pair.FlowID.String()

	case domain.OrderEventPaymentStatusChanged:
		kind, err := domain.ParseLegKind(ev.Leg)
		if err != nil {
			return result, err
		}
		phase, err := domain.ParsePhase(ev.Phase)
		if err != nil {
			return result, err
		}
		leg, err := s.clearing.UpdateLegPhase(ctx, orderID, kind, phase)
		if err != nil {
			return result, err
		}
		result.Outcome = "phase:" + string(leg.Info().Phase)

	default:
		zap.L().Warn("ignoring unknown order event", zap.String("type", ev.Type), zap.String("event_id", ev.EventID))
		result.Outcome = "ignored"
	}
	return result, nil
}
