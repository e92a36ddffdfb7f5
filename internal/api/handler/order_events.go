package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/ayo6706/marketplace-ledger/internal/domain"
	"github.com/ayo6706/marketplace-ledger/internal/observability"
	"github.com/ayo6706/marketplace-ledger/internal/service"
	"go.uber.org/zap"
)

const maxOrderEventBody = 1 << 20

// OrderEventHandler receives order events pushed over HTTP by the order
// service. It shares OrderEventService with the AMQP consumer.
type OrderEventHandler struct {
	events *service.OrderEventService
}

func NewOrderEventHandler(events *service.OrderEventService) *OrderEventHandler {
	return &OrderEventHandler{events: events}
}

// Receive handles POST /v1/webhooks/order-events.
// The body must be signed with "X-Signature: sha256=<hex hmac>".
func (h *OrderEventHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxOrderEventBody))
	if err != nil {
		zap.L().Error("read order event body failed", zap.Error(err))
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}

	if err := h.events.Verify(body, r.Header.Get("X-Signature")); err != nil {
		observability.IncrementOrderEvent("webhook", "unknown", "invalid_signature")
		RespondError(w, r, http.StatusUnauthorized, "webhook/invalid-signature", "Invalid signature")
		return
	}

	result, err := h.events.Handle(r.Context(), body)
	if err != nil {
		observability.IncrementOrderEvent("webhook", result.Type, "failed")
		if errors.Is(err, domain.ErrValidation) {
			RespondError(w, r, http.StatusBadRequest, "webhook/invalid-event", err.Error())
			return
		}
		respondServiceError(w, r, err, "webhook/processing-failed", "Failed to process order event")
		return
	}

	observability.IncrementOrderEvent("webhook", result.Type, "processed")
	RespondJSON(w, http.StatusOK, result)
}
