package handler

import (
	"context"
	"net/http"

	"github.com/ayo6706/marketplace-ledger/internal/domain"
	"github.com/ayo6706/marketplace-ledger/internal/models"
	"github.com/ayo6706/marketplace-ledger/internal/service"
)

// ClearingHandler exposes the clearing engine to admins.
type ClearingHandler struct {
	clearing *service.ClearingEngine
	creditor *service.OrderBalanceCreditor
}

func NewClearingHandler(clearing *service.ClearingEngine, creditor *service.OrderBalanceCreditor) *ClearingHandler {
	return &ClearingHandler{clearing: clearing, creditor: creditor}
}

type legResponse struct {
	Leg domain.LegKind `json:"leg"`
	domain.LegInfo
}

func newLegResponse(leg domain.ClearingLeg) legResponse {
	return legResponse{Leg: leg.Kind(), LegInfo: leg.Info()}
}

// CreateForOrder handles POST /v1/orders/{id}/clearing. Repeating the call
// returns the existing pair.
func (h *ClearingHandler) CreateForOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	pair, err := h.clearing.CreateClearingTransactions(r.Context(), orderID)
	if err != nil {
		respondServiceError(w, r, err, "clearing/create-failed", "Failed to create clearing transactions")
		return
	}
	RespondJSON(w, http.StatusCreated, pair)
}

// OrderTimeline handles GET /v1/orders/{id}/timeline.
func (h *ClearingHandler) OrderTimeline(w http.ResponseWriter, r *http.Request) {
	orderID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	entries, err := h.creditor.Timeline(r.Context(), orderID)
	if err != nil {
		respondServiceError(w, r, err, "order/timeline-failed", "Failed to load order timeline")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"order_id": orderID, "items": entries})
}

// ListBuyerSettlements handles GET /v1/clearing/buyer-settlements.
func (h *ClearingHandler) ListBuyerSettlements(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.clearing.ListBuyerSettlements)
}

// ListFarmerPayouts handles GET /v1/clearing/farmer-payouts.
func (h *ClearingHandler) ListFarmerPayouts(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.clearing.ListFarmerPayouts)
}

type legLister func(ctx context.Context, f service.LegFilter) (models.ClearingLegPage, error)

func (h *ClearingHandler) list(w http.ResponseWriter, r *http.Request, fetch legLister) {
	orgID, ok := queryUUID(w, r, "organization_id")
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit", 0)
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset", 0)
	if !ok {
		return
	}

	page, err := fetch(r.Context(), service.LegFilter{
		Phase:          queryString(r, "phase"),
		OrganizationID: orgID,
		Limit:          limit,
		Offset:         offset,
	})
	if err != nil {
		respondServiceError(w, r, err, "clearing/list-failed", "Failed to list clearing legs")
		return
	}
	RespondJSON(w, http.StatusOK, page)
}

type completeLegRequest struct {
	ProofReference string `json:"proof_reference" validate:"required,max=255"`
}

// CompleteLeg handles POST /v1/clearing/legs/{id}/complete.
func (h *ClearingHandler) CompleteLeg(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	legID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req completeLegRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	leg, err := h.clearing.MarkCompleted(r.Context(), legID, req.ProofReference, &actorID)
	if err != nil {
		respondServiceError(w, r, err, "clearing/complete-failed", "Failed to complete clearing leg")
		return
	}
	RespondJSON(w, http.StatusOK, newLegResponse(leg))
}
