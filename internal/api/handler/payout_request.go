package handler

import (
	"net/http"

	"github.com/ayo6706/marketplace-ledger/internal/service"
	"github.com/google/uuid"
)

// PayoutRequestHandler serves the seller payout request workflow.
type PayoutRequestHandler struct {
	payouts *service.PayoutRequestService
}

func NewPayoutRequestHandler(payouts *service.PayoutRequestService) *PayoutRequestHandler {
	return &PayoutRequestHandler{payouts: payouts}
}

type createPayoutRequest struct {
	SellerOrganizationID string  `json:"seller_organization_id" validate:"required,uuid"`
	Amount               int64   `json:"amount" validate:"gt=0"`
	Note                 *string `json:"note,omitempty" validate:"omitempty,max=1000"`
}

// Create handles POST /v1/payout-requests.
func (h *PayoutRequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req createPayoutRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	sellerID := uuid.MustParse(req.SellerOrganizationID)
	if !canAccessOrganization(r, sellerID) {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
		return
	}

	created, err := h.payouts.Create(r.Context(), service.CreatePayoutInput{
		SellerOrgID: sellerID,
		Amount:      req.Amount,
		Note:        req.Note,
		ActorID:     &actorID,
	})
	if err != nil {
		respondServiceError(w, r, err, "payout/create-failed", "Failed to create payout request")
		return
	}
	RespondJSON(w, http.StatusCreated, created)
}

// Get handles GET /v1/payout-requests/{id}. Sellers only see their own.
func (h *PayoutRequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	req, err := h.payouts.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err, "payout/read-failed", "Failed to get payout request")
		return
	}
	if !canAccessOrganization(r, req.SellerOrganizationID) {
		// Hide other sellers' requests entirely.
		RespondError(w, r, http.StatusNotFound, "resource/not-found", "payout_request not found")
		return
	}
	RespondJSON(w, http.StatusOK, req)
}

// List handles GET /v1/payout-requests (admin only).
func (h *PayoutRequestHandler) List(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := queryUUID(w, r, "seller_organization_id")
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

	page, err := h.payouts.List(r.Context(), service.PayoutFilter{
		Status:      queryString(r, "status"),
		SellerOrgID: sellerID,
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		respondServiceError(w, r, err, "payout/list-failed", "Failed to list payout requests")
		return
	}
	RespondJSON(w, http.StatusOK, page)
}

type approvePayoutRequest struct {
	AdminNote *string `json:"admin_note,omitempty" validate:"omitempty,max=1000"`
}

type rejectPayoutRequest struct {
	Reason    string  `json:"reason" validate:"required,max=1000"`
	AdminNote *string `json:"admin_note,omitempty" validate:"omitempty,max=1000"`
}

type completePayoutRequest struct {
	ProofReference string  `json:"proof_reference" validate:"required,max=255"`
	AdminNote      *string `json:"admin_note,omitempty" validate:"omitempty,max=1000"`
}

// Approve handles POST /v1/payout-requests/{id}/approve (admin only).
func (h *PayoutRequestHandler) Approve(w http.ResponseWriter, r *http.Request) {
	actorID, id, ok := h.adminAction(w, r)
	if !ok {
		return
	}
	var req approvePayoutRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	updated, err := h.payouts.Approve(r.Context(), id, req.AdminNote, &actorID)
	if err != nil {
		respondServiceError(w, r, err, "payout/approve-failed", "Failed to approve payout request")
		return
	}
	RespondJSON(w, http.StatusOK, updated)
}

// Reject handles POST /v1/payout-requests/{id}/reject (admin only).
func (h *PayoutRequestHandler) Reject(w http.ResponseWriter, r *http.Request) {
	actorID, id, ok := h.adminAction(w, r)
	if !ok {
		return
	}
	var req rejectPayoutRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	updated, err := h.payouts.Reject(r.Context(), id, req.Reason, req.AdminNote, &actorID)
	if err != nil {
		respondServiceError(w, r, err, "payout/reject-failed", "Failed to reject payout request")
		return
	}
	RespondJSON(w, http.StatusOK, updated)
}

// Complete handles POST /v1/payout-requests/{id}/complete (admin only).
func (h *PayoutRequestHandler) Complete(w http.ResponseWriter, r *http.Request) {
	actorID, id, ok := h.adminAction(w, r)
	if !ok {
		return
	}
	var req completePayoutRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	updated, err := h.payouts.Complete(r.Context(), id, req.ProofReference, req.AdminNote, &actorID)
	if err != nil {
		respondServiceError(w, r, err, "payout/complete-failed", "Failed to complete payout request")
		return
	}
	RespondJSON(w, http.StatusOK, updated)
}

func (h *PayoutRequestHandler) adminAction(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return uuid.Nil, uuid.Nil, false
	}
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return actorID, id, true
}
