package handler

import (
	"net/http"

	"github.com/ayo6706/marketplace-ledger/internal/models"
	"github.com/ayo6706/marketplace-ledger/internal/service"
	"github.com/google/uuid"
)

// BalanceHandler serves organization balances and the credit ledger.
type BalanceHandler struct {
	balances *service.BalanceStore
	credits  *service.CreditLedger
}

func NewBalanceHandler(balances *service.BalanceStore, credits *service.CreditLedger) *BalanceHandler {
	return &BalanceHandler{balances: balances, credits: credits}
}

// GetBalance handles GET /v1/organizations/{id}/balance.
func (h *BalanceHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	orgID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	if !canAccessOrganization(r, orgID) {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
		return
	}

	bal, err := h.balances.Get(r.Context(), orgID)
	if err != nil {
		respondServiceError(w, r, err, "balance/read-failed", "Failed to get balance")
		return
	}
	RespondJSON(w, http.StatusOK, models.NewBalanceResponse(bal))
}

// ListCreditTransactions handles GET /v1/organizations/{id}/credit-transactions.
func (h *BalanceHandler) ListCreditTransactions(w http.ResponseWriter, r *http.Request) {
	orgID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	if !canAccessOrganization(r, orgID) {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
		return
	}
	page, ok := queryInt(w, r, "page", 1)
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit", 0)
	if !ok {
		return
	}

	result, err := h.credits.List(r.Context(), orgID, page, limit)
	if err != nil {
		respondServiceError(w, r, err, "credit/list-failed", "Failed to list credit transactions")
		return
	}
	RespondJSON(w, http.StatusOK, result)
}

type creditAdjustmentRequest struct {
	AccountType string  `json:"account_type" validate:"required,oneof=SELLER BUYER seller buyer"`
	Amount      int64   `json:"amount" validate:"gt=0"`
	Type        string  `json:"type" validate:"required,oneof=credit debit"`
	Reason      string  `json:"reason" validate:"required,max=255"`
	Note        *string `json:"note,omitempty" validate:"omitempty,max=1000"`
	Reference   *string `json:"reference,omitempty" validate:"omitempty,max=255"`
	OrderID     *string `json:"order_id,omitempty" validate:"omitempty,uuid"`
}

// CreateCreditAdjustment handles POST /v1/organizations/{id}/credit-adjustments (admin only).
func (h *BalanceHandler) CreateCreditAdjustment(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	orgID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	var req creditAdjustmentRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	in := service.AdjustmentInput{
		OrgID:       orgID,
		AccountType: req.AccountType,
		Amount:      req.Amount,
		Type:        req.Type,
		Reason:      req.Reason,
		Note:        req.Note,
		Reference:   req.Reference,
		ActorID:     &actorID,
	}
	if req.OrderID != nil {
		orderID := uuid.MustParse(*req.OrderID)
		in.OrderID = &orderID
	}

	tx, err := h.credits.ApplyAdjustment(r.Context(), in)
	if err != nil {
		respondServiceError(w, r, err, "credit/adjust-failed", "Failed to apply credit adjustment")
		return
	}
	RespondJSON(w, http.StatusCreated, tx)
}
