package models

import (
	"time"

	"github.com/ayo6706/marketplace-ledger/internal/domain"
	"github.com/google/uuid"
)

// Balance is an organization's balance snapshot. Exists is false for an
// organization that has never been mutated.
type Balance struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	Available      int64     `json:"available_amount"`
	Pending        int64     `json:"pending_amount"`
	Credit         int64     `json:"credit_amount"`
	Currency       string    `json:"currency"`
	UpdatedAt      time.Time `json:"updated_at"`
	Exists         bool      `json:"-"`
}

// BalanceResponse adds major-unit display strings for API clients.
type BalanceResponse struct {
	Balance
	AvailableDisplay string `json:"available_display"`
	PendingDisplay   string `json:"pending_display"`
	CreditDisplay    string `json:"credit_display"`
}

func NewBalanceResponse(b Balance) BalanceResponse {
	return BalanceResponse{
		Balance:          b,
		AvailableDisplay: domain.NewMoney(b.Available, b.Currency).Display(),
		PendingDisplay:   domain.NewMoney(b.Pending, b.Currency).Display(),
		CreditDisplay:    domain.NewMoney(b.Credit, b.Currency).Display(),
	}
}

type CreditTransaction struct {
	ID             uuid.UUID  `json:"id"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	Amount         int64      `json:"amount"`
	BalanceAfter   int64      `json:"balance_after"`
	Type           string     `json:"type"` // credit or debit
	Reason         string     `json:"reason"`
	Note           *string    `json:"note,omitempty"`
	Reference      *string    `json:"reference,omitempty"`
	OrderID        *uuid.UUID `json:"order_id,omitempty"`
	CreatedBy      *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type CreditTransactionPage struct {
	Items []CreditTransaction `json:"items"`
	Page  int                 `json:"page"`
	Limit int                 `json:"limit"`
	Total int64               `json:"total"`
}

type PayoutRequest struct {
	ID                   uuid.UUID  `json:"id"`
	SellerOrganizationID uuid.UUID  `json:"seller_organization_id"`
	Amount               int64      `json:"amount"`
	Currency             string     `json:"currency"`
	Status               string     `json:"status"`
	Note                 *string    `json:"note,omitempty"`
	AdminNote            *string    `json:"admin_note,omitempty"`
	RejectionReason      *string    `json:"rejection_reason,omitempty"`
	ProofReference       *string    `json:"proof_reference,omitempty"`
	ProcessedBy          *uuid.UUID `json:"processed_by,omitempty"`
	RequestedAt          time.Time  `json:"requested_at"`
	ProcessedAt          *time.Time `json:"processed_at,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

type PayoutRequestPage struct {
	Items  []PayoutRequest `json:"items"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
	Total  int64           `json:"total"`
}

type ClearingLegPage struct {
	Items  []domain.LegInfo `json:"items"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
	Total  int64            `json:"total"`
}

type TimelineEntry struct {
	ID             uuid.UUID `json:"id"`
	OrderID        uuid.UUID `json:"order_id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Kind           string    `json:"kind"`
	Message        string    `json:"message"`
	Amount         *int64    `json:"amount,omitempty"`
	Currency       *string   `json:"currency,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
