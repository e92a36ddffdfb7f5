package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LegKind names one side of an order's clearing pair.
type LegKind string

const (
	LegBuyerSettlement LegKind = "BUYER_SETTLEMENT"
	LegSellerPayout    LegKind = "SELLER_PAYOUT"
)

// Phase is the lifecycle stage of a clearing leg.
type Phase string

const (
	PhasePending   Phase = "PENDING"
	PhaseScheduled Phase = "SCHEDULED"
	PhaseCompleted Phase = "COMPLETED"
)

// ParseLegKind accepts the persisted names and the lower-case API aliases.
func ParseLegKind(s string) (LegKind, error) {
	switch normalize(s) {
	case string(LegBuyerSettlement), "BUYER":
		return LegBuyerSettlement, nil
	case string(LegSellerPayout), "SELLER", "FARMER_PAYOUT":
		return LegSellerPayout, nil
	default:
		return "", NewValidationError("leg", fmt.Sprintf("unknown leg %q", s))
	}
}

// ParsePhase validates a phase name.
func ParsePhase(s string) (Phase, error) {
	switch p := Phase(normalize(s)); p {
	case PhasePending, PhaseScheduled, PhaseCompleted:
		return p, nil
	default:
		return "", NewValidationError("phase", fmt.Sprintf("unknown phase %q", s))
	}
}

// CanAdvance reports whether a leg may move forward from p to next.
// Phases only move forward; COMPLETED is terminal.
func (p Phase) CanAdvance(next Phase) bool {
	switch p {
	case PhasePending:
		return next == PhaseScheduled || next == PhaseCompleted
	case PhaseScheduled:
		return next == PhaseCompleted
	default:
		return false
	}
}

// LegInfo holds the columns shared by both leg kinds.
type LegInfo struct {
	ID             uuid.UUID  `json:"id"`
	FlowID         uuid.UUID  `json:"flow_id"`
	OrderID        uuid.UUID  `json:"order_id"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	Amount         int64      `json:"amount"`
	Currency       string     `json:"currency"`
	Phase          Phase      `json:"phase"`
	ProofReference *string    `json:"proof_reference,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ClearingLeg is implemented only by BuyerSettlementLeg and SellerPayoutLeg.
type ClearingLeg interface {
	Kind() LegKind
	Info() LegInfo
	clearingLeg()
}

// BuyerSettlementLeg is the buyer paying the platform for an order.
// OrganizationID is the buyer.
type BuyerSettlementLeg struct {
	LegInfo
}

func (BuyerSettlementLeg) Kind() LegKind   { return LegBuyerSettlement }
func (l BuyerSettlementLeg) Info() LegInfo { return l.LegInfo }
func (BuyerSettlementLeg) clearingLeg()    {}

// SellerPayoutLeg is the platform paying the seller for an order.
// OrganizationID is the seller.
type SellerPayoutLeg struct {
	LegInfo
}

func (SellerPayoutLeg) Kind() LegKind   { return LegSellerPayout }
func (l SellerPayoutLeg) Info() LegInfo { return l.LegInfo }
func (SellerPayoutLeg) clearingLeg()    {}

// NewClearingLeg builds the concrete leg for a persisted kind.
func NewClearingLeg(kind LegKind, info LegInfo) (ClearingLeg, error) {
	switch kind {
	case LegBuyerSettlement:
		return BuyerSettlementLeg{LegInfo: info}, nil
	case LegSellerPayout:
		return SellerPayoutLeg{LegInfo: info}, nil
	default:
		return nil, fmt.Errorf("unknown clearing leg kind %q", kind)
	}
}

// CompletionDeltaAvailable is the change applied to the leg owner's available
// balance when the leg completes.
func CompletionDeltaAvailable(leg ClearingLeg) int64 {
	switch l := leg.(type) {
	case BuyerSettlementLeg:
		return l.Amount
	case SellerPayoutLeg:
		return -l.Amount
	default:
		panic(fmt.Sprintf("unhandled clearing leg %T", leg))
	}
}

// ClearingPair is the two legs derived from one order.
type ClearingPair struct {
	FlowID uuid.UUID          `json:"flow_id"`
	Buyer  BuyerSettlementLeg `json:"buyer_settlement"`
	Seller SellerPayoutLeg    `json:"seller_payout"`
}
