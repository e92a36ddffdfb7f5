package domain

// Organization account types (must match organizations.account_type CHECK).
const (
	AccountTypeSeller = "SELLER"
	AccountTypeBuyer  = "BUYER"

	CreditTypeCredit = "credit"
	CreditTypeDebit  = "debit"

	// Order statuses that count as fulfilled for seller crediting.
	OrderStatusDelivered = "DELIVERED"
	OrderStatusCompleted = "COMPLETED"

	InspectionStatusApproved = "APPROVED"

	TimelineKindBalanceCredited = "balance_credited"
)

// Domain event types published through the outbox.
const (
	EventCreditAdjusted       = "credit.adjusted"
	EventPayoutRequested      = "payout.requested"
	EventPayoutApproved       = "payout.approved"
	EventPayoutRejected       = "payout.rejected"
	EventPayoutCompleted      = "payout.completed"
	EventOrderBalanceCredited = "order.balance_credited"
	EventClearingCreated      = "clearing.created"
	EventClearingLegCompleted = "clearing.leg_completed"
)

// Upstream order events consumed by the ledger.
const (
	OrderEventDelivered            = "order.delivered"
	OrderEventInspectionApproved   = "order.inspection_approved"
	OrderEventPaymentStatusChanged = "order.payment_status_changed"
)

// Outbox row statuses.
const (
	OutboxStatusPending    = "PENDING"
	OutboxStatusProcessing = "PROCESSING"
	OutboxStatusPublished  = "PUBLISHED"
	OutboxStatusFailed     = "FAILED"
)

// IsFulfilledOrderStatus reports whether an order status means the goods reached the buyer.
func IsFulfilledOrderStatus(status string) bool {
	switch normalize(status) {
	case OrderStatusDelivered, OrderStatusCompleted:
		return true
	default:
		return false
	}
}

// IsValidAccountType reports whether t names a known organization type.
func IsValidAccountType(t string) bool {
	switch normalize(t) {
	case AccountTypeSeller, AccountTypeBuyer:
		return true
	default:
		return false
	}
}
