package domain

import "strings"

// Payout request statuses (must match payout_requests.status CHECK).
const (
	PayoutStatusPending   = "PENDING"
	PayoutStatusApproved  = "APPROVED"
	PayoutStatusRejected  = "REJECTED"
	PayoutStatusCompleted = "COMPLETED"
)

var payoutTransitions = map[string]map[string]struct{}{
	PayoutStatusPending: {
		PayoutStatusApproved: {},
		PayoutStatusRejected: {},
	},
	PayoutStatusApproved: {
		PayoutStatusCompleted: {},
	},
	PayoutStatusRejected:  {},
	PayoutStatusCompleted: {},
}

func normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// CanTransitionPayout reports whether a payout request may move from current to next.
func CanTransitionPayout(current, next string) bool {
	nextStates, ok := payoutTransitions[normalize(current)]
	if !ok {
		return false
	}
	_, ok = nextStates[normalize(next)]
	return ok
}

// RequiredPayoutStatus returns the only status a request may be in before moving to next.
func RequiredPayoutStatus(next string) string {
	switch normalize(next) {
	case PayoutStatusApproved, PayoutStatusRejected:
		return PayoutStatusPending
	case PayoutStatusCompleted:
		return PayoutStatusApproved
	default:
		return ""
	}
}

// IsValidPayoutStatus reports whether s is a known payout status.
func IsValidPayoutStatus(s string) bool {
	_, ok := payoutTransitions[normalize(s)]
	return ok
}
