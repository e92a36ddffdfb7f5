package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransitionPayout(t *testing.T) {
	cases := []struct {
		from, to string
		ok       bool
	}{
		{PayoutStatusPending, PayoutStatusApproved, true},
		{PayoutStatusPending, PayoutStatusRejected, true},
		{PayoutStatusApproved, PayoutStatusCompleted, true},
		{"pending", "approved", true},
		{PayoutStatusPending, PayoutStatusCompleted, false},
		{PayoutStatusApproved, PayoutStatusRejected, false},
		{PayoutStatusRejected, PayoutStatusApproved, false},
		{PayoutStatusCompleted, PayoutStatusPending, false},
		{PayoutStatusCompleted, PayoutStatusCompleted, false},
		{"UNKNOWN", PayoutStatusApproved, false},
	}
	for _, tc := range cases {
		t.Run(tc.from+"->"+tc.to, func(t *testing.T) {
			assert.Equal(t, tc.ok, CanTransitionPayout(tc.from, tc.to))
		})
	}
}

func TestRequiredPayoutStatus(t *testing.T) {
	assert.Equal(t, PayoutStatusPending, RequiredPayoutStatus(PayoutStatusApproved))
	assert.Equal(t, PayoutStatusPending, RequiredPayoutStatus(PayoutStatusRejected))
	assert.Equal(t, PayoutStatusApproved, RequiredPayoutStatus(PayoutStatusCompleted))
	assert.Equal(t, "", RequiredPayoutStatus(PayoutStatusPending))
}

func TestPhaseCanAdvance(t *testing.T) {
	assert.True(t, PhasePending.CanAdvance(PhaseScheduled))
	assert.True(t, PhasePending.CanAdvance(PhaseCompleted))
	assert.True(t, PhaseScheduled.CanAdvance(PhaseCompleted))
	assert.False(t, PhaseScheduled.CanAdvance(PhasePending))
	assert.False(t, PhaseCompleted.CanAdvance(PhaseScheduled))
	assert.False(t, PhaseCompleted.CanAdvance(PhaseCompleted))
}

func TestParseLegKindAndPhase(t *testing.T) {
	kind, err := ParseLegKind("buyer_settlement")
	require.NoError(t, err)
	assert.Equal(t, LegBuyerSettlement, kind)

	kind, err = ParseLegKind("farmer_payout")
	require.NoError(t, err)
	assert.Equal(t, LegSellerPayout, kind)

	_, err = ParseLegKind("escrow")
	require.ErrorIs(t, err, ErrValidation)

	phase, err := ParsePhase(" scheduled ")
	require.NoError(t, err)
	assert.Equal(t, PhaseScheduled, phase)

	_, err = ParsePhase("settled")
	require.ErrorIs(t, err, ErrValidation)
}

func TestNewClearingLegIsExhaustive(t *testing.T) {
	info := LegInfo{ID: uuid.New(), Amount: 15000, Currency: "USD", Phase: PhasePending}

	buyer, err := NewClearingLeg(LegBuyerSettlement, info)
	require.NoError(t, err)
	require.IsType(t, BuyerSettlementLeg{}, buyer)
	assert.Equal(t, int64(15000), CompletionDeltaAvailable(buyer))

	seller, err := NewClearingLeg(LegSellerPayout, info)
	require.NoError(t, err)
	require.IsType(t, SellerPayoutLeg{}, seller)
	assert.Equal(t, int64(-15000), CompletionDeltaAvailable(seller))
	assert.Equal(t, info.ID, seller.Info().ID)

	_, err = NewClearingLeg(LegKind("OTHER"), info)
	require.Error(t, err)
}

func TestTypedErrorsMatchSentinels(t *testing.T) {
	orgID := uuid.New()
	wrapped := fmt.Errorf("approve payout: %w", &InsufficientBalanceError{OrgID: orgID, Available: 15000, Requested: 20000})

	require.ErrorIs(t, wrapped, ErrInsufficientBalance)
	var insufficient *InsufficientBalanceError
	require.True(t, errors.As(wrapped, &insufficient))
	assert.Equal(t, int64(15000), insufficient.Available)
	assert.Equal(t, int64(20000), insufficient.Requested)
	assert.Contains(t, wrapped.Error(), "available 15000, requested 20000")

	transition := &InvalidStateTransitionError{Entity: "payout_request", ID: orgID, Current: PayoutStatusPending, Required: PayoutStatusApproved, Target: PayoutStatusCompleted}
	require.ErrorIs(t, transition, ErrInvalidStateTransition)
	assert.Contains(t, transition.Error(), "current state PENDING, required APPROVED")

	require.ErrorIs(t, &CurrencyMismatchError{OrgID: orgID, Current: "USD", Requested: "EUR"}, ErrCurrencyMismatch)
	require.ErrorIs(t, &ConcurrencyConflictError{Entity: "payout_request", ID: orgID, Expected: "PENDING"}, ErrConcurrencyConflict)
	require.ErrorIs(t, NewNotFoundError("organization", orgID), ErrNotFound)
	require.NotErrorIs(t, NewValidationError("amount", "must be positive"), ErrNotFound)
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(NewValidationError("amount", "must be positive")))
	assert.True(t, IsPermanent(fmt.Errorf("wrap: %w", NewNotFoundError("organization", uuid.New()))))
	assert.False(t, IsPermanent(&ConcurrencyConflictError{}))
	assert.False(t, IsPermanent(errors.New("connection reset")))
}

func TestIsFulfilledOrderStatus(t *testing.T) {
	assert.True(t, IsFulfilledOrderStatus("delivered"))
	assert.True(t, IsFulfilledOrderStatus(OrderStatusCompleted))
	assert.False(t, IsFulfilledOrderStatus("SHIPPED"))
	assert.False(t, IsFulfilledOrderStatus(""))
}
