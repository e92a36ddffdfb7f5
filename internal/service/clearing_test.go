package service

import (
	"context"
	"sync"
	"testing"

	"github.com/ayo6706/marketplace-ledger/internal/domain"
	"github.com/ayo6706/marketplace-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateClearingTransactionsIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyerID := f.seedOrg(t, domain.AccountTypeBuyer)
	sellerID := f.seedOrg(t, domain.AccountTypeSeller)
	orderID := f.seedOrder(t, buyerID, sellerID, 15000, domain.InspectionStatusApproved)

	pair, err := f.clearing.CreateClearingTransactions(ctx, orderID)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, pair.FlowID)
	assert.Equal(t, pair.FlowID, pair.Buyer.FlowID)
	assert.Equal(t, pair.FlowID, pair.Seller.FlowID)
	assert.Equal(t, buyerID, pair.Buyer.OrganizationID)
	assert.Equal(t, sellerID, pair.Seller.OrganizationID)
	assert.Equal(t, int64(15000), pair.Buyer.Amount)
	assert.Equal(t, domain.PhasePending, pair.Seller.Phase)
	assert.Equal(t, int64(-15000), f.available(t, buyerID))

	again, err := f.clearing.CreateClearingTransactions(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, pair.FlowID, again.FlowID)
	assert.Equal(t, pair.Buyer.ID, again.Buyer.ID)
	assert.Equal(t, pair.Seller.ID, again.Seller.ID)
	assert.Equal(t, int64(-15000), f.available(t, buyerID), "second call must not debit again")

	assert.Equal(t, []string{"clearing_created"}, f.auditActions(t, "order", orderID))
}

func TestConcurrentCreateClearingDebitsBuyerOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyerID := f.seedOrg(t, domain.AccountTypeBuyer)
	sellerID := f.seedOrg(t, domain.AccountTypeSeller)
	orderID := f.seedOrder(t, buyerID, sellerID, 8000, domain.InspectionStatusApproved)

	var wg sync.WaitGroup
	pairs := make([]domain.ClearingPair, 4)
	errs := make([]error, 4)
	for i := range pairs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pairs[i], errs[i] = f.clearing.CreateClearingTransactions(ctx, orderID)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err)
		assert.Equal(t, pairs[0].Buyer.ID, pairs[i].Buyer.ID)
	}
	assert.Equal(t, int64(-8000), f.available(t, buyerID))

	legs, err := f.queries.GetClearingLegsByOrder(ctx, repository.ToPgUUID(orderID))
	require.NoError(t, err)
	assert.Len(t, legs, 2)
}

func TestCreateClearingTransactionsPreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyerID := f.seedOrg(t, domain.AccountTypeBuyer)
	sellerID := f.seedOrg(t, domain.AccountTypeSeller)
	orderID := f.seedOrder(t, buyerID, sellerID, 15000, "PENDING")

	_, err := f.clearing.CreateClearingTransactions(ctx, orderID)
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.clearing.CreateClearingTransactions(ctx, uuid.New())
	require.ErrorIs(t, err, domain.ErrNotFound)

	bal, err := f.balances.Get(ctx, buyerID)
	require.NoError(t, err)
	assert.False(t, bal.Exists)

	require.NoError(t, f.repo.SetOrderInspectionStatus(ctx, orderID, domain.InspectionStatusApproved))
	_, err = f.clearing.CreateClearingTransactions(ctx, orderID)
	require.NoError(t, err)
}

func TestUpdateLegPhase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyerID := f.seedOrg(t, domain.AccountTypeBuyer)
	sellerID := f.seedOrg(t, domain.AccountTypeSeller)
	orderID := f.seedOrder(t, buyerID, sellerID, 15000, domain.InspectionStatusApproved)
	_, err := f.clearing.CreateClearingTransactions(ctx, orderID)
	require.NoError(t, err)

	leg, err := f.clearing.UpdateLegPhase(ctx, orderID, domain.LegBuyerSettlement, domain.PhaseScheduled)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseScheduled, leg.Info().Phase)

	leg, err = f.clearing.UpdateLegPhase(ctx, orderID, domain.LegBuyerSettlement, domain.PhaseScheduled)
	require.NoError(t, err, "re-asserting the current phase is a no-op")
	assert.Equal(t, domain.PhaseScheduled, leg.Info().Phase)

	_, err = f.clearing.UpdateLegPhase(ctx, orderID, domain.LegBuyerSettlement, domain.PhasePending)
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	leg, err = f.clearing.UpdateLegPhase(ctx, orderID, domain.LegBuyerSettlement, domain.PhaseCompleted)
	require.NoError(t, err)
	require.IsType(t, domain.BuyerSettlementLeg{}, leg)
	assert.Equal(t, domain.PhaseCompleted, leg.Info().Phase)
	assert.NotNil(t, leg.Info().CompletedAt)
	assert.Equal(t, int64(0), f.available(t, buyerID))

	_, err = f.clearing.UpdateLegPhase(ctx, orderID, domain.LegBuyerSettlement, domain.PhaseScheduled)
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	_, err = f.clearing.UpdateLegPhase(ctx, uuid.New(), domain.LegSellerPayout, domain.PhaseScheduled)
	require.ErrorIs(t, err, domain.ErrNotFound)

	assert.Len(t, f.auditActions(t, clearingLegEntity, leg.Info().ID), 2)
}

func TestMarkCompletedSellerLeg(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyerID := f.seedOrg(t, domain.AccountTypeBuyer)
	sellerID := f.seedOrg(t, domain.AccountTypeSeller)
	orderID := f.seedOrder(t, buyerID, sellerID, 15000, domain.InspectionStatusApproved)
	pair, err := f.clearing.CreateClearingTransactions(ctx, orderID)
	require.NoError(t, err)

	_, err = f.clearing.MarkCompleted(ctx, pair.Seller.ID, "WIRE-1", nil)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	legs, err := f.clearing.ListFarmerPayouts(ctx, LegFilter{OrganizationID: &sellerID})
	require.NoError(t, err)
	require.Len(t, legs.Items, 1)
	assert.Equal(t, domain.PhasePending, legs.Items[0].Phase, "failed completion leaves the phase unchanged")

	f.fund(t, sellerID, 20000)
	actor := uuid.New()
	leg, err := f.clearing.MarkCompleted(ctx, pair.Seller.ID, " WIRE-1 ", &actor)
	require.NoError(t, err)
	require.IsType(t, domain.SellerPayoutLeg{}, leg)
	require.NotNil(t, leg.Info().ProofReference)
	assert.Equal(t, "WIRE-1", *leg.Info().ProofReference)
	assert.Equal(t, int64(5000), f.available(t, sellerID))

	_, err = f.clearing.MarkCompleted(ctx, pair.Seller.ID, "WIRE-2", &actor)
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	assert.Equal(t, int64(5000), f.available(t, sellerID))

	_, err = f.clearing.MarkCompleted(ctx, uuid.New(), "", nil)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateLegPhaseAuditsFailedSellerCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyerID := f.seedOrg(t, domain.AccountTypeBuyer)
	sellerID := f.seedOrg(t, domain.AccountTypeSeller)
	orderID := f.seedOrder(t, buyerID, sellerID, 15000, domain.InspectionStatusApproved)
	pair, err := f.clearing.CreateClearingTransactions(ctx, orderID)
	require.NoError(t, err)

	_, err = f.clearing.MarkCompleted(ctx, pair.Seller.ID, "WIRE-1", nil)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.NotContains(t, f.auditActions(t, clearingLegEntity, pair.Seller.ID), "completion_failed",
		"direct completions report the error to the caller")

	_, err = f.clearing.UpdateLegPhase(ctx, orderID, domain.LegSellerPayout, domain.PhaseCompleted)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, []string{"completion_failed"}, f.auditActions(t, clearingLegEntity, pair.Seller.ID))

	legs, err := f.clearing.ListFarmerPayouts(ctx, LegFilter{OrganizationID: &sellerID})
	require.NoError(t, err)
	require.Len(t, legs.Items, 1)
	assert.Equal(t, domain.PhasePending, legs.Items[0].Phase)
	assert.Equal(t, int64(0), f.available(t, sellerID))
}

func TestListClearingLegs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyerID := f.seedOrg(t, domain.AccountTypeBuyer)
	sellerID := f.seedOrg(t, domain.AccountTypeSeller)
	otherSeller := f.seedOrg(t, domain.AccountTypeSeller)

	first := f.seedOrder(t, buyerID, sellerID, 1000, domain.InspectionStatusApproved)
	second := f.seedOrder(t, buyerID, otherSeller, 2000, domain.InspectionStatusApproved)
	for _, id := range []uuid.UUID{first, second} {
		_, err := f.clearing.CreateClearingTransactions(ctx, id)
		require.NoError(t, err)
	}
	_, err := f.clearing.UpdateLegPhase(ctx, first, domain.LegBuyerSettlement, domain.PhaseScheduled)
	require.NoError(t, err)

	buyers, err := f.clearing.ListBuyerSettlements(ctx, LegFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), buyers.Total)

	scheduled := "scheduled"
	buyers, err = f.clearing.ListBuyerSettlements(ctx, LegFilter{Phase: &scheduled})
	require.NoError(t, err)
	require.Len(t, buyers.Items, 1)
	assert.Equal(t, first, buyers.Items[0].OrderID)

	payouts, err := f.clearing.ListFarmerPayouts(ctx, LegFilter{OrganizationID: &otherSeller})
	require.NoError(t, err)
	require.Len(t, payouts.Items, 1)
	assert.Equal(t, int64(2000), payouts.Items[0].Amount)

	bad := "settled"
	_, err = f.clearing.ListFarmerPayouts(ctx, LegFilter{Phase: &bad})
	require.ErrorIs(t, err, domain.ErrValidation)
}
