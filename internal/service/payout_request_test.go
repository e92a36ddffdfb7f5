package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ayo6706/marketplace-ledger/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestPayoutRequestHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sellerID := f.seedOrg(t, domain.AccountTypeSeller)
	adminID := uuid.New()
	f.fund(t, sellerID, 15000)

	req, err := f.payouts.Create(ctx, CreatePayoutInput{SellerOrgID: sellerID, Amount: 10000, Note: strPtr("weekly")})
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusPending, req.Status)
	assert.Equal(t, "USD", req.Currency)
	assert.Equal(t, int64(15000), f.available(t, sellerID), "creating a request does not hold funds")

	req, err = f.payouts.Approve(ctx, req.ID, strPtr("looks fine"), &adminID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusApproved, req.Status)
	require.NotNil(t, req.ProcessedAt)
	require.NotNil(t, req.ProcessedBy)
	assert.Equal(t, adminID, *req.ProcessedBy)
	assert.Equal(t, int64(15000), f.available(t, sellerID), "approval does not move funds")

	req, err = f.payouts.Complete(ctx, req.ID, "BANK-REF-991", nil, &adminID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusCompleted, req.Status)
	require.NotNil(t, req.ProofReference)
	assert.Equal(t, "BANK-REF-991", *req.ProofReference)
	require.NotNil(t, req.CompletedAt)
	assert.Equal(t, int64(5000), f.available(t, sellerID))

	assert.Equal(t, []string{"created", "approved", "completed"}, f.auditActions(t, payoutEntity, req.ID))

	_, err = f.payouts.Complete(ctx, req.ID, "BANK-REF-992", nil, &adminID)
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	assert.Equal(t, int64(5000), f.available(t, sellerID))
}

func TestPayoutApproveInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sellerID := f.seedOrg(t, domain.AccountTypeSeller)
	f.fund(t, sellerID, 15000)

	req, err := f.payouts.Create(ctx, CreatePayoutInput{SellerOrgID: sellerID, Amount: 20000})
	require.NoError(t, err)

	_, err = f.payouts.Approve(ctx, req.ID, nil, nil)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	var insufficient *domain.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(15000), insufficient.Available)
	assert.Equal(t, int64(20000), insufficient.Requested)

	stored, err := f.payouts.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusPending, stored.Status)
	assert.Equal(t, int64(15000), f.available(t, sellerID))
}

func TestPayoutInvalidTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sellerID := f.seedOrg(t, domain.AccountTypeSeller)
	f.fund(t, sellerID, 5000)

	pending, err := f.payouts.Create(ctx, CreatePayoutInput{SellerOrgID: sellerID, Amount: 1000})
	require.NoError(t, err)

	_, err = f.payouts.Complete(ctx, pending.ID, "REF-1", nil, nil)
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	var transition *domain.InvalidStateTransitionError
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, domain.PayoutStatusPending, transition.Current)
	assert.Equal(t, domain.PayoutStatusApproved, transition.Required)

	rejected, err := f.payouts.Reject(ctx, pending.ID, "duplicate request", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusRejected, rejected.Status)
	require.NotNil(t, rejected.RejectionReason)
	assert.Equal(t, "duplicate request", *rejected.RejectionReason)

	_, err = f.payouts.Approve(ctx, pending.ID, nil, nil)
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	_, err = f.payouts.Reject(ctx, pending.ID, "again", nil, nil)
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	approved, err := f.payouts.Create(ctx, CreatePayoutInput{SellerOrgID: sellerID, Amount: 1000})
	require.NoError(t, err)
	_, err = f.payouts.Approve(ctx, approved.ID, nil, nil)
	require.NoError(t, err)
	_, err = f.payouts.Reject(ctx, approved.ID, "too late", nil, nil)
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	assert.Equal(t, int64(5000), f.available(t, sellerID))
}

func TestPayoutValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sellerID := f.seedOrg(t, domain.AccountTypeSeller)
	buyerID := f.seedOrg(t, domain.AccountTypeBuyer)

	_, err := f.payouts.Create(ctx, CreatePayoutInput{SellerOrgID: sellerID, Amount: 0})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.payouts.Create(ctx, CreatePayoutInput{SellerOrgID: buyerID, Amount: 100})
	require.ErrorIs(t, err, domain.ErrNotFound)

	req, err := f.payouts.Create(ctx, CreatePayoutInput{SellerOrgID: sellerID, Amount: 100})
	require.NoError(t, err)

	_, err = f.payouts.Reject(ctx, req.ID, "   ", nil, nil)
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.payouts.Complete(ctx, req.ID, "", nil, nil)
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.payouts.Get(ctx, uuid.New())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPayoutCompleteRechecksBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sellerID := f.seedOrg(t, domain.AccountTypeSeller)
	f.fund(t, sellerID, 10000)

	first, err := f.payouts.Create(ctx, CreatePayoutInput{SellerOrgID: sellerID, Amount: 8000})
	require.NoError(t, err)
	second, err := f.payouts.Create(ctx, CreatePayoutInput{SellerOrgID: sellerID, Amount: 8000})
	require.NoError(t, err)

	_, err = f.payouts.Approve(ctx, first.ID, nil, nil)
	require.NoError(t, err)
	_, err = f.payouts.Approve(ctx, second.ID, nil, nil)
	require.NoError(t, err)

	_, err = f.payouts.Complete(ctx, first.ID, "REF-A", nil, nil)
	require.NoError(t, err)

	_, err = f.payouts.Complete(ctx, second.ID, "REF-B", nil, nil)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	stored, err := f.payouts.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusApproved, stored.Status)
	assert.Equal(t, int64(2000), f.available(t, sellerID))
}

func TestConcurrentPayoutApproveSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sellerID := f.seedOrg(t, domain.AccountTypeSeller)
	f.fund(t, sellerID, 5000)

	req, err := f.payouts.Create(ctx, CreatePayoutInput{SellerOrgID: sellerID, Amount: 1000})
	require.NoError(t, err)

	const workers = 5
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.payouts.Approve(ctx, req.ID, nil, nil)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, isConflictOrTransition(err), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, []string{"created", "approved"}, f.auditActions(t, payoutEntity, req.ID))
}

func TestConcurrentPayoutCompleteDeductsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sellerID := f.seedOrg(t, domain.AccountTypeSeller)
	f.fund(t, sellerID, 5000)

	req, err := f.payouts.Create(ctx, CreatePayoutInput{SellerOrgID: sellerID, Amount: 3000})
	require.NoError(t, err)
	_, err = f.payouts.Approve(ctx, req.ID, nil, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.payouts.Complete(ctx, req.ID, "REF", nil, nil)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, int64(2000), f.available(t, sellerID))
}

func TestListPayoutRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sellerA := f.seedOrg(t, domain.AccountTypeSeller)
	sellerB := f.seedOrg(t, domain.AccountTypeSeller)
	f.fund(t, sellerA, 10000)

	a1, err := f.payouts.Create(ctx, CreatePayoutInput{SellerOrgID: sellerA, Amount: 100})
	require.NoError(t, err)
	_, err = f.payouts.Create(ctx, CreatePayoutInput{SellerOrgID: sellerA, Amount: 200})
	require.NoError(t, err)
	_, err = f.payouts.Create(ctx, CreatePayoutInput{SellerOrgID: sellerB, Amount: 300})
	require.NoError(t, err)
	_, err = f.payouts.Approve(ctx, a1.ID, nil, nil)
	require.NoError(t, err)

	all, err := f.payouts.List(ctx, PayoutFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), all.Total)
	assert.Equal(t, 20, all.Limit)

	pending, err := f.payouts.List(ctx, PayoutFilter{Status: strPtr("pending")})
	require.NoError(t, err)
	assert.Equal(t, int64(2), pending.Total)

	mine, err := f.payouts.List(ctx, PayoutFilter{SellerOrgID: &sellerA, Status: strPtr(domain.PayoutStatusPending)})
	require.NoError(t, err)
	require.Len(t, mine.Items, 1)
	assert.Equal(t, int64(200), mine.Items[0].Amount)

	paged, err := f.payouts.List(ctx, PayoutFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, paged.Items, 1)
	assert.Equal(t, int64(3), paged.Total)

	_, err = f.payouts.List(ctx, PayoutFilter{Status: strPtr("paid")})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func isConflictOrTransition(err error) bool {
	return errors.Is(err, domain.ErrConcurrencyConflict) || errors.Is(err, domain.ErrInvalidStateTransition)
}
