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

func TestAdjustmentInputValidation(t *testing.T) {
	base := AdjustmentInput{OrgID: uuid.New(), AccountType: "seller", Amount: 100, Type: "Credit", Reason: "goodwill"}

	cases := []struct {
		name  string
		edit  func(*AdjustmentInput)
		field string
	}{
		{name: "zero amount", edit: func(in *AdjustmentInput) { in.Amount = 0 }, field: "amount"},
		{name: "negative amount", edit: func(in *AdjustmentInput) { in.Amount = -5 }, field: "amount"},
		{name: "bad type", edit: func(in *AdjustmentInput) { in.Type = "refund" }, field: "type"},
		{name: "blank reason", edit: func(in *AdjustmentInput) { in.Reason = "  " }, field: "reason"},
		{name: "bad account type", edit: func(in *AdjustmentInput) { in.AccountType = "ADMIN" }, field: "account_type"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := base
			tc.edit(&in)
			err := in.normalize()
			require.ErrorIs(t, err, domain.ErrValidation)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}

	in := base
	require.NoError(t, in.normalize())
	assert.Equal(t, domain.CreditTypeCredit, in.Type)
	assert.Equal(t, domain.AccountTypeSeller, in.AccountType)
}

func TestApplyAdjustmentRequiresMatchingOrganization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyerID := f.seedOrg(t, domain.AccountTypeBuyer)

	_, err := f.credits.ApplyAdjustment(ctx, AdjustmentInput{OrgID: buyerID, AccountType: domain.AccountTypeSeller, Amount: 100, Type: "credit", Reason: "promo"})
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.credits.ApplyAdjustment(ctx, AdjustmentInput{OrgID: uuid.New(), AccountType: domain.AccountTypeBuyer, Amount: 100, Type: "credit", Reason: "promo"})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestApplyAdjustmentKeepsRunningSum(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orgID := f.seedOrg(t, domain.AccountTypeBuyer)
	actor := uuid.New()
	note := " first order bonus "

	steps := []struct {
		typ    string
		amount int64
		after  int64
	}{
		{domain.CreditTypeCredit, 5000, 5000},
		{domain.CreditTypeDebit, 1200, 3800},
		{domain.CreditTypeCredit, 700, 4500},
	}
	for _, step := range steps {
		tx, err := f.credits.ApplyAdjustment(ctx, AdjustmentInput{
			OrgID:       orgID,
			AccountType: domain.AccountTypeBuyer,
			Amount:      step.amount,
			Type:        step.typ,
			Reason:      "promo",
			Note:        &note,
			ActorID:     &actor,
		})
		require.NoError(t, err)
		assert.Equal(t, step.after, tx.BalanceAfter)
		require.NotNil(t, tx.Note)
		assert.Equal(t, "first order bonus", *tx.Note)
		require.NotNil(t, tx.CreatedBy)
		assert.Equal(t, actor, *tx.CreatedBy)
	}

	bal, err := f.balances.Get(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, int64(4500), bal.Credit)
	assert.Zero(t, bal.Available)

	page, err := f.credits.List(ctx, orgID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, int64(700), page.Items[0].Amount)
	assert.Equal(t, int64(-1200), page.Items[1].Amount)

	page, err = f.credits.List(ctx, orgID, 2, 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, int64(5000), page.Items[0].Amount)

	mismatches, err := NewReconciliationService(f.store).Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, mismatches)

	events, err := f.queries.ListOutboxEventsByAggregate(ctx, repository.ToPgUUID(orgID))
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, domain.EventCreditAdjusted, events[0].EventType)
	assert.Len(t, f.auditActions(t, "organization_credit", orgID), 3)
}

func TestApplyAdjustmentDebitBelowZeroIsRejectedAtomically(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orgID := f.seedOrg(t, domain.AccountTypeSeller)

	_, err := f.credits.ApplyAdjustment(ctx, AdjustmentInput{OrgID: orgID, AccountType: domain.AccountTypeSeller, Amount: 1000, Type: "credit", Reason: "promo"})
	require.NoError(t, err)

	_, err = f.credits.ApplyAdjustment(ctx, AdjustmentInput{OrgID: orgID, AccountType: domain.AccountTypeSeller, Amount: 1500, Type: "debit", Reason: "clawback"})
	require.ErrorIs(t, err, domain.ErrNegativeBalanceNotAllowed)

	page, err := f.credits.List(ctx, orgID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total, "rejected debit leaves no transaction row")

	bal, err := f.balances.Get(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), bal.Credit)
}

func TestConcurrentAdjustmentsConserveCredit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orgID := f.seedOrg(t, domain.AccountTypeSeller)

	_, err := f.credits.ApplyAdjustment(ctx, AdjustmentInput{OrgID: orgID, AccountType: domain.AccountTypeSeller, Amount: 5000, Type: "credit", Reason: "opening"})
	require.NoError(t, err)

	adjustments := []AdjustmentInput{
		{OrgID: orgID, AccountType: domain.AccountTypeSeller, Amount: 10000, Type: "credit", Reason: "promo"},
		{OrgID: orgID, AccountType: domain.AccountTypeSeller, Amount: 3000, Type: "debit", Reason: "correction"},
	}
	var wg sync.WaitGroup
	errs := make([]error, len(adjustments))
	for i, in := range adjustments {
		wg.Add(1)
		go func(i int, in AdjustmentInput) {
			defer wg.Done()
			_, errs[i] = f.credits.ApplyAdjustment(ctx, in)
		}(i, in)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	bal, err := f.balances.Get(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, int64(12000), bal.Credit)

	page, err := f.credits.List(ctx, orgID, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	assert.Equal(t, int64(12000), page.Items[0].BalanceAfter)

	var running int64
	for i := len(page.Items) - 1; i >= 0; i-- {
		running += page.Items[i].Amount
		assert.Equal(t, running, page.Items[i].BalanceAfter)
	}
}
