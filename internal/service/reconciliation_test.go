package service

import (
	"context"
	"testing"

	"github.com/ayo6706/marketplace-ledger/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconciliationDetectsTamperedCredit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	recon := NewReconciliationService(f.store)

	clean := f.seedOrg(t, domain.AccountTypeBuyer)
	tampered := f.seedOrg(t, domain.AccountTypeSeller)
	_, err := f.credits.ApplyAdjustment(ctx, AdjustmentInput{OrgID: clean, AccountType: domain.AccountTypeBuyer, Amount: 3000, Type: "credit", Reason: "promo"})
	require.NoError(t, err)
	_, err = f.credits.ApplyAdjustment(ctx, AdjustmentInput{OrgID: tampered, AccountType: domain.AccountTypeSeller, Amount: 4000, Type: "credit", Reason: "promo"})
	require.NoError(t, err)

	// Order credits touch only available_amount and stay out of the credit ledger.
	f.fund(t, tampered, 9000)

	mismatches, err := recon.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, mismatches)

	_, err = f.pool.Exec(ctx, `UPDATE organization_balances SET credit_amount = credit_amount + 500 WHERE organization_id = $1`, tampered)
	require.NoError(t, err)

	mismatches, err = recon.Run(ctx)
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	assert.Equal(t, tampered, mismatches[0].OrganizationID)
	assert.Equal(t, int64(4500), mismatches[0].CreditAmount)
	assert.Equal(t, int64(4000), mismatches[0].TransactionSum)
	assert.Equal(t, int64(4000), mismatches[0].LastBalanceAfter)
}
