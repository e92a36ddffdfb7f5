package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/ayo6706/marketplace-ledger/internal/testutil/pgtest"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedOrganization(t *testing.T, repo *Repository, accountType string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	org := &Organization{ID: ToPgUUID(id), Name: "org-" + id.String()[:8], AccountType: accountType}
	require.NoError(t, repo.CreateOrganization(context.Background(), org))
	return id
}

func TestIncrementOrganizationBalance(t *testing.T) {
	pool := pgtest.Open(t)
	repo := NewRepository(pool)
	q := New(pool)
	ctx := context.Background()

	orgID := seedOrganization(t, repo, "SELLER")

	_, err := q.GetOrganizationBalance(ctx, ToPgUUID(orgID))
	require.ErrorIs(t, err, pgx.ErrNoRows)

	bal, err := q.IncrementOrganizationBalance(ctx, IncrementOrganizationBalanceParams{
		OrganizationID: ToPgUUID(orgID),
		DeltaAvailable: 10000,
		DeltaCredit:    500,
		Currency:       "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10000), bal.AvailableAmount)
	assert.Equal(t, int64(500), bal.CreditAmount)

	bal, err = q.IncrementOrganizationBalance(ctx, IncrementOrganizationBalanceParams{
		OrganizationID: ToPgUUID(orgID),
		DeltaAvailable: -2500,
		Currency:       "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7500), bal.AvailableAmount)
	assert.Equal(t, int64(500), bal.CreditAmount)

	_, err = q.IncrementOrganizationBalance(ctx, IncrementOrganizationBalanceParams{
		OrganizationID: ToPgUUID(orgID),
		DeltaAvailable: 1,
		Currency:       "EUR",
	})
	require.True(t, errors.Is(err, pgx.ErrNoRows), "currency mismatch returns no row")
}

func TestCreditTransactionsNewestFirst(t *testing.T) {
	pool := pgtest.Open(t)
	repo := NewRepository(pool)
	q := New(pool)
	ctx := context.Background()

	orgID := seedOrganization(t, repo, "BUYER")
	for i, amount := range []int64{100, 200, -50} {
		typ := "credit"
		if amount < 0 {
			typ = "debit"
		}
		_, err := q.InsertCreditTransaction(ctx, InsertCreditTransactionParams{
			ID:             ToPgUUID(uuid.New()),
			OrganizationID: ToPgUUID(orgID),
			Amount:         amount,
			BalanceAfter:   int64(i),
			Type:           typ,
			Reason:         "test",
		})
		require.NoError(t, err)
	}

	rows, err := q.ListCreditTransactions(ctx, ListCreditTransactionsParams{OrganizationID: ToPgUUID(orgID), Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, int64(-50), rows[0].Amount)
	assert.Equal(t, int64(100), rows[2].Amount)
	assert.Greater(t, rows[0].Seq, rows[1].Seq)

	total, err := q.CountCreditTransactions(ctx, ToPgUUID(orgID))
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}

func TestOutboxClaimAndMark(t *testing.T) {
	pool := pgtest.Open(t)
	q := New(pool)
	ctx := context.Background()

	id := uuid.New()
	require.NoError(t, q.InsertOutboxEvent(ctx, InsertOutboxEventParams{
		ID:            ToPgUUID(id),
		EventType:     "payout.requested",
		AggregateType: "payout_request",
		AggregateID:   ToPgUUID(uuid.New()),
		Payload:       []byte(`{"amount":100}`),
	}))

	claimed, err := q.ClaimOutboxEvents(ctx, ClaimOutboxEventsParams{MaxAttempts: 3, Limit: 10})
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "PROCESSING", claimed[0].Status)

	again, err := q.ClaimOutboxEvents(ctx, ClaimOutboxEventsParams{MaxAttempts: 3, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, again)

	n, err := q.MarkOutboxEventFailed(ctx, MarkOutboxEventFailedParams{ID: ToPgUUID(id), LastError: "broker down"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	backlog, err := q.CountOutboxBacklog(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), backlog)

	claimed, err = q.ClaimOutboxEvents(ctx, ClaimOutboxEventsParams{MaxAttempts: 3, Limit: 10})
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, int32(1), claimed[0].Attempts)

	n, err = q.MarkOutboxEventPublished(ctx, ToPgUUID(id))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	backlog, err = q.CountOutboxBacklog(ctx, 3)
	require.NoError(t, err)
	assert.Zero(t, backlog)
}

func TestIdempotencyKeyReservation(t *testing.T) {
	pool := pgtest.Open(t)
	q := New(pool)
	ctx := context.Background()

	params := ReserveIdempotencyKeyParams{IdempotencyKey: "key-1", RequestHash: "abc", Method: "POST", Path: "/v1/payout-requests"}
	rec, err := q.ReserveIdempotencyKey(ctx, params)
	require.NoError(t, err)
	assert.True(t, rec.InProgress)

	_, err = q.ReserveIdempotencyKey(ctx, params)
	require.ErrorIs(t, err, pgx.ErrNoRows)

	rec, err = q.FinalizeIdempotencyKey(ctx, FinalizeIdempotencyKeyParams{
		ResponseStatus: 201,
		ResponseBody:   []byte(`{}`),
		ContentType:    "application/json",
		IdempotencyKey: "key-1",
		RequestHash:    "abc",
	})
	require.NoError(t, err)
	assert.False(t, rec.InProgress)
	assert.Equal(t, int32(201), rec.ResponseStatus)
}
