package service

import (
	"context"
	"sync"
	"testing"

	"github.com/ayo6706/marketplace-ledger/internal/domain"
	"github.com/ayo6706/marketplace-ledger/internal/repository"
	"github.com/ayo6706/marketplace-ledger/internal/testutil/pgtest"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

type publishedMessage struct {
	RoutingKey string
	Body       []byte
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []publishedMessage
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, publishedMessage{RoutingKey: routingKey, Body: body})
	return nil
}

func (p *recordingPublisher) messages() []publishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedMessage(nil), p.msgs...)
}

type fixture struct {
	pool      *pgxpool.Pool
	repo      *repository.Repository
	store     *repository.Store
	queries   *repository.Queries
	publisher *recordingPublisher
	events    *OutboxService
	balances  *BalanceStore
	credits   *CreditLedger
	creditor  *OrderBalanceCreditor
	payouts   *PayoutRequestService
	clearing  *ClearingEngine
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithOptions(t, BalanceOptions{DefaultCurrency: "USD"})
}

func newFixtureWithOptions(t *testing.T, opts BalanceOptions) *fixture {
	t.Helper()

	pool := pgtest.Open(t)
	store := repository.NewStore(pool)
	publisher := &recordingPublisher{}
	events := NewOutboxService(store, publisher, 3)
	balances := NewBalanceStore(store, opts)

	return &fixture{
		pool:      pool,
		repo:      repository.NewRepository(pool),
		store:     store,
		queries:   store.Queries(),
		publisher: publisher,
		events:    events,
		balances:  balances,
		credits:   NewCreditLedger(store, balances, events),
		creditor:  NewOrderBalanceCreditor(store, balances, events),
		payouts:   NewPayoutRequestService(store, balances, events),
		clearing:  NewClearingEngine(store, balances, events),
	}
}

func (f *fixture) seedOrg(t *testing.T, accountType string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, f.repo.CreateOrganization(context.Background(), &repository.Organization{
		ID:          repository.ToPgUUID(id),
		Name:        accountType + "-" + id.String()[:8],
		AccountType: accountType,
	}))
	return id
}

func (f *fixture) seedOrder(t *testing.T, buyerID, sellerID uuid.UUID, amount int64, inspection string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, f.repo.CreateOrder(context.Background(), &repository.Order{
		ID:                   repository.ToPgUUID(id),
		BuyerOrganizationID:  repository.ToPgUUID(buyerID),
		SellerOrganizationID: repository.ToPgUUID(sellerID),
		TotalAmount:          amount,
		Currency:             "USD",
		Status:               "SHIPPED",
		InspectionStatus:     inspection,
		PaymentStatus:        "PENDING",
	}))
	return id
}

// fund credits the seller's available balance through the delivered-order path.
func (f *fixture) fund(t *testing.T, sellerID uuid.UUID, amount int64) {
	t.Helper()
	buyerID := f.seedOrg(t, domain.AccountTypeBuyer)
	orderID := f.seedOrder(t, buyerID, sellerID, amount, "PENDING")
	outcome, err := f.creditor.OnOrderDelivered(context.Background(), OrderDelivered{
		EventID:        uuid.NewString(),
		OrderID:        orderID,
		SellerOrgID:    sellerID,
		TotalAmount:    amount,
		Currency:       "USD",
		PreviousStatus: "SHIPPED",
		Status:         domain.OrderStatusDelivered,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeCredited, outcome)
}

func (f *fixture) available(t *testing.T, orgID uuid.UUID) int64 {
	t.Helper()
	bal, err := f.balances.Get(context.Background(), orgID)
	require.NoError(t, err)
	return bal.Available
}

func (f *fixture) auditActions(t *testing.T, entityType string, entityID uuid.UUID) []string {
	t.Helper()
	rows, err := f.queries.ListAuditLogByEntity(context.Background(), repository.ListAuditLogByEntityParams{
		EntityType: entityType,
		EntityID:   repository.ToPgUUID(entityID),
	})
	require.NoError(t, err)
	actions := make([]string, 0, len(rows))
	for _, row := range rows {
		actions = append(actions, row.Action)
	}
	return actions
}
