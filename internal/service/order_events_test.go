package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/ayo6706/marketplace-ledger/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(key string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(key))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

func TestOrderEventVerify(t *testing.T) {
	payload := []byte(`{"type":"order.delivered"}`)
	svc := NewOrderEventService(nil, nil, "secret", false)

	require.NoError(t, svc.Verify(payload, sign("secret", payload)))
	require.ErrorIs(t, svc.Verify(payload, sign("other", payload)), ErrInvalidSignature)
	require.ErrorIs(t, svc.Verify(payload, ""), ErrInvalidSignature)
	require.ErrorIs(t, svc.Verify([]byte(`{"type":"order.completed"}`), sign("secret", payload)), ErrInvalidSignature)

	noKey := NewOrderEventService(nil, nil, "", false)
	require.ErrorIs(t, noKey.Verify(payload, sign("", payload)), ErrInvalidSignature)

	skip := NewOrderEventService(nil, nil, "", true)
	require.NoError(t, skip.Verify(payload, "garbage"))
}

func TestDecodeOrderEvent(t *testing.T) {
	orderID := uuid.New()

	ev, id, err := DecodeOrderEvent([]byte(`{"event_id":" e1 ","type":"ORDER.DELIVERED","order_id":"` + orderID.String() + `"}`))
	require.NoError(t, err)
	assert.Equal(t, orderID, id)
	assert.Equal(t, "e1", ev.EventID)
	assert.Equal(t, domain.OrderEventDelivered, ev.Type)

	_, _, err = DecodeOrderEvent([]byte(`{not json`))
	require.ErrorIs(t, err, domain.ErrValidation)

	_, _, err = DecodeOrderEvent([]byte(`{"order_id":"` + orderID.String() + `"}`))
	require.ErrorIs(t, err, domain.ErrValidation)

	_, _, err = DecodeOrderEvent([]byte(`{"type":"order.delivered","order_id":"abc"}`))
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestHandleOrderEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := NewOrderEventService(f.creditor, f.clearing, "secret", false)
	buyerID := f.seedOrg(t, domain.AccountTypeBuyer)
	sellerID := f.seedOrg(t, domain.AccountTypeSeller)
	orderID := f.seedOrder(t, buyerID, sellerID, 15000, domain.InspectionStatusApproved)

	encode := func(ev OrderEvent) []byte {
		body, err := json.Marshal(ev)
		require.NoError(t, err)
		return body
	}

	delivered := encode(OrderEvent{
		EventID:              "evt-delivered",
		Type:                 domain.OrderEventDelivered,
		OrderID:              orderID.String(),
		SellerOrganizationID: sellerID.String(),
		TotalAmount:          15000,
		Currency:             "USD",
		PreviousStatus:       "SHIPPED",
		Status:               "DELIVERED",
	})
	res, err := svc.Handle(ctx, delivered)
	require.NoError(t, err)
	assert.Equal(t, string(OutcomeCredited), res.Outcome)
	assert.Equal(t, "evt-delivered", res.EventID)

	res, err = svc.Handle(ctx, delivered)
	require.NoError(t, err)
	assert.Equal(t, string(OutcomeSkippedAlreadyCredited), res.Outcome)
	assert.Equal(t, int64(15000), f.available(t, sellerID))

	inspected := encode(OrderEvent{EventID: "evt-inspected", Type: domain.OrderEventInspectionApproved, OrderID: orderID.String()})
	res, err = svc.Handle(ctx, inspected)
	require.NoError(t, err)
	assert.Contains(t, res.Outcome, "clearing_flow:")
	assert.Equal(t, int64(-15000), f.available(t, buyerID))

	paid := encode(OrderEvent{EventID: "evt-paid", Type: domain.OrderEventPaymentStatusChanged, OrderID: orderID.String(), Leg: "buyer_settlement", Phase: "completed"})
	res, err = svc.Handle(ctx, paid)
	require.NoError(t, err)
	assert.Equal(t, "phase:COMPLETED", res.Outcome)
	assert.Equal(t, int64(0), f.available(t, buyerID))

	res, err = svc.Handle(ctx, encode(OrderEvent{EventID: "evt-x", Type: "order.rated", OrderID: orderID.String()}))
	require.NoError(t, err)
	assert.Equal(t, "ignored", res.Outcome)

	_, err = svc.Handle(ctx, encode(OrderEvent{Type: domain.OrderEventDelivered, OrderID: orderID.String(), SellerOrganizationID: "nope", Status: "DELIVERED"}))
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.Handle(ctx, encode(OrderEvent{Type: domain.OrderEventPaymentStatusChanged, OrderID: orderID.String(), Leg: "escrow", Phase: "completed"}))
	require.ErrorIs(t, err, domain.ErrValidation)
}
