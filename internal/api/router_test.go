package api_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ayo6706/marketplace-ledger/internal/api"
	"github.com/ayo6706/marketplace-ledger/internal/api/middleware"
	"github.com/ayo6706/marketplace-ledger/internal/service"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newOfflineRouter builds routes with no database behind them. Only paths
// that are rejected before reaching a service are safe to exercise.
func newOfflineRouter() http.Handler {
	cfg := testConfig()
	return api.NewRouter(cfg, zap.NewNop(), nil, api.Services{
		OrderEvents: service.NewOrderEventService(nil, nil, cfg.WebhookHMACKey, false),
	}, nil, nil).Routes()
}

func serve(h http.Handler, method, path, token string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestPublicEndpoints(t *testing.T) {
	h := newOfflineRouter()

	rr := serve(h, http.MethodGet, "/health/live", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Trace-ID"))

	rr = serve(h, http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = serve(h, http.MethodGet, "/openapi.yaml", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "/v1/payout-requests/{id}/complete")

	rr = serve(h, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = serve(h, http.MethodGet, "/v1/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
}

func TestAuthAndRoles(t *testing.T) {
	h := newOfflineRouter()
	orgID := uuid.New()

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		status int
	}{
		{"missing token", http.MethodGet, "/v1/organizations/" + orgID.String() + "/balance", "", http.StatusUnauthorized},
		{"garbage token", http.MethodGet, "/v1/organizations/" + orgID.String() + "/balance", "not-a-jwt", http.StatusUnauthorized},
		{"buyer role", http.MethodGet, "/v1/organizations/" + orgID.String() + "/balance", generateToken(uuid.NewString(), middleware.RoleBuyer, orgID.String()), http.StatusForbidden},
		{"buyer without organization", http.MethodGet, "/v1/organizations/" + orgID.String() + "/balance", generateTokenWithRole(uuid.NewString(), middleware.RoleBuyer), http.StatusUnauthorized},
		{"unknown role", http.MethodGet, "/v1/organizations/" + orgID.String() + "/balance", generateTokenWithRole(uuid.NewString(), "auditor"), http.StatusUnauthorized},
		{"other seller's balance", http.MethodGet, "/v1/organizations/" + orgID.String() + "/balance", generateSellerToken(uuid.NewString(), uuid.New()), http.StatusForbidden},
		{"seller on admin route", http.MethodGet, "/v1/payout-requests", generateSellerToken(uuid.NewString(), orgID), http.StatusForbidden},
		{"seller completing leg", http.MethodPost, "/v1/clearing/legs/" + uuid.NewString() + "/complete", generateSellerToken(uuid.NewString(), orgID), http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := serve(h, tc.method, tc.path, tc.token, "")
			assert.Equal(t, tc.status, rr.Code, rr.Body.String())
		})
	}
}

func TestRequestValidation(t *testing.T) {
	h := newOfflineRouter()
	admin := generateTokenWithRole(uuid.NewString(), middleware.RoleAdmin)
	orgID := uuid.NewString()

	cases := []struct {
		name   string
		path   string
		body   string
		detail string
	}{
		{"bad org id", "/v1/organizations/xyz/credit-adjustments", `{}`, "Invalid id"},
		{"malformed json", "/v1/organizations/" + orgID + "/credit-adjustments", `{"amount":`, "Invalid request body"},
		{"unknown field", "/v1/organizations/" + orgID + "/credit-adjustments", `{"amount":1,"bogus":true}`, "Invalid request body"},
		{"missing account type", "/v1/organizations/" + orgID + "/credit-adjustments", `{"amount":100,"type":"credit","reason":"x"}`, "account_type is required"},
		{"zero amount", "/v1/organizations/" + orgID + "/credit-adjustments", `{"account_type":"SELLER","amount":0,"type":"credit","reason":"x"}`, "amount must be greater than 0"},
		{"bad type", "/v1/organizations/" + orgID + "/credit-adjustments", `{"account_type":"SELLER","amount":5,"type":"refund","reason":"x"}`, "type must be one of [credit debit]"},
		{"bad order id", "/v1/organizations/" + orgID + "/credit-adjustments", `{"account_type":"SELLER","amount":5,"type":"credit","reason":"x","order_id":"nope"}`, "order_id must be a valid UUID"},
		{"reject without reason", "/v1/payout-requests/" + uuid.NewString() + "/reject", `{}`, "reason is required"},
		{"complete without proof", "/v1/payout-requests/" + uuid.NewString() + "/complete", `{"admin_note":"x"}`, "proof_reference is required"},
		{"payout bad seller", "/v1/payout-requests", `{"seller_organization_id":"x","amount":5}`, "seller_organization_id must be a valid UUID"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := serve(h, http.MethodPost, tc.path, admin, tc.body)
			require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			assert.Contains(t, rr.Body.String(), tc.detail)
		})
	}

	rr := serve(h, http.MethodGet, "/v1/payout-requests?limit=-1", admin, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestOrderEventWebhookRejectsBadSignature(t *testing.T) {
	h := newOfflineRouter()
	body := []byte(`{"event_id":"e1","type":"order.delivered","order_id":"` + uuid.NewString() + `"}`)

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/order-events", bytes.NewReader(body))
	req.Header.Set("X-Signature", "sha256=deadbeef")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/webhooks/order-events", bytes.NewReader([]byte(`{"type":""}`)))
	req.Header.Set("X-Signature", sign([]byte(`{"type":""}`)))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
