package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ayo6706/marketplace-ledger/internal/idempotency"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestIdempotencyRequiresKeyOnWrites(t *testing.T) {
	called := false
	h := IdempotencyMiddleware(idempotency.NewStore(nil, nil, time.Hour), zap.NewNop())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }),
	)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/payout-requests", strings.NewReader(`{}`)))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.False(t, called)
	assert.Contains(t, rr.Body.String(), "idempotency/missing-key")
}

func TestIdempotencyPassesSafeMethods(t *testing.T) {
	h := IdempotencyMiddleware(idempotency.NewStore(nil, nil, time.Hour), zap.NewNop())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }),
	)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/payout-requests", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestRequestFingerprint(t *testing.T) {
	a := requestFingerprint(http.MethodPost, "/v1/a", []byte(`{"amount":1}`))
	assert.Equal(t, a, requestFingerprint(http.MethodPost, "/v1/a", []byte(`{"amount":1}`)))
	assert.NotEqual(t, a, requestFingerprint(http.MethodPost, "/v1/a", []byte(`{"amount":2}`)))
	assert.NotEqual(t, a, requestFingerprint(http.MethodPost, "/v1/b", []byte(`{"amount":1}`)))
}

func TestCaptureWriterDefaultsToOK(t *testing.T) {
	cw := &captureWriter{ResponseWriter: httptest.NewRecorder()}
	assert.Equal(t, http.StatusOK, cw.statusOrOK())
	_, _ = cw.Write([]byte("x"))
	assert.Equal(t, "x", cw.body.String())
}
