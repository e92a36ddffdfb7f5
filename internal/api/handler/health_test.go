package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type okPinger struct{}

func (okPinger) Ping(context.Context) error { return nil }

type consumerState bool

func (c consumerState) Healthy() bool { return bool(c) }

func TestReadyReportsOrderConsumer(t *testing.T) {
	cases := []struct {
		name     string
		consumer HealthChecker
		status   int
		body     string
	}{
		{name: "webhook only", consumer: nil, status: http.StatusOK, body: `"postgres":"ok"`},
		{name: "connected", consumer: consumerState(true), status: http.StatusOK, body: `"order_consumer":"ok"`},
		{name: "reconnecting", consumer: consumerState(false), status: http.StatusServiceUnavailable, body: "health/consumer-unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := &HealthHandler{db: okPinger{}}
			if tc.consumer != nil {
				h.WithConsumer(tc.consumer)
			}
			rr := httptest.NewRecorder()
			h.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
			assert.Equal(t, tc.status, rr.Code)
			assert.Contains(t, rr.Body.String(), tc.body)
		})
	}
}

func TestReadyWithoutDatabase(t *testing.T) {
	rr := httptest.NewRecorder()
	NewHealthHandler(nil, nil).Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
