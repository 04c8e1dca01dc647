package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkOK(context.Context) error { return nil }
func checkFail(context.Context) error { return errors.New("connection refused") }

func TestHealthChecker_Check(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(h *HealthChecker)
		expected string
	}{
		{
			name:     "no checks",
			setup:    func(h *HealthChecker) {},
			expected: StatusHealthy,
		},
		{
			name: "all healthy",
			setup: func(h *HealthChecker) {
				h.AddCheck("sqlite", true, checkOK)
				h.AddCheck("redis", false, checkOK)
			},
			expected: StatusHealthy,
		},
		{
			name: "optional failure degrades",
			setup: func(h *HealthChecker) {
				h.AddCheck("sqlite", true, checkOK)
				h.AddCheck("redis", false, checkFail)
			},
			expected: StatusDegraded,
		},
		{
			name: "critical failure is unhealthy",
			setup: func(h *HealthChecker) {
				h.AddCheck("redis", false, checkFail)
				h.AddCheck("sqlite", true, checkFail)
			},
			expected: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthChecker("1.0.0")
			tt.setup(h)

			status := h.Check(context.Background())
			assert.Equal(t, tt.expected, status.Status)
			assert.Equal(t, "1.0.0", status.Version)
		})
	}
}

func TestHealthChecker_DependencyDetails(t *testing.T) {
	h := NewHealthChecker("")
	h.AddCheck("redis", false, checkFail)

	status := h.Check(context.Background())
	dep, found := status.Dependencies["redis"]
	require.True(t, found)
	assert.Equal(t, StatusDegraded, dep.Status)
	assert.Equal(t, "connection refused", dep.Message)
}

func TestHealthChecker_Handlers(t *testing.T) {
	h := NewHealthChecker("1.0.0")
	h.AddCheck("sqlite", true, checkFail)

	rec := httptest.NewRecorder()
	h.Liveness(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var status HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, StatusUnhealthy, status.Status)
}
