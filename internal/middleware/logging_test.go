package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trafficmon/edge-pipeline/internal/obslog"
)

func TestCorrelate_GeneratesIDWhenAbsent(t *testing.T) {
	log := obslog.New("httpapi", "error")
	var captured string
	handler := Correlate(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = CorrelationID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.NotEmpty(t, captured)
	require.Equal(t, captured, rec.Header().Get("X-Correlation-ID"))
}

func TestCorrelate_ReusesInboundHeader(t *testing.T) {
	log := obslog.New("httpapi", "error")
	var captured string
	handler := Correlate(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = CorrelationID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Correlation-ID", "abc123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, "abc123", captured)
	require.Equal(t, "abc123", rec.Header().Get("X-Correlation-ID"))
}
