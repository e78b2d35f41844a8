package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"blendrates/observability"
	"blendrates/services/lendingd/config"
)

func TestRateLimiterThrottlesPerClient(t *testing.T) {
	limiter := newRateLimiter(config.RateLimitConfig{RequestsPerMinute: 60, Burst: 2, TrustProxyHeaders: true}, observability.HTTP())
	now := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return now }

	h := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	call := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Real-IP", ip)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusNoContent, call("10.0.0.1"))
	require.Equal(t, http.StatusNoContent, call("10.0.0.1"))
	require.Equal(t, http.StatusTooManyRequests, call("10.0.0.1"))
	require.Equal(t, http.StatusNoContent, call("10.0.0.2"))

	now = now.Add(time.Second)
	require.Equal(t, http.StatusNoContent, call("10.0.0.1"))
}

func TestRateLimiterEvictsIdleVisitors(t *testing.T) {
	limiter := newRateLimiter(config.RateLimitConfig{}, nil)
	now := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return now }
	require.True(t, limiter.allow("a"))
	now = now.Add(2 * visitorTTL)
	require.True(t, limiter.allow("b"))
	require.Len(t, limiter.visitors, 1)
}

func TestClientID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:5555"
	require.Equal(t, "192.0.2.7", clientID(req, true))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	require.Equal(t, "203.0.113.9", clientID(req, true))

	req.Header.Set("X-Real-IP", "198.51.100.1")
	require.Equal(t, "198.51.100.1", clientID(req, true))
	require.Equal(t, "192.0.2.7", clientID(req, false))
}

func TestRateLimiterIgnoresForwardingHeadersByDefault(t *testing.T) {
	limiter := newRateLimiter(config.RateLimitConfig{RequestsPerMinute: 60, Burst: 1}, observability.HTTP())
	now := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return now }

	h := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	call := func(spoofed string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.0.2.7:5555"
		req.Header.Set("X-Real-IP", spoofed)
		req.Header.Set("X-Forwarded-For", spoofed)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusNoContent, call("10.0.0.1"))
	require.Equal(t, http.StatusTooManyRequests, call("10.0.0.2"))
	require.Equal(t, http.StatusTooManyRequests, call("10.0.0.3"))
	require.Len(t, limiter.visitors, 1)
}
