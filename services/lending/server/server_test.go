package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"blendrates/native/lending"
	"blendrates/services/lending/api"
	"blendrates/services/lending/engine"
	"blendrates/services/lendingd/config"
)

const testToken = "test-token"

var sentinelErrorCases = []struct {
	name   string
	err    error
	status int
	code   string
}{
	{name: "invalid input", err: engine.ErrInvalidInput, status: http.StatusBadRequest, code: "invalid_input"},
	{name: "out of bounds", err: engine.ErrOutOfBounds, status: http.StatusUnprocessableEntity, code: "out_of_bounds"},
	{name: "not found", err: engine.ErrNotFound, status: http.StatusNotFound, code: "not_found"},
	{name: "unavailable", err: engine.ErrUnavailable, status: http.StatusServiceUnavailable, code: "unavailable"},
	{name: "internal", err: engine.ErrInternal, status: http.StatusInternalServerError, code: "internal"},
	{name: "deadline", err: context.DeadlineExceeded, status: http.StatusGatewayTimeout, code: "timeout"},
}

func newTestServer(t *testing.T, eng engine.Engine) http.Handler {
	t.Helper()
	srv := New(eng, nil, Config{
		Auth:      config.AuthConfig{APITokens: []string{testToken}},
		RateLimit: config.RateLimitConfig{RequestsPerMinute: 6000, Burst: 100},
	})
	return srv.Router()
}

func do(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func wireReserve() api.Reserve {
	return api.FromState(lending.ReserveState{
		ID:            "USDC",
		AssetDecimals: 7,
		TotalSupplied: lending.MustFixed("1000", 7).Value,
		TotalBorrowed: lending.MustFixed("200", 7).Value,
		Curve:         lending.DefaultCurve,
	})
}

func TestHealthzAndRequestID(t *testing.T) {
	h := newTestServer(t, &fakeEngine{})
	rec := do(t, h, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	rec = do(t, h, http.MethodGet, "/healthz", nil, map[string]string{RequestIDHeader: "abc"})
	require.Equal(t, "abc", rec.Header().Get(RequestIDHeader))
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t, &fakeEngine{})
	do(t, h, http.MethodGet, "/healthz", nil, nil)
	rec := do(t, h, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "blend_http_requests_total")
}

func TestRatesHandler(t *testing.T) {
	var got engine.RatesRequest
	eng := &fakeEngine{ratesFn: func(_ context.Context, req engine.RatesRequest) (engine.Rates, error) {
		got = req
		return engine.Rates{
			RateSnapshot: lending.RateSnapshot{
				ReserveID:   req.Reserve.ID,
				Utilization: decimal.RequireFromString("0.2"),
				BorrowAPR:   decimal.RequireFromString("0.0156667"),
				BorrowAPY:   lending.APY{Value: decimal.RequireFromString("0.0158")},
			},
			Modifier:       decimal.NewFromInt(1),
			ModifierSource: engine.ModifierDefault,
		}, nil
	}}
	h := newTestServer(t, eng)
	rec := do(t, h, http.MethodPost, "/v1/rates", api.RatesRequest{
		Reserve:          wireReserve(),
		BackstopTakeRate: decimal.RequireFromString("0.1"),
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Equal(t, "USDC", got.Reserve.ID)
	require.Equal(t, "10000000000", got.Reserve.TotalSupplied.String())
	require.True(t, got.BackstopTakeRate.Equal(decimal.RequireFromString("0.1")))

	var resp api.RatesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "USDC", resp.ReserveID)
	require.True(t, resp.Utilization.Equal(decimal.RequireFromString("0.2")))
	require.Equal(t, engine.ModifierDefault, resp.ModifierSource)
}

func TestRatesHandlerRejectsMalformedBodies(t *testing.T) {
	h := newTestServer(t, &fakeEngine{})
	for name, body := range map[string]string{
		"not json":      "{",
		"unknown field": `{"reserve": {}, "bogus": 1}`,
		"bad amount":    `{"reserve": {"total_supplied": "abc"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/v1/rates", body, nil)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			var resp api.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			require.Equal(t, "malformed_request", resp.Code)
			require.NotEmpty(t, resp.RequestID)
		})
	}
}

func TestEngineErrorsMapToStatus(t *testing.T) {
	for _, tc := range sentinelErrorCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			eng := &fakeEngine{modifierFn: func(context.Context, string) (engine.ModifierState, error) {
				return engine.ModifierState{}, fmt.Errorf("wrap: %w", tc.err)
			}}
			rec := do(t, newTestServer(t, eng), http.MethodGet, "/v1/reserves/USDC/modifier", nil, nil)
			require.Equal(t, tc.status, rec.Code)
			var resp api.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			require.Equal(t, tc.code, resp.Code)
			if tc.status == http.StatusInternalServerError {
				require.Equal(t, "internal error", resp.Error)
			}
		})
	}
}

func TestValidateCurveHandler(t *testing.T) {
	h := newTestServer(t, &fakeEngine{})
	body := api.ValidateCurveRequest{Curve: lending.NewCurve("0.92", "0.95", "0.005", "0.04", "0.2", "0.1", "0.00002").Params()}

	rec := do(t, h, http.MethodPost, "/v1/curves/validate", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp api.ValidationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.IsValid)
	require.Empty(t, resp.Issues)
	require.Len(t, resp.Warnings, 2)
	require.True(t, strings.HasPrefix(resp.Report, "status: valid\n"))

	rec = do(t, h, http.MethodPost, "/v1/curves/validate", body, map[string]string{"Accept": "text/plain"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, resp.Report, rec.Body.String())
}

func TestObserveRequiresAuthentication(t *testing.T) {
	called := false
	eng := &fakeEngine{observeFn: func(_ context.Context, obs engine.Observation) (engine.ModifierState, error) {
		called = true
		return engine.ModifierState{ReserveID: obs.ReserveID, Modifier: decimal.NewFromInt(1), Created: true}, nil
	}}
	h := newTestServer(t, eng)
	util := decimal.RequireFromString("0.8")
	curve := lending.DefaultCurve.Params()
	body := api.ObservationRequest{Utilization: &util, Curve: &curve}

	rec := do(t, h, http.MethodPost, "/v1/reserves/USDC/observations", body, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.False(t, called)

	rec = do(t, h, http.MethodPost, "/v1/reserves/USDC/observations", body, map[string]string{"Authorization": "Bearer " + testToken})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.True(t, called)
}

func TestObservePassesDecodedObservation(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	var got engine.Observation
	eng := &fakeEngine{observeFn: func(_ context.Context, obs engine.Observation) (engine.ModifierState, error) {
		got = obs
		return engine.ModifierState{ReserveID: obs.ReserveID, Modifier: decimal.RequireFromString("1.01"), LastUpdateTime: at}, nil
	}}
	h := newTestServer(t, eng)
	reserve := wireReserve()
	rec := do(t, h, http.MethodPost, "/v1/reserves/USDC/observations",
		api.ObservationRequest{Reserve: &reserve, ObservedAt: &at},
		map[string]string{"X-API-Token": testToken})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "USDC", got.ReserveID)
	require.NotNil(t, got.Reserve)
	require.Nil(t, got.Utilization)
	require.True(t, got.ObservedAt.Equal(at))

	var resp api.ModifierResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Modifier.Equal(decimal.RequireFromString("1.01")))
}

func TestHistoryHandler(t *testing.T) {
	var gotLimit int
	eng := &fakeEngine{historyFn: func(_ context.Context, id string, limit int) ([]engine.HistoryEntry, error) {
		gotLimit = limit
		return []engine.HistoryEntry{{ID: "1", ReserveID: id, NextModifier: "1.1"}}, nil
	}}
	h := newTestServer(t, eng)
	rec := do(t, h, http.MethodGet, "/v1/reserves/USDC/history?limit=5", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 5, gotLimit)
	var resp api.HistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 1)
	require.Equal(t, "1.1", resp.Entries[0].NextModifier)

	rec = do(t, h, http.MethodGet, "/v1/reserves/USDC/history?limit=abc", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecovererHandlesPanics(t *testing.T) {
	eng := &fakeEngine{modifierFn: func(context.Context, string) (engine.ModifierState, error) {
		panic("boom")
	}}
	rec := do(t, newTestServer(t, eng), http.MethodGet, "/v1/reserves/USDC/modifier", nil, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
