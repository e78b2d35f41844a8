package client

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"blendrates/native/lending"
	"blendrates/services/lending/api"
	"blendrates/services/lending/engine"
	"blendrates/services/lending/history"
	"blendrates/services/lending/server"
	"blendrates/services/lending/store"
	"blendrates/services/lendingd/config"
	"blendrates/storage"
)

const token = "client-token"

func newTestClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	return newClientForEngine(t, engine.New(store.New(storage.NewMemDB())), opts...)
}

func newHistoryClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	db, err := history.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	recorder := history.NewRecorder(db)
	eng := engine.New(store.New(storage.NewMemDB(), store.WithRecorder(recorder)), engine.WithHistory(recorder))
	return newClientForEngine(t, eng, opts...)
}

func newClientForEngine(t *testing.T, eng engine.Engine, opts ...Option) *Client {
	t.Helper()
	srv := server.New(eng, nil, server.Config{
		Auth:      config.AuthConfig{APITokens: []string{token}},
		RateLimit: config.RateLimitConfig{RequestsPerMinute: 6000, Burst: 100},
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	c, err := New(ts.URL, opts...)
	require.NoError(t, err)
	return c
}

func usdc() api.Reserve {
	return api.FromState(lending.ReserveState{
		ID:            "USDC",
		AssetDecimals: 7,
		TotalSupplied: lending.MustFixed("1000", 7).Value,
		TotalBorrowed: lending.MustFixed("200", 7).Value,
		Curve:         lending.NewCurve("0.75", "0.95", "0.005", "0.04", "0.1", "1", "0.00002"),
	})
}

func TestClientRatesRoundTrip(t *testing.T) {
	c := newTestClient(t)
	resp, err := c.Rates(context.Background(), api.RatesRequest{Reserve: usdc(), BackstopTakeRate: decimal.RequireFromString("0.2")})
	require.NoError(t, err)
	require.Equal(t, "USDC", resp.ReserveID)
	require.True(t, resp.Utilization.Equal(decimal.RequireFromString("0.2")))
	require.InDelta(t, 0.0156667, resp.BorrowAPR.InexactFloat64(), 1e-6)
	require.Equal(t, engine.ModifierDefault, resp.ModifierSource)
}

func TestClientMapsErrors(t *testing.T) {
	c := newTestClient(t)
	_, err := c.Rates(context.Background(), api.RatesRequest{Reserve: usdc(), BackstopTakeRate: decimal.RequireFromString("2")})
	require.ErrorIs(t, err, engine.ErrOutOfBounds)

	_, err = c.Modifier(context.Background(), "unknown")
	require.ErrorIs(t, err, engine.ErrNotFound)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.NotEmpty(t, apiErr.RequestID)

	_, err = c.History(context.Background(), "USDC", 5)
	require.ErrorIs(t, err, engine.ErrUnavailable)
}

func TestClientObserveRequiresToken(t *testing.T) {
	util := decimal.RequireFromString("0.95")
	curve := lending.NewCurve("0.75", "0.95", "0.005", "0.04", "0.1", "1", "0.00002").Params()
	start := time.Unix(1_700_000_000, 0).UTC()

	anonymous := newTestClient(t)
	_, err := anonymous.Observe(context.Background(), "USDC", api.ObservationRequest{Utilization: &util, Curve: &curve, ObservedAt: &start})
	require.True(t, IsUnauthenticated(err))

	c := newTestClient(t, WithToken(token))
	created, err := c.Observe(context.Background(), "USDC", api.ObservationRequest{Utilization: &util, Curve: &curve, ObservedAt: &start})
	require.NoError(t, err)
	require.True(t, created.Created)

	later := start.Add(time.Hour)
	updated, err := c.Observe(context.Background(), "USDC", api.ObservationRequest{Utilization: &util, Curve: &curve, ObservedAt: &later})
	require.NoError(t, err)
	require.True(t, updated.Modifier.Equal(decimal.RequireFromString("1.0576")), updated.Modifier.String())

	stored, err := c.Modifier(context.Background(), "USDC")
	require.NoError(t, err)
	require.True(t, stored.Modifier.Equal(updated.Modifier))
	require.True(t, stored.LastUpdateTime.Equal(later))

	rates, err := c.Rates(context.Background(), api.RatesRequest{Reserve: usdc()})
	require.NoError(t, err)
	require.Equal(t, engine.ModifierFromStore, rates.ModifierSource)
}

func TestClientValidateCurve(t *testing.T) {
	c := newTestClient(t)
	resp, err := c.ValidateCurve(context.Background(), api.ValidateCurveRequest{
		Curve: lending.NewCurve("0.96", "0.95", "0.005", "0.04", "0.1", "1", "0.00002").Params(),
	})
	require.NoError(t, err)
	require.False(t, resp.IsValid)
	require.Contains(t, resp.Report, "status: invalid")
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New("ftp://example.com")
	require.Error(t, err)
}

func TestClientModifierAndHistoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newHistoryClient(t, WithToken(token))
	curve := lending.NewCurve("0.75", "0.95", "0.005", "0.04", "0.1", "1", "0.00002").Params()
	util := decimal.RequireFromString("0.95")
	start := time.Unix(1_700_000_000, 0).UTC()
	later := start.Add(time.Hour)

	_, err := c.Observe(ctx, "USDC", api.ObservationRequest{Utilization: &util, Curve: &curve, ObservedAt: &start})
	require.NoError(t, err)
	_, err = c.Observe(ctx, "USDC", api.ObservationRequest{Utilization: &util, Curve: &curve, ObservedAt: &later})
	require.NoError(t, err)

	mod, err := c.Modifier(ctx, "USDC")
	require.NoError(t, err)
	require.Equal(t, "USDC", mod.ReserveID)
	require.True(t, mod.Modifier.Equal(decimal.RequireFromString("1.0576")), mod.Modifier.String())
	require.True(t, mod.TargetUtilization.Equal(decimal.RequireFromString("0.75")))
	require.True(t, mod.Reactivity.Equal(decimal.RequireFromString("0.00002")))
	require.True(t, mod.LastUpdateTime.Equal(later))

	hist, err := c.History(ctx, "USDC", 0)
	require.NoError(t, err)
	require.Equal(t, "USDC", hist.ReserveID)
	require.Len(t, hist.Entries, 2)
	require.Equal(t, "1.0576", hist.Entries[0].NextModifier)
	require.False(t, hist.Entries[0].Created)
	require.True(t, hist.Entries[1].Created)
	require.NotEmpty(t, hist.Entries[0].ID)

	limited, err := c.History(ctx, "USDC", 1)
	require.NoError(t, err)
	require.Len(t, limited.Entries, 1)

	empty, err := c.History(ctx, "XLM", 0)
	require.NoError(t, err)
	require.Empty(t, empty.Entries)
}
