package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blendrates/native/lending"
	"blendrates/storage"
)

type captureRecorder struct {
	mu      sync.Mutex
	updates []Update
	err     error
}

func (c *captureRecorder) Record(_ context.Context, update Update) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, update)
	return c.err
}

var start = time.Unix(1_700_000_000, 0).UTC()

func curve() lending.CurveConfig {
	return lending.NewCurve("0.75", "0.95", "0.005", "0.04", "0.1", "1", "0.00002")
}

func TestObserveCreatesThenDrifts(t *testing.T) {
	ctx := context.Background()
	rec := &captureRecorder{}
	s := New(storage.NewMemDB(), WithRecorder(rec))

	_, err := s.Get(ctx, "USDC")
	require.ErrorIs(t, err, ErrNotFound)

	first, err := s.Observe(ctx, " USDC ", curve(), decimal.RequireFromString("0.95"), start)
	require.NoError(t, err)
	require.True(t, first.Created)
	require.Equal(t, "USDC", first.ReserveID)
	require.True(t, first.Next.CurrentModifier.Equal(decimal.NewFromInt(1)))

	second, err := s.Observe(ctx, "USDC", curve(), decimal.RequireFromString("0.95"), start.Add(time.Hour))
	require.NoError(t, err)
	require.False(t, second.Created)
	require.Equal(t, "1.0576", second.Next.CurrentModifier.String())

	stored, err := s.Get(ctx, "USDC")
	require.NoError(t, err)
	require.True(t, stored.CurrentModifier.Equal(second.Next.CurrentModifier))
	require.True(t, stored.LastUpdateTime.Equal(start.Add(time.Hour)))

	require.Len(t, rec.updates, 2)
}

func TestObserveRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemDB())

	_, err := s.Observe(ctx, "  ", curve(), decimal.Zero, start)
	require.ErrorIs(t, err, ErrInvalidReserve)

	_, err = s.Observe(ctx, "USDC", curve(), decimal.RequireFromString("-1"), start)
	require.ErrorIs(t, err, lending.ErrInvalidInput)

	_, err = s.Get(ctx, "USDC")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestObserveHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New(storage.NewMemDB())
	_, err := s.Observe(ctx, "USDC", curve(), decimal.Zero, start)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRecorderFailureDoesNotFailObserve(t *testing.T) {
	rec := &captureRecorder{err: errors.New("database unavailable")}
	s := New(storage.NewMemDB(), WithRecorder(rec))
	_, err := s.Observe(context.Background(), "XLM", curve(), decimal.RequireFromString("0.5"), start)
	require.NoError(t, err)
	_, err = s.Get(context.Background(), "XLM")
	require.NoError(t, err)
}

func TestResetAndReserves(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemDB())
	for _, id := range []string{"XLM", "USDC", "EURC"} {
		_, err := s.Observe(ctx, id, curve(), decimal.RequireFromString("0.5"), start)
		require.NoError(t, err)
	}
	ids, err := s.Reserves(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"EURC", "USDC", "XLM"}, ids)

	require.NoError(t, s.Reset(ctx, "USDC"))
	_, err = s.Get(ctx, "USDC")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentObservationsStayBounded(t *testing.T) {
	ctx := context.Background()
	steep := curve()
	steep.Reactivity = lending.MustFixed("0.1", lending.RateScale)
	s := New(storage.NewMemDB())

	var wg sync.WaitGroup
	for reserve := 0; reserve < 4; reserve++ {
		for i := 0; i < 25; i++ {
			wg.Add(1)
			go func(reserve, i int) {
				defer wg.Done()
				util := decimal.NewFromInt(int64(i % 2))
				_, err := s.Observe(ctx, fmt.Sprintf("reserve-%d", reserve), steep, util, start.Add(time.Duration(i)*time.Hour))
				assert.NoError(t, err)
			}(reserve, i)
		}
	}
	wg.Wait()

	for reserve := 0; reserve < 4; reserve++ {
		m, err := s.Get(ctx, fmt.Sprintf("reserve-%d", reserve))
		require.NoError(t, err)
		require.True(t, m.CurrentModifier.GreaterThanOrEqual(lending.MinModifier))
		require.True(t, m.CurrentModifier.LessThanOrEqual(lending.MaxModifier))
	}
}
