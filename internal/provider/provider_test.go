package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hedge-snapshots/internal/circuitbreaker"
	"github.com/hedge-snapshots/internal/models"
	"github.com/hedge-snapshots/internal/retry"
	"github.com/hedge-snapshots/internal/types"
)

func TestSpotFxCache(t *testing.T) {
	c := NewSpotFxCache(time.Time{}, map[types.FxPair]float64{
		types.NewFxPair("GBP", "USD"): 1.25,
		types.NewFxPair("USD", "JPY"): 150,
		types.NewFxPair("EUR", "USD"): 0, // dropped
	})

	v, ok := c.GetFx(types.NewFxPair("GBP", "USD"))
	require.True(t, ok)
	assert.Equal(t, 1.25, v)

	v, ok = c.GetFx(types.NewFxPair("USD", "GBP"))
	require.True(t, ok)
	assert.InDelta(t, 0.8, v, 1e-12)

	v, ok = c.GetFx(types.NewFxPair("GBP", "JPY"))
	require.True(t, ok, "triangulated through USD")
	assert.InDelta(t, 187.5, v, 1e-9)

	_, ok = c.GetFx(types.NewFxPair("EUR", "USD"))
	assert.False(t, ok)

	v, ok = c.GetFx(types.NewFxPair("CHF", "CHF"))
	assert.True(t, ok)
	assert.Equal(t, 1.0, v)

	got, err := c.ConvertValue(100, "GBP", "USD")
	require.NoError(t, err)
	assert.InDelta(t, 125.0, got, 1e-12)

	_, err = c.ConvertValue(100, "EUR", "USD")
	assert.Error(t, err)

	got, err = c.ConvertValue(0, "EUR", "USD")
	require.NoError(t, err)
	assert.Zero(t, got)
}

type flakySummary struct {
	calls int
	fail  int
}

func (f *flakySummary) GetBrokerAccountSummary(ctx context.Context, companyID string, accountType types.AccountType) (models.BrokerAccountSummary, bool, error) {
	f.calls++
	if f.calls <= f.fail {
		return models.BrokerAccountSummary{}, false, errors.New("gateway timeout")
	}
	return models.BrokerAccountSummary{TotalCashValue: 10}, true, nil
}

func fastRetry(attempts int) *retry.RetryConfig {
	return &retry.RetryConfig{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func TestResilientBrokerSummary_RetriesTransientFailures(t *testing.T) {
	inner := &flakySummary{fail: 1}
	r := NewResilientBrokerSummary(inner, circuitbreaker.NewManager(nil), fastRetry(3), nil)

	s, ok, err := r.GetBrokerAccountSummary(context.Background(), "c1", types.AccountLive)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 10.0, s.TotalCashValue)
	assert.Equal(t, 2, inner.calls)
}

func TestResilientBrokerSummary_BreakerOpens(t *testing.T) {
	inner := &flakySummary{fail: 1000}
	mgr := circuitbreaker.NewManager(func(name string) *circuitbreaker.Config {
		return &circuitbreaker.Config{Name: name, MaxFailures: 2, FailureThreshold: 1, Timeout: time.Hour, HalfOpenMaxCalls: 1}
	})
	r := NewResilientBrokerSummary(inner, mgr, fastRetry(1), func(string) string { return "IBKR" })
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _, err := r.GetBrokerAccountSummary(ctx, "c1", types.AccountLive)
		require.Error(t, err)
	}
	_, _, err := r.GetBrokerAccountSummary(ctx, "c2", types.AccountLive)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, 2, inner.calls)
}
