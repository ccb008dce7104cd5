package rates

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/hedge-snapshots/internal/errors"
	"github.com/hedge-snapshots/internal/models"
	"github.com/hedge-snapshots/internal/types"
)

func ptr(v float64) *float64 { return &v }

func usdTwoTier() *TieredRateTable {
	return NewTieredRateTable("USD", []models.TieredRate{
		{TierFrom: 10000, TierTo: nil, Rate: 0.005},
		{TierFrom: 0, TierTo: ptr(10000), Rate: 0.01},
	})
}

func TestInterest_WorkedExample(t *testing.T) {
	table := usdTwoTier()
	ttm := 30.0 / 365.0

	got, err := table.Interest(15000, ttm)
	require.NoError(t, err)

	want := 10000*0.01*ttm + 5000*0.005*ttm
	assert.InDelta(t, want, got, 1e-12)
	assert.InDelta(t, 10.27, got, 0.005)
}

func TestInterest_NegativeAmountKeepsSign(t *testing.T) {
	table := usdTwoTier()
	pos, err := table.Interest(15000, 1)
	require.NoError(t, err)
	neg, err := table.Interest(-15000, 1)
	require.NoError(t, err)
	assert.Equal(t, -pos, neg)
}

func TestInterest_WithinFirstTier(t *testing.T) {
	got, err := usdTwoTier().Interest(2500, 1)
	require.NoError(t, err)
	assert.InDelta(t, 25.0, got, 1e-12)
}

func TestInterest_ExactlyOnBoundary(t *testing.T) {
	got, err := usdTwoTier().Interest(10000, 1)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, got, 1e-12)
}

func TestInterest_Zero(t *testing.T) {
	got, err := usdTwoTier().Interest(0, 1)
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestInterest_TierMismatch(t *testing.T) {
	table := NewTieredRateTable("EUR", []models.TieredRate{
		{TierFrom: 0, TierTo: ptr(1000), Rate: 0.01},
		{TierFrom: 2000, TierTo: nil, Rate: 0.02},
	})

	_, err := table.Interest(5000, 1)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeTierMismatch))

	// Amounts that never reach the gap are still priced
	got, err := table.Interest(500, 1)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, got, 1e-12)
}

func TestInterest_NoUnboundedTierCapsCoverage(t *testing.T) {
	table := NewTieredRateTable("GBP", []models.TieredRate{
		{TierFrom: 0, TierTo: ptr(100), Rate: 0.1},
	})
	got, err := table.Interest(1000, 1)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, got, 1e-12)
	assert.Equal(t, 100.0, table.Attributed(1000))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		tiers []models.TieredRate
		ok    bool
	}{
		{"flat", []models.TieredRate{{TierFrom: 0, Rate: 0.01}}, true},
		{"two tiers", usdTwoTier().Tiers, true},
		{"does not start at zero", []models.TieredRate{{TierFrom: 5, Rate: 0.01}}, false},
		{"unbounded not last", []models.TieredRate{
			{TierFrom: 0, Rate: 0.01},
			{TierFrom: 0, TierTo: ptr(10), Rate: 0.02},
		}, false},
		{"empty tier", []models.TieredRate{{TierFrom: 0, TierTo: ptr(0), Rate: 0.01}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewTieredRateTable("USD", tt.tiers).Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, apperrors.HasCode(err, apperrors.CodeTierMismatch), "got %v", err)
			}
		})
	}
}

func TestFromRows_UsesMostRecentDatePerCurrency(t *testing.T) {
	d1 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 1)
	rows := []models.RateRow{
		{Broker: "IBKR", Currency: "USD", Date: d1, Direction: types.DirectionDeposit, Rate: 0.01},
		{Broker: "IBKR", Currency: "USD", Date: d2, Direction: types.DirectionDeposit, TierTo: ptr(1000), Rate: 0.02},
		{Broker: "IBKR", Currency: "USD", Date: d2, Direction: types.DirectionDeposit, TierFrom: ptr(1000), Rate: 0.03},
		{Broker: "IBKR", Currency: "USD", Date: d1, Direction: types.DirectionLoan, Rate: 0.05},
		{Broker: "IBKR", Currency: "EUR", Date: d2, Direction: types.DirectionDeposit, Rate: 0.02},
	}

	c := FromRows("IBKR", d2, rows)

	dep, ok := c.Table(types.DirectionDeposit, "USD")
	require.True(t, ok)
	require.Len(t, dep.Tiers, 2)
	assert.Equal(t, 0.0, dep.Tiers[0].TierFrom)
	assert.Equal(t, 0.02, dep.Tiers[0].Rate)
	assert.Equal(t, 0.03, dep.Tiers[1].Rate)

	loan, ok := c.Table(types.DirectionLoan, "USD")
	require.True(t, ok)
	assert.Equal(t, 0.05, loan.Tiers[0].Rate)

	assert.True(t, c.HasCurrency("USD"))
	assert.False(t, c.HasCurrency("EUR"), "EUR has no loan table")
	assert.Equal(t, []types.Currency{"USD"}, c.Currencies())

	_, ok = c.Table(types.DirectionLoan, "EUR")
	assert.False(t, ok)
	assert.Empty(t, c.Validate())
}

func TestBrokerRatesCaches(t *testing.T) {
	reg := NewBrokerRatesCaches()
	reg.Add(NewRatesCache("OANDA", time.Time{}, nil, nil))
	reg.Add(NewRatesCache("IBKR", time.Time{}, nil, nil))

	_, ok := reg.Get("IBKR")
	assert.True(t, ok)
	_, ok = reg.Get("NOPE")
	assert.False(t, ok)
	assert.Equal(t, []string{"IBKR", "OANDA"}, reg.Brokers())
	assert.Equal(t, 2, reg.Len())
}

func TestAttributed_Infinite(t *testing.T) {
	assert.True(t, math.IsInf(FlatTable("USD", 0.01).Attributed(math.Inf(1)), 1))
}
