package service

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/hedge-snapshots/internal/errors"
	"github.com/hedge-snapshots/internal/models"
	"github.com/hedge-snapshots/internal/storage"
)

func seedHistory(t *testing.T) *storage.MemorySnapshotStore {
	t.Helper()
	store := storage.NewMemorySnapshotStore()
	rows := []models.AccountSnapshot{
		{SnapshotTime: day0, CashflowNPV: 1000, TotalRealizedPnL: 0, UnrealizedPnLFxSpot: 5, Margin: 40,
			DailyRollValue: -1, CumulativeRollValue: -1, HedgedValue: 1005, UnhedgedValue: 1000},
		{SnapshotTime: day1, CashflowNPV: 950, TotalRealizedPnL: 10, UnrealizedPnLFxSpot: 2, TotalCashflowRollOff: 60,
			DailyRollValue: -1, CumulativeRollValue: -2, CumulativeCommission: 1, Margin: 45,
			DailyHedgedVariance: 1, DailyUnhedgedVariance: 4, HedgedValue: 1020, UnhedgedValue: 1010},
		{SnapshotTime: day2, CashflowNPV: 900, TotalRealizedPnL: 25, UnrealizedPnLFxSpot: -3, TotalCashflowRollOff: 120,
			DailyRollValue: -2, CumulativeRollValue: -4, CumulativeCommission: 3, Margin: math.NaN(),
			DailyHedgedVariance: 3, DailyUnhedgedVariance: 12, HedgedValue: 1040, UnhedgedValue: 1020},
	}
	for i := range rows {
		s := rows[i]
		s.ID = uuid.New()
		s.AccountID = "a1"
		s.CompanyID = "c1"
		require.NoError(t, store.InsertAccountSnapshot(context.Background(), &s, true))
	}
	return store
}

func TestAccountSummaryStats(t *testing.T) {
	h := NewHistoryService(seedHistory(t), nil)

	stats, err := h.AccountSummaryStats(context.Background(), "a1", day0, day2)
	require.NoError(t, err)

	T := 2.0 / 365
	assert.True(t, stats.StartDate.Equal(day0))
	assert.True(t, stats.EndDate.Equal(day2))
	assert.Equal(t, 1000.0, stats.InitialCashNPV)
	assert.Equal(t, 900.0, stats.RemainingCashNPV)
	assert.Equal(t, 1040.0, stats.FinalHedgedValue)
	assert.Equal(t, 1020.0, stats.FinalUnhedgedValue)
	assert.Equal(t, 25.0, stats.RealizedHedgePnL)
	assert.Equal(t, -8.0, stats.UnrealizedHedgePnL)
	assert.InDelta(t, 4*T, stats.VarianceOfHedged, 1e-12)
	assert.InDelta(t, 16*T, stats.VarianceOfUnhedged, 1e-12)
	assert.Equal(t, 120.0, stats.CashflowsReceived)
	assert.Equal(t, 40.0, stats.MarginStart)
	assert.True(t, math.IsNaN(stats.MarginEnd))
	assert.Equal(t, -4.0, stats.RollCosts)
	assert.Equal(t, 3.0, stats.CumulativeCommision)
}

func TestAccountSummaryStats_NeedsTwoSnapshots(t *testing.T) {
	h := NewHistoryService(seedHistory(t), nil)

	_, err := h.AccountSummaryStats(context.Background(), "a1", day2, day2.Add(time.Hour))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	_, err = h.AccountSummaryStats(context.Background(), "a1", day2, day0)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidParameter))
}

func TestVarianceSeries(t *testing.T) {
	h := NewHistoryService(seedHistory(t), nil)

	series, err := h.VarianceSeries(context.Background(), "a1", day0, day2)
	require.NoError(t, err)
	require.Len(t, series, 3)

	assert.Nil(t, series[0].VarianceReduction, "no unhedged variance yet")
	require.NotNil(t, series[1].VarianceReduction)
	assert.InDelta(t, 0.75, *series[1].VarianceReduction, 1e-12)
	assert.InDelta(t, 0.5, *series[1].VolatilityReduction, 1e-12)
	assert.Equal(t, 4.0, series[2].HedgedVariance)
	assert.Equal(t, 16.0, series[2].UnhedgedVariance)
	assert.InDelta(t, 0.75, *series[2].VarianceReduction, 1e-12)
}

func TestVerifyAccountChain_DetectsUnattachedNode(t *testing.T) {
	store := seedHistory(t)
	late := &models.AccountSnapshot{ID: uuid.New(), AccountID: "a1", SnapshotTime: day2.AddDate(0, 0, 1)}
	require.NoError(t, store.InsertAccountSnapshot(context.Background(), late, false))

	_, err := NewHistoryService(store, nil).VerifyAccountChain(context.Background(), "a1")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeChainBroken))
}
