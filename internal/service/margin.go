package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/hedge-snapshots/internal/models"
	"github.com/hedge-snapshots/internal/provider"
	"github.com/hedge-snapshots/internal/types"
)

// MarginEstimator is a univariate Gaussian VaR over FX positions, each position treated as
// independent: z * sqrt(sum((value * vol)^2)) * sqrt(holdingDays / 365).
type MarginEstimator struct {
	vols        provider.VolatilityProvider
	holdingDays int
	confidence  float64
}

// NewMarginEstimator creates an estimator. Non-positive holding days mean one day and a
// confidence outside (0.5, 1) means 0.99.
func NewMarginEstimator(vols provider.VolatilityProvider, holdingDays int, confidence float64) *MarginEstimator {
	if holdingDays <= 0 {
		holdingDays = 1
	}
	if confidence <= 0.5 || confidence >= 1 {
		confidence = 0.99
	}
	return &MarginEstimator{vols: vols, holdingDays: holdingDays, confidence: confidence}
}

// zScore is the standard normal quantile of p
func zScore(p float64) float64 {
	return math.Sqrt2 * math.Erfinv(2*p-1)
}

// Estimate returns the margin of positions in domestic currency
func (m *MarginEstimator) Estimate(ctx context.Context, date time.Time, positions []models.FxPosition, domestic types.Currency, fx provider.SpotFxConverter) (float64, error) {
	if len(positions) == 0 {
		return 0, nil
	}
	if m.vols == nil {
		return math.NaN(), fmt.Errorf("no volatility provider configured")
	}

	pairs := make([]types.FxPair, 0, len(positions))
	for _, p := range positions {
		pairs = append(pairs, p.Pair)
	}
	vols, err := m.vols.GetSpotVols(ctx, date, pairs)
	if err != nil {
		return math.NaN(), fmt.Errorf("spot vols: %w", err)
	}

	variance := 0.0
	for _, p := range positions {
		vol, ok := vols[p.Pair]
		if !ok {
			vol, ok = vols[p.Pair.Inverse()]
		}
		if !ok || math.IsNaN(vol) {
			return math.NaN(), fmt.Errorf("no volatility for %s", p.Pair)
		}
		value, err := fx.ConvertValue(p.Amount, p.Pair.Base, domestic)
		if err != nil {
			return math.NaN(), err
		}
		variance += (value * vol) * (value * vol)
	}

	horizon := types.Actual365Fixed{}.YearFractionFromDays(m.holdingDays)
	return zScore(m.confidence) * math.Sqrt(variance) * math.Sqrt(horizon), nil
}
