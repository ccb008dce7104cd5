// Package rates holds the tiered interest and loan tables of a broker.
package rates

import (
	"math"
	"sort"

	apperrors "github.com/hedge-snapshots/internal/errors"
	"github.com/hedge-snapshots/internal/models"
	"github.com/hedge-snapshots/internal/types"
)

// TieredRateTable is the ordered tier list of one currency for one direction
type TieredRateTable struct {
	Currency types.Currency
	Tiers    []models.TieredRate
}

// NewTieredRateTable copies tiers and orders them by TierFrom. It does not validate contiguity,
// so a malformed table surfaces as TIER_MISMATCH when it is used.
func NewTieredRateTable(currency types.Currency, tiers []models.TieredRate) *TieredRateTable {
	sorted := make([]models.TieredRate, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].TierFrom < sorted[j].TierFrom })
	return &TieredRateTable{Currency: currency, Tiers: sorted}
}

// FlatTable is a single unbounded tier at rate
func FlatTable(currency types.Currency, rate float64) *TieredRateTable {
	return &TieredRateTable{Currency: currency, Tiers: []models.TieredRate{{TierFrom: 0, Rate: rate}}}
}

// Validate checks that tiers start at 0, are contiguous, and that only the last one is unbounded
func (t *TieredRateTable) Validate() error {
	last := 0.0
	for i, tier := range t.Tiers {
		if tier.TierFrom != last {
			return apperrors.NewTierMismatchError(t.Currency, i, last, tier.TierFrom)
		}
		if tier.IsUnbounded() {
			if i != len(t.Tiers)-1 {
				return apperrors.NewTierMismatchError(t.Currency, i+1, math.Inf(1), t.Tiers[i+1].TierFrom)
			}
			return nil
		}
		if *tier.TierTo <= tier.TierFrom {
			return apperrors.NewTierMismatchError(t.Currency, i, tier.TierFrom, *tier.TierTo)
		}
		last = *tier.TierTo
	}
	return nil
}

// Interest integrates the tiered simple-interest rate over |amount| for a year fraction ttm.
// The result carries the sign of amount. The balance beyond the last bounded tier earns nothing.
func (t *TieredRateTable) Interest(amount, ttm float64) (float64, error) {
	sign := 1.0
	switch {
	case amount < 0:
		sign = -1
	case amount == 0:
		return 0, nil
	}
	a := math.Abs(amount)

	lastTier, interest := 0.0, 0.0
	for i, tier := range t.Tiers {
		if tier.TierFrom != lastTier {
			return 0, apperrors.NewTierMismatchError(t.Currency, i, lastTier, tier.TierFrom)
		}
		capped := a
		if !tier.IsUnbounded() {
			capped = math.Min(*tier.TierTo, a)
		}
		interest += (capped - lastTier) * tier.Rate * ttm
		if tier.IsUnbounded() || a < *tier.TierTo {
			break
		}
		lastTier = *tier.TierTo
	}
	return sign * interest, nil
}

// Attributed returns how much of |amount| the tiers cover
func (t *TieredRateTable) Attributed(amount float64) float64 {
	a := math.Abs(amount)
	covered, lastTier := 0.0, 0.0
	for _, tier := range t.Tiers {
		capped := a
		if !tier.IsUnbounded() {
			capped = math.Min(*tier.TierTo, a)
		}
		covered += capped - lastTier
		if tier.IsUnbounded() || a < *tier.TierTo {
			break
		}
		lastTier = *tier.TierTo
	}
	return covered
}
