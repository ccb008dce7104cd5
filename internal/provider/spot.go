package provider

import (
	"fmt"
	"time"

	"github.com/hedge-snapshots/internal/types"
)

// SpotFxCache is a map-backed SpotFxConverter for one reference date.
// Missing pairs are served from their inverse, then through the pivot currency.
type SpotFxCache struct {
	refDate time.Time
	pivot   types.Currency
	spots   map[types.FxPair]float64
}

// NewSpotFxCache copies spots; non-positive quotes are dropped
func NewSpotFxCache(refDate time.Time, spots map[types.FxPair]float64) *SpotFxCache {
	c := &SpotFxCache{refDate: refDate, pivot: "USD", spots: make(map[types.FxPair]float64, len(spots))}
	for p, v := range spots {
		if v > 0 {
			c.spots[p] = v
		}
	}
	return c
}

// RefDate is the date the quotes belong to
func (c *SpotFxCache) RefDate() time.Time { return c.refDate }

// GetFx implements SpotFxConverter
func (c *SpotFxCache) GetFx(pair types.FxPair) (float64, bool) {
	if pair.IsSame() {
		return 1, true
	}
	if v, ok := c.direct(pair); ok {
		return v, true
	}
	if pair.Base == c.pivot || pair.Quote == c.pivot {
		return 0, false
	}
	left, okL := c.direct(types.NewFxPair(pair.Base, c.pivot))
	right, okR := c.direct(types.NewFxPair(c.pivot, pair.Quote))
	if !okL || !okR {
		return 0, false
	}
	return left * right, true
}

func (c *SpotFxCache) direct(pair types.FxPair) (float64, bool) {
	if v, ok := c.spots[pair]; ok {
		return v, true
	}
	if v, ok := c.spots[pair.Inverse()]; ok {
		return 1 / v, true
	}
	return 0, false
}

// ConvertValue implements SpotFxConverter
func (c *SpotFxCache) ConvertValue(amount float64, from, to types.Currency) (float64, error) {
	if from == to || amount == 0 {
		return amount, nil
	}
	rate, ok := c.GetFx(types.NewFxPair(from, to))
	if !ok {
		return 0, fmt.Errorf("no spot rate to convert %s to %s", from, to)
	}
	return amount * rate, nil
}
