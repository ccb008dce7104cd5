package cost

import (
	"math"

	"github.com/hedge-snapshots/internal/types"
)

// CostCache holds a broker's per-pair trading costs and carry for one run.
// Commission, spread and margin rates are direction-symmetric and fall back to the inverse
// pair. Roll rates are not.
type CostCache struct {
	commission map[types.FxPair]float64
	spreads    map[types.FxPair]float64
	costs      map[types.FxPair]float64
	margin     map[types.FxPair]float64
	roll       map[types.FxPair]RollRate
}

// NewCostCache copies the given tables; nil maps are treated as empty
func NewCostCache(commission, spreads, margin map[types.FxPair]float64, roll map[types.FxPair]RollRate) *CostCache {
	c := &CostCache{
		commission: copyRates(commission),
		spreads:    copyRates(spreads),
		margin:     copyRates(margin),
		costs:      make(map[types.FxPair]float64),
		roll:       make(map[types.FxPair]RollRate, len(roll)),
	}
	for p, v := range c.commission {
		c.costs[p] += v
	}
	for p, v := range c.spreads {
		c.costs[p] += v
	}
	for p, r := range roll {
		c.roll[p] = r
	}
	return c
}

func copyRates(in map[types.FxPair]float64) map[types.FxPair]float64 {
	out := make(map[types.FxPair]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func symmetric(rates map[types.FxPair]float64, pair types.FxPair) float64 {
	if v, ok := rates[pair]; ok {
		return v
	}
	if v, ok := rates[pair.Inverse()]; ok {
		return v
	}
	return math.NaN()
}

// TransactionCost is commission plus spread for pair, NaN when unknown
func (c *CostCache) TransactionCost(pair types.FxPair) float64 {
	return symmetric(c.costs, pair)
}

// Commission for pair, NaN when unknown
func (c *CostCache) Commission(pair types.FxPair) float64 {
	return symmetric(c.commission, pair)
}

// Spread for pair, NaN when unknown
func (c *CostCache) Spread(pair types.FxPair) float64 {
	return symmetric(c.spreads, pair)
}

// MarginRate for pair, NaN when unknown
func (c *CostCache) MarginRate(pair types.FxPair) float64 {
	return symmetric(c.margin, pair)
}

// RollRates returns the long and short roll rate of exactly pair, NaN when unknown
func (c *CostCache) RollRates(pair types.FxPair) (long, short float64) {
	r, ok := c.roll[pair]
	if !ok {
		return math.NaN(), math.NaN()
	}
	return r.Long, r.Short
}

// RollRate returns the roll rates of exactly pair
func (c *CostCache) RollRate(pair types.FxPair) (RollRate, bool) {
	r, ok := c.roll[pair]
	return r, ok
}

// TransactionCosts looks up several pairs at once
func (c *CostCache) TransactionCosts(pairs []types.FxPair) map[types.FxPair]float64 {
	out := make(map[types.FxPair]float64, len(pairs))
	for _, p := range pairs {
		out[p] = c.TransactionCost(p)
	}
	return out
}

// RolledPairs is the number of pairs with roll rates
func (c *CostCache) RolledPairs() int {
	return len(c.roll)
}
