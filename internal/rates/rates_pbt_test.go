package rates

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/hedge-snapshots/internal/models"
)

// contiguousTiers builds tiers from positive widths, closing with an unbounded tier
func contiguousTiers(widths []float64, rate float64) []models.TieredRate {
	tiers := make([]models.TieredRate, 0, len(widths)+1)
	from := 0.0
	for _, w := range widths {
		to := from + w
		tiers = append(tiers, models.TieredRate{TierFrom: from, TierTo: ptr(to), Rate: rate})
		from = to
	}
	return append(tiers, models.TieredRate{TierFrom: from, Rate: rate})
}

func TestTierCompleteness(t *testing.T) {
	properties := gopter.NewProperties(nil)

	widths := gen.SliceOf(gen.Float64Range(1, 50000))
	amount := gen.Float64Range(0, 1e6)

	properties.Property("contiguous tiers attribute the whole amount", prop.ForAll(
		func(ws []float64, a float64) bool {
			table := NewTieredRateTable("USD", contiguousTiers(ws, 0.01))
			return math.Abs(table.Attributed(a)-a) <= 1e-9*math.Max(1, a)
		},
		widths, amount,
	))

	properties.Property("a unit rate over one year returns the amount itself", prop.ForAll(
		func(ws []float64, a float64) bool {
			table := NewTieredRateTable("USD", contiguousTiers(ws, 1))
			got, err := table.Interest(a, 1)
			return err == nil && math.Abs(got-a) <= 1e-9*math.Max(1, a)
		},
		widths, amount,
	))

	properties.Property("contiguous tables validate", prop.ForAll(
		func(ws []float64) bool {
			return NewTieredRateTable("USD", contiguousTiers(ws, 0.02)).Validate() == nil
		},
		widths,
	))

	properties.TestingRun(t)
}

func TestInterestIsOdd(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("interest(-a) == -interest(a) on the same table", prop.ForAll(
		func(ws []float64, a, rate float64) bool {
			table := NewTieredRateTable("EUR", contiguousTiers(ws, rate))
			pos, err1 := table.Interest(a, 0.25)
			neg, err2 := table.Interest(-a, 0.25)
			return err1 == nil && err2 == nil && neg == -pos
		},
		gen.SliceOf(gen.Float64Range(1, 10000)), gen.Float64Range(0, 1e6), gen.Float64Range(-0.05, 0.1),
	))

	properties.TestingRun(t)
}
