package types

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestFxPairProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	currency := gen.OneConstOf(Currency("USD"), Currency("EUR"), Currency("GBP"), Currency("JPY"), Currency("CHF"))

	properties.Property("inverse is an involution", prop.ForAll(
		func(base, quote Currency) bool {
			p := NewFxPair(base, quote)
			return p.Inverse().Inverse() == p
		},
		currency, currency,
	))

	properties.Property("name round-trips through ParseFxPair", prop.ForAll(
		func(base, quote Currency) bool {
			p := NewFxPair(base, quote)
			parsed, err := ParseFxPair(p.Name())
			return err == nil && parsed == p
		},
		currency, currency,
	))

	properties.TestingRun(t)
}

func TestYearFractionIsAdditive(t *testing.T) {
	properties := gopter.NewProperties(nil)
	dc := Actual365Fixed{}
	origin := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	properties.Property("yf(a,c) == yf(a,b) + yf(b,c)", prop.ForAll(
		func(d1, d2 int) bool {
			a := origin
			b := AddDays(a, d1)
			c := AddDays(b, d2)
			diff := dc.YearFraction(a, c) - (dc.YearFraction(a, b) + dc.YearFraction(b, c))
			return diff < 1e-12 && diff > -1e-12
		},
		gen.IntRange(0, 4000), gen.IntRange(0, 4000),
	))

	properties.TestingRun(t)
}
