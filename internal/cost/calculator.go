// Package cost prices the carry of cash and FX positions from a broker's tiered rate tables
// and assembles the per-run cost cache.
package cost

import (
	"fmt"
	"math"
	"sort"
	"time"

	apperrors "github.com/hedge-snapshots/internal/errors"
	"github.com/hedge-snapshots/internal/logging"
	"github.com/hedge-snapshots/internal/models"
	"github.com/hedge-snapshots/internal/provider"
	"github.com/hedge-snapshots/internal/rates"
	"github.com/hedge-snapshots/internal/types"
)

// Window is the accrual period of a carry computation
type Window struct {
	Start      time.Time
	End        time.Time
	DayCounter types.DayCounter
}

// NewWindow uses Actual/365 fixed
func NewWindow(start, end time.Time) Window {
	return Window{Start: start, End: end, DayCounter: types.Actual365Fixed{}}
}

// OneDay is the window [date, date+1]
func OneDay(date time.Time) Window {
	return NewWindow(date, types.AddDays(date, 1))
}

// YearFraction of the window
func (w Window) YearFraction() float64 {
	dc := w.DayCounter
	if dc == nil {
		dc = types.Actual365Fixed{}
	}
	return dc.YearFraction(w.Start, w.End)
}

// RollRate is the carry per unit of a pair position, in the quote currency.
// Positive values are earned, negative values are paid.
type RollRate struct {
	Long  float64 `json:"long"`
	Short float64 `json:"short"`
}

// RollCostCalculator computes interest and carry from a RatesCache
type RollCostCalculator struct {
	logger *logging.Logger
}

// NewRollCostCalculator creates a calculator. A nil logger uses the global one.
func NewRollCostCalculator(logger *logging.Logger) *RollCostCalculator {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &RollCostCalculator{logger: logger}
}

// GetInterest is the interest earned (positive) or paid (negative) on amount of ccy over w.
// Negative amounts are priced on the loan table, the rest on the deposit table.
func (c *RollCostCalculator) GetInterest(amount float64, w Window, ccy types.Currency, rc *rates.RatesCache) (float64, error) {
	dir := types.DirectionForAmount(amount)
	table, ok := rc.Table(dir, ccy)
	if !ok {
		return 0, apperrors.NewRateNotFoundError(ccy, dir)
	}
	return table.Interest(amount, w.YearFraction())
}

// GetInterestInDomestic is GetInterest converted to domestic at spot
func (c *RollCostCalculator) GetInterestInDomestic(domestic, cashCcy types.Currency, amount float64, w Window, fx provider.SpotFxConverter, rc *rates.RatesCache) (float64, error) {
	interest, err := c.GetInterest(amount, w, cashCcy, rc)
	if err != nil {
		return 0, err
	}
	return fx.ConvertValue(interest, cashCcy, domestic)
}

// GetRollRatesForFxPosition returns the per-unit long and short carry of pair at spot.
// ok is false when one of the four legs has no table.
func (c *RollCostCalculator) GetRollRatesForFxPosition(w Window, pair types.FxPair, spot float64, rc *rates.RatesCache) (RollRate, bool, error) {
	for _, leg := range []struct {
		dir types.Direction
		ccy types.Currency
	}{
		{types.DirectionDeposit, pair.Base},
		{types.DirectionLoan, pair.Base},
		{types.DirectionDeposit, pair.Quote},
		{types.DirectionLoan, pair.Quote},
	} {
		if _, ok := rc.Table(leg.dir, leg.ccy); !ok {
			return RollRate{}, false, nil
		}
	}

	// Long one unit of base, funded by borrowing spot units of quote
	baseLong, err := c.GetInterest(1, w, pair.Base, rc)
	if err != nil {
		return RollRate{}, false, err
	}
	quoteShort, err := c.GetInterest(-spot, w, pair.Quote, rc)
	if err != nil {
		return RollRate{}, false, err
	}

	// Short one unit of base, depositing spot units of quote
	baseShort, err := c.GetInterest(-1, w, pair.Base, rc)
	if err != nil {
		return RollRate{}, false, err
	}
	quoteLong, err := c.GetInterest(spot, w, pair.Quote, rc)
	if err != nil {
		return RollRate{}, false, err
	}

	return RollRate{
		Long:  baseLong*spot + quoteShort,
		Short: baseShort*spot + quoteLong,
	}, true, nil
}

// GetRollCostForFxPosition is the carry of a signed pair position, in quote currency
func (c *RollCostCalculator) GetRollCostForFxPosition(w Window, pair types.FxPair, spot float64, rc *rates.RatesCache, amount float64) (float64, bool, error) {
	rate, ok, err := c.GetRollRatesForFxPosition(w, pair, spot, rc)
	if err != nil || !ok {
		return 0, ok, err
	}
	if amount > 0 {
		return amount * rate.Long, true, nil
	}
	return math.Abs(amount) * rate.Short, true, nil
}

// GetRollRatesForFxPositions computes roll rates over pairs, or over every X/domestic pair the
// cache has tables for when pairs is empty. Pairs without tables or spot are skipped and a
// failing pair is logged and skipped.
func (c *RollCostCalculator) GetRollRatesForFxPositions(w Window, fx provider.SpotFxConverter, rc *rates.RatesCache, pairs []types.FxPair, domestic types.Currency) (map[types.FxPair]RollRate, error) {
	if len(pairs) == 0 {
		if domestic == "" {
			return nil, apperrors.NewInvalidParameterError("pairs", "either pairs or a domestic currency is required")
		}
		pairs = DomesticPairs(rc, domestic)
	}

	out := make(map[types.FxPair]RollRate, len(pairs))
	for _, pair := range pairs {
		if !rc.HasCurrency(pair.Base) || !rc.HasCurrency(pair.Quote) {
			continue
		}
		spot, ok := fx.GetFx(pair)
		if !ok {
			continue
		}
		rate, ok, err := c.GetRollRatesForFxPosition(w, pair, spot, rc)
		if err != nil {
			c.logger.WithField("pair", pair.Name()).WithError(err).Warn("Error computing roll rate, skipping pair")
			continue
		}
		if !ok {
			continue
		}
		out[pair] = rate
	}
	return out, nil
}

// GetRollCostForCashPositions sums the domestic interest over a cash basket
func (c *RollCostCalculator) GetRollCostForCashPositions(w Window, fx provider.SpotFxConverter, domestic types.Currency, rc *rates.RatesCache, positions models.CashPositions) (float64, error) {
	total := 0.0
	for _, ccy := range positions.Currencies() {
		v, err := c.GetInterestInDomestic(domestic, ccy, positions[ccy], w, fx, rc)
		if err != nil {
			return 0, fmt.Errorf("roll cost of %s cash: %w", ccy, err)
		}
		total += v
	}
	return total, nil
}

// DomesticPairs lists X/domestic for every foreign currency with both tables in rc
func DomesticPairs(rc *rates.RatesCache, domestic types.Currency) []types.FxPair {
	var out []types.FxPair
	for _, ccy := range rc.Currencies() {
		if ccy != domestic {
			out = append(out, types.NewFxPair(ccy, domestic))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
