package cost

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/hedge-snapshots/internal/errors"
	"github.com/hedge-snapshots/internal/logging"
	"github.com/hedge-snapshots/internal/models"
	"github.com/hedge-snapshots/internal/partial"
	"github.com/hedge-snapshots/internal/provider"
	"github.com/hedge-snapshots/internal/rates"
	"github.com/hedge-snapshots/internal/types"
)

// DefaultRatesWindowDays bounds how old a rate row may be relative to the reference date
const DefaultRatesWindowDays = 5

// CostProviderService builds rates caches and cost caches from stored tables
type CostProviderService struct {
	rateTables provider.RateTableSource
	costTables provider.CostTableSource
	calc       *RollCostCalculator
	logger     *logging.Logger
}

// NewCostProviderService creates a new cost provider service
func NewCostProviderService(rateTables provider.RateTableSource, costTables provider.CostTableSource, calc *RollCostCalculator, logger *logging.Logger) *CostProviderService {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if calc == nil {
		calc = NewRollCostCalculator(logger)
	}
	return &CostProviderService{rateTables: rateTables, costTables: costTables, calc: calc, logger: logger}
}

// CostRequest selects the cost cache to build
type CostRequest struct {
	Date     time.Time
	Broker   string
	Domestic types.Currency
	// Pairs restricts the cache; empty means every X/Domestic pair
	Pairs []types.FxPair
	// Rates is reused when set, otherwise built for Date
	Rates *rates.RatesCache
}

// GetCostProvider builds a CostCache. Each cost dimension that fails is left empty and
// reported in the returned warnings; it never fails as a whole.
func (s *CostProviderService) GetCostProvider(ctx context.Context, req CostRequest, fx provider.SpotFxConverter) (*CostCache, []partial.Warning) {
	logger := s.logger.WithFields(map[string]interface{}{
		"broker": req.Broker,
		"date":   req.Date.Format("2006-01-02"),
	})
	warnings := partial.NewCollector(logger)

	table := func(kind models.CostKind) map[types.FxPair]float64 {
		return partial.Try(warnings, string(kind), map[types.FxPair]float64{}, func() (map[types.FxPair]float64, error) {
			return s.costTables.PairRates(ctx, req.Broker, kind, req.Date, req.Pairs)
		})
	}
	commission := table(models.CostCommission)
	spreads := table(models.CostSpread)
	margin := table(models.CostMargin)

	roll := partial.Try(warnings, "roll_rates", map[types.FxPair]RollRate{}, func() (map[types.FxPair]RollRate, error) {
		rc := req.Rates
		if rc == nil {
			var err error
			if rc, err = s.CreateRatesCache(ctx, req.Date, req.Broker, DefaultRatesWindowDays); err != nil {
				return nil, err
			}
		}
		return s.calc.GetRollRatesForFxPositions(OneDay(req.Date), fx, rc, req.Pairs, req.Domestic)
	})

	return NewCostCache(commission, spreads, margin, roll), warnings.Warnings()
}

// CreateRatesCache loads the broker's tier rows dated within [t-window, t]
func (s *CostProviderService) CreateRatesCache(ctx context.Context, t time.Time, broker string, window int) (*rates.RatesCache, error) {
	known, err := s.rateTables.LookupBroker(ctx, broker)
	if err != nil {
		return nil, apperrors.NewProviderError("rate tables", err)
	}
	if !known {
		return nil, apperrors.NewBrokerNotFoundError(broker)
	}

	from := types.AddDays(t, -window)
	rows, err := s.rateTables.RateRows(ctx, broker, from, t)
	if err != nil {
		return nil, apperrors.NewProviderError("rate tables", fmt.Errorf("broker %s: %w", broker, err))
	}

	rc := rates.FromRows(broker, t, rows)
	for table, verr := range rc.Validate() {
		s.logger.WithFields(map[string]interface{}{
			"broker": broker,
			"table":  table,
		}).WithError(verr).Warn("Malformed rate table, positions in it will fail to price")
	}
	s.logger.WithFields(map[string]interface{}{
		"broker":     broker,
		"rows":       len(rows),
		"currencies": len(rc.Currencies()),
	}).Debug("Built rates cache")
	return rc, nil
}

// CreateAllRatesCaches builds a cache per broker. A broker that fails is reported in the
// error map and left out of the registry.
func (s *CostProviderService) CreateAllRatesCaches(ctx context.Context, t time.Time, brokers []string, window int) (*rates.BrokerRatesCaches, map[string]error) {
	caches := rates.NewBrokerRatesCaches()
	failures := make(map[string]error)
	for _, broker := range brokers {
		rc, err := s.CreateRatesCache(ctx, t, broker, window)
		if err != nil {
			s.logger.WithField("broker", broker).WithError(err).Error("Failed to build rates cache")
			failures[broker] = err
			continue
		}
		caches.Add(rc)
	}
	return caches, failures
}
