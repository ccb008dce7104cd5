package service

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/hedge-snapshots/internal/cost"
	apperrors "github.com/hedge-snapshots/internal/errors"
	"github.com/hedge-snapshots/internal/logging"
	"github.com/hedge-snapshots/internal/models"
	"github.com/hedge-snapshots/internal/partial"
	"github.com/hedge-snapshots/internal/provider"
	"github.com/hedge-snapshots/internal/types"
)

const (
	defaultHorizonDays = 365
	horizonCapDays     = 3652
)

// accountBuild carries the inputs of one account snapshot through its stages
type accountBuild struct {
	rc       *RunContext
	company  models.Company
	account  models.Account
	domestic types.Currency
	horizon  int
	last     *models.AccountSnapshot
	snap     *models.AccountSnapshot
	cash     models.CashPositions
	fx       []models.FxPosition
	warnings *partial.Collector
	logger   *logging.Logger
}

// GenerateAccountSnapshot computes the snapshot of account at the run's reference date
// without storing it. Its Last link points at the previous snapshot; nothing else in the
// chain is touched. Accounts whose cashflows do not cover the date return ErrNotEligible.
func (s *SnapshotCreatorService) GenerateAccountSnapshot(ctx context.Context, rc *RunContext, company models.Company, account models.Account) (*models.AccountSnapshot, error) {
	logger := s.logger.WithRun(rc.ID, rc.RefDate).WithEntity(account.Key())
	b := &accountBuild{
		rc:       rc,
		company:  company,
		account:  account,
		domestic: account.Domestic,
		warnings: partial.NewCollector(logger),
		logger:   logger,
	}
	if b.domestic == "" {
		b.domestic = company.Domestic
	}

	if err := s.checkEligible(ctx, b); err != nil {
		return nil, err
	}
	if err := s.pullInputs(ctx, b); err != nil {
		return nil, err
	}
	if err := s.computePnL(ctx, b); err != nil {
		return nil, err
	}
	if err := s.computeCashflows(ctx, b); err != nil {
		return nil, err
	}
	s.computeRoll(ctx, b)
	s.computeTradingActivity(ctx, b)
	computeDerivedValues(b.snap, b.last)
	s.computeRisk(ctx, b)

	b.snap.DegradedFields = b.warnings.Fields()
	logger.WithFields(map[string]interface{}{
		"npv":          b.snap.CashflowNPV,
		"hedged_value": b.snap.HedgedValue,
		"degraded":     len(b.snap.DegradedFields),
	}).Debug("Generated account snapshot")
	return b.snap, nil
}

func (s *SnapshotCreatorService) checkEligible(ctx context.Context, b *accountBuild) error {
	minCreated, maxPay, ok, err := s.providers.Positions.GetCashflowDateRange(ctx, b.account.ID)
	if err != nil {
		return apperrors.NewProviderError("cashflow date range", err)
	}
	ref := b.rc.RefDate
	if !ok || ref.Before(minCreated) || ref.After(maxPay) {
		b.logger.Debug("No cashflows cover the reference date, skipping account")
		return ErrNotEligible
	}
	return nil
}

// horizonDays is min(max_horizon_days, cap), or the default without hedge settings
func (s *SnapshotCreatorService) horizonDays(ctx context.Context, b *accountBuild) int {
	def := s.cfg.DefaultHorizonDays
	if def <= 0 {
		def = defaultHorizonDays
	}
	limit := s.cfg.MaxHorizonCapDays
	if limit <= 0 {
		limit = horizonCapDays
	}

	settings, ok, err := s.providers.Hedge.GetHedgeSettings(ctx, b.account.ID)
	if err != nil {
		b.warnings.Add("max_horizon", err)
		return def
	}
	if !ok || settings.MaxHorizonDays <= 0 {
		b.logger.WithField("default_days", def).Warn("Account has no hedge settings, using default horizon")
		return def
	}
	if settings.MaxHorizonDays > limit {
		return limit
	}
	return settings.MaxHorizonDays
}

func (s *SnapshotCreatorService) pullInputs(ctx context.Context, b *accountBuild) error {
	ref := b.rc.RefDate
	b.horizon = s.horizonDays(ctx, b)

	last, err := s.store.LastAccountSnapshot(ctx, b.account.ID, ref)
	if err != nil {
		return err
	}
	b.last = last

	b.snap = &models.AccountSnapshot{
		ID:           uuid.New(),
		AccountID:    b.account.ID,
		CompanyID:    b.account.CompanyID,
		AccountType:  b.account.Type,
		SnapshotTime: ref,
		Margin:       math.NaN(),
		CreatedAt:    s.now(),
	}
	if last != nil {
		t := last.SnapshotTime
		b.snap.Last = &t
	}

	cash, fx, err := s.providers.Positions.GetCashPositions(ctx, b.account.Key(), ref)
	if err != nil {
		b.warnings.Add("positions", err)
		cash, fx = models.CashPositions{}, nil
	}
	b.cash, b.fx = cash, fx
	return nil
}

func (s *SnapshotCreatorService) computePnL(ctx context.Context, b *accountBuild) error {
	snap, last := b.snap, b.last
	if last != nil {
		realized, err := s.providers.PnL.GetRealizedPnL(ctx, provider.RealizedPnLQuery{
			Entity:       b.account.Key(),
			Start:        last.SnapshotTime,
			End:          b.rc.RefDate,
			IncludeStart: false,
		})
		if err != nil {
			return apperrors.NewProviderError("realized pnl", err)
		}
		snap.ChangeInRealizedPnLFxSpot = realized.FxSpotPnL
		snap.ChangeInRealizedPnLFxForward = realized.FxForwardPnL
		snap.TotalRealizedPnL = realized.Total() + last.TotalRealizedPnL
	}

	unrealized, err := s.providers.PnL.GetUnrealizedPnL(ctx, b.account.ID, b.rc.RefDate)
	if err != nil {
		return apperrors.NewProviderError("unrealized pnl", err)
	}
	snap.UnrealizedPnLFxSpot = unrealized.FxSpotPnL
	snap.UnrealizedPnLFxForward = unrealized.FxForwardPnL
	return nil
}

func (s *SnapshotCreatorService) computeCashflows(ctx context.Context, b *accountBuild) error {
	pos := s.providers.Positions
	snap, last, ref := b.snap, b.last, b.rc.RefDate

	flows, err := pos.GetFlowsForAccount(ctx, b.account.ID, ref, b.horizon, false, true)
	if err != nil {
		return apperrors.NewProviderError("cashflows", err)
	}
	value, err := pos.GetCashflowValueSummary(ctx, flows.Cashflows, ref, b.domestic)
	if err != nil {
		return apperrors.NewProviderError("cashflow pricing", err)
	}
	snap.CashflowNPV = value.NPV
	snap.CashflowAbsNPV = value.NPVAbs
	snap.CashflowFwd = value.Fwd
	snap.CashflowAbsFwd = value.FwdAbs
	snap.NumCashflowsInWindow = len(flows.Cashflows)

	if last == nil {
		return nil
	}

	meddling, err := s.cashflowMeddling(ctx, b)
	if err != nil {
		return err
	}
	snap.CashflowMeddlingAdjustment = &meddling

	rollOff, n, err := pos.GetHistoricalCashflowsValue(ctx, b.account.ID, last.SnapshotTime, ref, false, true)
	if err != nil {
		return apperrors.NewProviderError("cashflow roll-off", err)
	}
	snap.CashflowRollOff = rollOff
	snap.NumCashflowsRolledOff = n
	snap.TotalCashflowRollOff = last.TotalCashflowRollOff + rollOff

	lastEnd := types.AddDays(last.SnapshotTime, b.horizon)
	newEnd := types.AddDays(ref, b.horizon)
	rollOn, err := pos.GetNPVForCashflowsInRange(ctx, b.account.ID, ref, lastEnd, newEnd, false, true)
	if err != nil {
		return apperrors.NewProviderError("cashflow roll-on", err)
	}
	snap.CashflowRollOn = rollOn.NPV
	snap.NumCashflowsRolledOn = rollOn.Count

	snap.ChangeInNPV = (snap.CashflowNPV + rollOff - rollOn.NPV - meddling) - last.CashflowNPV
	if meddling != 0 {
		b.logger.WithFields(map[string]interface{}{
			"meddling":      meddling,
			"last_snapshot": last.SnapshotTime,
		}).Warn("Cashflows changed after the last snapshot")
	}
	return nil
}

// cashflowMeddling reprices, as of the last snapshot, the cashflows visible then under the
// current cashflow definitions, and returns the difference to the stored NPV
func (s *SnapshotCreatorService) cashflowMeddling(ctx context.Context, b *accountBuild) (float64, error) {
	pos := s.providers.Positions
	last := b.last
	flows, err := pos.GetFlowsForAccount(ctx, b.account.ID, last.SnapshotTime, b.horizon, false, true)
	if err != nil {
		return 0, apperrors.NewProviderError("cashflows as of last snapshot", err)
	}
	value, err := pos.GetCashflowValueSummary(ctx, flows.Cashflows, last.SnapshotTime, b.domestic)
	if err != nil {
		return 0, apperrors.NewProviderError("cashflow pricing as of last snapshot", err)
	}
	return value.NPV - last.CashflowNPV, nil
}

func (s *SnapshotCreatorService) computeRoll(ctx context.Context, b *accountBuild) {
	snap, last, ref := b.snap, b.last, b.rc.RefDate
	w := cost.OneDay(ref)
	if last != nil {
		w = cost.NewWindow(last.SnapshotTime, ref)
	}

	daily := partial.Try(b.warnings, "daily_roll_value", 0.0, func() (float64, error) {
		rc, err := b.rc.ratesFor(b.company.Broker)
		if err != nil {
			return 0, err
		}
		return s.calc.GetRollCostForCashPositions(w, b.rc.Spot, b.domestic, rc, b.cash)
	})
	snap.DailyRollValue = daily
	snap.CumulativeRollValue = daily
	if last != nil {
		snap.CumulativeRollValue += last.CumulativeRollValue
	}
}

func (s *SnapshotCreatorService) computeTradingActivity(ctx context.Context, b *accountBuild) {
	snap, last := b.snap, b.last
	lastCommission := 0.0
	if last != nil {
		lastCommission = last.CumulativeCommission
	}
	snap.CumulativeCommission = lastCommission
	if s.providers.Trades == nil {
		return
	}

	trades, err := s.providers.Trades.GetLatestHedgeTrades(ctx, b.account.ID, b.rc.RefDate)
	if err != nil {
		b.warnings.Add("trading_activity", err)
		return
	}
	var commission, traded float64
	for _, t := range trades {
		if t.Commission != nil {
			if math.IsNaN(*t.Commission) {
				b.logger.WithField("trade_id", t.ID).Warn("Trade commission is NaN, skipping")
			} else {
				v, err := b.rc.Spot.ConvertValue(*t.Commission, t.Pair.Quote, b.domestic)
				if err != nil {
					b.warnings.Add("daily_commission", err)
				} else {
					commission += v
				}
			}
		}
		if t.Price != nil {
			v, err := b.rc.Spot.ConvertValue(*t.Price, t.Pair.Quote, b.domestic)
			if err != nil {
				b.warnings.Add("daily_trading", err)
			} else {
				traded += v
			}
		}
	}
	snap.DailyCommission = commission
	snap.DailyTrading = traded
	snap.CumulativeCommission = commission + lastCommission
}

// computeDerivedValues fills the hedged and unhedged values and, when time has passed since
// last, the variance fields. Roll-on and meddling are taken out of the value changes.
func computeDerivedValues(snap, last *models.AccountSnapshot) {
	snap.HedgedValue = snap.TotalCashflowRollOff + snap.CashflowNPV + snap.TotalRealizedPnL +
		snap.TotalUnrealizedPnL() + snap.CumulativeRollValue - snap.CumulativeCommission
	snap.UnhedgedValue = snap.TotalCashflowRollOff + snap.CashflowNPV

	if last == nil {
		return
	}
	dt := types.Actual365Fixed{}.YearFraction(last.SnapshotTime, snap.SnapshotTime)
	if dt <= 0 {
		return
	}
	correction := snap.CashflowRollOn + snap.MeddlingOrZero()
	diffUnhedged := snap.UnhedgedValue - last.UnhedgedValue - correction
	diffHedged := snap.HedgedValue - last.HedgedValue - correction

	snap.DailyUnhedgedVariance = diffUnhedged * diffUnhedged / dt
	snap.DailyHedgedVariance = diffHedged * diffHedged / dt

	modified := math.Min(diffHedged, math.Max(0, diffUnhedged))
	snap.DailyHedgedModifiedChange = modified
	snap.DailyHedgedEarning = math.Max(0, diffHedged-modified)
	snap.DailyHedgedModifiedVariance = modified * modified / dt

	if snap.DailyUnhedgedVariance > 0 {
		ratio := snap.DailyHedgedVariance / snap.DailyUnhedgedVariance
		snap.OneDayVariance = &ratio
	}
}

// computeRisk fills the FX carry estimate and the margin
func (s *SnapshotCreatorService) computeRisk(ctx context.Context, b *accountBuild) {
	snap := b.snap
	snap.EstimatedFxRollCost = partial.Try(b.warnings, "estimated_fx_roll_cost", 0.0, func() (float64, error) {
		if len(b.fx) == 0 {
			return 0, nil
		}
		costs := s.costCache(ctx, b.rc, b.company.Broker, b.domestic)
		total, missing, err := estimatedRollCost(costs, b.rc.Spot, b.fx, b.domestic)
		if err != nil {
			return 0, err
		}
		if len(missing) > 0 {
			// the estimate keeps the priced pairs; the field is still flagged
			b.warnings.Add("estimated_fx_roll_cost", fmt.Errorf("no roll rate for %s", joinPairs(missing)))
		}
		return total, nil
	})

	margin, err := s.margin.Estimate(ctx, b.rc.RefDate, b.fx, b.domestic, b.rc.Spot)
	if err != nil {
		b.warnings.Add("margin", err)
		margin = math.NaN()
	}
	snap.Margin = margin
}

// estimatedRollCost is the one-day carry of the FX positions in domestic currency. Positions
// whose pair has no roll rate are left out and returned in missing.
func estimatedRollCost(costs *cost.CostCache, fx provider.SpotFxConverter, positions []models.FxPosition, domestic types.Currency) (float64, []types.FxPair, error) {
	var missing []types.FxPair
	total := 0.0
	for _, p := range positions {
		rate, ok := costs.RollRate(p.Pair)
		if !ok {
			missing = append(missing, p.Pair)
			continue
		}
		carry := math.Abs(p.Amount) * rate.Short
		if p.Amount > 0 {
			carry = p.Amount * rate.Long
		}
		v, err := fx.ConvertValue(carry, p.Pair.Quote, domestic)
		if err != nil {
			return 0, nil, err
		}
		total += v
	}
	return total, missing, nil
}

func joinPairs(pairs []types.FxPair) string {
	names := make([]string, len(pairs))
	for i, p := range pairs {
		names[i] = p.Name()
	}
	return strings.Join(names, ", ")
}
