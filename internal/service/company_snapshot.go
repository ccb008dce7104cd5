package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hedge-snapshots/internal/cost"
	apperrors "github.com/hedge-snapshots/internal/errors"
	"github.com/hedge-snapshots/internal/models"
	"github.com/hedge-snapshots/internal/partial"
	"github.com/hedge-snapshots/internal/provider"
	"github.com/hedge-snapshots/internal/types"
)

// GenerateCompanySnapshot computes the company snapshot at the run's reference date without
// storing it. Live and demo totals over the same-day account snapshots are read from the store.
func (s *SnapshotCreatorService) GenerateCompanySnapshot(ctx context.Context, rc *RunContext, company models.Company) (*models.CompanySnapshot, error) {
	ref := rc.RefDate
	logger := s.logger.WithRun(rc.ID, ref).WithEntity(company.Key())
	warnings := partial.NewCollector(logger)

	last, err := s.store.LastCompanySnapshot(ctx, company.ID, ref)
	if err != nil {
		return nil, err
	}
	snap := &models.CompanySnapshot{
		ID:           uuid.New(),
		CompanyID:    company.ID,
		SnapshotTime: ref,
		CreatedAt:    s.now(),
	}
	if last != nil {
		t := last.SnapshotTime
		snap.Last = &t

		live, err := s.realizedForType(ctx, company, last, ref, types.AccountLive)
		if err != nil {
			return nil, err
		}
		demo, err := s.realizedForType(ctx, company, last, ref, types.AccountDemo)
		if err != nil {
			return nil, err
		}
		snap.LiveChangeInRealizedPnL = live
		snap.LiveTotalRealizedPnL = live + last.LiveTotalRealizedPnL
		snap.DemoChangeInRealizedPnL = demo
		snap.DemoTotalRealizedPnL = demo + last.DemoTotalRealizedPnL
	}

	s.addBrokerSummary(ctx, company, snap, warnings)

	if last != nil {
		snap.DailyRollValue = partial.Try(warnings, "daily_roll_value", 0.0, func() (float64, error) {
			cash, _, err := s.providers.Positions.GetCashPositions(ctx, company.Key(), ref)
			if err != nil {
				return 0, apperrors.NewProviderError("positions", err)
			}
			rates, err := rc.ratesFor(company.Broker)
			if err != nil {
				return 0, err
			}
			return s.calc.GetRollCostForCashPositions(cost.OneDay(ref), rc.Spot, company.Domestic, rates, cash)
		})
		snap.CumulativeRollValue = snap.DailyRollValue + last.CumulativeRollValue
	}

	accounts, err := s.store.ListCompanyAccountSnapshots(ctx, company.ID, ref)
	if err != nil {
		warnings.Add("account_aggregates", err)
	}
	for _, a := range accounts {
		if a.AccountType == types.AccountLive {
			snap.LiveCashflowAbsFwd += a.CashflowAbsFwd
			snap.NumLiveCashflowsInWindow += a.NumCashflowsInWindow
		} else {
			snap.DemoCashflowAbsFwd += a.CashflowAbsFwd
			snap.NumDemoCashflowsInWindow += a.NumCashflowsInWindow
		}
	}

	demo, err := s.providers.Positions.GetCompanyPositionsSummary(ctx, company.ID, types.AccountDemo, ref)
	if err != nil {
		warnings.Add("demo_positions", err)
	}
	snap.DemoPositionValue = demo.CurrentValue
	snap.DemoUnrealizedPnL = demo.UnrealizedPnL

	live, err := s.providers.Positions.GetCompanyPositionsSummary(ctx, company.ID, types.AccountLive, ref)
	if err != nil {
		warnings.Add("live_positions", err)
	}
	snap.LivePositionValue = live.CurrentValue
	snap.LiveUnrealizedPnL = live.UnrealizedPnL

	snap.DegradedFields = warnings.Fields()
	return snap, nil
}

func (s *SnapshotCreatorService) realizedForType(ctx context.Context, company models.Company, last *models.CompanySnapshot, ref time.Time, accountType types.AccountType) (float64, error) {
	pnl, err := s.providers.PnL.GetRealizedPnL(ctx, provider.RealizedPnLQuery{
		Entity:       company.Key(),
		AccountTypes: []types.AccountType{accountType},
		Start:        last.SnapshotTime,
		End:          ref,
		IncludeStart: false,
	})
	if err != nil {
		return 0, apperrors.NewProviderError("realized pnl", err)
	}
	return pnl.Total(), nil
}

// addBrokerSummary copies the broker's live account report. The fields stay nil when the
// report is unavailable.
func (s *SnapshotCreatorService) addBrokerSummary(ctx context.Context, company models.Company, snap *models.CompanySnapshot, warnings *partial.Collector) {
	if s.providers.Broker == nil {
		return
	}
	summary, ok, err := s.providers.Broker.GetBrokerAccountSummary(ctx, company.ID, types.AccountLive)
	if err != nil {
		warnings.Add("broker_summary", err)
		return
	}
	if !ok {
		return
	}
	snap.TotalCashHolding = floatPtr(summary.TotalCashValue)
	snap.ExcessLiquidity = floatPtr(summary.ExcessLiquidity)
	snap.TotalMaintenanceMargin = floatPtr(summary.FullMaintMarginReq)
	snap.TotalAssetValue = floatPtr(summary.NetLiquidation)
}

func floatPtr(v float64) *float64 {
	return &v
}
