package models

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/hedge-snapshots/internal/types"
)

// Links are the chain neighbours of a snapshot, by snapshot time.
// They are lookups into the entity's chain, never owning references.
type Links struct {
	Last *time.Time `json:"lastSnapshot,omitempty" db:"last_snapshot_time"`
	Next *time.Time `json:"nextSnapshot,omitempty" db:"next_snapshot_time"`
}

// AccountSnapshot is the state of one account at one reference time
type AccountSnapshot struct {
	ID           uuid.UUID         `json:"id" db:"id"`
	AccountID    string            `json:"accountId" db:"account_id"`
	CompanyID    string            `json:"companyId" db:"company_id"`
	AccountType  types.AccountType `json:"accountType" db:"account_type"`
	SnapshotTime time.Time         `json:"snapshotTime" db:"snapshot_time"`
	Links

	// Realized P&L since the last snapshot, and in total
	ChangeInRealizedPnLFxSpot    float64 `json:"changeInRealizedPnlFxSpot" db:"change_in_realized_pnl_fxspot"`
	ChangeInRealizedPnLFxForward float64 `json:"changeInRealizedPnlFxForward" db:"change_in_realized_pnl_fxforward"`
	TotalRealizedPnL             float64 `json:"totalRealizedPnl" db:"total_realized_pnl"`

	// Unrealized P&L of the current positions
	UnrealizedPnLFxSpot    float64 `json:"unrealizedPnlFxSpot" db:"unrealized_pnl_fxspot"`
	UnrealizedPnLFxForward float64 `json:"unrealizedPnlFxForward" db:"unrealized_pnl_fxforward"`

	// Cashflow valuation
	CashflowNPV    float64 `json:"cashflowNpv" db:"cashflow_npv"`
	CashflowAbsNPV float64 `json:"cashflowAbsNpv" db:"cashflow_abs_npv"`
	ChangeInNPV    float64 `json:"changeInNpv" db:"change_in_npv"`
	CashflowFwd    float64 `json:"cashflowFwd" db:"cashflow_fwd"`
	CashflowAbsFwd float64 `json:"cashflowAbsFwd" db:"cashflow_abs_fwd"`

	// Roll accounting
	CashflowRollOff       float64 `json:"cashflowRollOff" db:"cashflow_roll_off"`
	CashflowRollOn        float64 `json:"cashflowRollOn" db:"cashflow_roll_on"`
	NumCashflowsRolledOff int     `json:"numCashflowsRolledOff" db:"num_cashflows_rolled_off"`
	NumCashflowsRolledOn  int     `json:"numCashflowsRolledOn" db:"num_cashflows_rolled_on"`
	NumCashflowsInWindow  int     `json:"numCashflowsInWindow" db:"num_cashflows_in_window"`
	TotalCashflowRollOff  float64 `json:"totalCashflowRollOff" db:"total_cashflow_roll_off"`
	// CashflowMeddlingAdjustment is nil on the head of a chain
	CashflowMeddlingAdjustment *float64 `json:"cashflowMeddlingAdjustment,omitempty" db:"cashflow_meddling_adjustment"`

	// Trading activity
	DailyCommission      float64 `json:"dailyCommission" db:"daily_commission"`
	CumulativeCommission float64 `json:"cumulativeCommission" db:"cumulative_commission"`
	DailyTrading         float64 `json:"dailyTrading" db:"daily_trading"`

	// Carry
	DailyRollValue      float64 `json:"dailyRollValue" db:"daily_roll_value"`
	CumulativeRollValue float64 `json:"cumulativeRollValue" db:"cumulative_roll_value"`
	EstimatedFxRollCost float64 `json:"estimatedFxRollCost" db:"estimated_fx_roll_cost"`

	// Derived values
	UnhedgedValue float64 `json:"unhedgedValue" db:"unhedged_value"`
	HedgedValue   float64 `json:"hedgedValue" db:"hedged_value"`

	// Variance since the last snapshot
	DailyUnhedgedVariance       float64  `json:"dailyUnhedgedVariance" db:"daily_unhedged_variance"`
	DailyHedgedVariance         float64  `json:"dailyHedgedVariance" db:"daily_hedged_variance"`
	DailyHedgedModifiedChange   float64  `json:"dailyHedgedModifiedChange" db:"daily_hedged_modified_change"`
	DailyHedgedEarning          float64  `json:"dailyHedgedEarning" db:"daily_hedged_earning"`
	DailyHedgedModifiedVariance float64  `json:"dailyHedgedModifiedVariance" db:"daily_hedged_modified_variance"`
	OneDayVariance              *float64 `json:"oneDayVariance,omitempty" db:"one_day_variance"`

	// Margin is NaN when it could not be estimated
	Margin float64 `json:"margin" db:"margin"`

	// DegradedFields lists fields that were defaulted after a provider failure
	DegradedFields []string  `json:"degradedFields,omitempty" db:"degraded_fields"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
}

// Time is the snapshot time
func (s *AccountSnapshot) Time() time.Time { return s.SnapshotTime }

// ChainLinks exposes the links for the chain arena
func (s *AccountSnapshot) ChainLinks() *Links { return &s.Links }

// Key is the chain the snapshot belongs to
func (s *AccountSnapshot) Key() types.EntityKey {
	return types.EntityKey{Kind: types.EntityAccount, ID: s.AccountID}
}

// TotalUnrealizedPnL sums the unrealized P&L over instruments
func (s *AccountSnapshot) TotalUnrealizedPnL() float64 {
	return s.UnrealizedPnLFxSpot + s.UnrealizedPnLFxForward
}

// ChangeInRealizedPnL sums the realized P&L delta over instruments
func (s *AccountSnapshot) ChangeInRealizedPnL() float64 {
	return s.ChangeInRealizedPnLFxSpot + s.ChangeInRealizedPnLFxForward
}

// MeddlingOrZero returns the meddling adjustment, or 0 when there is none
func (s *AccountSnapshot) MeddlingOrZero() float64 {
	if s.CashflowMeddlingAdjustment == nil {
		return 0
	}
	return *s.CashflowMeddlingAdjustment
}

// HasMargin reports whether the margin estimate succeeded
func (s *AccountSnapshot) HasMargin() bool {
	return !math.IsNaN(s.Margin)
}

// CompanySnapshot aggregates a company's accounts at one reference time
type CompanySnapshot struct {
	ID           uuid.UUID `json:"id" db:"id"`
	CompanyID    string    `json:"companyId" db:"company_id"`
	SnapshotTime time.Time `json:"snapshotTime" db:"snapshot_time"`
	Links

	LiveChangeInRealizedPnL float64 `json:"liveChangeInRealizedPnl" db:"live_change_in_realized_pnl"`
	DemoChangeInRealizedPnL float64 `json:"demoChangeInRealizedPnl" db:"demo_change_in_realized_pnl"`
	LiveTotalRealizedPnL    float64 `json:"liveTotalRealizedPnl" db:"live_total_realized_pnl"`
	DemoTotalRealizedPnL    float64 `json:"demoTotalRealizedPnl" db:"demo_total_realized_pnl"`

	// Broker report fields are nil when the report was unavailable
	TotalCashHolding       *float64 `json:"totalCashHolding,omitempty" db:"total_cash_holding"`
	ExcessLiquidity        *float64 `json:"excessLiquidity,omitempty" db:"excess_liquidity"`
	TotalMaintenanceMargin *float64 `json:"totalMaintenanceMargin,omitempty" db:"total_maintenance_margin"`
	TotalAssetValue        *float64 `json:"totalAssetValue,omitempty" db:"total_asset_value"`

	LiveCashflowAbsFwd       float64 `json:"liveCashflowAbsFwd" db:"live_cashflow_abs_fwd"`
	DemoCashflowAbsFwd       float64 `json:"demoCashflowAbsFwd" db:"demo_cashflow_abs_fwd"`
	NumLiveCashflowsInWindow int     `json:"numLiveCashflowsInWindow" db:"num_live_cashflows_in_window"`
	NumDemoCashflowsInWindow int     `json:"numDemoCashflowsInWindow" db:"num_demo_cashflows_in_window"`

	DailyRollValue      float64 `json:"dailyRollValue" db:"daily_roll_value"`
	CumulativeRollValue float64 `json:"cumulativeRollValue" db:"cumulative_roll_value"`

	LivePositionValue float64 `json:"livePositionValue" db:"live_position_value"`
	DemoPositionValue float64 `json:"demoPositionValue" db:"demo_position_value"`
	LiveUnrealizedPnL float64 `json:"liveUnrealizedPnl" db:"live_unrealized_pnl"`
	DemoUnrealizedPnL float64 `json:"demoUnrealizedPnl" db:"demo_unrealized_pnl"`

	DegradedFields []string  `json:"degradedFields,omitempty" db:"degraded_fields"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
}

// Time is the snapshot time
func (s *CompanySnapshot) Time() time.Time { return s.SnapshotTime }

// ChainLinks exposes the links for the chain arena
func (s *CompanySnapshot) ChainLinks() *Links { return &s.Links }

// Key is the chain the snapshot belongs to
func (s *CompanySnapshot) Key() types.EntityKey {
	return types.EntityKey{Kind: types.EntityCompany, ID: s.CompanyID}
}
