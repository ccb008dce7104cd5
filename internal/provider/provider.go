// Package provider declares the external collaborators the snapshot engine reads from.
package provider

import (
	"context"
	"time"

	"github.com/hedge-snapshots/internal/models"
	"github.com/hedge-snapshots/internal/types"
)

// SpotFxConverter converts amounts between currencies at the run's spot rates
type SpotFxConverter interface {
	ConvertValue(amount float64, from, to types.Currency) (float64, error)
	// GetFx returns the spot of pair, or false when it is not quoted
	GetFx(pair types.FxPair) (float64, bool)
}

// SpotFxSource loads the spot rates of a date, used to build a SpotFxConverter per run
type SpotFxSource interface {
	SpotRates(ctx context.Context, date time.Time) (map[types.FxPair]float64, error)
}

// PositionCashflowProvider exposes positions, cashflows and cashflow pricing
type PositionCashflowProvider interface {
	GetCashPositions(ctx context.Context, entity types.EntityKey, date time.Time) (models.CashPositions, []models.FxPosition, error)
	// GetFlowsForAccount returns the cashflows paying within (date, date+maxHorizonDays], boundaries per inclusive/includeEnd
	GetFlowsForAccount(ctx context.Context, accountID string, date time.Time, maxHorizonDays int, inclusive, includeEnd bool) (models.FlowSet, error)
	// GetCashflowValueSummary prices cashflows as of date in domestic currency
	GetCashflowValueSummary(ctx context.Context, flows []models.Cashflow, date time.Time, domestic types.Currency) (models.CashflowValueSummary, error)
	// GetHistoricalCashflowsValue values the cashflows that paid between start and end
	GetHistoricalCashflowsValue(ctx context.Context, accountID string, start, end time.Time, inclusive, includeEnd bool) (float64, int, error)
	// GetNPVForCashflowsInRange is the NPV as of date of the cashflows paying between start and end
	GetNPVForCashflowsInRange(ctx context.Context, accountID string, date, start, end time.Time, inclusive, includeEnd bool) (models.RangeNPV, error)
	// GetCashflowDateRange returns the earliest creation time and the latest pay date of an account's cashflows
	GetCashflowDateRange(ctx context.Context, accountID string) (minCreated, maxPay time.Time, ok bool, err error)
	GetCompanyPositionsSummary(ctx context.Context, companyID string, accountType types.AccountType, date time.Time) (models.PositionsSummary, error)
}

// RealizedPnLQuery selects realized P&L over (Start, End], or [Start, End] with IncludeStart
type RealizedPnLQuery struct {
	Entity       types.EntityKey
	AccountTypes []types.AccountType
	Start        time.Time
	End          time.Time
	IncludeStart bool
}

// PnLProvider computes realized and unrealized P&L in domestic currency
type PnLProvider interface {
	GetRealizedPnL(ctx context.Context, q RealizedPnLQuery) (models.PnLData, error)
	GetUnrealizedPnL(ctx context.Context, accountID string, date time.Time) (models.PnLData, error)
}

// RateTableSource serves the stored tier rows of brokers
type RateTableSource interface {
	LookupBroker(ctx context.Context, broker string) (bool, error)
	// RateRows returns every tier row of the broker dated within [from, to]
	RateRows(ctx context.Context, broker string, from, to time.Time) ([]models.RateRow, error)
}

// CostTableSource serves the per-pair commission, spread and margin tables of a broker
type CostTableSource interface {
	PairRates(ctx context.Context, broker string, kind models.CostKind, date time.Time, pairs []types.FxPair) (map[types.FxPair]float64, error)
}

// HedgeSettingsProvider returns the hedge settings of an account, or false when it has none
type HedgeSettingsProvider interface {
	GetHedgeSettings(ctx context.Context, accountID string) (models.HedgeSettings, bool, error)
}

// TradeActivityProvider returns the trades of the latest hedge action at or before date
type TradeActivityProvider interface {
	GetLatestHedgeTrades(ctx context.Context, accountID string, date time.Time) ([]models.Trade, error)
}

// BrokerSummaryProvider returns the broker's report on a company's live account, or false when there is none
type BrokerSummaryProvider interface {
	GetBrokerAccountSummary(ctx context.Context, companyID string, accountType types.AccountType) (models.BrokerAccountSummary, bool, error)
}

// VolatilityProvider returns annualized spot volatilities
type VolatilityProvider interface {
	GetSpotVols(ctx context.Context, date time.Time, pairs []types.FxPair) (map[types.FxPair]float64, error)
}

// AccountDirectory lists the companies and accounts to snapshot
type AccountDirectory interface {
	ListCompanies(ctx context.Context) ([]models.Company, error)
	GetCompany(ctx context.Context, companyID string) (models.Company, error)
	ListAccounts(ctx context.Context, companyID string) ([]models.Account, error)
	GetAccount(ctx context.Context, accountID string) (models.Account, error)
}
