package models

import (
	"sort"
	"time"

	"github.com/hedge-snapshots/internal/types"
)

// CashPositions is a basket of signed cash balances by currency.
// Negative balances are borrowed.
type CashPositions map[types.Currency]float64

// Currencies returns the basket's currencies in a stable order
func (c CashPositions) Currencies() []types.Currency {
	out := make([]types.Currency, 0, len(c))
	for ccy := range c {
		out = append(out, ccy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FxPosition is a signed holding of a pair, in units of the base currency
type FxPosition struct {
	Pair   types.FxPair `json:"pair"`
	Amount float64      `json:"amount"`
}

// Cashflow is a known future payment of an account
type Cashflow struct {
	ID        string         `json:"id" db:"id"`
	AccountID string         `json:"accountId" db:"account_id"`
	Currency  types.Currency `json:"currency" db:"currency"`
	Amount    float64        `json:"amount" db:"amount"`
	PayDate   time.Time      `json:"payDate" db:"pay_date"`
	CreatedAt time.Time      `json:"createdAt" db:"created_at"`
}

// FlowSet is the result of a horizon-bounded cashflow query
type FlowSet struct {
	Cashflows []Cashflow     `json:"cashflows"`
	Pairs     []types.FxPair `json:"pairs"`
	Domestic  types.Currency `json:"domestic"`
}

// CashflowValueSummary values a set of cashflows in domestic currency
type CashflowValueSummary struct {
	NPV    float64 `json:"npv"`
	NPVAbs float64 `json:"npvAbs"`
	Fwd    float64 `json:"fwd"`
	FwdAbs float64 `json:"fwdAbs"`
}

// RangeNPV is the NPV of the cashflows paying within a date range
type RangeNPV struct {
	NPV    float64 `json:"npv"`
	NPVAbs float64 `json:"npvAbs"`
	Count  int     `json:"count"`
}

// PnLData splits a P&L figure by instrument, in domestic currency
type PnLData struct {
	Domestic     types.Currency `json:"domestic"`
	FxSpotPnL    float64        `json:"fxSpotPnl"`
	FxForwardPnL float64        `json:"fxForwardPnl"`
}

// Total is the sum over instruments
func (p PnLData) Total() float64 {
	return p.FxSpotPnL + p.FxForwardPnL
}

// BrokerAccountSummary is the broker-reported state of a company's live account
type BrokerAccountSummary struct {
	TotalCashValue     float64 `json:"totalCashValue"`
	ExcessLiquidity    float64 `json:"excessLiquidity"`
	FullMaintMarginReq float64 `json:"fullMaintMarginReq"`
	NetLiquidation     float64 `json:"netLiquidation"`
}

// Trade is one executed hedge request of an account.
// Commission and Price are in the pair's quote currency and may be missing.
type Trade struct {
	ID         string       `json:"id"`
	AccountID  string       `json:"accountId"`
	Pair       types.FxPair `json:"pair"`
	Commission *float64     `json:"commission,omitempty"`
	Price      *float64     `json:"price,omitempty"`
}

// PositionsSummary aggregates the company's positions of one account type
type PositionsSummary struct {
	CurrentValue  float64 `json:"currentValue"`
	UnrealizedPnL float64 `json:"unrealizedPnl"`
}
