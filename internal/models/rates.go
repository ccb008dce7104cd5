package models

import (
	"time"

	"github.com/hedge-snapshots/internal/types"
)

// TieredRate is an annualized rate that applies to the part of a balance within [TierFrom, TierTo).
// A nil TierTo is unbounded.
type TieredRate struct {
	TierFrom float64  `json:"tierFrom" db:"tier_from"`
	TierTo   *float64 `json:"tierTo,omitempty" db:"tier_to"`
	Rate     float64  `json:"rate" db:"rate"`
}

// IsUnbounded reports whether the tier has no upper limit
func (t TieredRate) IsUnbounded() bool {
	return t.TierTo == nil
}

// RateRow is one stored tier of a broker's interest or loan table for a currency and date
type RateRow struct {
	Broker    string          `json:"broker" db:"broker"`
	Currency  types.Currency  `json:"currency" db:"currency"`
	Date      time.Time       `json:"date" db:"date"`
	Direction types.Direction `json:"direction" db:"direction"`
	// TierFrom is nil when storage left it empty; it reads as 0
	TierFrom *float64 `json:"tierFrom,omitempty" db:"tier_from"`
	TierTo   *float64 `json:"tierTo,omitempty" db:"tier_to"`
	Rate     float64  `json:"rate" db:"rate"`
}

// Tier converts the row into a TieredRate
func (r RateRow) Tier() TieredRate {
	from := 0.0
	if r.TierFrom != nil {
		from = *r.TierFrom
	}
	return TieredRate{TierFrom: from, TierTo: r.TierTo, Rate: r.Rate}
}

// CostKind names the per-pair cost tables a broker publishes
type CostKind string

const (
	CostCommission CostKind = "commission"
	CostSpread     CostKind = "spread"
	CostMargin     CostKind = "margin"
)

// PairRate is one entry of a per-pair cost table
type PairRate struct {
	Broker string       `json:"broker" db:"broker"`
	Kind   CostKind     `json:"kind" db:"kind"`
	Pair   types.FxPair `json:"pair" db:"pair"`
	Date   time.Time    `json:"date" db:"date"`
	Rate   float64      `json:"rate" db:"rate"`
}
