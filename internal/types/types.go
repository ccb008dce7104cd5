// Package types provides common type definitions for the hedge snapshot engine.
package types

import (
	"fmt"
	"strings"
	"time"
)

// Currency is an ISO-4217 currency mnemonic such as "USD"
type Currency string

// FxPair is an ordered currency pair BASE/QUOTE. One unit of base costs Spot units of quote.
type FxPair struct {
	Base  Currency `json:"base"`
	Quote Currency `json:"quote"`
}

// NewFxPair creates a pair from its two currencies
func NewFxPair(base, quote Currency) FxPair {
	return FxPair{Base: base, Quote: quote}
}

// ParseFxPair parses names of the form "GBP/USD"
func ParseFxPair(name string) (FxPair, error) {
	parts := strings.Split(name, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return FxPair{}, fmt.Errorf("invalid fx pair name %q", name)
	}
	return FxPair{
		Base:  Currency(strings.ToUpper(strings.TrimSpace(parts[0]))),
		Quote: Currency(strings.ToUpper(strings.TrimSpace(parts[1]))),
	}, nil
}

// Name returns the market name of the pair, e.g. "GBP/USD"
func (p FxPair) Name() string {
	return string(p.Base) + "/" + string(p.Quote)
}

// String implements fmt.Stringer
func (p FxPair) String() string {
	return p.Name()
}

// Inverse returns QUOTE/BASE
func (p FxPair) Inverse() FxPair {
	return FxPair{Base: p.Quote, Quote: p.Base}
}

// IsSame reports whether base and quote are the same currency
func (p FxPair) IsSame() bool {
	return p.Base == p.Quote
}

// Direction tells which side of a broker's rate tables applies to a cash balance
type Direction int

const (
	// DirectionDeposit applies to money deposited by the company; it earns interest
	DirectionDeposit Direction = iota
	// DirectionLoan applies to money borrowed by the company; it costs interest
	DirectionLoan
)

// DirectionForAmount maps a signed cash amount to its rate direction.
// Negative amounts are loans, zero and positive amounts are deposits.
func DirectionForAmount(amount float64) Direction {
	if amount < 0 {
		return DirectionLoan
	}
	return DirectionDeposit
}

// String implements fmt.Stringer
func (d Direction) String() string {
	switch d {
	case DirectionDeposit:
		return "deposit"
	case DirectionLoan:
		return "loan"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// ParseDirection parses "deposit" / "interest" and "loan" / "margin"
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "deposit", "interest":
		return DirectionDeposit, nil
	case "loan", "margin":
		return DirectionLoan, nil
	default:
		return 0, fmt.Errorf("unknown rate direction %q", s)
	}
}

// DayCounter converts a pair of dates into a year fraction
type DayCounter interface {
	YearFraction(start, end time.Time) float64
}

// Actual365Fixed counts actual days elapsed over a 365-day year.
// Fractional days are kept, so intraday times count pro rata.
type Actual365Fixed struct{}

// YearFraction implements DayCounter
func (Actual365Fixed) YearFraction(start, end time.Time) float64 {
	return end.Sub(start).Hours() / 24.0 / 365.0
}

// YearFractionFromDays returns the year fraction of a whole number of days
func (Actual365Fixed) YearFractionFromDays(days int) float64 {
	return float64(days) / 365.0
}

// StartOfDay truncates t to midnight UTC
func StartOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// AddDays shifts t by a whole number of calendar days
func AddDays(t time.Time, days int) time.Time {
	return t.AddDate(0, 0, days)
}

// ParseDate parses a YYYY-MM-DD date at midnight UTC
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// AccountType separates real-money accounts from paper-trading ones
type AccountType string

const (
	// AccountLive is a real-money account
	AccountLive AccountType = "live"
	// AccountDemo is a paper-trading account
	AccountDemo AccountType = "demo"
)

// EntityKind identifies which kind of entity owns a snapshot chain
type EntityKind string

const (
	// EntityAccount is a hedging account
	EntityAccount EntityKind = "account"
	// EntityCompany is the company owning a set of accounts
	EntityCompany EntityKind = "company"
)

// EntityKey identifies one snapshot chain
type EntityKey struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}

// String implements fmt.Stringer
func (k EntityKey) String() string {
	return string(k.Kind) + ":" + k.ID
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
