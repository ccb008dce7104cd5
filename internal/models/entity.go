package models

import (
	"time"

	"github.com/hedge-snapshots/internal/types"
)

// Company owns a set of hedging accounts and reports in its domestic currency
type Company struct {
	ID       string         `json:"id" db:"id"`
	Name     string         `json:"name" db:"name"`
	Domestic types.Currency `json:"domestic" db:"domestic"`
	// Broker whose rate tables price the company's carry
	Broker    string    `json:"broker" db:"broker"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// Key returns the chain key of the company
func (c Company) Key() types.EntityKey {
	return types.EntityKey{Kind: types.EntityCompany, ID: c.ID}
}

// Account is one hedging account of a company
type Account struct {
	ID        string            `json:"id" db:"id"`
	CompanyID string            `json:"companyId" db:"company_id"`
	Name      string            `json:"name" db:"name"`
	Type      types.AccountType `json:"type" db:"type"`
	Domestic  types.Currency    `json:"domestic" db:"domestic"`
	Active    bool              `json:"active" db:"active"`
}

// Key returns the chain key of the account
func (a Account) Key() types.EntityKey {
	return types.EntityKey{Kind: types.EntityAccount, ID: a.ID}
}

// IsLive reports whether the account trades real money
func (a Account) IsLive() bool {
	return a.Type == types.AccountLive
}

// HedgeSettings holds the per-account hedging parameters the snapshot needs
type HedgeSettings struct {
	AccountID      string `json:"accountId" db:"account_id"`
	MaxHorizonDays int    `json:"maxHorizonDays" db:"max_horizon_days"`
}
