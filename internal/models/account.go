package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountStatus is the lifecycle state of an account
type AccountStatus string

const (
	AccountActive AccountStatus = "active"
	AccountClosed AccountStatus = "closed"
)

// Valid reports whether s is a known status
func (s AccountStatus) Valid() bool {
	return s == AccountActive || s == AccountClosed
}

// AccountKind distinguishes debt accounts from standard ones
type AccountKind string

const (
	AccountStandard AccountKind = "standard"
	AccountDebt     AccountKind = "debt"
)

// Valid reports whether k is a known kind
func (k AccountKind) Valid() bool {
	return k == AccountStandard || k == AccountDebt
}

// Account represents a user's ledger account.
// CurrentBalance is derived: it equals the balance of the chronologically last
// operation touching the account, or StartBalance when there is none.
type Account struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Name           string          `json:"name"`
	Currency       string          `json:"currency"`
	StartBalance   decimal.Decimal `json:"start_balance"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	Status         AccountStatus   `json:"status"`
	Kind           AccountKind     `json:"kind"`
	Order          int             `json:"order"`
	Version        int64           `json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
