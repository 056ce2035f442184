package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// SignType is derived from the sign of an operation amount
type SignType string

const (
	Expense SignType = "expense"
	Income  SignType = "income"
)

// Valid reports whether t is a known sign type
func (t SignType) Valid() bool {
	return t == Expense || t == Income
}

// SignOf derives the sign type of an amount: positive is income, anything else expense
func SignOf(amount decimal.Decimal) SignType {
	if amount.IsPositive() {
		return Income
	}
	return Expense
}

// TransferLeg mirrors the counterpart leg of a transfer
type TransferLeg struct {
	OperationID string          `json:"operation_id"`
	AccountID   string          `json:"account"`
	Amount      decimal.Decimal `json:"amount"`
	Balance     decimal.Decimal `json:"balance"`
}

// Operation is a single transaction leg affecting one account's balance
type Operation struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	AccountID  string          `json:"account"`
	Type       SignType        `json:"type"`
	CategoryID string          `json:"category"`
	Amount     decimal.Decimal `json:"amount"`
	Balance    decimal.Decimal `json:"balance"`
	Transfer   *TransferLeg    `json:"transfer,omitempty"`
	Created    time.Time       `json:"created"`
	Seq        int64           `json:"seq"`
	UpdatedAt  time.Time       `json:"updated"`
	Meta       json.RawMessage `json:"meta,omitempty"`
}

// IsTransferLeg reports whether the operation is one half of a transfer
func (o *Operation) IsTransferLeg() bool {
	return o.Transfer != nil
}

// Before orders operations by (created, seq)
func (o *Operation) Before(other *Operation) bool {
	if !o.Created.Equal(other.Created) {
		return o.Created.Before(other.Created)
	}
	return o.Seq < other.Seq
}

// Transfer links the expense leg and the income leg of a transfer
type Transfer struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	FromOperationID string    `json:"from_operation"`
	ToOperationID   string    `json:"to_operation"`
	CreatedAt       time.Time `json:"created_at"`
}

// Has reports whether operationID is one of the legs
func (t *Transfer) Has(operationID string) bool {
	return t.FromOperationID == operationID || t.ToOperationID == operationID
}

// OperationIDs returns both legs, expense leg first
func (t *Transfer) OperationIDs() []string {
	return []string{t.FromOperationID, t.ToOperationID}
}
