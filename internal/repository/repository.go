// Package repository is the persistence facade for accounts, operations,
// transfers, category trees and users.
//
// Every read or write goes through a Ledger obtained from Store.View or
// Store.Update. Update runs its callback inside the engine's native
// transaction, so a command that persists an operation and repairs balances
// either commits as a whole or not at all.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Dan9191/finance-ledger/internal/models"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a document does not exist or belongs to another user
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict is returned when an account was modified since it was read
	ErrVersionConflict = errors.New("version conflict")

	// ErrDuplicate is returned when a unique key already exists
	ErrDuplicate = errors.New("duplicate record")
)

// OperationQuery filters operations for the feed
type OperationQuery struct {
	UserID      string
	AccountIDs  []string
	Type        models.SignType
	CategoryIDs []string
	// amount bounds apply to the absolute value of the amount
	AmountFrom *decimal.Decimal
	AmountTo   *decimal.Decimal
	DateFrom   *time.Time
	DateTo     *time.Time
	// TransferOnly restricts the query to transfer legs
	TransferOnly bool
}

// Ledger is the set of document reads and writes available inside one transaction
type Ledger interface {
	InsertUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUserIDs(ctx context.Context) ([]string, error)

	InsertAccount(ctx context.Context, account *models.Account) error
	GetAccount(ctx context.Context, userID, id string) (*models.Account, error)
	ListAccounts(ctx context.Context, userID string) ([]*models.Account, error)
	// SaveAccount writes the account if its Version still matches the stored
	// one and increments Version, otherwise it returns ErrVersionConflict.
	SaveAccount(ctx context.Context, account *models.Account) error
	DeleteAccount(ctx context.Context, userID, id string) error

	// InsertOperation stores a new operation and assigns its Seq
	InsertOperation(ctx context.Context, op *models.Operation) error
	GetOperation(ctx context.Context, userID, id string) (*models.Operation, error)
	SaveOperation(ctx context.Context, op *models.Operation) error
	DeleteOperation(ctx context.Context, userID, id string) error
	// LastOwnedBefore returns the latest operation owned by the account with
	// created < before, or nil when there is none.
	LastOwnedBefore(ctx context.Context, userID, accountID string, before time.Time) (*models.Operation, error)
	// HasOwnedAfter reports whether the account owns an operation with created > after
	HasOwnedAfter(ctx context.Context, userID, accountID string, after time.Time) (bool, error)
	// OwnedFrom returns the operations owned by the account with created >= from,
	// ordered by (created, seq).
	OwnedFrom(ctx context.Context, userID, accountID string, from time.Time) ([]*models.Operation, error)
	// CounterpartFrom returns the transfer legs whose counterpart is the account,
	// with created >= from, ordered by (created, seq).
	CounterpartFrom(ctx context.Context, userID, accountID string, from time.Time) ([]*models.Operation, error)
	// FindOperations returns matching operations ordered by (created, seq) descending
	FindOperations(ctx context.Context, q OperationQuery, skip, limit int) ([]*models.Operation, error)
	CountOperations(ctx context.Context, q OperationQuery) (int, error)
	// RetagOperations moves non-transfer operations referencing any of
	// categoryIDs to blankID. A non-empty sign limits it to that sign type.
	RetagOperations(ctx context.Context, userID string, categoryIDs []string, sign models.SignType, blankID string) (int, error)

	InsertTransfer(ctx context.Context, transfer *models.Transfer) error
	GetTransfer(ctx context.Context, userID, id string) (*models.Transfer, error)
	GetTransferByOperation(ctx context.Context, userID, operationID string) (*models.Transfer, error)
	TransfersByOperations(ctx context.Context, userID string, operationIDs []string) ([]*models.Transfer, error)
	DeleteTransfer(ctx context.Context, userID, id string) error

	// GetCategoryTree returns the raw tree document
	GetCategoryTree(ctx context.Context, userID string) ([]byte, error)
	SaveCategoryTree(ctx context.Context, userID string, tree []byte) error
}

// Store opens read-only and read-write transactions
type Store interface {
	View(ctx context.Context, fn func(Ledger) error) error
	Update(ctx context.Context, fn func(Ledger) error) error
	Close() error
}

// Open returns the store selected by driver: "postgres" uses dsn, "bolt" uses path
func Open(driver, dsn, path string) (Store, error) {
	switch driver {
	case "postgres":
		return NewPostgresStore(dsn)
	case "bolt":
		return NewBoltStore(path)
	default:
		return nil, errors.New("unknown store driver: " + driver)
	}
}

func matchesQuery(op *models.Operation, q OperationQuery) bool {
	if op.UserID != q.UserID {
		return false
	}
	if len(q.AccountIDs) > 0 && !contains(q.AccountIDs, op.AccountID) {
		return false
	}
	if q.Type != "" && op.Type != q.Type {
		return false
	}
	if len(q.CategoryIDs) > 0 && !contains(q.CategoryIDs, op.CategoryID) {
		return false
	}
	abs := op.Amount.Abs()
	if q.AmountFrom != nil && abs.LessThan(*q.AmountFrom) {
		return false
	}
	if q.AmountTo != nil && abs.GreaterThan(*q.AmountTo) {
		return false
	}
	if q.DateFrom != nil && op.Created.Before(*q.DateFrom) {
		return false
	}
	if q.DateTo != nil && op.Created.After(*q.DateTo) {
		return false
	}
	if q.TransferOnly && op.Transfer == nil {
		return false
	}
	return true
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
