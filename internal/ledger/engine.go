// Package ledger keeps running balances consistent.
//
// Each operation stores the balance of its own account immediately after it,
// ordered by (created, seq). A transfer leg also mirrors the balance of its
// counterpart leg in Transfer.Balance. Account.CurrentBalance caches the
// balance after the last owned operation, or StartBalance when there is none.
//
// Engine methods take a repository.Ledger, so they always run inside the
// caller's store transaction.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/Dan9191/finance-ledger/internal/models"
	"github.com/Dan9191/finance-ledger/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Engine computes and repairs running balances
type Engine struct {
	log *logrus.Logger
}

// NewEngine creates a new Engine
func NewEngine(log *logrus.Logger) *Engine {
	return &Engine{log: log}
}

// Result describes one repair run
type Result struct {
	Previous decimal.Decimal
	Balance  decimal.Decimal
	// Changed counts rewritten operation documents, mirrors included
	Changed int
}

// Repair recomputes balances of the account's operations with created >= from
// and stores the final value as the account's current balance. The baseline is
// the balance of the last owned operation before from, else override when
// given, else the account's start balance.
func (e *Engine) Repair(ctx context.Context, l repository.Ledger, userID, accountID string, from time.Time, override *decimal.Decimal) (decimal.Decimal, error) {
	res, err := e.repair(ctx, l, userID, accountID, from, override)
	if err != nil {
		return decimal.Zero, err
	}
	return res.Balance, nil
}

func (e *Engine) repair(ctx context.Context, l repository.Ledger, userID, accountID string, from time.Time, override *decimal.Decimal) (Result, error) {
	account, err := l.GetAccount(ctx, userID, accountID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load account %s: %w", accountID, err)
	}

	balance, err := baseline(ctx, l, account, from, override)
	if err != nil {
		return Result{}, err
	}

	owned, err := l.OwnedFrom(ctx, userID, accountID, from)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load operations: %w", err)
	}

	changed := 0
	balances := make(map[string]decimal.Decimal, len(owned))
	for _, op := range owned {
		balance = balance.Add(op.Amount)
		balances[op.ID] = balance
		if op.Balance.Equal(balance) {
			continue
		}
		op.Balance = balance
		if err := l.SaveOperation(ctx, op); err != nil {
			return Result{}, fmt.Errorf("failed to save operation %s: %w", op.ID, err)
		}
		changed++
	}

	n, err := e.mirror(ctx, l, userID, accountID, from, balances)
	if err != nil {
		return Result{}, err
	}
	changed += n

	res := Result{Previous: account.CurrentBalance, Balance: balance, Changed: changed}
	account.CurrentBalance = balance
	account.UpdatedAt = time.Now().UTC()
	if err := l.SaveAccount(ctx, account); err != nil {
		return Result{}, fmt.Errorf("failed to save account %s: %w", accountID, err)
	}

	e.log.WithFields(logrus.Fields{
		"user_id":    userID,
		"account_id": accountID,
		"from":       from,
		"operations": len(owned),
		"changed":    changed,
	}).Debug("Balances repaired")

	return res, nil
}

func baseline(ctx context.Context, l repository.Ledger, account *models.Account, from time.Time, override *decimal.Decimal) (decimal.Decimal, error) {
	prev, err := l.LastOwnedBefore(ctx, account.UserID, account.ID, from)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load previous operation: %w", err)
	}
	switch {
	case prev != nil:
		return prev.Balance, nil
	case override != nil:
		return *override, nil
	default:
		return account.StartBalance, nil
	}
}

// mirror copies the account's leg balances into the transfer.balance field of
// the counterpart legs
func (e *Engine) mirror(ctx context.Context, l repository.Ledger, userID, accountID string, from time.Time, balances map[string]decimal.Decimal) (int, error) {
	counterparts, err := l.CounterpartFrom(ctx, userID, accountID, from)
	if err != nil {
		return 0, fmt.Errorf("failed to load counterpart legs: %w", err)
	}

	changed := 0
	for _, cp := range counterparts {
		balance, ok := balances[cp.Transfer.OperationID]
		if !ok {
			leg, err := l.GetOperation(ctx, userID, cp.Transfer.OperationID)
			if err != nil {
				return changed, fmt.Errorf("failed to load paired leg %s: %w", cp.Transfer.OperationID, err)
			}
			balance = leg.Balance
		}
		if cp.Transfer.Balance.Equal(balance) {
			continue
		}
		cp.Transfer.Balance = balance
		if err := l.SaveOperation(ctx, cp); err != nil {
			return changed, fmt.Errorf("failed to save counterpart leg %s: %w", cp.ID, err)
		}
		changed++
	}
	return changed, nil
}

// Append sets the balance of a freshly inserted operation. When no owned
// operation of the account is dated later, the balance is the account's
// current balance plus the amount and no scan is needed; otherwise it falls
// back to Repair from the operation's date.
func (e *Engine) Append(ctx context.Context, l repository.Ledger, userID, operationID string) (decimal.Decimal, error) {
	op, err := l.GetOperation(ctx, userID, operationID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load operation %s: %w", operationID, err)
	}

	later, err := l.HasOwnedAfter(ctx, userID, op.AccountID, op.Created)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to check later operations: %w", err)
	}
	if later {
		return e.Repair(ctx, l, userID, op.AccountID, op.Created, nil)
	}

	account, err := l.GetAccount(ctx, userID, op.AccountID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load account %s: %w", op.AccountID, err)
	}

	balance := account.CurrentBalance.Add(op.Amount)
	op.Balance = balance
	if err := l.SaveOperation(ctx, op); err != nil {
		return decimal.Zero, fmt.Errorf("failed to save operation %s: %w", op.ID, err)
	}

	if op.Transfer != nil {
		cp, err := l.GetOperation(ctx, userID, op.Transfer.OperationID)
		if err != nil {
			return decimal.Zero, fmt.Errorf("failed to load paired leg %s: %w", op.Transfer.OperationID, err)
		}
		if cp.Transfer != nil && !cp.Transfer.Balance.Equal(balance) {
			cp.Transfer.Balance = balance
			if err := l.SaveOperation(ctx, cp); err != nil {
				return decimal.Zero, fmt.Errorf("failed to save counterpart leg %s: %w", cp.ID, err)
			}
		}
	}

	account.CurrentBalance = balance
	account.UpdatedAt = time.Now().UTC()
	if err := l.SaveAccount(ctx, account); err != nil {
		return decimal.Zero, fmt.Errorf("failed to save account %s: %w", account.ID, err)
	}
	return balance, nil
}
