package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/Dan9191/finance-ledger/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Drift is an account whose stored balances did not match a full recomputation
type Drift struct {
	UserID     string          `json:"user_id"`
	AccountID  string          `json:"account_id"`
	Stored     decimal.Decimal `json:"stored"`
	Actual     decimal.Decimal `json:"actual"`
	Operations int             `json:"operations"`
}

// Failure is an account that could not be repaired
type Failure struct {
	UserID    string `json:"user_id"`
	AccountID string `json:"account_id"`
	Error     string `json:"error"`
}

// Report summarizes a reconciliation run
type Report struct {
	Started  time.Time `json:"started"`
	Accounts int       `json:"accounts"`
	Drifts   []Drift   `json:"drifts"`
	Failures []Failure `json:"failures"`
}

// Clean reports whether nothing had to be fixed and nothing failed
func (r *Report) Clean() bool {
	return len(r.Drifts) == 0 && len(r.Failures) == 0
}

func (r *Report) merge(other Report) {
	r.Accounts += other.Accounts
	r.Drifts = append(r.Drifts, other.Drifts...)
	r.Failures = append(r.Failures, other.Failures...)
}

// Reconcile repairs every account of the user from its first operation.
// Each account is repaired in its own transaction so one failure does not
// block the others.
func (e *Engine) Reconcile(ctx context.Context, store repository.Store, userID string) (Report, error) {
	report := Report{Started: time.Now().UTC()}

	var accountIDs []string
	err := store.View(ctx, func(l repository.Ledger) error {
		accounts, err := l.ListAccounts(ctx, userID)
		if err != nil {
			return err
		}
		for _, a := range accounts {
			accountIDs = append(accountIDs, a.ID)
		}
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("failed to list accounts: %w", err)
	}

	for _, accountID := range accountIDs {
		report.Accounts++
		var res Result
		err := store.Update(ctx, func(l repository.Ledger) error {
			var err error
			res, err = e.repair(ctx, l, userID, accountID, time.Time{}, nil)
			return err
		})
		if err != nil {
			e.log.WithError(err).WithFields(logrus.Fields{"user_id": userID, "account_id": accountID}).Error("Reconcile failed")
			report.Failures = append(report.Failures, Failure{UserID: userID, AccountID: accountID, Error: err.Error()})
			continue
		}
		if res.Changed > 0 || !res.Previous.Equal(res.Balance) {
			e.log.WithFields(logrus.Fields{
				"user_id":    userID,
				"account_id": accountID,
				"stored":     res.Previous.String(),
				"actual":     res.Balance.String(),
			}).Warn("Balance drift repaired")
			report.Drifts = append(report.Drifts, Drift{
				UserID: userID, AccountID: accountID,
				Stored: res.Previous, Actual: res.Balance, Operations: res.Changed,
			})
		}
	}
	return report, nil
}

// RepairAll reconciles the accounts of every user
func (e *Engine) RepairAll(ctx context.Context, store repository.Store) (Report, error) {
	report := Report{Started: time.Now().UTC()}

	var userIDs []string
	err := store.View(ctx, func(l repository.Ledger) error {
		var err error
		userIDs, err = l.ListUserIDs(ctx)
		return err
	})
	if err != nil {
		return report, fmt.Errorf("failed to list users: %w", err)
	}

	for _, userID := range userIDs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		r, err := e.Reconcile(ctx, store, userID)
		report.merge(r)
		if err != nil {
			report.Failures = append(report.Failures, Failure{UserID: userID, Error: err.Error()})
		}
	}

	e.log.WithFields(logrus.Fields{
		"users":    len(userIDs),
		"accounts": report.Accounts,
		"drifts":   len(report.Drifts),
		"failures": len(report.Failures),
	}).Info("Reconciliation finished")
	return report, nil
}
