package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/Dan9191/finance-ledger/internal/apperror"
	"github.com/Dan9191/finance-ledger/internal/models"
	"github.com/Dan9191/finance-ledger/internal/money"
	"github.com/Dan9191/finance-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// AccountInput is a new account
type AccountInput struct {
	Name         string             `json:"name"`
	Currency     string             `json:"currency"`
	StartBalance string             `json:"start_balance"`
	Kind         models.AccountKind `json:"kind"`
	Order        int                `json:"order"`
}

// AccountUpdate changes the supplied fields of an account. The currency is immutable.
type AccountUpdate struct {
	Name         *string               `json:"name,omitempty"`
	Status       *models.AccountStatus `json:"status,omitempty"`
	Kind         *models.AccountKind   `json:"kind,omitempty"`
	Order        *int                  `json:"order,omitempty"`
	StartBalance *string               `json:"start_balance,omitempty"`
}

func validName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperror.Required("name")
	}
	return name, nil
}

// parseStartBalance parses an optional signed start balance in the currency
func parseStartBalance(c money.Currency, value string) (decimal.Decimal, error) {
	if strings.TrimSpace(value) == "" {
		return decimal.Zero, nil
	}
	d, err := money.Parse(value)
	if err != nil {
		return decimal.Zero, apperror.Invalid("start_balance", "start_balance.invalid", err)
	}
	return c.Round(d), nil
}

// CreateAccount creates a new account for the user
func (s *Service) CreateAccount(ctx context.Context, userID string, in AccountInput) (*models.Account, error) {
	name, err := validName(in.Name)
	if err != nil {
		return nil, err
	}
	if in.Currency == "" {
		return nil, apperror.Required("currency")
	}
	currency, ok := money.Lookup(in.Currency)
	if !ok {
		return nil, apperror.Invalid("currency", "currency.unknown", nil)
	}
	start, err := parseStartBalance(currency, in.StartBalance)
	if err != nil {
		return nil, err
	}
	kind := in.Kind
	if kind == "" {
		kind = models.AccountStandard
	}
	if !kind.Valid() {
		return nil, apperror.Invalid("kind", "kind.invalid", nil)
	}

	now := s.now()
	account := &models.Account{
		ID:             uuid.NewString(),
		UserID:         userID,
		Name:           name,
		Currency:       currency.Code,
		StartBalance:   start,
		CurrentBalance: start,
		Status:         models.AccountActive,
		Kind:           kind,
		Order:          in.Order,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.update(ctx, func(l repository.Ledger) error {
		return l.InsertAccount(ctx, account)
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"user_id": userID, "account_id": account.ID}).Infof("Account created: %s", account.Currency)
	return account, nil
}

// UpdateAccount applies the supplied changes. A new start balance re-runs the
// repair of the whole account with it as the baseline.
func (s *Service) UpdateAccount(ctx context.Context, userID, id string, upd AccountUpdate) (*models.Account, error) {
	if upd.Name != nil {
		name, err := validName(*upd.Name)
		if err != nil {
			return nil, err
		}
		upd.Name = &name
	}
	if upd.Status != nil && !upd.Status.Valid() {
		return nil, apperror.Invalid("status", "status.invalid", nil)
	}
	if upd.Kind != nil && !upd.Kind.Valid() {
		return nil, apperror.Invalid("kind", "kind.invalid", nil)
	}

	var result *models.Account
	err := s.update(ctx, func(l repository.Ledger) error {
		account, err := s.loadAccount(ctx, l, userID, id, "id")
		if err != nil {
			return err
		}
		if upd.Name != nil {
			account.Name = *upd.Name
		}
		if upd.Status != nil {
			account.Status = *upd.Status
		}
		if upd.Kind != nil {
			account.Kind = *upd.Kind
		}
		if upd.Order != nil {
			account.Order = *upd.Order
		}

		var override *decimal.Decimal
		if upd.StartBalance != nil {
			currency, _ := money.Lookup(account.Currency)
			start, err := parseStartBalance(currency, *upd.StartBalance)
			if err != nil {
				return err
			}
			if !start.Equal(account.StartBalance) {
				account.StartBalance = start
				override = &start
			}
		}

		account.UpdatedAt = s.now()
		if err := l.SaveAccount(ctx, account); err != nil {
			return err
		}
		if override != nil {
			if _, err := s.engine.Repair(ctx, l, userID, account.ID, time.Time{}, override); err != nil {
				return err
			}
		}
		result, err = l.GetAccount(ctx, userID, account.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"user_id": userID, "account_id": id}).Info("Account updated")
	return result, nil
}

// DeleteAccount removes the account with every operation it owns and both
// legs of every transfer touching it, then repairs the counterpart accounts
func (s *Service) DeleteAccount(ctx context.Context, userID, id string) error {
	removed := 0
	err := s.update(ctx, func(l repository.Ledger) error {
		removed = 0
		account, err := s.loadAccount(ctx, l, userID, id, "id")
		if err != nil {
			return err
		}

		owned, err := l.OwnedFrom(ctx, userID, account.ID, time.Time{})
		if err != nil {
			return err
		}
		counterparts, err := l.CounterpartFrom(ctx, userID, account.ID, time.Time{})
		if err != nil {
			return err
		}

		deleted := make(map[string]bool)
		// earliest removed date per surviving account
		repairs := make(map[string]time.Time)
		remove := func(op *models.Operation) error {
			if deleted[op.ID] {
				return nil
			}
			if err := l.DeleteOperation(ctx, userID, op.ID); err != nil {
				return err
			}
			deleted[op.ID] = true
			removed++
			if op.AccountID != account.ID {
				if at, ok := repairs[op.AccountID]; !ok || op.Created.Before(at) {
					repairs[op.AccountID] = op.Created
				}
			}
			return nil
		}

		for _, op := range owned {
			if op.IsTransferLeg() {
				transfer, err := l.GetTransferByOperation(ctx, userID, op.ID)
				switch {
				case err == nil:
					other, err := l.GetOperation(ctx, userID, op.Transfer.OperationID)
					switch {
					case err == nil:
						if err := remove(other); err != nil {
							return err
						}
					case !errors.Is(err, repository.ErrNotFound):
						return err
					}
					if err := l.DeleteTransfer(ctx, userID, transfer.ID); err != nil {
						return err
					}
				case !errors.Is(err, repository.ErrNotFound):
					return err
				}
			}
			if err := remove(op); err != nil {
				return err
			}
		}
		// legs whose owning side is already gone
		for _, op := range counterparts {
			if deleted[op.ID] {
				continue
			}
			transfer, err := l.GetTransferByOperation(ctx, userID, op.ID)
			switch {
			case err == nil:
				if err := l.DeleteTransfer(ctx, userID, transfer.ID); err != nil {
					return err
				}
			case !errors.Is(err, repository.ErrNotFound):
				return err
			}
			if err := remove(op); err != nil {
				return err
			}
		}

		if err := l.DeleteAccount(ctx, userID, account.ID); err != nil {
			return err
		}
		accountIDs := make([]string, 0, len(repairs))
		for accountID := range repairs {
			accountIDs = append(accountIDs, accountID)
		}
		sort.Strings(accountIDs)
		for _, accountID := range accountIDs {
			if _, err := s.engine.Repair(ctx, l, userID, accountID, repairs[accountID], nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{"user_id": userID, "account_id": id, "operations": removed}).Info("Account deleted")
	return nil
}

// GetAccount returns one account of the user
func (s *Service) GetAccount(ctx context.Context, userID, id string) (*models.Account, error) {
	var account *models.Account
	err := s.view(ctx, func(l repository.Ledger) error {
		var err error
		account, err = s.loadAccount(ctx, l, userID, id, "id")
		return err
	})
	return account, err
}

// ListAccounts returns the user's accounts in display order
func (s *Service) ListAccounts(ctx context.Context, userID string) ([]*models.Account, error) {
	var accounts []*models.Account
	err := s.view(ctx, func(l repository.Ledger) error {
		var err error
		accounts, err = l.ListAccounts(ctx, userID)
		return err
	})
	if accounts == nil {
		accounts = []*models.Account{}
	}
	return accounts, err
}
