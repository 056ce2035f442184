package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Dan9191/finance-ledger/internal/apperror"
	"github.com/Dan9191/finance-ledger/internal/feed"
	"github.com/Dan9191/finance-ledger/internal/models"
	"github.com/Dan9191/finance-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// OperationInput is a new single operation. Amount is a decimal string,
// negative for an expense and positive for an income.
type OperationInput struct {
	Created  string          `json:"created"`
	Account  string          `json:"account"`
	Category string          `json:"category"`
	Amount   string          `json:"amount"`
	Meta     json.RawMessage `json:"meta,omitempty"`
}

// OperationUpdate changes the supplied fields of a single operation
type OperationUpdate struct {
	ID       string          `json:"id"`
	Created  *string         `json:"created,omitempty"`
	Account  *string         `json:"account,omitempty"`
	Category *string         `json:"category,omitempty"`
	Amount   *string         `json:"amount,omitempty"`
	Meta     json.RawMessage `json:"meta,omitempty"`
}

// AddOperation records a single operation and updates the account's balances
func (s *Service) AddOperation(ctx context.Context, userID string, in OperationInput) (*models.Operation, error) {
	created, err := parseCreated("created", in.Created)
	if err != nil {
		return nil, err
	}
	if in.Account == "" {
		return nil, apperror.Required("account")
	}
	amount, err := parseAmount("amount", in.Amount)
	if err != nil {
		return nil, err
	}

	var result *models.Operation
	err = s.update(ctx, func(l repository.Ledger) error {
		account, err := s.loadAccount(ctx, l, userID, in.Account, "account")
		if err != nil {
			return err
		}
		rounded, err := roundFor(account, amount)
		if err != nil {
			return err
		}
		if rounded.IsZero() {
			return apperror.Invalid("amount", "amount.zero", nil)
		}
		sign := models.SignOf(rounded)

		tree, err := s.loadTree(ctx, l, userID)
		if err != nil {
			return err
		}
		if err := tree.CheckAssignable(in.Category, sign); err != nil {
			return err
		}

		now := s.now()
		op := &models.Operation{
			ID:         uuid.NewString(),
			UserID:     userID,
			AccountID:  account.ID,
			Type:       sign,
			CategoryID: in.Category,
			Amount:     rounded,
			Created:    created,
			UpdatedAt:  now,
			Meta:       in.Meta,
		}
		if err := l.InsertOperation(ctx, op); err != nil {
			return err
		}
		if _, err := s.engine.Append(ctx, l, userID, op.ID); err != nil {
			return err
		}
		result, err = l.GetOperation(ctx, userID, op.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"user_id":      userID,
		"account_id":   result.AccountID,
		"operation_id": result.ID,
	}).Info("Operation added")
	return result, nil
}

// UpdateOperation applies the supplied changes to a single operation and
// repairs every affected account from the earliest affected date
func (s *Service) UpdateOperation(ctx context.Context, userID string, upd OperationUpdate) (*models.Operation, error) {
	if upd.ID == "" {
		return nil, apperror.Required("id")
	}

	var created *time.Time
	if upd.Created != nil {
		t, err := parseCreated("created", *upd.Created)
		if err != nil {
			return nil, err
		}
		created = &t
	}
	var amount *decimal.Decimal
	if upd.Amount != nil {
		d, err := parseAmount("amount", *upd.Amount)
		if err != nil {
			return nil, err
		}
		amount = &d
	}

	var result *models.Operation
	err := s.update(ctx, func(l repository.Ledger) error {
		op, err := l.GetOperation(ctx, userID, upd.ID)
		if err != nil {
			return notFound(err, "id", "operation.notFound")
		}
		if op.IsTransferLeg() {
			return apperror.Rule("id", "operation.isTransfer")
		}
		oldAccount, oldCreated, oldSign := op.AccountID, op.Created, op.Type

		accountID := op.AccountID
		if upd.Account != nil {
			accountID = *upd.Account
		}
		account, err := s.loadAccount(ctx, l, userID, accountID, "account")
		if err != nil {
			return err
		}
		op.AccountID = account.ID

		if created != nil {
			op.Created = *created
		}
		if amount != nil {
			op.Amount = *amount
		}
		op.Amount, err = roundFor(account, op.Amount)
		if err != nil {
			return err
		}
		if op.Amount.IsZero() {
			return apperror.Invalid("amount", "amount.zero", nil)
		}
		op.Type = models.SignOf(op.Amount)

		if upd.Category != nil || op.Type != oldSign {
			tree, err := s.loadTree(ctx, l, userID)
			if err != nil {
				return err
			}
			if upd.Category != nil {
				op.CategoryID = *upd.Category
			}
			// a sign flip must not leave an incompatible category behind
			if err := tree.CheckAssignable(op.CategoryID, op.Type); err != nil {
				return err
			}
		}

		if upd.Meta != nil {
			op.Meta = upd.Meta
		}
		op.UpdatedAt = s.now()
		if err := l.SaveOperation(ctx, op); err != nil {
			return err
		}

		if _, err := s.engine.Repair(ctx, l, userID, op.AccountID, minTime(oldCreated, op.Created), nil); err != nil {
			return err
		}
		if oldAccount != op.AccountID {
			if _, err := s.engine.Repair(ctx, l, userID, oldAccount, oldCreated, nil); err != nil {
				return err
			}
		}
		result, err = l.GetOperation(ctx, userID, op.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"user_id":      userID,
		"account_id":   result.AccountID,
		"operation_id": result.ID,
	}).Info("Operation updated")
	return result, nil
}

// DeleteOperation removes a single operation. Deleting a transfer leg removes
// the whole transfer.
func (s *Service) DeleteOperation(ctx context.Context, userID, id string) error {
	if id == "" {
		return apperror.Required("id")
	}

	err := s.update(ctx, func(l repository.Ledger) error {
		op, err := l.GetOperation(ctx, userID, id)
		if err != nil {
			return notFound(err, "id", "operation.notFound")
		}
		if op.IsTransferLeg() {
			transfer, err := l.GetTransferByOperation(ctx, userID, op.ID)
			if err != nil {
				return notFound(err, "id", "transfer.notFound")
			}
			return s.removeTransfer(ctx, l, userID, transfer)
		}
		if err := l.DeleteOperation(ctx, userID, op.ID); err != nil {
			return err
		}
		_, err = s.engine.Repair(ctx, l, userID, op.AccountID, op.Created, nil)
		return err
	})
	if err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{"user_id": userID, "operation_id": id}).Info("Operation deleted")
	return nil
}

// GetOperation returns a single operation
func (s *Service) GetOperation(ctx context.Context, userID, id string) (*models.Operation, error) {
	var op *models.Operation
	err := s.view(ctx, func(l repository.Ledger) error {
		var err error
		op, err = l.GetOperation(ctx, userID, id)
		return notFound(err, "id", "operation.notFound")
	})
	return op, err
}

// ListOperations returns one page of the operation feed
func (s *Service) ListOperations(ctx context.Context, userID string, filters feed.Filters, skip, limit int) (*feed.Page, error) {
	page, err := s.feed.List(ctx, userID, filters, skip, limit)
	if err != nil {
		return nil, translate(err)
	}
	return page, nil
}
