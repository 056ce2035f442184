package service

import (
	"context"
	"errors"
	"time"

	"github.com/Dan9191/finance-ledger/internal/apperror"
	"github.com/Dan9191/finance-ledger/internal/models"
	"github.com/Dan9191/finance-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// TransferInput is a new transfer. Both amounts are positive magnitudes in
// the currency of their own account.
type TransferInput struct {
	Created     string `json:"created"`
	AccountFrom string `json:"accountFrom"`
	AccountTo   string `json:"accountTo"`
	AmountFrom  string `json:"amountFrom"`
	AmountTo    string `json:"amountTo"`
}

// TransferUpdate changes the supplied fields of a transfer identified by
// either leg id or the transfer id
type TransferUpdate struct {
	ID          string  `json:"id"`
	Created     *string `json:"created,omitempty"`
	AccountFrom *string `json:"accountFrom,omitempty"`
	AccountTo   *string `json:"accountTo,omitempty"`
	AmountFrom  *string `json:"amountFrom,omitempty"`
	AmountTo    *string `json:"amountTo,omitempty"`
}

// TransferResult holds both legs of a transfer
type TransferResult struct {
	TransferID    string            `json:"transfer"`
	OperationFrom *models.Operation `json:"operationFrom"`
	OperationTo   *models.Operation `json:"operationTo"`
}

// parseMagnitude parses a transfer amount, which must be strictly positive
func parseMagnitude(field, value string) (decimal.Decimal, error) {
	d, err := parseAmount(field, value)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, apperror.Rule(field, field+".notPositive")
	}
	return d, nil
}

// roundMagnitude rounds a transfer amount to the account currency, keeping it positive
func roundMagnitude(account *models.Account, field string, d decimal.Decimal) (decimal.Decimal, error) {
	rounded, err := roundFor(account, d)
	if err != nil {
		return decimal.Zero, err
	}
	if !rounded.IsPositive() {
		return decimal.Zero, apperror.Rule(field, field+".notPositive")
	}
	return rounded, nil
}

// link points each leg's transfer mirror at the other leg
func link(from, to *models.Operation) {
	from.Transfer = &models.TransferLeg{OperationID: to.ID, AccountID: to.AccountID, Amount: to.Amount, Balance: to.Balance}
	to.Transfer = &models.TransferLeg{OperationID: from.ID, AccountID: from.AccountID, Amount: from.Amount, Balance: from.Balance}
}

// AddTransfer records both legs of a transfer and updates both accounts
func (s *Service) AddTransfer(ctx context.Context, userID string, in TransferInput) (*TransferResult, error) {
	created, err := parseCreated("created", in.Created)
	if err != nil {
		return nil, err
	}
	if in.AccountFrom == "" {
		return nil, apperror.Required("accountFrom")
	}
	if in.AccountTo == "" {
		return nil, apperror.Required("accountTo")
	}
	amountFrom, err := parseMagnitude("amountFrom", in.AmountFrom)
	if err != nil {
		return nil, err
	}
	amountTo, err := parseMagnitude("amountTo", in.AmountTo)
	if err != nil {
		return nil, err
	}
	if in.AccountFrom == in.AccountTo {
		return nil, apperror.Rule("accountTo", "transfer.sameAccount")
	}

	var result *TransferResult
	err = s.update(ctx, func(l repository.Ledger) error {
		source, err := s.loadAccount(ctx, l, userID, in.AccountFrom, "accountFrom")
		if err != nil {
			return err
		}
		target, err := s.loadAccount(ctx, l, userID, in.AccountTo, "accountTo")
		if err != nil {
			return err
		}
		outAmount, err := roundMagnitude(source, "amountFrom", amountFrom)
		if err != nil {
			return err
		}
		inAmount, err := roundMagnitude(target, "amountTo", amountTo)
		if err != nil {
			return err
		}

		tree, err := s.loadTree(ctx, l, userID)
		if err != nil {
			return err
		}
		categoryID := tree.Transfer().ID

		now := s.now()
		from := &models.Operation{
			ID: uuid.NewString(), UserID: userID, AccountID: source.ID,
			Type: models.Expense, CategoryID: categoryID, Amount: outAmount.Neg(),
			Created: created, UpdatedAt: now,
		}
		to := &models.Operation{
			ID: uuid.NewString(), UserID: userID, AccountID: target.ID,
			Type: models.Income, CategoryID: categoryID, Amount: inAmount,
			Created: created, UpdatedAt: now,
		}
		link(from, to)

		for _, op := range []*models.Operation{from, to} {
			if err := l.InsertOperation(ctx, op); err != nil {
				return err
			}
		}
		transfer := &models.Transfer{
			ID: uuid.NewString(), UserID: userID,
			FromOperationID: from.ID, ToOperationID: to.ID, CreatedAt: now,
		}
		if err := l.InsertTransfer(ctx, transfer); err != nil {
			return err
		}

		// each account is settled on its own timeline
		for _, op := range []*models.Operation{from, to} {
			if _, err := s.engine.Append(ctx, l, userID, op.ID); err != nil {
				return err
			}
		}
		result, err = loadResult(ctx, l, userID, transfer)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"user_id":     userID,
		"transfer_id": result.TransferID,
		"from":        result.OperationFrom.AccountID,
		"to":          result.OperationTo.AccountID,
	}).Info("Transfer added")
	return result, nil
}

// UpdateTransfer applies the supplied changes to both legs of a transfer.
// accountFrom and amountFrom always apply to the expense leg and accountTo and
// amountTo to the income leg, whichever leg id was passed.
func (s *Service) UpdateTransfer(ctx context.Context, userID string, upd TransferUpdate) (*TransferResult, error) {
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
	var amountFrom, amountTo *decimal.Decimal
	if upd.AmountFrom != nil {
		d, err := parseMagnitude("amountFrom", *upd.AmountFrom)
		if err != nil {
			return nil, err
		}
		amountFrom = &d
	}
	if upd.AmountTo != nil {
		d, err := parseMagnitude("amountTo", *upd.AmountTo)
		if err != nil {
			return nil, err
		}
		amountTo = &d
	}

	var result *TransferResult
	err := s.update(ctx, func(l repository.Ledger) error {
		transfer, err := s.resolveTransfer(ctx, l, userID, upd.ID)
		if err != nil {
			return err
		}
		from, to, err := loadLegs(ctx, l, userID, transfer)
		if err != nil {
			return err
		}
		oldCreated := from.Created
		touched := []string{from.AccountID, to.AccountID}

		sourceID, targetID := from.AccountID, to.AccountID
		if upd.AccountFrom != nil {
			sourceID = *upd.AccountFrom
		}
		if upd.AccountTo != nil {
			targetID = *upd.AccountTo
		}
		if sourceID == targetID {
			return apperror.Rule("accountTo", "transfer.sameAccount")
		}
		source, err := s.loadAccount(ctx, l, userID, sourceID, "accountFrom")
		if err != nil {
			return err
		}
		target, err := s.loadAccount(ctx, l, userID, targetID, "accountTo")
		if err != nil {
			return err
		}

		outAmount := from.Amount.Neg()
		if amountFrom != nil {
			outAmount = *amountFrom
		}
		inAmount := to.Amount
		if amountTo != nil {
			inAmount = *amountTo
		}
		if outAmount, err = roundMagnitude(source, "amountFrom", outAmount); err != nil {
			return err
		}
		if inAmount, err = roundMagnitude(target, "amountTo", inAmount); err != nil {
			return err
		}

		now := s.now()
		from.AccountID, from.Amount = source.ID, outAmount.Neg()
		to.AccountID, to.Amount = target.ID, inAmount
		if created != nil {
			from.Created, to.Created = *created, *created
		}
		from.UpdatedAt, to.UpdatedAt = now, now
		link(from, to)
		for _, op := range []*models.Operation{from, to} {
			if err := l.SaveOperation(ctx, op); err != nil {
				return err
			}
		}

		repairFrom := minTime(oldCreated, from.Created)
		for _, accountID := range distinct(append(touched, source.ID, target.ID)) {
			if _, err := s.engine.Repair(ctx, l, userID, accountID, repairFrom, nil); err != nil {
				return err
			}
		}
		result, err = loadResult(ctx, l, userID, transfer)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"user_id": userID, "transfer_id": result.TransferID}).Info("Transfer updated")
	return result, nil
}

// DeleteTransfer removes both legs of a transfer identified by either leg id or the transfer id
func (s *Service) DeleteTransfer(ctx context.Context, userID, id string) error {
	if id == "" {
		return apperror.Required("id")
	}
	err := s.update(ctx, func(l repository.Ledger) error {
		transfer, err := s.resolveTransfer(ctx, l, userID, id)
		if err != nil {
			return err
		}
		return s.removeTransfer(ctx, l, userID, transfer)
	})
	if err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{"user_id": userID, "transfer_id": id}).Info("Transfer deleted")
	return nil
}

// GetTransfer returns both legs of a transfer
func (s *Service) GetTransfer(ctx context.Context, userID, id string) (*TransferResult, error) {
	var result *TransferResult
	err := s.view(ctx, func(l repository.Ledger) error {
		transfer, err := s.resolveTransfer(ctx, l, userID, id)
		if err != nil {
			return err
		}
		result, err = loadResult(ctx, l, userID, transfer)
		return err
	})
	return result, err
}

func (s *Service) resolveTransfer(ctx context.Context, l repository.Ledger, userID, id string) (*models.Transfer, error) {
	transfer, err := l.GetTransferByOperation(ctx, userID, id)
	if errors.Is(err, repository.ErrNotFound) {
		transfer, err = l.GetTransfer(ctx, userID, id)
	}
	if err != nil {
		return nil, notFound(err, "id", "transfer.notFound")
	}
	return transfer, nil
}

// removeTransfer deletes both legs and the transfer, then repairs both accounts
func (s *Service) removeTransfer(ctx context.Context, l repository.Ledger, userID string, transfer *models.Transfer) error {
	from, to, err := loadLegs(ctx, l, userID, transfer)
	if err != nil {
		return err
	}
	for _, op := range []*models.Operation{from, to} {
		if err := l.DeleteOperation(ctx, userID, op.ID); err != nil {
			return err
		}
	}
	if err := l.DeleteTransfer(ctx, userID, transfer.ID); err != nil {
		return err
	}
	for _, op := range []*models.Operation{from, to} {
		if _, err := s.engine.Repair(ctx, l, userID, op.AccountID, op.Created, nil); err != nil {
			return err
		}
	}
	return nil
}

func loadLegs(ctx context.Context, l repository.Ledger, userID string, transfer *models.Transfer) (*models.Operation, *models.Operation, error) {
	from, err := l.GetOperation(ctx, userID, transfer.FromOperationID)
	if err != nil {
		return nil, nil, notFound(err, "id", "operation.notFound")
	}
	to, err := l.GetOperation(ctx, userID, transfer.ToOperationID)
	if err != nil {
		return nil, nil, notFound(err, "id", "operation.notFound")
	}
	return from, to, nil
}

func loadResult(ctx context.Context, l repository.Ledger, userID string, transfer *models.Transfer) (*TransferResult, error) {
	from, to, err := loadLegs(ctx, l, userID, transfer)
	if err != nil {
		return nil, err
	}
	return &TransferResult{TransferID: transfer.ID, OperationFrom: from, OperationTo: to}, nil
}

func distinct(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
