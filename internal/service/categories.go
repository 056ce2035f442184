package service

import (
	"context"
	"errors"

	"github.com/Dan9191/finance-ledger/internal/apperror"
	"github.com/Dan9191/finance-ledger/internal/category"
	"github.com/Dan9191/finance-ledger/internal/models"
	"github.com/Dan9191/finance-ledger/internal/repository"
	"github.com/sirupsen/logrus"
)

// GetCategoryTree returns the user's category tree
func (s *Service) GetCategoryTree(ctx context.Context, userID string) (*category.Tree, error) {
	var tree *category.Tree
	err := s.view(ctx, func(l repository.Ledger) error {
		var err error
		tree, err = s.loadTree(ctx, l, userID)
		return err
	})
	return tree, err
}

// SaveCategoryTree replaces the user's category tree. Operations referencing
// a removed node, or a retyped node their sign no longer fits, are moved to
// the blank node in the same transaction as the tree write. Transfer legs are
// never touched.
func (s *Service) SaveCategoryTree(ctx context.Context, userID string, blob []byte) (*category.Tree, error) {
	updated, err := category.Parse(blob)
	if err != nil {
		return nil, apperror.Invalid("tree", "category.malformed", err)
	}

	retagged := 0
	err = s.update(ctx, func(l repository.Ledger) error {
		retagged = 0
		old, err := s.loadTree(ctx, l, userID)
		if err != nil {
			return err
		}
		if err := category.ValidateChange(old, updated); err != nil {
			return err
		}
		blankID := updated.Blank().ID

		n, err := l.RetagOperations(ctx, userID, category.DiffIDs(old, updated), "", blankID)
		if err != nil {
			return err
		}
		retagged += n

		for _, node := range category.Retyped(old, updated) {
			var misfit models.SignType
			switch node.Kind {
			case category.Expense:
				misfit = models.Income
			case category.Income:
				misfit = models.Expense
			case category.Any:
				continue
			}
			n, err := l.RetagOperations(ctx, userID, []string{node.ID}, misfit, blankID)
			if err != nil {
				return err
			}
			retagged += n
		}

		data, err := updated.MarshalJSON()
		if err != nil {
			return apperror.Internal(err)
		}
		return l.SaveCategoryTree(ctx, userID, data)
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"user_id": userID, "retagged": retagged}).Info("Category tree saved")
	return updated, nil
}

// initCategoryTree stores the first tree of a user
func initCategoryTree(ctx context.Context, l repository.Ledger, userID string, tree *category.Tree) error {
	if _, err := l.GetCategoryTree(ctx, userID); !errors.Is(err, repository.ErrNotFound) {
		if err == nil {
			return apperror.Conflict("category.treeExists", nil)
		}
		return err
	}
	data, err := tree.MarshalJSON()
	if err != nil {
		return apperror.Internal(err)
	}
	return l.SaveCategoryTree(ctx, userID, data)
}
