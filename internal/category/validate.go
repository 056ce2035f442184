package category

import (
	"github.com/Dan9191/finance-ledger/internal/apperror"
	"github.com/Dan9191/finance-ledger/internal/models"
)

// CheckAssignable validates that a single (non-transfer) operation of the given
// sign may reference the category id.
func (t *Tree) CheckAssignable(id string, sign models.SignType) error {
	if id == "" {
		return apperror.Required("category")
	}
	n, ok := t.FindByID(id)
	if !ok {
		return apperror.NotFound("category", "category.notFound")
	}
	if n.Role == RoleTransfer {
		return apperror.Rule("category", "category.transfer")
	}
	if !n.Accepts(sign) {
		return apperror.Rule("category", "category.invalidType")
	}
	return nil
}

// ValidateChange checks a user edit turning old into updated.
// System nodes cannot be deleted, retyped or stripped of their flags, users
// cannot create new system nodes, and a moved node must stay type-compatible
// with its new parent unless the node itself is typed any.
func ValidateChange(old, updated *Tree) error {
	err := old.Walk(func(n Node) error {
		if !n.System {
			return nil
		}
		next, ok := updated.FindByID(n.ID)
		if !ok {
			return apperror.Rule("category", "category.systemNodeRemoved")
		}
		if next.Kind != n.Kind || !next.System || next.Role != n.Role {
			return apperror.Rule("category", "category.systemNodeChanged")
		}
		return nil
	})
	if err != nil {
		return err
	}

	err = updated.Walk(func(n Node) error {
		if !n.System {
			return nil
		}
		if prev, existed := old.FindByID(n.ID); !existed || !prev.System {
			return apperror.Rule("category", "category.systemFlag")
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, id := range Moved(old, updated) {
		n, _ := updated.FindByID(id)
		parent, ok := updated.Parent(id)
		if !ok || n.Kind == Any || parent.Kind == Any {
			continue
		}
		if parent.Kind != n.Kind {
			return apperror.Rule("category", "category.incompatibleParent")
		}
	}
	return nil
}
