// Package feed builds the paginated operation list. Both legs of a transfer
// are rendered once, as a pair, and the reported total counts each transfer
// once.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Dan9191/finance-ledger/internal/apperror"
	"github.com/Dan9191/finance-ledger/internal/category"
	"github.com/Dan9191/finance-ledger/internal/models"
	"github.com/Dan9191/finance-ledger/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Filters narrows the feed. Empty fields are ignored; range bounds are inclusive.
type Filters struct {
	AccountIDs  []string
	Type        models.SignType
	CategoryIDs []string
	AmountFrom  *decimal.Decimal
	AmountTo    *decimal.Decimal
	DateFrom    *time.Time
	DateTo      *time.Time
}

// Pair is both legs of one transfer, expense leg first
type Pair struct {
	From *models.Operation
	To   *models.Operation
}

// Item is one feed row: a single operation or a transfer pair
type Item struct {
	Operation *models.Operation
	Pair      *Pair
}

// MarshalJSON renders a single operation as an object and a pair as a two element array
func (i Item) MarshalJSON() ([]byte, error) {
	if i.Pair != nil {
		return json.Marshal([]*models.Operation{i.Pair.From, i.Pair.To})
	}
	return json.Marshal(i.Operation)
}

func (i Item) lead() *models.Operation {
	if i.Pair != nil {
		return i.Pair.From
	}
	return i.Operation
}

// Page is one page of the feed
type Page struct {
	Operations []Item `json:"operations"`
	Total      int    `json:"total"`
}

// Querier reads the feed
type Querier struct {
	store        repository.Store
	log          *logrus.Logger
	defaultLimit int
	maxLimit     int
}

// NewQuerier creates a new Querier
func NewQuerier(store repository.Store, log *logrus.Logger, defaultLimit, maxLimit int) *Querier {
	return &Querier{store: store, log: log, defaultLimit: defaultLimit, maxLimit: maxLimit}
}

// List returns up to limit rows starting at skip, newest first.
// A zero limit selects the default.
func (q *Querier) List(ctx context.Context, userID string, f Filters, skip, limit int) (*Page, error) {
	if skip < 0 {
		return nil, apperror.Invalid("skip", "skip.invalid", nil)
	}
	if limit == 0 {
		limit = q.defaultLimit
	}
	if limit < 1 || limit > q.maxLimit {
		return nil, apperror.Invalid("limit", "limit.invalid", nil)
	}

	var page *Page
	err := q.store.View(ctx, func(l repository.Ledger) error {
		var err error
		page, err = q.list(ctx, l, userID, f, skip, limit)
		return err
	})
	if err != nil {
		if _, ok := apperror.As(err); ok {
			return nil, err
		}
		return nil, apperror.Storage(err)
	}
	return page, nil
}

func (q *Querier) list(ctx context.Context, l repository.Ledger, userID string, f Filters, skip, limit int) (*Page, error) {
	transferID, err := transferCategory(ctx, l, userID)
	if err != nil {
		return nil, err
	}
	isTransferFilter := transferID != "" && contains(f.CategoryIDs, transferID)

	query := repository.OperationQuery{
		UserID:      userID,
		AccountIDs:  f.AccountIDs,
		Type:        f.Type,
		CategoryIDs: f.CategoryIDs,
		AmountFrom:  f.AmountFrom,
		AmountTo:    f.AmountTo,
		DateFrom:    f.DateFrom,
		DateTo:      f.DateTo,
	}

	total, err := l.CountOperations(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count operations: %w", err)
	}
	if total == 0 {
		return &Page{Operations: []Item{}}, nil
	}

	// twice the page so that pairing legs down to one row still fills it
	window, err := l.FindOperations(ctx, query, skip, limit*2)
	if err != nil {
		return nil, fmt.Errorf("failed to find operations: %w", err)
	}

	transferQuery := query
	transferQuery.TransferOnly = true
	legCount, err := l.CountOperations(ctx, transferQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to count transfer legs: %w", err)
	}

	pairs, err := loadPairs(ctx, l, userID, window)
	if err != nil {
		return nil, err
	}

	flat := withoutPairedLegs(window, pairs)
	if isTransferFilter {
		flat = nil
	}
	if !isTransferFilter && (f.Type != "" || len(f.CategoryIDs) > 0) {
		pairs = nil
	}

	if legCount%2 != 0 {
		q.log.WithFields(logrus.Fields{
			"user_id":   userID,
			"legs":      legCount,
			"operation": "feed",
		}).Warn("Odd transfer leg count, a transfer is missing a leg")
	}

	return &Page{
		Operations: Merge(flat, pairs, limit),
		Total:      total - legCount/2,
	}, nil
}

// transferCategory returns the id of the user's transfer node, or "" without a tree
func transferCategory(ctx context.Context, l repository.Ledger, userID string) (string, error) {
	blob, err := l.GetCategoryTree(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load category tree: %w", err)
	}
	tree, err := category.Parse(blob)
	if err != nil {
		return "", apperror.Internal(err)
	}
	return tree.Transfer().ID, nil
}

// loadPairs loads every transfer with a leg in the window, together with both legs
func loadPairs(ctx context.Context, l repository.Ledger, userID string, window []*models.Operation) ([]Pair, error) {
	if len(window) == 0 {
		return nil, nil
	}
	byID := make(map[string]*models.Operation, len(window))
	ids := make([]string, 0, len(window))
	for _, op := range window {
		byID[op.ID] = op
		ids = append(ids, op.ID)
	}

	transfers, err := l.TransfersByOperations(ctx, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load transfers: %w", err)
	}

	leg := func(id string) (*models.Operation, error) {
		if op, ok := byID[id]; ok {
			return op, nil
		}
		op, err := l.GetOperation(ctx, userID, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load transfer leg %s: %w", id, err)
		}
		return op, nil
	}

	pairs := make([]Pair, 0, len(transfers))
	for _, t := range transfers {
		from, err := leg(t.FromOperationID)
		if err != nil {
			return nil, err
		}
		to, err := leg(t.ToOperationID)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, Pair{From: from, To: to})
	}
	return pairs, nil
}

func withoutPairedLegs(window []*models.Operation, pairs []Pair) []*models.Operation {
	paired := make(map[string]bool, len(pairs)*2)
	for _, p := range pairs {
		paired[p.From.ID] = true
		paired[p.To.ID] = true
	}
	flat := make([]*models.Operation, 0, len(window))
	for _, op := range window {
		if !paired[op.ID] {
			flat = append(flat, op)
		}
	}
	return flat
}

// Merge combines single operations and pairs, newest first by (created, seq),
// and truncates the result to limit rows.
func Merge(flat []*models.Operation, pairs []Pair, limit int) []Item {
	items := make([]Item, 0, len(flat)+len(pairs))
	for _, op := range flat {
		items = append(items, Item{Operation: op})
	}
	for i := range pairs {
		items = append(items, Item{Pair: &pairs[i]})
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[j].lead().Before(items[i].lead())
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
