package feed

import (
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/Dan9191/finance-ledger/internal/apperror"
	"github.com/Dan9191/finance-ledger/internal/models"
	"github.com/Dan9191/finance-ledger/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTree = `{
	"id": "root", "name": "All", "type": "any", "system": true,
	"children": [
		{"id": "blank", "name": "Uncategorized", "type": "any", "system": true, "blank": true},
		{"id": "transfer", "name": "Transfer", "type": "any", "system": true, "transfer": true},
		{"id": "food", "name": "Food", "type": "expense"},
		{"id": "salary", "name": "Salary", "type": "income"}
	]
}`

var day0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func op(id, accountID, category, amount string, n int) *models.Operation {
	d := decimal.RequireFromString(amount)
	return &models.Operation{
		ID: id, UserID: "u1", AccountID: accountID, CategoryID: category,
		Type: models.SignOf(d), Amount: d, Created: day0.AddDate(0, 0, n),
	}
}

func newTestQuerier(t *testing.T) *Querier {
	t.Helper()
	ctx := context.Background()
	store, err := repository.NewBoltStore(filepath.Join(t.TempDir(), "feed.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	out := op("t1", "a1", "transfer", "-50", 3)
	in := op("t2", "a2", "transfer", "50", 3)
	out.Transfer = &models.TransferLeg{OperationID: "t2", AccountID: "a2", Amount: in.Amount}
	in.Transfer = &models.TransferLeg{OperationID: "t1", AccountID: "a1", Amount: out.Amount}

	err = store.Update(ctx, func(l repository.Ledger) error {
		if err := l.SaveCategoryTree(ctx, "u1", []byte(testTree)); err != nil {
			return err
		}
		for _, o := range []*models.Operation{
			op("o1", "a1", "salary", "100", 1),
			op("o2", "a1", "food", "-20", 2),
			out, in,
			op("o3", "a2", "food", "-5", 4),
		} {
			if err := l.InsertOperation(ctx, o); err != nil {
				return err
			}
		}
		return l.InsertTransfer(ctx, &models.Transfer{ID: "tr", UserID: "u1", FromOperationID: "t1", ToOperationID: "t2"})
	})
	require.NoError(t, err)

	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewQuerier(store, log, 50, 200)
}

// rows flattens a page into ids, a pair rendered as "from+to"
func rows(page *Page) []string {
	out := make([]string, 0, len(page.Operations))
	for _, item := range page.Operations {
		if item.Pair != nil {
			out = append(out, item.Pair.From.ID+"+"+item.Pair.To.ID)
			continue
		}
		out = append(out, item.Operation.ID)
	}
	return out
}

func TestQuerier_List(t *testing.T) {
	q := newTestQuerier(t)

	tests := []struct {
		name      string
		filters   Filters
		limit     int
		wantRows  []string
		wantTotal int
	}{
		{
			name:      "no filters pairs transfer once",
			wantRows:  []string{"o3", "t1+t2", "o2", "o1"},
			wantTotal: 4,
		},
		{
			name:      "small page truncates after pairing",
			limit:     1,
			wantRows:  []string{"o3"},
			wantTotal: 4,
		},
		{
			name:      "transfer category keeps only pairs",
			filters:   Filters{CategoryIDs: []string{"transfer"}},
			wantRows:  []string{"t1+t2"},
			wantTotal: 1,
		},
		{
			name:      "other category drops pairs",
			filters:   Filters{CategoryIDs: []string{"food"}},
			wantRows:  []string{"o3", "o2"},
			wantTotal: 2,
		},
		{
			name:      "type filter drops pairs",
			filters:   Filters{Type: models.Expense},
			wantRows:  []string{"o3", "o2"},
			wantTotal: 3,
		},
		{
			name:      "account filter",
			filters:   Filters{AccountIDs: []string{"a2"}},
			wantRows:  []string{"o3", "t1+t2"},
			wantTotal: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := q.List(context.Background(), "u1", tt.filters, 0, tt.limit)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRows, rows(page))
			assert.Equal(t, tt.wantTotal, page.Total)
		})
	}
}

func TestQuerier_SkipCountsFromNewest(t *testing.T) {
	q := newTestQuerier(t)

	tests := []struct {
		name     string
		skip     int
		limit    int
		wantRows []string
	}{
		{"first page", 0, 2, []string{"o3", "t1+t2"}},
		{"second row onwards", 1, 2, []string{"t1+t2", "o2"}},
		{"past the transfer", 3, 2, []string{"o2", "o1"}},
		{"oldest last", 4, 1, []string{"o1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := q.List(context.Background(), "u1", Filters{}, tt.skip, tt.limit)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRows, rows(page))
			assert.Equal(t, 4, page.Total)
		})
	}
}

func TestQuerier_EmptyResult(t *testing.T) {
	q := newTestQuerier(t)

	page, err := q.List(context.Background(), "nobody", Filters{}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)
	assert.NotNil(t, page.Operations)
	assert.Empty(t, page.Operations)
}

func TestQuerier_InvalidPaging(t *testing.T) {
	q := newTestQuerier(t)
	ctx := context.Background()

	_, err := q.List(ctx, "u1", Filters{}, -1, 10)
	assert.Equal(t, "skip.invalid", apperror.CodeOf(err))

	_, err = q.List(ctx, "u1", Filters{}, 0, 201)
	assert.Equal(t, "limit.invalid", apperror.CodeOf(err))
	assert.Equal(t, apperror.KindValidationInvalid, apperror.KindOf(err))
}

func TestMerge_OrdersNewestFirst(t *testing.T) {
	a := op("a", "a1", "food", "-1", 1)
	b := op("b", "a1", "food", "-1", 3)
	c := op("c", "a1", "food", "-1", 3)
	c.Seq = 2
	b.Seq = 1
	from, to := op("p1", "a1", "transfer", "-1", 2), op("p2", "a2", "transfer", "1", 2)

	items := Merge([]*models.Operation{a, b, c}, []Pair{{From: from, To: to}}, 3)
	require.Len(t, items, 3)
	assert.Equal(t, "c", items[0].Operation.ID)
	assert.Equal(t, "b", items[1].Operation.ID)
	assert.Equal(t, "p1", items[2].Pair.From.ID)
}

func TestItem_MarshalJSON(t *testing.T) {
	from, to := op("p1", "a1", "transfer", "-1", 2), op("p2", "a2", "transfer", "1", 2)
	page := Page{
		Operations: []Item{{Operation: op("a", "a1", "food", "-1", 1)}, {Pair: &Pair{From: from, To: to}}},
		Total:      2,
	}

	data, err := json.Marshal(page)
	require.NoError(t, err)

	var decoded struct {
		Operations []json.RawMessage `json:"operations"`
		Total      int               `json:"total"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded.Operations, 2)
	assert.Equal(t, byte('{'), decoded.Operations[0][0])

	var pair []models.Operation
	require.NoError(t, json.Unmarshal(decoded.Operations[1], &pair))
	require.Len(t, pair, 2)
	assert.Equal(t, "p1", pair[0].ID)
	assert.Equal(t, "p2", pair[1].ID)
}
