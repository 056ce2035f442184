package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Dan9191/finance-ledger/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationFilter(t *testing.T) {
	from := decimal.NewFromInt(5)
	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	where, args := operationFilter(OperationQuery{
		UserID:       "u1",
		AccountIDs:   []string{"a1", "a2"},
		Type:         models.Income,
		AmountFrom:   &from,
		DateTo:       &date,
		TransferOnly: true,
	})

	assert.Equal(t,
		"user_id = $1 AND account_id = ANY($2) AND type = $3 AND ABS(amount) >= $4 AND created <= $5 AND transfer_operation_id IS NOT NULL",
		where)
	assert.Len(t, args, 5)
	assert.Equal(t, "income", args[2])
}

// newTestPostgresStore connects to TEST_DB_CONN; the test is skipped without it
func newTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("TEST_DB_CONN")
	if dsn == "" {
		t.Skip("TEST_DB_CONN is not set")
	}
	store, err := NewPostgresStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPostgresStore_AccountAndOperations(t *testing.T) {
	ctx := context.Background()
	store := newTestPostgresStore(t)

	userID := uuid.NewString()
	account := &models.Account{
		ID: uuid.NewString(), UserID: userID, Name: "Cash", Currency: "RUB",
		Status: models.AccountActive, Kind: models.AccountStandard,
		CreatedAt: day0, UpdatedAt: day0,
	}

	err := store.Update(ctx, func(l Ledger) error {
		if err := l.InsertUser(ctx, &models.User{ID: userID, Email: userID + "@example.com", Username: "u", PasswordHash: "x", CreatedAt: day0}); err != nil {
			return err
		}
		if err := l.InsertAccount(ctx, account); err != nil {
			return err
		}
		first := testOperation(uuid.NewString(), account.ID, "10", day(1))
		first.UserID = userID
		second := testOperation(uuid.NewString(), account.ID, "-3", day(1))
		second.UserID = userID
		if err := l.InsertOperation(ctx, first); err != nil {
			return err
		}
		if err := l.InsertOperation(ctx, second); err != nil {
			return err
		}
		assert.Greater(t, second.Seq, first.Seq)
		return nil
	})
	require.NoError(t, err)

	stale := *account
	account.CurrentBalance = decimal.NewFromInt(7)
	require.NoError(t, store.Update(ctx, func(l Ledger) error { return l.SaveAccount(ctx, account) }))
	err = store.Update(ctx, func(l Ledger) error { return l.SaveAccount(ctx, &stale) })
	assert.ErrorIs(t, err, ErrVersionConflict)

	err = store.View(ctx, func(l Ledger) error {
		ops, err := l.OwnedFrom(ctx, userID, account.ID, day(0))
		require.NoError(t, err)
		require.Len(t, ops, 2)
		assert.True(t, ops[0].Amount.Equal(decimal.NewFromInt(10)))

		count, err := l.CountOperations(ctx, OperationQuery{UserID: userID, Type: models.Expense})
		require.NoError(t, err)
		assert.Equal(t, 1, count)
		return nil
	})
	require.NoError(t, err)
}
