package service

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/Dan9191/finance-ledger/internal/apperror"
	"github.com/Dan9191/finance-ledger/internal/category"
	"github.com/Dan9191/finance-ledger/internal/config"
	"github.com/Dan9191/finance-ledger/internal/ledger"
	"github.com/Dan9191/finance-ledger/internal/models"
	"github.com/Dan9191/finance-ledger/internal/rates"
	"github.com/Dan9191/finance-ledger/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func day(n int) string {
	return day0.AddDate(0, 0, n).Format(time.RFC3339)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func strp(s string) *string {
	return &s
}

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:        "test-secret",
		BaseCurrency:     "RUB",
		FeedDefaultLimit: 50,
		FeedMaxLimit:     200,
	}
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newService(t *testing.T, store repository.Store) *Service {
	t.Helper()
	log := quietLogger()
	converter := rates.NewConverter(rates.Fixed{
		"RUB": decimal.NewFromInt(1),
		"USD": decimal.NewFromInt(90),
	}, log)
	return NewService(store, ledger.NewEngine(log), converter, log, testConfig())
}

func newStore(t *testing.T) *repository.BoltStore {
	t.Helper()
	store, err := repository.NewBoltStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// env is a registered user with the seeded accounts and categories
type env struct {
	t      *testing.T
	ctx    context.Context
	svc    *Service
	userID string
	cash   string
	card   string
	tree   *category.Tree
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return newEnvWith(t, newStore(t))
}

func newEnvWith(t *testing.T, store repository.Store) *env {
	t.Helper()
	ctx := context.Background()
	svc := newService(t, store)

	user, err := svc.Register(ctx, "alice", "alice@example.com", "pa55word")
	require.NoError(t, err)

	accounts, err := svc.ListAccounts(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	tree, err := svc.GetCategoryTree(ctx, user.ID)
	require.NoError(t, err)

	return &env{t: t, ctx: ctx, svc: svc, userID: user.ID, cash: accounts[0].ID, card: accounts[1].ID, tree: tree}
}

// cat returns the id of the seeded category with the given name
func (e *env) cat(name string) string {
	e.t.Helper()
	n, ok := e.tree.First(func(n category.Node) bool { return n.Name == name })
	require.True(e.t, ok, name)
	return n.ID
}

func (e *env) add(account, category, amount string, created string) *models.Operation {
	e.t.Helper()
	op, err := e.svc.AddOperation(e.ctx, e.userID, OperationInput{
		Created: created, Account: account, Category: category, Amount: amount,
	})
	require.NoError(e.t, err)
	return op
}

func (e *env) op(id string) *models.Operation {
	e.t.Helper()
	op, err := e.svc.GetOperation(e.ctx, e.userID, id)
	require.NoError(e.t, err)
	return op
}

func (e *env) balance(accountID string) decimal.Decimal {
	e.t.Helper()
	a, err := e.svc.GetAccount(e.ctx, e.userID, accountID)
	require.NoError(e.t, err)
	return a.CurrentBalance
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]interface{}{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func assertCode(t *testing.T, err error, kind apperror.Kind, code string) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, apperror.KindOf(err), err.Error())
	assert.Equal(t, code, apperror.CodeOf(err))
}

func TestAddOperation_Validation(t *testing.T) {
	e := newEnv(t)
	groceries, salary := e.cat("Groceries"), e.cat("Salary")

	tests := []struct {
		name string
		in   OperationInput
		kind apperror.Kind
		code string
	}{
		{"missing created", OperationInput{Account: e.cash, Category: groceries, Amount: "-1"}, apperror.KindValidationRequired, "created.required"},
		{"bad created", OperationInput{Created: "yesterday", Account: e.cash, Category: groceries, Amount: "-1"}, apperror.KindValidationInvalid, "created.invalid"},
		{"missing account", OperationInput{Created: day(1), Category: groceries, Amount: "-1"}, apperror.KindValidationRequired, "account.required"},
		{"missing amount", OperationInput{Created: day(1), Account: e.cash, Category: groceries}, apperror.KindValidationRequired, "amount.required"},
		{"bad amount", OperationInput{Created: day(1), Account: e.cash, Category: groceries, Amount: "1,5"}, apperror.KindValidationInvalid, "amount.invalid"},
		{"huge exponent", OperationInput{Created: day(1), Account: e.cash, Category: groceries, Amount: "-1e100000000"}, apperror.KindValidationInvalid, "amount.invalid"},
		{"zero amount", OperationInput{Created: day(1), Account: e.cash, Category: groceries, Amount: "0"}, apperror.KindValidationInvalid, "amount.zero"},
		{"rounds to zero", OperationInput{Created: day(1), Account: e.cash, Category: groceries, Amount: "-0.001"}, apperror.KindValidationInvalid, "amount.zero"},
		{"unknown account", OperationInput{Created: day(1), Account: "nope", Category: groceries, Amount: "-1"}, apperror.KindNotFound, "account.notFound"},
		{"missing category", OperationInput{Created: day(1), Account: e.cash, Amount: "-1"}, apperror.KindValidationRequired, "category.required"},
		{"unknown category", OperationInput{Created: day(1), Account: e.cash, Category: "nope", Amount: "-1"}, apperror.KindNotFound, "category.notFound"},
		{"transfer category", OperationInput{Created: day(1), Account: e.cash, Category: e.tree.Transfer().ID, Amount: "-1"}, apperror.KindBusinessRule, "category.transfer"},
		{"income into expense category", OperationInput{Created: day(1), Account: e.cash, Category: groceries, Amount: "5"}, apperror.KindBusinessRule, "category.invalidType"},
		{"expense into income category", OperationInput{Created: day(1), Account: e.cash, Category: salary, Amount: "-5"}, apperror.KindBusinessRule, "category.invalidType"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.AddOperation(e.ctx, e.userID, tt.in)
			assertCode(t, err, tt.kind, tt.code)
		})
	}

	page, err := e.svc.ListOperations(e.ctx, e.userID, feedAll(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total, "rejected commands must not persist anything")
	assertDec(t, "0", e.balance(e.cash))
}

func TestAddOperation_DerivesSignAndRounds(t *testing.T) {
	e := newEnv(t)

	op := e.add(e.cash, e.cat("Salary"), "10.005", "2024-06-02")
	assert.Equal(t, models.Income, op.Type)
	assertDec(t, "10.01", op.Amount)
	assertDec(t, "10.01", op.Balance)
	assert.True(t, time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC).Equal(op.Created))

	op = e.add(e.cash, e.cat("Groceries"), "-3", day(3))
	assert.Equal(t, models.Expense, op.Type)
	assertDec(t, "7.01", e.balance(e.cash))
}

func TestOperations_BackdatedInsertAndDelete(t *testing.T) {
	e := newEnv(t)
	salary := e.cat("Salary")

	late := e.add(e.cash, salary, "100", day(10))
	assertDec(t, "100", late.Balance)
	assertDec(t, "100", e.balance(e.cash))

	early := e.add(e.cash, salary, "500", day(9))
	assertDec(t, "500", early.Balance)
	assertDec(t, "600", e.op(late.ID).Balance)
	assertDec(t, "600", e.balance(e.cash))

	require.NoError(t, e.svc.DeleteOperation(e.ctx, e.userID, early.ID))
	assertDec(t, "100", e.op(late.ID).Balance)
	assertDec(t, "100", e.balance(e.cash))

	_, err := e.svc.GetOperation(e.ctx, e.userID, early.ID)
	assertCode(t, err, apperror.KindNotFound, "operation.notFound")

	err = e.svc.DeleteOperation(e.ctx, e.userID, early.ID)
	assertCode(t, err, apperror.KindNotFound, "operation.notFound")
}

func TestUpdateOperation_SignFlipNeedsCompatibleCategory(t *testing.T) {
	e := newEnv(t)

	groceries := e.add(e.cash, e.cat("Groceries"), "-50", day(1))
	_, err := e.svc.UpdateOperation(e.ctx, e.userID, OperationUpdate{ID: groceries.ID, Amount: strp("50")})
	assertCode(t, err, apperror.KindBusinessRule, "category.invalidType")
	assertDec(t, "-50", e.op(groceries.ID).Amount, "rejected update must leave the operation unchanged")

	// the same flip with a new compatible category is accepted
	updated, err := e.svc.UpdateOperation(e.ctx, e.userID, OperationUpdate{
		ID: groceries.ID, Amount: strp("50"), Category: strp(e.cat("Salary")),
	})
	require.NoError(t, err)
	assert.Equal(t, models.Income, updated.Type)

	other := e.add(e.cash, e.cat("Other"), "-30", day(2))
	updated, err = e.svc.UpdateOperation(e.ctx, e.userID, OperationUpdate{ID: other.ID, Amount: strp("30")})
	require.NoError(t, err)
	assert.Equal(t, models.Income, updated.Type)
	assertDec(t, "80", updated.Balance)
	assertDec(t, "80", e.balance(e.cash))
}

func TestUpdateOperation_MoveAccountAndDate(t *testing.T) {
	e := newEnv(t)
	salary, other := e.cat("Salary"), e.cat("Other")

	first := e.add(e.cash, salary, "100", day(1))
	second := e.add(e.cash, other, "-10", day(2))

	// moving the later operation before the first reorders the chain
	moved, err := e.svc.UpdateOperation(e.ctx, e.userID, OperationUpdate{ID: second.ID, Created: strp(day(0))})
	require.NoError(t, err)
	assertDec(t, "-10", moved.Balance)
	assertDec(t, "90", e.op(first.ID).Balance)
	assertDec(t, "90", e.balance(e.cash))

	// moving it to another account repairs both
	moved, err = e.svc.UpdateOperation(e.ctx, e.userID, OperationUpdate{ID: second.ID, Account: strp(e.card)})
	require.NoError(t, err)
	assert.Equal(t, e.card, moved.AccountID)
	assertDec(t, "-10", moved.Balance)
	assertDec(t, "100", e.op(first.ID).Balance)
	assertDec(t, "100", e.balance(e.cash))
	assertDec(t, "-10", e.balance(e.card))

	_, err = e.svc.UpdateOperation(e.ctx, e.userID, OperationUpdate{ID: second.ID, Account: strp("nope")})
	assertCode(t, err, apperror.KindNotFound, "account.notFound")

	_, err = e.svc.UpdateOperation(e.ctx, e.userID, OperationUpdate{ID: "nope", Amount: strp("1")})
	assertCode(t, err, apperror.KindNotFound, "operation.notFound")
}

func TestAddTransfer(t *testing.T) {
	e := newEnv(t)
	e.add(e.cash, e.cat("Salary"), "100", day(1))

	res, err := e.svc.AddTransfer(e.ctx, e.userID, TransferInput{
		Created: day(2), AccountFrom: e.cash, AccountTo: e.card, AmountFrom: "10", AmountTo: "10",
	})
	require.NoError(t, err)

	from, to := res.OperationFrom, res.OperationTo
	transferID := e.tree.Transfer().ID
	assertDec(t, "-10", from.Amount)
	assertDec(t, "10", to.Amount)
	assert.Equal(t, models.Expense, from.Type)
	assert.Equal(t, models.Income, to.Type)
	assert.Equal(t, transferID, from.CategoryID)
	assert.Equal(t, transferID, to.CategoryID)

	assertDec(t, "90", from.Balance)
	assertDec(t, "10", to.Balance)
	require.NotNil(t, from.Transfer)
	require.NotNil(t, to.Transfer)
	assert.Equal(t, to.ID, from.Transfer.OperationID)
	assert.Equal(t, e.card, from.Transfer.AccountID)
	assertDec(t, "10", from.Transfer.Balance)
	assertDec(t, "90", to.Transfer.Balance)

	assertDec(t, "90", e.balance(e.cash))
	assertDec(t, "10", e.balance(e.card))
}

func TestAddTransfer_Validation(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name string
		in   TransferInput
		kind apperror.Kind
		code string
	}{
		{"missing created", TransferInput{AccountFrom: e.cash, AccountTo: e.card, AmountFrom: "1", AmountTo: "1"}, apperror.KindValidationRequired, "created.required"},
		{"missing target", TransferInput{Created: day(1), AccountFrom: e.cash, AmountFrom: "1", AmountTo: "1"}, apperror.KindValidationRequired, "accountTo.required"},
		{"same account", TransferInput{Created: day(1), AccountFrom: e.cash, AccountTo: e.cash, AmountFrom: "1", AmountTo: "1"}, apperror.KindBusinessRule, "transfer.sameAccount"},
		{"zero source", TransferInput{Created: day(1), AccountFrom: e.cash, AccountTo: e.card, AmountFrom: "0", AmountTo: "1"}, apperror.KindBusinessRule, "amountFrom.notPositive"},
		{"negative target", TransferInput{Created: day(1), AccountFrom: e.cash, AccountTo: e.card, AmountFrom: "1", AmountTo: "-1"}, apperror.KindBusinessRule, "amountTo.notPositive"},
		{"rounds to zero", TransferInput{Created: day(1), AccountFrom: e.cash, AccountTo: e.card, AmountFrom: "0.001", AmountTo: "1"}, apperror.KindBusinessRule, "amountFrom.notPositive"},
		{"bad amount", TransferInput{Created: day(1), AccountFrom: e.cash, AccountTo: e.card, AmountFrom: "ten", AmountTo: "1"}, apperror.KindValidationInvalid, "amountFrom.invalid"},
		{"unknown source", TransferInput{Created: day(1), AccountFrom: "nope", AccountTo: e.card, AmountFrom: "1", AmountTo: "1"}, apperror.KindNotFound, "account.notFound"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.AddTransfer(e.ctx, e.userID, tt.in)
			assertCode(t, err, tt.kind, tt.code)
		})
	}
}

func TestUpdateTransfer(t *testing.T) {
	e := newEnv(t)
	savings, err := e.svc.CreateAccount(e.ctx, e.userID, AccountInput{Name: "Savings", Currency: "RUB"})
	require.NoError(t, err)

	res, err := e.svc.AddTransfer(e.ctx, e.userID, TransferInput{
		Created: day(1), AccountFrom: e.cash, AccountTo: e.card, AmountFrom: "10", AmountTo: "10",
	})
	require.NoError(t, err)

	_, err = e.svc.UpdateOperation(e.ctx, e.userID, OperationUpdate{ID: res.OperationFrom.ID, Amount: strp("-1")})
	assertCode(t, err, apperror.KindBusinessRule, "operation.isTransfer")

	// fields apply to their own leg whichever leg id is passed
	updated, err := e.svc.UpdateTransfer(e.ctx, e.userID, TransferUpdate{
		ID: res.OperationTo.ID, AmountFrom: strp("15"), AccountTo: strp(savings.ID),
	})
	require.NoError(t, err)
	assert.Equal(t, res.TransferID, updated.TransferID)
	assertDec(t, "-15", updated.OperationFrom.Amount)
	assertDec(t, "10", updated.OperationTo.Amount)
	assert.Equal(t, savings.ID, updated.OperationTo.AccountID)
	assert.Equal(t, savings.ID, updated.OperationFrom.Transfer.AccountID)
	assertDec(t, "-15", updated.OperationTo.Transfer.Amount)
	assertDec(t, "-15", updated.OperationTo.Transfer.Balance)

	assertDec(t, "-15", e.balance(e.cash))
	assertDec(t, "0", e.balance(e.card))
	assertDec(t, "10", e.balance(savings.ID))

	moved, err := e.svc.UpdateTransfer(e.ctx, e.userID, TransferUpdate{ID: res.TransferID, Created: strp(day(5))})
	require.NoError(t, err)
	assert.True(t, moved.OperationFrom.Created.Equal(moved.OperationTo.Created))

	_, err = e.svc.UpdateTransfer(e.ctx, e.userID, TransferUpdate{ID: res.OperationFrom.ID, AccountFrom: strp(savings.ID)})
	assertCode(t, err, apperror.KindBusinessRule, "transfer.sameAccount")

	_, err = e.svc.UpdateTransfer(e.ctx, e.userID, TransferUpdate{ID: "nope", AmountTo: strp("1")})
	assertCode(t, err, apperror.KindNotFound, "transfer.notFound")
}

func TestDeleteTransfer(t *testing.T) {
	e := newEnv(t)

	first, err := e.svc.AddTransfer(e.ctx, e.userID, TransferInput{
		Created: day(1), AccountFrom: e.cash, AccountTo: e.card, AmountFrom: "10", AmountTo: "10",
	})
	require.NoError(t, err)
	second, err := e.svc.AddTransfer(e.ctx, e.userID, TransferInput{
		Created: day(2), AccountFrom: e.card, AccountTo: e.cash, AmountFrom: "4", AmountTo: "4",
	})
	require.NoError(t, err)

	// deleting one leg removes the whole transfer
	require.NoError(t, e.svc.DeleteOperation(e.ctx, e.userID, first.OperationTo.ID))
	_, err = e.svc.GetOperation(e.ctx, e.userID, first.OperationFrom.ID)
	assertCode(t, err, apperror.KindNotFound, "operation.notFound")
	assertDec(t, "4", e.balance(e.cash))
	assertDec(t, "-4", e.balance(e.card))

	require.NoError(t, e.svc.DeleteTransfer(e.ctx, e.userID, second.TransferID))
	assertDec(t, "0", e.balance(e.cash))
	assertDec(t, "0", e.balance(e.card))

	err = e.svc.DeleteTransfer(e.ctx, e.userID, second.TransferID)
	assertCode(t, err, apperror.KindNotFound, "transfer.notFound")
}

func TestListOperations_PairsTransfers(t *testing.T) {
	e := newEnv(t)
	e.add(e.cash, e.cat("Salary"), "100", day(1))
	_, err := e.svc.AddTransfer(e.ctx, e.userID, TransferInput{
		Created: day(2), AccountFrom: e.cash, AccountTo: e.card, AmountFrom: "10", AmountTo: "10",
	})
	require.NoError(t, err)

	page, err := e.svc.ListOperations(e.ctx, e.userID, feedAll(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Operations, 2)
	require.NotNil(t, page.Operations[0].Pair)
	assertDec(t, "-10", page.Operations[0].Pair.From.Amount)
	assert.NotNil(t, page.Operations[1].Operation)
}
