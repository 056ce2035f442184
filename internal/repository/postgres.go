package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Dan9191/finance-ledger/internal/models"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// PostgresStore provides database operations on PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to the database and initializes the schema
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an open connection; the schema must already exist
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// View runs fn in a read-only transaction
func (s *PostgresStore) View(ctx context.Context, fn func(Ledger) error) error {
	return s.transaction(ctx, &sql.TxOptions{ReadOnly: true}, fn)
}

// Update runs fn in a transaction that is committed only if fn succeeds
func (s *PostgresStore) Update(ctx context.Context, fn func(Ledger) error) error {
	return s.transaction(ctx, nil, fn)
}

func (s *PostgresStore) transaction(ctx context.Context, opts *sql.TxOptions, fn func(Ledger) error) error {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&pgLedger{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type pgLedger struct {
	q querier
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (l *pgLedger) InsertUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO ledger.users (id, username, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := l.q.ExecContext(ctx, query, user.ID, user.Username, user.Email, user.PasswordHash, user.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (l *pgLedger) getUser(ctx context.Context, where string, arg string) (*models.User, error) {
	user := &models.User{}
	query := `
		SELECT id, username, email, password_hash, created_at
		FROM ledger.users
		WHERE ` + where
	err := l.q.QueryRowContext(ctx, query, arg).
		Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

func (l *pgLedger) GetUser(ctx context.Context, id string) (*models.User, error) {
	return l.getUser(ctx, "id = $1", id)
}

func (l *pgLedger) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return l.getUser(ctx, "email = $1", email)
}

func (l *pgLedger) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := l.q.QueryContext(ctx, `SELECT id FROM ledger.users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const accountColumns = `id, user_id, name, currency, start_balance, current_balance, status, kind, sort_order, version, created_at, updated_at`

func scanAccount(row rowScanner) (*models.Account, error) {
	a := &models.Account{}
	err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.Currency, &a.StartBalance, &a.CurrentBalance,
		&a.Status, &a.Kind, &a.Order, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (l *pgLedger) InsertAccount(ctx context.Context, a *models.Account) error {
	query := `
		INSERT INTO ledger.accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10, $11)`
	_, err := l.q.ExecContext(ctx, query, a.ID, a.UserID, a.Name, a.Currency, a.StartBalance, a.CurrentBalance,
		a.Status, a.Kind, a.Order, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	a.Version = 1
	return nil
}

func (l *pgLedger) GetAccount(ctx context.Context, userID, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM ledger.accounts WHERE user_id = $1 AND id = $2`
	a, err := scanAccount(l.q.QueryRowContext(ctx, query, userID, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return a, nil
}

func (l *pgLedger) ListAccounts(ctx context.Context, userID string) ([]*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM ledger.accounts WHERE user_id = $1 ORDER BY sort_order, name`
	rows, err := l.q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (l *pgLedger) SaveAccount(ctx context.Context, a *models.Account) error {
	query := `
		UPDATE ledger.accounts
		SET name = $1, start_balance = $2, current_balance = $3, status = $4, kind = $5,
			sort_order = $6, updated_at = $7, version = version + 1
		WHERE user_id = $8 AND id = $9 AND version = $10`
	res, err := l.q.ExecContext(ctx, query, a.Name, a.StartBalance, a.CurrentBalance, a.Status, a.Kind,
		a.Order, a.UpdatedAt, a.UserID, a.ID, a.Version)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		if _, err := l.GetAccount(ctx, a.UserID, a.ID); err != nil {
			return err
		}
		return ErrVersionConflict
	}
	a.Version++
	return nil
}

func (l *pgLedger) DeleteAccount(ctx context.Context, userID, id string) error {
	return l.deleteOne(ctx, `DELETE FROM ledger.accounts WHERE user_id = $1 AND id = $2`, userID, id)
}

func (l *pgLedger) deleteOne(ctx context.Context, query string, args ...interface{}) error {
	res, err := l.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const operationColumns = `id, user_id, account_id, type, category_id, amount, balance,
	transfer_operation_id, transfer_account_id, transfer_amount, transfer_balance,
	created, seq, updated_at, meta`

func scanOperation(row rowScanner) (*models.Operation, error) {
	op := &models.Operation{}
	var (
		transferOp, transferAccount     sql.NullString
		transferAmount, transferBalance decimal.NullDecimal
		meta                            []byte
	)
	err := row.Scan(&op.ID, &op.UserID, &op.AccountID, &op.Type, &op.CategoryID, &op.Amount, &op.Balance,
		&transferOp, &transferAccount, &transferAmount, &transferBalance,
		&op.Created, &op.Seq, &op.UpdatedAt, &meta)
	if err != nil {
		return nil, err
	}
	if transferOp.Valid {
		op.Transfer = &models.TransferLeg{
			OperationID: transferOp.String,
			AccountID:   transferAccount.String,
			Amount:      transferAmount.Decimal,
			Balance:     transferBalance.Decimal,
		}
	}
	if len(meta) > 0 {
		op.Meta = meta
	}
	return op, nil
}

func transferArgs(op *models.Operation) []interface{} {
	if op.Transfer == nil {
		return []interface{}{nil, nil, nil, nil}
	}
	return []interface{}{op.Transfer.OperationID, op.Transfer.AccountID, op.Transfer.Amount, op.Transfer.Balance}
}

func metaArg(meta []byte) interface{} {
	if len(meta) == 0 {
		return nil
	}
	return string(meta)
}

func (l *pgLedger) InsertOperation(ctx context.Context, op *models.Operation) error {
	query := `
		INSERT INTO ledger.operations (id, user_id, account_id, type, category_id, amount, balance,
			transfer_operation_id, transfer_account_id, transfer_amount, transfer_balance,
			created, updated_at, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING seq`
	args := []interface{}{op.ID, op.UserID, op.AccountID, op.Type, op.CategoryID, op.Amount, op.Balance}
	args = append(args, transferArgs(op)...)
	args = append(args, op.Created, op.UpdatedAt, metaArg(op.Meta))
	if err := l.q.QueryRowContext(ctx, query, args...).Scan(&op.Seq); err != nil {
		return fmt.Errorf("failed to create operation: %w", err)
	}
	return nil
}

func (l *pgLedger) GetOperation(ctx context.Context, userID, id string) (*models.Operation, error) {
	query := `SELECT ` + operationColumns + ` FROM ledger.operations WHERE user_id = $1 AND id = $2`
	op, err := scanOperation(l.q.QueryRowContext(ctx, query, userID, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find operation: %w", err)
	}
	return op, nil
}

func (l *pgLedger) SaveOperation(ctx context.Context, op *models.Operation) error {
	query := `
		UPDATE ledger.operations
		SET account_id = $1, type = $2, category_id = $3, amount = $4, balance = $5,
			transfer_operation_id = $6, transfer_account_id = $7, transfer_amount = $8, transfer_balance = $9,
			created = $10, updated_at = $11, meta = $12
		WHERE user_id = $13 AND id = $14`
	args := []interface{}{op.AccountID, op.Type, op.CategoryID, op.Amount, op.Balance}
	args = append(args, transferArgs(op)...)
	args = append(args, op.Created, op.UpdatedAt, metaArg(op.Meta), op.UserID, op.ID)
	res, err := l.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to save operation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (l *pgLedger) DeleteOperation(ctx context.Context, userID, id string) error {
	return l.deleteOne(ctx, `DELETE FROM ledger.operations WHERE user_id = $1 AND id = $2`, userID, id)
}

func (l *pgLedger) queryOperations(ctx context.Context, query string, args ...interface{}) ([]*models.Operation, error) {
	rows, err := l.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()

	var ops []*models.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func (l *pgLedger) LastOwnedBefore(ctx context.Context, userID, accountID string, before time.Time) (*models.Operation, error) {
	query := `
		SELECT ` + operationColumns + `
		FROM ledger.operations
		WHERE user_id = $1 AND account_id = $2 AND created < $3
		ORDER BY created DESC, seq DESC
		LIMIT 1`
	op, err := scanOperation(l.q.QueryRowContext(ctx, query, userID, accountID, before))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find previous operation: %w", err)
	}
	return op, nil
}

func (l *pgLedger) HasOwnedAfter(ctx context.Context, userID, accountID string, after time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM ledger.operations
			WHERE user_id = $1 AND account_id = $2 AND created > $3
		)`
	var exists bool
	if err := l.q.QueryRowContext(ctx, query, userID, accountID, after).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check later operations: %w", err)
	}
	return exists, nil
}

func (l *pgLedger) OwnedFrom(ctx context.Context, userID, accountID string, from time.Time) ([]*models.Operation, error) {
	query := `
		SELECT ` + operationColumns + `
		FROM ledger.operations
		WHERE user_id = $1 AND account_id = $2 AND created >= $3
		ORDER BY created, seq`
	return l.queryOperations(ctx, query, userID, accountID, from)
}

func (l *pgLedger) CounterpartFrom(ctx context.Context, userID, accountID string, from time.Time) ([]*models.Operation, error) {
	query := `
		SELECT ` + operationColumns + `
		FROM ledger.operations
		WHERE user_id = $1 AND transfer_account_id = $2 AND created >= $3
		ORDER BY created, seq`
	return l.queryOperations(ctx, query, userID, accountID, from)
}

// operationFilter translates a query into a WHERE clause with positional arguments
func operationFilter(q OperationQuery) (string, []interface{}) {
	clauses := []string{"user_id = $1"}
	args := []interface{}{q.UserID}
	add := func(format string, v interface{}) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(format, len(args)))
	}

	if len(q.AccountIDs) > 0 {
		add("account_id = ANY($%d)", pq.Array(q.AccountIDs))
	}
	if q.Type != "" {
		add("type = $%d", string(q.Type))
	}
	if len(q.CategoryIDs) > 0 {
		add("category_id = ANY($%d)", pq.Array(q.CategoryIDs))
	}
	if q.AmountFrom != nil {
		add("ABS(amount) >= $%d", *q.AmountFrom)
	}
	if q.AmountTo != nil {
		add("ABS(amount) <= $%d", *q.AmountTo)
	}
	if q.DateFrom != nil {
		add("created >= $%d", *q.DateFrom)
	}
	if q.DateTo != nil {
		add("created <= $%d", *q.DateTo)
	}
	if q.TransferOnly {
		clauses = append(clauses, "transfer_operation_id IS NOT NULL")
	}
	return strings.Join(clauses, " AND "), args
}

func (l *pgLedger) FindOperations(ctx context.Context, q OperationQuery, skip, limit int) ([]*models.Operation, error) {
	where, args := operationFilter(q)
	args = append(args, skip, limit)
	query := fmt.Sprintf(`
		SELECT %s
		FROM ledger.operations
		WHERE %s
		ORDER BY created DESC, seq DESC
		OFFSET $%d LIMIT $%d`, operationColumns, where, len(args)-1, len(args))
	return l.queryOperations(ctx, query, args...)
}

func (l *pgLedger) CountOperations(ctx context.Context, q OperationQuery) (int, error) {
	where, args := operationFilter(q)
	var count int
	if err := l.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger.operations WHERE `+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count operations: %w", err)
	}
	return count, nil
}

func (l *pgLedger) RetagOperations(ctx context.Context, userID string, categoryIDs []string, sign models.SignType, blankID string) (int, error) {
	if len(categoryIDs) == 0 {
		return 0, nil
	}
	query := `
		UPDATE ledger.operations
		SET category_id = $1, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = $2 AND transfer_operation_id IS NULL AND category_id = ANY($3)`
	args := []interface{}{blankID, userID, pq.Array(categoryIDs)}
	if sign != "" {
		query += ` AND type = $4`
		args = append(args, string(sign))
	}
	res, err := l.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to retag operations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

const transferColumns = `id, user_id, from_operation_id, to_operation_id, created_at`

func scanTransfer(row rowScanner) (*models.Transfer, error) {
	t := &models.Transfer{}
	if err := row.Scan(&t.ID, &t.UserID, &t.FromOperationID, &t.ToOperationID, &t.CreatedAt); err != nil {
		return nil, err
	}
	return t, nil
}

func (l *pgLedger) InsertTransfer(ctx context.Context, t *models.Transfer) error {
	query := `INSERT INTO ledger.transfers (` + transferColumns + `) VALUES ($1, $2, $3, $4, $5)`
	if _, err := l.q.ExecContext(ctx, query, t.ID, t.UserID, t.FromOperationID, t.ToOperationID, t.CreatedAt); err != nil {
		return fmt.Errorf("failed to create transfer: %w", err)
	}
	return nil
}

func (l *pgLedger) getTransfer(ctx context.Context, where string, args ...interface{}) (*models.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM ledger.transfers WHERE ` + where
	t, err := scanTransfer(l.q.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find transfer: %w", err)
	}
	return t, nil
}

func (l *pgLedger) GetTransfer(ctx context.Context, userID, id string) (*models.Transfer, error) {
	return l.getTransfer(ctx, "user_id = $1 AND id = $2", userID, id)
}

func (l *pgLedger) GetTransferByOperation(ctx context.Context, userID, operationID string) (*models.Transfer, error) {
	return l.getTransfer(ctx, "user_id = $1 AND (from_operation_id = $2 OR to_operation_id = $2)", userID, operationID)
}

func (l *pgLedger) TransfersByOperations(ctx context.Context, userID string, operationIDs []string) ([]*models.Transfer, error) {
	if len(operationIDs) == 0 {
		return nil, nil
	}
	query := `
		SELECT ` + transferColumns + `
		FROM ledger.transfers
		WHERE user_id = $1 AND (from_operation_id = ANY($2) OR to_operation_id = ANY($2))`
	rows, err := l.q.QueryContext(ctx, query, userID, pq.Array(operationIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	defer rows.Close()

	var transfers []*models.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

func (l *pgLedger) DeleteTransfer(ctx context.Context, userID, id string) error {
	return l.deleteOne(ctx, `DELETE FROM ledger.transfers WHERE user_id = $1 AND id = $2`, userID, id)
}

func (l *pgLedger) GetCategoryTree(ctx context.Context, userID string) ([]byte, error) {
	var tree []byte
	err := l.q.QueryRowContext(ctx, `SELECT tree FROM ledger.category_trees WHERE user_id = $1`, userID).Scan(&tree)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find category tree: %w", err)
	}
	return tree, nil
}

func (l *pgLedger) SaveCategoryTree(ctx context.Context, userID string, tree []byte) error {
	query := `
		INSERT INTO ledger.category_trees (user_id, tree, updated_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		ON CONFLICT (user_id) DO UPDATE SET
			tree = excluded.tree,
			updated_at = CURRENT_TIMESTAMP`
	if _, err := l.q.ExecContext(ctx, query, userID, string(tree)); err != nil {
		return fmt.Errorf("failed to save category tree: %w", err)
	}
	return nil
}

// Ensure the postgres types implement the store interfaces.
var (
	_ Store  = (*PostgresStore)(nil)
	_ Ledger = (*pgLedger)(nil)
)
