package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/Dan9191/finance-ledger/internal/models"
	bolt "go.etcd.io/bbolt"
)

// Bucket names.
const (
	bucketUsers         = "users"
	bucketUserEmails    = "user_emails"
	bucketAccounts      = "accounts"
	bucketOperations    = "operations"
	bucketTransfers     = "transfers"
	bucketTransferLegs  = "transfer_legs"
	bucketCategoryTrees = "category_trees"
	keySeparator        = '/'
	boltOpenTimeout     = 5 * time.Second

	// operation indexes, values are operation ids:
	//   ops_by_user        user/created/seq
	//   ops_by_account     user/account/created/seq
	//   ops_by_counterpart user/counterpart account/created/seq (transfer legs only)
	bucketOpsByUser        = "ops_by_user"
	bucketOpsByAccount     = "ops_by_account"
	bucketOpsByCounterpart = "ops_by_counterpart"

	// indexTimeLayout is fixed width so keys sort chronologically
	indexTimeLayout = "2006-01-02T15:04:05.000000000Z"
)

var indexBuckets = []string{bucketOpsByUser, bucketOpsByAccount, bucketOpsByCounterpart}

// BoltStore is an embedded document store backed by bbolt.
// Keys are "<user id>/<document id>" so one user's documents are contiguous.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens the database file and initializes buckets
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		rebuild := false
		for _, bucket := range indexBuckets {
			if tx.Bucket([]byte(bucket)) == nil {
				rebuild = true
			}
		}
		buckets := append([]string{
			bucketUsers, bucketUserEmails, bucketAccounts, bucketOperations,
			bucketTransfers, bucketTransferLegs, bucketCategoryTrees,
		}, indexBuckets...)
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		if rebuild {
			return (&boltLedger{tx: tx}).reindex()
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// View runs fn in a read-only transaction
func (s *BoltStore) View(ctx context.Context, fn func(Ledger) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&boltLedger{tx: tx})
	})
}

// Update runs fn in a read-write transaction, rolled back if fn fails
func (s *BoltStore) Update(ctx context.Context, fn func(Ledger) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&boltLedger{tx: tx})
	})
}

type boltLedger struct {
	tx *bolt.Tx
}

func docKey(userID, id string) []byte {
	k := make([]byte, 0, len(userID)+len(id)+1)
	k = append(k, userID...)
	k = append(k, keySeparator)
	return append(k, id...)
}

func userPrefix(userID string) []byte {
	return append([]byte(userID), keySeparator)
}

func (l *boltLedger) bucket(name string) (*bolt.Bucket, error) {
	b := l.tx.Bucket([]byte(name))
	if b == nil {
		return nil, fmt.Errorf("bucket %s not found", name)
	}
	return b, nil
}

func (l *boltLedger) put(name string, key []byte, value interface{}) error {
	b, err := l.bucket(name)
	if err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return b.Put(key, data)
}

func (l *boltLedger) get(name string, key []byte, value interface{}) error {
	b, err := l.bucket(name)
	if err != nil {
		return err
	}
	data := b.Get(key)
	if data == nil {
		return ErrNotFound
	}
	return json.Unmarshal(data, value)
}

func (l *boltLedger) delete(name string, key []byte) error {
	b, err := l.bucket(name)
	if err != nil {
		return err
	}
	if b.Get(key) == nil {
		return ErrNotFound
	}
	return b.Delete(key)
}

// scan calls fn for every value stored under the user's prefix
func (l *boltLedger) scan(name, userID string, fn func(v []byte) error) error {
	b, err := l.bucket(name)
	if err != nil {
		return err
	}
	prefix := userPrefix(userID)
	c := b.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}

// boltUser keeps the password hash that models.User hides from JSON
type boltUser struct {
	models.User
	PasswordHash string `json:"password_hash"`
}

func (l *boltLedger) InsertUser(ctx context.Context, user *models.User) error {
	emails, err := l.bucket(bucketUserEmails)
	if err != nil {
		return err
	}
	if emails.Get([]byte(user.Email)) != nil {
		return ErrDuplicate
	}
	if err := emails.Put([]byte(user.Email), []byte(user.ID)); err != nil {
		return fmt.Errorf("failed to index user email: %w", err)
	}
	return l.put(bucketUsers, []byte(user.ID), boltUser{User: *user, PasswordHash: user.PasswordHash})
}

func (l *boltLedger) GetUser(ctx context.Context, id string) (*models.User, error) {
	var doc boltUser
	if err := l.get(bucketUsers, []byte(id), &doc); err != nil {
		return nil, err
	}
	user := doc.User
	user.PasswordHash = doc.PasswordHash
	return &user, nil
}

func (l *boltLedger) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	emails, err := l.bucket(bucketUserEmails)
	if err != nil {
		return nil, err
	}
	id := emails.Get([]byte(email))
	if id == nil {
		return nil, ErrNotFound
	}
	return l.GetUser(ctx, string(id))
}

func (l *boltLedger) ListUserIDs(ctx context.Context) ([]string, error) {
	b, err := l.bucket(bucketUsers)
	if err != nil {
		return nil, err
	}
	var ids []string
	err = b.ForEach(func(k, _ []byte) error {
		ids = append(ids, string(k))
		return nil
	})
	return ids, err
}

func (l *boltLedger) InsertAccount(ctx context.Context, account *models.Account) error {
	account.Version = 1
	return l.put(bucketAccounts, docKey(account.UserID, account.ID), account)
}

func (l *boltLedger) GetAccount(ctx context.Context, userID, id string) (*models.Account, error) {
	var account models.Account
	if err := l.get(bucketAccounts, docKey(userID, id), &account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (l *boltLedger) ListAccounts(ctx context.Context, userID string) ([]*models.Account, error) {
	var accounts []*models.Account
	err := l.scan(bucketAccounts, userID, func(v []byte) error {
		var a models.Account
		if err := json.Unmarshal(v, &a); err != nil {
			return err
		}
		accounts = append(accounts, &a)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(accounts, func(i, j int) bool {
		if accounts[i].Order != accounts[j].Order {
			return accounts[i].Order < accounts[j].Order
		}
		return accounts[i].Name < accounts[j].Name
	})
	return accounts, nil
}

func (l *boltLedger) SaveAccount(ctx context.Context, account *models.Account) error {
	stored, err := l.GetAccount(ctx, account.UserID, account.ID)
	if err != nil {
		return err
	}
	if stored.Version != account.Version {
		return ErrVersionConflict
	}
	account.Version++
	return l.put(bucketAccounts, docKey(account.UserID, account.ID), account)
}

func (l *boltLedger) DeleteAccount(ctx context.Context, userID, id string) error {
	return l.delete(bucketAccounts, docKey(userID, id))
}

func timeKey(t time.Time) string {
	return t.UTC().Format(indexTimeLayout)
}

// indexPrefix joins parts into a key prefix ending with the separator
func indexPrefix(parts ...string) []byte {
	var k []byte
	for _, p := range parts {
		k = append(k, p...)
		k = append(k, keySeparator)
	}
	return k
}

// after returns a key sorting past every key that starts with prefix+s+separator
func after(prefix []byte, s string) []byte {
	k := append(append([]byte{}, prefix...), s...)
	return append(k, keySeparator+1)
}

func at(prefix []byte, t time.Time) []byte {
	return append(append([]byte{}, prefix...), timeKey(t)...)
}

type indexEntry struct {
	bucket string
	key    []byte
}

func operationIndexes(op *models.Operation) []indexEntry {
	suffix := timeKey(op.Created) + string(keySeparator) + fmt.Sprintf("%020d", op.Seq)
	entries := []indexEntry{
		{bucketOpsByUser, append(indexPrefix(op.UserID), suffix...)},
		{bucketOpsByAccount, append(indexPrefix(op.UserID, op.AccountID), suffix...)},
	}
	if op.Transfer != nil && op.Transfer.AccountID != "" {
		entries = append(entries, indexEntry{bucketOpsByCounterpart, append(indexPrefix(op.UserID, op.Transfer.AccountID), suffix...)})
	}
	return entries
}

func (l *boltLedger) index(op *models.Operation) error {
	for _, e := range operationIndexes(op) {
		b, err := l.bucket(e.bucket)
		if err != nil {
			return err
		}
		if err := b.Put(e.key, []byte(op.ID)); err != nil {
			return fmt.Errorf("failed to index operation %s: %w", op.ID, err)
		}
	}
	return nil
}

func (l *boltLedger) unindex(op *models.Operation) error {
	for _, e := range operationIndexes(op) {
		b, err := l.bucket(e.bucket)
		if err != nil {
			return err
		}
		if err := b.Delete(e.key); err != nil {
			return fmt.Errorf("failed to unindex operation %s: %w", op.ID, err)
		}
	}
	return nil
}

// reindex rebuilds the operation indexes from the stored documents
func (l *boltLedger) reindex() error {
	for _, name := range indexBuckets {
		if err := l.tx.DeleteBucket([]byte(name)); err != nil {
			return fmt.Errorf("failed to drop index %s: %w", name, err)
		}
		if _, err := l.tx.CreateBucket([]byte(name)); err != nil {
			return fmt.Errorf("failed to create index %s: %w", name, err)
		}
	}
	b, err := l.bucket(bucketOperations)
	if err != nil {
		return err
	}
	return b.ForEach(func(_, v []byte) error {
		var op models.Operation
		if err := json.Unmarshal(v, &op); err != nil {
			return err
		}
		return l.index(&op)
	})
}

// ascend calls fn with the ids indexed under prefix, oldest first, starting
// at the first key >= start, until fn returns false
func (l *boltLedger) ascend(bucket string, prefix, start []byte, fn func(id string) (bool, error)) error {
	b, err := l.bucket(bucket)
	if err != nil {
		return err
	}
	c := b.Cursor()
	for k, v := c.Seek(start); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		more, err := fn(string(v))
		if err != nil || !more {
			return err
		}
	}
	return nil
}

// descend calls fn with the ids indexed under prefix, newest first, starting
// at the last key < end, until fn returns false
func (l *boltLedger) descend(bucket string, prefix, end []byte, fn func(id string) (bool, error)) error {
	b, err := l.bucket(bucket)
	if err != nil {
		return err
	}
	c := b.Cursor()
	k, v := c.Seek(end)
	if k == nil {
		k, v = c.Last()
	} else {
		k, v = c.Prev()
	}
	for ; k != nil && bytes.HasPrefix(k, prefix); k, v = c.Prev() {
		more, err := fn(string(v))
		if err != nil || !more {
			return err
		}
	}
	return nil
}

// collect loads every operation yielded by walk
func (l *boltLedger) collect(ctx context.Context, userID string, walk func(fn func(id string) (bool, error)) error) ([]*models.Operation, error) {
	ops := []*models.Operation{}
	err := walk(func(id string) (bool, error) {
		op, err := l.GetOperation(ctx, userID, id)
		if err != nil {
			return false, fmt.Errorf("index points at operation %s: %w", id, err)
		}
		ops = append(ops, op)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return ops, nil
}

func (l *boltLedger) InsertOperation(ctx context.Context, op *models.Operation) error {
	b, err := l.bucket(bucketOperations)
	if err != nil {
		return err
	}
	seq, err := b.NextSequence()
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}
	op.Seq = int64(seq)
	if err := l.put(bucketOperations, docKey(op.UserID, op.ID), op); err != nil {
		return err
	}
	return l.index(op)
}

func (l *boltLedger) GetOperation(ctx context.Context, userID, id string) (*models.Operation, error) {
	var op models.Operation
	if err := l.get(bucketOperations, docKey(userID, id), &op); err != nil {
		return nil, err
	}
	return &op, nil
}

func (l *boltLedger) SaveOperation(ctx context.Context, op *models.Operation) error {
	stored, err := l.GetOperation(ctx, op.UserID, op.ID)
	if err != nil {
		return err
	}
	if err := l.unindex(stored); err != nil {
		return err
	}
	if err := l.put(bucketOperations, docKey(op.UserID, op.ID), op); err != nil {
		return err
	}
	return l.index(op)
}

func (l *boltLedger) DeleteOperation(ctx context.Context, userID, id string) error {
	stored, err := l.GetOperation(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := l.unindex(stored); err != nil {
		return err
	}
	return l.delete(bucketOperations, docKey(userID, id))
}

// operations decodes every operation of the user matching keep, ordered by (created, seq)
func (l *boltLedger) operations(userID string, keep func(*models.Operation) bool) ([]*models.Operation, error) {
	var ops []*models.Operation
	err := l.scan(bucketOperations, userID, func(v []byte) error {
		var op models.Operation
		if err := json.Unmarshal(v, &op); err != nil {
			return err
		}
		if keep(&op) {
			ops = append(ops, &op)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(ops, func(i, j int) bool { return ops[i].Before(ops[j]) })
	return ops, nil
}

func (l *boltLedger) LastOwnedBefore(ctx context.Context, userID, accountID string, before time.Time) (*models.Operation, error) {
	prefix := indexPrefix(userID, accountID)
	var last *models.Operation
	err := l.descend(bucketOpsByAccount, prefix, at(prefix, before), func(id string) (bool, error) {
		op, err := l.GetOperation(ctx, userID, id)
		if err != nil {
			return false, fmt.Errorf("index points at operation %s: %w", id, err)
		}
		last = op
		return false, nil
	})
	return last, err
}

func (l *boltLedger) HasOwnedAfter(ctx context.Context, userID, accountID string, t time.Time) (bool, error) {
	prefix := indexPrefix(userID, accountID)
	found := false
	err := l.ascend(bucketOpsByAccount, prefix, after(prefix, timeKey(t)), func(string) (bool, error) {
		found = true
		return false, nil
	})
	return found, err
}

func (l *boltLedger) OwnedFrom(ctx context.Context, userID, accountID string, from time.Time) ([]*models.Operation, error) {
	prefix := indexPrefix(userID, accountID)
	return l.collect(ctx, userID, func(fn func(string) (bool, error)) error {
		return l.ascend(bucketOpsByAccount, prefix, at(prefix, from), fn)
	})
}

func (l *boltLedger) CounterpartFrom(ctx context.Context, userID, accountID string, from time.Time) ([]*models.Operation, error) {
	prefix := indexPrefix(userID, accountID)
	return l.collect(ctx, userID, func(fn func(string) (bool, error)) error {
		return l.ascend(bucketOpsByCounterpart, prefix, at(prefix, from), fn)
	})
}

// FindOperations walks the user index newest first, starting at DateTo when
// set and stopping at DateFrom
func (l *boltLedger) FindOperations(ctx context.Context, q OperationQuery, skip, limit int) ([]*models.Operation, error) {
	prefix := indexPrefix(q.UserID)
	end := append(append([]byte{}, prefix...), 0xff)
	if q.DateTo != nil {
		end = after(prefix, timeKey(*q.DateTo))
	}

	ops := []*models.Operation{}
	err := l.descend(bucketOpsByUser, prefix, end, func(id string) (bool, error) {
		op, err := l.GetOperation(ctx, q.UserID, id)
		if err != nil {
			return false, fmt.Errorf("index points at operation %s: %w", id, err)
		}
		if q.DateFrom != nil && op.Created.Before(*q.DateFrom) {
			return false, nil
		}
		if !matchesQuery(op, q) {
			return true, nil
		}
		if skip > 0 {
			skip--
			return true, nil
		}
		ops = append(ops, op)
		return limit <= 0 || len(ops) < limit, nil
	})
	if err != nil {
		return nil, err
	}
	return ops, nil
}

// CountOperations walks the account indexes when the query names accounts,
// else the user index, starting at DateFrom
func (l *boltLedger) CountOperations(ctx context.Context, q OperationQuery) (int, error) {
	type scope struct {
		bucket string
		prefix []byte
	}
	var scopes []scope
	if len(q.AccountIDs) > 0 {
		seen := make(map[string]bool)
		for _, accountID := range q.AccountIDs {
			if !seen[accountID] {
				seen[accountID] = true
				scopes = append(scopes, scope{bucketOpsByAccount, indexPrefix(q.UserID, accountID)})
			}
		}
	} else {
		scopes = []scope{{bucketOpsByUser, indexPrefix(q.UserID)}}
	}

	count := 0
	for _, sc := range scopes {
		start := sc.prefix
		if q.DateFrom != nil {
			start = at(sc.prefix, *q.DateFrom)
		}
		err := l.ascend(sc.bucket, sc.prefix, start, func(id string) (bool, error) {
			op, err := l.GetOperation(ctx, q.UserID, id)
			if err != nil {
				return false, fmt.Errorf("index points at operation %s: %w", id, err)
			}
			if q.DateTo != nil && op.Created.After(*q.DateTo) {
				return false, nil
			}
			if matchesQuery(op, q) {
				count++
			}
			return true, nil
		})
		if err != nil {
			return 0, err
		}
	}
	return count, nil
}

func (l *boltLedger) RetagOperations(ctx context.Context, userID string, categoryIDs []string, sign models.SignType, blankID string) (int, error) {
	if len(categoryIDs) == 0 {
		return 0, nil
	}
	ops, err := l.operations(userID, func(op *models.Operation) bool {
		return op.Transfer == nil && contains(categoryIDs, op.CategoryID) && (sign == "" || op.Type == sign)
	})
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	for _, op := range ops {
		op.CategoryID = blankID
		op.UpdatedAt = now
		if err := l.put(bucketOperations, docKey(userID, op.ID), op); err != nil {
			return 0, err
		}
	}
	return len(ops), nil
}

func (l *boltLedger) InsertTransfer(ctx context.Context, transfer *models.Transfer) error {
	legs, err := l.bucket(bucketTransferLegs)
	if err != nil {
		return err
	}
	for _, opID := range transfer.OperationIDs() {
		if err := legs.Put(docKey(transfer.UserID, opID), []byte(transfer.ID)); err != nil {
			return fmt.Errorf("failed to index transfer leg: %w", err)
		}
	}
	return l.put(bucketTransfers, docKey(transfer.UserID, transfer.ID), transfer)
}

func (l *boltLedger) GetTransfer(ctx context.Context, userID, id string) (*models.Transfer, error) {
	var transfer models.Transfer
	if err := l.get(bucketTransfers, docKey(userID, id), &transfer); err != nil {
		return nil, err
	}
	return &transfer, nil
}

func (l *boltLedger) GetTransferByOperation(ctx context.Context, userID, operationID string) (*models.Transfer, error) {
	legs, err := l.bucket(bucketTransferLegs)
	if err != nil {
		return nil, err
	}
	id := legs.Get(docKey(userID, operationID))
	if id == nil {
		return nil, ErrNotFound
	}
	return l.GetTransfer(ctx, userID, string(id))
}

func (l *boltLedger) TransfersByOperations(ctx context.Context, userID string, operationIDs []string) ([]*models.Transfer, error) {
	seen := make(map[string]bool)
	var transfers []*models.Transfer
	for _, opID := range operationIDs {
		transfer, err := l.GetTransferByOperation(ctx, userID, opID)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if seen[transfer.ID] {
			continue
		}
		seen[transfer.ID] = true
		transfers = append(transfers, transfer)
	}
	return transfers, nil
}

func (l *boltLedger) DeleteTransfer(ctx context.Context, userID, id string) error {
	transfer, err := l.GetTransfer(ctx, userID, id)
	if err != nil {
		return err
	}
	legs, err := l.bucket(bucketTransferLegs)
	if err != nil {
		return err
	}
	for _, opID := range transfer.OperationIDs() {
		if err := legs.Delete(docKey(userID, opID)); err != nil {
			return fmt.Errorf("failed to unindex transfer leg: %w", err)
		}
	}
	return l.delete(bucketTransfers, docKey(userID, id))
}

func (l *boltLedger) GetCategoryTree(ctx context.Context, userID string) ([]byte, error) {
	b, err := l.bucket(bucketCategoryTrees)
	if err != nil {
		return nil, err
	}
	data := b.Get([]byte(userID))
	if data == nil {
		return nil, ErrNotFound
	}
	// values are only valid for the life of the transaction
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (l *boltLedger) SaveCategoryTree(ctx context.Context, userID string, tree []byte) error {
	b, err := l.bucket(bucketCategoryTrees)
	if err != nil {
		return err
	}
	return b.Put([]byte(userID), tree)
}

// Ensure the bolt types implement the store interfaces.
var (
	_ Store  = (*BoltStore)(nil)
	_ Ledger = (*boltLedger)(nil)
)
