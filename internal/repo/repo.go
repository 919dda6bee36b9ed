package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound            = errors.New("not found")
	ErrExists              = errors.New("account already exists")
	ErrVersionConflict     = errors.New("account version conflict")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrBalanceOverflow     = errors.New("balance overflow")
)

// Account is one row of the keyed, versioned account store.
type Account struct {
	Key       string
	Kind      string
	ScopeKey  string
	OwnerKey  string
	Status    string
	Version   int64
	Balance   uint64
	Data      json.RawMessage
	CreatedAt string
	UpdatedAt string
}

// NewAccount builds an unsaved account with v marshalled as its data.
func NewAccount(key, kind, scopeKey, ownerKey, status string, v any) (Account, error) {
	a := Account{Key: key, Kind: kind, ScopeKey: scopeKey, OwnerKey: ownerKey, Status: status}
	if err := a.Set(status, v); err != nil {
		return Account{}, err
	}
	return a, nil
}

// Set replaces the account data and status before an update.
func (a *Account) Set(status string, v any) error {
	if v == nil {
		v = struct{}{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s account: %w", a.Kind, err)
	}
	a.Data = data
	a.Status = status
	return nil
}

// Decode unmarshals the data of an account into T.
func Decode[T any](a Account) (T, error) {
	var v T
	if len(a.Data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(a.Data, &v); err != nil {
		return v, fmt.Errorf("decode %s account %s: %w", a.Kind, a.Key, err)
	}
	return v, nil
}

func (r Repo) q(tx DBTX) DBTX {
	if tx != nil {
		return tx
	}
	return r.DB
}

const accountColumns = `key,kind,COALESCE(scope_key,''),COALESCE(owner_key,''),COALESCE(status,''),version,balance,data_json,created_at,updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (Account, error) {
	var a Account
	var balance int64
	var data string
	err := row.Scan(&a.Key, &a.Kind, &a.ScopeKey, &a.OwnerKey, &a.Status, &a.Version, &balance, &data, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.Balance = uint64(balance)
	a.Data = json.RawMessage(data)
	return a, nil
}

func (r Repo) GetAccount(ctx context.Context, tx DBTX, key string) (Account, error) {
	return scanAccount(r.q(tx).QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE key=?`, key))
}

// Exists reports whether key is already taken.
func (r Repo) Exists(ctx context.Context, tx DBTX, key string) (bool, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT 1 FROM accounts WHERE key=?`, key).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// InsertAccount creates a new account; an occupied key yields ErrExists.
func (r Repo) InsertAccount(ctx context.Context, tx DBTX, a *Account) error {
	if a.Key == "" || a.Kind == "" {
		return errors.New("account key and kind required")
	}
	if a.Balance > math.MaxInt64 {
		return ErrBalanceOverflow
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if a.CreatedAt == "" {
		a.CreatedAt = now
	}
	if a.UpdatedAt == "" {
		a.UpdatedAt = a.CreatedAt
	}
	if len(a.Data) == 0 {
		a.Data = json.RawMessage("{}")
	}
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO accounts(key,kind,scope_key,owner_key,status,version,balance,data_json,created_at,updated_at)
VALUES (?,?,?,?,?,1,?,?,?,?) ON CONFLICT(key) DO NOTHING`,
		a.Key, a.Kind, nullable(a.ScopeKey), nullable(a.OwnerKey), nullable(a.Status), int64(a.Balance), string(a.Data), a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert %s account: %w", a.Kind, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrExists
	}
	a.Version = 1
	return nil
}

// UpdateAccount writes data and status if the stored version still matches
// a.Version, then advances a.Version.
func (r Repo) UpdateAccount(ctx context.Context, tx DBTX, a *Account) error {
	if a.UpdatedAt == "" {
		a.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	res, err := r.q(tx).ExecContext(ctx, `UPDATE accounts SET data_json=?, status=?, version=version+1, updated_at=? WHERE key=? AND version=?`,
		string(a.Data), nullable(a.Status), a.UpdatedAt, a.Key, a.Version)
	if err != nil {
		return fmt.Errorf("update %s account: %w", a.Kind, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.missOrConflict(ctx, tx, a.Key)
	}
	a.Version++
	return nil
}

func (r Repo) missOrConflict(ctx context.Context, tx DBTX, key string) error {
	ok, err := r.Exists(ctx, tx, key)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return ErrVersionConflict
}

// Credit adds amount to the balance of key.
func (r Repo) Credit(ctx context.Context, tx DBTX, key string, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if amount > math.MaxInt64 {
		return ErrBalanceOverflow
	}
	res, err := r.q(tx).ExecContext(ctx, `UPDATE accounts SET balance=balance+?, version=version+1 WHERE key=? AND balance <= ?`,
		int64(amount), key, int64(math.MaxInt64-amount))
	if err != nil {
		return fmt.Errorf("credit %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		ok, err := r.Exists(ctx, tx, key)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		return ErrBalanceOverflow
	}
	return nil
}

// Debit subtracts amount from the balance of key; it never goes negative.
func (r Repo) Debit(ctx context.Context, tx DBTX, key string, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if amount > math.MaxInt64 {
		return ErrInsufficientBalance
	}
	res, err := r.q(tx).ExecContext(ctx, `UPDATE accounts SET balance=balance-?, version=version+1 WHERE key=? AND balance >= ?`,
		int64(amount), key, int64(amount))
	if err != nil {
		return fmt.Errorf("debit %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		ok, err := r.Exists(ctx, tx, key)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		return ErrInsufficientBalance
	}
	return nil
}

func (r Repo) Balance(ctx context.Context, tx DBTX, key string) (uint64, error) {
	var balance int64
	err := r.q(tx).QueryRowContext(ctx, `SELECT balance FROM accounts WHERE key=?`, key).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return uint64(balance), err
}

// AccountFilter narrows ListAccounts. Empty fields are ignored.
type AccountFilter struct {
	Kind      string
	ScopeKey  string
	OwnerKey  string
	Status    string
	NotStatus []string
	Limit     int
}

func (r Repo) ListAccounts(ctx context.Context, tx DBTX, f AccountFilter) ([]Account, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, f.Kind)
	}
	if f.ScopeKey != "" {
		clauses = append(clauses, "scope_key=?")
		args = append(args, f.ScopeKey)
	}
	if f.OwnerKey != "" {
		clauses = append(clauses, "owner_key=?")
		args = append(args, f.OwnerKey)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if len(f.NotStatus) > 0 {
		clauses = append(clauses, "COALESCE(status,'') NOT IN (?"+strings.Repeat(",?", len(f.NotStatus)-1)+")")
		for _, st := range f.NotStatus {
			args = append(args, st)
		}
	}
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at ASC, rowid ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// SumBalances totals balances of all accounts of a kind.
func (r Repo) SumBalances(ctx context.Context, tx DBTX, kind string) (uint64, error) {
	var total int64
	err := r.q(tx).QueryRowContext(ctx, `SELECT COALESCE(SUM(balance),0) FROM accounts WHERE kind=?`, kind).Scan(&total)
	return uint64(total), err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
