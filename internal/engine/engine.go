package engine

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"time"

	"signalwars/internal/config"
	"signalwars/internal/domain"
	"signalwars/internal/events"
	"signalwars/internal/keys"
	"signalwars/internal/repo"
	"signalwars/internal/scoring"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) config() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default()
}

func (e Engine) scoring() scoring.Params {
	cfg := e.config()
	return scoring.Params{Base: cfg.Scoring.BaseMultiplier, Step: cfg.Scoring.StreakStep}
}

// op carries the transaction and the single clock reading of one operation.
type op struct {
	tx  *sql.Tx
	now time.Time
}

func (o op) unix() int64 { return o.now.Unix() }

func (o op) stamp() string { return o.now.UTC().Format(time.RFC3339) }

func (e Engine) begin(ctx context.Context) (op, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return op{}, err
	}
	return op{tx: tx, now: e.now()}, nil
}

func (e Engine) appendEvent(ctx context.Context, o op, evtType, entityKind, entityID, actorID string, payload events.EventPayload) error {
	w := e.Events
	if w.Now == nil {
		w.Now = func() time.Time { return o.now }
	}
	return w.Append(ctx, o.tx, evtType, entityKind, entityID, actorID, payload)
}

// load fetches and decodes one account. what names the entity in errors.
func load[T any](ctx context.Context, e Engine, tx repo.DBTX, key, what string) (T, repo.Account, error) {
	var zero T
	acct, err := e.Repo.GetAccount(ctx, tx, key)
	if err != nil {
		return zero, repo.Account{}, storeErr(err, what)
	}
	v, err := repo.Decode[T](acct)
	if err != nil {
		return zero, repo.Account{}, err
	}
	return v, acct, nil
}

func (e Engine) loadArena(ctx context.Context, tx repo.DBTX) (domain.Arena, repo.Account, error) {
	arena, acct, err := load[domain.Arena](ctx, e, tx, keys.Arena(), "arena")
	if errors.Is(err, ErrNotFound) {
		return arena, acct, ErrNotInitialized
	}
	return arena, acct, err
}

// create inserts a new account; an occupied key fails with dup.
func (e Engine) create(ctx context.Context, o op, key, kind, scope, owner, status string, v any, dup *Error) (repo.Account, error) {
	acct, err := repo.NewAccount(key, kind, scope, owner, status, v)
	if err != nil {
		return repo.Account{}, err
	}
	acct.CreatedAt = o.stamp()
	if err := e.Repo.InsertAccount(ctx, o.tx, &acct); err != nil {
		if errors.Is(err, repo.ErrExists) {
			return repo.Account{}, errorf(dup, "%s %s already exists", kind, key)
		}
		return repo.Account{}, storeErr(err, kind)
	}
	return acct, nil
}

// save writes v back over acct with a version check.
func (e Engine) save(ctx context.Context, o op, acct *repo.Account, status string, v any) error {
	if err := acct.Set(status, v); err != nil {
		return err
	}
	acct.UpdatedAt = o.stamp()
	return storeErr(e.Repo.UpdateAccount(ctx, o.tx, acct), acct.Kind)
}

// ensureWallet creates the wallet of owner if it does not exist yet.
func (e Engine) ensureWallet(ctx context.Context, o op, owner string) (string, error) {
	key := keys.Wallet(owner)
	_, err := e.create(ctx, o, key, domain.KindWallet, "", owner, "", domain.Vault{Key: key, Kind: domain.KindWallet, Scope: owner}, ErrAlreadyExists)
	if err != nil && !errors.Is(err, ErrAlreadyExists) {
		return "", err
	}
	return key, nil
}

// transfer moves amount between two balance-holding accounts.
func (e Engine) transfer(ctx context.Context, o op, from, to string, amount uint64, what string) error {
	if amount == 0 {
		return nil
	}
	if err := e.Repo.Debit(ctx, o.tx, from, amount); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return errorf(ErrInsufficientFunds, "insufficient funds in %s", what)
		}
		return storeErr(err, what)
	}
	return storeErr(e.Repo.Credit(ctx, o.tx, to, amount), "destination account")
}

// payFromWallet debits owner's wallet into a custodial account.
func (e Engine) payFromWallet(ctx context.Context, o op, owner, to string, amount uint64) error {
	return e.transfer(ctx, o, keys.Wallet(owner), to, amount, "wallet of "+owner)
}

// payToWallet credits owner's wallet from a custodial account.
func (e Engine) payToWallet(ctx context.Context, o op, from, owner string, amount uint64, what string) error {
	if amount == 0 {
		return nil
	}
	wallet, err := e.ensureWallet(ctx, o, owner)
	if err != nil {
		return err
	}
	return e.transfer(ctx, o, from, wallet, amount, what)
}

func checkAmount(v uint64, what string) error {
	if v > math.MaxInt64 {
		return errorf(ErrInvalidAmount, "%s exceeds %d", what, int64(math.MaxInt64))
	}
	return nil
}

func addChecked(a, b uint64, what string) (uint64, error) {
	if a > math.MaxInt64 || b > math.MaxInt64-a {
		return 0, errorf(ErrInvalidAmount, "%s would overflow", what)
	}
	return a + b, nil
}
