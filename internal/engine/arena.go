package engine

import (
	"context"
	"strings"

	"signalwars/internal/domain"
	"signalwars/internal/engine/auth"
	"signalwars/internal/events"
	"signalwars/internal/keys"
)

// InitializeArena creates the arena singleton and its treasury with
// authority as the privileged identity.
func (e Engine) InitializeArena(ctx context.Context, authority string) (domain.Arena, error) {
	if strings.TrimSpace(authority) == "" {
		return domain.Arena{}, errorf(ErrUnauthorized, "authority identity required")
	}
	o, err := e.begin(ctx)
	if err != nil {
		return domain.Arena{}, err
	}
	defer o.tx.Rollback()

	arena := domain.Arena{
		Key:       keys.Arena(),
		Authority: authority,
		Treasury:  keys.Treasury(),
		CreatedAt: o.unix(),
	}
	if _, err := e.create(ctx, o, arena.Key, domain.KindArena, "", authority, "", arena, ErrAlreadyInitialized); err != nil {
		return domain.Arena{}, err
	}
	treasury := domain.Vault{Key: arena.Treasury, Kind: domain.KindTreasury}
	if _, err := e.create(ctx, o, treasury.Key, domain.KindTreasury, "", authority, "", treasury, ErrAlreadyInitialized); err != nil {
		return domain.Arena{}, err
	}
	if err := e.appendEvent(ctx, o, "arena.initialized", domain.KindArena, arena.Key, authority, events.EventPayload{"authority": authority, "treasury": arena.Treasury}); err != nil {
		return domain.Arena{}, err
	}
	if err := o.tx.Commit(); err != nil {
		return domain.Arena{}, err
	}
	return arena, nil
}

// FundTreasury moves funds from the authority's wallet into the treasury,
// which backs the bonus half of winning payouts.
func (e Engine) FundTreasury(ctx context.Context, caller string, amount uint64) (uint64, error) {
	if err := checkAmount(amount, "amount"); err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, errorf(ErrInvalidAmount, "amount must be positive")
	}
	o, err := e.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer o.tx.Rollback()

	arena, _, err := e.loadArena(ctx, o.tx)
	if err != nil {
		return 0, err
	}
	if err := forbidden(auth.RequireAuthority(arena, caller)); err != nil {
		return 0, err
	}
	if err := e.payFromWallet(ctx, o, caller, arena.Treasury, amount); err != nil {
		return 0, err
	}
	balance, err := e.Repo.Balance(ctx, o.tx, arena.Treasury)
	if err != nil {
		return 0, err
	}
	if err := e.appendEvent(ctx, o, "treasury.funded", domain.KindTreasury, arena.Treasury, caller, events.EventPayload{"amount": amount, "balance": balance}); err != nil {
		return 0, err
	}
	if err := o.tx.Commit(); err != nil {
		return 0, err
	}
	return balance, nil
}

// WithdrawTreasury pays treasury funds out to the authority's wallet and
// returns what remains.
func (e Engine) WithdrawTreasury(ctx context.Context, caller string, amount uint64) (uint64, error) {
	if err := checkAmount(amount, "amount"); err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, errorf(ErrInvalidAmount, "amount must be positive")
	}
	o, err := e.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer o.tx.Rollback()

	arena, _, err := e.loadArena(ctx, o.tx)
	if err != nil {
		return 0, err
	}
	if err := forbidden(auth.RequireAuthority(arena, caller)); err != nil {
		return 0, err
	}
	if err := e.payToWallet(ctx, o, arena.Treasury, caller, amount, "treasury"); err != nil {
		return 0, err
	}
	remaining, err := e.Repo.Balance(ctx, o.tx, arena.Treasury)
	if err != nil {
		return 0, err
	}
	if err := e.appendEvent(ctx, o, "treasury.withdrawn", domain.KindTreasury, arena.Treasury, caller, events.EventPayload{"amount": amount, "remaining": remaining}); err != nil {
		return 0, err
	}
	if err := o.tx.Commit(); err != nil {
		return 0, err
	}
	return remaining, nil
}

// Deposit credits external funds to the wallet of owner, defaulting to the
// caller. It is the only way value enters the arena.
func (e Engine) Deposit(ctx context.Context, caller, owner string, amount uint64) (uint64, error) {
	if !e.config().DepositsAllowed() {
		return 0, errorf(ErrUnauthorized, "deposits are disabled")
	}
	if strings.TrimSpace(caller) == "" {
		return 0, errorf(ErrUnauthorized, "caller identity required")
	}
	if owner == "" {
		owner = caller
	}
	if err := checkAmount(amount, "amount"); err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, errorf(ErrInvalidAmount, "amount must be positive")
	}
	o, err := e.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer o.tx.Rollback()

	wallet, err := e.ensureWallet(ctx, o, owner)
	if err != nil {
		return 0, err
	}
	if err := storeErr(e.Repo.Credit(ctx, o.tx, wallet, amount), "wallet of "+owner); err != nil {
		return 0, err
	}
	balance, err := e.Repo.Balance(ctx, o.tx, wallet)
	if err != nil {
		return 0, err
	}
	if err := e.appendEvent(ctx, o, "wallet.deposited", domain.KindWallet, wallet, caller, events.EventPayload{"owner": owner, "amount": amount, "balance": balance}); err != nil {
		return 0, err
	}
	if err := o.tx.Commit(); err != nil {
		return 0, err
	}
	return balance, nil
}
