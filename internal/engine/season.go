package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/holiman/uint256"

	"signalwars/internal/domain"
	"signalwars/internal/engine/auth"
	"signalwars/internal/events"
	"signalwars/internal/keys"
	"signalwars/internal/repo"
	"signalwars/internal/scoring"
)

const (
	secondsPerDay = 86400
	maxBps        = 10000
)

func ensureSeasonTransition(from, to domain.SeasonStatus) error {
	if from == domain.SeasonActive && (to == domain.SeasonCompleted || to == domain.SeasonCancelled) {
		return nil
	}
	return errorf(ErrInvalidSeasonStatus, "season is %s, cannot become %s", from, to)
}

// CreateSeason opens the next sequential season and its vault.
func (e Engine) CreateSeason(ctx context.Context, caller string, entryFee, durationDays uint64, prizePoolBps uint16) (domain.Season, error) {
	o, err := e.begin(ctx)
	if err != nil {
		return domain.Season{}, err
	}
	defer o.tx.Rollback()

	arena, arenaAcct, err := e.loadArena(ctx, o.tx)
	if err != nil {
		return domain.Season{}, err
	}
	if err := forbidden(auth.RequireAuthority(arena, caller)); err != nil {
		return domain.Season{}, err
	}
	if prizePoolBps > maxBps {
		return domain.Season{}, errorf(ErrInvalidPrizeSplit, "prize pool bps %d exceeds %d", prizePoolBps, maxBps)
	}
	if err := checkAmount(entryFee, "entry fee"); err != nil {
		return domain.Season{}, err
	}
	start := o.unix()
	if durationDays > uint64(math.MaxInt64-start)/secondsPerDay {
		return domain.Season{}, errorf(ErrInvalidDuration, "duration of %d days is too long", durationDays)
	}
	season := domain.Season{
		ID:           arena.TotalSeasons,
		Authority:    caller,
		EntryFee:     entryFee,
		StartTime:    start,
		EndTime:      start + int64(durationDays)*secondsPerDay,
		PrizePoolBps: prizePoolBps,
		Status:       domain.SeasonActive,
	}
	season.Key = keys.Season(season.ID)
	season.Vault = keys.SeasonVault(season.Key)
	if _, err := e.create(ctx, o, season.Key, domain.KindSeason, "", caller, string(season.Status), season, ErrAlreadyExists); err != nil {
		return domain.Season{}, err
	}
	vault := domain.Vault{Key: season.Vault, Kind: domain.KindSeasonVault, Scope: season.Key}
	if _, err := e.create(ctx, o, vault.Key, domain.KindSeasonVault, season.Key, "", "", vault, ErrAlreadyExists); err != nil {
		return domain.Season{}, err
	}
	arena.TotalSeasons++
	if err := e.save(ctx, o, &arenaAcct, "", arena); err != nil {
		return domain.Season{}, err
	}
	if err := e.appendEvent(ctx, o, "season.created", domain.KindSeason, season.Key, caller, events.EventPayload{
		"season_id":      season.ID,
		"entry_fee":      entryFee,
		"end_time":       season.EndTime,
		"prize_pool_bps": prizePoolBps,
	}); err != nil {
		return domain.Season{}, err
	}
	if err := o.tx.Commit(); err != nil {
		return domain.Season{}, err
	}
	return season, nil
}

// EnterSeason enrolls the agent of agentOwner, paying the entry fee from
// the payer's wallet. Only the agent's owner may enter it, so the payer is
// always the owner and receives any prize or refund the entry earns.
func (e Engine) EnterSeason(ctx context.Context, payer string, seasonID uint64, agentOwner string) (domain.SeasonEntry, error) {
	if payer == "" {
		return domain.SeasonEntry{}, errorf(ErrUnauthorized, "payer identity required")
	}
	o, err := e.begin(ctx)
	if err != nil {
		return domain.SeasonEntry{}, err
	}
	defer o.tx.Rollback()

	seasonKey := keys.Season(seasonID)
	season, seasonAcct, err := load[domain.Season](ctx, e, o.tx, seasonKey, fmt.Sprintf("season %d", seasonID))
	if err != nil {
		return domain.SeasonEntry{}, err
	}
	if season.Status != domain.SeasonActive || o.unix() >= season.EndTime {
		return domain.SeasonEntry{}, errorf(ErrSeasonNotActive, "season %d is not open for entries", seasonID)
	}
	agent, _, err := load[domain.Agent](ctx, e, o.tx, keys.Agent(agentOwner), "agent of "+agentOwner)
	if err != nil {
		return domain.SeasonEntry{}, err
	}
	if err := forbidden(auth.RequireOwner(agent, payer)); err != nil {
		return domain.SeasonEntry{}, err
	}
	entry := domain.SeasonEntry{
		Key:       keys.SeasonEntry(seasonKey, agent.Key),
		SeasonID:  seasonID,
		Agent:     agent.Key,
		Payer:     payer,
		EnteredAt: o.unix(),
	}
	if _, err := e.create(ctx, o, entry.Key, domain.KindSeasonEntry, seasonKey, agent.Key, "", entry, ErrAlreadyExists); err != nil {
		return domain.SeasonEntry{}, err
	}
	if err := e.payFromWallet(ctx, o, payer, season.Vault, season.EntryFee); err != nil {
		return domain.SeasonEntry{}, err
	}
	season.TotalEntries++
	if season.TotalPool, err = addChecked(season.TotalPool, season.EntryFee, "season pool"); err != nil {
		return domain.SeasonEntry{}, err
	}
	if err := e.save(ctx, o, &seasonAcct, string(season.Status), season); err != nil {
		return domain.SeasonEntry{}, err
	}
	if err := e.appendEvent(ctx, o, "season.entered", domain.KindSeasonEntry, entry.Key, payer, events.EventPayload{
		"season_id":  seasonID,
		"agent":      agent.Key,
		"entry_fee":  season.EntryFee,
		"total_pool": season.TotalPool,
	}); err != nil {
		return domain.SeasonEntry{}, err
	}
	if err := o.tx.Commit(); err != nil {
		return domain.SeasonEntry{}, err
	}
	return entry, nil
}

// Payout is one transfer out of a season vault.
type Payout struct {
	Entry  string `json:"entry"`
	Agent  string `json:"agent"`
	Payer  string `json:"payer"`
	Score  uint64 `json:"score"`
	Amount uint64 `json:"amount"`
}

// Distribution reports a completed prize distribution.
type Distribution struct {
	Season       domain.Season `json:"season"`
	PrizePool    uint64        `json:"prize_pool"`
	Distributed  uint64        `json:"distributed"`
	TotalScore   uint64        `json:"total_score"`
	Payouts      []Payout      `json:"payouts"`
	VaultBalance uint64        `json:"vault_balance"`
}

// DistributePrizes splits totalPool*bps/10000 across entries in proportion
// to score and completes the season. Rounding dust stays in the vault.
func (e Engine) DistributePrizes(ctx context.Context, caller string, seasonID uint64) (Distribution, error) {
	o, err := e.begin(ctx)
	if err != nil {
		return Distribution{}, err
	}
	defer o.tx.Rollback()

	arena, _, err := e.loadArena(ctx, o.tx)
	if err != nil {
		return Distribution{}, err
	}
	if err := forbidden(auth.RequireAuthority(arena, caller)); err != nil {
		return Distribution{}, err
	}
	seasonKey := keys.Season(seasonID)
	season, seasonAcct, err := load[domain.Season](ctx, e, o.tx, seasonKey, fmt.Sprintf("season %d", seasonID))
	if err != nil {
		return Distribution{}, err
	}
	if o.unix() < season.EndTime {
		return Distribution{}, errorf(ErrSeasonNotEnded, "season %d ends at %d", seasonID, season.EndTime)
	}
	if err := ensureSeasonTransition(season.Status, domain.SeasonCompleted); err != nil {
		return Distribution{}, err
	}
	entries, err := e.seasonEntries(ctx, o.tx, seasonKey)
	if err != nil {
		return Distribution{}, err
	}
	dist := Distribution{PrizePool: scoring.MulDiv(season.TotalPool, uint64(season.PrizePoolBps), maxBps)}
	totalScore := new(uint256.Int)
	for _, ent := range entries {
		totalScore.Add(totalScore, uint256.NewInt(ent.entry.Score))
	}
	dist.TotalScore = scoring.Saturate(totalScore)
	if !totalScore.IsZero() {
		prize := uint256.NewInt(dist.PrizePool)
		for i := range entries {
			ent := &entries[i]
			if ent.entry.Score == 0 {
				continue
			}
			share := new(uint256.Int).Mul(prize, uint256.NewInt(ent.entry.Score))
			share.Div(share, totalScore)
			amount := share.Uint64()
			if err := e.payToWallet(ctx, o, season.Vault, ent.entry.Payer, amount, "season vault"); err != nil {
				return Distribution{}, err
			}
			ent.entry.Prize = amount
			if err := e.save(ctx, o, &ent.acct, "", ent.entry); err != nil {
				return Distribution{}, err
			}
			dist.Distributed += amount
			dist.Payouts = append(dist.Payouts, Payout{Entry: ent.entry.Key, Agent: ent.entry.Agent, Payer: ent.entry.Payer, Score: ent.entry.Score, Amount: amount})
		}
	}
	season.Status = domain.SeasonCompleted
	if err := e.save(ctx, o, &seasonAcct, string(season.Status), season); err != nil {
		return Distribution{}, err
	}
	if dist.VaultBalance, err = e.Repo.Balance(ctx, o.tx, season.Vault); err != nil {
		return Distribution{}, err
	}
	dist.Season = season
	if err := e.appendEvent(ctx, o, "prizes.distributed", domain.KindSeason, season.Key, caller, events.EventPayload{
		"season_id":     seasonID,
		"prize_pool":    dist.PrizePool,
		"distributed":   dist.Distributed,
		"winners":       len(dist.Payouts),
		"vault_balance": dist.VaultBalance,
	}); err != nil {
		return Distribution{}, err
	}
	if err := o.tx.Commit(); err != nil {
		return Distribution{}, err
	}
	return dist, nil
}

// Cancellation reports the refunds of a cancelled season.
type Cancellation struct {
	Season     domain.Season `json:"season"`
	Refunded   uint64        `json:"refunded"`
	Refunds    []Payout      `json:"refunds"`
	ToTreasury uint64        `json:"to_treasury"`
}

// CancelSeason refunds every entry fee to its payer and sweeps whatever
// else the vault holds into the treasury.
func (e Engine) CancelSeason(ctx context.Context, caller string, seasonID uint64) (Cancellation, error) {
	o, err := e.begin(ctx)
	if err != nil {
		return Cancellation{}, err
	}
	defer o.tx.Rollback()

	arena, _, err := e.loadArena(ctx, o.tx)
	if err != nil {
		return Cancellation{}, err
	}
	if err := forbidden(auth.RequireAuthority(arena, caller)); err != nil {
		return Cancellation{}, err
	}
	seasonKey := keys.Season(seasonID)
	season, seasonAcct, err := load[domain.Season](ctx, e, o.tx, seasonKey, fmt.Sprintf("season %d", seasonID))
	if err != nil {
		return Cancellation{}, err
	}
	if err := ensureSeasonTransition(season.Status, domain.SeasonCancelled); err != nil {
		return Cancellation{}, err
	}
	entries, err := e.seasonEntries(ctx, o.tx, seasonKey)
	if err != nil {
		return Cancellation{}, err
	}
	var res Cancellation
	for _, ent := range entries {
		if err := e.payToWallet(ctx, o, season.Vault, ent.entry.Payer, season.EntryFee, "season vault"); err != nil {
			return Cancellation{}, err
		}
		res.Refunded += season.EntryFee
		res.Refunds = append(res.Refunds, Payout{Entry: ent.entry.Key, Agent: ent.entry.Agent, Payer: ent.entry.Payer, Score: ent.entry.Score, Amount: season.EntryFee})
	}
	residue, err := e.Repo.Balance(ctx, o.tx, season.Vault)
	if err != nil {
		return Cancellation{}, err
	}
	if err := e.transfer(ctx, o, season.Vault, arena.Treasury, residue, "season vault"); err != nil {
		return Cancellation{}, err
	}
	res.ToTreasury = residue
	season.Status = domain.SeasonCancelled
	if err := e.save(ctx, o, &seasonAcct, string(season.Status), season); err != nil {
		return Cancellation{}, err
	}
	res.Season = season
	if err := e.appendEvent(ctx, o, "season.cancelled", domain.KindSeason, season.Key, caller, events.EventPayload{
		"season_id":   seasonID,
		"refunded":    res.Refunded,
		"entries":     len(res.Refunds),
		"to_treasury": residue,
	}); err != nil {
		return Cancellation{}, err
	}
	if err := o.tx.Commit(); err != nil {
		return Cancellation{}, err
	}
	return res, nil
}

type entryAccount struct {
	entry domain.SeasonEntry
	acct  repo.Account
}

func (e Engine) seasonEntries(ctx context.Context, tx repo.DBTX, seasonKey string) ([]entryAccount, error) {
	accts, err := e.Repo.ListAccounts(ctx, tx, repo.AccountFilter{Kind: domain.KindSeasonEntry, ScopeKey: seasonKey})
	if err != nil {
		return nil, err
	}
	res := make([]entryAccount, 0, len(accts))
	for _, a := range accts {
		ent, err := repo.Decode[domain.SeasonEntry](a)
		if err != nil {
			return nil, err
		}
		res = append(res, entryAccount{entry: ent, acct: a})
	}
	return res, nil
}
