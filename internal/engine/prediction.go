package engine

import (
	"context"
	"fmt"
	"unicode/utf8"

	"signalwars/internal/commitment"
	"signalwars/internal/config"
	"signalwars/internal/domain"
	"signalwars/internal/engine/auth"
	"signalwars/internal/events"
	"signalwars/internal/keys"
	"signalwars/internal/repo"
	"signalwars/internal/scoring"
)

// PredictionRef addresses a prediction by its derivation seeds.
type PredictionRef struct {
	Owner    string `json:"owner"`
	SeasonID uint64 `json:"season_id"`
	Sequence uint64 `json:"sequence"`
}

func (r PredictionRef) Key() string {
	return keys.Prediction(keys.Agent(r.Owner), keys.Season(r.SeasonID), r.Sequence)
}

func (r PredictionRef) String() string {
	return fmt.Sprintf("prediction %s/%d/%d", r.Owner, r.SeasonID, r.Sequence)
}

// ensurePredictionTransition allows only the forward steps
// committed -> revealed -> resolved and committed -> expired.
func ensurePredictionTransition(from, to domain.PredictionStatus) error {
	switch {
	case from == domain.PredictionCommitted && to == domain.PredictionRevealed:
		return nil
	case from == domain.PredictionRevealed && to == domain.PredictionResolved:
		return nil
	case from == domain.PredictionCommitted && to == domain.PredictionExpired:
		return nil
	}
	return errorf(ErrInvalidPredictionStatus, "prediction is %s, cannot become %s", from, to)
}

// SubmitPrediction commits the caller's agent to a hashed prediction and
// escrows the stake. The sequence is the agent's resolved count, so only one
// prediction per agent may be unresolved at a time.
func (e Engine) SubmitPrediction(ctx context.Context, caller string, seasonID uint64, hash domain.Hash, stake uint64) (domain.Prediction, error) {
	if err := checkAmount(stake, "stake"); err != nil {
		return domain.Prediction{}, err
	}
	o, err := e.begin(ctx)
	if err != nil {
		return domain.Prediction{}, err
	}
	defer o.tx.Rollback()

	seasonKey := keys.Season(seasonID)
	season, _, err := load[domain.Season](ctx, e, o.tx, seasonKey, fmt.Sprintf("season %d", seasonID))
	if err != nil {
		return domain.Prediction{}, err
	}
	if season.Status != domain.SeasonActive {
		return domain.Prediction{}, errorf(ErrSeasonNotActive, "season %d is %s", seasonID, season.Status)
	}
	agent, _, err := load[domain.Agent](ctx, e, o.tx, keys.Agent(caller), "agent of "+caller)
	if err != nil {
		return domain.Prediction{}, err
	}
	if err := forbidden(auth.RequireOwner(agent, caller)); err != nil {
		return domain.Prediction{}, err
	}
	entered, err := e.Repo.Exists(ctx, o.tx, keys.SeasonEntry(seasonKey, agent.Key))
	if err != nil {
		return domain.Prediction{}, err
	}
	if !entered {
		return domain.Prediction{}, errorf(ErrNotEntered, "agent %s has not entered season %d", agent.Name, seasonID)
	}
	open, err := e.Repo.ListAccounts(ctx, o.tx, repo.AccountFilter{
		Kind:      domain.KindPrediction,
		OwnerKey:  agent.Key,
		NotStatus: []string{string(domain.PredictionResolved), string(domain.PredictionExpired)},
		Limit:     1,
	})
	if err != nil {
		return domain.Prediction{}, err
	}
	if len(open) > 0 {
		return domain.Prediction{}, errorf(ErrPredictionInFlight, "agent %s must resolve or expire %s first", agent.Name, open[0].Key)
	}
	pred := domain.Prediction{
		Agent:          agent.Key,
		SeasonID:       seasonID,
		Sequence:       agent.TotalPredictions,
		Payer:          caller,
		PredictionHash: hash,
		StakeAmount:    stake,
		Status:         domain.PredictionCommitted,
		SubmittedAt:    o.unix(),
	}
	pred.Key = keys.Prediction(agent.Key, seasonKey, pred.Sequence)
	pred.Vault = keys.PredictionVault(pred.Key)
	if _, err := e.create(ctx, o, pred.Key, domain.KindPrediction, seasonKey, agent.Key, string(pred.Status), pred, ErrAlreadyExists); err != nil {
		return domain.Prediction{}, err
	}
	vault := domain.Vault{Key: pred.Vault, Kind: domain.KindPredictionVault, Scope: pred.Key}
	if _, err := e.create(ctx, o, vault.Key, domain.KindPredictionVault, pred.Key, agent.Key, "", vault, ErrAlreadyExists); err != nil {
		return domain.Prediction{}, err
	}
	if err := e.payFromWallet(ctx, o, caller, pred.Vault, stake); err != nil {
		return domain.Prediction{}, err
	}
	if err := e.appendEvent(ctx, o, "prediction.submitted", domain.KindPrediction, pred.Key, caller, events.EventPayload{
		"season_id":       seasonID,
		"sequence":        pred.Sequence,
		"prediction_hash": pred.PredictionHash.String(),
		"stake_amount":    stake,
	}); err != nil {
		return domain.Prediction{}, err
	}
	if err := o.tx.Commit(); err != nil {
		return domain.Prediction{}, err
	}
	return pred, nil
}

// RevealPrediction stores the plaintext if it hashes to the commitment.
func (e Engine) RevealPrediction(ctx context.Context, caller string, ref PredictionRef, plaintext []byte) (domain.Prediction, error) {
	if caller != ref.Owner {
		return domain.Prediction{}, forbidden(auth.ForbiddenError{Capability: auth.CapAgentOwner, Actor: caller})
	}
	o, err := e.begin(ctx)
	if err != nil {
		return domain.Prediction{}, err
	}
	defer o.tx.Rollback()

	pred, predAcct, err := load[domain.Prediction](ctx, e, o.tx, ref.Key(), ref.String())
	if err != nil {
		return domain.Prediction{}, err
	}
	if err := ensurePredictionTransition(pred.Status, domain.PredictionRevealed); err != nil {
		return domain.Prediction{}, err
	}
	if limit := e.config().Limits.PlaintextMax; len(plaintext) > limit {
		return domain.Prediction{}, errorf(ErrPlaintextTooLong, "plaintext is %d bytes, limit %d", len(plaintext), limit)
	}
	if !commitment.Verify(plaintext, pred.PredictionHash) {
		return domain.Prediction{}, errorf(ErrHashMismatch, "%s: plaintext hashes to %s, committed %s", ref, commitment.Hash(plaintext), pred.PredictionHash)
	}
	if !utf8.Valid(plaintext) {
		return domain.Prediction{}, ErrInvalidPlaintext
	}
	pred.Status = domain.PredictionRevealed
	pred.PredictionData = string(plaintext)
	pred.RevealedAt = o.unix()
	if err := e.save(ctx, o, &predAcct, string(pred.Status), pred); err != nil {
		return domain.Prediction{}, err
	}
	if err := e.appendEvent(ctx, o, "prediction.revealed", domain.KindPrediction, pred.Key, caller, events.EventPayload{
		"season_id": pred.SeasonID,
		"sequence":  pred.Sequence,
		"bytes":     len(plaintext),
	}); err != nil {
		return domain.Prediction{}, err
	}
	if err := o.tx.Commit(); err != nil {
		return domain.Prediction{}, err
	}
	return pred, nil
}

// Resolution reports the settled effects of one resolved prediction.
type Resolution struct {
	Prediction    domain.Prediction  `json:"prediction"`
	Agent         domain.Agent       `json:"agent"`
	Entry         domain.SeasonEntry `json:"entry"`
	ScoreEarned   uint64             `json:"score_earned"`
	VaultReleased uint64             `json:"vault_released"`
	Bonus         uint64             `json:"bonus"`
	Forfeited     uint64             `json:"forfeited"`
	ForfeitTo     string             `json:"forfeit_to,omitempty"`
}

// ResolvePrediction judges a revealed prediction. A win returns the stake
// from the vault plus an equal bonus from the treasury; a loss forfeits the
// stake to the configured destination. Stats, streak, rank and season score
// update in the same transaction.
func (e Engine) ResolvePrediction(ctx context.Context, caller string, ref PredictionRef, wasCorrect bool) (Resolution, error) {
	o, err := e.begin(ctx)
	if err != nil {
		return Resolution{}, err
	}
	defer o.tx.Rollback()

	arena, arenaAcct, err := e.loadArena(ctx, o.tx)
	if err != nil {
		return Resolution{}, err
	}
	if err := forbidden(auth.RequireAuthority(arena, caller)); err != nil {
		return Resolution{}, err
	}
	pred, predAcct, err := load[domain.Prediction](ctx, e, o.tx, ref.Key(), ref.String())
	if err != nil {
		return Resolution{}, err
	}
	if err := ensurePredictionTransition(pred.Status, domain.PredictionResolved); err != nil {
		return Resolution{}, err
	}
	agent, agentAcct, err := load[domain.Agent](ctx, e, o.tx, pred.Agent, "agent of "+ref.Owner)
	if err != nil {
		return Resolution{}, err
	}
	seasonKey := keys.Season(pred.SeasonID)
	entry, entryAcct, err := load[domain.SeasonEntry](ctx, e, o.tx, keys.SeasonEntry(seasonKey, agent.Key), "season entry")
	if err != nil {
		return Resolution{}, err
	}

	res := Resolution{}
	stake := pred.StakeAmount
	arenaDirty := false
	if wasCorrect {
		agent = scoring.Apply(agent, scoring.Outcome{Correct: true, Staked: stake, Won: 2 * stake})
		res.ScoreEarned = e.scoring().Score(stake, agent.Streak)
		if entry.Score, err = addChecked(entry.Score, res.ScoreEarned, "season score"); err != nil {
			return Resolution{}, err
		}
		entry.PredictionsCorrect++
		if err := e.payToWallet(ctx, o, pred.Vault, pred.Payer, stake, "prediction vault"); err != nil {
			return Resolution{}, err
		}
		if err := e.payToWallet(ctx, o, arena.Treasury, pred.Payer, stake, "treasury"); err != nil {
			return Resolution{}, err
		}
		res.VaultReleased = stake
		res.Bonus = stake
		pred.Payout = 2 * stake
	} else {
		agent = scoring.Apply(agent, scoring.Outcome{Correct: false, Staked: stake})
		res.Forfeited = stake
		res.ForfeitTo, err = e.forfeit(ctx, o, &arena, pred, stake)
		if err != nil {
			return Resolution{}, err
		}
		res.VaultReleased = stake
		arenaDirty = stake > 0 && res.ForfeitTo != config.ForfeitSeasonPool
	}
	entry.PredictionsMade++

	correct := wasCorrect
	pred.WasCorrect = &correct
	pred.Status = domain.PredictionResolved
	pred.ResolvedAt = o.unix()
	if err := e.save(ctx, o, &predAcct, string(pred.Status), pred); err != nil {
		return Resolution{}, err
	}
	if err := e.save(ctx, o, &agentAcct, string(agent.Rank), agent); err != nil {
		return Resolution{}, err
	}
	if err := e.save(ctx, o, &entryAcct, "", entry); err != nil {
		return Resolution{}, err
	}
	if arenaDirty {
		if err := e.save(ctx, o, &arenaAcct, "", arena); err != nil {
			return Resolution{}, err
		}
	}
	if err := e.appendEvent(ctx, o, "prediction.resolved", domain.KindPrediction, pred.Key, caller, events.EventPayload{
		"agent":        agent.Key,
		"was_correct":  wasCorrect,
		"score_earned": res.ScoreEarned,
		"payout":       pred.Payout,
		"forfeited":    res.Forfeited,
		"forfeit_to":   res.ForfeitTo,
		"streak":       agent.Streak,
		"rank":         agent.Rank,
	}); err != nil {
		return Resolution{}, err
	}
	if err := o.tx.Commit(); err != nil {
		return Resolution{}, err
	}
	res.Prediction = pred
	res.Agent = agent
	res.Entry = entry
	return res, nil
}

// ExpirePrediction settles a commitment that was never revealed once its
// season is over. The stake is forfeited as on a loss and the agent's stats
// count a miss, which frees the agent to commit again.
func (e Engine) ExpirePrediction(ctx context.Context, caller string, ref PredictionRef) (Resolution, error) {
	o, err := e.begin(ctx)
	if err != nil {
		return Resolution{}, err
	}
	defer o.tx.Rollback()

	arena, arenaAcct, err := e.loadArena(ctx, o.tx)
	if err != nil {
		return Resolution{}, err
	}
	if err := forbidden(auth.RequireAuthority(arena, caller)); err != nil {
		return Resolution{}, err
	}
	pred, predAcct, err := load[domain.Prediction](ctx, e, o.tx, ref.Key(), ref.String())
	if err != nil {
		return Resolution{}, err
	}
	if err := ensurePredictionTransition(pred.Status, domain.PredictionExpired); err != nil {
		return Resolution{}, err
	}
	seasonKey := keys.Season(pred.SeasonID)
	season, _, err := load[domain.Season](ctx, e, o.tx, seasonKey, fmt.Sprintf("season %d", pred.SeasonID))
	if err != nil {
		return Resolution{}, err
	}
	if season.Status == domain.SeasonActive && o.unix() < season.EndTime {
		return Resolution{}, errorf(ErrSeasonNotEnded, "season %d ends at %d", season.ID, season.EndTime)
	}
	agent, agentAcct, err := load[domain.Agent](ctx, e, o.tx, pred.Agent, "agent of "+ref.Owner)
	if err != nil {
		return Resolution{}, err
	}
	entry, entryAcct, err := load[domain.SeasonEntry](ctx, e, o.tx, keys.SeasonEntry(seasonKey, agent.Key), "season entry")
	if err != nil {
		return Resolution{}, err
	}

	stake := pred.StakeAmount
	res := Resolution{Forfeited: stake, VaultReleased: stake}
	agent = scoring.Apply(agent, scoring.Outcome{Correct: false, Staked: stake})
	if res.ForfeitTo, err = e.forfeit(ctx, o, &arena, pred, stake); err != nil {
		return Resolution{}, err
	}
	entry.PredictionsMade++

	pred.Status = domain.PredictionExpired
	pred.ResolvedAt = o.unix()
	if err := e.save(ctx, o, &predAcct, string(pred.Status), pred); err != nil {
		return Resolution{}, err
	}
	if err := e.save(ctx, o, &agentAcct, string(agent.Rank), agent); err != nil {
		return Resolution{}, err
	}
	if err := e.save(ctx, o, &entryAcct, "", entry); err != nil {
		return Resolution{}, err
	}
	if stake > 0 && res.ForfeitTo != config.ForfeitSeasonPool {
		if err := e.save(ctx, o, &arenaAcct, "", arena); err != nil {
			return Resolution{}, err
		}
	}
	if err := e.appendEvent(ctx, o, "prediction.expired", domain.KindPrediction, pred.Key, caller, events.EventPayload{
		"agent":      agent.Key,
		"season_id":  pred.SeasonID,
		"sequence":   pred.Sequence,
		"forfeited":  stake,
		"forfeit_to": res.ForfeitTo,
	}); err != nil {
		return Resolution{}, err
	}
	if err := o.tx.Commit(); err != nil {
		return Resolution{}, err
	}
	res.Prediction = pred
	res.Agent = agent
	res.Entry = entry
	return res, nil
}

// forfeit empties the prediction vault into the configured destination and
// returns where the stake went. The season pool only accepts forfeits while
// its season is active; otherwise they fall back to the treasury.
func (e Engine) forfeit(ctx context.Context, o op, arena *domain.Arena, pred domain.Prediction, stake uint64) (string, error) {
	dest := e.config().Ledger.ForfeitTo
	if dest == config.ForfeitSeasonPool {
		seasonKey := keys.Season(pred.SeasonID)
		season, seasonAcct, err := load[domain.Season](ctx, e, o.tx, seasonKey, fmt.Sprintf("season %d", pred.SeasonID))
		if err != nil {
			return "", err
		}
		if season.Status == domain.SeasonActive {
			if err := e.transfer(ctx, o, pred.Vault, season.Vault, stake, "prediction vault"); err != nil {
				return "", err
			}
			if season.TotalPool, err = addChecked(season.TotalPool, stake, "season pool"); err != nil {
				return "", err
			}
			if err := e.save(ctx, o, &seasonAcct, string(season.Status), season); err != nil {
				return "", err
			}
			return config.ForfeitSeasonPool, nil
		}
		dest = config.ForfeitTreasury
	}
	switch dest {
	case config.ForfeitBurn:
		if err := storeErr(e.Repo.Debit(ctx, o.tx, pred.Vault, stake), "prediction vault"); err != nil {
			return "", err
		}
		arena.TotalBurned += stake
		return config.ForfeitBurn, nil
	default:
		if err := e.transfer(ctx, o, pred.Vault, arena.Treasury, stake, "prediction vault"); err != nil {
			return "", err
		}
		arena.TotalFeesCollected += stake
		return config.ForfeitTreasury, nil
	}
}
