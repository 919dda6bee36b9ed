package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"signalwars/internal/domain"
	"signalwars/internal/keys"
	"signalwars/internal/repo"
)

func (e Engine) GetArena(ctx context.Context) (domain.Arena, error) {
	arena, _, err := e.loadArena(ctx, nil)
	return arena, err
}

func (e Engine) GetAgent(ctx context.Context, owner string) (domain.Agent, error) {
	agent, _, err := load[domain.Agent](ctx, e, nil, keys.Agent(owner), "agent of "+owner)
	return agent, err
}

func (e Engine) GetSeason(ctx context.Context, id uint64) (domain.Season, error) {
	season, _, err := load[domain.Season](ctx, e, nil, keys.Season(id), fmt.Sprintf("season %d", id))
	return season, err
}

func (e Engine) GetPrediction(ctx context.Context, ref PredictionRef) (domain.Prediction, error) {
	pred, _, err := load[domain.Prediction](ctx, e, nil, ref.Key(), ref.String())
	return pred, err
}

func listDecoded[T any](ctx context.Context, e Engine, f repo.AccountFilter) ([]T, error) {
	accts, err := e.Repo.ListAccounts(ctx, nil, f)
	if err != nil {
		return nil, err
	}
	res := make([]T, 0, len(accts))
	for _, a := range accts {
		v, err := repo.Decode[T](a)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, nil
}

// ListAgents returns agents in registration order, optionally by rank.
func (e Engine) ListAgents(ctx context.Context, rank domain.Rank) ([]domain.Agent, error) {
	return listDecoded[domain.Agent](ctx, e, repo.AccountFilter{Kind: domain.KindAgent, Status: string(rank)})
}

func (e Engine) ListSeasons(ctx context.Context, status domain.SeasonStatus) ([]domain.Season, error) {
	seasons, err := listDecoded[domain.Season](ctx, e, repo.AccountFilter{Kind: domain.KindSeason, Status: string(status)})
	if err != nil {
		return nil, err
	}
	sort.Slice(seasons, func(i, j int) bool { return seasons[i].ID < seasons[j].ID })
	return seasons, nil
}

// Standings orders the entries of a season by score, then correct
// predictions, then agent key.
func (e Engine) Standings(ctx context.Context, seasonID uint64) ([]domain.SeasonEntry, error) {
	if _, err := e.GetSeason(ctx, seasonID); err != nil {
		return nil, err
	}
	entries, err := listDecoded[domain.SeasonEntry](ctx, e, repo.AccountFilter{Kind: domain.KindSeasonEntry, ScopeKey: keys.Season(seasonID)})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.PredictionsCorrect != b.PredictionsCorrect {
			return a.PredictionsCorrect > b.PredictionsCorrect
		}
		return a.Agent < b.Agent
	})
	return entries, nil
}

// PredictionFilter narrows ListPredictions. Zero values are ignored.
type PredictionFilter struct {
	Owner    string
	SeasonID *uint64
	Status   domain.PredictionStatus
}

func (e Engine) ListPredictions(ctx context.Context, f PredictionFilter) ([]domain.Prediction, error) {
	af := repo.AccountFilter{Kind: domain.KindPrediction, Status: string(f.Status)}
	if f.Owner != "" {
		af.OwnerKey = keys.Agent(f.Owner)
	}
	if f.SeasonID != nil {
		af.ScopeKey = keys.Season(*f.SeasonID)
	}
	return listDecoded[domain.Prediction](ctx, e, af)
}

func (e Engine) ListAchievements(ctx context.Context, owner string) ([]domain.Achievement, error) {
	af := repo.AccountFilter{Kind: domain.KindAchievement}
	if owner != "" {
		af.OwnerKey = keys.Agent(owner)
	}
	return listDecoded[domain.Achievement](ctx, e, af)
}

// WalletBalance is zero for an owner that never held funds.
func (e Engine) WalletBalance(ctx context.Context, owner string) (uint64, error) {
	balance, err := e.Repo.Balance(ctx, nil, keys.Wallet(owner))
	if errors.Is(err, repo.ErrNotFound) {
		return 0, nil
	}
	return balance, err
}

func (e Engine) TreasuryBalance(ctx context.Context) (uint64, error) {
	balance, err := e.Repo.Balance(ctx, nil, keys.Treasury())
	if errors.Is(err, repo.ErrNotFound) {
		return 0, ErrNotInitialized
	}
	return balance, err
}

// Vault returns a balance snapshot of any custodial account.
func (e Engine) Vault(ctx context.Context, key string) (domain.Vault, error) {
	acct, err := e.Repo.GetAccount(ctx, nil, key)
	if err != nil {
		return domain.Vault{}, storeErr(err, "vault "+key)
	}
	switch acct.Kind {
	case domain.KindTreasury, domain.KindWallet, domain.KindSeasonVault, domain.KindPredictionVault:
	default:
		return domain.Vault{}, errorf(ErrNotFound, "%s is a %s, not a vault", key, acct.Kind)
	}
	return domain.Vault{Key: acct.Key, Kind: acct.Kind, Scope: acct.ScopeKey, Balance: acct.Balance}, nil
}
