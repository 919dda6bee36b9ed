// Package keeper runs the authority's periodic chores: settling seasons
// whose end time has passed and awarding achievements agents qualify for.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"signalwars/internal/domain"
	"signalwars/internal/engine"
	"signalwars/internal/scoring"
)

// Keeper manages the cron jobs acting as the arena authority.
type Keeper struct {
	Cron      *cron.Cron
	Engine    engine.Engine
	Authority string
	Ctx       context.Context
	Logger    *log.Logger
}

func New(ctx context.Context, e engine.Engine, authority string) *Keeper {
	return &Keeper{
		Cron:      cron.New(cron.WithSeconds()),
		Engine:    e,
		Authority: authority,
		Ctx:       ctx,
		Logger:    log.Default(),
	}
}

// RegisterAll schedules both jobs. An empty spec leaves that job off.
func (k *Keeper) RegisterAll(settleCron, achievementsCron string) error {
	if settleCron != "" {
		if _, err := k.Cron.AddFunc(settleCron, k.settleTask); err != nil {
			return fmt.Errorf("register settle task: %w", err)
		}
	}
	if achievementsCron != "" {
		if _, err := k.Cron.AddFunc(achievementsCron, k.achievementsTask); err != nil {
			return fmt.Errorf("register achievements task: %w", err)
		}
	}
	return nil
}

func (k *Keeper) now() time.Time {
	if k.Engine.Now != nil {
		return k.Engine.Now()
	}
	return time.Now()
}

// authority falls back to the arena authority when none is configured.
func (k *Keeper) authority(ctx context.Context) (string, error) {
	if k.Authority != "" {
		return k.Authority, nil
	}
	arena, err := k.Engine.GetArena(ctx)
	if err != nil {
		return "", err
	}
	return arena.Authority, nil
}

func (k *Keeper) Start() {
	k.Cron.Start()
	k.Logger.Println("[INFO] keeper started")
}

// Stop waits for running jobs to finish.
func (k *Keeper) Stop() {
	<-k.Cron.Stop().Done()
	k.Logger.Println("[INFO] keeper stopped")
}

func (k *Keeper) settleTask() {
	if _, err := k.SettleEndedSeasons(k.Ctx); err != nil {
		k.Logger.Printf("[ERROR] settle seasons: %v", err)
	}
}

func (k *Keeper) achievementsTask() {
	if _, err := k.AwardMilestones(k.Ctx); err != nil {
		k.Logger.Printf("[ERROR] award achievements: %v", err)
	}
}

// SettleEndedSeasons distributes prizes for every active season past its
// end time. One failing season does not stop the others.
func (k *Keeper) SettleEndedSeasons(ctx context.Context) ([]engine.Distribution, error) {
	seasons, err := k.Engine.ListSeasons(ctx, domain.SeasonActive)
	if err != nil {
		return nil, err
	}
	authority, err := k.authority(ctx)
	if err != nil {
		return nil, err
	}
	now := k.now().Unix()
	var (
		settled []engine.Distribution
		errs    []error
	)
	for _, s := range seasons {
		if now < s.EndTime {
			continue
		}
		dist, err := k.Engine.DistributePrizes(ctx, authority, s.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("season %d: %w", s.ID, err))
			continue
		}
		k.Logger.Printf("[INFO] season %d settled: %d of %d distributed to %d entries", s.ID, dist.Distributed, dist.PrizePool, len(dist.Payouts))
		settled = append(settled, dist)
	}
	return settled, errors.Join(errs...)
}

// AwardMilestones grants every achievement an agent's stats qualify for
// and it does not hold yet.
func (k *Keeper) AwardMilestones(ctx context.Context) ([]domain.Achievement, error) {
	authority, err := k.authority(ctx)
	if err != nil {
		return nil, err
	}
	agents, err := k.Engine.ListAgents(ctx, "")
	if err != nil {
		return nil, err
	}
	var (
		awarded []domain.Achievement
		errs    []error
	)
	for _, a := range agents {
		held, err := k.Engine.ListAchievements(ctx, a.Owner)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		have := make(map[domain.AchievementType]bool, len(held))
		for _, h := range held {
			have[h.AchievementType] = true
		}
		for _, t := range scoring.EligibleAchievements(a) {
			if have[t] {
				continue
			}
			ach, err := k.Engine.AwardAchievement(ctx, authority, a.Owner, t)
			if errors.Is(err, engine.ErrAlreadyExists) {
				continue
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("%s %s: %w", a.Name, t, err))
				continue
			}
			k.Logger.Printf("[INFO] %s awarded %s (+%d reputation)", a.Name, t, ach.ReputationDelta)
			awarded = append(awarded, ach)
		}
	}
	return awarded, errors.Join(errs...)
}
