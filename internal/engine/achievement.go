package engine

import (
	"context"

	"signalwars/internal/domain"
	"signalwars/internal/engine/auth"
	"signalwars/internal/events"
	"signalwars/internal/keys"
)

// AwardAchievement grants a badge once per agent and type. A repeat award
// fails with ErrAlreadyExists and leaves reputation untouched. Eligibility
// is the authority's judgement; see scoring.EligibleAchievements.
func (e Engine) AwardAchievement(ctx context.Context, caller, agentOwner string, t domain.AchievementType) (domain.Achievement, error) {
	if !t.Valid() {
		return domain.Achievement{}, errorf(ErrInvalidAchievement, "unknown achievement type %q", string(t))
	}
	o, err := e.begin(ctx)
	if err != nil {
		return domain.Achievement{}, err
	}
	defer o.tx.Rollback()

	arena, _, err := e.loadArena(ctx, o.tx)
	if err != nil {
		return domain.Achievement{}, err
	}
	if err := forbidden(auth.RequireAuthority(arena, caller)); err != nil {
		return domain.Achievement{}, err
	}
	agent, agentAcct, err := load[domain.Agent](ctx, e, o.tx, keys.Agent(agentOwner), "agent of "+agentOwner)
	if err != nil {
		return domain.Achievement{}, err
	}
	ach := domain.Achievement{
		Key:             keys.Achievement(agent.Key, t),
		Agent:           agent.Key,
		AchievementType: t,
		ReputationDelta: e.config().ReputationFor(t),
		AwardedAt:       o.unix(),
	}
	if _, err := e.create(ctx, o, ach.Key, domain.KindAchievement, "", agent.Key, string(t), ach, ErrAlreadyExists); err != nil {
		return domain.Achievement{}, err
	}
	if agent.ReputationScore, err = addChecked(agent.ReputationScore, ach.ReputationDelta, "reputation"); err != nil {
		return domain.Achievement{}, err
	}
	if err := e.save(ctx, o, &agentAcct, string(agent.Rank), agent); err != nil {
		return domain.Achievement{}, err
	}
	if err := e.appendEvent(ctx, o, "achievement.awarded", domain.KindAchievement, ach.Key, caller, events.EventPayload{
		"agent":            agent.Key,
		"achievement_type": t,
		"reputation_delta": ach.ReputationDelta,
		"reputation_score": agent.ReputationScore,
	}); err != nil {
		return domain.Achievement{}, err
	}
	if err := o.tx.Commit(); err != nil {
		return domain.Achievement{}, err
	}
	return ach, nil
}
