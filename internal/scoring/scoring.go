// Package scoring holds the pure arithmetic of the arena: streak
// multipliers, season score, lifetime accuracy and rank tiers.
package scoring

import (
	"github.com/holiman/uint256"

	"signalwars/internal/domain"
)

// Params sets the streak multiplier curve in percent.
type Params struct {
	Base uint64
	Step uint64
}

// Default is 100% for the first win of a streak plus 10% per further win.
var Default = Params{Base: 100, Step: 10}

// Multiplier returns the percent multiplier for a win that brought the
// streak to streak. A zero streak scores at the base rate.
func (p Params) Multiplier(streak uint64) uint64 {
	if streak <= 1 {
		return p.Base
	}
	return p.Base + p.Step*(streak-1)
}

// Score is the season score earned by a correct resolution of stake.
func (p Params) Score(stake, streak uint64) uint64 {
	return MulDiv(stake, p.Multiplier(streak), 100)
}

func StreakMultiplier(streak uint64) uint64 { return Default.Multiplier(streak) }

func Score(stake, streak uint64) uint64 { return Default.Score(stake, streak) }

// MulDiv computes floor(a*b/c) without intermediate overflow. The result
// saturates at the maximum uint64.
func MulDiv(a, b, c uint64) uint64 {
	if c == 0 {
		return 0
	}
	x := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	x.Div(x, uint256.NewInt(c))
	return Saturate(x)
}

// Saturate narrows x to uint64, clamping at the maximum.
func Saturate(x *uint256.Int) uint64 {
	if !x.IsUint64() {
		return ^uint64(0)
	}
	return x.Uint64()
}

// Accuracy is the integer percentage of correct predictions.
func Accuracy(correct, total uint64) uint64 {
	if total == 0 {
		return 0
	}
	return MulDiv(correct, 100, total)
}

// RankFor evaluates tiers from Legend down; the first match wins.
func RankFor(total, correct, bestStreak uint64) domain.Rank {
	if total == 0 {
		return domain.RankBronze
	}
	acc := Accuracy(correct, total)
	switch {
	case acc >= 80 && correct >= 50:
		return domain.RankLegend
	case acc >= 70 && bestStreak >= 10:
		return domain.RankDiamond
	case acc >= 60 && bestStreak >= 5:
		return domain.RankGold
	case acc >= 50 && bestStreak >= 3:
		return domain.RankSilver
	}
	return domain.RankBronze
}

// Outcome is one resolution applied to an agent's lifetime stats.
type Outcome struct {
	Correct bool
	Staked  uint64
	Won     uint64
}

// Apply updates lifetime counters, streaks and rank for one resolution.
func Apply(a domain.Agent, o Outcome) domain.Agent {
	a.TotalPredictions++
	a.TotalStaked += o.Staked
	a.TotalWon += o.Won
	if o.Correct {
		a.CorrectPredictions++
		a.Streak++
		if a.Streak > a.BestStreak {
			a.BestStreak = a.Streak
		}
	} else {
		a.Streak = 0
	}
	a.Rank = RankFor(a.TotalPredictions, a.CorrectPredictions, a.BestStreak)
	return a
}

// EligibleAchievements lists the types an agent's stats qualify for, in
// wire-code order. Holding an achievement already is not considered.
func EligibleAchievements(a domain.Agent) []domain.AchievementType {
	var res []domain.AchievementType
	if a.CorrectPredictions >= 1 {
		res = append(res, domain.AchievementFirstWin)
	}
	for _, s := range []struct {
		min uint64
		t   domain.AchievementType
	}{
		{3, domain.AchievementStreak3},
		{5, domain.AchievementStreak5},
		{10, domain.AchievementStreak10},
	} {
		if a.BestStreak >= s.min {
			res = append(res, s.t)
		}
	}
	level := a.Rank.Level()
	for _, r := range []struct {
		rank domain.Rank
		t    domain.AchievementType
	}{
		{domain.RankSilver, domain.AchievementRankSilver},
		{domain.RankGold, domain.AchievementRankGold},
		{domain.RankDiamond, domain.AchievementRankDiamond},
		{domain.RankLegend, domain.AchievementRankLegend},
	} {
		if level >= r.rank.Level() {
			res = append(res, r.t)
		}
	}
	return res
}
