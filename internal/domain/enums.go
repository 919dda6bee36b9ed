package domain

import "fmt"

type Rank string

const (
	RankBronze  Rank = "bronze"
	RankSilver  Rank = "silver"
	RankGold    Rank = "gold"
	RankDiamond Rank = "diamond"
	RankLegend  Rank = "legend"
)

// Level orders ranks from Bronze (0) to Legend (4); unknown ranks are -1.
func (r Rank) Level() int {
	switch r {
	case RankBronze:
		return 0
	case RankSilver:
		return 1
	case RankGold:
		return 2
	case RankDiamond:
		return 3
	case RankLegend:
		return 4
	}
	return -1
}

type SeasonStatus string

const (
	SeasonActive    SeasonStatus = "active"
	SeasonCompleted SeasonStatus = "completed"
	SeasonCancelled SeasonStatus = "cancelled"
)

type PredictionStatus string

const (
	PredictionCommitted PredictionStatus = "committed"
	PredictionRevealed  PredictionStatus = "revealed"
	PredictionResolved  PredictionStatus = "resolved"
	PredictionExpired   PredictionStatus = "expired"
)

type AchievementType string

const (
	AchievementFirstWin    AchievementType = "first_win"
	AchievementStreak3     AchievementType = "streak_3"
	AchievementStreak5     AchievementType = "streak_5"
	AchievementStreak10    AchievementType = "streak_10"
	AchievementRankSilver  AchievementType = "rank_silver"
	AchievementRankGold    AchievementType = "rank_gold"
	AchievementRankDiamond AchievementType = "rank_diamond"
	AchievementRankLegend  AchievementType = "rank_legend"
)

// AchievementTypes lists every type in wire-code order.
var AchievementTypes = []AchievementType{
	AchievementFirstWin,
	AchievementStreak3,
	AchievementStreak5,
	AchievementStreak10,
	AchievementRankSilver,
	AchievementRankGold,
	AchievementRankDiamond,
	AchievementRankLegend,
}

// Code returns the single-byte wire code of the type.
func (t AchievementType) Code() (uint8, error) {
	for i, at := range AchievementTypes {
		if at == t {
			return uint8(i), nil
		}
	}
	return 0, fmt.Errorf("unknown achievement type %q", string(t))
}

func (t AchievementType) Valid() bool {
	_, err := t.Code()
	return err == nil
}

// AchievementTypeFromCode maps a wire code back to its type.
func AchievementTypeFromCode(code uint8) (AchievementType, error) {
	if int(code) >= len(AchievementTypes) {
		return "", fmt.Errorf("unknown achievement code %d", code)
	}
	return AchievementTypes[code], nil
}
