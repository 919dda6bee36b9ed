package domain

import (
	"encoding/hex"
	"fmt"
)

// Account kinds stored in the accounts table.
const (
	KindArena           = "arena"
	KindTreasury        = "treasury"
	KindAgent           = "agent"
	KindWallet          = "wallet"
	KindSeason          = "season"
	KindSeasonEntry     = "season_entry"
	KindSeasonVault     = "season_vault"
	KindPrediction      = "prediction"
	KindPredictionVault = "prediction_vault"
	KindAchievement     = "achievement"
)

type Arena struct {
	Key                string `json:"key"`
	Authority          string `json:"authority"`
	Treasury           string `json:"treasury"`
	TotalSeasons       uint64 `json:"total_seasons"`
	TotalAgents        uint64 `json:"total_agents"`
	TotalFeesCollected uint64 `json:"total_fees_collected"`
	TotalBurned        uint64 `json:"total_burned"`
	CreatedAt          int64  `json:"created_at"`
}

type Agent struct {
	Key                string `json:"key"`
	Owner              string `json:"owner"`
	Name               string `json:"name"`
	Endpoint           string `json:"endpoint"`
	TotalPredictions   uint64 `json:"total_predictions"`
	CorrectPredictions uint64 `json:"correct_predictions"`
	Streak             uint64 `json:"streak"`
	BestStreak         uint64 `json:"best_streak"`
	Rank               Rank   `json:"rank" enum:"bronze,silver,gold,diamond,legend"`
	ReputationScore    uint64 `json:"reputation_score"`
	TotalStaked        uint64 `json:"total_staked"`
	TotalWon           uint64 `json:"total_won"`
	JoinedAt           int64  `json:"joined_at"`
}

type Season struct {
	Key          string       `json:"key"`
	ID           uint64       `json:"id"`
	Authority    string       `json:"authority"`
	EntryFee     uint64       `json:"entry_fee"`
	StartTime    int64        `json:"start_time"`
	EndTime      int64        `json:"end_time"`
	PrizePoolBps uint16       `json:"prize_pool_bps"`
	TotalEntries uint64       `json:"total_entries"`
	TotalPool    uint64       `json:"total_pool"`
	Status       SeasonStatus `json:"status" enum:"active,completed,cancelled"`
	Vault        string       `json:"vault"`
}

type SeasonEntry struct {
	Key                string `json:"key"`
	SeasonID           uint64 `json:"season_id"`
	Agent              string `json:"agent"`
	Payer              string `json:"payer"`
	Score              uint64 `json:"score"`
	PredictionsMade    uint64 `json:"predictions_made"`
	PredictionsCorrect uint64 `json:"predictions_correct"`
	Prize              uint64 `json:"prize"`
	EnteredAt          int64  `json:"entered_at"`
}

type Prediction struct {
	Key            string           `json:"key"`
	Agent          string           `json:"agent"`
	SeasonID       uint64           `json:"season_id"`
	Sequence       uint64           `json:"sequence"`
	Payer          string           `json:"payer"`
	PredictionHash Hash             `json:"prediction_hash"`
	StakeAmount    uint64           `json:"stake_amount"`
	Status         PredictionStatus `json:"status" enum:"committed,revealed,resolved,expired"`
	PredictionData string           `json:"prediction_data,omitempty"`
	WasCorrect     *bool            `json:"was_correct,omitempty"`
	Payout         uint64           `json:"payout"`
	Vault          string           `json:"vault"`
	SubmittedAt    int64            `json:"submitted_at"`
	RevealedAt     int64            `json:"revealed_at,omitempty"`
	ResolvedAt     int64            `json:"resolved_at,omitempty"`
}

type Achievement struct {
	Key             string          `json:"key"`
	Agent           string          `json:"agent"`
	AchievementType AchievementType `json:"achievement_type"`
	ReputationDelta uint64          `json:"reputation_delta"`
	AwardedAt       int64           `json:"awarded_at"`
}

// Vault is a snapshot of a custodial account.
type Vault struct {
	Key     string `json:"key"`
	Kind    string `json:"kind"`
	Scope   string `json:"scope,omitempty"`
	Balance uint64 `json:"balance"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// Hash is a 32-byte commitment rendered as hex in JSON.
type Hash [32]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash decodes a 64 character hex string.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid hash: %w", err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("invalid hash: expected %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

// APIKey maps a hashed secret to the identity it authenticates.
type APIKey struct {
	ID        string `json:"id"`
	Identity  string `json:"identity"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
