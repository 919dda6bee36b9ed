package server

import (
	"signalwars/internal/domain"
	"signalwars/internal/engine"
)

// Request payloads

type RegisterAgentRequest struct {
	Name     string `json:"name" minLength:"1"`
	Endpoint string `json:"endpoint,omitempty"`
}

type AmountRequest struct {
	Amount uint64 `json:"amount" minimum:"1"`
}

type CreateSeasonRequest struct {
	EntryFee     uint64 `json:"entry_fee"`
	DurationDays uint64 `json:"duration_days"`
	PrizePoolBps uint16 `json:"prize_pool_bps" maximum:"10000"`
}

type EnterSeasonRequest struct {
	AgentOwner string `json:"agent_owner,omitempty" doc:"Owner of the agent to enter; defaults to the caller and must match it"`
}

type SubmitPredictionRequest struct {
	PredictionHash string `json:"prediction_hash" doc:"Hex SHA-256 of the canonical plaintext" pattern:"^[0-9a-fA-F]{64}$"`
	StakeAmount    uint64 `json:"stake_amount"`
}

type RevealPredictionRequest struct {
	Plaintext string `json:"plaintext" doc:"Exact committed plaintext bytes"`
}

type ResolvePredictionRequest struct {
	WasCorrect bool `json:"was_correct"`
}

type AwardAchievementRequest struct {
	AgentOwner      string                 `json:"agent_owner" minLength:"1"`
	AchievementType domain.AchievementType `json:"achievement_type" enum:"first_win,streak_3,streak_5,streak_10,rank_silver,rank_gold,rank_diamond,rank_legend"`
}

type TxRequest struct {
	Instruction string `json:"instruction" doc:"Base64 encoded wire instruction"`
}

type DevLoginRequest struct {
	Identity string `json:"identity" minLength:"1"`
}

// Responses

type PredictionResponse struct {
	Key            string                  `json:"key"`
	Agent          string                  `json:"agent"`
	SeasonID       uint64                  `json:"season_id"`
	Sequence       uint64                  `json:"sequence"`
	Payer          string                  `json:"payer"`
	PredictionHash string                  `json:"prediction_hash"`
	StakeAmount    uint64                  `json:"stake_amount"`
	Status         domain.PredictionStatus `json:"status" enum:"committed,revealed,resolved,expired"`
	PredictionData string                  `json:"prediction_data,omitempty"`
	WasCorrect     *bool                   `json:"was_correct,omitempty"`
	Payout         uint64                  `json:"payout"`
	Vault          string                  `json:"vault"`
	SubmittedAt    int64                   `json:"submitted_at"`
	RevealedAt     int64                   `json:"revealed_at,omitempty"`
	ResolvedAt     int64                   `json:"resolved_at,omitempty"`
}

type ResolutionResponse struct {
	Prediction    PredictionResponse `json:"prediction"`
	Agent         domain.Agent       `json:"agent"`
	Entry         domain.SeasonEntry `json:"entry"`
	ScoreEarned   uint64             `json:"score_earned"`
	VaultReleased uint64             `json:"vault_released"`
	Bonus         uint64             `json:"bonus"`
	Forfeited     uint64             `json:"forfeited"`
	ForfeitTo     string             `json:"forfeit_to,omitempty"`
}

type BalanceResponse struct {
	Owner   string `json:"owner,omitempty"`
	Balance uint64 `json:"balance"`
}

type TxResponse struct {
	Opcode string `json:"opcode"`
	Result any    `json:"result"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type WhoAmIResponse struct {
	Identity     string   `json:"identity"`
	Source       string   `json:"source"`
	Capabilities []string `json:"capabilities"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Mapping helpers

func predictionResponse(p domain.Prediction) PredictionResponse {
	return PredictionResponse{
		Key:            p.Key,
		Agent:          p.Agent,
		SeasonID:       p.SeasonID,
		Sequence:       p.Sequence,
		Payer:          p.Payer,
		PredictionHash: p.PredictionHash.String(),
		StakeAmount:    p.StakeAmount,
		Status:         p.Status,
		PredictionData: p.PredictionData,
		WasCorrect:     p.WasCorrect,
		Payout:         p.Payout,
		Vault:          p.Vault,
		SubmittedAt:    p.SubmittedAt,
		RevealedAt:     p.RevealedAt,
		ResolvedAt:     p.ResolvedAt,
	}
}

func mapPredictions(items []domain.Prediction) []PredictionResponse {
	res := make([]PredictionResponse, 0, len(items))
	for _, p := range items {
		res = append(res, predictionResponse(p))
	}
	return res
}

func resolutionResponse(r engine.Resolution) ResolutionResponse {
	return ResolutionResponse{
		Prediction:    predictionResponse(r.Prediction),
		Agent:         r.Agent,
		Entry:         r.Entry,
		ScoreEarned:   r.ScoreEarned,
		VaultReleased: r.VaultReleased,
		Bonus:         r.Bonus,
		Forfeited:     r.Forfeited,
		ForfeitTo:     r.ForfeitTo,
	}
}

// txResult swaps engine results carrying raw hashes for their response form.
func txResult(v any) any {
	switch r := v.(type) {
	case domain.Prediction:
		return predictionResponse(r)
	case engine.Resolution:
		return resolutionResponse(r)
	}
	return v
}

func eventResponse(evt domain.Event) EventResponse {
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    evt.Payload,
	}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
