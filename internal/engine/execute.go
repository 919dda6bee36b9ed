package engine

import (
	"context"
	"fmt"

	"signalwars/internal/wire"
)

// Execute applies one decoded wire instruction on behalf of caller and
// returns the operation's result.
func (e Engine) Execute(ctx context.Context, caller string, in wire.Instruction) (any, error) {
	switch v := in.(type) {
	case wire.InitializeArena:
		return e.InitializeArena(ctx, caller)
	case wire.RegisterAgent:
		return e.RegisterAgent(ctx, caller, v.Name, v.Endpoint)
	case wire.CreateSeason:
		return e.CreateSeason(ctx, caller, v.EntryFee, v.DurationDays, v.PrizePoolBps)
	case wire.EnterSeason:
		owner := v.AgentOwner
		if owner == "" {
			owner = caller
		}
		return e.EnterSeason(ctx, caller, v.SeasonID, owner)
	case wire.SubmitPrediction:
		return e.SubmitPrediction(ctx, caller, v.SeasonID, v.PredictionHash, v.StakeAmount)
	case wire.RevealPrediction:
		return e.RevealPrediction(ctx, caller, PredictionRef{Owner: v.AgentOwner, SeasonID: v.SeasonID, Sequence: v.Sequence}, v.Plaintext)
	case wire.ResolvePrediction:
		return e.ResolvePrediction(ctx, caller, PredictionRef{Owner: v.AgentOwner, SeasonID: v.SeasonID, Sequence: v.Sequence}, v.WasCorrect)
	case wire.ExpirePrediction:
		return e.ExpirePrediction(ctx, caller, PredictionRef{Owner: v.AgentOwner, SeasonID: v.SeasonID, Sequence: v.Sequence})
	case wire.AwardAchievement:
		return e.AwardAchievement(ctx, caller, v.AgentOwner, v.AchievementType)
	case wire.DistributePrizes:
		return e.DistributePrizes(ctx, caller, v.SeasonID)
	case wire.CancelSeason:
		return e.CancelSeason(ctx, caller, v.SeasonID)
	case wire.WithdrawTreasury:
		remaining, err := e.WithdrawTreasury(ctx, caller, v.Amount)
		return BalanceResult{Balance: remaining}, err
	case wire.FundTreasury:
		balance, err := e.FundTreasury(ctx, caller, v.Amount)
		return BalanceResult{Balance: balance}, err
	case wire.Deposit:
		balance, err := e.Deposit(ctx, caller, v.Owner, v.Amount)
		return BalanceResult{Balance: balance}, err
	}
	return nil, fmt.Errorf("unsupported instruction %T", in)
}

// ExecuteBytes decodes and applies a raw instruction.
func (e Engine) ExecuteBytes(ctx context.Context, caller string, data []byte) (wire.Opcode, any, error) {
	in, err := wire.Decode(data)
	if err != nil {
		return 0, nil, err
	}
	res, err := e.Execute(ctx, caller, in)
	return in.Op(), res, err
}

// BalanceResult is the outcome of operations that only move funds.
type BalanceResult struct {
	Balance uint64 `json:"balance"`
}
