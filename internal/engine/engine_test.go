package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"signalwars/internal/commitment"
	"signalwars/internal/config"
	"signalwars/internal/db"
	"signalwars/internal/domain"
	"signalwars/internal/engine"
	"signalwars/internal/engine/auth"
	"signalwars/internal/keys"
	"signalwars/internal/migrate"
	"signalwars/internal/repo"
	"signalwars/internal/wire"
)

const (
	authority = "root"
	sol       = uint64(1_000_000_000)
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	clock  *time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := newBareEnv(t)
	if _, err := env.Engine.InitializeArena(env.Ctx, authority); err != nil {
		t.Fatalf("init arena: %v", err)
	}
	return env
}

func newBareEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	env := &testEnv{Engine: engine.New(conn, config.Default()), Ctx: context.Background(), clock: &now}
	env.Engine.Now = func() time.Time { return *env.clock }
	return env
}

func (env *testEnv) advance(d time.Duration) { *env.clock = env.clock.Add(d) }

func (env *testEnv) deposit(t *testing.T, owner string, amount uint64) {
	t.Helper()
	if _, err := env.Engine.Deposit(env.Ctx, owner, owner, amount); err != nil {
		t.Fatalf("deposit %s: %v", owner, err)
	}
}

func (env *testEnv) fundTreasury(t *testing.T, amount uint64) {
	t.Helper()
	env.deposit(t, authority, amount)
	if _, err := env.Engine.FundTreasury(env.Ctx, authority, amount); err != nil {
		t.Fatalf("fund treasury: %v", err)
	}
}

func (env *testEnv) register(t *testing.T, owner string) domain.Agent {
	t.Helper()
	agent, err := env.Engine.RegisterAgent(env.Ctx, owner, owner+"-bot", "https://"+owner+".example/signal")
	if err != nil {
		t.Fatalf("register %s: %v", owner, err)
	}
	return agent
}

func (env *testEnv) season(t *testing.T, fee, days uint64, bps uint16) domain.Season {
	t.Helper()
	s, err := env.Engine.CreateSeason(env.Ctx, authority, fee, days, bps)
	if err != nil {
		t.Fatalf("create season: %v", err)
	}
	return s
}

func (env *testEnv) enter(t *testing.T, seasonID uint64, owner string) domain.SeasonEntry {
	t.Helper()
	entry, err := env.Engine.EnterSeason(env.Ctx, owner, seasonID, owner)
	if err != nil {
		t.Fatalf("enter %s: %v", owner, err)
	}
	return entry
}

func (env *testEnv) balance(t *testing.T, owner string) uint64 {
	t.Helper()
	b, err := env.Engine.WalletBalance(env.Ctx, owner)
	if err != nil {
		t.Fatalf("balance %s: %v", owner, err)
	}
	return b
}

func (env *testEnv) vaultBalance(t *testing.T, key string) uint64 {
	t.Helper()
	v, err := env.Engine.Vault(env.Ctx, key)
	if err != nil {
		t.Fatalf("vault %s: %v", key, err)
	}
	return v.Balance
}

func plaintextFor(t *testing.T, owner string, n int) ([]byte, domain.Hash) {
	t.Helper()
	data, h, err := commitment.Commit(commitment.Plaintext{
		Asset:       "SOL/USD",
		Direction:   commitment.DirectionUp,
		TargetPrice: 180 + float64(n),
		Timeframe:   "1h",
		Confidence:  70,
		Timestamp:   1_704_067_200 + int64(n),
		Agent:       owner,
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	return data, h
}

// predict submits and reveals a prediction for owner.
func (env *testEnv) predict(t *testing.T, owner string, seasonID, stake uint64) engine.PredictionRef {
	t.Helper()
	agent, err := env.Engine.GetAgent(env.Ctx, owner)
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	data, h := plaintextFor(t, owner, int(agent.TotalPredictions))
	pred, err := env.Engine.SubmitPrediction(env.Ctx, owner, seasonID, h, stake)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	ref := engine.PredictionRef{Owner: owner, SeasonID: seasonID, Sequence: pred.Sequence}
	if _, err := env.Engine.RevealPrediction(env.Ctx, owner, ref, data); err != nil {
		t.Fatalf("reveal: %v", err)
	}
	return ref
}

func (env *testEnv) resolve(t *testing.T, ref engine.PredictionRef, correct bool) engine.Resolution {
	t.Helper()
	res, err := env.Engine.ResolvePrediction(env.Ctx, authority, ref, correct)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	return res
}

func wantErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}

func TestInitializeArenaTwice(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.InitializeArena(env.Ctx, "someone-else")
	wantErr(t, err, engine.ErrAlreadyInitialized)
	arena, err := env.Engine.GetArena(env.Ctx)
	if err != nil {
		t.Fatalf("get arena: %v", err)
	}
	if arena.Authority != authority || arena.Treasury != keys.Treasury() {
		t.Fatalf("unexpected arena: %+v", arena)
	}
}

func TestOperationsRequireArena(t *testing.T) {
	env := newBareEnv(t)
	_, err := env.Engine.RegisterAgent(env.Ctx, "alice", "alpha", "")
	wantErr(t, err, engine.ErrNotInitialized)
}

func TestRegisterAgentValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.RegisterAgent(env.Ctx, "alice", strings.Repeat("n", 33), "")
	wantErr(t, err, engine.ErrNameTooLong)
	_, err = env.Engine.RegisterAgent(env.Ctx, "alice", "alpha", strings.Repeat("e", 129))
	wantErr(t, err, engine.ErrEndpointTooLong)
	_, err = env.Engine.RegisterAgent(env.Ctx, "alice", "", "")
	wantErr(t, err, engine.ErrInvalidName)

	agent, err := env.Engine.RegisterAgent(env.Ctx, "alice", strings.Repeat("n", 32), strings.Repeat("e", 128))
	if err != nil {
		t.Fatalf("register at limits: %v", err)
	}
	if agent.Rank != domain.RankBronze || agent.TotalPredictions != 0 || agent.Key != keys.Agent("alice") {
		t.Fatalf("unexpected agent: %+v", agent)
	}
	_, err = env.Engine.RegisterAgent(env.Ctx, "alice", "again", "")
	wantErr(t, err, engine.ErrAlreadyExists)

	arena, _ := env.Engine.GetArena(env.Ctx)
	if arena.TotalAgents != 1 {
		t.Fatalf("expected failed registrations not to count, got %d", arena.TotalAgents)
	}
}

func TestCreateSeason(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateSeason(env.Ctx, authority, sol/10, 7, 10001)
	wantErr(t, err, engine.ErrInvalidPrizeSplit)

	_, err = env.Engine.CreateSeason(env.Ctx, "mallory", sol/10, 7, 9000)
	wantErr(t, err, engine.ErrUnauthorized)
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) || fe.Capability != auth.CapAuthority {
		t.Fatalf("expected authority capability error, got %v", err)
	}

	first := env.season(t, sol/10, 7, 10000)
	second := env.season(t, 0, 1, 0)
	if first.ID != 0 || second.ID != 1 {
		t.Fatalf("expected sequential ids, got %d and %d", first.ID, second.ID)
	}
	if first.EndTime-first.StartTime != 7*86400 {
		t.Fatalf("unexpected duration %d", first.EndTime-first.StartTime)
	}
	if first.Status != domain.SeasonActive || first.Vault != keys.SeasonVault(first.Key) {
		t.Fatalf("unexpected season: %+v", first)
	}
	arena, _ := env.Engine.GetArena(env.Ctx)
	if arena.TotalSeasons != 2 {
		t.Fatalf("expected 2 seasons, got %d", arena.TotalSeasons)
	}
}

func TestEnterSeason(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice")
	s := env.season(t, sol/10, 7, 9000)

	_, err := env.Engine.EnterSeason(env.Ctx, "alice", s.ID, "alice")
	wantErr(t, err, engine.ErrInsufficientFunds)
	standings, err := env.Engine.Standings(env.Ctx, s.ID)
	if err != nil || len(standings) != 0 {
		t.Fatalf("expected failed entry to leave no trace, got %v %v", standings, err)
	}

	env.deposit(t, "mallory", sol)
	_, err = env.Engine.EnterSeason(env.Ctx, "mallory", s.ID, "alice")
	wantErr(t, err, engine.ErrUnauthorized)
	if got := env.balance(t, "mallory"); got != sol {
		t.Fatalf("expected rejected entry to charge nothing, balance %d", got)
	}

	env.deposit(t, "alice", sol)
	entry := env.enter(t, s.ID, "alice")
	if entry.Payer != "alice" || entry.Score != 0 {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	_, err = env.Engine.EnterSeason(env.Ctx, "alice", s.ID, "alice")
	wantErr(t, err, engine.ErrAlreadyExists)
	if got := env.balance(t, "alice"); got != sol-sol/10 {
		t.Fatalf("expected single fee charged, balance %d", got)
	}

	season, _ := env.Engine.GetSeason(env.Ctx, s.ID)
	if season.TotalEntries != 1 || season.TotalPool != sol/10 || env.vaultBalance(t, season.Vault) != sol/10 {
		t.Fatalf("unexpected pool: %+v", season)
	}

	env.register(t, "bob")
	env.deposit(t, "bob", sol)
	env.advance(7 * 24 * time.Hour)
	_, err = env.Engine.EnterSeason(env.Ctx, "bob", s.ID, "bob")
	wantErr(t, err, engine.ErrSeasonNotActive)
}

func TestPredictionStateMachine(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice")
	env.deposit(t, "alice", sol)
	s := env.season(t, 0, 7, 9000)
	env.enter(t, s.ID, "alice")

	data, h := plaintextFor(t, "alice", 0)
	pred, err := env.Engine.SubmitPrediction(env.Ctx, "alice", s.ID, h, 0)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if pred.Status != domain.PredictionCommitted || pred.Sequence != 0 {
		t.Fatalf("unexpected prediction: %+v", pred)
	}
	ref := engine.PredictionRef{Owner: "alice", SeasonID: s.ID, Sequence: pred.Sequence}

	_, err = env.Engine.ResolvePrediction(env.Ctx, authority, ref, true)
	wantErr(t, err, engine.ErrInvalidPredictionStatus)

	_, err = env.Engine.RevealPrediction(env.Ctx, "bob", ref, data)
	wantErr(t, err, engine.ErrUnauthorized)

	revealed, err := env.Engine.RevealPrediction(env.Ctx, "alice", ref, data)
	if err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if revealed.Status != domain.PredictionRevealed || revealed.PredictionData != string(data) || revealed.RevealedAt == 0 {
		t.Fatalf("unexpected revealed prediction: %+v", revealed)
	}
	_, err = env.Engine.RevealPrediction(env.Ctx, "alice", ref, data)
	wantErr(t, err, engine.ErrInvalidPredictionStatus)

	_, err = env.Engine.ResolvePrediction(env.Ctx, "alice", ref, true)
	wantErr(t, err, engine.ErrUnauthorized)

	res := env.resolve(t, ref, false)
	if res.Prediction.Status != domain.PredictionResolved || res.Prediction.WasCorrect == nil || *res.Prediction.WasCorrect {
		t.Fatalf("unexpected resolution: %+v", res.Prediction)
	}
	_, err = env.Engine.ResolvePrediction(env.Ctx, authority, ref, true)
	wantErr(t, err, engine.ErrInvalidPredictionStatus)
	_, err = env.Engine.RevealPrediction(env.Ctx, "alice", ref, data)
	wantErr(t, err, engine.ErrInvalidPredictionStatus)
}

func TestRevealRejectsEveryByteMutation(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice")
	s := env.season(t, 0, 7, 9000)
	env.enter(t, s.ID, "alice")
	data, h := plaintextFor(t, "alice", 0)
	if _, err := env.Engine.SubmitPrediction(env.Ctx, "alice", s.ID, h, 0); err != nil {
		t.Fatalf("submit: %v", err)
	}
	ref := engine.PredictionRef{Owner: "alice", SeasonID: s.ID}
	for i := range data {
		mutated := append([]byte(nil), data...)
		mutated[i] ^= 0x20
		_, err := env.Engine.RevealPrediction(env.Ctx, "alice", ref, mutated)
		wantErr(t, err, engine.ErrHashMismatch)
	}
	pred, err := env.Engine.GetPrediction(env.Ctx, ref)
	if err != nil || pred.Status != domain.PredictionCommitted {
		t.Fatalf("expected prediction to stay committed, got %+v %v", pred, err)
	}
	if _, err := env.Engine.RevealPrediction(env.Ctx, "alice", ref, data); err != nil {
		t.Fatalf("reveal original: %v", err)
	}
}

func TestRevealPlaintextLimit(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice")
	s := env.season(t, 0, 7, 9000)
	env.enter(t, s.ID, "alice")
	data := []byte(strings.Repeat("x", 257))
	if _, err := env.Engine.SubmitPrediction(env.Ctx, "alice", s.ID, commitment.Hash(data), 0); err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, err := env.Engine.RevealPrediction(env.Ctx, "alice", engine.PredictionRef{Owner: "alice", SeasonID: s.ID}, data)
	wantErr(t, err, engine.ErrPlaintextTooLong)
}

func TestExpireUnrevealablePrediction(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Ledger.ForfeitTo = config.ForfeitTreasury
	env.register(t, "alice")
	env.deposit(t, "alice", 1000)
	s := env.season(t, 0, 1, 9000)
	env.enter(t, s.ID, "alice")

	data := []byte(strings.Repeat("x", 300))
	pred, err := env.Engine.SubmitPrediction(env.Ctx, "alice", s.ID, commitment.Hash(data), 40)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	ref := engine.PredictionRef{Owner: "alice", SeasonID: s.ID, Sequence: pred.Sequence}
	_, err = env.Engine.RevealPrediction(env.Ctx, "alice", ref, data)
	wantErr(t, err, engine.ErrPlaintextTooLong)
	_, h := plaintextFor(t, "alice", 1)
	_, err = env.Engine.SubmitPrediction(env.Ctx, "alice", s.ID, h, 0)
	wantErr(t, err, engine.ErrPredictionInFlight)

	_, err = env.Engine.ExpirePrediction(env.Ctx, authority, ref)
	wantErr(t, err, engine.ErrSeasonNotEnded)
	env.advance(24 * time.Hour)
	_, err = env.Engine.ExpirePrediction(env.Ctx, "alice", ref)
	wantErr(t, err, engine.ErrUnauthorized)

	res, err := env.Engine.ExpirePrediction(env.Ctx, authority, ref)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if res.Prediction.Status != domain.PredictionExpired || res.Forfeited != 40 || res.ForfeitTo != config.ForfeitTreasury {
		t.Fatalf("unexpected expiry: %+v", res)
	}
	if res.Agent.TotalPredictions != 1 || res.Agent.Streak != 0 || res.Entry.PredictionsMade != 1 {
		t.Fatalf("expected expiry to count as a miss: agent %+v entry %+v", res.Agent, res.Entry)
	}
	if env.vaultBalance(t, res.Prediction.Vault) != 0 {
		t.Fatalf("expected drained prediction vault")
	}
	if treasury, _ := env.Engine.TreasuryBalance(env.Ctx); treasury != 40 {
		t.Fatalf("expected stake in treasury, got %d", treasury)
	}
	_, err = env.Engine.ExpirePrediction(env.Ctx, authority, ref)
	wantErr(t, err, engine.ErrInvalidPredictionStatus)

	next := env.season(t, 0, 1, 9000)
	env.enter(t, next.ID, "alice")
	again, err := env.Engine.SubmitPrediction(env.Ctx, "alice", next.ID, h, 0)
	if err != nil {
		t.Fatalf("submit after expiry: %v", err)
	}
	if again.Sequence != 1 {
		t.Fatalf("expected sequence 1, got %d", again.Sequence)
	}
}

func TestExpireOnlyCommitted(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice")
	s := env.season(t, 0, 7, 9000)
	env.enter(t, s.ID, "alice")
	ref := env.predict(t, "alice", s.ID, 0)
	if _, err := env.Engine.CancelSeason(env.Ctx, authority, s.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	_, err := env.Engine.ExpirePrediction(env.Ctx, authority, ref)
	wantErr(t, err, engine.ErrInvalidPredictionStatus)
	if res := env.resolve(t, ref, false); res.Prediction.Status != domain.PredictionResolved {
		t.Fatalf("expected revealed prediction to stay resolvable, got %s", res.Prediction.Status)
	}
}

func TestSubmitGuards(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice")
	env.deposit(t, "alice", sol)
	s := env.season(t, 0, 7, 9000)
	_, h := plaintextFor(t, "alice", 0)

	_, err := env.Engine.SubmitPrediction(env.Ctx, "alice", s.ID, h, 10)
	wantErr(t, err, engine.ErrNotEntered)

	env.enter(t, s.ID, "alice")
	_, err = env.Engine.SubmitPrediction(env.Ctx, "alice", s.ID, h, 2*sol)
	wantErr(t, err, engine.ErrInsufficientFunds)
	preds, _ := env.Engine.ListPredictions(env.Ctx, engine.PredictionFilter{Owner: "alice"})
	if len(preds) != 0 {
		t.Fatalf("expected failed submit to roll back, got %d predictions", len(preds))
	}

	if _, err := env.Engine.SubmitPrediction(env.Ctx, "alice", s.ID, h, 10); err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, err = env.Engine.SubmitPrediction(env.Ctx, "alice", s.ID, h, 10)
	wantErr(t, err, engine.ErrPredictionInFlight)

	_, err = env.Engine.SubmitPrediction(env.Ctx, "nobody", s.ID, h, 0)
	wantErr(t, err, engine.ErrNotFound)

	_, err = env.Engine.SubmitPrediction(env.Ctx, "alice", 99, h, 0)
	wantErr(t, err, engine.ErrNotFound)

	_, err = env.Engine.SubmitPrediction(env.Ctx, "alice", s.ID, h, uint64(1)<<63)
	wantErr(t, err, engine.ErrInvalidAmount)
}

func TestSubmitRequiresActiveSeason(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice")
	s := env.season(t, 0, 7, 9000)
	env.enter(t, s.ID, "alice")
	if _, err := env.Engine.CancelSeason(env.Ctx, authority, s.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	_, h := plaintextFor(t, "alice", 0)
	_, err := env.Engine.SubmitPrediction(env.Ctx, "alice", s.ID, h, 0)
	wantErr(t, err, engine.ErrSeasonNotActive)
}

func TestScenarioSeasonLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.fundTreasury(t, sol)
	for _, owner := range []string{"alice", "bob"} {
		env.register(t, owner)
		env.deposit(t, owner, sol)
	}
	s := env.season(t, sol/10, 7, 9000)
	env.enter(t, s.ID, "alice")
	env.enter(t, s.ID, "bob")
	season, _ := env.Engine.GetSeason(env.Ctx, s.ID)
	if season.TotalPool != 200_000_000 {
		t.Fatalf("expected pool 0.2, got %d", season.TotalPool)
	}

	stake := uint64(50_000_000)
	ref := env.predict(t, "alice", s.ID, stake)
	pred, _ := env.Engine.GetPrediction(env.Ctx, ref)
	before := env.vaultBalance(t, pred.Vault)
	if before != stake {
		t.Fatalf("expected vault to hold the stake, got %d", before)
	}
	walletBefore := env.balance(t, "alice")
	res := env.resolve(t, ref, true)
	after := env.vaultBalance(t, pred.Vault)
	if after+res.VaultReleased != before || after != 0 {
		t.Fatalf("vault conservation broken: before %d after %d released %d", before, after, res.VaultReleased)
	}
	if res.Prediction.Payout != 100_000_000 || env.balance(t, "alice")-walletBefore != 100_000_000 {
		t.Fatalf("expected 2x payout, got %d", res.Prediction.Payout)
	}
	if res.Agent.Streak != 1 || res.Entry.Score != stake {
		t.Fatalf("expected streak 1 and score 0.05, got %d and %d", res.Agent.Streak, res.Entry.Score)
	}

	_, err := env.Engine.DistributePrizes(env.Ctx, authority, s.ID)
	wantErr(t, err, engine.ErrSeasonNotEnded)

	env.advance(7 * 24 * time.Hour)
	_, err = env.Engine.DistributePrizes(env.Ctx, "alice", s.ID)
	wantErr(t, err, engine.ErrUnauthorized)

	aliceBefore := env.balance(t, "alice")
	bobBefore := env.balance(t, "bob")
	dist, err := env.Engine.DistributePrizes(env.Ctx, authority, s.ID)
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if dist.PrizePool != 180_000_000 || dist.Distributed != 180_000_000 || len(dist.Payouts) != 1 {
		t.Fatalf("unexpected distribution: %+v", dist)
	}
	if env.balance(t, "alice")-aliceBefore != 180_000_000 || env.balance(t, "bob") != bobBefore {
		t.Fatalf("prize went to the wrong wallet")
	}
	if dist.Season.Status != domain.SeasonCompleted || dist.VaultBalance != 20_000_000 {
		t.Fatalf("expected completed season with 0.02 left, got %s %d", dist.Season.Status, dist.VaultBalance)
	}
	if dist.Distributed > season.TotalPool*uint64(season.PrizePoolBps)/10000 {
		t.Fatalf("distributed more than the prize pool")
	}

	_, err = env.Engine.DistributePrizes(env.Ctx, authority, s.ID)
	wantErr(t, err, engine.ErrInvalidSeasonStatus)

	standings, _ := env.Engine.Standings(env.Ctx, s.ID)
	if len(standings) != 2 || standings[0].Agent != keys.Agent("alice") || standings[0].Prize != 180_000_000 {
		t.Fatalf("unexpected standings: %+v", standings)
	}
}

func TestProportionalDistribution(t *testing.T) {
	env := newTestEnv(t)
	env.fundTreasury(t, sol)
	for _, owner := range []string{"alice", "bob", "carol"} {
		env.register(t, owner)
		env.deposit(t, owner, sol)
	}
	s := env.season(t, 100, 1, 10000)
	for _, owner := range []string{"alice", "bob", "carol"} {
		env.enter(t, s.ID, owner)
	}
	env.resolve(t, env.predict(t, "alice", s.ID, 20), true)
	env.resolve(t, env.predict(t, "bob", s.ID, 10), true)
	env.resolve(t, env.predict(t, "carol", s.ID, 10), false)

	env.advance(24 * time.Hour)
	dist, err := env.Engine.DistributePrizes(env.Ctx, authority, s.ID)
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	got := map[string]uint64{}
	for _, p := range dist.Payouts {
		got[p.Payer] = p.Amount
	}
	// 300 split 20:10 -> 200 and 100, carol scored nothing
	if got["alice"] != 200 || got["bob"] != 100 || got["carol"] != 0 {
		t.Fatalf("unexpected shares: %v", got)
	}
	if dist.VaultBalance != 0 {
		t.Fatalf("expected drained vault, got %d", dist.VaultBalance)
	}
}

func TestDistributionDustStaysInVault(t *testing.T) {
	env := newTestEnv(t)
	env.fundTreasury(t, sol)
	for _, owner := range []string{"alice", "bob", "carol"} {
		env.register(t, owner)
		env.deposit(t, owner, sol)
	}
	s := env.season(t, 1, 1, 10000)
	for _, owner := range []string{"alice", "bob", "carol"} {
		env.enter(t, s.ID, owner)
		env.resolve(t, env.predict(t, owner, s.ID, 7), true)
	}
	env.advance(24 * time.Hour)
	dist, err := env.Engine.DistributePrizes(env.Ctx, authority, s.ID)
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if dist.Distributed != 3 || dist.VaultBalance != 0 {
		t.Fatalf("unexpected: %+v", dist)
	}

	s2 := env.season(t, 1, 1, 5000)
	for _, owner := range []string{"alice", "bob", "carol"} {
		env.enter(t, s2.ID, owner)
	}
	env.resolve(t, env.predict(t, "alice", s2.ID, 7), true)
	env.advance(24 * time.Hour)
	dist, err = env.Engine.DistributePrizes(env.Ctx, authority, s2.ID)
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if dist.PrizePool != 1 || dist.Distributed != 1 || dist.VaultBalance != 2 {
		t.Fatalf("expected floor(3*5000/10000)=1 paid and 2 kept, got %+v", dist)
	}
}

func TestDistributeWithoutScores(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice")
	env.deposit(t, "alice", sol)
	s := env.season(t, 1000, 1, 9000)
	env.enter(t, s.ID, "alice")
	env.advance(24 * time.Hour)
	dist, err := env.Engine.DistributePrizes(env.Ctx, authority, s.ID)
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if dist.Distributed != 0 || dist.VaultBalance != 1000 || dist.Season.Status != domain.SeasonCompleted {
		t.Fatalf("unexpected: %+v", dist)
	}
}

func TestFiveWinsStreakAndScore(t *testing.T) {
	env := newTestEnv(t)
	env.fundTreasury(t, 10*sol)
	env.register(t, "alice")
	env.deposit(t, "alice", sol)
	s := env.season(t, 0, 30, 9000)
	env.enter(t, s.ID, "alice")

	const stake = uint64(10_000_000)
	var res engine.Resolution
	for i := 0; i < 5; i++ {
		res = env.resolve(t, env.predict(t, "alice", s.ID, stake), true)
		if res.Prediction.Sequence != uint64(i) {
			t.Fatalf("expected sequence %d, got %d", i, res.Prediction.Sequence)
		}
	}
	if res.Agent.Streak != 5 || res.Agent.BestStreak != 5 {
		t.Fatalf("expected streak 5/5, got %d/%d", res.Agent.Streak, res.Agent.BestStreak)
	}
	if res.Entry.Score != stake*6 {
		t.Fatalf("expected score %d, got %d", stake*6, res.Entry.Score)
	}
	if res.Agent.Rank != domain.RankGold {
		t.Fatalf("expected gold at 100%% with streak 5, got %s", res.Agent.Rank)
	}

	res = env.resolve(t, env.predict(t, "alice", s.ID, stake), false)
	if res.Agent.Streak != 0 || res.Agent.BestStreak != 5 {
		t.Fatalf("expected reset streak keeping best, got %d/%d", res.Agent.Streak, res.Agent.BestStreak)
	}
	if res.Entry.Score != stake*6 || res.Entry.PredictionsMade != 6 || res.Entry.PredictionsCorrect != 5 {
		t.Fatalf("unexpected entry after loss: %+v", res.Entry)
	}
	if res.Agent.TotalStaked != 6*stake || res.Agent.TotalWon != 10*stake {
		t.Fatalf("unexpected totals: %+v", res.Agent)
	}

	res = env.resolve(t, env.predict(t, "alice", s.ID, stake), true)
	if res.ScoreEarned != stake {
		t.Fatalf("expected multiplier reset to 1.0x, got %d", res.ScoreEarned)
	}
}

func TestLossForfeitDestinations(t *testing.T) {
	cases := []struct {
		dest         string
		wantTreasury uint64
		wantPool     uint64
		wantFees     uint64
		wantBurned   uint64
	}{
		{config.ForfeitTreasury, 40, 100, 40, 0},
		{config.ForfeitSeasonPool, 0, 140, 0, 0},
		{config.ForfeitBurn, 0, 100, 0, 40},
	}
	for _, tc := range cases {
		t.Run(tc.dest, func(t *testing.T) {
			env := newTestEnv(t)
			env.Engine.Config.Ledger.ForfeitTo = tc.dest
			env.register(t, "alice")
			env.deposit(t, "alice", 1000)
			s := env.season(t, 100, 1, 9000)
			env.enter(t, s.ID, "alice")
			ref := env.predict(t, "alice", s.ID, 40)
			res := env.resolve(t, ref, false)
			if res.ForfeitTo != tc.dest || res.Forfeited != 40 || res.Prediction.Payout != 0 {
				t.Fatalf("unexpected resolution: %+v", res)
			}
			pred, _ := env.Engine.GetPrediction(env.Ctx, ref)
			if env.vaultBalance(t, pred.Vault) != 0 {
				t.Fatalf("expected drained prediction vault")
			}
			treasury, _ := env.Engine.TreasuryBalance(env.Ctx)
			season, _ := env.Engine.GetSeason(env.Ctx, s.ID)
			arena, _ := env.Engine.GetArena(env.Ctx)
			if treasury != tc.wantTreasury || season.TotalPool != tc.wantPool || env.vaultBalance(t, season.Vault) != tc.wantPool {
				t.Fatalf("treasury %d pool %d", treasury, season.TotalPool)
			}
			if arena.TotalFeesCollected != tc.wantFees || arena.TotalBurned != tc.wantBurned {
				t.Fatalf("unexpected arena counters: %+v", arena)
			}
			if env.balance(t, "alice") != 1000-100-40 {
				t.Fatalf("stake must not be returned, balance %d", env.balance(t, "alice"))
			}
		})
	}
}

func TestWinNeedsTreasuryBonus(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice")
	env.deposit(t, "alice", 1000)
	s := env.season(t, 0, 1, 9000)
	env.enter(t, s.ID, "alice")
	ref := env.predict(t, "alice", s.ID, 100)

	_, err := env.Engine.ResolvePrediction(env.Ctx, authority, ref, true)
	wantErr(t, err, engine.ErrInsufficientFunds)
	pred, _ := env.Engine.GetPrediction(env.Ctx, ref)
	if pred.Status != domain.PredictionRevealed || env.vaultBalance(t, pred.Vault) != 100 {
		t.Fatalf("expected untouched prediction, got %s", pred.Status)
	}
	agent, _ := env.Engine.GetAgent(env.Ctx, "alice")
	if agent.TotalPredictions != 0 {
		t.Fatalf("expected stats untouched, got %+v", agent)
	}

	env.fundTreasury(t, 100)
	res := env.resolve(t, ref, true)
	if res.Bonus != 100 || env.balance(t, "alice") != 1100 {
		t.Fatalf("unexpected payout %+v balance %d", res, env.balance(t, "alice"))
	}
}

func TestResolveAfterSeasonEnds(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice")
	s := env.season(t, 0, 1, 9000)
	env.enter(t, s.ID, "alice")
	ref := env.predict(t, "alice", s.ID, 0)
	env.advance(48 * time.Hour)
	if _, err := env.Engine.DistributePrizes(env.Ctx, authority, s.ID); err != nil {
		t.Fatalf("distribute: %v", err)
	}
	res := env.resolve(t, ref, true)
	if res.Agent.CorrectPredictions != 1 {
		t.Fatalf("expected late resolution to count, got %+v", res.Agent)
	}
}

func TestAchievementAwards(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice")

	_, err := env.Engine.AwardAchievement(env.Ctx, "alice", "alice", domain.AchievementFirstWin)
	wantErr(t, err, engine.ErrUnauthorized)

	ach, err := env.Engine.AwardAchievement(env.Ctx, authority, "alice", domain.AchievementFirstWin)
	if err != nil {
		t.Fatalf("award: %v", err)
	}
	if ach.ReputationDelta != 10 || ach.Key != keys.Achievement(keys.Agent("alice"), domain.AchievementFirstWin) {
		t.Fatalf("unexpected achievement: %+v", ach)
	}

	// a repeat award is rejected and grants nothing
	_, err = env.Engine.AwardAchievement(env.Ctx, authority, "alice", domain.AchievementFirstWin)
	wantErr(t, err, engine.ErrAlreadyExists)
	agent, _ := env.Engine.GetAgent(env.Ctx, "alice")
	if agent.ReputationScore != 10 {
		t.Fatalf("expected reputation 10 after repeat, got %d", agent.ReputationScore)
	}

	// the authority may award beyond the agent's stats
	if _, err := env.Engine.AwardAchievement(env.Ctx, authority, "alice", domain.AchievementStreak10); err != nil {
		t.Fatalf("award streak_10: %v", err)
	}
	agent, _ = env.Engine.GetAgent(env.Ctx, "alice")
	if agent.ReputationScore != 110 {
		t.Fatalf("expected reputation 110, got %d", agent.ReputationScore)
	}

	_, err = env.Engine.AwardAchievement(env.Ctx, authority, "alice", "best_hat")
	wantErr(t, err, engine.ErrInvalidAchievement)
	_, err = env.Engine.AwardAchievement(env.Ctx, authority, "ghost", domain.AchievementFirstWin)
	wantErr(t, err, engine.ErrNotFound)

	list, err := env.Engine.ListAchievements(env.Ctx, "alice")
	if err != nil || len(list) != 2 {
		t.Fatalf("expected 2 achievements, got %v %v", list, err)
	}
}

func TestCancelSeasonRefunds(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Ledger.ForfeitTo = config.ForfeitSeasonPool
	for _, owner := range []string{"alice", "bob"} {
		env.register(t, owner)
		env.deposit(t, owner, 1000)
	}
	s := env.season(t, 100, 7, 9000)
	env.enter(t, s.ID, "alice")
	env.enter(t, s.ID, "bob")
	env.resolve(t, env.predict(t, "bob", s.ID, 30), false)

	_, err := env.Engine.CancelSeason(env.Ctx, "bob", s.ID)
	wantErr(t, err, engine.ErrUnauthorized)

	res, err := env.Engine.CancelSeason(env.Ctx, authority, s.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res.Refunded != 200 || len(res.Refunds) != 2 || res.ToTreasury != 30 {
		t.Fatalf("unexpected cancellation: %+v", res)
	}
	if env.balance(t, "alice") != 1000 || env.balance(t, "bob") != 970 {
		t.Fatalf("unexpected balances %d %d", env.balance(t, "alice"), env.balance(t, "bob"))
	}
	if env.vaultBalance(t, res.Season.Vault) != 0 || res.Season.Status != domain.SeasonCancelled {
		t.Fatalf("expected empty cancelled season")
	}
	_, err = env.Engine.CancelSeason(env.Ctx, authority, s.ID)
	wantErr(t, err, engine.ErrInvalidSeasonStatus)
	env.advance(8 * 24 * time.Hour)
	_, err = env.Engine.DistributePrizes(env.Ctx, authority, s.ID)
	wantErr(t, err, engine.ErrInvalidSeasonStatus)
}

func TestTreasury(t *testing.T) {
	env := newTestEnv(t)
	env.fundTreasury(t, 500)
	_, err := env.Engine.WithdrawTreasury(env.Ctx, authority, 501)
	wantErr(t, err, engine.ErrInsufficientFunds)
	_, err = env.Engine.WithdrawTreasury(env.Ctx, "mallory", 1)
	wantErr(t, err, engine.ErrUnauthorized)
	remaining, err := env.Engine.WithdrawTreasury(env.Ctx, authority, 200)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if remaining != 300 || env.balance(t, authority) != 200 {
		t.Fatalf("unexpected remaining %d", remaining)
	}
	_, err = env.Engine.FundTreasury(env.Ctx, authority, 1000)
	wantErr(t, err, engine.ErrInsufficientFunds)
}

func TestDepositDisabled(t *testing.T) {
	env := newTestEnv(t)
	off := false
	env.Engine.Config.Ledger.AllowDeposits = &off
	_, err := env.Engine.Deposit(env.Ctx, "alice", "alice", 10)
	wantErr(t, err, engine.ErrUnauthorized)
	env.Engine.Config.Ledger.AllowDeposits = nil
	_, err = env.Engine.Deposit(env.Ctx, "alice", "", 0)
	wantErr(t, err, engine.ErrInvalidAmount)
	balance, err := env.Engine.Deposit(env.Ctx, "alice", "", 10)
	if err != nil || balance != 10 {
		t.Fatalf("expected deposit to caller wallet, got %d %v", balance, err)
	}
}

func TestVersionedStore(t *testing.T) {
	env := newTestEnv(t)
	acct, err := env.Engine.Repo.GetAccount(env.Ctx, nil, keys.Arena())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	stale := acct
	if err := env.Engine.Repo.UpdateAccount(env.Ctx, nil, &acct); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := env.Engine.Repo.UpdateAccount(env.Ctx, nil, &stale); !errors.Is(err, repo.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
}

func TestExecuteWireInstructions(t *testing.T) {
	env := newBareEnv(t)
	run := func(caller string, in wire.Instruction) any {
		t.Helper()
		data, err := wire.Encode(in)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		op, res, err := env.Engine.ExecuteBytes(env.Ctx, caller, data)
		if err != nil {
			t.Fatalf("%s: %v", op, err)
		}
		return res
	}
	run(authority, wire.InitializeArena{})
	agent := run("alice", wire.RegisterAgent{Name: "alpha", Endpoint: "https://alpha.example"}).(domain.Agent)
	if agent.Owner != "alice" {
		t.Fatalf("unexpected agent %+v", agent)
	}
	run("alice", wire.Deposit{Amount: 500})
	season := run(authority, wire.CreateSeason{EntryFee: 100, DurationDays: 1, PrizePoolBps: 9000}).(domain.Season)
	run("alice", wire.EnterSeason{SeasonID: season.ID})
	data, h := plaintextFor(t, "alice", 0)
	pred := run("alice", wire.SubmitPrediction{SeasonID: season.ID, PredictionHash: h, StakeAmount: 0}).(domain.Prediction)
	run("alice", wire.RevealPrediction{AgentOwner: "alice", SeasonID: season.ID, Sequence: pred.Sequence, Plaintext: data})
	res := run(authority, wire.ResolvePrediction{AgentOwner: "alice", SeasonID: season.ID, Sequence: pred.Sequence, WasCorrect: false}).(engine.Resolution)
	if res.Agent.TotalPredictions != 1 {
		t.Fatalf("unexpected resolution %+v", res)
	}
	run(authority, wire.AwardAchievement{AgentOwner: "alice", AchievementType: domain.AchievementFirstWin})
	bal := run("alice", wire.Deposit{Owner: authority, Amount: 50}).(engine.BalanceResult)
	if bal.Balance != 50 {
		t.Fatalf("unexpected balance %d", bal.Balance)
	}
	run(authority, wire.FundTreasury{Amount: 50})
	run(authority, wire.WithdrawTreasury{Amount: 20})

	_, _, err := env.Engine.ExecuteBytes(env.Ctx, authority, []byte{0xee})
	if !errors.Is(err, wire.ErrUnknownOpcode) {
		t.Fatalf("expected unknown opcode, got %v", err)
	}
}

func TestEventsRecorded(t *testing.T) {
	env := newTestEnv(t)
	env.fundTreasury(t, 100)
	env.register(t, "alice")
	env.deposit(t, "alice", 100)
	s := env.season(t, 10, 1, 9000)
	env.enter(t, s.ID, "alice")
	env.resolve(t, env.predict(t, "alice", s.ID, 5), true)
	if _, err := env.Engine.AwardAchievement(env.Ctx, authority, "alice", domain.AchievementFirstWin); err != nil {
		t.Fatalf("award: %v", err)
	}
	env.advance(24 * time.Hour)
	if _, err := env.Engine.DistributePrizes(env.Ctx, authority, s.ID); err != nil {
		t.Fatalf("distribute: %v", err)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 100, repo.EventFilter{})
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	seen := map[string]int{}
	for _, evt := range evts {
		seen[evt.Type]++
	}
	for _, typ := range []string{
		"arena.initialized", "wallet.deposited", "treasury.funded", "agent.registered", "season.created",
		"season.entered", "prediction.submitted", "prediction.revealed", "prediction.resolved",
		"achievement.awarded", "prizes.distributed",
	} {
		if seen[typ] == 0 {
			t.Fatalf("missing %s event in %v", typ, seen)
		}
	}
	// failed operations leave no events behind
	before := len(evts)
	_, _ = env.Engine.CreateSeason(env.Ctx, "mallory", 0, 1, 0)
	evts, _ = env.Engine.Repo.LatestEvents(env.Ctx, 100, repo.EventFilter{})
	if len(evts) != before {
		t.Fatalf("expected %d events, got %d", before, len(evts))
	}
	resolved, _ := env.Engine.Repo.LatestEvents(env.Ctx, 10, repo.EventFilter{Type: "prediction.resolved"})
	if len(resolved) != 1 || !strings.Contains(resolved[0].Payload, `"was_correct":true`) {
		t.Fatalf("unexpected resolved events: %+v", resolved)
	}
}
