package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"os"
	"strings"
	"testing"

	"signalwars/internal/app"
	"signalwars/internal/commitment"
	"signalwars/internal/engine"
	"signalwars/internal/wire"
)

func TestDecodeTxArg(t *testing.T) {
	data, err := wire.Encode(wire.DistributePrizes{SeasonID: 3})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	fromB64, err := decodeTxArg(base64.StdEncoding.EncodeToString(data))
	if err != nil || !bytes.Equal(fromB64, data) {
		t.Fatalf("base64: %x %v", fromB64, err)
	}
	fromHex, err := decodeTxArg("0x080300000000000000")
	if err != nil || !bytes.Equal(fromHex, data) {
		t.Fatalf("hex: %x %v", fromHex, err)
	}
	if _, err := decodeTxArg("0xzz"); err == nil {
		t.Fatalf("expected hex error")
	}
}

func TestSaveCommitment(t *testing.T) {
	dir := t.TempDir()
	data, hash, err := commitment.Commit(commitment.Plaintext{Asset: "SOL", Direction: "up", TargetPrice: 150, Timeframe: "24h", Confidence: 80, Timestamp: 1700000000, Agent: "alice"})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	path, err := saveCommitment(dir, hash, data)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if path != commitmentPath(dir, hash) {
		t.Fatalf("unexpected path %s", path)
	}
	read, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !commitment.Verify(read, hash) {
		t.Fatalf("saved plaintext does not match its hash")
	}
}

func TestNewAPISecret(t *testing.T) {
	a, b := newAPISecret(), newAPISecret()
	if a == b || !strings.HasPrefix(a, "sw_") || strings.Contains(a, "-") || len(a) != 3+64 {
		t.Fatalf("unexpected secrets %q %q", a, b)
	}
}

func TestTreasuryWarning(t *testing.T) {
	if w := treasuryWarning(0, 0); !strings.Contains(w, "arena treasury fund") {
		t.Fatalf("expected warning for an empty treasury, got %q", w)
	}
	if w := treasuryWarning(unitsPerSOL, 2*unitsPerSOL); w == "" {
		t.Fatalf("expected warning when the bonus exceeds the treasury")
	}
	if w := treasuryWarning(unitsPerSOL, unitsPerSOL); w != "" {
		t.Fatalf("unexpected warning %q", w)
	}
}

func TestResolveHintsAtEmptyTreasury(t *testing.T) {
	ctx := context.Background()
	ws, err := app.Open(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer ws.Close()
	e := ws.Engine
	if _, err := e.InitializeArena(ctx, "root"); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := e.RegisterAgent(ctx, "alice", "alpha", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := e.Deposit(ctx, "alice", "alice", unitsPerSOL); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	season, err := e.CreateSeason(ctx, "root", 0, 7, 9000)
	if err != nil {
		t.Fatalf("season: %v", err)
	}
	if _, err := e.EnterSeason(ctx, "alice", season.ID, "alice"); err != nil {
		t.Fatalf("enter: %v", err)
	}
	data, hash, err := commitment.Commit(commitment.Plaintext{Asset: "SOL", Direction: "up", TargetPrice: 150, Timeframe: "24h", Confidence: 80, Timestamp: 1700000000, Agent: "alice"})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	pred, err := e.SubmitPrediction(ctx, "alice", season.ID, hash, unitsPerSOL/10)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	ref := engine.PredictionRef{Owner: "alice", SeasonID: season.ID, Sequence: pred.Sequence}
	if _, err := e.RevealPrediction(ctx, "alice", ref, data); err != nil {
		t.Fatalf("reveal: %v", err)
	}
	_, err = e.ResolvePrediction(ctx, "root", ref, true)
	if !errors.Is(err, engine.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	hinted := withTreasuryHint(ctx, e, ref, err)
	if !errors.Is(hinted, engine.ErrInsufficientFunds) || !strings.Contains(hinted.Error(), "arena treasury fund") {
		t.Fatalf("expected treasury hint, got %v", hinted)
	}
}
