// Package keys derives deterministic account addresses from stable seeds.
// The same seeds always produce the same key, so creating an entity twice
// collides on one row instead of needing an allocator.
package keys

import (
	"encoding/binary"
	"strings"

	"github.com/google/uuid"

	"signalwars/internal/domain"
)

var namespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("signalwars.arena"))

// Seed is one component of a key derivation.
type Seed []byte

// String seeds an identity or another key.
func String(s string) Seed { return Seed(s) }

// U64 seeds a counter as 8 little-endian bytes.
func U64(v uint64) Seed {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return Seed(b)
}

// Derive hashes the kind and seeds into a name-based UUID. Seeds are
// length-prefixed so ("ab","c") and ("a","bc") never collide.
func Derive(kind string, seeds ...Seed) string {
	var sb strings.Builder
	sb.WriteString(kind)
	for _, s := range seeds {
		var l [4]byte
		binary.LittleEndian.PutUint32(l[:], uint32(len(s)))
		sb.WriteByte('|')
		sb.Write(l[:])
		sb.Write(s)
	}
	return uuid.NewSHA1(namespace, []byte(sb.String())).String()
}

func Arena() string { return Derive(domain.KindArena) }

func Treasury() string { return Derive(domain.KindTreasury) }

func Agent(owner string) string { return Derive(domain.KindAgent, String(owner)) }

func Wallet(owner string) string { return Derive(domain.KindWallet, String(owner)) }

func Season(id uint64) string { return Derive(domain.KindSeason, U64(id)) }

func SeasonEntry(seasonKey, agentKey string) string {
	return Derive(domain.KindSeasonEntry, String(seasonKey), String(agentKey))
}

func Prediction(agentKey, seasonKey string, seq uint64) string {
	return Derive(domain.KindPrediction, String(agentKey), String(seasonKey), U64(seq))
}

func SeasonVault(seasonKey string) string {
	return Derive(domain.KindSeasonVault, String(seasonKey))
}

func PredictionVault(predictionKey string) string {
	return Derive(domain.KindPredictionVault, String(predictionKey))
}

func Achievement(agentKey string, t domain.AchievementType) string {
	return Derive(domain.KindAchievement, String(agentKey), String(string(t)))
}
