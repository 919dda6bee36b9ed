// Package commitment builds and checks the hashed plaintext an agent
// commits to before its prediction can be judged.
package commitment

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"signalwars/internal/domain"
)

const (
	DirectionUp   = "up"
	DirectionDown = "down"
)

// Plaintext is the canonical prediction record. Field order is part of the
// encoding and must not change.
type Plaintext struct {
	Asset       string  `json:"asset"`
	Direction   string  `json:"direction"`
	TargetPrice float64 `json:"targetPrice"`
	Timeframe   string  `json:"timeframe"`
	Confidence  int     `json:"confidence"`
	Timestamp   int64   `json:"timestamp"`
	Agent       string  `json:"agent"`
}

func (p Plaintext) Validate() error {
	if strings.TrimSpace(p.Asset) == "" {
		return errors.New("asset is required")
	}
	if p.Direction != DirectionUp && p.Direction != DirectionDown {
		return fmt.Errorf("direction must be %s or %s", DirectionUp, DirectionDown)
	}
	if p.Confidence < 0 || p.Confidence > 100 {
		return errors.New("confidence must be between 0 and 100")
	}
	if p.TargetPrice < 0 {
		return errors.New("target price must not be negative")
	}
	return nil
}

// Encode returns the canonical bytes of p.
func Encode(p Plaintext) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Hash is the SHA-256 digest of the plaintext bytes exactly as revealed.
func Hash(data []byte) domain.Hash {
	return domain.Hash(sha256.Sum256(data))
}

// Commit encodes p and returns the bytes to reveal together with the
// hash to submit.
func Commit(p Plaintext) ([]byte, domain.Hash, error) {
	data, err := Encode(p)
	if err != nil {
		return nil, domain.Hash{}, err
	}
	return data, Hash(data), nil
}

// Verify reports whether data is the preimage of h.
func Verify(data []byte, h domain.Hash) bool {
	return Hash(data) == h
}

// Parse decodes revealed bytes into a validated plaintext.
func Parse(data []byte) (Plaintext, error) {
	var p Plaintext
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Plaintext{}, fmt.Errorf("invalid prediction plaintext: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Plaintext{}, err
	}
	return p, nil
}
