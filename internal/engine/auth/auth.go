package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"signalwars/internal/domain"
	"signalwars/internal/keys"
	"signalwars/internal/repo"
)

type Capability string

const (
	// CapAuthority may create seasons, resolve, award and settle.
	CapAuthority Capability = "authority"
	// CapAgentOwner may commit and reveal for the agent it registered.
	CapAgentOwner Capability = "agent_owner"
)

// ForbiddenError indicates a missing capability.
type ForbiddenError struct {
	Capability Capability
	Actor      string
}

func (e ForbiddenError) Error() string {
	if e.Actor == "" {
		return fmt.Sprintf("%s capability required", e.Capability)
	}
	return fmt.Sprintf("%s capability required for %s", e.Capability, e.Actor)
}

// RequireAuthority passes only the identity recorded as arena authority.
func RequireAuthority(arena domain.Arena, actor string) error {
	if strings.TrimSpace(actor) == "" || actor != arena.Authority {
		return ForbiddenError{Capability: CapAuthority, Actor: actor}
	}
	return nil
}

// RequireOwner passes only the identity that registered the agent.
func RequireOwner(agent domain.Agent, actor string) error {
	if strings.TrimSpace(actor) == "" || actor != agent.Owner {
		return ForbiddenError{Capability: CapAgentOwner, Actor: actor}
	}
	return nil
}

// Service resolves the capabilities an identity holds against the store.
type Service struct {
	Repo repo.Repo
}

func (s Service) ActorCapabilities(ctx context.Context, actor string) ([]Capability, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, errors.New("actor required")
	}
	var caps []Capability
	arenaAcct, err := s.Repo.GetAccount(ctx, nil, keys.Arena())
	switch {
	case err == nil:
		arena, err := repo.Decode[domain.Arena](arenaAcct)
		if err != nil {
			return nil, err
		}
		if arena.Authority == actor {
			caps = append(caps, CapAuthority)
		}
	case !errors.Is(err, repo.ErrNotFound):
		return nil, err
	}
	ok, err := s.Repo.Exists(ctx, nil, keys.Agent(actor))
	if err != nil {
		return nil, err
	}
	if ok {
		caps = append(caps, CapAgentOwner)
	}
	return caps, nil
}
