package engine

import (
	"context"
	"strings"

	"signalwars/internal/domain"
	"signalwars/internal/events"
	"signalwars/internal/keys"
)

// RegisterAgent creates the one agent an owner may hold and counts it on
// the arena in the same transaction.
func (e Engine) RegisterAgent(ctx context.Context, owner, name, endpoint string) (domain.Agent, error) {
	if strings.TrimSpace(owner) == "" {
		return domain.Agent{}, errorf(ErrUnauthorized, "owner identity required")
	}
	limits := e.config().Limits
	if strings.TrimSpace(name) == "" {
		return domain.Agent{}, ErrInvalidName
	}
	if len(name) > limits.NameMax {
		return domain.Agent{}, errorf(ErrNameTooLong, "name is %d bytes, limit %d", len(name), limits.NameMax)
	}
	if len(endpoint) > limits.EndpointMax {
		return domain.Agent{}, errorf(ErrEndpointTooLong, "endpoint is %d bytes, limit %d", len(endpoint), limits.EndpointMax)
	}
	o, err := e.begin(ctx)
	if err != nil {
		return domain.Agent{}, err
	}
	defer o.tx.Rollback()

	arena, arenaAcct, err := e.loadArena(ctx, o.tx)
	if err != nil {
		return domain.Agent{}, err
	}
	agent := domain.Agent{
		Key:      keys.Agent(owner),
		Owner:    owner,
		Name:     name,
		Endpoint: endpoint,
		Rank:     domain.RankBronze,
		JoinedAt: o.unix(),
	}
	if _, err := e.create(ctx, o, agent.Key, domain.KindAgent, "", owner, string(agent.Rank), agent, ErrAlreadyExists); err != nil {
		return domain.Agent{}, err
	}
	arena.TotalAgents++
	if err := e.save(ctx, o, &arenaAcct, "", arena); err != nil {
		return domain.Agent{}, err
	}
	if err := e.appendEvent(ctx, o, "agent.registered", domain.KindAgent, agent.Key, owner, events.EventPayload{"name": name, "endpoint": endpoint, "total_agents": arena.TotalAgents}); err != nil {
		return domain.Agent{}, err
	}
	if err := o.tx.Commit(); err != nil {
		return domain.Agent{}, err
	}
	return agent, nil
}
