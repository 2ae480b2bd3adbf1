package loadcore

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/yourorg/loadcore/pkg/types"
)

// ListAgents returns every agent registered with the middleware.
func (c *Client) ListAgents(ctx context.Context) ([]types.Agent, error) {
	resp, err := c.tr.Get(ctx, c.ep.Agents(), nil)
	if err != nil {
		return nil, err
	}
	var agents []types.Agent
	if err := resp.ExpectJSON(&agents, http.StatusOK); err != nil {
		return nil, err
	}
	return agents, nil
}

func (c *Client) AgentInfo(ctx context.Context, agentID string) (types.Agent, error) {
	resp, err := c.tr.Get(ctx, c.ep.Agent(agentID), nil)
	if err != nil {
		return types.Agent{}, err
	}
	var agent types.Agent
	if err := resp.ExpectJSON(&agent, http.StatusOK); err != nil {
		return types.Agent{}, err
	}
	if agent.ID == "" {
		return types.Agent{}, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	return agent, nil
}

// AgentsInfo returns id, IP and interfaces of every agent, interfaces sorted
// by name.
func (c *Client) AgentsInfo(ctx context.Context) ([]types.Agent, error) {
	agents, err := c.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]types.Agent, 0, len(agents))
	for _, a := range agents {
		ifaces := make([]types.Interface, 0, len(a.Interfaces))
		for _, i := range a.Interfaces {
			ifaces = append(ifaces, types.Interface{Name: i.Name, Mac: i.Mac})
		}
		sort.Slice(ifaces, func(i, j int) bool { return ifaces[i].Name < ifaces[j].Name })
		out = append(out, types.Agent{ID: a.ID, IP: a.IP, Interfaces: ifaces})
	}
	return out, nil
}

// FindAgent returns the agent with the given IP.
func FindAgent(agents []types.Agent, ip string) (types.Agent, error) {
	for _, a := range agents {
		if a.IP == ip {
			return a, nil
		}
	}
	return types.Agent{}, fmt.Errorf("%w: ip %s", ErrAgentNotFound, ip)
}

// MappingFor maps a node onto agent's first interface.
func MappingFor(agent types.Agent) (types.AgentMapping, error) {
	if len(agent.Interfaces) == 0 {
		return types.AgentMapping{}, fmt.Errorf("agent %s has no interfaces", agent.ID)
	}
	return types.AgentMapping{
		AgentID:   agent.ID,
		Interface: agent.Interfaces[0].Name,
		Mac:       agent.Interfaces[0].Mac,
	}, nil
}
