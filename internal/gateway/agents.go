package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/wolfman30/agent-playground/internal/playground"
)

// GetAgent fetches the agent document, including its embedded training data.
func (c *Client) GetAgent(ctx context.Context, agentID string) (*playground.Agent, error) {
	var agent playground.Agent
	if err := c.call(ctx, http.MethodGet, EndpointAgent, map[string]string{"agentId": agentID}, nil, nil, &agent); err != nil {
		return nil, err
	}
	if agent.ID == "" {
		agent.ID = agentID
	}
	return &agent, nil
}

// SaveAgent persists the whole agent document. The gateway applies last
// write wins; no version check is sent.
func (c *Client) SaveAgent(ctx context.Context, agent *playground.Agent) error {
	if agent == nil || agent.ID == "" {
		return errors.New("gateway: agent id required")
	}
	if agent.TrainingData == nil {
		agent.TrainingData = []playground.TrainingEntry{}
	}
	return c.call(ctx, http.MethodPut, EndpointAgent, map[string]string{"agentId": agent.ID}, nil, agent, nil)
}

// UpdateAgentConfig replaces only the configuration document of an agent.
func (c *Client) UpdateAgentConfig(ctx context.Context, agentID string, config playground.ConfigDocument) error {
	payload := map[string]any{"config": config}
	return c.call(ctx, http.MethodPut, EndpointAgentConfig, map[string]string{"agentId": agentID}, nil, payload, nil)
}
