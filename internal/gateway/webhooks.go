package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Webhook is an outbound webhook registration for a client.
type Webhook struct {
	ID       string   `json:"id,omitempty"`
	ClientID string   `json:"client_id"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret,omitempty"`
	Active   bool     `json:"active"`
}

// ListWebhooks returns the client's webhook registrations.
func (c *Client) ListWebhooks(ctx context.Context, clientID string) ([]Webhook, error) {
	var hooks []Webhook
	err := c.call(ctx, http.MethodGet, EndpointWebhooks, map[string]string{"clientId": clientID}, nil, nil, &hooks)
	return hooks, err
}

// RegisterWebhook registers a new webhook.
func (c *Client) RegisterWebhook(ctx context.Context, hook Webhook) (*Webhook, error) {
	if strings.TrimSpace(hook.URL) == "" {
		return nil, errors.New("gateway: webhook url required")
	}
	var out Webhook
	if err := c.call(ctx, http.MethodPost, EndpointWebhooks, map[string]string{"clientId": hook.ClientID}, nil, hook, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteWebhook removes a webhook registration.
func (c *Client) DeleteWebhook(ctx context.Context, clientID, webhookID string) error {
	params := map[string]string{"clientId": clientID, "webhookId": webhookID}
	return c.call(ctx, http.MethodDelete, EndpointWebhook, params, nil, nil, nil)
}
