// Package gateway is the client for the playground backend gateway: chats,
// agent documents, webhook registrations and scraped content records.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wolfman30/agent-playground/internal/playground"
	"github.com/wolfman30/agent-playground/pkg/logging"
)

// Config describes how to reach the backend gateway.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// Client calls the backend gateway REST API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *logging.Logger
}

// NewClient validates the configuration and returns a ready-to-use client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("gateway: base URL required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    httpClient,
		logger:  logger,
	}, nil
}

// APIError is returned for non-2xx responses and `success: false` payloads.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway: %s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("gateway: %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// Is lets errors.Is(err, playground.ErrNotFound) match gateway 404s.
func (e *APIError) Is(target error) bool {
	return target == playground.ErrNotFound && e.StatusCode == http.StatusNotFound
}

// IsNotFound reports whether err is a 404 from the gateway.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// call expands the endpoint template, performs the request and decodes the
// unwrapped data into out (when non-nil).
func (c *Client) call(ctx context.Context, method, template string, params map[string]string, query url.Values, payload, out any) error {
	path, err := Expand(template, params)
	if err != nil {
		return err
	}
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("gateway: failed to encode payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("gateway: request build failed: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: %s %s failed: %w", method, template, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("gateway: read response failed: %w", err)
	}

	data, err := unwrap(resp.StatusCode, raw)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			apiErr.Method = method
			apiErr.Path = template
		}
		c.logger.Debug("gateway call failed", "method", method, "endpoint", template, "status", resp.StatusCode, "error", err)
		return err
	}
	if out == nil || len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("gateway: decode %s response: %w", template, err)
	}
	return nil
}
