// Package scraper is the client for the web crawl microservice.
package scraper

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
	"golang.org/x/net/idna"
	"golang.org/x/time/rate"
)

// ErrInvalidURL is returned when a crawl target is not an absolute http(s) URL.
var ErrInvalidURL = errors.New("scraper: url must be an absolute http or https URL")

// Config describes how to reach the crawl service.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	RatePerSec float64
	HTTPClient *http.Client
}

// Client starts crawls and reads their status.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient validates the configuration and returns a client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("scraper: base URL required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

// StartRequest asks the crawl service to crawl a site for an agent.
type StartRequest struct {
	URL      string `json:"url"`
	AgentID  string `json:"agent_id"`
	MaxPages int    `json:"max_pages,omitempty"`
}

// StartCrawl starts a crawl and returns the job id.
func (c *Client) StartCrawl(ctx context.Context, req StartRequest) (string, error) {
	if strings.TrimSpace(req.AgentID) == "" {
		return "", errors.New("scraper: agent id required")
	}
	normalized, err := NormalizeURL(req.URL)
	if err != nil {
		return "", err
	}
	req.URL = normalized

	var out struct {
		JobID string `json:"jobId"`
	}
	if err := c.call(ctx, http.MethodPost, "/crawl", req, &out); err != nil {
		return "", err
	}
	if out.JobID == "" {
		return "", errors.New("scraper: crawl started without job id")
	}
	return out.JobID, nil
}

// JobStatus returns the content records produced by a crawl job so far.
func (c *Client) JobStatus(ctx context.Context, jobID string) ([]playground.TrainingRecord, error) {
	if jobID == "" {
		return nil, errors.New("scraper: job id required")
	}
	var out struct {
		Records []playground.TrainingRecord `json:"records"`
	}
	if err := c.call(ctx, http.MethodGet, "/crawl/"+url.PathEscape(jobID)+"/status", nil, &out); err != nil {
		return nil, err
	}
	for i := range out.Records {
		if out.Records[i].JobID == "" {
			out.Records[i].JobID = jobID
		}
	}
	return out.Records, nil
}

// DeleteAndRecrawl drops the stored content for one URL and crawls it again,
// returning the new job id.
func (c *Client) DeleteAndRecrawl(ctx context.Context, agentID, rawURL string) (string, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return "", err
	}
	var out struct {
		JobID string `json:"jobId"`
	}
	payload := map[string]string{"agent_id": agentID, "url": normalized}
	if err := c.call(ctx, http.MethodPost, "/crawl/recrawl", payload, &out); err != nil {
		return "", err
	}
	return out.JobID, nil
}

func (c *Client) call(ctx context.Context, method, path string, payload, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("scraper: rate limit wait: %w", err)
	}
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("scraper: encode payload: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("scraper: create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("scraper: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("scraper: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("scraper: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var env playground.SuccessEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("scraper: decode response: %w", err)
	}
	if !env.Success {
		if env.Error == "" {
			env.Error = "request rejected"
		}
		return fmt.Errorf("scraper: %s", env.Error)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("scraper: decode data: %w", err)
	}
	return nil
}

// NormalizeURL validates a crawl target and converts an internationalised
// host to its ASCII form.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", ErrInvalidURL
	}
	host, err := idna.Lookup.ToASCII(u.Hostname())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if port := u.Port(); port != "" {
		host += ":" + port
	}
	u.Host = strings.ToLower(host)
	u.Fragment = ""
	return u.String(), nil
}
