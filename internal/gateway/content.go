package gateway

import (
	"context"
	"net/http"
	"net/url"

	"github.com/wolfman30/agent-playground/internal/playground"
)

// ListContent returns the scraped content records of an agent, optionally
// restricted to one crawl job.
func (c *Client) ListContent(ctx context.Context, agentID, jobID string) ([]playground.TrainingRecord, error) {
	var query url.Values
	if jobID != "" {
		query = url.Values{"jobId": {jobID}}
	}
	var records []playground.TrainingRecord
	err := c.call(ctx, http.MethodGet, EndpointAgentContent, map[string]string{"agentId": agentID}, query, nil, &records)
	return records, err
}

// GetContent fetches a single scraped content record.
func (c *Client) GetContent(ctx context.Context, contentID string) (*playground.TrainingRecord, error) {
	var rec playground.TrainingRecord
	if err := c.call(ctx, http.MethodGet, EndpointContent, map[string]string{"contentId": contentID}, nil, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateContent inserts a scraped content record.
func (c *Client) CreateContent(ctx context.Context, rec playground.TrainingRecord) (*playground.TrainingRecord, error) {
	var out playground.TrainingRecord
	if err := c.call(ctx, http.MethodPost, EndpointAgentContent, map[string]string{"agentId": rec.AgentID}, nil, rec, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteContent removes the given records in one batch call.
func (c *Client) DeleteContent(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return c.call(ctx, http.MethodPost, EndpointContentDelete, nil, nil, map[string]any{"ids": ids}, nil)
}
