// Package vectorstore talks to the Pinecone-compatible index that holds each
// agent's embedded training chunks, one namespace per agent.
package vectorstore

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

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout   = 20 * time.Second
	deleteBatchSize  = 1000
	defaultChunkSize = 350 // words per chunk
)

// Config describes how to reach the index.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	RatePerSec float64
	ChunkWords int
	HTTPClient *http.Client
}

// Client performs record upserts, deletes and listings against an index.
type Client struct {
	baseURL    string
	apiKey     string
	http       *http.Client
	limiter    *rate.Limiter
	chunkWords int
	newID      func() string
}

// NewClient validates the configuration and returns a client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("vectorstore: base URL required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	chunkWords := cfg.ChunkWords
	if chunkWords <= 0 {
		chunkWords = defaultChunkSize
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		http:       httpClient,
		limiter:    rate.NewLimiter(limit, 1),
		chunkWords: chunkWords,
		newID:      uuid.NewString,
	}, nil
}

// Upsert splits text into word chunks, stores one record per chunk and
// returns the generated training ids in chunk order.
func (c *Client) Upsert(ctx context.Context, namespace, text string, metadata map[string]string) ([]string, error) {
	if namespace == "" {
		return nil, errors.New("vectorstore: namespace required")
	}
	chunks := Chunk(text, c.chunkWords)
	if len(chunks) == 0 {
		return nil, errors.New("vectorstore: no content to index")
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	ids := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		id := c.newID()
		record := map[string]any{"_id": id, "chunk_text": chunk}
		for k, v := range metadata {
			record[k] = v
		}
		if err := enc.Encode(record); err != nil {
			return nil, fmt.Errorf("vectorstore: encode record: %w", err)
		}
		ids = append(ids, id)
	}

	path := "/records/namespaces/" + url.PathEscape(namespace) + "/upsert"
	if _, err := c.do(ctx, http.MethodPost, path, "application/x-ndjson", &body); err != nil {
		return nil, err
	}
	return ids, nil
}

// Delete removes the given ids from namespace, batching to the index limit.
func (c *Client) Delete(ctx context.Context, namespace string, ids []string) error {
	if namespace == "" {
		return errors.New("vectorstore: namespace required")
	}
	for start := 0; start < len(ids); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		payload, err := json.Marshal(map[string]any{"ids": ids[start:end], "namespace": namespace})
		if err != nil {
			return fmt.Errorf("vectorstore: encode delete: %w", err)
		}
		if _, err := c.do(ctx, http.MethodPost, "/vectors/delete", "application/json", bytes.NewReader(payload)); err != nil {
			return err
		}
	}
	return nil
}

type listResponse struct {
	Vectors []struct {
		ID string `json:"id"`
	} `json:"vectors"`
	Pagination *struct {
		Next string `json:"next"`
	} `json:"pagination,omitempty"`
}

// List returns every record id in namespace that starts with prefix.
func (c *Client) List(ctx context.Context, namespace, prefix string) ([]string, error) {
	var ids []string
	token := ""
	for {
		q := url.Values{"namespace": {namespace}}
		if prefix != "" {
			q.Set("prefix", prefix)
		}
		if token != "" {
			q.Set("paginationToken", token)
		}
		raw, err := c.do(ctx, http.MethodGet, "/vectors/list?"+q.Encode(), "", nil)
		if err != nil {
			return nil, err
		}
		var resp listResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("vectorstore: decode list: %w", err)
		}
		for _, v := range resp.Vectors {
			ids = append(ids, v.ID)
		}
		if resp.Pagination == nil || resp.Pagination.Next == "" {
			return ids, nil
		}
		token = resp.Pagination.Next
	}
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("vectorstore: rate limit wait: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: create request: %w", err)
	}
	req.Header.Set("Api-Key", c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("vectorstore: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

// Chunk splits text into pieces of at most words words. Whitespace is
// normalised to single spaces.
func Chunk(text string, words int) []string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}
	if words <= 0 {
		words = defaultChunkSize
	}
	var chunks []string
	for start := 0; start < len(fields); start += words {
		end := start + words
		if end > len(fields) {
			end = len(fields)
		}
		chunks = append(chunks, strings.Join(fields[start:end], " "))
	}
	return chunks
}
