package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// AssistantFile is a whole document hosted by the assistant API.
type AssistantFile struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Status   string            `json:"status,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// AssistantConfig describes how to reach the assistant file API.
type AssistantConfig struct {
	BaseURL    string
	APIKey     string
	Assistant  string
	Timeout    time.Duration
	RatePerSec float64
	HTTPClient *http.Client
}

// AssistantClient uploads, looks up and deletes assistant documents. Each
// document carries the training id it was ingested under in its metadata.
type AssistantClient struct {
	baseURL   string
	apiKey    string
	assistant string
	http      *http.Client
	limiter   *rate.Limiter
}

// NewAssistantClient validates the configuration and returns a client.
func NewAssistantClient(cfg AssistantConfig) (*AssistantClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("vectorstore: assistant base URL required")
	}
	if strings.TrimSpace(cfg.Assistant) == "" {
		return nil, errors.New("vectorstore: assistant name required")
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
	return &AssistantClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		assistant: cfg.Assistant,
		http:      httpClient,
		limiter:   rate.NewLimiter(limit, 1),
	}, nil
}

func (c *AssistantClient) filesPath() string {
	return "/assistant/files/" + url.PathEscape(c.assistant)
}

// UploadDocument uploads a file and tags it with metadata.
func (c *AssistantClient) UploadDocument(ctx context.Context, name string, content io.Reader, metadata map[string]string) (*AssistantFile, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: create form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("vectorstore: copy upload: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("vectorstore: close form: %w", err)
	}

	path := c.filesPath()
	if len(metadata) > 0 {
		meta, err := json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("vectorstore: encode metadata: %w", err)
		}
		path += "?" + url.Values{"metadata": {string(meta)}}.Encode()
	}

	raw, err := c.do(ctx, http.MethodPost, path, form.FormDataContentType(), &buf)
	if err != nil {
		return nil, err
	}
	var file AssistantFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("vectorstore: decode upload: %w", err)
	}
	return &file, nil
}

// FindDocument returns the id of the document ingested under trainingID, or
// "" when there is none.
func (c *AssistantClient) FindDocument(ctx context.Context, trainingID string) (string, error) {
	filter, err := json.Marshal(map[string]string{"training_id": trainingID})
	if err != nil {
		return "", fmt.Errorf("vectorstore: encode filter: %w", err)
	}
	raw, err := c.do(ctx, http.MethodGet, c.filesPath()+"?"+url.Values{"filter": {string(filter)}}.Encode(), "", nil)
	if err != nil {
		return "", err
	}
	var resp struct {
		Files []AssistantFile `json:"files"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("vectorstore: decode files: %w", err)
	}
	for _, f := range resp.Files {
		if f.Metadata["training_id"] == trainingID {
			return f.ID, nil
		}
	}
	return "", nil
}

// DeleteDocument removes a hosted document.
func (c *AssistantClient) DeleteDocument(ctx context.Context, fileID string) error {
	if fileID == "" {
		return errors.New("vectorstore: file id required")
	}
	_, err := c.do(ctx, http.MethodDelete, c.filesPath()+"/"+url.PathEscape(fileID), "", nil)
	return err
}

func (c *AssistantClient) do(ctx context.Context, method, path, contentType string, body io.Reader) ([]byte, error) {
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
		return nil, fmt.Errorf("vectorstore: assistant %s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("vectorstore: assistant unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}
