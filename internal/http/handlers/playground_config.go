package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/agent-playground/internal/configdoc"
	"github.com/wolfman30/agent-playground/internal/observability/metrics"
	"github.com/wolfman30/agent-playground/internal/playground"
	"github.com/wolfman30/agent-playground/pkg/logging"
)

// AgentConfigStore reads agents and persists their configuration documents.
type AgentConfigStore interface {
	GetAgent(ctx context.Context, agentID string) (*playground.Agent, error)
	UpdateAgentConfig(ctx context.Context, agentID string, config playground.ConfigDocument) error
}

// ConfigWriter applies path writes to agent configuration documents. It is
// shared by the config, avatar and Meta OAuth handlers.
type ConfigWriter struct {
	agents  AgentConfigStore
	metrics *metrics.PlaygroundMetrics
	logger  *logging.Logger
}

func NewConfigWriter(agents AgentConfigStore, m *metrics.PlaygroundMetrics, logger *logging.Logger) *ConfigWriter {
	if logger == nil {
		logger = logging.Default()
	}
	return &ConfigWriter{agents: agents, metrics: m, logger: logger}
}

// Set writes value at path in the agent's config and persists the document.
// Parent nodes are not created; see EnsureObject.
func (c *ConfigWriter) Set(ctx context.Context, agentID, path string, value any) error {
	agent, err := c.agents.GetAgent(ctx, agentID)
	if err != nil {
		c.metrics.ObserveConfigWrite("failed")
		return err
	}
	doc := agent.Config
	if doc == nil {
		doc = playground.ConfigDocument{}
	}
	updated, err := configdoc.SetValueAtPath(doc, path, value)
	if err != nil {
		c.metrics.ObserveConfigWrite("invalid")
		return err
	}
	if err := c.agents.UpdateAgentConfig(ctx, agentID, updated.(map[string]any)); err != nil {
		c.metrics.ObserveConfigWrite("failed")
		return err
	}
	c.metrics.ObserveConfigWrite("ok")
	c.logger.Info("agent config updated", "agent_id", agentID, "path", path)
	return nil
}

// EnsureObject creates an empty object at key in the config root when the
// key is absent, so nested writes below it can succeed.
func (c *ConfigWriter) EnsureObject(ctx context.Context, agentID, key string) error {
	agent, err := c.agents.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if _, ok := agent.Config[key].(map[string]any); ok {
		return nil
	}
	return c.Set(ctx, agentID, key, map[string]any{})
}

// redactedValue replaces stored credentials in config reads.
const redactedValue = "[redacted]"

// Get reads the value at path, or the whole document when path is empty.
// Access tokens anywhere in the result are redacted.
func (c *ConfigWriter) Get(ctx context.Context, agentID, path string) (any, error) {
	agent, err := c.agents.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	doc := agent.Config
	if doc == nil {
		doc = playground.ConfigDocument{}
	}
	if path == "" {
		return redactSecrets(doc), nil
	}
	v, err := configdoc.GetValueAtPath(doc, path)
	if err != nil {
		return nil, err
	}
	if isSecretKey(path[strings.LastIndex(path, ".")+1:]) {
		return redactLeaf(v), nil
	}
	return redactSecrets(v), nil
}

// redactSecrets returns a copy of v with every access token leaf replaced.
// The stored document is left untouched.
func redactSecrets(v any) any {
	switch node := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(node))
		for k, child := range node {
			if isSecretKey(k) {
				out[k] = redactLeaf(child)
				continue
			}
			out[k] = redactSecrets(child)
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, child := range node {
			out[i] = redactSecrets(child)
		}
		return out
	}
	return v
}

func isSecretKey(key string) bool {
	key = strings.ToLower(key)
	return key == "access_token" || strings.HasSuffix(key, "_access_token")
}

func redactLeaf(v any) any {
	if s, ok := v.(string); ok && s == "" {
		return s
	}
	if v == nil {
		return nil
	}
	return redactedValue
}

// ConfigHandler serves reads and path writes of agent configuration.
type ConfigHandler struct {
	writer *ConfigWriter
	logger *logging.Logger
}

func NewConfigHandler(writer *ConfigWriter, logger *logging.Logger) *ConfigHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ConfigHandler{writer: writer, logger: logger}
}

type configPatchRequest struct {
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value"`
}

// Patch handles PATCH /playground/agents/{agentID}/config.
func (h *ConfigHandler) Patch(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	var req configPatchRequest
	if err := decodeBody(w, r, &req); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	req.Path = strings.TrimSpace(req.Path)
	if req.Path == "" {
		jsonError(w, "path is required", http.StatusBadRequest)
		return
	}
	if len(req.Value) == 0 {
		jsonError(w, "value is required", http.StatusBadRequest)
		return
	}
	value, err := decodeValue(req.Value)
	if err != nil {
		jsonError(w, "invalid value", http.StatusBadRequest)
		return
	}

	if err := h.writer.Set(r.Context(), agentID, req.Path, value); err != nil {
		h.writeConfigError(w, agentID, req.Path, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"path": req.Path, "value": value})
}

// Get handles GET /playground/agents/{agentID}/config?path=.
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	path := strings.TrimSpace(r.URL.Query().Get("path"))

	value, err := h.writer.Get(r.Context(), agentID, path)
	if err != nil {
		h.writeConfigError(w, agentID, path, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"path": path, "value": value})
}

func (h *ConfigHandler) writeConfigError(w http.ResponseWriter, agentID, path string, err error) {
	switch {
	case errors.Is(err, configdoc.ErrEmptyPath),
		errors.Is(err, configdoc.ErrPathNotFound),
		errors.Is(err, configdoc.ErrInvalidIndex):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, playground.ErrNotFound):
		jsonError(w, "agent not found", http.StatusNotFound)
	default:
		h.logger.Error("agent config request failed", "agent_id", agentID, "path", path, "error", err)
		jsonError(w, "agent config request failed", http.StatusBadGateway)
	}
}

func decodeValue(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return v, nil
}
