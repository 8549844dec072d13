package gateway

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Endpoint templates. Placeholders are substituted by Expand.
const (
	EndpointChats         = "/clients/:clientId/chats"
	EndpointChat          = "/clients/:clientId/chats/:chatId"
	EndpointAgent         = "/agents/:agentId"
	EndpointAgentConfig   = "/agents/:agentId/config"
	EndpointWebhooks      = "/clients/:clientId/webhooks"
	EndpointWebhook       = "/clients/:clientId/webhooks/:webhookId"
	EndpointAgentContent  = "/agents/:agentId/scraped-content"
	EndpointContent       = "/scraped-content/:contentId"
	EndpointContentDelete = "/scraped-content/batch-delete"
)

// Expand substitutes `:name` placeholders in template with path-escaped
// values from params. Every placeholder must be provided.
func Expand(template string, params map[string]string) (string, error) {
	segments := strings.Split(template, "/")
	for i, seg := range segments {
		if !strings.HasPrefix(seg, ":") {
			continue
		}
		name := seg[1:]
		value := strings.TrimSpace(params[name])
		if value == "" {
			return "", fmt.Errorf("gateway: missing path parameter %q for %s", name, template)
		}
		segments[i] = url.PathEscape(value)
	}
	return strings.Join(segments, "/"), nil
}

// unwrap checks the HTTP status and strips the response envelope. The gateway
// answers either `{statusCode, data}` or `{success, data | error}`; bare
// payloads are passed through.
func unwrap(status int, body []byte) (json.RawMessage, error) {
	var probe map[string]json.RawMessage
	isObject := json.Unmarshal(body, &probe) == nil && probe != nil

	if status < 200 || status > 299 {
		return nil, &APIError{StatusCode: status, Message: errorMessage(probe, body)}
	}
	if !isObject {
		return body, nil
	}

	if rawSuccess, ok := probe["success"]; ok {
		var success bool
		if err := json.Unmarshal(rawSuccess, &success); err != nil {
			return nil, fmt.Errorf("gateway: malformed success flag: %w", err)
		}
		if !success {
			return nil, &APIError{StatusCode: status, Message: errorMessage(probe, body)}
		}
		return probe["data"], nil
	}

	if rawCode, ok := probe["statusCode"]; ok {
		var code int
		if err := json.Unmarshal(rawCode, &code); err != nil {
			return nil, fmt.Errorf("gateway: malformed statusCode: %w", err)
		}
		if code < 200 || code > 299 {
			return nil, &APIError{StatusCode: code, Message: errorMessage(probe, body)}
		}
		return probe["data"], nil
	}
	return body, nil
}

func errorMessage(probe map[string]json.RawMessage, body []byte) string {
	for _, key := range []string{"error", "message"} {
		raw, ok := probe[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(raw, &nested); err == nil && nested.Message != "" {
			return nested.Message
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
