package gateway

import (
	"context"
	"net/http"
	"time"
)

// Chat is a playground conversation owned by a client.
type Chat struct {
	ID        string        `json:"id"`
	ClientID  string        `json:"client_id"`
	AgentID   string        `json:"agent_id,omitempty"`
	Title     string        `json:"title,omitempty"`
	Channel   string        `json:"channel,omitempty"`
	Messages  []ChatMessage `json:"messages,omitempty"`
	CreatedAt time.Time     `json:"created_at,omitempty"`
	UpdatedAt time.Time     `json:"updated_at,omitempty"`
}

// ChatMessage is one turn of a chat.
type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// ListChats returns every chat of a client.
func (c *Client) ListChats(ctx context.Context, clientID string) ([]Chat, error) {
	var chats []Chat
	err := c.call(ctx, http.MethodGet, EndpointChats, map[string]string{"clientId": clientID}, nil, nil, &chats)
	return chats, err
}

// GetChat fetches one chat.
func (c *Client) GetChat(ctx context.Context, clientID, chatID string) (*Chat, error) {
	var chat Chat
	params := map[string]string{"clientId": clientID, "chatId": chatID}
	if err := c.call(ctx, http.MethodGet, EndpointChat, params, nil, nil, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

// CreateChat creates a chat for chat.ClientID.
func (c *Client) CreateChat(ctx context.Context, chat Chat) (*Chat, error) {
	var out Chat
	params := map[string]string{"clientId": chat.ClientID}
	if err := c.call(ctx, http.MethodPost, EndpointChats, params, nil, chat, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateChat replaces the chat identified by chat.ClientID / chat.ID.
func (c *Client) UpdateChat(ctx context.Context, chat Chat) (*Chat, error) {
	var out Chat
	params := map[string]string{"clientId": chat.ClientID, "chatId": chat.ID}
	if err := c.call(ctx, http.MethodPut, EndpointChat, params, nil, chat, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteChat removes a chat.
func (c *Client) DeleteChat(ctx context.Context, clientID, chatID string) error {
	params := map[string]string{"clientId": clientID, "chatId": chatID}
	return c.call(ctx, http.MethodDelete, EndpointChat, params, nil, nil, nil)
}
