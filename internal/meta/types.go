package meta

import (
	"fmt"
	"time"
)

// Channel is a Meta messaging surface an agent can be connected to.
type Channel string

const (
	ChannelFacebook  Channel = "facebook"
	ChannelInstagram Channel = "instagram"
	ChannelWhatsApp  Channel = "whatsapp"
)

var channelScopes = map[Channel][]string{
	ChannelFacebook: {
		"pages_show_list", "pages_messaging", "pages_manage_metadata", "pages_read_engagement",
	},
	ChannelInstagram: {
		"pages_show_list", "pages_manage_metadata", "instagram_basic", "instagram_manage_messages",
	},
	ChannelWhatsApp: {
		"business_management", "whatsapp_business_management", "whatsapp_business_messaging",
	},
}

// ParseChannel validates a channel name.
func ParseChannel(s string) (Channel, bool) {
	c := Channel(s)
	_, ok := channelScopes[c]
	return c, ok
}

// Scopes returns the permissions requested for the channel.
func (c Channel) Scopes() []string {
	return append([]string(nil), channelScopes[c]...)
}

// Token is a user access token returned by the Graph API.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type,omitempty"`
	ExpiresIn   int64     `json:"expires_in,omitempty"`
	ExpiresAt   time.Time `json:"-"`
}

// Page is a Facebook page the user manages, with its page token.
type Page struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AccessToken string `json:"access_token"`
	Category    string `json:"category,omitempty"`
	Instagram   *struct {
		ID string `json:"id"`
	} `json:"instagram_business_account,omitempty"`
}

// GraphError is the error object returned by the Graph API.
type GraphError struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	FBTraceID string `json:"fbtrace_id,omitempty"`
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("meta: graph error %d: %s", e.Code, e.Message)
}

// WebhookEvent is the top-level structure received from Meta's webhook.
type WebhookEvent struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry is one object's batch of changes or messages.
type Entry struct {
	ID        string      `json:"id"`
	Time      int64       `json:"time"`
	Changes   []Change    `json:"changes,omitempty"`
	Messaging []Messaging `json:"messaging,omitempty"`
}

// Change is a field-level change notification (WhatsApp, page feed).
type Change struct {
	Field string         `json:"field"`
	Value map[string]any `json:"value"`
}

// Messaging is a Messenger or Instagram messaging event.
type Messaging struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Timestamp int64 `json:"timestamp"`
	Message   *struct {
		MID  string `json:"mid"`
		Text string `json:"text"`
	} `json:"message,omitempty"`
}
