// Package meta connects agents to Facebook, Instagram and WhatsApp through
// the Meta Graph API: OAuth, page and number subscriptions, and webhook
// verification.
package meta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wolfman30/agent-playground/pkg/logging"
)

const (
	defaultGraphAPIBase = "https://graph.facebook.com/v18.0"
	defaultDialogBase   = "https://www.facebook.com/v18.0"
	defaultHTTPTimeout  = 10 * time.Second
)

// Config holds the Meta app credentials.
type Config struct {
	AppID        string
	AppSecret    string
	RedirectURI  string
	GraphAPIBase string
	DialogBase   string
	HTTPClient   *http.Client
	Logger       *logging.Logger
}

// Client runs the OAuth flow and subscription calls for one Meta app.
type Client struct {
	appID        string
	appSecret    string
	redirectURI  string
	graphAPIBase string
	dialogBase   string
	httpClient   *http.Client
	logger       *logging.Logger
	now          func() time.Time
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.AppID) == "" || strings.TrimSpace(cfg.AppSecret) == "" {
		return nil, errors.New("meta: app id and secret required")
	}
	graph := strings.TrimRight(cfg.GraphAPIBase, "/")
	if graph == "" {
		graph = defaultGraphAPIBase
	}
	dialog := strings.TrimRight(cfg.DialogBase, "/")
	if dialog == "" {
		dialog = defaultDialogBase
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		appID:        cfg.AppID,
		appSecret:    cfg.AppSecret,
		redirectURI:  cfg.RedirectURI,
		graphAPIBase: graph,
		dialogBase:   dialog,
		httpClient:   httpClient,
		logger:       logger,
		now:          time.Now,
	}, nil
}

// AuthorizationURL returns the login dialog URL for channel. state must be
// unguessable and checked on callback.
func (c *Client) AuthorizationURL(channel Channel, state string) (string, error) {
	if _, ok := channelScopes[channel]; !ok {
		return "", fmt.Errorf("meta: unknown channel %q", channel)
	}
	if state == "" {
		return "", errors.New("meta: state required")
	}
	params := url.Values{
		"client_id":     {c.appID},
		"redirect_uri":  {c.redirectURI},
		"state":         {state},
		"response_type": {"code"},
		"scope":         {strings.Join(channel.Scopes(), ",")},
	}
	return c.dialogBase + "/dialog/oauth?" + params.Encode(), nil
}

// ExchangeCode trades an authorization code for a short-lived user token.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*Token, error) {
	if code == "" {
		return nil, errors.New("meta: code required")
	}
	params := url.Values{
		"client_id":     {c.appID},
		"client_secret": {c.appSecret},
		"redirect_uri":  {c.redirectURI},
		"code":          {code},
	}
	return c.token(ctx, params)
}

// ExchangeLongLivedToken trades a short-lived user token for a long-lived
// one.
func (c *Client) ExchangeLongLivedToken(ctx context.Context, shortLived string) (*Token, error) {
	if shortLived == "" {
		return nil, errors.New("meta: token required")
	}
	params := url.Values{
		"grant_type":        {"fb_exchange_token"},
		"client_id":         {c.appID},
		"client_secret":     {c.appSecret},
		"fb_exchange_token": {shortLived},
	}
	return c.token(ctx, params)
}

func (c *Client) token(ctx context.Context, params url.Values) (*Token, error) {
	var tok Token
	if err := c.do(ctx, http.MethodGet, "/oauth/access_token", params, &tok); err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, errors.New("meta: empty access token")
	}
	if tok.ExpiresIn > 0 {
		tok.ExpiresAt = c.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	return &tok, nil
}

// ListPages returns the pages managed by the token's user.
func (c *Client) ListPages(ctx context.Context, userToken string) ([]Page, error) {
	params := url.Values{
		"access_token": {userToken},
		"fields":       {"id,name,access_token,category,instagram_business_account"},
	}
	var resp struct {
		Data []Page `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/me/accounts", params, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// SubscribePage subscribes the app to a page's messaging webhooks.
func (c *Client) SubscribePage(ctx context.Context, pageID, pageToken string, fields []string) error {
	if pageID == "" {
		return errors.New("meta: page id required")
	}
	if len(fields) == 0 {
		fields = []string{"messages", "messaging_postbacks"}
	}
	params := url.Values{
		"access_token":      {pageToken},
		"subscribed_fields": {strings.Join(fields, ",")},
	}
	return c.subscribe(ctx, "/"+url.PathEscape(pageID)+"/subscribed_apps", params)
}

// SubscribeWhatsAppNumber subscribes the app to a WhatsApp Business
// account's webhooks.
func (c *Client) SubscribeWhatsAppNumber(ctx context.Context, businessAccountID, token string) error {
	if businessAccountID == "" {
		return errors.New("meta: whatsapp business account id required")
	}
	params := url.Values{"access_token": {token}}
	return c.subscribe(ctx, "/"+url.PathEscape(businessAccountID)+"/subscribed_apps", params)
}

func (c *Client) subscribe(ctx context.Context, path string, params url.Values) error {
	var resp struct {
		Success bool `json:"success"`
	}
	if err := c.do(ctx, http.MethodPost, path, params, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("meta: subscription to %s not acknowledged", path)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, out any) error {
	endpoint := c.graphAPIBase + path
	var body io.Reader
	if method == http.MethodGet {
		endpoint += "?" + params.Encode()
	} else {
		body = strings.NewReader(params.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("meta: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("meta: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("meta: read response: %w", err)
	}

	var envelope struct {
		Error *GraphError `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error != nil {
		c.logger.Warn("meta graph call failed", "path", path, "status", resp.StatusCode, "code", envelope.Error.Code)
		return envelope.Error
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("meta: unexpected status %d: %s", resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("meta: unmarshal response: %w", err)
	}
	return nil
}
