package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/agent-playground/internal/meta"
	"github.com/wolfman30/agent-playground/pkg/logging"
)

const channelsConfigKey = "channels"

// MetaGraph is the part of the Graph API client the OAuth flow uses.
type MetaGraph interface {
	AuthorizationURL(channel meta.Channel, state string) (string, error)
	ExchangeCode(ctx context.Context, code string) (*meta.Token, error)
	ExchangeLongLivedToken(ctx context.Context, shortLived string) (*meta.Token, error)
	ListPages(ctx context.Context, userToken string) ([]meta.Page, error)
	SubscribePage(ctx context.Context, pageID, pageToken string, fields []string) error
	SubscribeWhatsAppNumber(ctx context.Context, businessAccountID, token string) error
}

// OAuthStates issues and redeems single-use OAuth states.
type OAuthStates interface {
	Issue(ctx context.Context, pending meta.PendingAuth) (string, error)
	Consume(ctx context.Context, state string) (meta.PendingAuth, error)
}

// MetaOAuthHandler connects an agent to Facebook, Instagram or WhatsApp.
type MetaOAuthHandler struct {
	graph       MetaGraph
	states      OAuthStates
	configs     *ConfigWriter
	redirectURL string
	logger      *logging.Logger
}

// NewMetaOAuthHandler creates the handler. redirectURL, when set, is where
// the browser lands after the callback, with status query parameters.
func NewMetaOAuthHandler(graph MetaGraph, states OAuthStates, configs *ConfigWriter, redirectURL string, logger *logging.Logger) *MetaOAuthHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &MetaOAuthHandler{
		graph:       graph,
		states:      states,
		configs:     configs,
		redirectURL: redirectURL,
		logger:      logger,
	}
}

// Start handles GET /oauth/meta/{channel}/start?agent_id=.
func (h *MetaOAuthHandler) Start(w http.ResponseWriter, r *http.Request) {
	channel, ok := meta.ParseChannel(chi.URLParam(r, "channel"))
	if !ok {
		jsonError(w, "unsupported channel", http.StatusBadRequest)
		return
	}
	agentID := strings.TrimSpace(r.URL.Query().Get("agent_id"))
	if agentID == "" {
		jsonError(w, "agent_id is required", http.StatusBadRequest)
		return
	}

	state, err := h.states.Issue(r.Context(), meta.PendingAuth{AgentID: agentID, Channel: channel})
	if err != nil {
		h.logger.Error("meta oauth state issue failed", "agent_id", agentID, "error", err)
		jsonError(w, "failed to start authorization", http.StatusInternalServerError)
		return
	}
	authURL, err := h.graph.AuthorizationURL(channel, state)
	if err != nil {
		h.logger.Error("meta oauth url build failed", "channel", channel, "error", err)
		jsonError(w, "failed to start authorization", http.StatusInternalServerError)
		return
	}

	if r.URL.Query().Get("format") == "json" {
		writeData(w, http.StatusOK, map[string]string{"url": authURL, "state": state})
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// channelConnection is what the agent config stores per connected channel.
type channelConnection struct {
	Connected       bool            `json:"connected"`
	ConnectedAt     time.Time       `json:"connected_at"`
	TokenExpiresAt  *time.Time      `json:"token_expires_at,omitempty"`
	Pages           []connectedPage `json:"pages,omitempty"`
	BusinessAccount *connectedWABA  `json:"business_account,omitempty"`
}

type connectedPage struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AccessToken string `json:"access_token"`
	InstagramID string `json:"instagram_id,omitempty"`
	Subscribed  bool   `json:"subscribed"`
}

type connectedWABA struct {
	ID          string `json:"id"`
	AccessToken string `json:"access_token"`
	Subscribed  bool   `json:"subscribed"`
}

// Callback handles GET /oauth/meta/callback.
func (h *MetaOAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pending, err := h.states.Consume(r.Context(), q.Get("state"))
	if err != nil {
		if errors.Is(err, meta.ErrStateNotFound) {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("meta oauth state lookup failed", "error", err)
		jsonError(w, "authorization failed", http.StatusInternalServerError)
		return
	}
	log := h.logger.With("agent_id", pending.AgentID, "channel", string(pending.Channel))

	if denied := q.Get("error"); denied != "" {
		log.Warn("meta oauth denied", "error", denied, "reason", q.Get("error_reason"))
		reason := q.Get("error_description")
		if reason == "" {
			reason = "access denied"
		}
		h.finish(w, r, pending, errors.New(reason))
		return
	}
	code := q.Get("code")
	if code == "" {
		jsonError(w, "code is required", http.StatusBadRequest)
		return
	}

	conn, err := h.connect(r.Context(), pending.Channel, code, q.Get("waba_id"), log)
	if err == nil {
		err = h.store(r.Context(), pending, conn)
	}
	if err != nil {
		log.Error("meta oauth callback failed", "error", err)
	} else {
		log.Info("meta channel connected", "pages", len(conn.Pages))
	}
	h.finish(w, r, pending, err)
}

func (h *MetaOAuthHandler) connect(ctx context.Context, channel meta.Channel, code, wabaID string, log *logging.Logger) (channelConnection, error) {
	short, err := h.graph.ExchangeCode(ctx, code)
	if err != nil {
		return channelConnection{}, err
	}
	token, err := h.graph.ExchangeLongLivedToken(ctx, short.AccessToken)
	if err != nil {
		return channelConnection{}, err
	}

	conn := channelConnection{Connected: true, ConnectedAt: time.Now().UTC()}
	if !token.ExpiresAt.IsZero() {
		exp := token.ExpiresAt
		conn.TokenExpiresAt = &exp
	}

	if channel == meta.ChannelWhatsApp {
		if wabaID == "" {
			return channelConnection{}, errors.New("whatsapp business account id missing")
		}
		waba := &connectedWABA{ID: wabaID, AccessToken: token.AccessToken}
		if err := h.graph.SubscribeWhatsAppNumber(ctx, wabaID, token.AccessToken); err != nil {
			log.Warn("whatsapp subscription failed", "waba_id", wabaID, "error", err)
		} else {
			waba.Subscribed = true
		}
		conn.BusinessAccount = waba
		return conn, nil
	}

	pages, err := h.graph.ListPages(ctx, token.AccessToken)
	if err != nil {
		return channelConnection{}, err
	}
	for _, page := range pages {
		cp := connectedPage{ID: page.ID, Name: page.Name, AccessToken: page.AccessToken}
		if page.Instagram != nil {
			cp.InstagramID = page.Instagram.ID
		}
		if channel == meta.ChannelInstagram && cp.InstagramID == "" {
			continue
		}
		if err := h.graph.SubscribePage(ctx, page.ID, page.AccessToken, nil); err != nil {
			log.Warn("page subscription failed", "page_id", page.ID, "error", err)
		} else {
			cp.Subscribed = true
		}
		conn.Pages = append(conn.Pages, cp)
	}
	if len(conn.Pages) == 0 {
		return channelConnection{}, errors.New("no eligible pages granted")
	}
	return conn, nil
}

// store writes the connection under channels.<channel> as a plain JSON
// object so later path writes can address its fields.
func (h *MetaOAuthHandler) store(ctx context.Context, pending meta.PendingAuth, conn channelConnection) error {
	raw, err := json.Marshal(conn)
	if err != nil {
		return err
	}
	value, err := decodeValue(raw)
	if err != nil {
		return err
	}
	if err := h.configs.EnsureObject(ctx, pending.AgentID, channelsConfigKey); err != nil {
		return err
	}
	return h.configs.Set(ctx, pending.AgentID, channelsConfigKey+"."+string(pending.Channel), value)
}

func (h *MetaOAuthHandler) finish(w http.ResponseWriter, r *http.Request, pending meta.PendingAuth, err error) {
	if h.redirectURL == "" {
		if err != nil {
			jsonError(w, "authorization failed: "+err.Error(), http.StatusBadGateway)
			return
		}
		writeData(w, http.StatusOK, map[string]string{"agent_id": pending.AgentID, "channel": string(pending.Channel)})
		return
	}

	target, perr := url.Parse(h.redirectURL)
	if perr != nil {
		jsonError(w, "invalid redirect configuration", http.StatusInternalServerError)
		return
	}
	q := target.Query()
	q.Set("agent_id", pending.AgentID)
	q.Set("channel", string(pending.Channel))
	if err != nil {
		q.Set("status", "error")
		q.Set("message", err.Error())
	} else {
		q.Set("status", "connected")
	}
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}
