package meta

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/wolfman30/agent-playground/pkg/logging"
)

const maxWebhookBody = 1 << 20

// DeliveryClaimer records handled deliveries. Claim returns false when the
// delivery was already claimed.
type DeliveryClaimer interface {
	Claim(ctx context.Context, provider, deliveryID string) (bool, error)
}

// WebhookHandler handles Meta webhook verification and event delivery for
// every connected channel.
type WebhookHandler struct {
	verifyToken string
	appSecret   string
	onEvent     func(WebhookEvent)
	deliveries  DeliveryClaimer
	logger      *logging.Logger
}

// NewWebhookHandler creates a webhook handler. onEvent is called once per
// verified payload.
func NewWebhookHandler(verifyToken, appSecret string, onEvent func(WebhookEvent), logger *logging.Logger) *WebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		verifyToken: verifyToken,
		appSecret:   appSecret,
		onEvent:     onEvent,
		logger:      logger,
	}
}

// WithDeliveries drops redelivered payloads, keyed by the body digest.
func (h *WebhookHandler) WithDeliveries(d DeliveryClaimer) *WebhookHandler {
	h.deliveries = d
	return h
}

// HandleVerification answers the GET subscription challenge from Meta.
func (h *WebhookHandler) HandleVerification(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && h.verifyToken != "" && token == h.verifyToken {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, challenge)
		return
	}

	h.logger.Warn("meta webhook verification rejected", "mode", mode)
	http.Error(w, "Forbidden", http.StatusForbidden)
}

// HandleEvent verifies the payload signature and dispatches the event.
func (h *WebhookHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if !VerifySignature(h.appSecret, body, r.Header.Get("X-Hub-Signature-256")) {
		h.logger.Warn("meta webhook signature mismatch")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if h.deliveries != nil {
		sum := sha256.Sum256(body)
		fresh, err := h.deliveries.Claim(r.Context(), "meta", hex.EncodeToString(sum[:]))
		if err != nil {
			h.logger.Warn("meta webhook delivery claim failed", "error", err)
		} else if !fresh {
			h.logger.Info("meta webhook redelivery ignored", "object", event.Object)
			w.WriteHeader(http.StatusOK)
			return
		}
	}

	// Meta retries unless it gets a fast 200.
	w.WriteHeader(http.StatusOK)

	h.logger.Info("meta webhook received", "object", event.Object, "entries", len(event.Entry))
	if h.onEvent != nil {
		h.onEvent(event)
	}
}

// VerifySignature checks an X-Hub-Signature-256 header against body.
func VerifySignature(appSecret string, body []byte, signature string) bool {
	if appSecret == "" || signature == "" {
		return false
	}

	const prefix = "sha256="
	if len(signature) <= len(prefix) || signature[:len(prefix)] != prefix {
		return false
	}
	sigHex := signature[len(prefix):]

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(sigHex))
}
