package meta

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	secret := "test_app_secret"
	body := []byte(`{"object":"page","entry":[]}`)
	validSig := sign(secret, body)

	tests := []struct {
		name      string
		secret    string
		body      []byte
		signature string
		want      bool
	}{
		{"valid signature", secret, body, validSig, true},
		{"wrong signature", secret, body, "sha256=0000000000000000000000000000000000000000000000000000000000000000", false},
		{"empty signature", secret, body, "", false},
		{"empty secret", "", body, validSig, false},
		{"missing prefix", secret, body, "abcdef", false},
		{"sha1 prefix", secret, body, "sha1=" + validSig[len("sha256="):], false},
		{"tampered body", secret, []byte(`tampered`), validSig, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifySignature(tt.secret, tt.body, tt.signature); got != tt.want {
				t.Errorf("VerifySignature() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHandleVerification(t *testing.T) {
	h := NewWebhookHandler("my_verify_token", "secret", nil, nil)

	t.Run("valid challenge", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet,
			"/webhooks/meta?hub.mode=subscribe&hub.verify_token=my_verify_token&hub.challenge=CHALLENGE_123", nil)
		w := httptest.NewRecorder()
		h.HandleVerification(w, req)
		if w.Code != http.StatusOK || w.Body.String() != "CHALLENGE_123" {
			t.Fatalf("got %d %q", w.Code, w.Body.String())
		}
	})

	t.Run("wrong token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet,
			"/webhooks/meta?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=X", nil)
		w := httptest.NewRecorder()
		h.HandleVerification(w, req)
		if w.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", w.Code)
		}
	})

	t.Run("unset token never matches", func(t *testing.T) {
		open := NewWebhookHandler("", "secret", nil, nil)
		req := httptest.NewRequest(http.MethodGet, "/webhooks/meta?hub.mode=subscribe&hub.verify_token=&hub.challenge=X", nil)
		w := httptest.NewRecorder()
		open.HandleVerification(w, req)
		if w.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", w.Code)
		}
	})
}

func TestHandleEvent(t *testing.T) {
	var got []WebhookEvent
	h := NewWebhookHandler("tok", "secret", func(ev WebhookEvent) { got = append(got, ev) }, nil)

	body := []byte(`{"object":"whatsapp_business_account","entry":[{"id":"waba1","changes":[{"field":"messages","value":{"messaging_product":"whatsapp"}}]}]}`)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/meta", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign("secret", body))
	w := httptest.NewRecorder()
	h.HandleEvent(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(got) != 1 || got[0].Object != "whatsapp_business_account" {
		t.Fatalf("unexpected events %+v", got)
	}
	if got[0].Entry[0].Changes[0].Field != "messages" {
		t.Fatalf("unexpected change %+v", got[0].Entry[0].Changes)
	}

	req = httptest.NewRequest(http.MethodPost, "/webhooks/meta", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign("other", body))
	w = httptest.NewRecorder()
	h.HandleEvent(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	bad := []byte(`{not json`)
	req = httptest.NewRequest(http.MethodPost, "/webhooks/meta", bytes.NewReader(bad))
	req.Header.Set("X-Hub-Signature-256", sign("secret", bad))
	w = httptest.NewRecorder()
	h.HandleEvent(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if len(got) != 1 {
		t.Fatalf("rejected payloads must not dispatch, got %d events", len(got))
	}
}

type memoryDeliveries struct {
	claimed map[string]bool
}

func (m *memoryDeliveries) Claim(_ context.Context, provider, id string) (bool, error) {
	key := provider + "/" + id
	if m.claimed[key] {
		return false, nil
	}
	m.claimed[key] = true
	return true, nil
}

func TestHandleEventDropsRedelivery(t *testing.T) {
	var dispatched int
	h := NewWebhookHandler("token", "secret", func(WebhookEvent) { dispatched++ }, nil).
		WithDeliveries(&memoryDeliveries{claimed: map[string]bool{}})

	body := []byte(`{"object":"instagram","entry":[{"id":"1","time":1}]}`)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/meta", bytes.NewReader(body))
		req.Header.Set("X-Hub-Signature-256", sign("secret", body))
		rr := httptest.NewRecorder()
		h.HandleEvent(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d", i, rr.Code)
		}
	}
	if dispatched != 1 {
		t.Fatalf("expected one dispatch, got %d", dispatched)
	}
}
