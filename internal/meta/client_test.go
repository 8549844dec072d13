package meta

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(Config{
		AppID:        "app_1",
		AppSecret:    "secret",
		RedirectURI:  "https://api.example.com/oauth/meta/callback",
		GraphAPIBase: server.URL,
	})
	if err != nil {
		t.Fatal(err)
	}
	client.now = func() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) }
	return client
}

func TestNewClientRequiresCredentials(t *testing.T) {
	if _, err := NewClient(Config{AppID: "x"}); err == nil {
		t.Fatal("expected error without app secret")
	}
}

func TestAuthorizationURL(t *testing.T) {
	client, err := NewClient(Config{AppID: "app_1", AppSecret: "s", RedirectURI: "https://api.example.com/cb"})
	if err != nil {
		t.Fatal(err)
	}

	raw, err := client.AuthorizationURL(ChannelWhatsApp, "st4te")
	if err != nil {
		t.Fatal(err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if u.Host != "www.facebook.com" || u.Path != "/v18.0/dialog/oauth" {
		t.Fatalf("unexpected dialog url %s", raw)
	}
	q := u.Query()
	if q.Get("client_id") != "app_1" || q.Get("state") != "st4te" || q.Get("redirect_uri") != "https://api.example.com/cb" {
		t.Fatalf("unexpected params %v", q)
	}
	if !strings.Contains(q.Get("scope"), "whatsapp_business_messaging") {
		t.Fatalf("missing whatsapp scope: %s", q.Get("scope"))
	}

	if _, err := client.AuthorizationURL("myspace", "s"); err == nil {
		t.Fatal("expected unknown channel error")
	}
	if _, err := client.AuthorizationURL(ChannelFacebook, ""); err == nil {
		t.Fatal("expected missing state error")
	}
}

func TestExchangeLongLivedToken(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth/access_token" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("grant_type") != "fb_exchange_token" || q.Get("fb_exchange_token") != "short" || q.Get("client_secret") != "secret" {
			t.Errorf("unexpected query %v", q)
		}
		json.NewEncoder(w).Encode(map[string]any{"access_token": "long", "token_type": "bearer", "expires_in": 5184000})
	})

	tok, err := client.ExchangeLongLivedToken(context.Background(), "short")
	if err != nil {
		t.Fatal(err)
	}
	if tok.AccessToken != "long" {
		t.Fatalf("token = %s, want long", tok.AccessToken)
	}
	if want := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC); !tok.ExpiresAt.Equal(want) {
		t.Fatalf("expires_at = %s, want %s", tok.ExpiresAt, want)
	}
}

func TestExchangeCodeGraphError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "code expired", "type": "OAuthException", "code": 100}})
	})

	_, err := client.ExchangeCode(context.Background(), "c")
	graphErr, ok := err.(*GraphError)
	if !ok {
		t.Fatalf("expected *GraphError, got %T (%v)", err, err)
	}
	if graphErr.Code != 100 {
		t.Fatalf("code = %d, want 100", graphErr.Code)
	}
	if _, err := client.ExchangeCode(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty code")
	}
}

func TestListPagesAndSubscribe(t *testing.T) {
	var subscribed url.Values
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/me/accounts":
			if r.URL.Query().Get("access_token") != "user_tok" {
				t.Errorf("missing user token")
			}
			w.Write([]byte(`{"data":[{"id":"p1","name":"Clinic","access_token":"page_tok","instagram_business_account":{"id":"ig1"}}]}`))
		case r.Method == http.MethodPost && r.URL.Path == "/p1/subscribed_apps":
			r.ParseForm()
			subscribed = r.PostForm
			w.Write([]byte(`{"success":true}`))
		case r.Method == http.MethodPost && r.URL.Path == "/waba1/subscribed_apps":
			w.Write([]byte(`{"success":false}`))
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})

	pages, err := client.ListPages(context.Background(), "user_tok")
	if err != nil {
		t.Fatal(err)
	}
	if len(pages) != 1 || pages[0].AccessToken != "page_tok" || pages[0].Instagram == nil || pages[0].Instagram.ID != "ig1" {
		t.Fatalf("unexpected pages %+v", pages)
	}

	if err := client.SubscribePage(context.Background(), "p1", "page_tok", nil); err != nil {
		t.Fatal(err)
	}
	if subscribed.Get("subscribed_fields") != "messages,messaging_postbacks" || subscribed.Get("access_token") != "page_tok" {
		t.Fatalf("unexpected subscribe form %v", subscribed)
	}

	if err := client.SubscribeWhatsAppNumber(context.Background(), "waba1", "tok"); err == nil {
		t.Fatal("expected unacknowledged subscription error")
	}
	if err := client.SubscribePage(context.Background(), "", "tok", nil); err == nil {
		t.Fatal("expected page id error")
	}
}

func TestParseChannel(t *testing.T) {
	if c, ok := ParseChannel("instagram"); !ok || c != ChannelInstagram {
		t.Fatalf("ParseChannel(instagram) = %v, %v", c, ok)
	}
	if _, ok := ParseChannel("telegram"); ok {
		t.Fatal("telegram should not parse")
	}
}
