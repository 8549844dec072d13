package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type phoenixServer struct {
	t        *testing.T
	srv      *httptest.Server
	received chan phxMessage
	send     chan phxMessage
	query    chan string
	kill     chan struct{}
	reject   bool
}

func newPhoenixServer(t *testing.T, reject bool) *phoenixServer {
	t.Helper()
	ps := &phoenixServer{
		t:        t,
		received: make(chan phxMessage, 32),
		send:     make(chan phxMessage, 8),
		query:    make(chan string, 1),
		kill:     make(chan struct{}),
		reject:   reject,
	}
	upgrader := websocket.Upgrader{}
	ps.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ps.query <- r.URL.Path + "?" + r.URL.RawQuery
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		handlerDone := make(chan struct{})
		defer close(handlerDone)
		go func() {
			select {
			case <-ps.kill:
				_ = conn.Close()
			case <-handlerDone:
			}
		}()

		go func() {
			for msg := range ps.send {
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
			}
		}()

		for {
			var msg phxMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			ps.received <- msg
			if msg.Event == "phx_join" {
				status := "ok"
				if ps.reject {
					status = "error"
				}
				payload, _ := json.Marshal(map[string]any{"status": status, "response": map[string]any{}})
				ps.send <- phxMessage{Topic: msg.Topic, Event: "phx_reply", Payload: payload, Ref: msg.Ref}
			}
		}
	}))
	t.Cleanup(ps.srv.Close)
	return ps
}

func (ps *phoenixServer) next(t *testing.T, event string) phxMessage {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-ps.received:
			if msg.Event == event {
				return msg
			}
		case <-deadline:
			t.Fatalf("no %s frame received", event)
		}
	}
}

func TestRealtimeEndpoint(t *testing.T) {
	got, err := realtimeEndpoint("https://xyz.supabase.co", "anon")
	require.NoError(t, err)
	assert.Equal(t, "wss://xyz.supabase.co/realtime/v1/websocket?apikey=anon&vsn=1.0.0", got)

	got, err = realtimeEndpoint("http://localhost:54321/", "")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:54321/realtime/v1/websocket?vsn=1.0.0", got)

	_, err = realtimeEndpoint("ftp://x", "")
	assert.Error(t, err)
	_, err = realtimeEndpoint("", "")
	assert.Error(t, err)
}

func TestSupabaseFeed_JoinReceiveLeave(t *testing.T) {
	ps := newPhoenixServer(t, false)
	feed, err := NewSupabaseFeed(SupabaseConfig{URL: ps.srv.URL, APIKey: "anon", Heartbeat: 20 * time.Millisecond})
	require.NoError(t, err)

	events := make(chan ChangeEvent, 4)
	sub, err := feed.Subscribe(context.Background(), Filter{Table: "scraped_content", AgentID: "A1"}, func(ev ChangeEvent) {
		events <- ev
	})
	require.NoError(t, err)
	assert.Equal(t, "/realtime/v1/websocket?apikey=anon&vsn=1.0.0", <-ps.query)

	join := ps.next(t, "phx_join")
	assert.Equal(t, "realtime:public:scraped_content", join.Topic)
	assert.Contains(t, string(join.Payload), `"filter":"agent_id=eq.A1"`)
	assert.Contains(t, string(join.Payload), `"access_token":"anon"`)

	data := `{"data":{"type":"INSERT","schema":"public","table":"scraped_content","commit_timestamp":"2026-03-01T10:00:00Z","record":{"id":"r1","agent_id":"A1","scraping_status":false}}}`
	other := `{"data":{"type":"INSERT","schema":"public","table":"scraped_content","record":{"id":"r2","agent_id":"B2"}}}`
	ps.send <- phxMessage{Topic: join.Topic, Event: "postgres_changes", Payload: json.RawMessage(other)}
	ps.send <- phxMessage{Topic: join.Topic, Event: "postgres_changes", Payload: json.RawMessage(data)}

	select {
	case ev := <-events:
		assert.Equal(t, EventInsert, ev.Type)
		assert.Equal(t, "r1", idOf(ev.New))
	case <-time.After(2 * time.Second):
		t.Fatal("change not delivered")
	}

	hb := ps.next(t, "heartbeat")
	assert.Equal(t, "phoenix", hb.Topic)

	require.NoError(t, sub.Unsubscribe())
	leave := ps.next(t, "phx_leave")
	assert.Equal(t, join.Topic, leave.Topic)
	require.NoError(t, sub.Unsubscribe())
	assert.Empty(t, events)
}

func TestSupabaseFeed_ReportsDroppedConnection(t *testing.T) {
	ps := newPhoenixServer(t, false)
	feed, err := NewSupabaseFeed(SupabaseConfig{URL: ps.srv.URL})
	require.NoError(t, err)

	sub, err := feed.Subscribe(context.Background(), Filter{Table: "scraped_content", AgentID: "A1"}, func(ChangeEvent) {})
	require.NoError(t, err)
	dropper, ok := sub.(Dropper)
	require.True(t, ok)

	select {
	case <-dropper.Dropped():
		t.Fatal("dropped before the server closed")
	default:
	}

	close(ps.kill)
	select {
	case <-dropper.Dropped():
	case <-time.After(2 * time.Second):
		t.Fatal("dropped connection not reported")
	}
	_ = sub.Unsubscribe()
}

func TestBridge_FallsBackWhenSupabaseDrops(t *testing.T) {
	ps := newPhoenixServer(t, false)
	feed, err := NewSupabaseFeed(SupabaseConfig{URL: ps.srv.URL})
	require.NoError(t, err)
	hub := NewHub(feed, nil, BridgeConfig{})
	defer hub.Close()

	b, err := hub.Watch(context.Background(), "A1")
	require.NoError(t, err)
	require.True(t, b.Live())

	close(ps.kill)
	assert.Eventually(t, func() bool {
		_, ok := hub.Bridge("A1")
		return !ok && !b.Live()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSupabaseFeed_JoinRejected(t *testing.T) {
	ps := newPhoenixServer(t, true)
	feed, err := NewSupabaseFeed(SupabaseConfig{URL: ps.srv.URL})
	require.NoError(t, err)

	_, err = feed.Subscribe(context.Background(), Filter{Table: "scraped_content"}, func(ChangeEvent) {})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "join rejected"))
}

func TestSupabaseFeed_RequiresTable(t *testing.T) {
	feed, err := NewSupabaseFeed(SupabaseConfig{URL: "https://xyz.supabase.co"})
	require.NoError(t, err)
	_, err = feed.Subscribe(context.Background(), Filter{}, func(ChangeEvent) {})
	assert.Error(t, err)

	_, err = NewSupabaseFeed(SupabaseConfig{URL: "::"})
	assert.Error(t, err)
}
