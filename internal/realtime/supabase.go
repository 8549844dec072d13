package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wolfman30/agent-playground/pkg/logging"
)

const (
	defaultHeartbeat   = 25 * time.Second
	defaultJoinTimeout = 10 * time.Second
	writeTimeout       = 10 * time.Second
)

// SupabaseConfig describes a Supabase realtime endpoint.
type SupabaseConfig struct {
	URL         string // project URL, e.g. https://xyz.supabase.co
	APIKey      string
	Heartbeat   time.Duration
	JoinTimeout time.Duration
	Dialer      *websocket.Dialer
	Logger      *logging.Logger
}

// SupabaseFeed subscribes to postgres_changes over a Phoenix channel
// websocket. Each subscription owns one connection.
type SupabaseFeed struct {
	endpoint    string
	apiKey      string
	heartbeat   time.Duration
	joinTimeout time.Duration
	dialer      *websocket.Dialer
	logger      *logging.Logger
}

// phxMessage is a Phoenix channel frame.
type phxMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
	JoinRef *string         `json:"join_ref,omitempty"`
}

type phxReply struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

func NewSupabaseFeed(cfg SupabaseConfig) (*SupabaseFeed, error) {
	endpoint, err := realtimeEndpoint(cfg.URL, cfg.APIKey)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	heartbeat := cfg.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	joinTimeout := cfg.JoinTimeout
	if joinTimeout <= 0 {
		joinTimeout = defaultJoinTimeout
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &SupabaseFeed{
		endpoint:    endpoint,
		apiKey:      cfg.APIKey,
		heartbeat:   heartbeat,
		joinTimeout: joinTimeout,
		dialer:      dialer,
		logger:      logger,
	}, nil
}

// realtimeEndpoint maps a project URL to its realtime websocket URL.
func realtimeEndpoint(raw, apiKey string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("realtime: invalid supabase url %q", raw)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("realtime: invalid supabase url %q", raw)
	}
	if !strings.HasSuffix(u.Path, "/websocket") {
		u.Path = strings.TrimRight(u.Path, "/") + "/realtime/v1/websocket"
	}
	q := u.Query()
	q.Set("vsn", "1.0.0")
	if apiKey != "" {
		q.Set("apikey", apiKey)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Subscribe dials the realtime endpoint, joins the table's channel and
// waits for the join to be acknowledged.
func (f *SupabaseFeed) Subscribe(ctx context.Context, filter Filter, fn func(ChangeEvent)) (Subscription, error) {
	if filter.Table == "" {
		return nil, errors.New("realtime: table required")
	}
	if filter.Schema == "" {
		filter.Schema = "public"
	}
	conn, resp, err := f.dialer.DialContext(ctx, f.endpoint, http.Header{})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime: dial (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("realtime: dial: %w", err)
	}

	s := &supabaseSub{
		conn:    conn,
		topic:   fmt.Sprintf("realtime:%s:%s", filter.Schema, filter.Table),
		filter:  filter,
		handler: fn,
		joined:  make(chan error, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		logger:  f.logger.With("table", filter.Table, "agent_id", filter.AgentID),
	}
	joinRef := s.nextRef()
	s.joinRef = joinRef

	change := map[string]string{"event": "*", "schema": filter.Schema, "table": filter.Table}
	if filter.AgentID != "" {
		change["filter"] = "agent_id=eq." + filter.AgentID
	}
	join := map[string]any{
		"config": map[string]any{
			"broadcast":        map[string]bool{"self": false},
			"presence":         map[string]string{"key": ""},
			"postgres_changes": []map[string]string{change},
		},
	}
	if f.apiKey != "" {
		join["access_token"] = f.apiKey
	}
	if err := s.send(s.topic, "phx_join", join, joinRef); err != nil {
		_ = conn.Close()
		return nil, err
	}

	go s.readLoop()

	timer := time.NewTimer(f.joinTimeout)
	defer timer.Stop()
	select {
	case err := <-s.joined:
		if err != nil {
			_ = s.Unsubscribe()
			return nil, err
		}
	case <-timer.C:
		_ = s.Unsubscribe()
		return nil, errors.New("realtime: join timed out")
	case <-ctx.Done():
		_ = s.Unsubscribe()
		return nil, ctx.Err()
	}

	go s.heartbeatLoop(f.heartbeat)
	s.logger.Info("realtime channel joined", "topic", s.topic)
	return s, nil
}

type supabaseSub struct {
	conn    *websocket.Conn
	topic   string
	joinRef string
	filter  Filter
	handler func(ChangeEvent)
	logger  *logging.Logger

	ref     atomic.Int64
	writeMu sync.Mutex
	joined  chan error
	once    sync.Once
	stop    chan struct{}
	done    chan struct{}
}

func (s *supabaseSub) nextRef() string {
	return strconv.FormatInt(s.ref.Add(1), 10)
}

func (s *supabaseSub) send(topic, event string, payload any, ref string) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("realtime: encode %s: %w", event, err)
	}
	msg := phxMessage{Topic: topic, Event: event, Payload: raw, Ref: &ref}
	if topic == s.topic {
		msg.JoinRef = &s.joinRef
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("realtime: write %s: %w", event, err)
	}
	return nil
}

func (s *supabaseSub) readLoop() {
	defer close(s.done)
	for {
		var msg phxMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			select {
			case <-s.stop:
			default:
				s.logger.Warn("realtime read failed", "error", err)
				s.signalJoin(fmt.Errorf("realtime: read: %w", err))
			}
			return
		}
		s.handle(msg)
	}
}

func (s *supabaseSub) handle(msg phxMessage) {
	switch msg.Event {
	case "phx_reply":
		if msg.Ref == nil || *msg.Ref != s.joinRef {
			return
		}
		var reply phxReply
		if err := json.Unmarshal(msg.Payload, &reply); err != nil {
			s.signalJoin(fmt.Errorf("realtime: decode join reply: %w", err))
			return
		}
		if reply.Status != "ok" {
			s.signalJoin(fmt.Errorf("realtime: join rejected: %s", string(reply.Response)))
			return
		}
		s.signalJoin(nil)
	case "postgres_changes":
		var payload struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			s.logger.Warn("realtime payload dropped", "error", err)
			return
		}
		ev, err := decodeChange(payload.Data)
		if err != nil {
			s.logger.Warn("realtime payload dropped", "error", err)
			return
		}
		if s.filter.matches(ev) {
			s.handler(ev)
		}
	case "phx_error", "phx_close":
		if msg.Topic == s.topic {
			s.logger.Warn("realtime channel closed by server", "event", msg.Event)
			// Ends readLoop so the subscription reports itself dropped.
			_ = s.conn.Close()
		}
	case "system":
		s.logger.Debug("realtime system message", "payload", string(msg.Payload))
	}
}

func (s *supabaseSub) signalJoin(err error) {
	select {
	case s.joined <- err:
	default:
	}
}

func (s *supabaseSub) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.send("phoenix", "heartbeat", map[string]any{}, s.nextRef()); err != nil {
				s.logger.Warn("realtime heartbeat failed", "error", err)
				return
			}
		}
	}
}

// Dropped is closed when the connection's read loop exits.
func (s *supabaseSub) Dropped() <-chan struct{} { return s.done }

// Unsubscribe leaves the channel and closes the connection. Only the first
// call has any effect.
func (s *supabaseSub) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		_ = s.send(s.topic, "phx_leave", map[string]any{}, s.nextRef())
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.conn.Close()
		<-s.done
		s.logger.Info("realtime channel left", "topic", s.topic)
	})
	return err
}
