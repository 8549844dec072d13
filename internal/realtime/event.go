// Package realtime mirrors an agent's training records from a row-level
// change feed on the scraped content table.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wolfman30/agent-playground/internal/playground"
)

// EventType is the row operation that produced a change.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// ChangeEvent is one row-level change. New holds the row after INSERT and
// UPDATE; Old holds at least the primary key on DELETE.
type ChangeEvent struct {
	Type       EventType      `json:"type"`
	Schema     string         `json:"schema"`
	Table      string         `json:"table"`
	New        map[string]any `json:"record,omitempty"`
	Old        map[string]any `json:"old_record,omitempty"`
	CommitTime time.Time      `json:"-"`
}

// Filter selects the changes a subscriber receives. An empty AgentID
// subscribes to every row of the table.
type Filter struct {
	Schema  string
	Table   string
	AgentID string
}

// Subscription is an active feed subscription.
type Subscription interface {
	Unsubscribe() error
}

// Dropper is implemented by subscriptions whose connection can be lost
// without Unsubscribe being called. Dropped is closed once the subscription
// stops delivering for any reason.
type Dropper interface {
	Dropped() <-chan struct{}
}

// Feed delivers row changes to a handler until the subscription is
// cancelled. Handlers run on the feed's goroutine and must not block.
type Feed interface {
	Subscribe(ctx context.Context, filter Filter, fn func(ChangeEvent)) (Subscription, error)
}

// changePayload is the change shape shared by the Supabase feed and the
// notify trigger.
type changePayload struct {
	Type            EventType      `json:"type"`
	Schema          string         `json:"schema"`
	Table           string         `json:"table"`
	CommitTimestamp string         `json:"commit_timestamp"`
	Record          map[string]any `json:"record"`
	OldRecord       map[string]any `json:"old_record"`
}

func (p changePayload) event() ChangeEvent {
	ev := ChangeEvent{Type: p.Type, Schema: p.Schema, Table: p.Table, New: p.Record, Old: p.OldRecord}
	if ts, ok := parseTime(p.CommitTimestamp); ok {
		ev.CommitTime = ts
	}
	return ev
}

func decodeChange(raw []byte) (ChangeEvent, error) {
	var p changePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return ChangeEvent{}, fmt.Errorf("realtime: decode change: %w", err)
	}
	switch p.Type {
	case EventInsert, EventUpdate, EventDelete:
	default:
		return ChangeEvent{}, fmt.Errorf("realtime: unknown change type %q", p.Type)
	}
	return p.event(), nil
}

// matches reports whether ev passes filter. Feeds that cannot filter on
// the server use it client side.
func (f Filter) matches(ev ChangeEvent) bool {
	if f.Table != "" && ev.Table != "" && ev.Table != f.Table {
		return false
	}
	if f.Schema != "" && ev.Schema != "" && ev.Schema != f.Schema {
		return false
	}
	return f.AgentID == "" || belongsTo(ev, f.AgentID)
}

// belongsTo reports whether ev concerns agentID. INSERT and UPDATE rows must
// carry the agent id. DELETE rows often carry only the primary key, so they
// are rejected only when they name another agent.
func belongsTo(ev ChangeEvent, agentID string) bool {
	if ev.Type == EventDelete {
		agent, ok := ev.Old["agent_id"].(string)
		return !ok || agent == "" || agent == agentID
	}
	agent, _ := ev.New["agent_id"].(string)
	return agent == agentID
}

func idOf(row map[string]any) string {
	switch v := row["id"].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return fmt.Sprintf("%.0f", v)
	}
	return ""
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05.999999",
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// decodeRecord converts a row into a TrainingRecord. Postgres timestamps
// without a zone are accepted and read as UTC.
func decodeRecord(row map[string]any) (playground.TrainingRecord, error) {
	clean := make(map[string]any, len(row))
	for k, v := range row {
		clean[k] = v
	}
	var created, updated time.Time
	for key, dst := range map[string]*time.Time{"created_at": &created, "updated_at": &updated} {
		if s, ok := clean[key].(string); ok {
			if ts, ok := parseTime(s); ok {
				*dst = ts
			}
		}
		delete(clean, key)
	}
	if id := idOf(clean); id != "" {
		clean["id"] = id
	}
	raw, err := json.Marshal(clean)
	if err != nil {
		return playground.TrainingRecord{}, fmt.Errorf("realtime: encode row: %w", err)
	}
	var rec playground.TrainingRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return playground.TrainingRecord{}, fmt.Errorf("realtime: decode row: %w", err)
	}
	rec.CreatedAt = created
	rec.UpdatedAt = updated
	return rec, nil
}
