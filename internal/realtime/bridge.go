package realtime

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/wolfman30/agent-playground/internal/observability/metrics"
	"github.com/wolfman30/agent-playground/internal/playground"
	"github.com/wolfman30/agent-playground/pkg/logging"
)

// DefaultTable is the change-feed table holding training records.
const DefaultTable = "scraped_content"

// ErrClosed is returned when activating a closed bridge.
var ErrClosed = errors.New("realtime: bridge closed")

// ChangeListener observes every change the bridge applied, with the
// resulting record list.
type ChangeListener func(ev ChangeEvent, records []playground.TrainingRecord)

// BridgeConfig wires a Bridge.
type BridgeConfig struct {
	Schema  string
	Table   string
	Logger  *logging.Logger
	Metrics *metrics.PlaygroundMetrics
}

// Bridge keeps an ordered local copy of the active agent's training records
// in step with the change feed. INSERT appends, UPDATE replaces the record
// with the same id and DELETE removes it. An INSERT replayed by the feed is
// appended twice.
type Bridge struct {
	feed    Feed
	schema  string
	table   string
	logger  *logging.Logger
	metrics *metrics.PlaygroundMetrics

	mu        sync.Mutex
	agentID   string
	records   []playground.TrainingRecord
	sub       Subscription
	listeners []ChangeListener
	lost      []func()
	closed    bool
}

func NewBridge(feed Feed, cfg BridgeConfig) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}
	schema := cfg.Schema
	if schema == "" {
		schema = "public"
	}
	return &Bridge{feed: feed, schema: schema, table: table, logger: logger, metrics: cfg.Metrics}
}

// Activate switches the bridge to agentID, seeding it with initial. The
// previous subscription, if any, is cancelled first.
func (b *Bridge) Activate(ctx context.Context, agentID string, initial []playground.TrainingRecord) error {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return errors.New("realtime: agent id required")
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	prev := b.sub
	b.sub = nil
	b.agentID = agentID
	b.records = filterAgent(initial, agentID)
	b.mu.Unlock()

	b.unsubscribe(prev)

	sub, err := b.feed.Subscribe(ctx, Filter{Schema: b.schema, Table: b.table, AgentID: agentID}, func(ev ChangeEvent) { b.Apply(ev) })
	if err != nil {
		return err
	}

	b.mu.Lock()
	if b.closed || b.agentID != agentID || b.sub != nil {
		// Closed or re-activated while subscribing.
		b.mu.Unlock()
		b.unsubscribe(sub)
		if b.isClosed() {
			return ErrClosed
		}
		return nil
	}
	b.sub = sub
	b.mu.Unlock()
	b.watchDrop(agentID, sub)

	b.logger.Info("realtime bridge active", "agent_id", agentID, "table", b.table, "records", len(initial))
	return nil
}

// Apply folds one change into the local records. It reports whether the
// change was applied; events for another agent are dropped.
func (b *Bridge) Apply(ev ChangeEvent) bool {
	applied := b.apply(ev)
	b.metrics.ObserveRealtimeEvent(string(ev.Type), applied)
	return applied
}

func (b *Bridge) apply(ev ChangeEvent) bool {
	b.mu.Lock()
	if b.agentID == "" || b.closed {
		b.mu.Unlock()
		return false
	}
	if !belongsTo(ev, b.agentID) {
		b.mu.Unlock()
		return false
	}

	changed := false
	switch ev.Type {
	case EventInsert:
		rec, err := decodeRecord(ev.New)
		if err != nil {
			b.mu.Unlock()
			b.logger.Warn("realtime insert dropped", "error", err)
			return false
		}
		b.records = append(b.records, rec)
		changed = true
	case EventUpdate:
		rec, err := decodeRecord(ev.New)
		if err != nil {
			b.mu.Unlock()
			b.logger.Warn("realtime update dropped", "error", err)
			return false
		}
		for i := range b.records {
			if b.records[i].ID == rec.ID {
				b.records[i] = rec
				changed = true
				break
			}
		}
	case EventDelete:
		id := idOf(ev.Old)
		for i := range b.records {
			if b.records[i].ID == id {
				b.records = append(b.records[:i], b.records[i+1:]...)
				changed = true
				break
			}
		}
	}
	if !changed {
		b.mu.Unlock()
		return false
	}
	snapshot := append([]playground.TrainingRecord(nil), b.records...)
	listeners := append([]ChangeListener(nil), b.listeners...)
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(ev, snapshot)
	}
	return true
}

// OnChange registers a listener for applied changes.
func (b *Bridge) OnChange(fn ChangeListener) {
	b.mu.Lock()
	b.listeners = append(b.listeners, fn)
	b.mu.Unlock()
}

// OnLost registers fn to run when the feed connection drops while the
// bridge is active. The bridge stays inactive until re-activated.
func (b *Bridge) OnLost(fn func()) {
	b.mu.Lock()
	b.lost = append(b.lost, fn)
	b.mu.Unlock()
}

// Live reports whether the bridge holds an active subscription.
func (b *Bridge) Live() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sub != nil && !b.closed
}

func (b *Bridge) watchDrop(agentID string, sub Subscription) {
	d, ok := sub.(Dropper)
	if !ok {
		return
	}
	go func() {
		<-d.Dropped()
		b.mu.Lock()
		if b.sub != sub {
			// Unsubscribed or replaced on purpose.
			b.mu.Unlock()
			return
		}
		b.sub = nil
		fns := append([]func(){}, b.lost...)
		b.mu.Unlock()

		_ = sub.Unsubscribe()
		b.logger.Warn("realtime feed lost", "agent_id", agentID, "table", b.table)
		for _, fn := range fns {
			fn()
		}
	}()
}

// Records returns a copy of the local records in arrival order.
func (b *Bridge) Records() []playground.TrainingRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]playground.TrainingRecord(nil), b.records...)
}

// AgentID returns the active agent.
func (b *Bridge) AgentID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.agentID
}

// Close cancels the subscription. Further calls are no-ops.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	sub := b.sub
	b.sub = nil
	b.mu.Unlock()
	return b.unsubscribe(sub)
}

func (b *Bridge) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Bridge) unsubscribe(sub Subscription) error {
	if sub == nil {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil {
		b.logger.Warn("realtime unsubscribe failed", "error", err)
		return err
	}
	return nil
}

func filterAgent(records []playground.TrainingRecord, agentID string) []playground.TrainingRecord {
	out := make([]playground.TrainingRecord, 0, len(records))
	for _, rec := range records {
		if rec.AgentID == "" || rec.AgentID == agentID {
			out = append(out, rec)
		}
	}
	return out
}
