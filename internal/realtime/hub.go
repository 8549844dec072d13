package realtime

import (
	"context"
	"sync"

	"github.com/wolfman30/agent-playground/internal/playground"
)

// Loader fetches the current records of an agent to seed a bridge.
type Loader func(ctx context.Context, agentID string) ([]playground.TrainingRecord, error)

// Hub owns one bridge per watched agent for the HTTP API.
type Hub struct {
	feed   Feed
	cfg    BridgeConfig
	loader Loader

	mu      sync.Mutex
	bridges map[string]*Bridge
}

func NewHub(feed Feed, loader Loader, cfg BridgeConfig) *Hub {
	return &Hub{feed: feed, cfg: cfg, loader: loader, bridges: make(map[string]*Bridge)}
}

// Watch returns the agent's bridge, activating a new one seeded from the
// loader when the agent is not yet watched.
func (h *Hub) Watch(ctx context.Context, agentID string) (*Bridge, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if b, ok := h.bridges[agentID]; ok {
		if b.Live() {
			return b, nil
		}
		delete(h.bridges, agentID)
		_ = b.Close()
	}
	var initial []playground.TrainingRecord
	if h.loader != nil {
		recs, err := h.loader(ctx, agentID)
		if err != nil {
			return nil, err
		}
		initial = recs
	}
	b := NewBridge(h.feed, h.cfg)
	b.OnLost(func() { h.drop(agentID, b) })
	if err := b.Activate(context.WithoutCancel(ctx), agentID, initial); err != nil {
		return nil, err
	}
	h.bridges[agentID] = b
	return b, nil
}

// Bridge returns the agent's bridge if it is watched.
func (h *Hub) Bridge(agentID string) (*Bridge, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.bridges[agentID]
	return b, ok
}

// Forget closes and drops the agent's bridge.
func (h *Hub) Forget(agentID string) {
	h.mu.Lock()
	b, ok := h.bridges[agentID]
	delete(h.bridges, agentID)
	h.mu.Unlock()
	if ok {
		_ = b.Close()
	}
}

// drop forgets b after its feed was lost so the next Watch resubscribes.
func (h *Hub) drop(agentID string, b *Bridge) {
	h.mu.Lock()
	if h.bridges[agentID] == b {
		delete(h.bridges, agentID)
	}
	h.mu.Unlock()
	_ = b.Close()
}

// Close closes every bridge.
func (h *Hub) Close() {
	h.mu.Lock()
	bridges := h.bridges
	h.bridges = make(map[string]*Bridge)
	h.mu.Unlock()
	for _, b := range bridges {
		_ = b.Close()
	}
}
