package meta

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const stateKeyPrefix = "playground:oauth:meta:"

// ErrStateNotFound is returned for unknown, used or expired OAuth states.
var ErrStateNotFound = errors.New("meta: invalid or expired state")

// PendingAuth is what an OAuth state stands for until its callback.
type PendingAuth struct {
	AgentID   string    `json:"agent_id"`
	Channel   Channel   `json:"channel"`
	CreatedAt time.Time `json:"created_at"`
}

// StateStore keeps OAuth states in Redis so any instance can serve the
// callback. A state can be consumed once.
type StateStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStateStore(client *redis.Client, ttl time.Duration) *StateStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &StateStore{client: client, ttl: ttl}
}

// Issue stores pending and returns a fresh random state for it.
func (s *StateStore) Issue(ctx context.Context, pending PendingAuth) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("meta: generate state: %w", err)
	}
	state := hex.EncodeToString(buf)
	if pending.CreatedAt.IsZero() {
		pending.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(pending)
	if err != nil {
		return "", fmt.Errorf("meta: marshal state: %w", err)
	}
	if err := s.client.Set(ctx, stateKeyPrefix+state, data, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("meta: save state: %w", err)
	}
	return state, nil
}

// Consume returns and deletes the pending auth for state.
func (s *StateStore) Consume(ctx context.Context, state string) (PendingAuth, error) {
	if state == "" {
		return PendingAuth{}, ErrStateNotFound
	}
	raw, err := s.client.GetDel(ctx, stateKeyPrefix+state).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return PendingAuth{}, ErrStateNotFound
		}
		return PendingAuth{}, fmt.Errorf("meta: load state: %w", err)
	}
	var pending PendingAuth
	if err := json.Unmarshal(raw, &pending); err != nil {
		return PendingAuth{}, fmt.Errorf("meta: decode state: %w", err)
	}
	return pending, nil
}
