// Package events remembers webhook deliveries that were already handled so
// provider retries are acknowledged without being dispatched twice.
package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DeliveryStore records webhook deliveries in the webhook_deliveries table.
type DeliveryStore struct {
	pool rowQuerier
}

func NewDeliveryStore(pool *pgxpool.Pool) *DeliveryStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &DeliveryStore{pool: pool}
}

func newDeliveryStoreWithExec(exec rowQuerier) *DeliveryStore {
	if exec == nil {
		panic("events: exec required")
	}
	return &DeliveryStore{pool: exec}
}

// Seen reports whether a delivery id was already claimed for provider.
func (s *DeliveryStore) Seen(ctx context.Context, provider, deliveryID string) (bool, error) {
	query := `SELECT 1 FROM webhook_deliveries WHERE provider = $1 AND delivery_id = $2`
	var exists int
	if err := s.pool.QueryRow(ctx, query, provider, deliveryID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("events: check delivery: %w", err)
	}
	return true, nil
}

// Claim inserts the delivery id and returns false when another request
// already claimed it.
func (s *DeliveryStore) Claim(ctx context.Context, provider, deliveryID string) (bool, error) {
	query := `
		INSERT INTO webhook_deliveries (provider, delivery_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	ct, err := s.pool.Exec(ctx, query, provider, deliveryID)
	if err != nil {
		return false, fmt.Errorf("events: claim delivery: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// Prune drops deliveries older than the retention window in days.
func (s *DeliveryStore) Prune(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, nil
	}
	ct, err := s.pool.Exec(ctx,
		`DELETE FROM webhook_deliveries WHERE received_at < NOW() - make_interval(days => $1)`, days)
	if err != nil {
		return 0, fmt.Errorf("events: prune deliveries: %w", err)
	}
	return ct.RowsAffected(), nil
}
