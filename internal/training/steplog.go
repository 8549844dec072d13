package training

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Step is one recorded sub-step of a reconcile operation.
type Step struct {
	ID          string    `json:"id"`
	OperationID string    `json:"operation_id"`
	Operation   string    `json:"operation"`
	AgentID     string    `json:"agent_id"`
	Name        string    `json:"step"`
	Targets     []string  `json:"targets"`
	OK          bool      `json:"ok"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// StepLog persists reconcile steps in Postgres so a later pass can find
// stores left out of sync.
type StepLog struct {
	db *sql.DB
}

func NewStepLog(db *sql.DB) *StepLog {
	return &StepLog{db: db}
}

// Record inserts one step.
func (l *StepLog) Record(ctx context.Context, step Step) error {
	if l == nil || l.db == nil {
		return errors.New("training: step log not configured")
	}
	if step.ID == "" {
		step.ID = uuid.NewString()
	}
	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now().UTC()
	}
	targets := step.Targets
	if targets == nil {
		targets = []string{}
	}

	query := `
		INSERT INTO reconcile_steps (
			id, operation_id, operation, agent_id, step, targets, ok, error, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := l.db.ExecContext(ctx, query,
		step.ID,
		step.OperationID,
		step.Operation,
		step.AgentID,
		step.Name,
		pq.Array(targets),
		step.OK,
		nullString(step.Error),
		step.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("training: record step: %w", err)
	}
	return nil
}

// Failed lists failed steps for an agent, newest first.
func (l *StepLog) Failed(ctx context.Context, agentID string, limit int) ([]Step, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, operation_id, operation, agent_id, step, targets, ok, COALESCE(error, ''), created_at
		FROM reconcile_steps
		WHERE agent_id = $1 AND ok = false
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := l.db.QueryContext(ctx, query, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("training: query failed steps: %w", err)
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		var s Step
		if err := rows.Scan(&s.ID, &s.OperationID, &s.Operation, &s.AgentID, &s.Name,
			pq.Array(&s.Targets), &s.OK, &s.Error, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("training: scan step: %w", err)
		}
		steps = append(steps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("training: iterate steps: %w", err)
	}
	return steps, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
