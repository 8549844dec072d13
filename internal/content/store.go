// Package content stores scraped content rows directly in Postgres. It is
// the self-hosted alternative to the gateway's content endpoints; row changes
// reach the realtime feed through the table's NOTIFY trigger.
package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/agent-playground/internal/playground"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const columns = `id, agent_id, url, source, status, word_count, training_ids, scraping_status, job_id, created_at, updated_at`

// Store reads and writes the scraped_content table.
type Store struct {
	db  querier
	now func() time.Time
}

func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("content: pgx pool required")
	}
	return newStoreWithQuerier(pool)
}

func newStoreWithQuerier(db querier) *Store {
	return &Store{db: db, now: time.Now}
}

// ListContent returns an agent's rows in creation order, optionally limited
// to one crawl job.
func (s *Store) ListContent(ctx context.Context, agentID, jobID string) ([]playground.TrainingRecord, error) {
	query := `SELECT ` + columns + ` FROM scraped_content WHERE agent_id = $1`
	args := []any{agentID}
	if jobID != "" {
		query += ` AND job_id = $2`
		args = append(args, jobID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("content: list: %w", err)
	}
	defer rows.Close()

	var out []playground.TrainingRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("content: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("content: list rows: %w", err)
	}
	return out, nil
}

// GetContent returns one row or playground.ErrNotFound.
func (s *Store) GetContent(ctx context.Context, contentID string) (*playground.TrainingRecord, error) {
	row := s.db.QueryRow(ctx, `SELECT `+columns+` FROM scraped_content WHERE id = $1`, contentID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("content: %s: %w", contentID, playground.ErrNotFound)
		}
		return nil, fmt.Errorf("content: get: %w", err)
	}
	return &rec, nil
}

// CreateContent inserts rec, assigning an id and timestamps when unset.
func (s *Store) CreateContent(ctx context.Context, rec playground.TrainingRecord) (*playground.TrainingRecord, error) {
	if strings.TrimSpace(rec.AgentID) == "" {
		return nil, errors.New("content: agent id required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = playground.StatusPending
	}
	now := s.now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.TrainingIDs == nil {
		rec.TrainingIDs = []string{}
	}

	query := `
		INSERT INTO scraped_content (` + columns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	if _, err := s.db.Exec(ctx, query,
		rec.ID, rec.AgentID, rec.URL, rec.Source, string(rec.Status), rec.WordCount,
		rec.TrainingIDs, rec.ScrapingStatus, nullable(rec.JobID), rec.CreatedAt, rec.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("content: insert: %w", err)
	}
	return &rec, nil
}

// DeleteContent removes every row in ids with one statement.
func (s *Store) DeleteContent(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM scraped_content WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("content: delete: %w", err)
	}
	return nil
}

func scanRecord(row pgx.Row) (playground.TrainingRecord, error) {
	var (
		rec    playground.TrainingRecord
		status string
		jobID  *string
	)
	err := row.Scan(&rec.ID, &rec.AgentID, &rec.URL, &rec.Source, &status, &rec.WordCount,
		&rec.TrainingIDs, &rec.ScrapingStatus, &jobID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return playground.TrainingRecord{}, err
	}
	rec.Status = playground.TrainingStatus(status)
	if jobID != nil {
		rec.JobID = *jobID
	}
	return rec, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
