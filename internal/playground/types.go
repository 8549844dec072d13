// Package playground holds the shared data model of the agent playground:
// agent documents, training records and the crawl job view over them.
package playground

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is matched by errors.Is for missing agents and records,
// whichever store reported them.
var ErrNotFound = errors.New("playground: not found")

// ConfigDocument is one agent's schema-less configuration tree.
type ConfigDocument = map[string]any

// TrainingStatus is the lifecycle state of a TrainingRecord.
type TrainingStatus string

const (
	StatusPending    TrainingStatus = "pending"
	StatusProcessing TrainingStatus = "processing"
	StatusProcessed  TrainingStatus = "processed"
	StatusTrained    TrainingStatus = "trained"
	StatusFailed     TrainingStatus = "failed"
)

// Valid reports whether s is a known status.
func (s TrainingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusProcessed, StatusTrained, StatusFailed:
		return true
	}
	return false
}

// TrainingRecord is one unit of ingested content (webpage chunk, PDF, FAQ).
// It mirrors a row of the scraped content table.
type TrainingRecord struct {
	ID             string         `json:"id"`
	AgentID        string         `json:"agent_id"`
	URL            string         `json:"url,omitempty"`
	Source         string         `json:"source,omitempty"`
	Status         TrainingStatus `json:"status,omitempty"`
	WordCount      int            `json:"word_count"`
	TrainingIDs    []string       `json:"training_ids,omitempty"`
	ScrapingStatus bool           `json:"scraping_status"`
	JobID          string         `json:"job_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// TrainingEntry is the summary of a training record embedded in the agent
// document's training_data array. Fields it does not model survive a
// decode/encode round trip.
type TrainingEntry struct {
	ID        string
	Type      string
	Source    string
	WordCount int
	CreatedAt time.Time

	extra map[string]json.RawMessage
}

// Agent is the agent document persisted by the backend gateway. Fields it
// does not model survive a decode/encode round trip, and config numbers are
// kept as json.Number.
type Agent struct {
	ID           string
	ClientID     string
	Name         string
	Config       ConfigDocument
	TrainingData []TrainingEntry
	UpdatedAt    time.Time

	extra map[string]json.RawMessage
}

// RemoveTraining drops every training entry whose id is in ids and returns
// how many entries were removed.
func (a *Agent) RemoveTraining(ids map[string]struct{}) int {
	kept := a.TrainingData[:0]
	removed := 0
	for _, entry := range a.TrainingData {
		if _, ok := ids[entry.ID]; ok {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	a.TrainingData = kept
	return removed
}

// CrawlJob identifies an asynchronous crawl started for an agent.
type CrawlJob struct {
	JobID     string    `json:"jobId"`
	AgentID   string    `json:"agent_id"`
	URL       string    `json:"url"`
	StartedAt time.Time `json:"started_at"`
}

// InProgress reports whether any of the job's records for the agent is still
// being scraped. An empty record set counts as in progress because the crawl
// service has not produced anything yet.
func (j CrawlJob) InProgress(records []TrainingRecord) bool {
	return !AllScraped(records, j.AgentID)
}

// AllScraped reports whether at least one record exists for agentID and every
// such record has finished scraping.
func AllScraped(records []TrainingRecord, agentID string) bool {
	seen := false
	for _, rec := range records {
		if agentID != "" && rec.AgentID != "" && rec.AgentID != agentID {
			continue
		}
		seen = true
		if !rec.ScrapingStatus {
			return false
		}
	}
	return seen
}

// StatusEnvelope is the `{ statusCode, data }` response wrapper.
type StatusEnvelope struct {
	StatusCode int             `json:"statusCode"`
	Data       json.RawMessage `json:"data"`
	Message    string          `json:"message,omitempty"`
}

// SuccessEnvelope is the `{ success, data | error }` response wrapper.
type SuccessEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}
