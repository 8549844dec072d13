package training

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/agent-playground/internal/playground"
)

// Training entry types.
const (
	TypeText = "text"
	TypeFAQ  = "faq"
	TypePDF  = "pdf"
)

// IngestRequest adds free text or an FAQ answer to an agent.
type IngestRequest struct {
	AgentID string `json:"agent_id"`
	Type    string `json:"type"`
	Source  string `json:"source"`
	Text    string `json:"text"`
}

// PDFRequest adds a PDF document to an agent.
type PDFRequest struct {
	AgentID  string
	FileName string
	Body     io.Reader
}

// IngestResult is the created record. AgentUpdated is false when the record
// exists in the stores but the agent document could not be updated.
type IngestResult struct {
	Record       playground.TrainingRecord `json:"record"`
	AgentUpdated bool                      `json:"agent_updated"`
}

// Ingest embeds text into the agent's namespace, creates the content row and
// appends a training entry to the agent document.
func (r *BestEffortReconciler) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	req.AgentID = strings.TrimSpace(req.AgentID)
	if req.AgentID == "" {
		return nil, ErrAgentRequired
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrTextRequired
	}
	kind := req.Type
	if kind != TypeFAQ {
		kind = TypeText
	}
	ctx, op := r.begin(ctx, "ingest", req.AgentID, attribute.String("type", kind))
	defer op.span.End()

	meta := map[string]string{"agent_id": req.AgentID, "type": kind}
	if req.Source != "" {
		meta["source"] = req.Source
	}
	trainingIDs, err := r.vectors.Upsert(ctx, req.AgentID, req.Text, meta)
	if !r.record(ctx, op, StepVectorInsert, trainingIDs, err) {
		return nil, fmt.Errorf("training: embed text: %w", err)
	}

	rec := playground.TrainingRecord{
		AgentID:        req.AgentID,
		Source:         req.Source,
		Status:         playground.StatusTrained,
		WordCount:      len(strings.Fields(req.Text)),
		TrainingIDs:    trainingIDs,
		ScrapingStatus: true,
	}
	return r.finishIngest(ctx, op, rec, kind)
}

// IngestPDF stores the file in object storage, uploads it to the assistant
// under a fresh training id and records it for the agent.
func (r *BestEffortReconciler) IngestPDF(ctx context.Context, req PDFRequest) (*IngestResult, error) {
	req.AgentID = strings.TrimSpace(req.AgentID)
	if req.AgentID == "" {
		return nil, ErrAgentRequired
	}
	if req.Body == nil || strings.TrimSpace(req.FileName) == "" {
		return nil, ErrFileRequired
	}
	if r.objects == nil || r.assistant == nil {
		return nil, fmt.Errorf("training: pdf ingestion not configured")
	}
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("training: read pdf: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrFileRequired
	}

	ctx, op := r.begin(ctx, "ingest_pdf", req.AgentID, attribute.Int("bytes", len(data)))
	defer op.span.End()

	trainingID := r.newID()
	name := path.Base(req.FileName)
	key := path.Join(r.objectRoot, req.AgentID, "training", trainingID, name)

	url, err := r.objects.Upload(ctx, key, bytes.NewReader(data), "application/pdf")
	if !r.record(ctx, op, StepObjectUpload, []string{key}, err) {
		return nil, fmt.Errorf("training: upload pdf: %w", err)
	}

	meta := map[string]string{"training_id": trainingID, "agent_id": req.AgentID, "source": url}
	_, err = r.assistant.UploadDocument(ctx, name, bytes.NewReader(data), meta)
	if !r.record(ctx, op, StepAssistantUpload, []string{trainingID}, err) {
		return nil, fmt.Errorf("training: upload pdf to assistant: %w", err)
	}

	words, err := pdfWordCount(data)
	if err != nil {
		op.log.Warn("pdf word count unavailable", "file", name, "error", err)
	}

	rec := playground.TrainingRecord{
		AgentID:        req.AgentID,
		URL:            url,
		Source:         name,
		Status:         playground.StatusProcessing,
		WordCount:      words,
		TrainingIDs:    []string{trainingID},
		ScrapingStatus: true,
	}
	return r.finishIngest(ctx, op, rec, TypePDF)
}

func (r *BestEffortReconciler) finishIngest(ctx context.Context, op *operation, rec playground.TrainingRecord, kind string) (*IngestResult, error) {
	created, err := r.content.CreateContent(ctx, rec)
	if !r.record(ctx, op, StepContentCreate, rec.TrainingIDs, err) {
		return nil, fmt.Errorf("training: create content: %w", err)
	}
	if created != nil {
		rec = *created
	}
	result := &IngestResult{Record: rec}

	agent, err := r.agents.GetAgent(ctx, rec.AgentID)
	if err == nil {
		createdAt := rec.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		agent.TrainingData = append(agent.TrainingData, playground.TrainingEntry{
			ID:        rec.ID,
			Type:      kind,
			Source:    firstNonEmpty(rec.URL, rec.Source),
			WordCount: rec.WordCount,
			CreatedAt: createdAt,
		})
		err = r.agents.SaveAgent(ctx, agent)
	}
	result.AgentUpdated = r.record(ctx, op, StepAgentRewrite, []string{rec.AgentID}, err)

	op.span.SetAttributes(attribute.String("record_id", rec.ID))
	op.log.Info("training data ingested", "record_id", rec.ID, "type", kind, "agent_updated", result.AgentUpdated)
	return result, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
