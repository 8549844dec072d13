package handlers

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/agent-playground/internal/playground"
	"github.com/wolfman30/agent-playground/internal/realtime"
	"github.com/wolfman30/agent-playground/internal/training"
	"github.com/wolfman30/agent-playground/pkg/logging"
)

const defaultMaxUploadBytes int64 = 20 << 20

// ContentReader reads an agent's scraped content rows.
type ContentReader interface {
	ListContent(ctx context.Context, agentID, jobID string) ([]playground.TrainingRecord, error)
	GetContent(ctx context.Context, contentID string) (*playground.TrainingRecord, error)
}

// BridgeRegistry hands out the realtime bridge of a watched agent.
type BridgeRegistry interface {
	Watch(ctx context.Context, agentID string) (*realtime.Bridge, error)
	Bridge(agentID string) (*realtime.Bridge, bool)
	Forget(agentID string)
}

type TrainingHandler struct {
	reconciler training.Reconciler
	content    ContentReader
	bridges    BridgeRegistry
	logger     *logging.Logger
	maxUpload  int64
}

func NewTrainingHandler(reconciler training.Reconciler, content ContentReader, bridges BridgeRegistry, logger *logging.Logger) *TrainingHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &TrainingHandler{
		reconciler: reconciler,
		content:    content,
		bridges:    bridges,
		logger:     logger,
		maxUpload:  defaultMaxUploadBytes,
	}
}

// WithMaxUpload caps the size of uploaded PDF files.
func (h *TrainingHandler) WithMaxUpload(n int64) *TrainingHandler {
	if n > 0 {
		h.maxUpload = n
	}
	return h
}

// List handles GET /playground/agents/{agentID}/training. A watched agent is
// served from its bridge; otherwise rows are read from the gateway.
func (h *TrainingHandler) List(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	if h.bridges != nil {
		if b, ok := h.bridges.Bridge(agentID); ok && b.Live() && b.AgentID() == agentID {
			writeData(w, http.StatusOK, map[string]any{"records": b.Records(), "live": true})
			return
		}
	}

	records, err := h.content.ListContent(r.Context(), agentID, r.URL.Query().Get("job_id"))
	if err != nil {
		h.logger.Error("list training records failed", "agent_id", agentID, "error", err)
		jsonError(w, "failed to list training records", http.StatusBadGateway)
		return
	}
	if records == nil {
		records = []playground.TrainingRecord{}
	}
	writeData(w, http.StatusOK, map[string]any{"records": records, "live": false})
}

// Watch handles POST /playground/agents/{agentID}/training/watch and starts
// mirroring the agent's rows from the change feed.
func (h *TrainingHandler) Watch(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	if h.bridges == nil {
		jsonError(w, "realtime feed not configured", http.StatusNotImplemented)
		return
	}
	b, err := h.bridges.Watch(r.Context(), agentID)
	if err != nil {
		h.logger.Error("watch training records failed", "agent_id", agentID, "error", err)
		jsonError(w, "failed to subscribe to training changes", http.StatusBadGateway)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"records": b.Records(), "live": true})
}

// Unwatch handles DELETE /playground/agents/{agentID}/training/watch and
// cancels the agent's change-feed subscription.
func (h *TrainingHandler) Unwatch(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	if h.bridges == nil {
		jsonError(w, "realtime feed not configured", http.StatusNotImplemented)
		return
	}
	_, watched := h.bridges.Bridge(agentID)
	h.bridges.Forget(agentID)
	writeData(w, http.StatusOK, map[string]any{"watched": watched})
}

// Create handles POST /playground/agents/{agentID}/training for text and
// FAQ entries.
func (h *TrainingHandler) Create(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	var req training.IngestRequest
	if err := decodeBody(w, r, &req); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	req.AgentID = agentID

	res, err := h.reconciler.Ingest(r.Context(), req)
	if err != nil {
		h.writeTrainingError(w, agentID, err)
		return
	}
	writeData(w, http.StatusCreated, res)
}

// UploadPDF handles POST /playground/agents/{agentID}/training/pdf with a
// multipart "file" field.
func (h *TrainingHandler) UploadPDF(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if !isPDF(header.Filename, header.Header.Get("Content-Type")) {
		jsonError(w, "only PDF files are accepted", http.StatusBadRequest)
		return
	}

	res, err := h.reconciler.IngestPDF(r.Context(), training.PDFRequest{
		AgentID:  agentID,
		FileName: header.Filename,
		Body:     file,
	})
	if err != nil {
		h.writeTrainingError(w, agentID, err)
		return
	}
	writeData(w, http.StatusCreated, res)
}

// Delete handles DELETE /playground/agents/{agentID}/training/{recordID}.
func (h *TrainingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	recordID := chi.URLParam(r, "recordID")

	rec, err := h.content.GetContent(r.Context(), recordID)
	if err != nil {
		if errors.Is(err, playground.ErrNotFound) {
			jsonError(w, "training record not found", http.StatusNotFound)
			return
		}
		h.logger.Error("load training record failed", "agent_id", agentID, "record_id", recordID, "error", err)
		jsonError(w, "failed to load training record", http.StatusBadGateway)
		return
	}
	if rec.AgentID != "" && rec.AgentID != agentID {
		jsonError(w, "training record not found", http.StatusNotFound)
		return
	}
	if rec.AgentID == "" {
		rec.AgentID = agentID
	}

	res, err := h.reconciler.Delete(r.Context(), *rec)
	if err != nil {
		h.writeTrainingError(w, agentID, err)
		return
	}
	writeResult(w, res)
}

type bulkDeleteRequest struct {
	IDs []string `json:"ids"`
}

// BulkDelete handles POST /playground/agents/{agentID}/training/bulk-delete.
// Ids that do not belong to the agent are reported as missing.
func (h *TrainingHandler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	var req bulkDeleteRequest
	if err := decodeBody(w, r, &req); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if len(req.IDs) == 0 {
		jsonError(w, "ids are required", http.StatusBadRequest)
		return
	}

	records, err := h.content.ListContent(r.Context(), agentID, "")
	if err != nil {
		h.logger.Error("list training records failed", "agent_id", agentID, "error", err)
		jsonError(w, "failed to load training records", http.StatusBadGateway)
		return
	}
	byID := make(map[string]playground.TrainingRecord, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}
	selected := make([]playground.TrainingRecord, 0, len(req.IDs))
	missing := []string{}
	for _, id := range req.IDs {
		rec, ok := byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		selected = append(selected, rec)
	}
	if len(selected) == 0 {
		jsonError(w, "no matching training records", http.StatusNotFound)
		return
	}

	res, err := h.reconciler.BulkDelete(r.Context(), agentID, selected)
	if err != nil {
		h.writeTrainingError(w, agentID, err)
		return
	}
	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, envelope{
		Success: res.Success,
		Data:    map[string]any{"result": res, "missing": missing},
	})
}

func writeResult(w http.ResponseWriter, res training.Result) {
	if res.Success {
		writeData(w, http.StatusOK, res)
		return
	}
	writeJSON(w, http.StatusBadGateway, envelope{Error: "training data partially deleted", Data: res})
}

func (h *TrainingHandler) writeTrainingError(w http.ResponseWriter, agentID string, err error) {
	switch {
	case errors.Is(err, training.ErrAgentRequired),
		errors.Is(err, training.ErrRecordRequired),
		errors.Is(err, training.ErrTextRequired),
		errors.Is(err, training.ErrFileRequired):
		jsonError(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("training request failed", "agent_id", agentID, "error", err)
		jsonError(w, "training request failed", http.StatusBadGateway)
	}
}

func isPDF(name, contentType string) bool {
	if strings.EqualFold(filepath.Ext(name), ".pdf") {
		return true
	}
	return strings.HasPrefix(strings.ToLower(contentType), "application/pdf")
}
