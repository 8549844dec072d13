// Package training keeps an agent's training data consistent across the
// vector store, the assistant document store, the relational content table
// and the agent document. There is no cross-system transaction: every
// sub-step is attempted, failures are logged and the remaining steps still
// run.
package training

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/agent-playground/internal/observability/metrics"
	"github.com/wolfman30/agent-playground/internal/playground"
	"github.com/wolfman30/agent-playground/internal/vectorstore"
	"github.com/wolfman30/agent-playground/pkg/logging"
)

var tracer = otel.Tracer("playground/training")

var (
	ErrRecordRequired = errors.New("training: record id required")
	ErrAgentRequired  = errors.New("training: agent id required")
	ErrTextRequired   = errors.New("training: text required")
	ErrFileRequired   = errors.New("training: file required")
	// ErrForeignRecord marks bulk delete targets owned by another agent.
	ErrForeignRecord = errors.New("training: record belongs to another agent")
)

// Step names reported to logs, metrics and the step log.
const (
	StepSelect          = "select"
	StepVectorDelete    = "vector_delete"
	StepAssistantDelete = "assistant_delete"
	StepContentDelete   = "content_delete"
	StepAgentRewrite    = "agent_rewrite"
	StepVectorInsert    = "vector_insert"
	StepObjectUpload    = "object_upload"
	StepAssistantUpload = "assistant_upload"
	StepContentCreate   = "content_create"
)

// VectorStore holds the embedded chunks of an agent's training data, one
// namespace per agent.
type VectorStore interface {
	Upsert(ctx context.Context, namespace, text string, metadata map[string]string) ([]string, error)
	Delete(ctx context.Context, namespace string, ids []string) error
}

// AssistantStore hosts whole documents tagged with the training id they were
// ingested under.
type AssistantStore interface {
	UploadDocument(ctx context.Context, name string, content io.Reader, metadata map[string]string) (*vectorstore.AssistantFile, error)
	FindDocument(ctx context.Context, trainingID string) (string, error)
	DeleteDocument(ctx context.Context, fileID string) error
}

// ContentStore is the relational scraped-content table.
type ContentStore interface {
	CreateContent(ctx context.Context, rec playground.TrainingRecord) (*playground.TrainingRecord, error)
	DeleteContent(ctx context.Context, ids []string) error
	ListContent(ctx context.Context, agentID, jobID string) ([]playground.TrainingRecord, error)
}

// AgentStore loads and persists agent documents.
type AgentStore interface {
	GetAgent(ctx context.Context, agentID string) (*playground.Agent, error)
	SaveAgent(ctx context.Context, agent *playground.Agent) error
}

// ObjectStore uploads files and returns their public URL.
type ObjectStore interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
}

// StepRecorder durably records sub-step outcomes.
type StepRecorder interface {
	Record(ctx context.Context, step Step) error
}

// Reconciler deletes and ingests training data across every store holding
// it. BestEffortReconciler is the only implementation today; a saga-based
// one with compensation can be swapped in behind the same interface.
type Reconciler interface {
	Delete(ctx context.Context, rec playground.TrainingRecord) (Result, error)
	BulkDelete(ctx context.Context, agentID string, recs []playground.TrainingRecord) (Result, error)
	Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error)
	IngestPDF(ctx context.Context, req PDFRequest) (*IngestResult, error)
}

// Failure describes one sub-step that did not succeed.
type Failure struct {
	Step   string `json:"step"`
	Target string `json:"target,omitempty"`
	Error  string `json:"error"`
}

// Result reports a delete reconciliation. Success holds only when both the
// vector store and the relational deletes succeeded; the other flags are
// informational.
type Result struct {
	OperationID      string    `json:"operation_id"`
	Success          bool      `json:"success"`
	VectorOK         bool      `json:"vector_ok"`
	ContentOK        bool      `json:"content_ok"`
	AgentOK          bool      `json:"agent_ok"`
	AssistantDeleted int       `json:"assistant_deleted"`
	RemovedEntries   int       `json:"removed_entries"`
	Failures         []Failure `json:"failures,omitempty"`
}

// Config wires a BestEffortReconciler.
type Config struct {
	Vectors    VectorStore
	Assistant  AssistantStore
	Content    ContentStore
	Agents     AgentStore
	Objects    ObjectStore
	Steps      StepRecorder
	Metrics    *metrics.PlaygroundMetrics
	Logger     *logging.Logger
	Parallel   int
	ObjectRoot string
}

// BestEffortReconciler attempts every sub-step and never rolls back.
type BestEffortReconciler struct {
	vectors    VectorStore
	assistant  AssistantStore
	content    ContentStore
	agents     AgentStore
	objects    ObjectStore
	steps      StepRecorder
	metrics    *metrics.PlaygroundMetrics
	logger     *logging.Logger
	parallel   int
	objectRoot string
	newID      func() string
}

var _ Reconciler = (*BestEffortReconciler)(nil)

func NewBestEffortReconciler(cfg Config) (*BestEffortReconciler, error) {
	if cfg.Vectors == nil || cfg.Content == nil || cfg.Agents == nil {
		return nil, errors.New("training: vector, content and agent stores are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	parallel := cfg.Parallel
	if parallel <= 0 {
		parallel = 4
	}
	root := cfg.ObjectRoot
	if root == "" {
		root = "agents"
	}
	return &BestEffortReconciler{
		vectors:    cfg.Vectors,
		assistant:  cfg.Assistant,
		content:    cfg.Content,
		agents:     cfg.Agents,
		objects:    cfg.Objects,
		steps:      cfg.Steps,
		metrics:    cfg.Metrics,
		logger:     logger,
		parallel:   parallel,
		objectRoot: root,
		newID:      uuid.NewString,
	}, nil
}

// operation carries the identity of one reconcile call through its steps.
type operation struct {
	id      string
	name    string
	agentID string
	span    trace.Span
	log     *logging.Logger
}

func (r *BestEffortReconciler) begin(ctx context.Context, name, agentID string, attrs ...attribute.KeyValue) (context.Context, *operation) {
	ctx, span := tracer.Start(ctx, "training."+name)
	op := &operation{id: r.newID(), name: name, agentID: agentID, span: span}
	span.SetAttributes(append([]attribute.KeyValue{
		attribute.String("agent_id", agentID),
		attribute.String("operation_id", op.id),
	}, attrs...)...)
	op.log = r.logger.With("operation", name, "operation_id", op.id, "agent_id", agentID)
	return ctx, op
}

// record logs, counts and persists one sub-step outcome and reports whether
// it succeeded.
func (r *BestEffortReconciler) record(ctx context.Context, op *operation, step string, targets []string, err error) bool {
	ok := err == nil
	r.metrics.ObserveReconcileStep(step, ok)
	if !ok {
		op.span.RecordError(fmt.Errorf("%s: %w", step, err))
		op.log.Warn("training step failed", "step", step, "targets", targets, "error", err)
	} else {
		op.log.Debug("training step done", "step", step, "targets", targets)
	}
	if r.steps != nil {
		s := Step{
			OperationID: op.id,
			Operation:   op.name,
			AgentID:     op.agentID,
			Name:        step,
			Targets:     targets,
			OK:          ok,
		}
		if err != nil {
			s.Error = err.Error()
		}
		if logErr := r.steps.Record(context.WithoutCancel(ctx), s); logErr != nil {
			op.log.Warn("training step log write failed", "step", step, "error", logErr)
		}
	}
	return ok
}

func (res *Result) fail(step, target string, err error) {
	res.Failures = append(res.Failures, Failure{Step: step, Target: target, Error: err.Error()})
}

func namespaceFor(rec playground.TrainingRecord, agentID string) string {
	if rec.AgentID != "" {
		return rec.AgentID
	}
	return agentID
}
