package training

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/agent-playground/internal/playground"
)

// Delete removes one training record from every store. Steps run in order:
// vector deletes per training id, assistant document delete, relational
// delete, agent document rewrite. A failing step is logged and the next one
// still runs.
func (r *BestEffortReconciler) Delete(ctx context.Context, rec playground.TrainingRecord) (Result, error) {
	if strings.TrimSpace(rec.ID) == "" {
		return Result{}, ErrRecordRequired
	}
	if strings.TrimSpace(rec.AgentID) == "" {
		return Result{}, ErrAgentRequired
	}
	ctx, op := r.begin(ctx, "delete", rec.AgentID,
		attribute.String("record_id", rec.ID),
		attribute.Int("training_ids", len(rec.TrainingIDs)))
	defer op.span.End()

	res := Result{OperationID: op.id, VectorOK: true}
	ns := namespaceFor(rec, rec.AgentID)

	for _, tid := range rec.TrainingIDs {
		err := r.vectors.Delete(ctx, ns, []string{tid})
		if !r.record(ctx, op, StepVectorDelete, []string{tid}, err) {
			res.VectorOK = false
			res.fail(StepVectorDelete, tid, err)
		}
	}

	if r.deleteAssistantDocument(ctx, op, &res, rec) {
		res.AssistantDeleted++
	}

	err := r.content.DeleteContent(ctx, []string{rec.ID})
	res.ContentOK = r.record(ctx, op, StepContentDelete, []string{rec.ID}, err)
	if !res.ContentOK {
		res.fail(StepContentDelete, rec.ID, err)
	}

	r.rewriteAgent(ctx, op, &res, rec.AgentID, deletedSet([]playground.TrainingRecord{rec}))

	res.Success = res.VectorOK && res.ContentOK
	op.span.SetAttributes(attribute.Bool("success", res.Success))
	op.log.Info("training record deleted", "record_id", rec.ID, "success", res.Success, "failures", len(res.Failures))
	return res, nil
}

// BulkDelete removes many records of one agent. Assistant documents are
// deleted per record, then the relational rows in one batch, then the union
// of training ids in one vector call, then the agent document once.
func (r *BestEffortReconciler) BulkDelete(ctx context.Context, agentID string, recs []playground.TrainingRecord) (Result, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return Result{}, ErrAgentRequired
	}
	selected := make([]playground.TrainingRecord, 0, len(recs))
	var foreign []playground.TrainingRecord
	for _, rec := range recs {
		if strings.TrimSpace(rec.ID) == "" {
			return Result{}, ErrRecordRequired
		}
		if rec.AgentID != "" && rec.AgentID != agentID {
			foreign = append(foreign, rec)
			continue
		}
		selected = append(selected, rec)
	}
	ctx, op := r.begin(ctx, "bulk_delete", agentID, attribute.Int("records", len(selected)))
	defer op.span.End()

	res := Result{OperationID: op.id, VectorOK: true, ContentOK: true}
	for _, rec := range foreign {
		res.fail(StepSelect, rec.ID, fmt.Errorf("%w: owned by %s", ErrForeignRecord, rec.AgentID))
	}
	if len(foreign) > 0 {
		op.log.Warn("skipped records of another agent", "records", len(foreign))
	}
	if len(selected) == 0 {
		res.Success = true
		return res, nil
	}

	var (
		mu      sync.Mutex
		deleted int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallel)
	for _, rec := range selected {
		g.Go(func() error {
			var local Result
			ok := r.deleteAssistantDocument(gctx, op, &local, rec)
			mu.Lock()
			defer mu.Unlock()
			if ok {
				deleted++
			}
			res.Failures = append(res.Failures, local.Failures...)
			return nil
		})
	}
	_ = g.Wait()
	res.AssistantDeleted = deleted

	ids := make([]string, 0, len(selected))
	for _, rec := range selected {
		ids = append(ids, rec.ID)
	}
	err := r.content.DeleteContent(ctx, ids)
	res.ContentOK = r.record(ctx, op, StepContentDelete, ids, err)
	if !res.ContentOK {
		res.fail(StepContentDelete, strings.Join(ids, ","), err)
	}

	trainingIDs := unionTrainingIDs(selected)
	if len(trainingIDs) > 0 {
		err := r.vectors.Delete(ctx, agentID, trainingIDs)
		res.VectorOK = r.record(ctx, op, StepVectorDelete, trainingIDs, err)
		if !res.VectorOK {
			res.fail(StepVectorDelete, strings.Join(trainingIDs, ","), err)
		}
	}

	r.rewriteAgent(ctx, op, &res, agentID, deletedSet(selected))

	res.Success = res.VectorOK && res.ContentOK
	op.span.SetAttributes(attribute.Bool("success", res.Success))
	op.log.Info("training records deleted", "records", len(selected), "success", res.Success, "failures", len(res.Failures))
	return res, nil
}

// deleteAssistantDocument looks up the document ingested under the record's
// first training id and deletes it. It reports whether a document was
// deleted.
func (r *BestEffortReconciler) deleteAssistantDocument(ctx context.Context, op *operation, res *Result, rec playground.TrainingRecord) bool {
	if r.assistant == nil || len(rec.TrainingIDs) == 0 {
		return false
	}
	tid := rec.TrainingIDs[0]
	fileID, err := r.assistant.FindDocument(ctx, tid)
	if err != nil {
		r.record(ctx, op, StepAssistantDelete, []string{tid}, err)
		res.fail(StepAssistantDelete, tid, err)
		return false
	}
	if fileID == "" {
		return false
	}
	err = r.assistant.DeleteDocument(ctx, fileID)
	if !r.record(ctx, op, StepAssistantDelete, []string{fileID}, err) {
		res.fail(StepAssistantDelete, fileID, err)
		return false
	}
	return true
}

// rewriteAgent removes deleted entries from the agent document and persists
// it. The document is written back even when nothing matched so that one
// rewrite happens per reconcile call.
func (r *BestEffortReconciler) rewriteAgent(ctx context.Context, op *operation, res *Result, agentID string, deleted map[string]struct{}) {
	agent, err := r.agents.GetAgent(ctx, agentID)
	if err != nil {
		r.record(ctx, op, StepAgentRewrite, []string{agentID}, err)
		res.fail(StepAgentRewrite, agentID, err)
		return
	}
	res.RemovedEntries = agent.RemoveTraining(deleted)
	err = r.agents.SaveAgent(ctx, agent)
	res.AgentOK = r.record(ctx, op, StepAgentRewrite, []string{agentID}, err)
	if !res.AgentOK {
		res.fail(StepAgentRewrite, agentID, err)
	}
}

// deletedSet collects record ids and their training ids; agent documents
// reference training data by either.
func deletedSet(recs []playground.TrainingRecord) map[string]struct{} {
	set := make(map[string]struct{})
	for _, rec := range recs {
		set[rec.ID] = struct{}{}
		for _, tid := range rec.TrainingIDs {
			set[tid] = struct{}{}
		}
	}
	return set
}

func unionTrainingIDs(recs []playground.TrainingRecord) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, rec := range recs {
		for _, tid := range rec.TrainingIDs {
			if _, ok := seen[tid]; ok {
				continue
			}
			seen[tid] = struct{}{}
			out = append(out, tid)
		}
	}
	return out
}
