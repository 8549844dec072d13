package training

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/wolfman30/agent-playground/internal/playground"
	"github.com/wolfman30/agent-playground/internal/vectorstore"
)

type fakeVectors struct {
	mu       sync.Mutex
	failIDs  map[string]bool
	deletes  [][]string
	upserts  []string
	upsertID []string
	err      error
}

func (f *fakeVectors) Upsert(_ context.Context, namespace, text string, _ map[string]string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.upserts = append(f.upserts, namespace+":"+text)
	return f.upsertID, nil
}

func (f *fakeVectors) Delete(_ context.Context, _ string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, append([]string(nil), ids...))
	for _, id := range ids {
		if f.failIDs[id] {
			return fmt.Errorf("vector delete %s failed", id)
		}
	}
	return nil
}

type fakeAssistant struct {
	mu       sync.Mutex
	docs     map[string]string
	deleted  []string
	uploads  map[string]string
	findErr  error
	uploadOK bool
}

func (f *fakeAssistant) UploadDocument(_ context.Context, name string, content io.Reader, metadata map[string]string) (*vectorstore.AssistantFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.uploadOK {
		return nil, errors.New("assistant down")
	}
	var buf bytes.Buffer
	_, _ = io.Copy(&buf, content)
	if f.uploads == nil {
		f.uploads = map[string]string{}
	}
	f.uploads[metadata["training_id"]] = buf.String()
	return &vectorstore.AssistantFile{ID: "file-" + metadata["training_id"], Name: name, Metadata: metadata}, nil
}

func (f *fakeAssistant) FindDocument(_ context.Context, trainingID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return "", f.findErr
	}
	return f.docs[trainingID], nil
}

func (f *fakeAssistant) DeleteDocument(_ context.Context, fileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, fileID)
	return nil
}

type fakeContent struct {
	mu      sync.Mutex
	deletes [][]string
	created []playground.TrainingRecord
	err     error
}

func (f *fakeContent) CreateContent(_ context.Context, rec playground.TrainingRecord) (*playground.TrainingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	rec.ID = fmt.Sprintf("rec-%d", len(f.created)+1)
	f.created = append(f.created, rec)
	return &rec, nil
}

func (f *fakeContent) DeleteContent(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, append([]string(nil), ids...))
	return f.err
}

func (f *fakeContent) ListContent(context.Context, string, string) ([]playground.TrainingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]playground.TrainingRecord(nil), f.created...), nil
}

type fakeAgents struct {
	mu     sync.Mutex
	agent  playground.Agent
	saves  int
	getErr error
}

func (f *fakeAgents) GetAgent(_ context.Context, agentID string) (*playground.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	a := f.agent
	a.TrainingData = append([]playground.TrainingEntry(nil), f.agent.TrainingData...)
	return &a, nil
}

func (f *fakeAgents) SaveAgent(_ context.Context, agent *playground.Agent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	f.agent = *agent
	return nil
}

type fakeObjects struct {
	keys []string
}

func (f *fakeObjects) Upload(_ context.Context, key string, body io.Reader, _ string) (string, error) {
	_, _ = io.Copy(io.Discard, body)
	f.keys = append(f.keys, key)
	return "https://cdn.example.com/" + key, nil
}

type memorySteps struct {
	mu    sync.Mutex
	steps []Step
}

func (m *memorySteps) Record(_ context.Context, s Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, s)
	return nil
}

func entries(ids ...string) []playground.TrainingEntry {
	out := make([]playground.TrainingEntry, 0, len(ids))
	for _, id := range ids {
		out = append(out, playground.TrainingEntry{ID: id})
	}
	return out
}

func entryIDs(list []playground.TrainingEntry) []string {
	out := make([]string, 0, len(list))
	for _, e := range list {
		out = append(out, e.ID)
	}
	return out
}
