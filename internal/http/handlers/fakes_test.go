package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/agent-playground/internal/crawl"
	"github.com/wolfman30/agent-playground/internal/gateway"
	"github.com/wolfman30/agent-playground/internal/meta"
	"github.com/wolfman30/agent-playground/internal/playground"
	"github.com/wolfman30/agent-playground/internal/training"
)

func withParams(req *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

type decodedEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) decodedEnvelope {
	t.Helper()
	var env decodedEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return env
}

var errNotFound = &gateway.APIError{Method: http.MethodGet, Path: "/x", StatusCode: http.StatusNotFound}

type fakeAgents struct {
	mu      sync.Mutex
	agents  map[string]*playground.Agent
	getErr  error
	saveErr error
	saves   int
}

func newFakeAgents(agents ...*playground.Agent) *fakeAgents {
	f := &fakeAgents{agents: map[string]*playground.Agent{}}
	for _, a := range agents {
		f.agents[a.ID] = a
	}
	return f
}

func (f *fakeAgents) GetAgent(_ context.Context, agentID string) (*playground.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	a, ok := f.agents[agentID]
	if !ok {
		return nil, errNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAgents) UpdateAgentConfig(_ context.Context, agentID string, cfg playground.ConfigDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves++
	f.agents[agentID].Config = cfg
	return nil
}

func (f *fakeAgents) config(agentID string) playground.ConfigDocument {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.agents[agentID].Config
}

type fakeCrawls struct {
	job      playground.CrawlJob
	err      error
	status   crawl.Status
	tracked  bool
	stopped  []string
	startURL string
}

func (f *fakeCrawls) Start(_ context.Context, agentID, url string) (playground.CrawlJob, error) {
	f.startURL = url
	if f.err != nil {
		return playground.CrawlJob{}, f.err
	}
	job := f.job
	job.AgentID = agentID
	return job, nil
}

func (f *fakeCrawls) Status(string) (crawl.Status, bool) { return f.status, f.tracked }

func (f *fakeCrawls) Stop(agentID string) { f.stopped = append(f.stopped, agentID) }

type fakeReconciler struct {
	deleted     []playground.TrainingRecord
	bulk        []playground.TrainingRecord
	ingested    []training.IngestRequest
	pdfNames    []string
	pdfBodies   [][]byte
	result      training.Result
	ingestErr   error
	ingestReply *training.IngestResult
}

func (f *fakeReconciler) Delete(_ context.Context, rec playground.TrainingRecord) (training.Result, error) {
	f.deleted = append(f.deleted, rec)
	return f.result, nil
}

func (f *fakeReconciler) BulkDelete(_ context.Context, _ string, recs []playground.TrainingRecord) (training.Result, error) {
	f.bulk = append(f.bulk, recs...)
	return f.result, nil
}

func (f *fakeReconciler) Ingest(_ context.Context, req training.IngestRequest) (*training.IngestResult, error) {
	if f.ingestErr != nil {
		return nil, f.ingestErr
	}
	f.ingested = append(f.ingested, req)
	return f.ingestReply, nil
}

func (f *fakeReconciler) IngestPDF(_ context.Context, req training.PDFRequest) (*training.IngestResult, error) {
	data, _ := io.ReadAll(req.Body)
	f.pdfNames = append(f.pdfNames, req.FileName)
	f.pdfBodies = append(f.pdfBodies, data)
	return f.ingestReply, nil
}

type fakeContent struct {
	records []playground.TrainingRecord
	listErr error
	lists   int
}

func (f *fakeContent) ListContent(_ context.Context, agentID, _ string) ([]playground.TrainingRecord, error) {
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []playground.TrainingRecord
	for _, r := range f.records {
		if r.AgentID == agentID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeContent) GetContent(_ context.Context, id string) (*playground.TrainingRecord, error) {
	for _, r := range f.records {
		if r.ID == id {
			cp := r
			return &cp, nil
		}
	}
	return nil, errNotFound
}

type fakeUploader struct {
	key         string
	contentType string
	body        []byte
	err         error
}

func (f *fakeUploader) Upload(_ context.Context, key string, body io.Reader, contentType string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.key = key
	f.contentType = contentType
	f.body, _ = io.ReadAll(body)
	return "https://cdn.example/" + key, nil
}

type fakeGraph struct {
	pages        []meta.Page
	subscribed   []string
	wabaSubs     []string
	exchangeErr  error
	authChannels []meta.Channel
}

func (f *fakeGraph) AuthorizationURL(channel meta.Channel, state string) (string, error) {
	f.authChannels = append(f.authChannels, channel)
	return "https://www.facebook.com/dialog/oauth?state=" + state, nil
}

func (f *fakeGraph) ExchangeCode(_ context.Context, code string) (*meta.Token, error) {
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return &meta.Token{AccessToken: "short-" + code}, nil
}

func (f *fakeGraph) ExchangeLongLivedToken(_ context.Context, short string) (*meta.Token, error) {
	return &meta.Token{AccessToken: "long-" + short}, nil
}

func (f *fakeGraph) ListPages(context.Context, string) ([]meta.Page, error) {
	return f.pages, nil
}

func (f *fakeGraph) SubscribePage(_ context.Context, pageID, _ string, _ []string) error {
	f.subscribed = append(f.subscribed, pageID)
	return nil
}

func (f *fakeGraph) SubscribeWhatsAppNumber(_ context.Context, wabaID, _ string) error {
	f.wabaSubs = append(f.wabaSubs, wabaID)
	return nil
}

type fakeStates struct {
	pending map[string]meta.PendingAuth
	next    int
}

func (f *fakeStates) Issue(_ context.Context, p meta.PendingAuth) (string, error) {
	if f.pending == nil {
		f.pending = map[string]meta.PendingAuth{}
	}
	f.next++
	state := "state-" + string(rune('0'+f.next))
	f.pending[state] = p
	return state, nil
}

func (f *fakeStates) Consume(_ context.Context, state string) (meta.PendingAuth, error) {
	p, ok := f.pending[state]
	if !ok {
		return meta.PendingAuth{}, meta.ErrStateNotFound
	}
	delete(f.pending, state)
	return p, nil
}
