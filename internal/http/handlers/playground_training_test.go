package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/agent-playground/internal/playground"
	"github.com/wolfman30/agent-playground/internal/realtime"
	"github.com/wolfman30/agent-playground/internal/training"
)

func multipartRequest(t *testing.T, target, fileName, contentType string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="`+fileName+`"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func trainingRecords() []playground.TrainingRecord {
	return []playground.TrainingRecord{
		{ID: "r1", AgentID: "a1", TrainingIDs: []string{"t1"}},
		{ID: "r2", AgentID: "a1", TrainingIDs: []string{"t2", "t3"}},
		{ID: "r3", AgentID: "other"},
	}
}

func TestTrainingListFallsBackToContent(t *testing.T) {
	content := &fakeContent{records: trainingRecords()}
	h := NewTrainingHandler(&fakeReconciler{}, content, nil, nil)

	rec := httptest.NewRecorder()
	h.List(rec, withParams(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"agentID": "a1"}))

	require.Equal(t, http.StatusOK, rec.Code)
	var data struct {
		Records []playground.TrainingRecord `json:"records"`
		Live    bool                        `json:"live"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &data))
	assert.Len(t, data.Records, 2)
	assert.False(t, data.Live)
}

func TestTrainingCreate(t *testing.T) {
	recon := &fakeReconciler{ingestReply: &training.IngestResult{
		Record:       playground.TrainingRecord{ID: "new", AgentID: "a1"},
		AgentUpdated: true,
	}}
	h := NewTrainingHandler(recon, &fakeContent{}, nil, nil)

	body := map[string]string{"type": "faq", "source": "Opening hours", "text": "We open at 9.", "agent_id": "spoofed"}
	rec := httptest.NewRecorder()
	h.Create(rec, withParams(jsonRequest(t, http.MethodPost, "/", body), map[string]string{"agentID": "a1"}))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, recon.ingested, 1)
	assert.Equal(t, "a1", recon.ingested[0].AgentID)
	assert.Equal(t, training.TypeFAQ, recon.ingested[0].Type)
}

func TestTrainingCreateValidationError(t *testing.T) {
	h := NewTrainingHandler(&fakeReconciler{ingestErr: training.ErrTextRequired}, &fakeContent{}, nil, nil)
	rec := httptest.NewRecorder()
	h.Create(rec, withParams(jsonRequest(t, http.MethodPost, "/", map[string]string{}), map[string]string{"agentID": "a1"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	h = NewTrainingHandler(&fakeReconciler{ingestErr: errors.New("vector store down")}, &fakeContent{}, nil, nil)
	rec = httptest.NewRecorder()
	h.Create(rec, withParams(jsonRequest(t, http.MethodPost, "/", map[string]string{"text": "x"}), map[string]string{"agentID": "a1"}))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestTrainingUploadPDF(t *testing.T) {
	recon := &fakeReconciler{ingestReply: &training.IngestResult{Record: playground.TrainingRecord{ID: "pdf-1"}}}
	h := NewTrainingHandler(recon, &fakeContent{}, nil, nil)

	req := multipartRequest(t, "/", "menu.pdf", "application/pdf", []byte("%PDF-1.7 test"))
	rec := httptest.NewRecorder()
	h.UploadPDF(rec, withParams(req, map[string]string{"agentID": "a1"}))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"menu.pdf"}, recon.pdfNames)
	assert.Equal(t, "%PDF-1.7 test", string(recon.pdfBodies[0]))

	req = multipartRequest(t, "/", "notes.txt", "text/plain", []byte("hello"))
	rec = httptest.NewRecorder()
	h.UploadPDF(rec, withParams(req, map[string]string{"agentID": "a1"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, recon.pdfNames, 1)
}

func TestTrainingDelete(t *testing.T) {
	recon := &fakeReconciler{result: training.Result{Success: true, VectorOK: true, ContentOK: true}}
	h := NewTrainingHandler(recon, &fakeContent{records: trainingRecords()}, nil, nil)

	rec := httptest.NewRecorder()
	h.Delete(rec, withParams(httptest.NewRequest(http.MethodDelete, "/", nil),
		map[string]string{"agentID": "a1", "recordID": "r2"}))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, recon.deleted, 1)
	assert.Equal(t, []string{"t2", "t3"}, recon.deleted[0].TrainingIDs)
}

func TestTrainingDeleteRejectsOtherAgentsRecord(t *testing.T) {
	recon := &fakeReconciler{}
	h := NewTrainingHandler(recon, &fakeContent{records: trainingRecords()}, nil, nil)

	for _, id := range []string{"r3", "missing"} {
		rec := httptest.NewRecorder()
		h.Delete(rec, withParams(httptest.NewRequest(http.MethodDelete, "/", nil),
			map[string]string{"agentID": "a1", "recordID": id}))
		assert.Equal(t, http.StatusNotFound, rec.Code, id)
	}
	assert.Empty(t, recon.deleted)
}

func TestTrainingDeletePartialFailure(t *testing.T) {
	recon := &fakeReconciler{result: training.Result{
		VectorOK:  false,
		ContentOK: true,
		Failures:  []training.Failure{{Step: training.StepVectorDelete, Target: "t1", Error: "timeout"}},
	}}
	h := NewTrainingHandler(recon, &fakeContent{records: trainingRecords()}, nil, nil)

	rec := httptest.NewRecorder()
	h.Delete(rec, withParams(httptest.NewRequest(http.MethodDelete, "/", nil),
		map[string]string{"agentID": "a1", "recordID": "r1"}))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.False(t, env.Success)
	var res training.Result
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.True(t, res.ContentOK)
	assert.Len(t, res.Failures, 1)
}

func TestTrainingBulkDelete(t *testing.T) {
	recon := &fakeReconciler{result: training.Result{Success: true}}
	content := &fakeContent{records: trainingRecords()}
	h := NewTrainingHandler(recon, content, nil, nil)

	body := map[string][]string{"ids": {"r1", "r2", "r3", "ghost"}}
	rec := httptest.NewRecorder()
	h.BulkDelete(rec, withParams(jsonRequest(t, http.MethodPost, "/", body), map[string]string{"agentID": "a1"}))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, content.lists)
	require.Len(t, recon.bulk, 2)
	assert.Equal(t, "r1", recon.bulk[0].ID)
	assert.Equal(t, "r2", recon.bulk[1].ID)

	var data struct {
		Missing []string `json:"missing"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &data))
	assert.Equal(t, []string{"r3", "ghost"}, data.Missing)
}

func TestTrainingBulkDeleteValidation(t *testing.T) {
	h := NewTrainingHandler(&fakeReconciler{}, &fakeContent{records: trainingRecords()}, nil, nil)

	rec := httptest.NewRecorder()
	h.BulkDelete(rec, withParams(jsonRequest(t, http.MethodPost, "/", map[string]any{"ids": []string{}}),
		map[string]string{"agentID": "a1"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.BulkDelete(rec, withParams(jsonRequest(t, http.MethodPost, "/", map[string]any{"ids": []string{"ghost"}}),
		map[string]string{"agentID": "a1"}))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type captureFeed struct {
	fn           func(realtime.ChangeEvent)
	unsubscribed int
}

type countingSubscription struct {
	unsubscribed *int
}

func (s countingSubscription) Unsubscribe() error {
	*s.unsubscribed++
	return nil
}

func (f *captureFeed) Subscribe(_ context.Context, _ realtime.Filter, fn func(realtime.ChangeEvent)) (realtime.Subscription, error) {
	f.fn = fn
	return countingSubscription{unsubscribed: &f.unsubscribed}, nil
}

func TestTrainingWatchServesLiveRecords(t *testing.T) {
	content := &fakeContent{records: trainingRecords()}
	feed := &captureFeed{}
	hub := realtime.NewHub(feed, func(ctx context.Context, agentID string) ([]playground.TrainingRecord, error) {
		return content.ListContent(ctx, agentID, "")
	}, realtime.BridgeConfig{})
	defer hub.Close()
	h := NewTrainingHandler(&fakeReconciler{}, content, hub, nil)

	rec := httptest.NewRecorder()
	h.Watch(rec, withParams(httptest.NewRequest(http.MethodPost, "/", nil), map[string]string{"agentID": "a1"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, feed.fn)

	feed.fn(realtime.ChangeEvent{
		Type:  realtime.EventInsert,
		Table: realtime.DefaultTable,
		New:   map[string]any{"id": "r9", "agent_id": "a1", "scraping_status": true},
	})

	listsBefore := content.lists
	rec = httptest.NewRecorder()
	h.List(rec, withParams(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"agentID": "a1"}))

	require.Equal(t, http.StatusOK, rec.Code)
	var data struct {
		Records []playground.TrainingRecord `json:"records"`
		Live    bool                        `json:"live"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &data))
	assert.True(t, data.Live)
	assert.Len(t, data.Records, 3)
	assert.Equal(t, listsBefore, content.lists)
}

func TestTrainingUnwatchCancelsSubscription(t *testing.T) {
	content := &fakeContent{records: trainingRecords()}
	feed := &captureFeed{}
	hub := realtime.NewHub(feed, func(ctx context.Context, agentID string) ([]playground.TrainingRecord, error) {
		return content.ListContent(ctx, agentID, "")
	}, realtime.BridgeConfig{})
	defer hub.Close()
	h := NewTrainingHandler(&fakeReconciler{}, content, hub, nil)
	params := map[string]string{"agentID": "a1"}

	rec := httptest.NewRecorder()
	h.Watch(rec, withParams(httptest.NewRequest(http.MethodPost, "/", nil), params))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	h.Unwatch(rec, withParams(httptest.NewRequest(http.MethodDelete, "/", nil), params))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"watched":true}`, string(decodeEnvelope(t, rec).Data))
	assert.Equal(t, 1, feed.unsubscribed)

	_, ok := hub.Bridge("a1")
	assert.False(t, ok)

	listsBefore := content.lists
	rec = httptest.NewRecorder()
	h.List(rec, withParams(httptest.NewRequest(http.MethodGet, "/", nil), params))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, listsBefore+1, content.lists)

	rec = httptest.NewRecorder()
	h.Unwatch(rec, withParams(httptest.NewRequest(http.MethodDelete, "/", nil), params))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"watched":false}`, string(decodeEnvelope(t, rec).Data))
	assert.Equal(t, 1, feed.unsubscribed)

	unconfigured := NewTrainingHandler(&fakeReconciler{}, content, nil, nil)
	rec = httptest.NewRecorder()
	unconfigured.Unwatch(rec, withParams(httptest.NewRequest(http.MethodDelete, "/", nil), params))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}
