package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/agent-playground/internal/playground"
	"github.com/wolfman30/agent-playground/internal/storage"
)

func TestAvatarUploadPatchesConfig(t *testing.T) {
	agents := newFakeAgents(&playground.Agent{ID: "a1", Config: map[string]any{"name": "Bot"}})
	objects := &fakeUploader{}
	h := NewAvatarHandler(objects, NewConfigWriter(agents, nil, nil), nil)

	req := multipartRequest(t, "/", "Face.PNG", "image/png", []byte{0x89, 'P', 'N', 'G'})
	rec := httptest.NewRecorder()
	h.Upload(rec, withParams(req, map[string]string{"agentID": "a1"}))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "agents/a1/avatar.png", objects.key)
	assert.Equal(t, "image/png", objects.contentType)
	assert.Equal(t, "https://cdn.example/agents/a1/avatar.png", agents.config("a1")["avatar_url"])
	assert.Equal(t, "Bot", agents.config("a1")["name"])
}

func TestAvatarUploadRejectsNonImages(t *testing.T) {
	objects := &fakeUploader{}
	h := NewAvatarHandler(objects, NewConfigWriter(newFakeAgents(&playground.Agent{ID: "a1"}), nil, nil), nil)

	req := multipartRequest(t, "/", "doc.pdf", "application/pdf", []byte("%PDF"))
	rec := httptest.NewRecorder()
	h.Upload(rec, withParams(req, map[string]string{"agentID": "a1"}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, objects.key)
}

func TestAvatarUploadWithoutStorage(t *testing.T) {
	agents := newFakeAgents(&playground.Agent{ID: "a1"})
	h := NewAvatarHandler(&fakeUploader{err: storage.ErrNotConfigured}, NewConfigWriter(agents, nil, nil), nil)

	req := multipartRequest(t, "/", "a.jpg", "image/jpeg", []byte{0xff, 0xd8})
	rec := httptest.NewRecorder()
	h.Upload(rec, withParams(req, map[string]string{"agentID": "a1"}))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Zero(t, agents.saves)
}
