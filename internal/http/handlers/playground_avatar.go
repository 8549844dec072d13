package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/agent-playground/internal/playground"
	"github.com/wolfman30/agent-playground/internal/storage"
	"github.com/wolfman30/agent-playground/pkg/logging"
)

const (
	avatarConfigPath            = "avatar_url"
	defaultMaxAvatarBytes int64 = 5 << 20
)

// ObjectUploader stores a blob and returns its public URL.
type ObjectUploader interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
}

type AvatarHandler struct {
	objects  ObjectUploader
	configs  *ConfigWriter
	logger   *logging.Logger
	maxBytes int64
}

func NewAvatarHandler(objects ObjectUploader, configs *ConfigWriter, logger *logging.Logger) *AvatarHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AvatarHandler{objects: objects, configs: configs, logger: logger, maxBytes: defaultMaxAvatarBytes}
}

// Upload handles POST /playground/agents/{agentID}/avatar. The image replaces
// any previous avatar under the same key and its URL is written to the
// agent config.
func (h *AvatarHandler) Upload(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		jsonError(w, "avatar must be an image", http.StatusBadRequest)
		return
	}

	key := storage.AvatarKey(agentID, header.Filename)
	url, err := h.objects.Upload(r.Context(), key, file, contentType)
	if err != nil {
		if errors.Is(err, storage.ErrNotConfigured) {
			jsonError(w, "object storage not configured", http.StatusServiceUnavailable)
			return
		}
		h.logger.Error("avatar upload failed", "agent_id", agentID, "key", key, "error", err)
		jsonError(w, "failed to upload avatar", http.StatusBadGateway)
		return
	}

	if err := h.configs.Set(r.Context(), agentID, avatarConfigPath, url); err != nil {
		if errors.Is(err, playground.ErrNotFound) {
			jsonError(w, "agent not found", http.StatusNotFound)
			return
		}
		h.logger.Error("avatar config update failed", "agent_id", agentID, "error", err)
		jsonError(w, "avatar uploaded but agent config was not updated", http.StatusBadGateway)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"avatar_url": url})
}
