package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/agent-playground/internal/crawl"
	"github.com/wolfman30/agent-playground/internal/playground"
	"github.com/wolfman30/agent-playground/internal/scraper"
	"github.com/wolfman30/agent-playground/pkg/logging"
)

// CrawlService starts and tracks one crawl per agent.
type CrawlService interface {
	Start(ctx context.Context, agentID, url string) (playground.CrawlJob, error)
	Status(agentID string) (crawl.Status, bool)
	Stop(agentID string)
}

// Recrawler drops an already crawled URL's content and crawls it again.
type Recrawler interface {
	DeleteAndRecrawl(ctx context.Context, agentID, rawURL string) (string, error)
}

type CrawlHandler struct {
	crawls    CrawlService
	recrawler Recrawler
	logger    *logging.Logger
}

func NewCrawlHandler(crawls CrawlService, recrawler Recrawler, logger *logging.Logger) *CrawlHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &CrawlHandler{crawls: crawls, recrawler: recrawler, logger: logger}
}

type crawlRequest struct {
	URL string `json:"url"`
}

// Start handles POST /playground/agents/{agentID}/crawl.
func (h *CrawlHandler) Start(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	var req crawlRequest
	if err := decodeBody(w, r, &req); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		jsonError(w, "url is required", http.StatusBadRequest)
		return
	}

	job, err := h.crawls.Start(r.Context(), agentID, req.URL)
	if err != nil {
		h.writeCrawlError(w, agentID, err)
		return
	}
	writeData(w, http.StatusAccepted, job)
}

// Status handles GET /playground/agents/{agentID}/crawl.
func (h *CrawlHandler) Status(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	st, ok := h.crawls.Status(agentID)
	if !ok {
		st = crawl.Status{State: crawl.StateIdle}
	}
	writeData(w, http.StatusOK, st)
}

// Cancel handles DELETE /playground/agents/{agentID}/crawl.
func (h *CrawlHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	h.crawls.Stop(agentID)
	st, _ := h.crawls.Status(agentID)
	writeData(w, http.StatusOK, st)
}

// Recrawl handles POST /playground/agents/{agentID}/crawl/recrawl.
func (h *CrawlHandler) Recrawl(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	if h.recrawler == nil {
		jsonError(w, "recrawl not configured", http.StatusNotImplemented)
		return
	}

	var req crawlRequest
	if err := decodeBody(w, r, &req); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	jobID, err := h.recrawler.DeleteAndRecrawl(r.Context(), agentID, req.URL)
	if err != nil {
		h.writeCrawlError(w, agentID, err)
		return
	}
	writeData(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

func (h *CrawlHandler) writeCrawlError(w http.ResponseWriter, agentID string, err error) {
	switch {
	case errors.Is(err, scraper.ErrInvalidURL):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, crawl.ErrAlreadyPolling):
		jsonError(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error("crawl request failed", "agent_id", agentID, "error", err)
		jsonError(w, "crawl request failed", http.StatusBadGateway)
	}
}
