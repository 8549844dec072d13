package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/agent-playground/internal/config"
	"github.com/wolfman30/agent-playground/internal/crawl"
	"github.com/wolfman30/agent-playground/internal/observability/metrics"
	"github.com/wolfman30/agent-playground/internal/playground"
	"github.com/wolfman30/agent-playground/internal/realtime"
	"github.com/wolfman30/agent-playground/internal/scraper"
	"github.com/wolfman30/agent-playground/internal/training"
	"github.com/wolfman30/agent-playground/internal/vectorstore"
	"github.com/wolfman30/agent-playground/pkg/logging"
)

// ReconcilerDeps are the stores a reconciler is built over. Objects may be
// nil when object storage is not configured.
type ReconcilerDeps struct {
	Content training.ContentStore
	Agents  training.AgentStore
	Objects training.ObjectStore
	SQLDB   *sql.DB
	Metrics *metrics.PlaygroundMetrics
}

// BuildReconciler wires the vector index, the optional assistant API and the
// optional step log into a best-effort reconciler.
func BuildReconciler(cfg *appconfig.Config, deps ReconcilerDeps, logger *logging.Logger) (*training.BestEffortReconciler, error) {
	if cfg.VectorBaseURL == "" {
		return nil, errors.New("bootstrap: VECTOR_BASE_URL not set")
	}
	vectors, err := vectorstore.NewClient(vectorstore.Config{BaseURL: cfg.VectorBaseURL, APIKey: cfg.VectorAPIKey})
	if err != nil {
		return nil, err
	}
	rc := training.Config{
		Vectors:  vectors,
		Content:  deps.Content,
		Agents:   deps.Agents,
		Objects:  deps.Objects,
		Metrics:  deps.Metrics,
		Logger:   logger,
		Parallel: cfg.BulkDeleteParallelism,
	}
	if cfg.AssistantBaseURL != "" {
		assistant, err := vectorstore.NewAssistantClient(vectorstore.AssistantConfig{
			BaseURL:   cfg.AssistantBaseURL,
			APIKey:    cfg.VectorAPIKey,
			Assistant: cfg.AssistantName,
		})
		if err != nil {
			return nil, err
		}
		rc.Assistant = assistant
	}
	if steps := BuildStepLog(deps.SQLDB, cfg, logger); steps != nil {
		rc.Steps = steps
	}
	return training.NewBestEffortReconciler(rc)
}

// BuildScraperClient returns the crawl service client, or nil when
// SCRAPER_BASE_URL is unset.
func BuildScraperClient(cfg *appconfig.Config) (*scraper.Client, error) {
	if cfg.ScraperBaseURL == "" {
		return nil, nil
	}
	client, err := scraper.NewClient(scraper.Config{
		BaseURL:    cfg.ScraperBaseURL,
		APIKey:     cfg.ScraperAPIKey,
		RatePerSec: cfg.ScraperRatePerSec,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: scraper: %w", err)
	}
	return client, nil
}

// BuildCrawlService wires a crawl service over client. The Redis lock is
// used when a client is available.
func BuildCrawlService(cfg *appconfig.Config, client *scraper.Client, redisClient *redis.Client,
	m *metrics.PlaygroundMetrics, logger *logging.Logger, onComplete crawl.CompleteFunc) *crawl.Service {
	sc := crawl.ServiceConfig{
		Starter:    client,
		Checker:    client,
		Logger:     logger,
		Metrics:    m,
		Interval:   cfg.CrawlPollInterval,
		MaxPages:   cfg.CrawlMaxPages,
		OnComplete: onComplete,
	}
	if redisClient != nil {
		sc.Locker = crawl.NewRedisLock(redisClient, cfg.CrawlLockTTL)
	}
	return crawl.NewService(sc)
}

// ContentLister lists an agent's scraped content rows.
type ContentLister interface {
	ListContent(ctx context.Context, agentID, jobID string) ([]playground.TrainingRecord, error)
}

// BuildHub returns a realtime hub over the configured change feed, or nil
// when no feed is configured.
func BuildHub(cfg *appconfig.Config, contents ContentLister, m *metrics.PlaygroundMetrics, logger *logging.Logger) (*realtime.Hub, error) {
	feed, err := BuildChangeFeed(cfg, logger)
	if err != nil {
		return nil, err
	}
	if feed == nil {
		return nil, nil
	}
	loader := func(ctx context.Context, agentID string) ([]playground.TrainingRecord, error) {
		return contents.ListContent(ctx, agentID, "")
	}
	return realtime.NewHub(feed, loader, realtime.BridgeConfig{
		Schema:  cfg.RealtimeSchema,
		Table:   cfg.RealtimeTable,
		Logger:  logger,
		Metrics: m,
	}), nil
}
