package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/agent-playground/cmd/mainconfig"
	"github.com/wolfman30/agent-playground/internal/api/router"
	"github.com/wolfman30/agent-playground/internal/app/bootstrap"
	appconfig "github.com/wolfman30/agent-playground/internal/config"
	"github.com/wolfman30/agent-playground/internal/events"
	"github.com/wolfman30/agent-playground/internal/gateway"
	"github.com/wolfman30/agent-playground/internal/http/handlers"
	"github.com/wolfman30/agent-playground/internal/meta"
	"github.com/wolfman30/agent-playground/internal/observability/metrics"
	"github.com/wolfman30/agent-playground/internal/playground"
	"github.com/wolfman30/agent-playground/internal/storage"
	"github.com/wolfman30/agent-playground/internal/training"
	"github.com/wolfman30/agent-playground/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting agent playground API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer app.close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited")
}

type app struct {
	handler http.Handler
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*app, error) {
	a := &app{}
	metricsHandler, playgroundMetrics := setupMetrics()
	checks := map[string]handlers.HealthCheck{}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		a.closers = append(a.closers, func() { _ = redisClient.Close() })
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	pool := bootstrap.ConnectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool != nil {
		a.closers = append(a.closers, pool.Close)
		checks["postgres"] = pool.Ping
	}
	sqlDB := openSQLDB(cfg.DatabaseURL, logger)
	if sqlDB != nil {
		a.closers = append(a.closers, func() { _ = sqlDB.Close() })
	}

	gw, err := gateway.NewClient(gateway.Config{
		BaseURL: cfg.GatewayBaseURL,
		APIKey:  cfg.GatewayAPIKey,
		Timeout: cfg.GatewayTimeout,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}

	contentStore := selectContentStore(gw, pool, cfg, logger)
	configWriter := handlers.NewConfigWriter(gw, playgroundMetrics, logger)

	metaWebhook := meta.NewWebhookHandler(cfg.MetaWebhookToken, cfg.MetaAppSecret, func(ev meta.WebhookEvent) {
		logger.Info("meta webhook event", "object", ev.Object, "entries", len(ev.Entry))
	}, logger)
	if pool != nil {
		metaWebhook.WithDeliveries(events.NewDeliveryStore(pool))
	}

	routerCfg := &router.Config{
		Logger:             logger,
		Health:             handlers.NewHealthHandler(checks),
		Config:             handlers.NewConfigHandler(configWriter, logger),
		MetricsHandler:     metricsHandler,
		AdminAuthSecret:    cfg.AdminJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
		MetaWebhook:        metaWebhook,
	}

	objects := buildObjectStore(ctx, cfg, logger)
	if objects != nil {
		routerCfg.Avatar = handlers.NewAvatarHandler(objects, configWriter, logger)
	}

	hub, err := bootstrap.BuildHub(cfg, contentStore, playgroundMetrics, logger)
	if err != nil {
		return nil, fmt.Errorf("realtime: %w", err)
	}
	var bridges handlers.BridgeRegistry
	if hub != nil {
		a.closers = append(a.closers, hub.Close)
		bridges = hub
	} else {
		logger.Warn("realtime feed disabled")
	}

	deps := bootstrap.ReconcilerDeps{Content: contentStore, Agents: gw, SQLDB: sqlDB, Metrics: playgroundMetrics}
	if objects != nil {
		deps.Objects = objects
	}
	reconciler, err := bootstrap.BuildReconciler(cfg, deps, logger)
	if err != nil {
		logger.Warn("training routes disabled", "error", err)
	} else {
		routerCfg.Training = handlers.NewTrainingHandler(reconciler, contentStore, bridges, logger)
	}

	scraperClient, err := bootstrap.BuildScraperClient(cfg)
	if err != nil {
		return nil, err
	}
	if scraperClient != nil {
		crawls := bootstrap.BuildCrawlService(cfg, scraperClient, redisClient, playgroundMetrics, logger,
			func(job playground.CrawlJob, records []playground.TrainingRecord) {
				logger.Info("crawl completed", "agent_id", job.AgentID, "job_id", job.JobID, "records", len(records))
			})
		a.closers = append(a.closers, crawls.Close)
		routerCfg.Crawl = handlers.NewCrawlHandler(crawls, scraperClient, logger)
	} else {
		logger.Warn("crawl routes disabled: SCRAPER_BASE_URL not set")
	}

	if redisClient != nil && cfg.MetaAppID != "" {
		graph, err := meta.NewClient(meta.Config{
			AppID:        cfg.MetaAppID,
			AppSecret:    cfg.MetaAppSecret,
			RedirectURI:  cfg.MetaRedirectURI,
			GraphAPIBase: cfg.MetaGraphAPIBase,
			Logger:       logger,
		})
		if err != nil {
			return nil, fmt.Errorf("meta: %w", err)
		}
		states := meta.NewStateStore(redisClient, cfg.MetaOAuthStateExpiry)
		routerCfg.MetaOAuth = handlers.NewMetaOAuthHandler(graph, states, configWriter, cfg.MetaOAuthSuccessURL, logger)
	}

	a.handler = router.New(routerCfg)
	return a, nil
}

func setupMetrics() (http.Handler, *metrics.PlaygroundMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewPlaygroundMetrics(reg)
}

func openSQLDB(databaseURL string, logger *logging.Logger) *sql.DB {
	if databaseURL == "" {
		return nil
	}
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		logger.Warn("sql database not opened", "error", err)
		return nil
	}
	return db
}

// contentBackend is the scraped-content surface shared by the training
// handler, the reconciler and the realtime loader.
type contentBackend interface {
	handlers.ContentReader
	training.ContentStore
}

func selectContentStore(gw *gateway.Client, pool *pgxpool.Pool, cfg *appconfig.Config, logger *logging.Logger) contentBackend {
	if store := bootstrap.BuildContentStore(pool, cfg); store != nil {
		logger.Info("scraped content served from postgres")
		return store
	}
	return gw
}

func buildObjectStore(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) *storage.Store {
	if cfg.StorageBucket == "" {
		logger.Warn("object storage disabled: STORAGE_BUCKET not set")
		return nil
	}
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Warn("object storage disabled", "error", err)
		return nil
	}
	store := storage.NewStore(mainconfig.NewS3Client(awsCfg, cfg), cfg.StorageBucket, cfg.AWSRegion, cfg.StoragePublicURL, logger)
	if !store.Enabled() {
		return nil
	}
	return store
}
