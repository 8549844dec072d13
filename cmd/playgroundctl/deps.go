package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/wolfman30/agent-playground/internal/app/bootstrap"
	appconfig "github.com/wolfman30/agent-playground/internal/config"
	"github.com/wolfman30/agent-playground/internal/crawl"
	"github.com/wolfman30/agent-playground/internal/gateway"
	"github.com/wolfman30/agent-playground/internal/http/handlers"
	"github.com/wolfman30/agent-playground/internal/playground"
	"github.com/wolfman30/agent-playground/internal/realtime"
	"github.com/wolfman30/agent-playground/internal/training"
	"github.com/wolfman30/agent-playground/pkg/logging"
)

// crawler is the part of crawl.Service the CLI drives.
type crawler interface {
	Start(ctx context.Context, agentID, url string) (playground.CrawlJob, error)
	Status(agentID string) (crawl.Status, bool)
	Wait(agentID string)
	Close()
}

// watcher mirrors an agent's rows from the change feed.
type watcher interface {
	Watch(ctx context.Context, agentID string) (*realtime.Bridge, error)
	Close()
}

// stepReader lists failed reconcile steps.
type stepReader interface {
	Failed(ctx context.Context, agentID string, limit int) ([]training.Step, error)
}

// deps builds the components a command needs. Each builder is called lazily
// so a command only requires the configuration it uses.
type deps struct {
	configs  func(ctx context.Context) (*handlers.ConfigWriter, error)
	crawler  func(ctx context.Context) (crawler, error)
	training func(ctx context.Context) (training.Reconciler, handlers.ContentReader, error)
	watcher  func(ctx context.Context) (watcher, error)
	steps    func(ctx context.Context) (stepReader, error)
}

func newEnvDeps() *deps {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	gatewayClient := func() (*gateway.Client, error) {
		return gateway.NewClient(gateway.Config{
			BaseURL: cfg.GatewayBaseURL,
			APIKey:  cfg.GatewayAPIKey,
			Timeout: cfg.GatewayTimeout,
			Logger:  logger,
		})
	}
	contentStore := func(ctx context.Context, gw *gateway.Client) contentBackend {
		pool := bootstrap.ConnectPostgresPool(ctx, cfg.DatabaseURL, logger)
		if store := bootstrap.BuildContentStore(pool, cfg); store != nil {
			return store
		}
		return gw
	}

	return &deps{
		configs: func(ctx context.Context) (*handlers.ConfigWriter, error) {
			gw, err := gatewayClient()
			if err != nil {
				return nil, err
			}
			return handlers.NewConfigWriter(gw, nil, logger), nil
		},
		crawler: func(ctx context.Context) (crawler, error) {
			client, err := bootstrap.BuildScraperClient(cfg)
			if err != nil {
				return nil, err
			}
			if client == nil {
				return nil, errors.New("SCRAPER_BASE_URL is required")
			}
			redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
			return bootstrap.BuildCrawlService(cfg, client, redisClient, nil, logger, nil), nil
		},
		training: func(ctx context.Context) (training.Reconciler, handlers.ContentReader, error) {
			gw, err := gatewayClient()
			if err != nil {
				return nil, nil, err
			}
			contents := contentStore(ctx, gw)
			rec, err := bootstrap.BuildReconciler(cfg, bootstrap.ReconcilerDeps{
				Content: contents,
				Agents:  gw,
				SQLDB:   openSQLDB(cfg.DatabaseURL),
			}, logger)
			if err != nil {
				return nil, nil, err
			}
			return rec, contents, nil
		},
		watcher: func(ctx context.Context) (watcher, error) {
			gw, err := gatewayClient()
			if err != nil {
				return nil, err
			}
			hub, err := bootstrap.BuildHub(cfg, contentStore(ctx, gw), nil, logger)
			if err != nil {
				return nil, err
			}
			if hub == nil {
				return nil, errors.New("no realtime feed configured")
			}
			return hub, nil
		},
		steps: func(ctx context.Context) (stepReader, error) {
			db := openSQLDB(cfg.DatabaseURL)
			if db == nil {
				return nil, errors.New("DATABASE_URL is required")
			}
			if err := db.PingContext(ctx); err != nil {
				return nil, fmt.Errorf("ping db: %w", err)
			}
			return training.NewStepLog(db), nil
		},
	}
}

type contentBackend interface {
	handlers.ContentReader
	training.ContentStore
}

func openSQLDB(databaseURL string) *sql.DB {
	if databaseURL == "" {
		return nil
	}
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil
	}
	return db
}
