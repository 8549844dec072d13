package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/agent-playground/internal/config"
	"github.com/wolfman30/agent-playground/internal/content"
	"github.com/wolfman30/agent-playground/internal/realtime"
	"github.com/wolfman30/agent-playground/internal/training"
	"github.com/wolfman30/agent-playground/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// ConnectPostgresPool opens a pgx pool, or returns nil when the URL is empty
// or the database cannot be reached.
func ConnectPostgresPool(ctx context.Context, databaseURL string, logger *logging.Logger) *pgxpool.Pool {
	if strings.TrimSpace(databaseURL) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(pingCtx, databaseURL)
	if err != nil {
		logger.Warn("postgres pool not created", "error", err)
		return nil
	}
	if err := pool.Ping(pingCtx); err != nil {
		logger.Warn("postgres not available", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

// BuildStepLog returns the durable reconcile step log when enabled and a
// database handle is available.
func BuildStepLog(sqlDB *sql.DB, cfg *appconfig.Config, logger *logging.Logger) *training.StepLog {
	if cfg == nil || !cfg.ReconcileStepLogOn || sqlDB == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	logger.Info("reconcile step log enabled")
	return training.NewStepLog(sqlDB)
}

// BuildContentStore returns the Postgres scraped-content store when the
// content backend is "postgres" and a pool is available.
func BuildContentStore(pool *pgxpool.Pool, cfg *appconfig.Config) *content.Store {
	if cfg == nil || pool == nil || !strings.EqualFold(cfg.ContentBackend, "postgres") {
		return nil
	}
	return content.NewStore(pool)
}

// BuildChangeFeed selects the realtime feed named by RealtimeBackend.
func BuildChangeFeed(cfg *appconfig.Config, logger *logging.Logger) (realtime.Feed, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.RealtimeBackend)) {
	case "", "supabase":
		if strings.TrimSpace(cfg.SupabaseURL) == "" {
			return nil, nil
		}
		feed, err := realtime.NewSupabaseFeed(realtime.SupabaseConfig{
			URL:    cfg.SupabaseURL,
			APIKey: cfg.SupabaseAnonKey,
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		return feed, nil
	case "postgres":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, errors.New("bootstrap: postgres realtime backend requires DATABASE_URL")
		}
		return realtime.NewPostgresFeed(realtime.DSNConnector(cfg.DatabaseURL), cfg.RealtimeChannel, logger), nil
	case "none", "off":
		return nil, nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown realtime backend %q", cfg.RealtimeBackend)
	}
}
