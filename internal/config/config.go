package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port               string
	Env                string
	PublicBaseURL      string
	LogLevel           string
	AdminJWTSecret     string
	CORSAllowedOrigins []string
	RateLimitPerSecond float64
	RateLimitBurst     int
	DatabaseURL        string
	RedisAddr          string
	RedisPassword      string
	RedisTLS           bool

	// Backend gateway
	GatewayBaseURL string
	GatewayAPIKey  string
	GatewayTimeout time.Duration
	// ContentBackend selects where scraped content rows live: "gateway" or "postgres"
	ContentBackend string

	// Scraping / crawl microservice
	ScraperBaseURL        string
	ScraperAPIKey         string
	ScraperRatePerSec     float64
	CrawlPollInterval     time.Duration
	CrawlLockTTL          time.Duration
	CrawlMaxPages         int
	ReconcileStepLogOn    bool
	BulkDeleteParallelism int

	// Vector store (Pinecone-compatible) and assistant API
	VectorBaseURL    string
	VectorAPIKey     string
	AssistantBaseURL string
	AssistantName    string

	// Realtime change feed: "supabase" or "postgres"
	RealtimeBackend string
	RealtimeChannel string
	SupabaseURL     string
	SupabaseAnonKey string
	RealtimeTable   string
	RealtimeSchema  string

	// Meta (Facebook / Instagram / WhatsApp)
	MetaAppID            string
	MetaAppSecret        string
	MetaRedirectURI      string
	MetaWebhookToken     string
	MetaGraphAPIBase     string
	MetaOAuthSuccessURL  string
	MetaOAuthStateExpiry time.Duration

	// Object storage
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	StorageBucket       string
	StoragePublicURL    string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		PublicBaseURL:      getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		RateLimitPerSecond: getEnvAsFloat("RATE_LIMIT_PER_SEC", 10),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisAddr:          getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisTLS:           getEnvAsBool("REDIS_TLS", false),

		GatewayBaseURL: getEnv("GATEWAY_BASE_URL", ""),
		GatewayAPIKey:  getEnv("GATEWAY_API_KEY", ""),
		GatewayTimeout: getEnvAsDuration("GATEWAY_TIMEOUT", 15*time.Second),
		ContentBackend: getEnv("CONTENT_BACKEND", "gateway"),

		ScraperBaseURL:        getEnv("SCRAPER_BASE_URL", ""),
		ScraperAPIKey:         getEnv("SCRAPER_API_KEY", ""),
		ScraperRatePerSec:     getEnvAsFloat("SCRAPER_RATE_PER_SEC", 2),
		CrawlPollInterval:     getEnvAsDuration("CRAWL_POLL_INTERVAL", 30*time.Second),
		CrawlLockTTL:          getEnvAsDuration("CRAWL_LOCK_TTL", 2*time.Hour),
		CrawlMaxPages:         getEnvAsInt("CRAWL_MAX_PAGES", 50),
		ReconcileStepLogOn:    getEnvAsBool("RECONCILE_STEP_LOG", true),
		BulkDeleteParallelism: getEnvAsInt("BULK_DELETE_PARALLELISM", 4),

		VectorBaseURL:    getEnv("VECTOR_BASE_URL", ""),
		VectorAPIKey:     getEnv("VECTOR_API_KEY", ""),
		AssistantBaseURL: getEnv("ASSISTANT_BASE_URL", ""),
		AssistantName:    getEnv("ASSISTANT_NAME", "playground"),

		RealtimeBackend: getEnv("REALTIME_BACKEND", "supabase"),
		RealtimeChannel: getEnv("REALTIME_CHANNEL", "scraped_content_changes"),
		SupabaseURL:     getEnv("SUPABASE_URL", ""),
		SupabaseAnonKey: getEnv("SUPABASE_ANON_KEY", ""),
		RealtimeTable:   getEnv("REALTIME_TABLE", "scraped_content"),
		RealtimeSchema:  getEnv("REALTIME_SCHEMA", "public"),

		MetaAppID:            getEnv("META_APP_ID", ""),
		MetaAppSecret:        getEnv("META_APP_SECRET", ""),
		MetaRedirectURI:      getEnv("META_REDIRECT_URI", ""),
		MetaWebhookToken:     getEnv("META_WEBHOOK_VERIFY_TOKEN", ""),
		MetaGraphAPIBase:     getEnv("META_GRAPH_API_BASE", "https://graph.facebook.com/v18.0"),
		MetaOAuthSuccessURL:  getEnv("META_OAUTH_SUCCESS_URL", ""),
		MetaOAuthStateExpiry: getEnvAsDuration("META_OAUTH_STATE_EXPIRY", 10*time.Minute),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		StorageBucket:       getEnv("STORAGE_BUCKET", ""),
		StoragePublicURL:    getEnv("STORAGE_PUBLIC_URL", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
