package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/agent-playground/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/agent-playground/internal/http/middleware"
	"github.com/wolfman30/agent-playground/internal/meta"
	"github.com/wolfman30/agent-playground/pkg/logging"
)

// Config holds router configuration. Nil handlers leave their routes
// unregistered.
type Config struct {
	Logger             *logging.Logger
	Health             http.Handler
	Config             *handlers.ConfigHandler
	Crawl              *handlers.CrawlHandler
	Training           *handlers.TrainingHandler
	Avatar             *handlers.AvatarHandler
	MetaOAuth          *handlers.MetaOAuthHandler
	MetaWebhook        *meta.WebhookHandler
	MetricsHandler     http.Handler
	AdminAuthSecret    string
	CORSAllowedOrigins []string

	// Per-IP limit on the playground routes; zero disables it.
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// New creates the chi router with every playground route configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	// Public endpoints: health, metrics, OAuth redirects and Meta webhooks.
	r.Group(func(public chi.Router) {
		if cfg.Health != nil {
			public.Handle("/health", cfg.Health)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.MetaOAuth != nil {
			public.Route("/oauth/meta", func(oauth chi.Router) {
				oauth.Get("/{channel}/start", cfg.MetaOAuth.Start)
				oauth.Get("/callback", cfg.MetaOAuth.Callback)
			})
		}
		if cfg.MetaWebhook != nil {
			public.Get("/webhooks/meta", cfg.MetaWebhook.HandleVerification)
			public.Post("/webhooks/meta", cfg.MetaWebhook.HandleEvent)
		}
	})

	r.Route("/playground", func(pg chi.Router) {
		pg.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
		if cfg.RateLimitPerSecond > 0 {
			pg.Use(httpmiddleware.RateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst))
		}
		pg.Route("/agents/{agentID}", func(agent chi.Router) {
			if cfg.Config != nil {
				agent.Get("/config", cfg.Config.Get)
				agent.Patch("/config", cfg.Config.Patch)
			}
			if cfg.Crawl != nil {
				agent.Post("/crawl", cfg.Crawl.Start)
				agent.Get("/crawl", cfg.Crawl.Status)
				agent.Delete("/crawl", cfg.Crawl.Cancel)
				agent.Post("/crawl/recrawl", cfg.Crawl.Recrawl)
			}
			if cfg.Training != nil {
				agent.Route("/training", func(tr chi.Router) {
					tr.Get("/", cfg.Training.List)
					tr.Post("/", cfg.Training.Create)
					tr.Post("/watch", cfg.Training.Watch)
					tr.Delete("/watch", cfg.Training.Unwatch)
					tr.Post("/pdf", cfg.Training.UploadPDF)
					tr.Post("/bulk-delete", cfg.Training.BulkDelete)
					tr.Delete("/{recordID}", cfg.Training.Delete)
				})
			}
			if cfg.Avatar != nil {
				agent.Post("/avatar", cfg.Avatar.Upload)
			}
		})
	})

	return r
}
