// Package web assembles the HTTP surface: middleware, routes and assets.
package web

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shindakun/supalogin/internal/auth"
	"github.com/shindakun/supalogin/internal/config"
	"github.com/shindakun/supalogin/internal/metrics"
	"github.com/shindakun/supalogin/internal/web/handlers"
	webmiddleware "github.com/shindakun/supalogin/internal/web/middleware"
	"github.com/shindakun/supalogin/internal/web/static"
	"github.com/shindakun/supalogin/internal/web/templates"
)

// requestTimeout bounds every request except the event stream
const requestTimeout = 60 * time.Second

// RouterOptions holds what the router needs
type RouterOptions struct {
	Config   *config.Config
	Manager  *auth.Manager
	Renderer *templates.Renderer
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Logger   *log.Logger
}

// NewRouter builds the application handler
func NewRouter(opts RouterOptions) http.Handler {
	cfg := opts.Config

	h := handlers.New(handlers.Options{
		Renderer:      opts.Renderer,
		Metrics:       opts.Metrics,
		Logger:        opts.Logger,
		SiteName:      cfg.Server.SiteName,
		SubmitTimeout: cfg.Identity.Timeout,
	})
	limiter := webmiddleware.NewRateLimiter(
		cfg.RateLimit.RequestsPerWindow,
		cfg.RateLimit.WindowDuration,
		cfg.RateLimit.Burst,
		opts.Metrics,
	)
	limiter.Skip = handlers.IsPasswordToggle

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(func(next http.Handler) http.Handler {
		return webmiddleware.ErrorHandler(next, opts.Renderer, opts.Logger)
	})
	r.Use(webmiddleware.SecurityHeaders(cfg))
	r.Use(webmiddleware.MaxBytesMiddleware(cfg.Server.Security.MaxRequestBytes))

	// Assets and probes need no browser state
	r.Get("/healthz", h.Healthz)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(static.Files))))

	// Legacy paths
	r.Get("/signin", handlers.Moved("/sign-in"))
	r.Get("/signup", handlers.Moved("/sign-up"))

	r.Group(func(r chi.Router) {
		if cfg.Server.Security.CSRFEnabled {
			r.Use(webmiddleware.CSRFProtection([]byte(cfg.Session.Secret), cfg.IsHTTPS()))
		}
		r.Use(webmiddleware.Browsers(opts.Manager, opts.Logger))
		r.Use(webmiddleware.LoggingMiddleware(opts.Logger))

		// The event stream lives as long as the page
		r.Get("/events", h.Events)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))

			r.Get("/", h.Home)
			r.Get("/sign-in", h.SignInPage)
			r.Get("/sign-up", h.SignUpPage)
			r.Get("/{intent}/banner", h.Banner)

			// Only posts that reach the identity service are throttled
			r.With(limiter.Middleware).Post("/sign-in", h.SignInSubmit)
			r.With(limiter.Middleware).Post("/sign-up", h.SignUpSubmit)
			r.With(limiter.Middleware).Post("/auth/oauth/{provider}", h.OAuthStart)

			r.Get("/auth/callback", h.Callback)
			r.Post("/sign-out", h.SignOut)
		})
	})

	// 404 handler (must be last)
	r.NotFound(h.NotFound)

	return r
}
