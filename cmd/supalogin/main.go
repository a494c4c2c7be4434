package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/shindakun/supalogin/internal/auth"
	"github.com/shindakun/supalogin/internal/config"
	"github.com/shindakun/supalogin/internal/identity"
	"github.com/shindakun/supalogin/internal/metrics"
	"github.com/shindakun/supalogin/internal/storage"
	"github.com/shindakun/supalogin/internal/version"
	"github.com/shindakun/supalogin/internal/web"
	"github.com/shindakun/supalogin/internal/web/templates"
)

func main() {
	// Initialize logger
	logger := log.New(os.Stdout, "[supalogin] ", log.LstdFlags|log.Lshortfile)
	logger.Printf("Starting supalogin %s...", version.GetFullVersion())

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	logger.Println("Configuration loaded successfully")

	// Initialize database
	logger.Printf("Initializing database at: %s", cfg.Storage.DBPath)
	db, err := storage.InitDB(cfg.Storage.DBPath)
	if err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	purged, err := storage.PurgeStaleSessions(db, time.Now().Add(-cfg.Session.RetainFor))
	if err != nil {
		logger.Fatalf("Failed to purge stale sessions: %v", err)
	}
	logger.Printf("Database initialized successfully (%d stale sessions purged)", purged)

	// Identity service client
	svc, err := identity.NewService(identity.ServiceOptions{
		BaseURL: cfg.Identity.URL,
		AnonKey: cfg.Identity.AnonKey,
		Timeout: cfg.Identity.Timeout,
	})
	if err != nil {
		logger.Fatalf("Failed to configure identity service: %v", err)
	}
	logger.Printf("Identity service: %s", cfg.Identity.URL)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	// Per-browser state
	callbackURL := cfg.CallbackURL()
	manager := auth.NewManager(auth.ManagerOptions{
		Service:        svc,
		DB:             db,
		Metrics:        m,
		Logger:         logger,
		CallbackURL:    callbackURL,
		SessionSecret:  cfg.Session.Secret,
		CookieMaxAge:   cfg.Session.MaxAge,
		CookieSecure:   cfg.CookieSecure(),
		CookieSameSite: cfg.CookieSameSite(),
		Capacity:       cfg.Session.Capacity,
		IdleTTL:        cfg.Session.IdleTTL,
	})
	defer manager.Close()
	logger.Printf("Browser manager initialized with OAuth callback: %s", callbackURL)

	renderer, err := templates.New()
	if err != nil {
		logger.Fatalf("Failed to parse templates: %v", err)
	}

	router := web.NewRouter(web.RouterOptions{
		Config:   cfg,
		Manager:  manager,
		Renderer: renderer,
		Metrics:  m,
		Gatherer: registry,
		Logger:   logger,
	})

	// HTTP server configuration
	srv := &http.Server{
		Addr:         cfg.GetAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Printf("Server starting on http://%s", cfg.GetAddr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Printf("Server forced to shutdown: %v", err)
		return
	}

	logger.Println("Server exited successfully")
}
