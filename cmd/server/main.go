package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"karmika-sahayak/backend/pkg/config"
	"karmika-sahayak/backend/pkg/di"
	"karmika-sahayak/backend/pkg/logger"
	"karmika-sahayak/backend/pkg/router"
	"karmika-sahayak/backend/pkg/secrets"
	"karmika-sahayak/backend/shared/observability"
)

func main() {
	// Configuration loads .env on first use
	cfg := config.New()

	// Initialize structured logger
	log := logger.New(logger.Config{
		Level: cfg.Logging.Level,
		JSON:  cfg.Logging.Format != "text",
	})
	logger.SetGlobal(log)

	log.Info("Starting karmika-sahayak backend",
		"env", cfg.Server.Env,
		"version", os.Getenv("APP_VERSION"))

	// Secrets manager overrides credentials when Vault is configured; the
	// environment values stay as fallback.
	if err := secrets.Init(log); err != nil {
		log.Warn("Secrets manager unavailable, using environment credentials", "error", err.Error())
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		cfg.Database.Password = secrets.GetSecretWithDefault(ctx, "db_password", cfg.Database.Password)
		cfg.Redis.Password = secrets.GetSecretWithDefault(ctx, "redis_password", cfg.Redis.Password)
		cfg.LLM.OpenAIKey = secrets.GetSecretWithDefault(ctx, "openai_api_key", cfg.LLM.OpenAIKey)
		cancel()
	}

	var stopTracing func()
	if cfg.Observability.Enabled {
		stopTracing = observability.SetupTracing("karmika-sahayak")
		observability.SetupPrometheusMetrics(cfg.Observability.MetricsPort)
	}

	// Initialize database
	db, err := config.NewDB()
	if err != nil {
		log.LogError(err, "Failed to initialize database")
		os.Exit(1)
	}

	// Initialize dependency injection container
	container, err := di.New(cfg, log, db)
	if err != nil {
		log.LogError(err, "Failed to initialize dependency container")
		os.Exit(1)
	}
	defer container.Close()

	// Auto-migrate the chat schema
	if err := container.Store.AutoMigrate(); err != nil {
		log.LogError(err, "Failed to migrate database")
		os.Exit(1)
	}

	container.Health.Start()

	// Initialize and setup router. OpenAPI validation is added before the
	// routes so the middleware wraps them.
	r := router.New(container)
	if cfg.Validation.OpenAPIEnabled {
		r.AddOpenAPIValidation(cfg.Validation.SpecPath)
	}
	r.SetupRoutes()

	// Background retention sweeps
	rootCtx, stopBackground := context.WithCancel(context.Background())
	if cfg.Retention.Enabled {
		go container.Sweeper.Run(rootCtx)
	}

	// WriteTimeout stays unset; streamed replies can run for minutes.
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Start the server in a goroutine
	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogError(err, "Server failed to start")
			os.Exit(1)
		}
	}()

	// Setup graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Block until we receive a signal
	<-quit
	log.Info("Shutting down server...")

	stopBackground()

	// Create a deadline to wait for
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.Timeout)
	defer cancel()

	// Shutdown the server
	if err := srv.Shutdown(ctx); err != nil {
		log.LogError(err, "Server forced to shutdown")
	}

	if stopTracing != nil {
		stopTracing()
	}

	log.Info("Server exited gracefully")
}
