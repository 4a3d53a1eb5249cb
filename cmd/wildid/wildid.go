package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wildid/internal/api"
	"wildid/internal/classify"
	"wildid/internal/config"
	"wildid/internal/history"
	"wildid/internal/identify"
	"wildid/internal/kvstore"
	"wildid/internal/logger"
	"wildid/internal/observability"
	"wildid/internal/ratelimit"
	"wildid/internal/reference"
	"wildid/internal/security"
	"wildid/internal/version"
)

var configFile = flag.String("config", "", "Path to configuration file")

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, version.GetInfo())
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, version.GetInfo())
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	// Key-value store for trust, captcha and session state
	store, err := kvstore.New(cfg.Store)
	if err != nil {
		slog.Error("Failed to initialize key-value store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Identification history persistence
	historyStore, err := history.New(cfg.History)
	if err != nil {
		slog.Error("Failed to initialize history storage", "error", err)
		os.Exit(1)
	}
	defer historyStore.Close()

	// External vision classifier
	classifier, err := classify.New(cfg.Classifier)
	if err != nil {
		if errors.Is(err, classify.ErrNotConfigured) {
			slog.Error("Classifier API key is not configured",
				"provider", cfg.Classifier.Provider)
		} else {
			slog.Error("Failed to initialize classifier", "error", err)
		}
		os.Exit(1)
	}

	// Species reference data, embedded in the binary
	refs, err := reference.New()
	if err != nil {
		slog.Error("Failed to load species reference data", "error", err)
		os.Exit(1)
	}
	slog.Info("Species reference data loaded", "entries", refs.Len())

	identifyService := identify.NewService(classifier, historyStore, refs, cfg.Server.MaxUploadBytes)

	// Security engine, instrumented when metrics are enabled
	var engine security.Engine = security.NewCoordinator(store, cfg.Security)
	if cfg.Metrics.Enabled {
		instrumented, err := observability.NewInstrumentedEngine(engine)
		if err != nil {
			slog.Error("Failed to create instrumented security engine", "error", err)
			os.Exit(1)
		}
		engine = instrumented
	}

	handlers := api.NewHandlers(engine, identifyService, store, cfg)

	// Setup routes with middleware
	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}

	// Captcha issuance throttle
	var issueLimiter ratelimit.Limiter
	if cfg.Security.IssueLimit.Enabled {
		memLimiter := ratelimit.NewMemoryLimiter(cfg.Security.IssueLimit)
		defer memLimiter.Close()
		issueLimiter = memLimiter
	}

	router := api.SetupRoutes(handlers, cfg, issueLimiter, routeOpts...)

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Starting server", "addr", server.Addr, "captcha_enabled", cfg.Security.CaptchaEnabled)

		var err error
		if cfg.Server.TLSEnabled {
			if cfg.Server.TLSCertFile == "" || cfg.Server.TLSKeyFile == "" {
				slog.Error("TLS is enabled but cert file or key file is not specified")
				os.Exit(1)
			}
			slog.Info("Starting HTTPS server with TLS")
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			slog.Info("Starting HTTP server")
			err = server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")

	// Create a deadline to wait for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown metrics server
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	// Attempt graceful shutdown
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete")
}
