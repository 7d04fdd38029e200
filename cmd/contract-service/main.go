package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/agrifood/contract-system/contract-service/config"
	"github.com/agrifood/contract-system/contract-service/handlers"
	"github.com/agrifood/contract-system/shared/events"
	"github.com/agrifood/contract-system/shared/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.ReadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With(
		slog.String("service", cfg.ServiceName),
		slog.String("env", cfg.Env),
	)
	slog.SetDefault(logger)

	logger.Info("service_starting", slog.String("port", cfg.Port))

	// Initialize dependencies
	ctx := context.Background()
	deps, err := config.BuildDependencies(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to build dependencies: %v", err)
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Error("dependencies_close_failed", slog.String("error", err.Error()))
		}
	}()

	// Start event subscriber
	if deps.EventSubscriber != nil {
		subCtx := ctx
		if deps.Telemetry != nil {
			subCtx = telemetry.WithTelemetry(subCtx, deps.Telemetry)
		}
		if err := deps.EventSubscriber.Subscribe(subCtx, events.Topic("#"), deps.EventRouter); err != nil {
			log.Fatalf("Failed to start event subscriber: %v", err)
		}
	}

	// Setup HTTP router
	router := setupRouter(cfg, deps)

	// Setup and start HTTP server
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("service_stopping")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server_forced_shutdown", slog.String("error", err.Error()))
	}

	logger.Info("service_stopped")
}

func setupRouter(cfg *config.Config, deps *config.Dependencies) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	// Room for a full creation saga including its compensations
	r.Use(middleware.Timeout(5*cfg.Saga.StepTimeout + 4*cfg.Saga.CompensationTimeout + 5*time.Second))

	// Telemetry middleware (inject telemetry into context)
	if deps.Telemetry != nil {
		r.Use(telemetry.Middleware(deps.Telemetry))
	}

	r.Get("/health", handlers.NewHealthHandler(cfg.ServiceName, deps.DB))

	// Metrics endpoint for Prometheus
	r.Handle("/metrics", handlers.NewMetricsHandler())

	r.Route("/api/v1", deps.ContractHandlers.RegisterRoutes)

	return r
}
