package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"orchard-platform/internal/config"
	"orchard-platform/internal/handlers"
	"orchard-platform/internal/repository"
	"orchard-platform/internal/services"
	"orchard-platform/pkg/database"
	"orchard-platform/pkg/logging"
	"orchard-platform/pkg/metrics"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := logging.NewStructuredLogger("orchard-api", "1.0.0", logging.ParseLevel(cfg.Logging.Level))

	ctx := context.Background()
	logger.Info(ctx, "[STARTUP] Starting orchard platform API server", logging.Fields{
		"version":      "1.0.0",
		"server_host":  cfg.Server.Host,
		"server_port":  cfg.Server.Port,
		"store_driver": cfg.Store.Driver,
	})

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector("orchard_platform")

	// Initialize store
	storeConfig := &database.Config{
		Driver:          cfg.Store.Driver,
		Host:            cfg.Store.Host,
		Port:            cfg.Store.Port,
		User:            cfg.Store.User,
		Password:        cfg.Store.Password,
		Database:        cfg.Store.Database,
		SSLMode:         cfg.Store.SSLMode,
		Path:            cfg.Store.Path,
		MaxOpenConns:    cfg.Store.MaxOpenConns,
		MaxIdleConns:    cfg.Store.MaxIdleConns,
		ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Store.ConnMaxIdleTime,
	}

	store, err := database.NewStore(storeConfig, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to connect to store", logging.Fields{}, err)
	}
	defer store.Close()

	// Initialize repository
	stateRepo := repository.NewStateRepository(store, logger, metricsCollector)

	// Initialize services in dependency order
	climateService := services.NewClimateService(stateRepo, logger, metricsCollector)
	gradingService := services.NewGradingService(climateService, logger, metricsCollector)
	designer := services.NewOrchardDesigner(logger, metricsCollector)
	priceCache := services.NewPriceCache(logger, metricsCollector)
	flags := services.NewFeatureFlags(ctx, stateRepo, logger)
	feedback := services.NewFeedbackCollector(ctx, stateRepo, logger)
	anomalyDetector := services.NewAnomalyDetector(stateRepo, logger, metricsCollector)
	analytics := services.NewRunAnalytics(ctx, stateRepo, logger)
	validator := services.NewValidator(stateRepo, logger, metricsCollector)
	evolutionEngine := services.NewEvolutionEngine(ctx, stateRepo, flags, feedback, anomalyDetector, logger, metricsCollector)
	simulationService := services.NewSimulationService(designer, gradingService, priceCache, evolutionEngine, validator, analytics, flags, logger, metricsCollector)
	forecastService := services.NewForecastService(climateService, stateRepo, logger, metricsCollector)
	trendService := services.NewTrendService(logger)
	priceRefresher := services.NewPriceRefresher(priceCache, anomalyDetector, flags, logger)

	// Initialize handlers
	simulationHandler := handlers.NewSimulationHandler(simulationService, validator, feedback, analytics, flags, logger, metricsCollector)
	gradingHandler := handlers.NewGradingHandler(climateService, gradingService, logger, metricsCollector)
	orchardHandler := handlers.NewOrchardHandler(designer, logger, metricsCollector)
	forecastHandler := handlers.NewForecastHandler(forecastService, climateService, logger, metricsCollector)
	adminHandler := handlers.NewAdminHandler(trendService, evolutionEngine, flags, priceCache, priceRefresher, anomalyDetector, stateRepo, logger, metricsCollector)

	// Setup router
	router := mux.NewRouter()
	router.Use(handlers.RequestIDMiddleware)
	router.Use(handlers.AccessLogMiddleware(logger, metricsCollector))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	// Register routes
	simulationHandler.RegisterRoutes(router)
	gradingHandler.RegisterRoutes(router)
	orchardHandler.RegisterRoutes(router)
	forecastHandler.RegisterRoutes(router)
	adminHandler.RegisterRoutes(router)

	// Prometheus metrics endpoint
	router.Handle("/metrics", promhttp.Handler())

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info(ctx, "[SERVER_START] HTTP server listening", logging.Fields{
			"address": server.Addr,
		})

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "[SERVER_ERROR] Server failed", logging.Fields{}, err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "[SHUTDOWN] Shutting down server...", logging.Fields{})

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "[SHUTDOWN_ERROR] Server forced to shutdown", logging.Fields{}, err)
	}

	logger.Info(ctx, "[SHUTDOWN_COMPLETE] Server stopped", logging.Fields{})
}
