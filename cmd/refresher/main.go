package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"orchard-platform/internal/config"
	"orchard-platform/internal/repository"
	"orchard-platform/internal/services"
	"orchard-platform/pkg/database"
	"orchard-platform/pkg/logging"
	"orchard-platform/pkg/metrics"
)

func main() {
	// Parse command-line flags
	runOnce := flag.Bool("once", false, "Run one refresh cycle and exit instead of scheduling")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := logging.NewStructuredLogger("orchard-refresher", "1.0.0", logging.ParseLevel(cfg.Logging.Level))

	ctx := context.Background()
	logger.Info(ctx, "[REFRESHER_START] Starting background refresher", logging.Fields{
		"version":            "1.0.0",
		"price_schedule":     cfg.Refresh.PriceSchedule,
		"anomaly_schedule":   cfg.Refresh.AnomalySchedule,
		"evolution_schedule": cfg.Refresh.EvolutionSchedule,
		"once":               *runOnce,
	})

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector("orchard_refresher")

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
		logger.Fatal(ctx, "[REFRESHER_ERROR] Failed to connect to store", logging.Fields{}, err)
	}
	defer store.Close()

	// Initialize repository and services
	stateRepo := repository.NewStateRepository(store, logger, metricsCollector)
	climateService := services.NewClimateService(stateRepo, logger, metricsCollector)
	priceCache := services.NewPriceCache(logger, metricsCollector)
	flags := services.NewFeatureFlags(ctx, stateRepo, logger)
	feedback := services.NewFeedbackCollector(ctx, stateRepo, logger)
	anomalyDetector := services.NewAnomalyDetector(stateRepo, logger, metricsCollector)
	evolutionEngine := services.NewEvolutionEngine(ctx, stateRepo, flags, feedback, anomalyDetector, logger, metricsCollector)
	priceRefresher := services.NewPriceRefresher(priceCache, anomalyDetector, flags, logger)

	refreshPrices := func() {
		updated := priceRefresher.Refresh(ctx)
		logger.Info(ctx, "[REFRESH_PRICES] Price refresh cycle finished", logging.Fields{
			"varieties": updated,
		})
	}

	checkWeather := func() {
		if !flags.Enabled(services.FlagAnomalyDetection) {
			logger.Debug(ctx, "[REFRESH_WEATHER] Skipped, anomaly detection disabled", nil)
			return
		}

		// Inspect the most recent synthetic day for every region.
		now := time.Now()
		checked := 0
		for _, region := range climateService.Regions() {
			series := climateService.DailySeries(ctx, region.ID, now.Year())
			if len(series) == 0 {
				continue
			}
			idx := now.YearDay() - 1
			if idx >= len(series) {
				idx = len(series) - 1
			}
			day := series[idx]
			// Wind is not part of the daily series; approximate storm wind
			// from rainfall so heavy fronts still raise wind alerts.
			wind := day.RainfallMM * 0.45
			anomalyDetector.CheckWeather(ctx, region.ID, day.MinTempC, day.MaxTempC, day.RainfallMM, wind)
			checked++
		}

		logger.Info(ctx, "[REFRESH_WEATHER] Weather anomaly sweep finished", logging.Fields{
			"regions": checked,
		})
	}

	runEvolution := func() {
		result := evolutionEngine.Evolve(ctx)
		logger.Info(ctx, "[REFRESH_EVOLUTION] Evolution cycle finished", logging.Fields{
			"evolved":    result.Evolved,
			"generation": result.Generation,
		})
	}

	if *runOnce {
		refreshPrices()
		checkWeather()
		runEvolution()
		logger.Info(ctx, "[REFRESHER_COMPLETE] Single refresh cycle completed", logging.Fields{})
		return
	}

	scheduler := cron.New()

	if _, err := scheduler.AddFunc(cfg.Refresh.PriceSchedule, refreshPrices); err != nil {
		logger.Fatal(ctx, "[REFRESHER_ERROR] Invalid price refresh schedule", logging.Fields{
			"schedule": cfg.Refresh.PriceSchedule,
		}, err)
	}
	if _, err := scheduler.AddFunc(cfg.Refresh.AnomalySchedule, checkWeather); err != nil {
		logger.Fatal(ctx, "[REFRESHER_ERROR] Invalid anomaly schedule", logging.Fields{
			"schedule": cfg.Refresh.AnomalySchedule,
		}, err)
	}
	if _, err := scheduler.AddFunc(cfg.Refresh.EvolutionSchedule, runEvolution); err != nil {
		logger.Fatal(ctx, "[REFRESHER_ERROR] Invalid evolution schedule", logging.Fields{
			"schedule": cfg.Refresh.EvolutionSchedule,
		}, err)
	}

	// Prime the price cache immediately so the API has quotes on day one.
	refreshPrices()

	scheduler.Start()
	logger.Info(ctx, "[REFRESHER_RUNNING] Scheduler started", logging.Fields{
		"jobs": len(scheduler.Entries()),
	})

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "[REFRESHER_SHUTDOWN] Stopping scheduler...", logging.Fields{})
	stopCtx := scheduler.Stop()
	<-stopCtx.Done()
	logger.Info(ctx, "[REFRESHER_COMPLETE] Scheduler stopped", logging.Fields{})
}
