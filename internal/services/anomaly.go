package services

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"orchard-platform/internal/models"
	"orchard-platform/internal/repository"
	"orchard-platform/pkg/logging"
	"orchard-platform/pkg/metrics"
)

const alertStream = "anomaly_alerts"

// Anomaly thresholds.
const (
	priceChangeThreshold  = 0.20
	coldSnapThresholdC    = -5.0
	heatWaveThresholdC    = 38.0
	heavyRainThresholdMM  = 30.0
	strongWindThresholdMS = 14.0

	maxRetainedAlerts = 200
)

// AnomalyDetector watches price and weather inputs for abrupt changes and
// keeps a bounded in-memory window of alerts for the evolution engine.
type AnomalyDetector struct {
	mu         sync.Mutex
	alerts     []models.Alert
	lastPrices map[string]float64
	repo       repository.StateRepository
	logger     *logging.StructuredLogger
	metrics    *metrics.Collector
}

// NewAnomalyDetector creates a new anomaly detector
func NewAnomalyDetector(repo repository.StateRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *AnomalyDetector {
	return &AnomalyDetector{
		lastPrices: make(map[string]float64),
		repo:       repo,
		logger:     logger,
		metrics:    metricsCollector,
	}
}

// CheckPrice compares a new quote against the previous one for the variety
// and raises an alert when the move exceeds the threshold.
func (d *AnomalyDetector) CheckPrice(ctx context.Context, variety string, price float64) []models.Alert {
	d.mu.Lock()
	prev, seen := d.lastPrices[variety]
	d.lastPrices[variety] = price
	d.mu.Unlock()

	if !seen || prev <= 0 {
		return nil
	}

	change := (price - prev) / prev
	if math.Abs(change) < priceChangeThreshold {
		return nil
	}

	kind := "price_surge"
	if change < 0 {
		kind = "price_drop"
	}
	severity := models.AlertSeverityWarning
	if math.Abs(change) >= 2*priceChangeThreshold {
		severity = models.AlertSeverityCritical
	}

	alert := d.raise(ctx, models.Alert{
		Category:  models.AlertCategoryPrice,
		Severity:  severity,
		Kind:      kind,
		Subject:   variety,
		Message:   fmt.Sprintf("%s price moved %.1f%% (%.0f -> %.0f KRW/kg)", variety, change*100, prev, price),
		Value:     change,
		Threshold: priceChangeThreshold,
	})

	return []models.Alert{alert}
}

// CheckWeather inspects one day of weather for a region and raises alerts
// for cold snaps, heat waves, heavy rain and strong wind.
func (d *AnomalyDetector) CheckWeather(ctx context.Context, regionID string, minTempC, maxTempC, rainMM, windMS float64) []models.Alert {
	var alerts []models.Alert

	if minTempC <= coldSnapThresholdC {
		alerts = append(alerts, d.raise(ctx, models.Alert{
			Category:  models.AlertCategoryWeather,
			Severity:  models.AlertSeverityCritical,
			Kind:      "cold_snap",
			Subject:   regionID,
			Message:   fmt.Sprintf("minimum temperature %.1f°C at or below %.1f°C", minTempC, coldSnapThresholdC),
			Value:     minTempC,
			Threshold: coldSnapThresholdC,
		}))
	}

	if maxTempC >= heatWaveThresholdC {
		alerts = append(alerts, d.raise(ctx, models.Alert{
			Category:  models.AlertCategoryWeather,
			Severity:  models.AlertSeverityCritical,
			Kind:      "heat_wave",
			Subject:   regionID,
			Message:   fmt.Sprintf("maximum temperature %.1f°C at or above %.1f°C", maxTempC, heatWaveThresholdC),
			Value:     maxTempC,
			Threshold: heatWaveThresholdC,
		}))
	}

	if rainMM >= heavyRainThresholdMM {
		alerts = append(alerts, d.raise(ctx, models.Alert{
			Category:  models.AlertCategoryWeather,
			Severity:  models.AlertSeverityWarning,
			Kind:      "heavy_rain",
			Subject:   regionID,
			Message:   fmt.Sprintf("rainfall %.1fmm at or above %.1fmm", rainMM, heavyRainThresholdMM),
			Value:     rainMM,
			Threshold: heavyRainThresholdMM,
		}))
	}

	if windMS >= strongWindThresholdMS {
		alerts = append(alerts, d.raise(ctx, models.Alert{
			Category:  models.AlertCategoryWeather,
			Severity:  models.AlertSeverityWarning,
			Kind:      "strong_wind",
			Subject:   regionID,
			Message:   fmt.Sprintf("wind %.1fm/s at or above %.1fm/s", windMS, strongWindThresholdMS),
			Value:     windMS,
			Threshold: strongWindThresholdMS,
		}))
	}

	return alerts
}

// raise stamps, retains and persists one alert.
func (d *AnomalyDetector) raise(ctx context.Context, alert models.Alert) models.Alert {
	alert.ID = uuid.NewString()
	alert.CreatedAt = time.Now().UTC()

	d.mu.Lock()
	d.alerts = append(d.alerts, alert)
	if len(d.alerts) > maxRetainedAlerts {
		d.alerts = d.alerts[len(d.alerts)-maxRetainedAlerts:]
	}
	d.mu.Unlock()

	d.metrics.RecordAnomalyAlert(alert.Category, alert.Severity)

	if d.repo != nil {
		if err := d.repo.AppendRecord(ctx, alertStream, alert); err != nil {
			d.logger.Error(ctx, "[ANOMALY] Failed to persist alert", logging.Fields{
				"kind": alert.Kind,
			}, err)
		}
	}

	d.logger.Warn(ctx, "[ANOMALY] Alert raised", logging.Fields{
		"category": alert.Category,
		"severity": alert.Severity,
		"kind":     alert.Kind,
		"subject":  alert.Subject,
	})

	return alert
}

// RecentAlerts returns up to limit newest alerts, optionally filtered by
// category. Newest last.
func (d *AnomalyDetector) RecentAlerts(limit int, category string) []models.Alert {
	d.mu.Lock()
	defer d.mu.Unlock()

	var filtered []models.Alert
	for _, a := range d.alerts {
		if category == "" || a.Category == category {
			filtered = append(filtered, a)
		}
	}

	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}

	out := make([]models.Alert, len(filtered))
	copy(out, filtered)
	return out
}

// Stats summarizes retained alerts by category and severity.
func (d *AnomalyDetector) Stats() map[string]interface{} {
	d.mu.Lock()
	defer d.mu.Unlock()

	byCategory := make(map[string]int)
	bySeverity := make(map[string]int)
	for _, a := range d.alerts {
		byCategory[a.Category]++
		bySeverity[a.Severity]++
	}

	return map[string]interface{}{
		"total":       len(d.alerts),
		"by_category": byCategory,
		"by_severity": bySeverity,
	}
}
