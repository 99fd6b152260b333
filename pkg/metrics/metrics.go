package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector provides application metrics collection
type Collector struct {
	// API Metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
	APIErrorsTotal     *prometheus.CounterVec

	// Simulation Metrics
	SimulationRunsTotal     *prometheus.CounterVec
	SimulationDuration      prometheus.Histogram
	RefinementsTotal        prometheus.Counter
	ValidationNotesTotal    *prometheus.CounterVec
	GradeAdjustmentsApplied prometheus.Counter

	// Evolution Metrics
	EvolutionGeneration       prometheus.Gauge
	EvolutionAdjustmentsTotal *prometheus.CounterVec

	// Forecast Metrics
	ForecastRequestsTotal *prometheus.CounterVec
	ModelTrainingsTotal   prometheus.Counter

	// Market Metrics
	PriceCacheUpdatesTotal prometheus.Counter
	AnomalyAlertsTotal     *prometheus.CounterVec

	// Database Metrics
	DBQueryDuration  *prometheus.HistogramVec
	DBConnectionPool *prometheus.GaugeVec
	DBErrorsTotal    *prometheus.CounterVec

	// System Metrics
	ProcessingTimeMS  *prometheus.HistogramVec
	ActiveConnections prometheus.Gauge
}

// NewCollector creates a new metrics collector
func NewCollector(namespace string) *Collector {
	return &Collector{
		APIRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests by endpoint, method, and status",
			},
			[]string{"endpoint", "method", "status"},
		),

		APIRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0},
			},
			[]string{"endpoint"},
		),

		APIErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_errors_total",
				Help:      "Total number of API errors by type",
			},
			[]string{"error_type", "endpoint"},
		),

		SimulationRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "simulation_runs_total",
				Help:      "Total number of profitability simulations by variety",
			},
			[]string{"variety"},
		),

		SimulationDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "simulation_duration_seconds",
				Help:      "Duration of a full simulation run in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0},
			},
		),

		RefinementsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "simulation_refinements_total",
				Help:      "Total number of simulations re-run after validation",
			},
		),

		ValidationNotesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validation_notes_total",
				Help:      "Total number of validation notes by severity",
			},
			[]string{"severity"},
		),

		GradeAdjustmentsApplied: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "grade_adjustments_applied_total",
				Help:      "Total number of simulations adjusted by a regional grade",
			},
		),

		EvolutionGeneration: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "evolution_generation",
				Help:      "Current generation of the parameter evolution engine",
			},
		),

		EvolutionAdjustmentsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evolution_adjustments_total",
				Help:      "Total number of parameter adjustments by trigger",
			},
			[]string{"trigger"},
		),

		ForecastRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "forecast_requests_total",
				Help:      "Total number of forecast computations by kind",
			},
			[]string{"kind"},
		),

		ModelTrainingsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_trainings_total",
				Help:      "Total number of yield regression model trainings",
			},
		),

		PriceCacheUpdatesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "price_cache_updates_total",
				Help:      "Total number of market price cache refreshes",
			},
		),

		AnomalyAlertsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "anomaly_alerts_total",
				Help:      "Total number of anomaly alerts by category and severity",
			},
			[]string{"category", "severity"},
		),

		DBQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "db_query_duration_seconds",
				Help:      "Database query duration in seconds by query type",
				Buckets:   []float64{0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5},
			},
			[]string{"query_type"},
		),

		DBConnectionPool: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connection_pool",
				Help:      "Database connection pool statistics",
			},
			[]string{"state"}, // "in_use", "idle", "total"
		),

		DBErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_errors_total",
				Help:      "Total number of database errors by type",
			},
			[]string{"error_type"},
		),

		ProcessingTimeMS: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "processing_time_milliseconds",
				Help:      "Processing time in milliseconds by operation",
				Buckets:   []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 2000, 5000},
			},
			[]string{"operation"},
		),

		ActiveConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_connections",
				Help:      "Number of active client connections",
			},
		),
	}
}

// Timer provides timing functionality for operations
type Timer struct {
	start    time.Time
	observer prometheus.Observer
}

// NewTimer creates a new timer
func (c *Collector) NewTimer(histogram prometheus.Observer) *Timer {
	return &Timer{
		start:    time.Now(),
		observer: histogram,
	}
}

// ObserveDuration records the elapsed time since timer creation
func (t *Timer) ObserveDuration() time.Duration {
	duration := time.Since(t.start)
	if t.observer != nil {
		t.observer.Observe(duration.Seconds())
	}
	return duration
}

// RecordAPIRequest increments API request counter
func (c *Collector) RecordAPIRequest(endpoint, method, status string) {
	c.APIRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

// RecordAPIError increments API error counter
func (c *Collector) RecordAPIError(errorType, endpoint string) {
	c.APIErrorsTotal.WithLabelValues(errorType, endpoint).Inc()
}

// RecordSimulationRun increments the simulation counter for a variety
func (c *Collector) RecordSimulationRun(variety string, duration time.Duration) {
	c.SimulationRunsTotal.WithLabelValues(variety).Inc()
	c.SimulationDuration.Observe(duration.Seconds())
}

// RecordValidationNote increments the validation note counter
func (c *Collector) RecordValidationNote(severity string) {
	c.ValidationNotesTotal.WithLabelValues(severity).Inc()
}

// RecordAnomalyAlert increments the anomaly alert counter
func (c *Collector) RecordAnomalyAlert(category, severity string) {
	c.AnomalyAlertsTotal.WithLabelValues(category, severity).Inc()
}

// RecordDBError increments database error counter
func (c *Collector) RecordDBError(errorType string) {
	c.DBErrorsTotal.WithLabelValues(errorType).Inc()
}

// UpdateDBConnectionPool updates database connection pool metrics
func (c *Collector) UpdateDBConnectionPool(inUse, idle, total int) {
	c.DBConnectionPool.WithLabelValues("in_use").Set(float64(inUse))
	c.DBConnectionPool.WithLabelValues("idle").Set(float64(idle))
	c.DBConnectionPool.WithLabelValues("total").Set(float64(total))
}
