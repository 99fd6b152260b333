package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"orchard-platform/internal/repository"
	"orchard-platform/internal/services"
	"orchard-platform/pkg/logging"
	"orchard-platform/pkg/metrics"
)

// AdminHandler serves operational endpoints: variety trends, the evolution
// engine, feature flags, price cache state, anomaly alerts and health.
type AdminHandler struct {
	trends    *services.TrendService
	evolution *services.EvolutionEngine
	flags     *services.FeatureFlags
	prices    *services.PriceCache
	refresher *services.PriceRefresher
	anomaly   *services.AnomalyDetector
	repo      repository.StateRepository
	logger    *logging.StructuredLogger
	metrics   *metrics.Collector
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(
	trends *services.TrendService,
	evolution *services.EvolutionEngine,
	flags *services.FeatureFlags,
	prices *services.PriceCache,
	refresher *services.PriceRefresher,
	anomaly *services.AnomalyDetector,
	repo repository.StateRepository,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *AdminHandler {
	return &AdminHandler{
		trends:    trends,
		evolution: evolution,
		flags:     flags,
		prices:    prices,
		refresher: refresher,
		anomaly:   anomaly,
		repo:      repo,
		logger:    logger,
		metrics:   metricsCollector,
	}
}

// GetTrends handles GET /api/trends
func (h *AdminHandler) GetTrends(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		h.metrics.APIRequestDuration.WithLabelValues("/api/trends").Observe(time.Since(startTime).Seconds())
	}()

	h.metrics.RecordAPIRequest("/api/trends", "GET", "200")
	sendJSON(w, h.trends.Report(ctx), http.StatusOK)
}

// GetVarietyTrend handles GET /api/trends/{variety}
func (h *AdminHandler) GetVarietyTrend(w http.ResponseWriter, r *http.Request) {
	varietyID := mux.Vars(r)["variety"]

	trend, ok := h.trends.VarietyTrend(varietyID)
	if !ok {
		sendError(w, r, h.metrics, "unknown variety: "+varietyID, http.StatusNotFound)
		return
	}

	h.metrics.RecordAPIRequest("/api/trends/{variety}", "GET", "200")
	sendJSON(w, trend, http.StatusOK)
}

// GetEvolutionStatus handles GET /api/evolution/status
func (h *AdminHandler) GetEvolutionStatus(w http.ResponseWriter, r *http.Request) {
	h.metrics.RecordAPIRequest("/api/evolution/status", "GET", "200")
	sendJSON(w, h.evolution.Status(), http.StatusOK)
}

// TriggerEvolution handles POST /api/evolution/evolve
func (h *AdminHandler) TriggerEvolution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		h.metrics.APIRequestDuration.WithLabelValues("/api/evolution/evolve").Observe(time.Since(startTime).Seconds())
	}()

	result := h.evolution.Evolve(ctx)

	h.logger.Info(ctx, "[API_EVOLUTION] Evolution cycle requested", logging.Fields{
		"evolved":    result.Evolved,
		"generation": result.Generation,
	})

	h.metrics.RecordAPIRequest("/api/evolution/evolve", "POST", "200")
	sendJSON(w, result, http.StatusOK)
}

// RollbackEvolution handles POST /api/evolution/rollback
func (h *AdminHandler) RollbackEvolution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	result := h.evolution.Rollback(ctx)

	h.metrics.RecordAPIRequest("/api/evolution/rollback", "POST", "200")
	sendJSON(w, result, http.StatusOK)
}

// GetFlags handles GET /api/flags
func (h *AdminHandler) GetFlags(w http.ResponseWriter, r *http.Request) {
	h.metrics.RecordAPIRequest("/api/flags", "GET", "200")
	sendJSON(w, map[string]interface{}{
		"flags": h.flags.All(),
	}, http.StatusOK)
}

// SetFlag handles PUT /api/flags/{name}
func (h *AdminHandler) SetFlag(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := mux.Vars(r)["name"]

	var payload struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		sendError(w, r, h.metrics, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	state, err := h.flags.Set(ctx, name, payload.Enabled)
	if err != nil {
		sendError(w, r, h.metrics, err.Error(), http.StatusNotFound)
		return
	}

	h.logger.Info(ctx, "[API_FLAGS] Flag updated", logging.Fields{
		"flag":    name,
		"enabled": payload.Enabled,
	})

	h.metrics.RecordAPIRequest("/api/flags/{name}", "PUT", "200")
	sendJSON(w, state, http.StatusOK)
}

// GetPriceStatus handles GET /api/prices/status
func (h *AdminHandler) GetPriceStatus(w http.ResponseWriter, r *http.Request) {
	h.metrics.RecordAPIRequest("/api/prices/status", "GET", "200")
	sendJSON(w, h.prices.Status(), http.StatusOK)
}

// RefreshPrices handles POST /api/prices/refresh
func (h *AdminHandler) RefreshPrices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	updated := h.refresher.Refresh(ctx)

	h.metrics.RecordAPIRequest("/api/prices/refresh", "POST", "200")
	sendJSON(w, map[string]interface{}{
		"updated": updated,
		"status":  h.prices.Status(),
	}, http.StatusOK)
}

// GetAnomalies handles GET /api/anomalies?limit=&category=
func (h *AdminHandler) GetAnomalies(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	category := r.URL.Query().Get("category")

	alerts := h.anomaly.RecentAlerts(limit, category)

	h.metrics.RecordAPIRequest("/api/anomalies", "GET", "200")
	sendJSON(w, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	}, http.StatusOK)
}

// GetAnomalyStats handles GET /api/anomalies/stats
func (h *AdminHandler) GetAnomalyStats(w http.ResponseWriter, r *http.Request) {
	h.metrics.RecordAPIRequest("/api/anomalies/stats", "GET", "200")
	sendJSON(w, h.anomaly.Stats(), http.StatusOK)
}

// HealthCheck handles GET /health
func (h *AdminHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := "healthy"
	code := http.StatusOK
	var dbError string

	if err := h.repo.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
		dbError = err.Error()
	}

	body := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
	}
	if dbError != "" {
		body["database_error"] = dbError
	}

	sendJSON(w, body, code)
}

// RegisterRoutes registers all admin API routes
func (h *AdminHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/trends", h.GetTrends).Methods("GET")
	router.HandleFunc("/api/trends/{variety}", h.GetVarietyTrend).Methods("GET")
	router.HandleFunc("/api/evolution/status", h.GetEvolutionStatus).Methods("GET")
	router.HandleFunc("/api/evolution/evolve", h.TriggerEvolution).Methods("POST")
	router.HandleFunc("/api/evolution/rollback", h.RollbackEvolution).Methods("POST")
	router.HandleFunc("/api/flags", h.GetFlags).Methods("GET")
	router.HandleFunc("/api/flags/{name}", h.SetFlag).Methods("PUT")
	router.HandleFunc("/api/prices/status", h.GetPriceStatus).Methods("GET")
	router.HandleFunc("/api/prices/refresh", h.RefreshPrices).Methods("POST")
	router.HandleFunc("/api/anomalies", h.GetAnomalies).Methods("GET")
	router.HandleFunc("/api/anomalies/stats", h.GetAnomalyStats).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
}
