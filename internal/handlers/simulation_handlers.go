package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"orchard-platform/internal/models"
	"orchard-platform/internal/services"
	"orchard-platform/pkg/logging"
	"orchard-platform/pkg/metrics"
)

// SimulationHandler handles the profitability simulation endpoints
type SimulationHandler struct {
	simulation *services.SimulationService
	validator  *services.Validator
	feedback   *services.FeedbackCollector
	analytics  *services.RunAnalytics
	flags      *services.FeatureFlags
	logger     *logging.StructuredLogger
	metrics    *metrics.Collector
}

// NewSimulationHandler creates a new simulation handler
func NewSimulationHandler(
	simulation *services.SimulationService,
	validator *services.Validator,
	feedback *services.FeedbackCollector,
	analytics *services.RunAnalytics,
	flags *services.FeatureFlags,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *SimulationHandler {
	return &SimulationHandler{
		simulation: simulation,
		validator:  validator,
		feedback:   feedback,
		analytics:  analytics,
		flags:      flags,
		logger:     logger,
		metrics:    metricsCollector,
	}
}

// RunSimulation handles POST /api/simulation/run
func (h *SimulationHandler) RunSimulation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		h.metrics.APIRequestDuration.WithLabelValues("/api/simulation/run").Observe(time.Since(startTime).Seconds())
	}()

	var req models.SimulationRequest
	if err := decodeJSON(r, &req); err != nil {
		sendError(w, r, h.metrics, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.simulation.Run(ctx, req)
	if err != nil {
		var valErr *models.ValidationError
		if errors.As(err, &valErr) {
			sendError(w, r, h.metrics, valErr.Message, http.StatusBadRequest)
			return
		}
		h.logger.Error(ctx, "[API_SIMULATION_ERROR] Simulation failed", logging.Fields{
			"variety": req.Variety,
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/simulation/run")
		sendError(w, r, h.metrics, "simulation failed", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/simulation/run", "POST", "200")
	sendJSON(w, result, http.StatusOK)
}

// CompareScenarios handles POST /api/simulation/compare
func (h *SimulationHandler) CompareScenarios(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.SimulationRequest
	if err := decodeJSON(r, &req); err != nil {
		sendError(w, r, h.metrics, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	comparison, err := h.simulation.Compare(ctx, req)
	if err != nil {
		var valErr *models.ValidationError
		if errors.As(err, &valErr) {
			sendError(w, r, h.metrics, valErr.Message, http.StatusBadRequest)
			return
		}
		h.metrics.RecordAPIError("internal_error", "/api/simulation/compare")
		sendError(w, r, h.metrics, "comparison failed", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/simulation/compare", "POST", "200")
	sendJSON(w, comparison, http.StatusOK)
}

// GetCostTable handles GET /api/simulation/costs
func (h *SimulationHandler) GetCostTable(w http.ResponseWriter, r *http.Request) {
	items := h.simulation.CostTable()

	var total int64
	byCategory := make(map[string]int64)
	for _, item := range items {
		total += item.AmountPer10a
		byCategory[item.Category] += item.AmountPer10a
	}

	h.metrics.RecordAPIRequest("/api/simulation/costs", "GET", "200")
	sendJSON(w, map[string]interface{}{
		"items":         items,
		"total_per_10a": total,
		"by_category":   byCategory,
	}, http.StatusOK)
}

// SubmitFeedback handles POST /api/simulation/feedback
func (h *SimulationHandler) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.flags != nil && !h.flags.Enabled(services.FlagFeedback) {
		sendError(w, r, h.metrics, "feedback collection is disabled", http.StatusForbidden)
		return
	}

	var entry models.FeedbackEntry
	if err := decodeJSON(r, &entry); err != nil {
		sendError(w, r, h.metrics, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	saved, err := h.feedback.Submit(ctx, entry)
	if err != nil {
		var valErr *models.ValidationError
		if errors.As(err, &valErr) {
			sendError(w, r, h.metrics, valErr.Message, http.StatusBadRequest)
			return
		}
		h.metrics.RecordAPIError("internal_error", "/api/simulation/feedback")
		sendError(w, r, h.metrics, "failed to record feedback", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/simulation/feedback", "POST", "201")
	sendJSON(w, saved, http.StatusCreated)
}

// GetFeedbackStats handles GET /api/simulation/feedback/stats
func (h *SimulationHandler) GetFeedbackStats(w http.ResponseWriter, r *http.Request) {
	h.metrics.RecordAPIRequest("/api/simulation/feedback/stats", "GET", "200")
	sendJSON(w, h.feedback.Stats(), http.StatusOK)
}

// GetAnalytics handles GET /api/simulation/analytics
func (h *SimulationHandler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	h.metrics.RecordAPIRequest("/api/simulation/analytics", "GET", "200")
	sendJSON(w, h.analytics.Snapshot(), http.StatusOK)
}

// GetValidatorStats handles GET /api/simulation/validator
func (h *SimulationHandler) GetValidatorStats(w http.ResponseWriter, r *http.Request) {
	h.metrics.RecordAPIRequest("/api/simulation/validator", "GET", "200")
	sendJSON(w, h.validator.Stats(), http.StatusOK)
}

// RegisterRoutes registers all simulation API routes
func (h *SimulationHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/simulation/run", h.RunSimulation).Methods("POST")
	router.HandleFunc("/api/simulation/compare", h.CompareScenarios).Methods("POST")
	router.HandleFunc("/api/simulation/costs", h.GetCostTable).Methods("GET")
	router.HandleFunc("/api/simulation/feedback", h.SubmitFeedback).Methods("POST")
	router.HandleFunc("/api/simulation/feedback/stats", h.GetFeedbackStats).Methods("GET")
	router.HandleFunc("/api/simulation/analytics", h.GetAnalytics).Methods("GET")
	router.HandleFunc("/api/simulation/validator", h.GetValidatorStats).Methods("GET")
}
