package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"orchard-platform/internal/models"
	"orchard-platform/internal/repository"
	"orchard-platform/internal/services"
	"orchard-platform/pkg/logging"
	"orchard-platform/pkg/metrics"
)

// ForecastHandler serves the seasonal forecast and model-training endpoints
type ForecastHandler struct {
	forecast *services.ForecastService
	climate  *services.ClimateService
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector
}

// NewForecastHandler creates a new forecast handler
func NewForecastHandler(
	forecast *services.ForecastService,
	climate *services.ClimateService,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *ForecastHandler {
	return &ForecastHandler{
		forecast: forecast,
		climate:  climate,
		logger:   logger,
		metrics:  metricsCollector,
	}
}

func (h *ForecastHandler) resolveRegionYear(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	regionID := mux.Vars(r)["region"]
	if _, ok := h.climate.Region(regionID); !ok {
		sendError(w, r, h.metrics, "unknown region: "+regionID, http.StatusNotFound)
		return "", 0, false
	}

	year := queryInt(r, "year", time.Now().Year())
	if year < 1990 || year > 2100 {
		sendError(w, r, h.metrics, "year must be between 1990 and 2100", http.StatusBadRequest)
		return "", 0, false
	}
	return regionID, year, true
}

// GetAnnualForecast handles GET /api/forecast/{region}/annual?year=
func (h *ForecastHandler) GetAnnualForecast(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		h.metrics.APIRequestDuration.WithLabelValues("/api/forecast/{region}/annual").Observe(time.Since(startTime).Seconds())
	}()

	regionID, year, ok := h.resolveRegionYear(w, r)
	if !ok {
		return
	}

	h.metrics.RecordAPIRequest("/api/forecast/{region}/annual", "GET", "200")
	sendJSON(w, h.forecast.AnnualForecast(ctx, regionID, year), http.StatusOK)
}

// GetGDDProgress handles GET /api/forecast/{region}/gdd?year=
func (h *ForecastHandler) GetGDDProgress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	regionID, year, ok := h.resolveRegionYear(w, r)
	if !ok {
		return
	}

	h.metrics.RecordAPIRequest("/api/forecast/{region}/gdd", "GET", "200")
	sendJSON(w, h.forecast.GDDProgress(ctx, regionID, year), http.StatusOK)
}

// GetVarietyRisks handles GET /api/forecast/{region}/risks?year=
func (h *ForecastHandler) GetVarietyRisks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	regionID, year, ok := h.resolveRegionYear(w, r)
	if !ok {
		return
	}

	risks := h.forecast.VarietyRisks(ctx, regionID, year)

	h.metrics.RecordAPIRequest("/api/forecast/{region}/risks", "GET", "200")
	sendJSON(w, map[string]interface{}{
		"region_id": regionID,
		"year":      year,
		"risks":     risks,
	}, http.StatusOK)
}

// TrainModel handles POST /api/forecast/{region}/train
func (h *ForecastHandler) TrainModel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()
	regionID := mux.Vars(r)["region"]

	defer func() {
		h.metrics.APIRequestDuration.WithLabelValues("/api/forecast/{region}/train").Observe(time.Since(startTime).Seconds())
	}()

	if _, ok := h.climate.Region(regionID); !ok {
		sendError(w, r, h.metrics, "unknown region: "+regionID, http.StatusNotFound)
		return
	}

	var payload struct {
		Samples []models.TrainingSample `json:"samples"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		sendError(w, r, h.metrics, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	model, err := h.forecast.TrainModel(ctx, regionID, payload.Samples)
	if err != nil {
		var valErr *models.ValidationError
		if errors.As(err, &valErr) {
			sendError(w, r, h.metrics, valErr.Message, http.StatusBadRequest)
			return
		}
		h.logger.Error(ctx, "[API_TRAIN_ERROR] Model training failed", logging.Fields{
			"region_id": regionID,
			"samples":   len(payload.Samples),
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/forecast/{region}/train")
		sendError(w, r, h.metrics, "model training failed", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/forecast/{region}/train", "POST", "200")
	sendJSON(w, model, http.StatusOK)
}

// GetModel handles GET /api/forecast/{region}/model
func (h *ForecastHandler) GetModel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	regionID := mux.Vars(r)["region"]

	if _, ok := h.climate.Region(regionID); !ok {
		sendError(w, r, h.metrics, "unknown region: "+regionID, http.StatusNotFound)
		return
	}

	model, err := h.forecast.Model(ctx, regionID)
	if err != nil {
		var notFound *repository.NotFoundError
		if errors.As(err, &notFound) {
			sendError(w, r, h.metrics, "no trained model for region "+regionID, http.StatusNotFound)
			return
		}
		h.metrics.RecordAPIError("internal_error", "/api/forecast/{region}/model")
		sendError(w, r, h.metrics, "failed to load model", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/forecast/{region}/model", "GET", "200")
	sendJSON(w, model, http.StatusOK)
}

// RegisterRoutes registers all forecast API routes
func (h *ForecastHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/forecast/{region}/annual", h.GetAnnualForecast).Methods("GET")
	router.HandleFunc("/api/forecast/{region}/gdd", h.GetGDDProgress).Methods("GET")
	router.HandleFunc("/api/forecast/{region}/risks", h.GetVarietyRisks).Methods("GET")
	router.HandleFunc("/api/forecast/{region}/train", h.TrainModel).Methods("POST")
	router.HandleFunc("/api/forecast/{region}/model", h.GetModel).Methods("GET")
}
