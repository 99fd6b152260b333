package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"orchard-platform/internal/services"
	"orchard-platform/pkg/logging"
	"orchard-platform/pkg/metrics"
)

// GradingHandler serves region listings, climate normals, synthetic daily
// series and the A-through-S regional grades.
type GradingHandler struct {
	climate *services.ClimateService
	grading *services.GradingService
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewGradingHandler creates a new grading handler
func NewGradingHandler(
	climate *services.ClimateService,
	grading *services.GradingService,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *GradingHandler {
	return &GradingHandler{
		climate: climate,
		grading: grading,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// ListRegions handles GET /api/regions
func (h *GradingHandler) ListRegions(w http.ResponseWriter, r *http.Request) {
	h.metrics.RecordAPIRequest("/api/regions", "GET", "200")
	sendJSON(w, map[string]interface{}{
		"regions": h.climate.Regions(),
		"count":   len(h.climate.Regions()),
	}, http.StatusOK)
}

// GetAllGrades handles GET /api/regions/grades
func (h *GradingHandler) GetAllGrades(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		h.metrics.APIRequestDuration.WithLabelValues("/api/regions/grades").Observe(time.Since(startTime).Seconds())
	}()

	grades := h.grading.GradeAll(ctx)

	h.metrics.RecordAPIRequest("/api/regions/grades", "GET", "200")
	sendJSON(w, map[string]interface{}{
		"grades": grades,
		"count":  len(grades),
	}, http.StatusOK)
}

// GetRegionGrade handles GET /api/regions/{id}/grade
func (h *GradingHandler) GetRegionGrade(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	regionID := mux.Vars(r)["id"]

	if _, ok := h.climate.Region(regionID); !ok {
		sendError(w, r, h.metrics, "unknown region: "+regionID, http.StatusNotFound)
		return
	}

	h.metrics.RecordAPIRequest("/api/regions/{id}/grade", "GET", "200")
	sendJSON(w, h.grading.GradeRegion(ctx, regionID), http.StatusOK)
}

// GetRegionNormals handles GET /api/regions/{id}/normals
func (h *GradingHandler) GetRegionNormals(w http.ResponseWriter, r *http.Request) {
	regionID := mux.Vars(r)["id"]

	if _, ok := h.climate.Region(regionID); !ok {
		sendError(w, r, h.metrics, "unknown region: "+regionID, http.StatusNotFound)
		return
	}

	h.metrics.RecordAPIRequest("/api/regions/{id}/normals", "GET", "200")
	sendJSON(w, map[string]interface{}{
		"region_id": regionID,
		"normals":   h.climate.Normals(regionID),
	}, http.StatusOK)
}

// GetRegionClimate handles GET /api/regions/{id}/climate?year=
func (h *GradingHandler) GetRegionClimate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()
	regionID := mux.Vars(r)["id"]

	defer func() {
		h.metrics.APIRequestDuration.WithLabelValues("/api/regions/{id}/climate").Observe(time.Since(startTime).Seconds())
	}()

	if _, ok := h.climate.Region(regionID); !ok {
		sendError(w, r, h.metrics, "unknown region: "+regionID, http.StatusNotFound)
		return
	}

	year := queryInt(r, "year", time.Now().Year())
	if year < 1990 || year > 2100 {
		sendError(w, r, h.metrics, "year must be between 1990 and 2100", http.StatusBadRequest)
		return
	}

	series := h.climate.DailySeries(ctx, regionID, year)

	h.metrics.RecordAPIRequest("/api/regions/{id}/climate", "GET", "200")
	sendJSON(w, map[string]interface{}{
		"region_id": regionID,
		"year":      year,
		"days":      len(series),
		"records":   series,
	}, http.StatusOK)
}

// RegisterRoutes registers all region and grading API routes
func (h *GradingHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/regions", h.ListRegions).Methods("GET")
	router.HandleFunc("/api/regions/grades", h.GetAllGrades).Methods("GET")
	router.HandleFunc("/api/regions/{id}/grade", h.GetRegionGrade).Methods("GET")
	router.HandleFunc("/api/regions/{id}/normals", h.GetRegionNormals).Methods("GET")
	router.HandleFunc("/api/regions/{id}/climate", h.GetRegionClimate).Methods("GET")
}
