package handlers

import (
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"orchard-platform/internal/models"
	"orchard-platform/internal/services"
	"orchard-platform/pkg/logging"
	"orchard-platform/pkg/metrics"
)

// OrchardHandler serves layout design and land-lookup endpoints
type OrchardHandler struct {
	designer *services.OrchardDesigner
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector
}

// NewOrchardHandler creates a new orchard handler
func NewOrchardHandler(
	designer *services.OrchardDesigner,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *OrchardHandler {
	return &OrchardHandler{
		designer: designer,
		logger:   logger,
		metrics:  metricsCollector,
	}
}

// DesignOrchard handles POST /api/orchard/design
func (h *OrchardHandler) DesignOrchard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		h.metrics.APIRequestDuration.WithLabelValues("/api/orchard/design").Observe(time.Since(startTime).Seconds())
	}()

	var req models.OrchardDesignRequest
	if err := decodeJSON(r, &req); err != nil {
		sendError(w, r, h.metrics, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	design, err := h.designer.Design(ctx, req)
	if err != nil {
		var valErr *models.ValidationError
		if errors.As(err, &valErr) {
			sendError(w, r, h.metrics, valErr.Message, http.StatusBadRequest)
			return
		}
		h.logger.Error(ctx, "[API_DESIGN_ERROR] Orchard design failed", logging.Fields{
			"variety": req.VarietyID,
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/orchard/design")
		sendError(w, r, h.metrics, "design failed", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/orchard/design", "POST", "200")
	sendJSON(w, design, http.StatusOK)
}

// ListRootstocks handles GET /api/orchard/rootstocks
func (h *OrchardHandler) ListRootstocks(w http.ResponseWriter, r *http.Request) {
	h.metrics.RecordAPIRequest("/api/orchard/rootstocks", "GET", "200")
	sendJSON(w, map[string]interface{}{
		"rootstocks": h.designer.Rootstocks(),
	}, http.StatusOK)
}

// ListMachines handles GET /api/orchard/machines
func (h *OrchardHandler) ListMachines(w http.ResponseWriter, r *http.Request) {
	h.metrics.RecordAPIRequest("/api/orchard/machines", "GET", "200")
	sendJSON(w, map[string]interface{}{
		"machines": h.designer.Machines(),
	}, http.StatusOK)
}

// LookupLand handles GET /api/land/{pnu}. Parcel data is derived
// deterministically from the parcel number so repeated lookups agree.
func (h *OrchardHandler) LookupLand(w http.ResponseWriter, r *http.Request) {
	pnu := mux.Vars(r)["pnu"]
	if len(pnu) < 10 {
		sendError(w, r, h.metrics, "parcel number must be at least 10 digits", http.StatusBadRequest)
		return
	}

	hasher := fnv.New64a()
	hasher.Write([]byte(pnu))
	seed := hasher.Sum64()

	areaPyeong := 300 + float64(seed%4700)
	landCategories := []string{"orchard", "field", "paddy", "forest"}
	slopes := []string{"flat", "gentle", "moderate"}

	h.metrics.RecordAPIRequest("/api/land/{pnu}", "GET", "200")
	sendJSON(w, map[string]interface{}{
		"pnu":               pnu,
		"area_pyeong":       areaPyeong,
		"area_m2":           round2(areaPyeong * services.PyeongToM2),
		"land_category":     landCategories[seed%uint64(len(landCategories))],
		"slope":             slopes[(seed/7)%uint64(len(slopes))],
		"official_price_m2": 20000 + int64(seed%80000),
		"note":              fmt.Sprintf("synthetic cadastral record for %s", pnu),
	}, http.StatusOK)
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

// RegisterRoutes registers all orchard design API routes
func (h *OrchardHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/orchard/design", h.DesignOrchard).Methods("POST")
	router.HandleFunc("/api/orchard/rootstocks", h.ListRootstocks).Methods("GET")
	router.HandleFunc("/api/orchard/machines", h.ListMachines).Methods("GET")
	router.HandleFunc("/api/land/{pnu}", h.LookupLand).Methods("GET")
}
