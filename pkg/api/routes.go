package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/routeoptions/route-options/pkg/logging"
	"github.com/routeoptions/route-options/pkg/middleware"
	"github.com/routeoptions/route-options/pkg/models"
	"github.com/routeoptions/route-options/pkg/osrm"
	"github.com/routeoptions/route-options/pkg/routing"
	"github.com/routeoptions/route-options/pkg/store"
)

const (
	APIName    = "Route Options API"
	APIVersion = "1.0.2"

	defaultQueryLimit = 20
	maxQueryLimit     = 200
)

// Fixed pair in Popayán used by /osrm-test
var (
	testOrigin      = models.LatLng{Lat: 2.4448, Lng: -76.6147}
	testDestination = models.LatLng{Lat: 2.4550, Lng: -76.5980}
)

// RouteFinder is the routing backend
type RouteFinder interface {
	Route(ctx context.Context, origin, destination models.LatLng) (*osrm.RouteResponse, error)
	BaseURL() string
}

// MetricsRecorder is an interface for recording metrics
type MetricsRecorder interface {
	RecordRouteQuery(preference, status string, returned int)
	ObserveOSRM(outcome string, d time.Duration)
}

// RouteHandler serves the route options API
type RouteHandler struct {
	finder          RouteFinder
	store           store.Store
	defaults        models.RequestDefaults
	logger          *logging.Logger
	metricsRecorder MetricsRecorder
	now             func() time.Time
}

// NewRouteHandler creates a new route handler
func NewRouteHandler(finder RouteFinder, s store.Store, defaults models.RequestDefaults, logger *logging.Logger) *RouteHandler {
	return &RouteHandler{
		finder:   finder,
		store:    s,
		defaults: defaults,
		logger:   logger,
		now:      time.Now,
	}
}

// SetMetricsRecorder sets the metrics recorder for the handler
func (h *RouteHandler) SetMetricsRecorder(recorder MetricsRecorder) {
	h.metricsRecorder = recorder
}

// RegisterRoutes registers all API routes
func (h *RouteHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/osrm-test", h.OSRMTest).Methods("GET")
	r.HandleFunc("/route-options", h.RouteOptions).Methods("POST")

	// register specific routes before parameterized routes
	r.HandleFunc("/queries/stats", h.QueryStats).Methods("GET")
	r.HandleFunc("/queries", h.ListQueries).Methods("GET")
	r.HandleFunc("/queries/{id}", h.GetQuery).Methods("GET")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})
}

// Health reports liveness and the configured backend
func (h *RouteHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":            true,
		"api":           APIName,
		"osrm_base_url": h.finder.BaseURL(),
	})
}

// OSRMTest checks the backend with a fixed coordinate pair
func (h *RouteHandler) OSRMTest(w http.ResponseWriter, r *http.Request) {
	start := h.now()
	resp, err := h.finder.Route(r.Context(), testOrigin, testDestination)
	h.observeOSRM(err, h.now().Sub(start))
	if err != nil {
		h.writeBackendError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":           true,
		"routes_found": len(resp.Routes),
	})
}

// RouteOptions ranks the backend alternatives for a trip
func (h *RouteHandler) RouteOptions(w http.ResponseWriter, r *http.Request) {
	req, err := models.DecodeRouteOptionsRequest(r.Body, h.defaults)
	if err != nil {
		var verrs models.ValidationErrors
		if errors.As(err, &verrs) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{"detail": verrs})
			return
		}
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	query := &models.RouteQuery{
		ID:          uuid.New().String(),
		Origin:      req.Origin,
		Destination: req.Destination,
		Preference:  req.Preference,
		K:           req.K,
		CreatedAt:   h.now().UTC(),
	}
	w.Header().Set("X-Query-ID", query.ID)

	start := h.now()
	data, err := h.finder.Route(r.Context(), req.Origin, req.Destination)
	elapsed := h.now().Sub(start)
	query.OSRMLatencyMs = elapsed.Milliseconds()
	h.observeOSRM(err, elapsed)

	if err != nil {
		status, detail := h.backendError(err)
		query.Status = models.QueryStatusFailed
		query.Error = detail
		h.recordQuery(r.Context(), query)
		h.logger.Warn("OSRM request failed", map[string]interface{}{
			"error":      err.Error(),
			"request_id": middleware.GetRequestID(r.Context()),
		})
		writeDetail(w, status, detail)
		return
	}

	if len(data.Routes) == 0 {
		query.Status = models.QueryStatusNoRoutes
		h.recordQuery(r.Context(), query)
		writeDetail(w, http.StatusNotFound, "No se encontraron rutas")
		return
	}

	options := routing.BuildOptions(data.RoutingRoutes(), req)
	resp := routing.Respond(req, options)

	query.Status = models.QueryStatusOK
	query.Returned = resp.Returned
	if len(options) > 0 {
		query.BestRouteID = options[0].ID
		query.BestScore = options[0].Score
	}
	h.recordQuery(r.Context(), query)

	writeJSON(w, http.StatusOK, resp)
}

// ListQueries returns the most recent route queries
func (h *RouteHandler) ListQueries(w http.ResponseWriter, r *http.Request) {
	limit := defaultQueryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeDetail(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxQueryLimit)
	}

	queries, err := h.store.ListQueries(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list queries", map[string]interface{}{"error": err.Error()})
		writeDetail(w, http.StatusInternalServerError, "Failed to list queries")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"queries": queries,
		"count":   len(queries),
	})
}

// GetQuery returns one recorded query
func (h *RouteHandler) GetQuery(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	q, err := h.store.GetQuery(r.Context(), id)
	if errors.Is(err, store.ErrQueryNotFound) {
		writeDetail(w, http.StatusNotFound, "query not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to get query", map[string]interface{}{"id": id, "error": err.Error()})
		writeDetail(w, http.StatusInternalServerError, "Failed to get query")
		return
	}

	writeJSON(w, http.StatusOK, q)
}

// QueryStats returns aggregate counts over the history
func (h *RouteHandler) QueryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		h.logger.Error("Failed to compute query stats", map[string]interface{}{"error": err.Error()})
		writeDetail(w, http.StatusInternalServerError, "Failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// backendError maps an OSRM failure to the HTTP status and detail returned
func (h *RouteHandler) backendError(err error) (int, string) {
	if errors.Is(err, osrm.ErrUnavailable) {
		return http.StatusBadGateway, fmt.Sprintf(
			"No hay conexión con OSRM en %s. Verifica que OSRM esté activo.", h.finder.BaseURL())
	}
	return http.StatusBadGateway, "OSRM error: " + err.Error()
}

func (h *RouteHandler) writeBackendError(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := h.backendError(err)
	h.logger.Warn("OSRM request failed", map[string]interface{}{
		"error":      err.Error(),
		"request_id": middleware.GetRequestID(r.Context()),
	})
	writeDetail(w, status, detail)
}

func (h *RouteHandler) observeOSRM(err error, d time.Duration) {
	if h.metricsRecorder == nil {
		return
	}
	outcome := "ok"
	switch {
	case errors.Is(err, osrm.ErrUnavailable):
		outcome = "unavailable"
	case err != nil:
		outcome = "error"
	}
	h.metricsRecorder.ObserveOSRM(outcome, d)
}

// recordQuery stores the query and counts it; storage failures never fail the request
func (h *RouteHandler) recordQuery(ctx context.Context, q *models.RouteQuery) {
	if h.metricsRecorder != nil {
		h.metricsRecorder.RecordRouteQuery(string(q.Preference), string(q.Status), q.Returned)
	}
	if h.store == nil {
		return
	}
	// the client may already be gone; the history write should still land
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := h.store.SaveQuery(saveCtx, q); err != nil {
		h.logger.Error("Failed to save route query", map[string]interface{}{"id": q.ID, "error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
