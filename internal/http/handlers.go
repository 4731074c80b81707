package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/ndw-feed-service/internal/client"
	"github.com/kjstillabower/ndw-feed-service/internal/health"
	"github.com/kjstillabower/ndw-feed-service/internal/observability"
	"github.com/kjstillabower/ndw-feed-service/internal/service"
	"github.com/kjstillabower/ndw-feed-service/internal/validation"
	"github.com/kjstillabower/ndw-feed-service/internal/xmltree"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	feedService *service.FeedService
	checker     *health.Checker
	// cachePing, when set, is called to check cache reachability. Used when backend is memcached.
	cachePing        func() error
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. checker and cachePing may be nil.
func NewHandler(feedService *service.FeedService, checker *health.Checker, cachePing func() error, logger *zap.Logger) *Handler {
	if checker == nil {
		checker = health.NewChecker(health.Config{})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		feedService: feedService,
		checker:     checker,
		cachePing:   cachePing,
		logger:      logger,
	}
}

// GetDataset handles GET /ndw/{dataset}.
func (h *Handler) GetDataset(w http.ResponseWriter, r *http.Request) {
	name, err := validation.ValidateDatasetName(mux.Vars(r)["dataset"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_DATASET", err.Error())
		return
	}

	result, err := h.feedService.GetDataset(r.Context(), name)
	if err != nil {
		var unknown *service.UnknownDatasetError
		if !errors.As(err, &unknown) {
			health.RecordError()
		}
		writeServiceError(w, r, err)
		return
	}
	health.RecordSuccess()

	w.Header().Set("Cache-Control", fmt.Sprintf("public, s-maxage=%d", int(result.TTL/time.Second)))
	if result.Cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	writeJSON(w, http.StatusOK, result.Collection)
}

type catalogEntry struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Path       string `json:"path"`
	TTLSeconds int    `json:"ttlSeconds"`
}

// GetCatalog handles GET /ndw.
func (h *Handler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	datasets := h.feedService.Registry().All()
	entries := make([]catalogEntry, 0, len(datasets))
	for _, d := range datasets {
		entries = append(entries, catalogEntry{
			Name:       d.Name,
			Kind:       string(d.Kind),
			Path:       "/ndw/" + d.Name,
			TTLSeconds: int(d.TTL / time.Second),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"datasets": entries})
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.checker.Evaluate()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.Status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.Status),
			zap.String("reason", result.Reason))
	}
	h.healthStatusPrev = result.Status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if h.checker.UpstreamHealthy() {
		checks["ndw"] = "healthy"
	} else {
		checks["ndw"] = "unhealthy"
	}
	if h.cachePing != nil {
		if h.cachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	resp := map[string]interface{}{
		"status":    result.Status,
		"service":   observability.ServiceName,
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if result.Reason != "" {
		resp["reason"] = result.Reason
	}
	writeJSON(w, result.StatusCode, resp)
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func errorBody(r *http.Request, code, message string) map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationIDFromContext(r.Context()),
		},
	}
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, errorBody(r, code, message))
}

// writeServiceError maps a dataset error onto a status code. Unknown datasets
// list the valid names; upstream HTTP failures carry the upstream status.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	logger := observability.LoggerFromContext(r.Context())

	var unknown *service.UnknownDatasetError
	if errors.As(err, &unknown) {
		body := errorBody(r, "UNKNOWN_DATASET", err.Error())
		body["available"] = unknown.Available
		writeJSON(w, http.StatusNotFound, body)
		return
	}

	logger.Debug("dataset error", zap.Error(err), zap.String("category", string(client.CategorizeError(err))))

	var statusErr *client.StatusError
	switch {
	case errors.Is(err, client.ErrCircuitOpen):
		writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "NDW upstream temporarily unavailable")
	case errors.As(err, &statusErr):
		body := errorBody(r, "UPSTREAM_ERROR", err.Error())
		body["upstreamStatus"] = statusErr.StatusCode
		writeJSON(w, http.StatusBadGateway, body)
	case errors.Is(err, xmltree.ErrParse), errors.Is(err, client.ErrDecompress):
		writeError(w, r, http.StatusInternalServerError, "PARSE_ERROR", err.Error())
	default:
		writeError(w, r, http.StatusBadGateway, "UPSTREAM_ERROR", err.Error())
	}
}
