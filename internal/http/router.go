package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/ndw-feed-service/internal/observability"
)

// NewRouter mounts the handler routes. Dataset routes are rate limited and
// bounded by requestTimeout; /health and /metrics are not.
func NewRouter(h *Handler, logger *zap.Logger, limiter *rate.Limiter, requestTimeout time.Duration) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	ndw := router.PathPrefix("/ndw").Subrouter()
	ndw.Use(RateLimitMiddleware(limiter))
	if requestTimeout > 0 {
		ndw.Use(TimeoutMiddleware(requestTimeout))
	}
	ndw.HandleFunc("", h.GetCatalog).Methods(http.MethodGet)
	ndw.HandleFunc("/", h.GetCatalog).Methods(http.MethodGet)
	ndw.HandleFunc("/{dataset}", h.GetDataset).Methods(http.MethodGet)
	return router
}
