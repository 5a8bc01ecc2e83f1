// Package server wires the admin API and the metrics endpoint onto an HTTP server.
package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cache-coordinator/internal/handlers"
	"cache-coordinator/internal/middleware"
)

// NewRouter configures all HTTP routes. A nil gatherer leaves /metrics unrouted.
func NewRouter(h *handlers.Handlers, gatherer prometheus.Gatherer) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware)

	router.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	if gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	// Registered on the root router so a wrong method yields 405, not 404.
	router.HandleFunc("/api/cache", h.Clear).Methods(http.MethodDelete)
	router.HandleFunc("/api/cache/stats", h.GetStats).Methods(http.MethodGet)
	router.HandleFunc("/api/cache/warmup", h.WarmUp).Methods(http.MethodPost)
	router.HandleFunc("/api/cache/{type}/{key}", h.Evict).Methods(http.MethodDelete)

	return router
}
