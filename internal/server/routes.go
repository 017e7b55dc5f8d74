// Package server wires HTTP handlers into a chi router for the relay
// application.
package server

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures and returns the application's HTTP router: health
// check, WebSocket endpoint, Prometheus metrics, and the test console.
func SetupRoutes(hub *Hub) *chi.Mux {
	r := chi.NewRouter()
	r.Get("/", HealthHandler)
	r.Get("/healthz", HealthHandler)
	r.Get("/ws", WebSocketHandler(hub))
	r.Method("GET", "/metrics", promhttp.Handler())
	r.Get("/test", TestPageHandler)
	return r
}
