// Package api provides HTTP handlers and routing for the datapipe service.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server holds the HTTP handlers and dependencies.
type Server struct {
	router   *mux.Router
	handlers *Handlers
}

// NewServer creates a new API server with the given handlers.
func NewServer(h *Handlers) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		handlers: h,
	}
	s.setupRoutes()
	return s
}

// Router returns the configured router for use with http.Server.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	// Health endpoints
	s.router.HandleFunc("/health", s.handlers.Health).Methods("GET")
	s.router.HandleFunc("/healthz", s.handlers.Health).Methods("GET")
	s.router.HandleFunc("/ready", s.handlers.Ready).Methods("GET")

	// Prometheus metrics
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// API routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Pipeline management
	api.HandleFunc("/pipelines", s.handlers.ListPipelines).Methods("GET")
	api.HandleFunc("/pipelines/validate", s.handlers.ValidatePipeline).Methods("POST")
	api.HandleFunc("/pipelines/{name}", s.handlers.GetPipeline).Methods("GET")
	api.HandleFunc("/pipelines/{name}/run", s.handlers.RunPipeline).Methods("POST")

	// Transform registry
	api.HandleFunc("/transforms", s.handlers.ListTransforms).Methods("GET")

	// Run management
	api.HandleFunc("/runs", s.handlers.ListRuns).Methods("GET")
	api.HandleFunc("/runs/{id}", s.handlers.GetRun).Methods("GET")
	api.HandleFunc("/runs/{id}/events", s.handlers.StreamEvents).Methods("GET")

	// ResultStore diagnostics
	api.HandleFunc("/resultstore/info", s.handlers.ResultStoreInfo).Methods("GET")

	// Apply middleware
	s.router.Use(s.handlers.CORSMiddleware)
	s.router.Use(s.handlers.LoggingMiddleware)
	s.router.Use(s.handlers.RateLimitMiddleware)
	s.router.Use(s.handlers.RecoveryMiddleware)
}
