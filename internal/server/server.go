// Package server provides the HTTP API for soilsense.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/soilsense/internal/config"
	"github.com/hyperjump/soilsense/internal/inference"
	"github.com/hyperjump/soilsense/internal/registry"
	"github.com/hyperjump/soilsense/internal/storage"
	"go.uber.org/zap"
)

// maxBodyBytes bounds request bodies; one reading is a few kilobytes.
const maxBodyBytes = 1 << 20

// Server is the HTTP server for the soilsense API.
type Server struct {
	engine   *inference.Engine
	registry *registry.Registry
	history  storage.Storage
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a server with the given dependencies. history may be nil when
// reading history is disabled.
func NewServer(
	engine *inference.Engine,
	reg *registry.Registry,
	history storage.Storage,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		engine:   engine,
		registry: reg,
		history:  history,
		config:   cfg,
		logger:   logger,
	}
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/inference", s.handleInference)
	r.Post("/api/Inference/ProcessData", s.handleProcessData)
	r.Get("/api/v1/models", s.handleListModels)
	r.Post("/api/v1/models/reload", s.handleReloadModels)
	r.Get("/api/v1/readings", s.handleListReadings)
	r.Get("/api/v1/readings/{id}", s.handleGetReading)
	r.Delete("/api/v1/readings/{id}", s.handleDeleteReading)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.config.Server.Addr()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
