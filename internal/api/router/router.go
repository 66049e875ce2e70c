// Package router wires the REST API routes with chi.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/remiblancher/qscep/internal/api/handler"
	"github.com/remiblancher/qscep/internal/api/middleware"
	"github.com/remiblancher/qscep/internal/api/service"
)

// DefaultMaxBodyBytes caps request bodies when Config leaves it unset.
const DefaultMaxBodyBytes = 1 << 20

// Config holds router configuration.
type Config struct {
	Version      string
	Service      *service.SCEPService
	MaxBodyBytes int64
}

// New creates the router with all routes configured.
func New(cfg *Config) http.Handler {
	limit := cfg.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.BodyLimit(limit))

	health := handler.NewHealthHandler(cfg.Version, func() bool { return cfg.Service != nil })
	r.Get("/health", health.Health)
	r.Get("/ready", health.Ready)

	if cfg.Service != nil {
		scepHandler := handler.NewSCEPHandler(cfg.Service)
		r.Route("/api/v1/scep", func(r chi.Router) {
			r.Post("/request", scepHandler.Request)
			r.Post("/inspect", scepHandler.Inspect)
		})
	}

	return r
}
