// Package api exposes the guest-facing HTTP interface.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"github.com/monitorify/monitorify/internal/config"
	"github.com/monitorify/monitorify/internal/diagnose"
	"github.com/monitorify/monitorify/internal/keys"
	"github.com/monitorify/monitorify/internal/metrics"
	"github.com/monitorify/monitorify/internal/render"
	"github.com/monitorify/monitorify/internal/store"
)

// Clock abstracts time for expiry checks and record timestamps.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints record identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Server wires HTTP handlers to the stores, the renderer and the diagnostics.
type Server struct {
	router   chi.Router
	stores   store.Store
	renderer render.Renderer
	detector diagnose.TechDetector
	scorer   diagnose.Scorer
	hasher   *keys.Hasher
	idGen    IDGenerator
	clock    Clock
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	stores store.Store,
	renderer render.Renderer,
	detector diagnose.TechDetector,
	scorer diagnose.Scorer,
	hasher *keys.Hasher,
	idGen IDGenerator,
	clock Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	s := &Server{
		stores:   stores,
		renderer: renderer,
		detector: detector,
		scorer:   scorer,
		hasher:   hasher,
		idGen:    idGen,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-API-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/public", func(r chi.Router) {
		limit := cfg.Server.PublicRateLimit
		if limit <= 0 {
			limit = 20
		}
		r.Use(httprate.LimitByIP(limit, time.Minute))
		r.Post("/generate", s.generateKey)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireGuestKey)
		r.Get("/ping", s.ping)
		r.Post("/screenshot", s.createScreenshotJob)
		r.Post("/url2pdf", s.createPDFJob)
		r.Get("/jobs/{jobID}", s.getJob)
		r.Post("/meta-scrape", s.metaScrape)
		r.Route("/monitors", func(r chi.Router) {
			r.Get("/", s.listMonitors)
			r.Post("/", s.createMonitor)
			r.Route("/{monitorID}", func(r chi.Router) {
				r.Get("/", s.getMonitor)
				r.Patch("/", s.updateMonitor)
				r.Delete("/", s.deleteMonitor)
			})
		})
	})

	uploads := http.StripPrefix("/uploads/", http.FileServer(http.Dir(cfg.Uploads.Dir)))
	r.Get("/uploads/*", uploads.ServeHTTP)

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.stores.Ping(ctx); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}
