// Package api exposes the analysis pipeline over HTTP.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/DTeam-Top/docpilot/internal/cache"
	"github.com/DTeam-Top/docpilot/internal/config"
	"github.com/DTeam-Top/docpilot/internal/llm"
	"github.com/DTeam-Top/docpilot/internal/pipeline"
)

// Server is the HTTP API server for docpilot.
type Server struct {
	router chi.Router
	svc    *pipeline.Service
	cache  *cache.Cache
	model  *llm.AnthropicClient
	log    *slog.Logger
	cfg    config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(svc *pipeline.Service, c *cache.Cache, model *llm.AnthropicClient, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		svc:   svc,
		cache: c,
		model: model,
		log:   log,
		cfg:   cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Post("/api/analyze", s.handleAnalyze)
		r.Get("/api/cache/stats", s.handleCacheStats)
		r.Delete("/api/cache", s.handleClearCache)
		r.Get("/api/stats/llm", s.handleLLMStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
