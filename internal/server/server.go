// Package server exposes practice sessions over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/michaelbrown/algoprep/internal/config"
	"github.com/michaelbrown/algoprep/internal/engine"
	"github.com/michaelbrown/algoprep/internal/practice"
	"github.com/michaelbrown/algoprep/internal/storage"
	"github.com/michaelbrown/algoprep/internal/task"
)

// Catalog is where task descriptors come from.
type Catalog interface {
	Get(slug string) (*task.Descriptor, error)
	List() ([]task.Summary, error)
}

// Options carry the collaborators of a Server. Store and Warmer are optional.
type Options struct {
	Catalog  Catalog
	Store    *storage.Manager
	Executor engine.Executor
	Warmer   practice.Warmer
	Logger   zerolog.Logger
}

// Server is the HTTP server for the practice API.
type Server struct {
	cfg      *config.Config
	catalog  Catalog
	store    *storage.Manager
	sessions *SessionManager
	logger   zerolog.Logger
	router   chi.Router
	http     *http.Server
}

// New creates a new Server.
func New(cfg *config.Config, opts Options) *Server {
	logger := opts.Logger.With().Str("component", "server").Logger()
	s := &Server{
		cfg:      cfg,
		catalog:  opts.Catalog,
		store:    opts.Store,
		sessions: NewSessionManager(opts.Store, opts.Executor, opts.Warmer, opts.Logger),
		logger:   logger,
		router:   chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/tasks", s.handleListTasks)

		r.Route("/tasks/{slug}", func(r chi.Router) {
			r.Get("/", s.handleGetTask)
			r.Get("/state", s.handleGetState)
			r.Put("/code", s.handleSetCode)
			r.Post("/tests", s.handleAddTest)
			r.Put("/tests/{id}", s.handleUpdateTest)
			r.Delete("/tests/{id}", s.handleRemoveTest)
			r.Patch("/settings", s.handleSettings)
			r.Post("/run", s.handleRun)
			r.Post("/cancel", s.handleCancel)
			r.Post("/save", s.handleSave)
			r.Get("/export", s.handleExport)
			r.Get("/ws", s.handleWebSocket)
		})
	})

	if s.cfg.Server.StaticDir != "" {
		r.Handle("/*", staticHandler(s.cfg.Server.StaticDir))
	}
}

// requestLogger logs one line per request.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("took", time.Since(start)).
				Msg("request")
		})
	}
}

// Start begins listening on the given port.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Msgf("algoprep server starting on http://localhost%s", addr)
	return s.http.ListenAndServe()
}

// Shutdown stops running batches and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down server")
	s.sessions.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(shutdownCtx)
}
