package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"

	"github.com/teachme-ai/roster/internal/audit"
	"github.com/teachme-ai/roster/internal/identity"
	"github.com/teachme-ai/roster/internal/service/roster"
	"github.com/teachme-ai/roster/internal/supabase"
)

// Server is the roster HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// ServerConfig holds all dependencies and configuration for creating a Server.
type ServerConfig struct {
	// Required dependencies.
	Resolver  *identity.Resolver
	Anon      *supabase.Client
	Admin     *supabase.Client
	RosterSvc *roster.Service
	Recorder  *audit.Recorder
	Logger    *slog.Logger

	// HTTP server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
	Version      string

	// Feature toggles.
	HasServiceKey bool
	FetchClient   *http.Client

	// OpenAPISpec is the embedded OpenAPI YAML; served when non-empty.
	OpenAPISpec []byte
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		RosterSvc:     cfg.RosterSvc,
		Recorder:      cfg.Recorder,
		Logger:        cfg.Logger,
		FetchClient:   cfg.FetchClient,
		Version:       cfg.Version,
		HasServiceKey: cfg.HasServiceKey,
		OpenAPISpec:   cfg.OpenAPISpec,
	})

	mux := http.NewServeMux()

	// Health (no audit).
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /{$}", h.HandleHealth)
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)

	// Student routes. The search pattern is literal, so it wins over the
	// {id} wildcard by the mux's precedence rules.
	mux.HandleFunc("GET /api/students", h.HandleListStudents)
	mux.HandleFunc("GET /api/students/search", h.HandleSearchStudents)
	mux.HandleFunc("GET /api/students/{id}", h.HandleGetStudent)
	mux.HandleFunc("GET /api/students/{id}/progress", h.HandleStudentProgress)

	// Course routes.
	mux.HandleFunc("GET /api/courses/{courseId}/students", h.HandleCourseStudents)

	// Testing-only: upload avatar without a client session.
	mux.HandleFunc("POST /api/testing/upload-avatar", h.HandleUploadAvatar)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Endpoint not found")
	})

	cors := handlers.CORS(
		handlers.AllowedOrigins(cfg.CORSOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		handlers.AllowCredentials(),
	)

	// Middleware chain (outermost executes first):
	// request context → CORS → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = cors(handler)
	handler = requestContextMiddleware(cfg.Resolver, cfg.Anon, cfg.Admin, handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
