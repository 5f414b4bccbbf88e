// Package server exposes the sync core over a local HTTP API.
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

	"github.com/aristath/ledgersync/internal/clients/ledgerapi"
	"github.com/aristath/ledgersync/internal/domain"
	"github.com/aristath/ledgersync/internal/events"
	"github.com/aristath/ledgersync/internal/queue"
	"github.com/aristath/ledgersync/internal/reconciliation"
)

// QueueService is the write queue as seen by the API.
type QueueService interface {
	Enqueue(ctx context.Context, rec domain.TransactionRecord) (string, error)
	Drain(ctx context.Context) (queue.DrainResult, error)
	Pending() []queue.QueuedWrite
	Stats() queue.Stats
}

// Auditor runs reconciliation audits.
type Auditor interface {
	Audit(ctx context.Context, period string) (*reconciliation.FullAuditReport, error)
	Markdown(report *reconciliation.FullAuditReport) string
}

// HealthService exposes the last polled status and on-demand polls.
type HealthService interface {
	Last() (domain.HealthStatus, bool)
	Poll(ctx context.Context) domain.HealthStatus
}

// SessionService manages the authentication token.
type SessionService interface {
	Active() bool
	DeviceID() string
	SetToken(token string) error
	Logout() error
}

// OptionsService returns the remote form vocabularies.
type OptionsService interface {
	Options(ctx context.Context) (*ledgerapi.Options, error)
}

// Config holds server configuration
type Config struct {
	Log     zerolog.Logger
	Port    int
	DevMode bool

	Queue   QueueService
	Auditor Auditor
	Health  HealthService
	Session SessionService
	Options OptionsService
	Bus     *events.Bus
}

// Server represents the HTTP server
type Server struct {
	router  *chi.Mux
	server  *http.Server
	log     zerolog.Logger
	port    int
	started time.Time

	queue   QueueService
	auditor Auditor
	health  HealthService
	session SessionService
	options OptionsService
	bus     *events.Bus

	system *SystemHandlers
	stream *EventsStreamHandler
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		log:     cfg.Log.With().Str("component", "server").Logger(),
		port:    cfg.Port,
		started: time.Now(),
		queue:   cfg.Queue,
		auditor: cfg.Auditor,
		health:  cfg.Health,
		session: cfg.Session,
		options: cfg.Options,
		bus:     cfg.Bus,
	}
	s.system = NewSystemHandlers(cfg.Queue, s.started, cfg.Log)
	s.stream = NewEventsStreamHandler(cfg.Bus, cfg.Log)

	s.setupMiddleware()
	s.setupRoutes(cfg.DevMode)

	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
		// No WriteTimeout: the websocket stream is long-lived. Route
		// timeouts come from middleware.Timeout.
	}

	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

// setupRoutes configures all routes. The websocket route sits outside the
// compression and timeout middleware.
func (s *Server) setupRoutes(devMode bool) {
	s.router.Get("/health", s.handleLiveness)

	s.router.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if !devMode {
				r.Use(middleware.Compress(5, "application/json", "text/markdown"))
			}

			// The audit fans out two remote requests, each with its own
			// retry budget, so it gets a longer deadline.
			r.With(middleware.Timeout(120*time.Second)).Get("/audit", s.handleAudit)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(60 * time.Second))

				r.Post("/transactions", s.handleEnqueue)
				r.Get("/queue", s.handleQueue)
				r.Post("/queue/drain", s.handleDrain)
				r.Get("/health", s.handleHealth)
				r.Get("/session", s.handleSession)
				r.Post("/session", s.handleLogin)
				r.Delete("/session", s.handleLogout)
				r.Get("/options", s.handleOptions)
				r.Get("/system/stats", s.system.HandleStats)
			})
		})

		r.Get("/events/ws", s.stream.ServeHTTP)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
