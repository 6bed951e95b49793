package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/finovahq/javob/internal/auth"
	"github.com/finovahq/javob/internal/correlate"
	"github.com/finovahq/javob/internal/ingest"
	"github.com/finovahq/javob/internal/kpi"
	"github.com/finovahq/javob/internal/model"
)

// Server is the javob HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
type ServerConfig struct {
	Store      Store
	JWTMgr     *auth.JWTManager
	IngestSvc  *ingest.Service
	Engine     *correlate.Engine
	Aggregator *kpi.Aggregator
	Logger     *slog.Logger

	AdminAPIKey string

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Store:               cfg.Store,
		JWTMgr:              cfg.JWTMgr,
		IngestSvc:           cfg.IngestSvc,
		Engine:              cfg.Engine,
		Aggregator:          cfg.Aggregator,
		AdminAPIKey:         cfg.AdminAPIKey,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	mux := http.NewServeMux()

	// Auth endpoint (no auth required).
	mux.HandleFunc("POST /auth/token", h.HandleAuthToken)

	// Message ingestion: the transport collaborator authenticates as BOT.
	ingestRole := requireRole(model.RoleBot, model.RoleAdmin)
	mux.Handle("POST /v1/messages", ingestRole(http.HandlerFunc(h.HandleIngestMessage)))

	// KPI queries (any staff role).
	staff := requireRole(model.RoleAgent, model.RoleSupervisor, model.RoleAdmin)
	mux.Handle("GET /v1/kpi", staff(http.HandlerFunc(h.HandleListKpi)))
	mux.Handle("GET /v1/kpi/{user_id}", staff(http.HandlerFunc(h.HandleGetUserKpi)))

	// Administration (admin only).
	adminOnly := requireRole(model.RoleAdmin)
	mux.Handle("POST /v1/kpi/recompute", adminOnly(http.HandlerFunc(h.HandleRecomputeKpi)))
	mux.Handle("POST /v1/users", adminOnly(http.HandlerFunc(h.HandleCreateUser)))
	mux.Handle("GET /v1/users", adminOnly(http.HandlerFunc(h.HandleListUsers)))

	// Health (no auth).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
