package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/accordo-ai/accordo/internal/auth"
	"github.com/accordo-ai/accordo/internal/engine"
	"github.com/accordo-ai/accordo/internal/ratelimit"
	"github.com/accordo-ai/accordo/internal/storage"
)

// Server is the Accordo HTTP server.
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
	DB      *storage.DB
	JWTMgr  *auth.JWTManager
	Engine  *engine.Service
	Limiter ratelimit.Limiter
	Logger  *slog.Logger

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Engine:  cfg.Engine,
		DB:      cfg.DB,
		Logger:  cfg.Logger,
		Version: cfg.Version,
	})

	mux := http.NewServeMux()

	// Deal lifecycle.
	mux.HandleFunc("POST /v1/deals", h.HandleCreateDeal)
	mux.HandleFunc("GET /v1/deals/{deal_id}", h.HandleGetDeal)
	mux.HandleFunc("DELETE /v1/deals/{deal_id}", h.HandleArchiveDeal)
	mux.HandleFunc("POST /v1/deals/{deal_id}/resume", h.HandleResume)

	// Negotiation turns and history.
	mux.HandleFunc("POST /v1/deals/{deal_id}/turns", h.HandleTurn)
	mux.HandleFunc("GET /v1/deals/{deal_id}/rounds", h.HandleListRounds)
	mux.HandleFunc("GET /v1/deals/{deal_id}/similar", h.HandleSimilar)
	mux.HandleFunc("GET /v1/deals/{deal_id}/training", h.HandleListTraining)

	// Config templates.
	mux.HandleFunc("POST /v1/templates", h.HandleCreateTemplate)

	// Vendor profiles.
	mux.HandleFunc("GET /v1/vendors/{vendor_id}/profile", h.HandleGetProfile)

	// Health (no auth).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → auth → rate limit → body limit → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = maxBodyMiddleware(cfg.MaxRequestBodyBytes, handler)
	handler = ratelimit.Middleware(cfg.Limiter, callerKeyFunc, RequestIDFromContextRequest)(handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
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

// callerKeyFunc derives a rate limit key: the authenticated caller when a
// token was presented, otherwise the client IP. Health checks are exempt.
func callerKeyFunc(r *http.Request) string {
	if r.URL.Path == "/health" {
		return ""
	}
	if claims := ClaimsFromContext(r.Context()); claims != nil && claims.Caller != "" {
		return claims.Caller
	}
	return ratelimit.IPKeyFunc(r)
}

// RequestIDFromContextRequest adapts RequestIDFromContext for the rate limit
// middleware, which takes the request rather than the context.
func RequestIDFromContextRequest(r *http.Request) string {
	return RequestIDFromContext(r.Context())
}

// maxBodyMiddleware caps request body size.
func maxBodyMiddleware(limit int64, next http.Handler) http.Handler {
	if limit <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next.ServeHTTP(w, r)
	})
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
