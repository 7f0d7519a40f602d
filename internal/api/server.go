package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/doorbridge/doorbridge/internal/api/middleware"
	"github.com/doorbridge/doorbridge/internal/config"
	"github.com/doorbridge/doorbridge/internal/orchestrator"
	"github.com/doorbridge/doorbridge/internal/store"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Orchestrator is the subset of orchestrator.Orchestrator the HTTP surface
// calls directly.
type Orchestrator interface {
	GetCredentials(ctx context.Context, callToken string) (orchestrator.Credentials, error)
	EndCall(ctx context.Context, callToken string) error
	MintOutgoingCredentials(ctx context.Context) (orchestrator.OutgoingCredentialsResult, error)
	CleanupOutgoing(ctx context.Context, outgoingToken string) error
}

// TokenRegistry is the subset of store.Store the push-registration handler
// writes to.
type TokenRegistry interface {
	SavePushToken(ctx context.Context, t store.PushToken) error
}

// Server holds HTTP handler dependencies and the chi router (C7).
type Server struct {
	router *chi.Mux
	orch   Orchestrator
	tokens TokenRegistry
	cfg    *config.Config
	limit  *middleware.IPRateLimiter
}

// NewServer creates the HTTP handler with all §4.7 routes mounted. A
// per-IP rate limit guards the unauthenticated surface against abuse —
// this process has no session/auth layer to rely on instead.
func NewServer(orch Orchestrator, tokens TokenRegistry, cfg *config.Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		orch:   orch,
		tokens: tokens,
		cfg:    cfg,
		limit:  middleware.NewIPRateLimiter(middleware.DefaultRateLimitConfig()),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes configures the middleware stack and mounts the minimal, stateless
// surface from §4.7. There is no API versioning in MVP and no admin route
// tree — this process serves the call-control surface only.
func (s *Server) routes() {
	r := s.router

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(middleware.RateLimit(s.limit))

	r.Post("/push/register", s.handlePushRegister)
	r.Get("/calls/credentials", s.handleCallCredentials)
	r.Post("/calls/end", s.handleCallEnd)
	r.Post("/calls/reject", s.handleCallEnd)
	r.Post("/calls/outgoing-credentials", s.handleOutgoingCredentials)
	r.Post("/calls/outgoing-cleanup", s.handleOutgoingCleanup)
	r.Get("/health", s.handleHealth)

	slog.Info("api routes mounted")
}
