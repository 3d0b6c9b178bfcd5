// Package httpapi implements the External HTTP Interfaces of the design:
// the client-facing chat-completions and Messages routes, the liveness
// probe, and the admin policy-management surface, wired on top of
// internal/orchestrator and internal/policy/manager.
//
// Grounded on the teacher's internal/server (server.go/handler.go): same
// go-chi/v5 router, the same middleware.Logger/middleware.Recoverer
// pair, and the same New(cfg, ...)-builds-routes-once constructor shape.
// Generalized from the teacher's single /v1/chat/completions route to
// the two client formats plus the admin surface the design adds, and from
// the teacher's ad-hoc map[string]string error bodies to
// internal/apierror's typed, format-aware rendering.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/axiomgate/llmproxy/internal/config"
	"github.com/axiomgate/llmproxy/internal/orchestrator"
	"github.com/axiomgate/llmproxy/internal/policy/manager"
)

// Server holds the HTTP router and every dependency its handlers need.
type Server struct {
	router  chi.Router
	orch    *orchestrator.Orchestrator
	mgr     *manager.Manager
	cfg     *config.Config
	logger  *slog.Logger
	limiter *keyedRateLimiter
}

// New builds a Server, wires its routes, and returns it ready to serve as
// an http.Handler.
func New(cfg *config.Config, orch *orchestrator.Orchestrator, mgr *manager.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, orch: orch, mgr: mgr, logger: logger}
	s.limiter = newKeyedRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	s.routes()
	return s
}

func (s *Server) routes() {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "x-api-key", "x-session-id"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Use(s.clientAuth)
		r.Post("/v1/chat/completions", s.handleChatCompletions)
		r.Post("/v1/messages", s.handleMessages)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.adminAuth)
		r.Post("/policy/activate", s.handleActivatePolicy)
		r.Get("/policy/current", s.handleCurrentPolicy)
	})

	s.router = r
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "ok"})
}
