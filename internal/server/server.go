package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/handler"
	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/server/middleware"
	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/service"
	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/session"
	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	LoginRatePerMin int
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		LoginRatePerMin: 10,
	}
}

// Server is the top-level HTTP server for KeyOrbit. It owns the Chi router
// and the services behind the token and auth endpoints.
type Server struct {
	cfg        Config
	router     chi.Router
	store      *store.Store
	sessions   *session.Store
	validator  *service.Validator
	lifecycle  *service.Lifecycle
	authSvc    *service.AuthService
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, st *store.Store, sessions *session.Store, validator *service.Validator, lifecycle *service.Lifecycle, authSvc *service.AuthService, logger *slog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		store:     st,
		sessions:  sessions,
		validator: validator,
		lifecycle: lifecycle,
		authSvc:   authSvc,
		logger:    logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))

	// --- Health checks (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	authHandler := handler.NewAuthHandler(s.authSvc)
	tokenHandler := handler.NewTokenHandler(s.lifecycle)
	keysHandler := handler.NewKeysHandler()

	r.Route("/api/v1", func(r chi.Router) {

		// Login is the only unauthenticated endpoint; keep it rate limited.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(s.cfg.LoginRatePerMin))
			r.Post("/auth/login", authHandler.Login)
		})

		// Hybrid auth: a request may carry either an API token or a
		// session JWT.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(s.authSvc))

			r.Delete("/auth/logout", authHandler.Logout)
			r.Get("/me", authHandler.Me)

			// Token management
			r.Get("/tokens", tokenHandler.List)
			r.Post("/tokens", tokenHandler.Create)
			r.Get("/tokens/stats", tokenHandler.Stats)
			r.Get("/tokens/{tokenID}", tokenHandler.Get)
			r.Patch("/tokens/{tokenID}", tokenHandler.Update)
			r.Delete("/tokens/{tokenID}", tokenHandler.Revoke)
			r.Post("/tokens/{tokenID}/regenerate", tokenHandler.Regenerate)
			r.Put("/tokens/{tokenID}/permissions", tokenHandler.UpdatePermissions)
		})

		// Protected resources gated on specific API token permissions.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireToken(s.validator, []string{"key:read"}, nil))
			r.Get("/keys", keysHandler.List)
		})
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireToken(s.validator, []string{"key:write"}, nil))
			r.Post("/keys", keysHandler.Create)
		})
	})

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the token store and
// the session store are both reachable, or 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := make(map[string]string)

	if err := s.store.Ping(r.Context()); err != nil {
		checks["store"] = "error: " + err.Error()
		status = "degraded"
	} else {
		checks["store"] = "ok"
	}
	if err := s.sessions.Ping(r.Context()); err != nil {
		checks["sessions"] = "error: " + err.Error()
		status = "degraded"
	} else {
		checks["sessions"] = "ok"
	}

	if status != "ok" {
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests before returning.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Listen for shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start server in background goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
