// Package httpapi serves the REST and WebSocket surface of opsai.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/doeshing/opsai/internal/domain"
	pkglogger "github.com/doeshing/opsai/internal/pkg/logger"
	"github.com/doeshing/opsai/internal/ports"
)

// Orchestrator is the execution surface the API drives.
type Orchestrator interface {
	Execute(ctx context.Context, user domain.User, req domain.ExecuteRequest) (*domain.Execution, error)
	Confirm(ctx context.Context, user domain.User, executionID string) (*domain.Execution, error)
	Cancel(ctx context.Context, user domain.User, executionID string) (*domain.Execution, error)
	Override(ctx context.Context, user domain.User, executionID string) (*domain.Execution, error)
	Chat(ctx context.Context, user domain.User, message, serverID string) (string, error)
	Get(ctx context.Context, user domain.User, executionID string) (*domain.Execution, error)
	List(ctx context.Context, user domain.User, filter domain.ExecutionFilter) ([]domain.Execution, error)
	AuditTrail(ctx context.Context, user domain.User, executionID string) ([]domain.AuditEntry, error)
}

// HealthCheck reports on one dependency. A nil error means healthy.
type HealthCheck func(ctx context.Context) error

// Options configures a Server.
type Options struct {
	AllowedOrigins   []string
	ActionsPerSecond float64
	ActionBurst      int
}

// Dependencies are the collaborators behind the routes. Metrics, Servers
// and Checks are optional.
type Dependencies struct {
	Orchestrator Orchestrator
	Providers    ports.ProviderRegistry
	Servers      ports.CredentialResolver
	Hub          *Hub
	Metrics      http.Handler
	Checks       map[string]HealthCheck
	ActiveCount  func() int
}

// Server is the REST and WebSocket API server.
type Server struct {
	Router chi.Router

	deps     Dependencies
	opts     Options
	upgrader websocket.Upgrader
	logger   ports.Logger
	actions  sync.WaitGroup
}

// NewServer creates a server with all routes registered.
// A nil logger discards output.
func NewServer(deps Dependencies, opts Options, logger ports.Logger) *Server {
	if logger == nil {
		logger = pkglogger.Nop{}
	}
	if deps.Hub == nil {
		deps.Hub = NewHub(logger)
	}
	if opts.ActionsPerSecond <= 0 {
		opts.ActionsPerSecond = 5
	}
	if opts.ActionBurst <= 0 {
		opts.ActionBurst = 10
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	s := &Server{
		Router: router,
		deps:   deps,
		opts:   opts,
		logger: logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.Get("/v1/health", s.handleHealth)
	if s.deps.Metrics != nil {
		s.Router.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}

	s.Router.Group(func(r chi.Router) {
		r.Use(s.requireUser)
		r.Get("/v1/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(middleware.SetHeader("Content-Type", "application/json"))
			r.Get("/v1/servers", s.handleListServers)
			r.Get("/v1/executions", s.handleListExecutions)
			r.Get("/v1/executions/{id}", s.handleGetExecution)
			r.Get("/v1/executions/{id}/audit", s.handleAuditTrail)
			r.Get("/v1/providers", s.handleListProviders)
			r.Put("/v1/providers/active", s.handleSetActiveProvider)
		})
	})
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", map[string]interface{}{"addr": addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		s.logger.Info("shutting down HTTP server", nil)
		err := srv.Shutdown(shutdownCtx)
		s.deps.Hub.Close()
		s.Wait()
		return err
	}
}

// Wait blocks until every socket-initiated action has returned.
func (s *Server) Wait() {
	s.actions.Wait()
}

// --- Helpers ---

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("write json response", err, nil)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
