package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/michaelbrown/pyrunner/internal/config"
	"github.com/michaelbrown/pyrunner/internal/metrics"
	"github.com/michaelbrown/pyrunner/internal/runner"
)

// Runner executes decoded run requests.
type Runner interface {
	Handle(ctx context.Context, req runner.Request) (*runner.Result, error)
	Bounds() runner.Bounds
}

// Info describes the running service in the root descriptor.
type Info struct {
	Version   string
	Libraries []string
}

// Server is the HTTP server for the run API.
type Server struct {
	cfg      config.ServerConfig
	runner   Runner
	info     Info
	gatherer prometheus.Gatherer
	metrics  *metrics.Collector
	logger   *zap.Logger
	router   chi.Router
	http     *http.Server

	// Request and WebSocket contexts derive from base. Cancelling it stops
	// every execution still running once the shutdown deadline passes.
	base       context.Context
	cancelBase context.CancelFunc

	mu       sync.Mutex
	stopping bool
	closing  chan struct{} // closed when Shutdown starts
	active   sync.WaitGroup
}

// New creates a new Server. gatherer backs /metrics and should be the
// registry m was created with.
func New(cfg config.ServerConfig, run Runner, info Info, gatherer prometheus.Gatherer, m *metrics.Collector, logger *zap.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		runner:   run,
		info:     info,
		gatherer: gatherer,
		metrics:  m,
		logger:   logger.With(zap.String("component", "server")),
		router:   chi.NewRouter(),
		closing:  make(chan struct{}),
	}
	s.base, s.cancelBase = context.WithCancel(context.Background())
	s.setupRoutes()
	s.http = &http.Server{
		Handler:           s.track(s.router),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.base },
	}
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger, s.metrics))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{executionIDHeader},
		MaxAge:         300,
	}))

	r.Group(func(r chi.Router) {
		r.Use(jsonContentType)

		r.Get("/", s.handleRoot)
		r.Get("/health", s.handleHealth)
		r.Post("/run", s.handleRun)
	})

	// WebSocket and exposition set their own content types
	r.Get("/ws", s.handleWebSocket)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// track counts running handlers so Shutdown can wait for them, including
// hijacked WebSocket connections the http.Server no longer sees.
func (s *Server) track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		if s.stopping {
			s.mu.Unlock()
			w.Header().Set("Connection", "close")
			w.Header().Set("Content-Type", "application/json")
			writeError(w, http.StatusServiceUnavailable, "server is shutting down")
			return
		}
		s.active.Add(1)
		s.mu.Unlock()
		defer s.active.Done()

		next.ServeHTTP(w, r)
	})
}

// jsonContentType sets Content-Type to application/json for API routes.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Start listens on the configured port and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listening on port %d: %w", s.cfg.Port, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln. It returns nil after a graceful
// Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("pyrunner server starting", zap.String("addr", ln.Addr().String()))
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting work and waits for running requests and
// WebSocket sessions up to the configured shutdown timeout. Executions
// still running at the deadline are cancelled, which kills their process
// groups, and Shutdown returns only after they have been cleaned up.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	s.mu.Lock()
	if !s.stopping {
		s.stopping = true
		close(s.closing)
	}
	s.mu.Unlock()

	err := s.http.Shutdown(shutdownCtx)

	done := make(chan struct{})
	go func() {
		s.active.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		s.logger.Warn("shutdown deadline reached, cancelling running executions")
		s.cancelBase()
		<-done
	}
	s.cancelBase()
	return err
}
