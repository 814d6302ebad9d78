package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/namelink/internal/debug"
	"github.com/namelink/internal/matcher"
	"github.com/namelink/internal/web/handlers"
	"github.com/namelink/internal/web/middleware"
)

// Server represents the web server
type Server struct {
	config     *Config
	engine     *matcher.Engine
	runs       handlers.RunStore
	logger     *zap.Logger
	httpServer *http.Server
	router     *mux.Router
}

// NewServer creates a new web server instance. runs may be nil, in which
// case results are not persisted and the run endpoints are not mounted.
func NewServer(config *Config, engine *matcher.Engine, runs handlers.RunStore, logger *zap.Logger) (*Server, error) {
	if engine == nil {
		return nil, errors.New("web server needs a matching engine")
	}

	server := &Server{
		config: config,
		engine: engine,
		runs:   runs,
		logger: debug.OrDefault(logger).Named("web"),
	}

	server.setupRoutes()

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port),
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return server, nil
}

// Handler returns the root handler, CORS included
func (s *Server) Handler() http.Handler {
	return middleware.CORS()(s.router)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	// Convert config for handlers (to avoid import cycle)
	handlerConfig := &handlers.Config{}
	handlerConfig.Features.PersistRuns = s.config.Features.PersistRuns
	handlerConfig.Features.MaxRequestRecords = s.config.Features.MaxRequestRecords

	matchHandler := &handlers.MatchHandler{Engine: s.engine, Runs: s.runs, Config: handlerConfig, Logger: s.logger}
	healthHandler := &handlers.HealthHandler{Runs: s.runs}

	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", healthHandler.Health).Methods("GET")
	api.HandleFunc("/config", matchHandler.GetConfig).Methods("GET")
	api.HandleFunc("/match", matchHandler.Match).Methods("POST")

	if s.runs != nil {
		runsHandler := &handlers.RunsHandler{Runs: s.runs, Logger: s.logger}
		api.HandleFunc("/runs", runsHandler.ListRuns).Methods("GET")
		api.HandleFunc("/runs/{id}", runsHandler.GetRun).Methods("GET")
		api.HandleFunc("/runs/{id}/results", runsHandler.GetResults).Methods("GET")
	}

	s.router.Use(middleware.RequestLogging(s.logger))

	if s.config.Auth.Enabled {
		// Apply authentication middleware to API routes only
		api.Use(middleware.Authentication(s.config.Auth.APIKey))
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}
