package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/kozaktomas/camflow/internal/config"
	"github.com/kozaktomas/camflow/internal/imagesource"
	"github.com/kozaktomas/camflow/internal/metrics"
	"github.com/kozaktomas/camflow/internal/sessionlog"
	"github.com/kozaktomas/camflow/internal/web/handlers"
	"github.com/kozaktomas/camflow/internal/web/middleware"
	"go.uber.org/zap"
)

// Services are the components the API exposes.
type Services struct {
	Tasks      handlers.TaskRunner
	Persons    handlers.PersonStore
	Recognizer handlers.FaceRecognizer // nil when no inference sidecar is configured
	Sessions   *sessionlog.Log
	Images     imagesource.Loader
	Models     handlers.ModelLister
	Channels   handlers.ChannelSet
}

// Server represents the web server
type Server struct {
	config     *config.Config
	services   Services
	log        *zap.Logger
	router     *chi.Mux
	httpServer *http.Server
}

// NewServer creates a new web server
func NewServer(cfg *config.Config, port int, host string, services Services, log *zap.Logger) *Server {
	metrics.Register()
	r := chi.NewRouter()

	s := &Server{
		config:   cfg,
		services: services,
		log:      log,
		router:   r,
	}

	// Set up middleware stack
	r.Use(middleware.Recoverer(log))
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger(log))
	r.Use(chiMiddleware.Timeout(2 * time.Minute))
	r.Use(middleware.CORS())
	r.Use(middleware.SecurityHeaders())

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info("starting web server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down web server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
