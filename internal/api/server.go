package api

import (
	"context"
	"net/http"
	"time"

	"example.com/blocktix/config"
	"example.com/blocktix/internal/api/handlers"
	"example.com/blocktix/internal/metrics"
	"example.com/blocktix/internal/services"
	"example.com/blocktix/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

// Services are the domain services the routes are served from
type Services struct {
	Events    *services.EventService
	Ledger    *services.LedgerService
	Access    *services.AccessFilter
	Analytics *services.AnalyticsService
	Auth      *services.AuthService
	Contact   *services.ContactService
	// HealthChecks are probed by GET /health, keyed by component name
	HealthChecks map[string]handlers.Pinger
}

// Server represents the HTTP server
type Server struct {
	config     config.Config
	router     *gin.Engine
	handler    http.Handler
	httpServer *http.Server
	services   Services
	metrics    *metrics.Metrics
	tracer     tracing.Tracer
}

// NewServer creates a new HTTP server
func NewServer(cfg config.Config, svc Services, m *metrics.Metrics, tracer tracing.Tracer) *Server {
	if m == nil {
		m = metrics.NewMetrics()
	}
	if tracer == nil {
		tracer = tracing.NewNoopTracer()
	}

	server := &Server{
		config:   cfg,
		services: svc,
		metrics:  m,
		tracer:   tracer,
	}

	server.router = server.setupRouter()
	server.handler = server.withCORS(server.router)

	server.httpServer = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      server.handler,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	return server
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter() *gin.Engine {
	if s.config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.Use(s.tracer.Middleware())
	router.Use(LoggingMiddleware(s.metrics))
	router.Use(RecoveryMiddleware())
	if s.config.RateLimit.Enabled {
		limiter := NewRateLimiter(s.config.RateLimit.Requests, s.config.RateLimit.Window)
		router.Use(limiter.Middleware())
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"message": "Not found"})
	})

	handlers.NewEventHandler(s.services.Events, s.tracer).RegisterRoutes(router)
	handlers.NewLedgerHandler(s.services.Ledger, s.tracer).RegisterRoutes(router)
	handlers.NewAuthHandler(s.services.Auth, s.tracer).RegisterRoutes(router, BearerAuthMiddleware(s.services.Auth))
	handlers.NewContactHandler(s.services.Contact, s.tracer).RegisterRoutes(router)
	handlers.NewAdminHandler(s.services.Events, s.services.Access, s.services.Analytics, s.tracer).
		RegisterRoutes(router, AdminKeyMiddleware(s.config.Admin.APIKey))
	handlers.NewMetricsHandler(s.metrics, s.tracer, s.services.HealthChecks).RegisterRoutes(router)

	return router
}

// withCORS wraps the router when cross-origin requests are enabled
func (s *Server) withCORS(router *gin.Engine) http.Handler {
	if !s.config.Server.CorsEnabled {
		return router
	}

	origins := s.config.Server.CorsOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", adminKeyHeader, requestIDKey},
		ExposedHeaders: []string{requestIDKey, "Retry-After"},
		MaxAge:         int((24 * time.Hour).Seconds()),
	}).Handler(router)
}

// Handler returns the fully wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.Server.Address).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}
