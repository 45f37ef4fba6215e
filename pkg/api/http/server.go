package http

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aescanero/tenderflow/internal/application/orchestrator"
	"github.com/aescanero/tenderflow/internal/application/workers"
	"github.com/aescanero/tenderflow/pkg/ports"
	"github.com/aescanero/tenderflow/pkg/report"
)

// HealthChecker reports worker pool health. *workers.HealthMonitor
// implements it.
type HealthChecker interface {
	GetStatus() *workers.HealthStatus
}

// Server represents the HTTP API server
type Server struct {
	router       *gin.Engine
	server       *http.Server
	orchestrator *orchestrator.Manager
	knowledge    *orchestrator.KnowledgeService
	health       HealthChecker
	renderer     ports.ReportRenderer
	logger       *zap.Logger
}

// Config holds HTTP server configuration
type Config struct {
	Port         int
	Orchestrator *orchestrator.Manager
	Knowledge    *orchestrator.KnowledgeService
	Health       HealthChecker
	// Renderer formats invocation reports. Defaults to Markdown.
	Renderer ports.ReportRenderer
	// Gatherer backs /metrics. Defaults to the global registry.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	renderer := cfg.Renderer
	if renderer == nil {
		renderer = report.NewMarkdown()
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware())

	s := &Server{
		router:       router,
		orchestrator: cfg.Orchestrator,
		knowledge:    cfg.Knowledge,
		health:       cfg.Health,
		renderer:     renderer,
		logger:       logger,
	}

	s.setupRoutes(gatherer)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	return s
}

// setupRoutes configures API routes
func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/invocations", s.handleSubmit)
		v1.GET("/invocations", s.handleList)
		v1.GET("/invocations/:id", s.handleGet)
		v1.GET("/invocations/:id/result", s.handleResult)
		v1.GET("/invocations/:id/report", s.handleReport)
		v1.POST("/invocations/:id/cancel", s.handleCancel)

		if s.knowledge != nil {
			v1.POST("/knowledge/scan", s.handleKnowledgeScan)
			v1.GET("/knowledge/documents", s.handleKnowledgeDocuments)
			v1.GET("/knowledge/search", s.handleKnowledgeSearch)
			v1.DELETE("/knowledge/index", s.handleKnowledgeClear)
		}
	}
}

// StreamHandler serves the live event stream of one invocation
type StreamHandler interface {
	HandleInvocationStream(c *gin.Context)
}

// SetupWebSocket adds the WebSocket event stream to the server
func (s *Server) SetupWebSocket(handler StreamHandler) {
	s.router.GET("/api/v1/invocations/:id/ws", handler.HandleInvocationStream)
}

// Handler returns the root handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}
