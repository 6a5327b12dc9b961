// Package http provides the rcad HTTP API: analysis lifecycle routes,
// discovery scans and the issue queue, the pattern library read surface,
// and the GitHub webhook that feeds PR outcomes back into learning.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rcad/internal/analysis"
	"github.com/fyrsmithlabs/rcad/internal/codehost"
	"github.com/fyrsmithlabs/rcad/internal/discovery"
	"github.com/fyrsmithlabs/rcad/internal/logging"
	"github.com/fyrsmithlabs/rcad/internal/patterns"
	"github.com/fyrsmithlabs/rcad/internal/sentry"
)

// PatternLibrary is the slice of the pattern service the API serves.
type PatternLibrary interface {
	GetAllPatterns(ctx context.Context) string
	GetPatternsByErrorType(ctx context.Context, errorType string) string
	Stats(ctx context.Context) patterns.Stats
	UpdateOnPRMerged(ctx context.Context, errorType, fixApproach string, prNumber int)
	UpdateOnPRRejected(ctx context.Context, errorType, failedApproach, reason string, prNumber int)
	Bootstrap(ctx context.Context, candidates []patterns.HistoricalPattern) (int, error)
	MarkBootstrapComplete(patternsLoaded int, projects []string) error
	BootstrapNeeded() bool
	TrackerStatus() (*patterns.Tracker, error)
}

// HistoryLoader harvests fix patterns from historically resolved issues.
type HistoryLoader interface {
	ResolvedPatterns(ctx context.Context, opts sentry.HistoryOptions) ([]patterns.HistoricalPattern, error)
}

// CodeHost is the slice of the code-host client the API needs.
type CodeHost interface {
	GetPullRequestStatus(ctx context.Context, number int) (*codehost.PRStatus, error)
}

// Dependencies bundles the services the API serves. Analyzer, Queue, and
// Patterns are required; Scanner, History, and CodeHost degrade their
// routes when absent.
type Dependencies struct {
	Analyzer *analysis.Orchestrator
	Scanner  *discovery.Scanner
	Queue    *discovery.Queue
	Patterns PatternLibrary
	History  HistoryLoader
	CodeHost CodeHost
}

// Server provides HTTP endpoints for rcad.
type Server struct {
	echo           *echo.Echo
	deps           Dependencies
	logger         *zap.Logger
	config         *Config
	webhookLimiter *ipRateLimiter
}

// Config holds HTTP server configuration.
type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// StreamPoll is the SSE event-log poll interval.
	StreamPoll time.Duration
	// WebhookSecret verifies inbound webhook signatures. Empty accepts
	// all payloads unverified.
	WebhookSecret string
	// PRMarker identifies pull requests this system opened. Webhook
	// events for PRs without it in title or body are ignored.
	PRMarker     string
	WebhookRPS   float64
	WebhookBurst int
}

// NewServer creates a new HTTP server.
func NewServer(deps Dependencies, logger *zap.Logger, cfg *Config) (*Server, error) {
	if deps.Analyzer == nil {
		return nil, fmt.Errorf("analyzer cannot be nil")
	}
	if deps.Queue == nil {
		return nil, fmt.Errorf("queue cannot be nil")
	}
	if deps.Patterns == nil {
		return nil, fmt.Errorf("pattern library cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8090
	}
	if cfg.StreamPoll <= 0 {
		cfg.StreamPoll = 100 * time.Millisecond
	}
	if cfg.PRMarker == "" {
		// An empty marker would match every pull request.
		cfg.PRMarker = "[rcad]"
	}
	if cfg.WebhookRPS <= 0 {
		cfg.WebhookRPS = 10
	}
	if cfg.WebhookBurst <= 0 {
		cfg.WebhookBurst = 20
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(metricsMiddleware)
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// RequestID middleware has already set the header; carry the id
			// in the request context so downstream services log it too.
			req := c.Request()
			ctx := logging.WithRequestID(req.Context(), c.Response().Header().Get(echo.HeaderXRequestID))
			c.SetRequest(req.WithContext(ctx))

			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", logging.RequestIDFromContext(ctx)),
			)

			return err
		}
	})

	s := &Server{
		echo:           e,
		deps:           deps,
		logger:         logger,
		config:         cfg,
		webhookLimiter: newIPRateLimiter(cfg.WebhookRPS, cfg.WebhookBurst),
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	// Health check and metrics
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Analysis lifecycle
	rca := s.echo.Group("/api/rca")
	rca.POST("/analyze", s.handleAnalyze)
	rca.GET("/stream/:id", s.handleStream)
	rca.POST("/cancel/:id", s.handleCancel)
	rca.GET("/result/:id", s.handleResult)
	rca.GET("/history", s.handleHistory)
	rca.GET("/stats", s.handleStats)
	rca.POST("/pr/:id", s.handleCreatePR)
	rca.GET("/pr/:id/status", s.handlePRStatus)

	// Discovery scans and the issue queue
	disc := s.echo.Group("/api/discovery")
	disc.POST("/scan", s.handleScan)
	disc.GET("/queue", s.handleQueue)
	disc.DELETE("/queue/:issue_id", s.handleQueueRemove)
	disc.POST("/queue/:issue_id/analyze", s.handleQueueAnalyze)
	disc.POST("/bootstrap", s.handleBootstrap)
	disc.GET("/bootstrap/status", s.handleBootstrapStatus)

	// Pattern library
	s.echo.GET("/api/patterns", s.handlePatterns)
	s.echo.GET("/api/patterns/stats", s.handlePatternStats)

	// Learning feedback
	s.echo.POST("/api/webhooks/github", s.handleGitHubWebhook)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.echo.Server.ReadTimeout = s.config.ReadTimeout
	s.echo.Server.WriteTimeout = s.config.WriteTimeout
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
