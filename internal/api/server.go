package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"chart-trade-analyzer/internal/analysis"
	"chart-trade-analyzer/internal/auth"
	"chart-trade-analyzer/internal/cache"
	"chart-trade-analyzer/internal/events"
	"chart-trade-analyzer/internal/lifecycle"
	"chart-trade-analyzer/internal/logging"
	"chart-trade-analyzer/internal/metrics"
	"chart-trade-analyzer/internal/patterns"
	"chart-trade-analyzer/internal/risk"
	"chart-trade-analyzer/internal/uploads"
)

// NavigationStore keeps per-user navigation state between requests
type NavigationStore interface {
	Get(ctx context.Context, userID string) (*cache.NavigationState, error)
	Put(ctx context.Context, userID string, state cache.NavigationState) (*cache.NavigationState, error)
	Clear(ctx context.Context, userID string) error
}

// HealthCheck reports whether one dependency is usable
type HealthCheck func(ctx context.Context) error

// Dependencies are the services the API exposes. Navigation, JWT, Metrics
// and EventBus may be nil.
type Dependencies struct {
	Orchestrator *analysis.Orchestrator
	Validator    *risk.Validator
	Lifecycle    *lifecycle.Manager
	Patterns     *patterns.Tracker
	Uploads      *uploads.LocalStore
	Navigation   NavigationStore
	EventBus     *events.EventBus
	Metrics      *metrics.Recorder
	JWT          *auth.JWTManager
	HealthChecks map[string]HealthCheck
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int      `json:"port" yaml:"port" default:"8080"`
	Host           string   `json:"host" yaml:"host" default:"0.0.0.0"`
	ProductionMode bool     `json:"production_mode" yaml:"production_mode"`
	AllowOrigins   []string `json:"allow_origins" yaml:"allow_origins"`
	MaxUploadBytes int64    `json:"max_upload_bytes" yaml:"max_upload_bytes" default:"67108864"`
}

// Server represents the HTTP API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     ServerConfig
	deps       Dependencies
	hub        *WSHub
	logger     zerolog.Logger
	started    time.Time
}

// NewServer creates a new API server
func NewServer(config ServerConfig, deps Dependencies, logger zerolog.Logger) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = 64 << 20
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.GinMiddleware(logger))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://localhost:3000"}
	if len(config.AllowOrigins) > 0 {
		corsConfig.AllowOrigins = config.AllowOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", logging.TraceHeader}
	corsConfig.ExposeHeaders = []string{"Content-Length", logging.TraceHeader}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:  router,
		config:  config,
		deps:    deps,
		logger:  logger.With().Str("component", "api").Logger(),
		started: time.Now(),
	}
	if deps.Metrics != nil {
		router.Use(s.metricsMiddleware())
	}

	s.hub = NewWSHub(s.logger)
	go s.hub.Run()
	if deps.EventBus != nil {
		deps.EventBus.SubscribeAll(s.hub.BroadcastEvent)
	}

	s.setupRoutes()
	return s
}

// Router exposes the gin engine, mainly for tests
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Hub returns the websocket hub
func (s *Server) Hub() *WSHub {
	return s.hub
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	if s.deps.JWT == nil {
		return auth.Anonymous()
	}
	return auth.Middleware(s.deps.JWT)
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	if s.deps.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}

	if s.deps.JWT != nil {
		s.router.GET("/ws", auth.WebSocketMiddleware(s.deps.JWT), s.handleWebSocket)
	} else {
		s.router.GET("/ws", auth.Anonymous(), s.handleWebSocket)
	}

	api := s.router.Group("/api")
	api.Use(s.authMiddleware())
	{
		api.POST("/analyses", s.handleCreateAnalysis)

		api.POST("/timeframes/classify", s.handleClassifyTimeframes)
		api.POST("/timeframes/hierarchy", s.handleResolveHierarchy)

		api.GET("/trades", s.handleListTrades)
		api.GET("/trades/:id", s.handleGetTrade)
		api.POST("/trades/:id/execution", s.handleSubmitExecution)
		api.POST("/trades/:id/outcome", s.handleReportOutcome)

		api.GET("/patterns/setup", s.handleGetSetupPatterns)
		api.GET("/patterns/execution", s.handleGetExecutionPatterns)
		api.GET("/patterns/summary", s.handleGetPatternSummary)

		api.GET("/session/navigation", s.handleGetNavigation)
		api.PUT("/session/navigation", s.handlePutNavigation)
		api.DELETE("/session/navigation", s.handleClearNavigation)

		admin := api.Group("/admin", auth.RequireAdmin())
		admin.GET("/trades", s.handleListAllTrades)
	}
}

func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.deps.Metrics.ObserveHTTP(route, c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
		// analysis requests wait on the provider
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")
	s.hub.Stop()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// handleHealth returns server health status
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.deps.HealthChecks))
	healthy := true
	for name, check := range s.deps.HealthChecks {
		if err := check(ctx); err != nil {
			checks[name] = "unhealthy: " + err.Error()
			healthy = false
			continue
		}
		checks[name] = "healthy"
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":     status,
		"checks":     checks,
		"ws_clients": s.hub.GetClientCount(),
		"uptime":     time.Since(s.started).Round(time.Second).String(),
	})
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

// getUserID returns the caller's user ID. The auth middleware always sets
// one; AnonymousUserID when auth is disabled.
func (s *Server) getUserID(c *gin.Context) string {
	if id := auth.GetUserID(c); id != "" {
		return id
	}
	return auth.AnonymousUserID
}
