package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/victoralfred/varlab/internal/config"
	"github.com/victoralfred/varlab/internal/domain/ratelimit"
	"github.com/victoralfred/varlab/internal/handlers"
	"github.com/victoralfred/varlab/internal/logging"
	"github.com/victoralfred/varlab/internal/middleware"
)

// Server interface
type Server interface {
	Setup()
	Start() error
	Router() *gin.Engine
}

// HTTPServer implements the Server interface
type HTTPServer struct {
	router   *gin.Engine
	config   *config.Config
	logger   *zap.Logger
	services *Services
}

// Services holds the server dependencies
type Services struct {
	VaRHandler *handlers.VaRHandler
	// ScheduleHandler is nil when no analyses are scheduled
	ScheduleHandler *handlers.ScheduleHandler
	// Gatherer serves /metrics; nil disables the endpoint
	Gatherer prometheus.Gatherer
	// Checks are run by the readiness endpoint, keyed by component name
	Checks map[string]func(context.Context) error
	// Limiter enforces the analysis quota when rate limiting is enabled
	Limiter ratelimit.Limiter
}

// New creates a new server instance
func New(cfg *config.Config, svcs *Services, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{
		config:   cfg,
		services: svcs,
		logger:   logger,
	}
}

// Setup initializes the server
func (s *HTTPServer) Setup() {
	if s.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()
}

func (s *HTTPServer) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(logging.RequestIDMiddleware())
	s.router.Use(logging.HTTPLoggingMiddleware(s.logger, 5*time.Second))

	s.router.Use(cors.New(cors.Config{
		AllowOrigins:     s.config.CORS.AllowedOrigins,
		AllowMethods:     s.config.CORS.AllowedMethods,
		AllowHeaders:     s.config.CORS.AllowedHeaders,
		ExposeHeaders:    s.config.CORS.ExposedHeaders,
		AllowCredentials: s.config.CORS.AllowCredentials,
		MaxAge:           s.config.CORS.MaxAge,
	}))
}

func (s *HTTPServer) setupRoutes() {
	if s.config.Metrics.Enabled && s.services.Gatherer != nil {
		s.router.GET(s.config.Metrics.Path, gin.WrapH(promhttp.HandlerFor(s.services.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.router.Group("/v1")
	v1.GET("/health", s.healthCheck)
	v1.GET("/ready", s.readinessCheck)
	v1.GET("/info", s.apiInfo)

	if sh := s.services.ScheduleHandler; sh != nil {
		schedules := v1.Group("/schedules")
		schedules.GET("", sh.List)
		schedules.POST("/:name/run", sh.Run)
	}

	h := s.services.VaRHandler
	if h == nil {
		return
	}

	v1.GET("/methods", h.Methods)

	v := v1.Group("/var")
	if s.config.RateLimit.Enabled && s.services.Limiter != nil {
		v.Use(middleware.AnalysisQuota(s.services.Limiter, ratelimit.Quota{
			Limit:  s.config.RateLimit.Limit,
			Window: s.config.RateLimit.Window,
		}, s.logger))
	}
	{
		v.POST("/estimate", h.Estimate)
		v.POST("/backtest", h.Backtest)
		v.POST("/optimal", h.Optimal)
	}

	runs := v1.Group("/runs")
	{
		runs.GET("", h.ListRuns)
		runs.GET("/:id", h.GetRun)
	}
}

func (s *HTTPServer) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   s.config.Version,
		"uptime":    time.Since(s.config.StartTime).Seconds(),
	})
}

func (s *HTTPServer) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	components := gin.H{}
	for name, check := range s.services.Checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			components[name] = err.Error()
			s.logger.Warn("readiness check failed", zap.String("component", name), zap.Error(err))
			continue
		}
		components[name] = "ok"
	}

	c.JSON(status, gin.H{
		"success": status == http.StatusOK,
		"data":    gin.H{"components": components},
	})
}

func (s *HTTPServer) apiInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"version":     s.config.Version,
			"environment": s.config.Environment,
			"confidence":  s.config.Risk.Confidence,
			"workers":     s.config.Risk.Workers,
		},
	})
}

// Start starts the HTTP server with graceful shutdown
func (s *HTTPServer) Start() error {
	writeTimeout := s.config.Risk.RequestTimeout + 15*time.Second
	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", s.config.Port),
		Handler:        s.router,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   writeTimeout,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server",
			zap.Int("port", s.config.Port),
			zap.String("environment", s.config.Environment),
		)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	case <-quit:
	}

	s.logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	s.logger.Info("Server exited")
	return nil
}

// Router returns the gin router for testing
func (s *HTTPServer) Router() *gin.Engine {
	return s.router
}
