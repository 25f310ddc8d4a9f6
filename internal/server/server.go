// Package server assembles the resilience pipeline behind its HTTP and
// websocket surface.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/capturekit/resilience/internal/api/http"
	"github.com/capturekit/resilience/internal/api/middleware"
	"github.com/capturekit/resilience/internal/infrastructure/config"
	"github.com/capturekit/resilience/internal/infrastructure/logging"
	"github.com/capturekit/resilience/internal/infrastructure/monitoring"
	"github.com/capturekit/resilience/internal/resilience"
	"github.com/capturekit/resilience/internal/ws"
)

// Server wraps the HTTP server, the pipeline, and the websocket hub.
type Server struct {
	router  *gin.Engine
	httpSrv *http.Server
	core    *resilience.Core
	hub     *ws.Hub
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
}

// New builds a fully wired server from configuration.
func New(cfg *config.Config) (*Server, error) {
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		l, err := logging.New(logging.Config{Level: cfg.Logging.Level})
		if err != nil {
			return nil, fmt.Errorf("logger: %w", err)
		}
		logger = l
	}

	logger.Info("initializing resilience service",
		zap.String("host", cfg.Server.Host),
		zap.String("port", cfg.Server.Port),
	)

	metrics := monitoring.NewMetrics()

	// The hub doubles as the recovery trigger: cleanup and re-query
	// requests travel to the widget over the same feed notifications use.
	hub := ws.NewHub(logger, nil)

	core := resilience.New(resilience.Options{
		Logger:   logger,
		Metrics:  metrics,
		Pipeline: cfg.Pipeline,
		Notify:   cfg.Notify,
		Recovery: cfg.Recovery,
		Trigger:  hub,
	})
	core.Notifications().AddSink(hub)
	hub.SetActions(core)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(recoveryMiddleware(core, logger))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(cfg.RateLimit))
	}

	handlers := apihttp.NewHandlers(logger, core, cfg.Notify.ReportURL)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)

	router.POST("/errors/report", handlers.ReportError)
	router.GET("/errors/stats", handlers.Stats)
	router.GET("/errors/recent", handlers.Recent)
	router.POST("/errors/:id/retry", handlers.RetryError)
	router.GET("/errors/:id/diagnostics", handlers.Diagnostics)

	router.GET("/notifications", handlers.ActiveNotifications)
	router.POST("/notifications/:id/dismiss", handlers.DismissNotification)
	router.GET("/notifications/stream", hub.HandleConnection)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return &Server{
		router:  router,
		core:    core,
		hub:     hub,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}, nil
}

// Run starts the pipeline's periodic tasks and serves HTTP until the
// listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.core.Start()

	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("listening", zap.String("addr", addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then stops the pipeline, draining
// pending notifications into still-connected clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")

	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(ctx)
	}
	s.core.Stop()
	s.hub.Close()
	_ = s.logger.Sync()
	return err
}

// Core exposes the pipeline for embedding and tests.
func (s *Server) Core() *resilience.Core { return s.core }

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine { return s.router }

// recoveryMiddleware funnels handler panics into the pipeline itself
// before answering 500, so the service's own failures get the same
// notification and stats treatment as reported ones.
func recoveryMiddleware(core *resilience.Core, logger *logging.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		err := fmt.Errorf("handler panic: %v", recovered)
		logger.Error("panic recovered", zap.Any("panic", recovered))
		core.Handle(c.Request.Context(), err, map[string]any{
			"path":   c.FullPath(),
			"method": c.Request.Method,
		})
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	})
}
