// pkg/api/server.go
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/releasegate/releasegate/orchestrator"
	"github.com/releasegate/releasegate/pkg/api/handlers"
	"github.com/releasegate/releasegate/pkg/api/middleware"
	"github.com/releasegate/releasegate/pkg/config"
)

type Server struct {
	router *gin.Engine
	server *http.Server
	config *config.Config
	logger *zap.Logger
	ctrl   *orchestrator.Controller
}

func NewServer(cfg *config.Config, ctrl *orchestrator.Controller, logger *zap.Logger) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		router: gin.New(),
		config: cfg,
		logger: logger,
		ctrl:   ctrl,
	}
}

func (s *Server) SetupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(middleware.LoggingMiddleware(s.logger))
	s.router.Use(middleware.RateLimitMiddleware(&s.config.Server.RateLimit))

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")

	flagsHandler := handlers.NewFlagsHandler(s.ctrl, s.logger)
	rolloutsHandler := handlers.NewRolloutsHandler(s.ctrl, s.logger)
	deploymentsHandler := handlers.NewDeploymentsHandler(s.ctrl, s.logger)

	flags := v1.Group("/flags")
	{
		flags.POST("", flagsHandler.Create)
		flags.GET("", flagsHandler.List)
		flags.GET("/:key", flagsHandler.Get)
		flags.PUT("/:key", flagsHandler.Update)
		flags.DELETE("/:key", flagsHandler.Delete)
		flags.POST("/:key/evaluate", flagsHandler.Evaluate)
	}

	rollouts := v1.Group("/rollouts")
	{
		rollouts.POST("", rolloutsHandler.Start)
		rollouts.GET("/:id", rolloutsHandler.Status)
		rollouts.POST("/:id/pause", rolloutsHandler.Pause)
		rollouts.POST("/:id/resume", rolloutsHandler.Resume)
	}

	deployments := v1.Group("/deployments")
	{
		deployments.POST("", deploymentsHandler.Register)
		deployments.GET("", deploymentsHandler.List)
		deployments.GET("/:id", deploymentsHandler.Get)
		deployments.POST("/:id/retire", deploymentsHandler.Retire)
		deployments.POST("/:id/revert", deploymentsHandler.Revert)
		deployments.GET("/:id/triggers", deploymentsHandler.Triggers)
		deployments.POST("/:id/rollback", deploymentsHandler.Rollback)
		deployments.GET("/:id/rollbacks", deploymentsHandler.RollbackHistory)
	}
}

func (s *Server) Start() error {
	s.SetupRoutes()

	addr := s.config.Server.Port
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
