// Package httpapi provides the HTTP API for errmond.
package httpapi

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/opsmithlabs/errmond/internal/fixer"
	"github.com/opsmithlabs/errmond/internal/monitor"
	"github.com/opsmithlabs/errmond/internal/supervisor"
)

// Server exposes monitoring and fix endpoints.
type Server struct {
	echo       *echo.Echo
	monitor    *monitor.Service
	fixer      *fixer.Service
	supervisor *supervisor.Supervisor
	logger     *zap.Logger
	config     *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates the HTTP server. The fixer and supervisor may be nil
// when fix generation or background supervision is not configured; their
// endpoints then report the feature as unavailable.
func NewServer(mon *monitor.Service, fx *fixer.Service, sup *supervisor.Supervisor, logger *zap.Logger, cfg *Config) (*Server, error) {
	if mon == nil {
		return nil, fmt.Errorf("monitor is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 8080}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:       e,
		monitor:    mon,
		fixer:      fx,
		supervisor: sup,
		logger:     logger,
		config:     cfg,
	}

	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1")
	v1.GET("/errors/recent", s.handleRecentErrors)
	v1.GET("/errors/critical", s.handleCriticalErrors)
	v1.GET("/errors/fixable", s.handleFixableErrors)
	v1.GET("/errors/patterns", s.handleTrackedPatterns)
	v1.POST("/scan", s.handleScan)

	v1.POST("/fixes/generate", s.handleGenerateFix)
	v1.POST("/fixes/generate-batch", s.handleGenerateBatch)
	v1.GET("/fixes", s.handleListFixes)
	v1.GET("/fixes/:id", s.handleGetFix)

	v1.GET("/supervisor/status", s.handleSupervisorStatus)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
