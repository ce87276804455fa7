package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clusterscan/internal/engine"
	"clusterscan/internal/logger"
)

// Config holds the HTTP settings
type Config struct {
	Port         int
	JWTSecret    string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server serves the signal, performance and event tables as JSON
type Server struct {
	echo   *echo.Echo
	engine *engine.Engine
	cfg    Config
	log    *logger.Logger
}

// NewServer creates the web server and registers its routes
func NewServer(cfg Config, eng *engine.Engine, log *logger.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout

	e.Use(middleware.Recover())
	e.Use(requestLogger(log))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	s := &Server{echo: e, engine: eng, cfg: cfg, log: log}

	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	if cfg.JWTSecret != "" {
		api.Use(bearerAuth([]byte(cfg.JWTSecret)))
	}
	api.GET("/signals", s.handleSignals)
	api.GET("/performance", s.handlePerformance)
	api.GET("/events/:symbol", s.handleSymbolEvents)
	api.GET("/events/:symbol/:date", s.handleEvent)
	api.GET("/rules", s.handleRules)

	return s
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.log.Info("web server listening", logger.String("addr", addr), logger.Bool("auth", s.cfg.JWTSecret != ""))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.log.Info("web server stopped")
	return nil
}

func requestLogger(log *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			status := c.Response().Status
			fields := []logger.Field{
				logger.String("method", c.Request().Method),
				logger.String("route", c.Path()),
				logger.Int("status", status),
				logger.Duration("duration_ms", time.Since(start)),
			}
			if status >= http.StatusInternalServerError {
				log.Error("http request failed", fields...)
			} else {
				log.Debug("http request", fields...)
			}
			return nil
		}
	}
}
