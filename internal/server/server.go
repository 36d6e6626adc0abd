package server

import (
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pauldest/newsdigest/config"
	"github.com/pauldest/newsdigest/engine"
	"github.com/pauldest/newsdigest/internal/store"
	"github.com/pauldest/newsdigest/internal/telemetry"
)

// Server is the admin HTTP surface: operational triggers, status, feeds
// and article management, telemetry queries, websocket streams.
type Server struct {
	cfg      config.ServerConfig
	engine   *engine.Engine
	store    *store.Store
	feeds    *config.FeedRegistry
	recorder *telemetry.Recorder
	logs     *LogHub
	auth     *Auth
	logger   *log.Logger
}

// New wires the server.
func New(cfg config.ServerConfig, eng *engine.Engine, st *store.Store,
	feeds *config.FeedRegistry, recorder *telemetry.Recorder, logs *LogHub,
	logger *log.Logger) (*Server, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	auth, err := NewAuth(cfg)
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = NewLogHub(cfg.MaxWSConns, logger)
	}
	return &Server{
		cfg: cfg, engine: eng, store: st, feeds: feeds,
		recorder: recorder, logs: logs, auth: auth, logger: logger,
	}, nil
}

// Logs exposes the hub so the process logger can tee into it.
func (s *Server) Logs() *LogHub { return s.logs }

// Start builds the echo router and serves until the listener fails.
func (s *Server) Start(addr string) error {
	e := s.router()
	if addr == "" {
		addr = s.cfg.Address
	}
	s.logger.Printf("listening on %s", addr)
	return e.Start(addr)
}

func (s *Server) router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := s.logger
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]any{"error": msg})
		}
	}

	// Explicit allowlist; no wildcard origins.
	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	s.auth.Register(api.Group("/auth"))

	protected := api.Group("")
	if s.auth.Enabled() {
		protected.Use(s.auth.Middleware())
	}

	protected.GET("/status", s.handleStatus)
	protected.POST("/run", s.handleRun)
	protected.POST("/digest", s.handleDigest)

	protected.GET("/articles", s.handleListArticles)
	protected.DELETE("/articles/:id", s.handleDeleteArticle)

	protected.GET("/feeds", s.handleListFeeds)
	protected.POST("/feeds", s.handleAddFeed)
	protected.DELETE("/feeds", s.handleRemoveFeed)
	protected.PATCH("/feeds/:id", s.handleToggleFeed)

	protected.GET("/progress/state", s.handleProgressState)

	protected.GET("/telemetry/calls", s.handleTelemetryCalls)
	protected.GET("/telemetry/calls/:id", s.handleTelemetryCall)
	protected.GET("/telemetry/stats", s.handleTelemetryStats)
	protected.GET("/telemetry/sessions", s.handleTelemetrySessions)

	e.GET("/ws/logs", s.handleLogsWS)
	e.GET("/ws/progress", s.handleProgressWS)

	return e
}
