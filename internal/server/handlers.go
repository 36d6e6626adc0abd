package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pauldest/newsdigest/config"
	"github.com/pauldest/newsdigest/engine"
	"github.com/pauldest/newsdigest/internal/telemetry"
	"github.com/pauldest/newsdigest/models"
)

func (s *Server) handleStatus(c echo.Context) error {
	status := s.engine.Status()
	total, unsent, err := s.store.CountArticles(c.Request().Context())
	if err != nil {
		s.logger.Printf("article count failed: %v", err)
	}
	entities, aliases, mentions, relations, err := s.store.EntityStats(c.Request().Context())
	if err != nil {
		s.logger.Printf("entity stats failed: %v", err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"running":    status.Running,
		"last_error": status.LastError,
		"stats": map[string]any{
			"last_cycle":       status.LastStats,
			"articles_total":   total,
			"articles_unsent":  unsent,
			"entities":         entities,
			"entity_aliases":   aliases,
			"entity_mentions":  mentions,
			"entity_relations": relations,
		},
	})
}

type runRequest struct {
	Limit       int    `json:"limit"`
	DryRun      bool   `json:"dry_run"`
	Concurrency int    `json:"concurrency"`
	Mode        string `json:"mode"`
}

func (s *Server) handleRun(c echo.Context) error {
	var req runRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	opts := engine.RunOptions{
		Limit:       req.Limit,
		DryRun:      req.DryRun,
		Concurrency: req.Concurrency,
		Mode:        models.ParseAnalysisMode(req.Mode),
	}

	// One-shot runs are single flight; the engine owns the guard.
	started := make(chan error, 1)
	go func() {
		_, err := s.engine.TryRunCycle(context.Background(), opts)
		started <- err
	}()
	select {
	case err := <-started:
		if errors.Is(err, engine.ErrAlreadyRunning) {
			return echo.NewHTTPError(http.StatusBadRequest, "already running")
		}
		// Finished (or failed) faster than the handler; report started anyway.
	case <-time.After(100 * time.Millisecond):
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handleDigest(c echo.Context) error {
	var req struct {
		DryRun bool `json:"dry_run"`
	}
	_ = c.Bind(&req)

	started := make(chan error, 1)
	go func() {
		started <- s.engine.TryRunDigest(context.Background(), req.DryRun)
	}()
	select {
	case err := <-started:
		if errors.Is(err, engine.ErrAlreadyRunning) {
			return echo.NewHTTPError(http.StatusBadRequest, "already running")
		}
	case <-time.After(100 * time.Millisecond):
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handleListArticles(c echo.Context) error {
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	articles, err := s.store.ListArticles(c.Request().Context(), limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"articles": articles, "limit": limit, "offset": offset})
}

func (s *Server) handleDeleteArticle(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing article id")
	}
	if err := s.store.DeleteArticle(c.Request().Context(), id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListFeeds(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"feeds": s.feeds.List()})
}

func (s *Server) handleAddFeed(c echo.Context) error {
	var req struct {
		Name     string `json:"name"`
		URL      string `json:"url"`
		Category string `json:"category"`
	}
	if err := c.Bind(&req); err != nil || req.Name == "" || req.URL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name and url required")
	}
	if err := s.feeds.Add(req.Name, req.URL, req.Category); err != nil {
		if errors.Is(err, config.ErrDuplicateFeed) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return err
	}
	return c.JSON(http.StatusCreated, map[string]string{"status": "added"})
}

func (s *Server) handleRemoveFeed(c echo.Context) error {
	var req struct {
		Identifier string `json:"identifier"`
	}
	if err := c.Bind(&req); err != nil || req.Identifier == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "identifier required")
	}
	if err := s.feeds.Remove(req.Identifier); err != nil {
		if errors.Is(err, config.ErrFeedNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) handleToggleFeed(c echo.Context) error {
	identifier := c.Param("id")
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if err := s.feeds.SetEnabled(identifier, req.Enabled); err != nil {
		if errors.Is(err, config.ErrFeedNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleProgressState(c echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.Progress().State())
}

func (s *Server) handleTelemetryCalls(c echo.Context) error {
	q := telemetry.Query{
		SessionID: c.QueryParam("session_id"),
		AgentName: c.QueryParam("agent_name"),
		CallType:  c.QueryParam("call_type"),
		Limit:     intQuery(c, "limit", 100),
		Offset:    intQuery(c, "offset", 0),
	}
	if t := timeQuery(c, "start"); t != nil {
		q.Start = t
	}
	if t := timeQuery(c, "end"); t != nil {
		q.End = t
	}
	rows, err := s.recorder.Query(c.Request().Context(), q)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"calls": rows})
}

func (s *Server) handleTelemetryCall(c echo.Context) error {
	record, err := s.recorder.GetFull(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	if record == nil {
		return echo.NewHTTPError(http.StatusNotFound, "call not found")
	}
	return c.JSON(http.StatusOK, record)
}

func (s *Server) handleTelemetryStats(c echo.Context) error {
	q := telemetry.Query{SessionID: c.QueryParam("session_id")}
	if t := timeQuery(c, "start"); t != nil {
		q.Start = t
	}
	if t := timeQuery(c, "end"); t != nil {
		q.End = t
	}
	stats, err := s.recorder.Aggregate(c.Request().Context(), q)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleTelemetrySessions(c echo.Context) error {
	sessions, err := s.recorder.ListSessions(c.Request().Context(), intQuery(c, "limit", 20))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"sessions": sessions})
}

func intQuery(c echo.Context, name string, def int) int {
	if v := c.QueryParam(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func timeQuery(c echo.Context, name string) *time.Time {
	if v := c.QueryParam(name); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return &t
		}
	}
	return nil
}
