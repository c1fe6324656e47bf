package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/cwbudde/badger/internal/db"
	"github.com/cwbudde/badger/internal/routine"
	"github.com/cwbudde/badger/internal/runner"
	"github.com/cwbudde/badger/internal/store"
)

// Server represents the HTTP server
type Server struct {
	manager  *RunManager
	index    *db.SQLiteStore
	addr     string
	echo     *echo.Echo
	upgrader websocket.Upgrader
}

// NewServer creates a new HTTP server. index may be nil, in which case
// runs can only be started from an inline routine.
func NewServer(addr string, manager *RunManager, index *db.SQLiteStore) *Server {
	s := &Server{
		manager: manager,
		index:   index,
		addr:    addr,
		echo:    echo.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.CORS())
	s.echo.Use(loggingMiddleware)
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	e := s.echo
	e.GET("/health", s.handleHealth)

	api := e.Group("/api/v1")
	api.POST("/runs", s.handleCreateRun)
	api.GET("/runs", s.handleListRuns)
	api.GET("/runs/:id", s.handleGetRun)
	api.POST("/runs/:id/pause", s.handleControl("pause"))
	api.POST("/runs/:id/resume", s.handleControl("resume"))
	api.POST("/runs/:id/stop", s.handleControl("stop"))
	api.GET("/runs/:id/data", s.handleRunData)
	api.GET("/runs/:id/stream", s.handleRunStream)
	api.GET("/runs/:id/ws", s.handleRunWS)

	api.GET("/environments", s.handleEnvironments)
	api.GET("/generators", s.handleGenerators)
	api.GET("/routines", s.handleListRoutines)
	api.GET("/archive", s.handleListArchive)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server
func (s *Server) Start() error {
	slog.Info("Starting HTTP server", "addr", s.addr)
	err := s.echo.Start(s.addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown kills active runs and gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server")
	if err := s.manager.Shutdown(ctx); err != nil {
		slog.Warn("Runs did not finish before shutdown deadline", "error", err)
	}
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "healthy",
		"version": routine.Version,
		"active":  len(s.manager.ActiveRuns()),
	})
}

// createRunRequest is the body of POST /api/v1/runs. Exactly one of
// RoutineYAML and RoutineID must be set.
type createRunRequest struct {
	RoutineYAML       string  `json:"routine_yaml"`
	RoutineID         string  `json:"routine_id"` // saved routine id or name
	MaxEval           int     `json:"max_eval"`
	MaxTime           float64 `json:"max_time"`
	Save              bool    `json:"save"`
	KeepData          bool    `json:"keep_data"`
	SkipInitialPoints bool    `json:"skip_initial_points"`
	Record            bool    `json:"record"`
}

// handleCreateRun handles POST /api/v1/runs
func (s *Server) handleCreateRun(c echo.Context) error {
	var req createRunRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid request body")
	}

	doc, err := s.resolveRoutine(c.Request().Context(), req)
	if err != nil {
		return err
	}

	start := StartRequest{
		Routine:           doc,
		Save:              req.Save,
		KeepData:          req.KeepData,
		SkipInitialPoints: req.SkipInitialPoints,
		Record:            req.Record,
	}
	if req.MaxEval > 0 || req.MaxTime > 0 {
		start.Termination = &runner.TerminationCondition{MaxEval: req.MaxEval, MaxTime: req.MaxTime}
	}

	// The run outlives the request.
	run, err := s.manager.StartRun(context.Background(), start)
	switch {
	case errors.Is(err, ErrBadRoutine):
		return jsonError(c, http.StatusBadRequest, err.Error())
	case err != nil:
		slog.Error("Failed to start run", "error", err)
		return jsonError(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, run.Status())
}

func (s *Server) resolveRoutine(ctx context.Context, req createRunRequest) (routine.Document, error) {
	switch {
	case req.RoutineYAML != "" && req.RoutineID != "":
		return routine.Document{}, echo.NewHTTPError(http.StatusBadRequest, "routine_yaml and routine_id are mutually exclusive")
	case req.RoutineYAML != "":
		doc, err := routine.Parse([]byte(req.RoutineYAML))
		if err != nil {
			return routine.Document{}, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid routine: %v", err))
		}
		return doc, nil
	case req.RoutineID != "":
		if s.index == nil {
			return routine.Document{}, echo.NewHTTPError(http.StatusBadRequest, "no routine database configured")
		}
		doc, err := s.index.GetRoutine(ctx, req.RoutineID)
		if errors.Is(err, db.ErrRoutineNotFound) {
			return routine.Document{}, echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		if err != nil {
			return routine.Document{}, err
		}
		return *doc, nil
	}
	return routine.Document{}, echo.NewHTTPError(http.StatusBadRequest, "routine_yaml or routine_id is required")
}

// handleListRuns handles GET /api/v1/runs
func (s *Server) handleListRuns(c echo.Context) error {
	runs := s.manager.ListRuns()
	out := make([]runner.Status, len(runs))
	for i, r := range runs {
		out[i] = r.Status()
	}
	return c.JSON(http.StatusOK, out)
}

// handleGetRun handles GET /api/v1/runs/:id
func (s *Server) handleGetRun(c echo.Context) error {
	run, err := s.lookup(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run.Status())
}

// handleRunData handles GET /api/v1/runs/:id/data
func (s *Server) handleRunData(c echo.Context) error {
	run, err := s.lookup(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run.Controller().Data())
}

func (s *Server) handleControl(action string) echo.HandlerFunc {
	return func(c echo.Context) error {
		run, err := s.lookup(c)
		if err != nil {
			return err
		}
		switch err := s.control(run, action); {
		case errors.Is(err, runner.ErrNotRunning):
			return jsonError(c, http.StatusConflict, err.Error())
		case err != nil:
			return jsonError(c, http.StatusBadRequest, err.Error())
		}
		return c.JSON(http.StatusOK, run.Status())
	}
}

// control applies a pause, resume or stop request to a run.
func (s *Server) control(run *Run, action string) error {
	ctrl := run.Controller()
	switch action {
	case "pause":
		return ctrl.Pause()
	case "resume":
		return ctrl.Resume()
	case "stop":
		return ctrl.Stop()
	}
	return fmt.Errorf("unknown action %q", action)
}

func (s *Server) handleEnvironments(c echo.Context) error {
	return c.JSON(http.StatusOK, s.manager.Registry().Environments.Names())
}

func (s *Server) handleGenerators(c echo.Context) error {
	return c.JSON(http.StatusOK, s.manager.Registry().Generators.Names())
}

// handleListRoutines handles GET /api/v1/routines?environment=
func (s *Server) handleListRoutines(c echo.Context) error {
	if s.index == nil {
		return c.JSON(http.StatusOK, []db.RoutineInfo{})
	}
	routines, err := s.index.ListRoutines(c.Request().Context(), c.QueryParam("environment"))
	if err != nil {
		slog.Error("Failed to list routines", "error", err)
		return jsonError(c, http.StatusInternalServerError, "failed to list routines")
	}
	if routines == nil {
		routines = []db.RoutineInfo{}
	}
	return c.JSON(http.StatusOK, routines)
}

// handleListArchive handles GET /api/v1/archive
func (s *Server) handleListArchive(c echo.Context) error {
	archive := s.manager.deps.Archive
	if archive == nil {
		return c.JSON(http.StatusOK, []store.RunInfo{})
	}
	runs, err := archive.ListRuns()
	if err != nil {
		slog.Error("Failed to list archive", "error", err)
		return jsonError(c, http.StatusInternalServerError, "failed to list archive")
	}
	if runs == nil {
		runs = []store.RunInfo{}
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) lookup(c echo.Context) (*Run, error) {
	id := c.Param("id")
	run, ok := s.manager.GetRun(id)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("%v: %s", ErrRunNotFound, id))
	}
	return run, nil
}

func jsonError(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]string{"error": msg})
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		req := c.Request()
		slog.Debug("HTTP request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", c.Response().Status,
			"duration", time.Since(start))
		return err
	}
}
