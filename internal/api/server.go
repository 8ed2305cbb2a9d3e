// Package api is the thin read-side HTTP/WebSocket glue over the combat
// core: a few handlers, not a product surface. Built on echo.Echo +
// gorilla/websocket, adapted from a chat protocol to a pull/push
// snapshot model.
package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/akzios/bpsr-tools-sub002/internal/combat"
)

// Server exposes the read-only combat surface over HTTP and WebSocket.
type Server struct {
	echo     *echo.Echo
	dispatch *combat.Dispatcher
	log      *zap.Logger
	ws       *wsHub
}

// NewServer builds a Server bound to dispatch. Call Start to listen.
func NewServer(dispatch *combat.Dispatcher, log *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		dispatch: dispatch,
		log:      log,
		ws:       newWSHub(dispatch, log),
	}

	e.GET("/snapshot", s.handleSnapshotAll)
	e.GET("/snapshot/skills/:uid", s.handleSnapshotSkills)
	e.GET("/snapshot/enemies", s.handleSnapshotEnemies)
	e.POST("/control", s.handleControl)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/ws", s.ws.handle)

	return s
}

// Start begins listening on addr. Blocks until the server stops or
// returns an error; call in a goroutine and stop via Shutdown.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleSnapshotAll(c echo.Context) error {
	return c.JSON(http.StatusOK, s.dispatch.Snapshot())
}

func (s *Server) handleSnapshotSkills(c echo.Context) error {
	uid, err := strconv.ParseUint(c.Param("uid"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid uid"})
	}

	return c.JSON(http.StatusOK, s.dispatch.SnapshotSkills(uid))
}

func (s *Server) handleSnapshotEnemies(c echo.Context) error {
	return c.JSON(http.StatusOK, s.dispatch.SnapshotEnemies())
}

// controlRequest is the control(op) request body:
// op ∈ {Clear, Pause, Resume, SetName}.
type controlRequest struct {
	Op   string `json:"op"`
	UID  uint64 `json:"uid"`
	Name string `json:"name"`
}

func (s *Server) handleControl(c echo.Context) error {
	var req controlRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	switch req.Op {
	case "Clear":
		s.dispatch.Clear()
	case "Pause":
		s.dispatch.Pause()
	case "Resume":
		s.dispatch.Resume()
	case "SetName":
		s.dispatch.SetName(req.UID, req.Name)
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown op"})
	}

	return c.NoContent(http.StatusNoContent)
}
