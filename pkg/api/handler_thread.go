package api

import (
	"context"
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/incidentfox/ifox-core/pkg/agentsession"
	"github.com/incidentfox/ifox-core/pkg/session"
)

// SetThreadManager wires the interactive thread-session manager and
// registers its routes. Like SetDashboardDir, this must run after
// NewServer so the fixed API routes are already in place.
func (s *Server) SetThreadManager(m *session.Manager) {
	s.threadManager = m

	v1 := s.echo.Group("/api/v1")
	v1.GET("/threads", s.listThreadsHandler)
	v1.GET("/threads/:thread_id", s.getThreadHandler)
	v1.POST("/threads/:thread_id/messages", s.postThreadMessageHandler)
	v1.POST("/threads/:thread_id/answers", s.postThreadAnswersHandler)
	v1.POST("/threads/:thread_id/interrupt", s.interruptThreadHandler)
	v1.DELETE("/threads/:thread_id", s.closeThreadHandler)
}

func (s *Server) listThreadsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"threads": s.threadManager.List()})
}

func (s *Server) getThreadHandler(c *echo.Context) error {
	info, ok := s.threadManager.Get(c.Param("thread_id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "thread not found")
	}
	return c.JSON(http.StatusOK, info)
}

type threadMessageRequest struct {
	Prompt string   `json:"prompt"`
	Images []string `json:"images,omitempty"`
}

func (s *Server) postThreadMessageHandler(c *echo.Context) error {
	threadID := c.Param("thread_id")

	var req threadMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Prompt == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "prompt is required")
	}

	// The turn outlives this request; progress streams over the thread's
	// event channel, so the context deliberately isn't the request's.
	err := s.threadManager.Execute(context.Background(), threadID, req.Prompt, req.Images)
	if err != nil {
		return mapThreadError(err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"thread_id": threadID, "status": "executing"})
}

type threadAnswersRequest struct {
	Answers []agentsession.Answer `json:"answers"`
}

func (s *Server) postThreadAnswersHandler(c *echo.Context) error {
	threadID := c.Param("thread_id")

	var req threadAnswersRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Answers) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "answers are required")
	}

	if !s.threadManager.Answer(threadID, req.Answers) {
		return echo.NewHTTPError(http.StatusConflict, "no question is pending on this thread")
	}
	return c.JSON(http.StatusOK, map[string]string{"thread_id": threadID, "status": "answered"})
}

func (s *Server) interruptThreadHandler(c *echo.Context) error {
	threadID := c.Param("thread_id")
	if !s.threadManager.Interrupt(threadID) {
		return echo.NewHTTPError(http.StatusNotFound, "thread not found")
	}
	return c.JSON(http.StatusOK, map[string]string{"thread_id": threadID, "status": "interrupted"})
}

func (s *Server) closeThreadHandler(c *echo.Context) error {
	s.threadManager.Close(c.Param("thread_id"))
	return c.NoContent(http.StatusNoContent)
}

func mapThreadError(err error) *echo.HTTPError {
	if errors.Is(err, session.ErrThreadBusy) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
