package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/incidentfox/ifox-core/pkg/models"
)

// listRunsHandler handles GET /api/v1/runs.
// Optional query params: org, team, status, limit, offset.
func (s *Server) listRunsHandler(c *echo.Context) error {
	filter := models.ListRunsFilter{
		Org:    c.QueryParam("org"),
		Team:   c.QueryParam("team"),
		Status: c.QueryParam("status"),
	}
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		filter.Limit = n
	}
	if raw := c.QueryParam("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid offset")
		}
		filter.Offset = n
	}
	switch filter.Status {
	case "", "running", "completed", "failed", "timeout":
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
	}

	runs, err := s.runService.ListRuns(c.Request().Context(), filter)
	if err != nil {
		return mapServiceError(err)
	}
	total, err := s.runService.CountRuns(c.Request().Context(), filter)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, echo.Map{"runs": runs, "total": total})
}

// getRunHandler handles GET /api/v1/runs/:id.
func (s *Server) getRunHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "run id is required")
	}

	run, err := s.runService.GetRun(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, run)
}
