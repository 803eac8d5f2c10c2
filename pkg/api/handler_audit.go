package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/incidentfox/ifox-core/pkg/models"
)

// submitFeedbackHandler handles POST /api/v1/runs/:id/feedback.
func (s *Server) submitFeedbackHandler(c *echo.Context) error {
	runID := c.Param("id")
	if runID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "run id is required")
	}

	var req models.CreateFeedbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.RunID = runID

	fb, err := s.auditService.RecordFeedback(c.Request().Context(), req)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, fb)
}

// listPendingChangesHandler handles GET /api/v1/pending-changes.
func (s *Server) listPendingChangesHandler(c *echo.Context) error {
	org := c.QueryParam("org")
	if org == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "org is required")
	}
	node := c.QueryParam("node")

	changes, err := s.auditService.ListPendingChanges(c.Request().Context(), org, node)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"pending_changes": changes})
}

// proposeChangeHandler handles POST /api/v1/pending-changes.
func (s *Server) proposeChangeHandler(c *echo.Context) error {
	var req models.CreatePendingChangeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	change, err := s.auditService.ProposeChange(c.Request().Context(), req)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, change)
}

// resolveChangeHandler handles POST /api/v1/pending-changes/:id/resolve.
func (s *Server) resolveChangeHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "change id is required")
	}

	var body struct {
		Approve bool `json:"approve"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	change, err := s.auditService.ResolveChange(c.Request().Context(), id, body.Approve)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, change)
}
