package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/incidentfox/ifox-core/pkg/database"
	"github.com/incidentfox/ifox-core/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health.
// Returns a minimal, safe response suitable for unauthenticated access.
// Only ifox's own database is checked. External dependencies (MCP servers,
// the LLM proxy's upstreams) are excluded to prevent the orchestrator from
// restarting ifox when an external service is unhealthy.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	_, err := database.Health(reqCtx, s.dbClient.DB())
	if err != nil {
		status = healthStatusUnhealthy
		checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
	} else {
		checks["database"] = HealthCheck{Status: healthStatusHealthy}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	resp := &HealthResponse{
		Status:  status,
		Version: version.GitCommit,
		Checks:  checks,
	}
	if s.licenseSummary != nil {
		resp.License = s.licenseSummary(reqCtx)
	}

	return c.JSON(httpStatus, resp)
}
