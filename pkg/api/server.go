// Package api provides HTTP API handlers for ifox.
package api

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/incidentfox/ifox-core/pkg/config"
	"github.com/incidentfox/ifox-core/pkg/database"
	"github.com/incidentfox/ifox-core/pkg/events"
	"github.com/incidentfox/ifox-core/pkg/mcp"
	"github.com/incidentfox/ifox-core/pkg/services"
	"github.com/incidentfox/ifox-core/pkg/session"
)

// Server is the HTTP API server.
type Server struct {
	echo           *echo.Echo
	httpServer     *http.Server
	cfg            *config.Config
	dbClient       *database.Client
	runService     *services.RunService
	connManager    *events.ConnectionManager
	healthMonitor  *mcp.HealthMonitor              // nil if MCP disabled
	warningService *services.SystemWarningsService // nil if MCP disabled
	auditService   *services.AuditService          // nil until set (feedback/pending-change endpoints)
	threadManager  *session.Manager                // nil until set (interactive thread endpoints)
	dashboardDir   string                          // path to dashboard build dir (empty = no static serving)

	// licenseSummary, when set, contributes the orchestrator's license
	// state to /health.
	licenseSummary func(ctx context.Context) map[string]any
}

// NewServer creates a new API server with Echo v5.
func NewServer(
	cfg *config.Config,
	dbClient *database.Client,
	runService *services.RunService,
	connManager *events.ConnectionManager,
) *Server {
	e := echo.New()

	s := &Server{
		echo:        e,
		cfg:         cfg,
		dbClient:    dbClient,
		runService:  runService,
		connManager: connManager,
	}

	s.setupRoutes()
	return s
}

// Echo exposes the underlying router so other components (the orchestrator's
// admin surface, the SSE command gateway) can mount additional route groups
// onto the same listener instead of standing up their own.
func (s *Server) Echo() *echo.Echo { return s.echo }

// SetHealthMonitor sets the MCP health monitor for the health endpoint.
func (s *Server) SetHealthMonitor(monitor *mcp.HealthMonitor) {
	s.healthMonitor = monitor
}

// SetWarningsService sets the system warnings service for the health endpoint.
func (s *Server) SetWarningsService(svc *services.SystemWarningsService) {
	s.warningService = svc
}

// SetAuditService sets the audit service for feedback and pending-change endpoints.
func (s *Server) SetAuditService(svc *services.AuditService) {
	s.auditService = svc
}

// SetLicenseSummary wires the orchestrator's license state into /health.
func (s *Server) SetLicenseSummary(fn func(ctx context.Context) map[string]any) {
	s.licenseSummary = fn
}

// SetDashboardDir sets the path to the dashboard build directory and
// registers static file serving routes. When set and the directory
// contains an index.html, assets are served from /assets/* and a SPA
// fallback is registered for all non-API routes.
//
// Must be called after NewServer (which registers API routes first)
// so that API routes take priority over the wildcard SPA fallback.
func (s *Server) SetDashboardDir(dir string) {
	s.dashboardDir = dir
	s.setupDashboardRoutes()
}

// ValidateWiring checks that all required services have been wired via their
// Set* methods. Call this after all Set* calls and before Start/StartWithListener.
// Returns an error listing every missing service so that wiring gaps are caught
// at startup rather than surfacing as 503s at request time.
//
// Services that are legitimately optional (e.g. healthMonitor / warningService
// when MCP is disabled) are NOT checked here.
func (s *Server) ValidateWiring() error {
	var errs []error
	if s.runService == nil {
		errs = append(errs, fmt.Errorf("runService not set (pass to NewServer)"))
	}
	if s.auditService == nil {
		errs = append(errs, fmt.Errorf("auditService not set (call SetAuditService)"))
	}
	if s.threadManager == nil {
		errs = append(errs, fmt.Errorf("threadManager not set (call SetThreadManager)"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("server wiring incomplete: %w", errors.Join(errs...))
	}
	return nil
}

// setupRoutes registers all API routes.
func (s *Server) setupRoutes() {
	// Server-wide body size limit (2 MB): rejects multi-MB/GB payloads at
	// the HTTP read level before deserialization.
	s.echo.Use(middleware.BodyLimit(2 * 1024 * 1024))

	// Every response carries X-Request-Id so typed errors are traceable in
	// the logs.
	s.echo.Use(middleware.RequestID())
	s.echo.Use(securityHeaders())

	// Health check
	s.echo.GET("/health", s.healthHandler)

	// API v1
	v1 := s.echo.Group("/api/v1")

	// Agent-run audit surface (static paths before :id param).
	v1.GET("/runs", s.listRunsHandler)
	v1.GET("/runs/:id", s.getRunHandler)
	v1.POST("/runs/:id/feedback", s.submitFeedbackHandler)

	// Pending-change review (operator approval workflow).
	v1.GET("/pending-changes", s.listPendingChangesHandler)
	v1.POST("/pending-changes", s.proposeChangeHandler)
	v1.POST("/pending-changes/:id/resolve", s.resolveChangeHandler)

	// System endpoints.
	v1.GET("/system/warnings", s.systemWarningsHandler)
	v1.GET("/system/mcp-servers", s.mcpServersHandler)
	v1.GET("/system/default-tools", s.defaultToolsHandler)

	// WebSocket endpoint for real-time event streaming, under /api/v1 so
	// all sensitive endpoints share a single oauth2-proxy auth rule (/api/*).
	v1.GET("/ws", s.wsHandler)

	// Interactive thread routes are registered by SetThreadManager, and
	// dashboard static file serving via SetDashboardDir(), both called
	// after NewServer so API routes take priority over the SPA fallback.
}

// setupDashboardRoutes registers static file serving for the dashboard build
// directory. When dashboardDir is set and contains an index.html, Vite-built
// assets are served from /assets/* and all other non-API paths fall back to
// index.html (SPA routing).
//
// Cache headers:
//   - /assets/* — immutable (1 year): Vite-built files include content hashes
//     in their filenames, so aggressive caching is safe.
//   - index.html and other root files — no-cache: forces browser revalidation
//     on every visit so new asset hashes are picked up after deployments.
//
// Uses os.DirFS to create an fs.FS rooted at the dashboard directory, because
// Echo v5's c.File() resolves paths against its internal Filesystem (os.DirFS("."))
// and cannot handle absolute paths. c.FileFS() with an explicit filesystem works
// correctly regardless of the dashboard directory location.
func (s *Server) setupDashboardRoutes() {
	if s.dashboardDir == "" {
		return
	}

	indexPath := filepath.Join(s.dashboardDir, "index.html")
	if _, err := os.Stat(indexPath); os.IsNotExist(err) {
		slog.Warn("Dashboard directory set but index.html not found — skipping static serving",
			"dir", s.dashboardDir)
		return
	}

	slog.Info("Serving dashboard from disk", "dir", s.dashboardDir)

	dashFS := os.DirFS(s.dashboardDir)

	// Serve hashed Vite assets (JS, CSS, images) from /assets/ with immutable
	// caching. Filenames include content hashes so aggressive caching is safe.
	assetsFS, err := fs.Sub(dashFS, "assets")
	if err == nil {
		s.echo.GET("/assets/*", func(c *echo.Context) error {
			c.Response().Header().Set("Cache-Control", "public, max-age=31536000, immutable")
			return c.FileFS(c.Param("*"), assetsFS)
		})
	}

	// SPA fallback: all other non-API, non-health, non-ws paths serve index.html.
	// This allows React Router to handle client-side routing.
	// All responses use no-cache so browsers revalidate after deployments.
	s.echo.GET("/*", func(c *echo.Context) error {
		path := c.Request().URL.Path

		// API and health routes are handled by earlier registrations.
		// This is a safety check — shouldn't normally be reached for these.
		if strings.HasPrefix(path, "/api/") || path == "/health" {
			return echo.NewHTTPError(http.StatusNotFound, "not found")
		}

		c.Response().Header().Set("Cache-Control", "no-cache")

		// Try to serve the exact file first (e.g., /favicon.ico, /robots.txt)
		relPath := strings.TrimPrefix(path, "/")
		if relPath != "" {
			if info, statErr := fs.Stat(dashFS, relPath); statErr == nil && !info.IsDir() {
				return c.FileFS(relPath, dashFS)
			}
		}

		// Fall back to index.html for SPA routing
		return c.FileFS("index.html", dashFS)
	})
}

// Start starts the HTTP server on the given address (non-blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.echo,
	}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener.
// Used by test infrastructure to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
