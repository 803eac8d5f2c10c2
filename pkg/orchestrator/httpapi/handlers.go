// Package httpapi exposes the orchestrator's admin surface — provisioning,
// deprovisioning, agent runs, pipeline triggers, CronJob sync, and routing
// resolution — following the bind-validate-call-map pattern pkg/api's
// handlers use.
package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/incidentfox/ifox-core/pkg/configclient"
	"github.com/incidentfox/ifox-core/pkg/orchestrator"
	"github.com/incidentfox/ifox-core/pkg/routing"
)

// RunIDHeader carries the provisioning run id on every provisioning
// response, success or error, so a caller can always poll the run.
const RunIDHeader = "X-Ifox-Provisioning-Run-Id"

// Handlers binds the orchestrator and its collaborators to echo routes.
type Handlers struct {
	orch      *orchestrator.Orchestrator
	agents    *orchestrator.AgentRunner
	lister    orchestrator.TeamLister
	config    orchestrator.ConfigPatcher
	cronRecon orchestrator.CronJobReconciler
	pipeline  orchestrator.PipelineRunner
	revoker   orchestrator.TokenRevoker
	index     routing.Index
}

// New creates the admin HTTP handlers. cronRecon and pipeline may be nil
// when the server runs without Kubernetes access; the corresponding
// endpoints then answer 503.
func New(orch *orchestrator.Orchestrator, agents *orchestrator.AgentRunner, lister orchestrator.TeamLister, config orchestrator.ConfigPatcher, cronRecon orchestrator.CronJobReconciler, pipeline orchestrator.PipelineRunner, revoker orchestrator.TokenRevoker, index routing.Index) *Handlers {
	return &Handlers{
		orch:      orch,
		agents:    agents,
		lister:    lister,
		config:    config,
		cronRecon: cronRecon,
		pipeline:  pipeline,
		revoker:   revoker,
		index:     index,
	}
}

// Register wires the admin routes onto g, typically the "/api/v1/admin"
// group already guarded by admin auth middleware.
func (h *Handlers) Register(g *echo.Group) {
	g.POST("/provision/team", h.provisionTeam)
	g.GET("/provision/runs/:id", h.getProvisionRun)
	g.POST("/deprovision/team", h.deprovisionTeam)
	g.POST("/agents/run", h.runAgent)
	g.POST("/pipeline/trigger", h.triggerPipeline)
	g.POST("/teams/sync-cronjobs", h.syncCronJobs)
	g.POST("/routing/resolve", h.resolveRoute)
}

type provisionRequest struct {
	Org              string   `json:"org"`
	Team             string   `json:"team"`
	ChannelIDs       []string `json:"channel_ids"`
	IdempotencyKey   string   `json:"idempotency_key,omitempty"`
	PipelineSchedule string   `json:"pipeline_schedule,omitempty"`
	DeploymentMode   string   `json:"deployment_mode,omitempty"`
}

type provisionResponse struct {
	RunID               string         `json:"run_id"`
	Status              string         `json:"status"`
	Steps               map[string]any `json:"steps"`
	Replayed            bool           `json:"replayed,omitempty"`
	TeamToken           string         `json:"team_token,omitempty"`
	PipelineBootstrap   string         `json:"pipeline_bootstrap,omitempty"`
	PipelineCronJob     string         `json:"pipeline_cronjob,omitempty"`
	DedicatedDeployment string         `json:"dedicated_deployment,omitempty"`
	Error               string         `json:"error,omitempty"`
}

func (h *Handlers) provisionTeam(c *echo.Context) error {
	var req provisionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Org == "" || req.Team == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "org and team are required")
	}
	mode := orchestrator.DeploymentMode(req.DeploymentMode)
	switch mode {
	case "", orchestrator.ModeShared, orchestrator.ModeDedicated:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "deployment_mode must be 'shared' or 'dedicated'")
	}

	result, err := h.orch.Provision(c.Request().Context(), &orchestrator.ProvisionRequest{
		Org:              req.Org,
		Team:             req.Team,
		ChannelIDs:       req.ChannelIDs,
		IdempotencyKey:   req.IdempotencyKey,
		PipelineSchedule: req.PipelineSchedule,
		DeploymentMode:   mode,
	})
	if result != nil && result.Run != nil {
		c.Response().Header().Set(RunIDHeader, result.Run.ID)
	}
	if err != nil {
		return h.mapError(err, result)
	}
	return c.JSON(http.StatusOK, toProvisionResponse(result))
}

func (h *Handlers) getProvisionRun(c *echo.Context) error {
	run, err := h.orch.GetRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.mapError(err, nil)
	}
	c.Response().Header().Set(RunIDHeader, run.ID)
	return c.JSON(http.StatusOK, &provisionResponse{
		RunID:  run.ID,
		Status: string(run.Status),
		Steps:  run.Steps,
		Error:  derefString(run.Error),
	})
}

type deprovisionRequest struct {
	Org                string `json:"org"`
	Team               string `json:"team"`
	DeleteK8sResources bool   `json:"delete_k8s_resources"`
	DryRun             bool   `json:"dry_run"`
}

func (h *Handlers) deprovisionTeam(c *echo.Context) error {
	var req deprovisionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Org == "" || req.Team == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "org and team are required")
	}

	result, err := h.orch.Deprovision(c.Request().Context(), &orchestrator.DeprovisionRequest{
		Org:                req.Org,
		Team:               req.Team,
		DeleteK8sResources: req.DeleteK8sResources,
		DryRun:             req.DryRun,
	}, h.revoker)
	if err != nil {
		return h.mapError(err, nil)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handlers) runAgent(c *echo.Context) error {
	var req orchestrator.AgentRunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Org == "" || req.Team == "" || req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "org, team, and message are required")
	}

	resp, err := h.agents.Run(c.Request().Context(), &req)
	if err != nil {
		return h.mapError(err, nil)
	}
	return c.JSON(http.StatusOK, resp)
}

type pipelineTriggerRequest struct {
	Org  string `json:"org"`
	Team string `json:"team"`
}

func (h *Handlers) triggerPipeline(c *echo.Context) error {
	var req pipelineTriggerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Org == "" || req.Team == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "org and team are required")
	}

	jobName, err := h.orch.TriggerPipeline(c.Request().Context(), h.pipeline, req.Org, req.Team)
	if err != nil {
		return h.mapError(err, nil)
	}
	return c.JSON(http.StatusOK, map[string]string{"job": jobName, "status": "started"})
}

func (h *Handlers) syncCronJobs(c *echo.Context) error {
	result, err := h.orch.SyncCronJobs(c.Request().Context(), h.lister, h.config, h.cronRecon)
	if err != nil {
		return h.mapError(err, nil)
	}
	return c.JSON(http.StatusOK, result)
}

type resolveRequest struct {
	Org         string            `json:"org,omitempty"`
	Identifiers map[string]string `json:"identifiers"`
}

type resolveResponse struct {
	Found        bool     `json:"found"`
	Org          string   `json:"org,omitempty"`
	Team         string   `json:"team,omitempty"`
	MatchedBy    string   `json:"matched_by,omitempty"`
	MatchedValue string   `json:"matched_value,omitempty"`
	Tried        []string `json:"tried"`
}

func (h *Handlers) resolveRoute(c *echo.Context) error {
	var req resolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Identifiers) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "identifiers are required")
	}

	identifiers := make(map[routing.Kind]string, len(req.Identifiers))
	for k, v := range req.Identifiers {
		identifiers[routing.Kind(k)] = v
	}

	result, err := routing.Lookup(c.Request().Context(), h.index, routing.Query{Org: req.Org, Identifiers: identifiers})
	if err != nil {
		return h.mapError(err, nil)
	}
	return c.JSON(http.StatusOK, toResolveResponse(req.Org, result))
}

func toResolveResponse(scopeOrg string, result routing.Result) *resolveResponse {
	tried := make([]string, len(result.Tried))
	for i, k := range result.Tried {
		tried[i] = string(k)
	}
	org := result.Org
	if org == "" {
		org = scopeOrg
	}
	return &resolveResponse{
		Found:        result.Found,
		Org:          org,
		Team:         result.Team,
		MatchedBy:    string(result.MatchedBy),
		MatchedValue: result.MatchedValue,
		Tried:        tried,
	}
}

func toProvisionResponse(result *orchestrator.ProvisionResult) *provisionResponse {
	run := result.Run
	return &provisionResponse{
		RunID:               run.ID,
		Status:              string(run.Status),
		Steps:               run.Steps,
		Replayed:            result.Replayed,
		TeamToken:           result.TeamToken,
		PipelineBootstrap:   result.PipelineBootstrap,
		PipelineCronJob:     result.PipelineCronJob,
		DedicatedDeployment: result.DedicatedServiceURL,
		Error:               derefString(run.Error),
	}
}

// mapError translates orchestrator/upstream errors into the spec's status
// taxonomy. A partial provisioning failure still carries the run snapshot
// so callers can see which step to retry.
func (h *Handlers) mapError(err error, result *orchestrator.ProvisionResult) *echo.HTTPError {
	var upstream *configclient.UpstreamError
	switch {
	case errors.Is(err, orchestrator.ErrNotLicensed):
		return echo.NewHTTPError(http.StatusForbidden, "team cap reached, provisioning not licensed")
	case errors.Is(err, orchestrator.ErrInvalidSchedule):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, orchestrator.ErrRunNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "provisioning run not found")
	case errors.Is(err, orchestrator.ErrReconcilerUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "kubernetes reconciler is not configured")
	case errors.As(err, &upstream):
		if result != nil && result.Run != nil {
			return echo.NewHTTPError(http.StatusBadGateway, toProvisionResponse(result))
		}
		return echo.NewHTTPError(http.StatusBadGateway, "upstream service failure")
	}
	if result != nil && result.Run != nil {
		// A step failed partway through; surface the partial result rather
		// than only the terminal error, so the caller can see which step
		// to retry.
		return echo.NewHTTPError(http.StatusInternalServerError, toProvisionResponse(result))
	}
	slog.Error("orchestrator request failed", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal_error")
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
