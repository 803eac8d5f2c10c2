package orchestrator

import (
	"context"
	"fmt"

	"github.com/incidentfox/ifox-core/ent"
	"github.com/incidentfox/ifox-core/pkg/configclient"
	"github.com/incidentfox/ifox-core/pkg/routing"
)

// ConfigPatcher is the subset of configclient.Client the provisioning
// steps need: patching the team node and reading the merged result back.
type ConfigPatcher interface {
	GetEffectiveConfig(ctx context.Context, org, team string) (*configclient.TeamConfig, error)
	PatchTeamConfig(ctx context.Context, org, team string, patch map[string]any) error
}

// configPatchStep merges the request's {routing, ai_pipeline} object into
// the team node via the Config Client, then mirrors the merged routing
// identifiers into the TeamRoute table so in-cluster lookups never call
// out to the config service on the hot path.
type configPatchStep struct {
	config ConfigPatcher
	client *ent.Client
}

func NewConfigPatchStep(config ConfigPatcher, client *ent.Client) Step {
	return &configPatchStep{config: config, client: client}
}

func (s *configPatchStep) Name() StepName { return StepConfigPatch }

func (s *configPatchStep) Run(ctx context.Context, req *ProvisionRequest, _ *ProvisionResult) (StepResult, error) {
	patch := map[string]any{
		"routing": map[string]any{
			"slack_channel_ids": req.ChannelIDs,
		},
	}
	if req.PipelineSchedule != "" {
		patch["ai_pipeline"] = map[string]any{
			"enabled":  true,
			"schedule": req.PipelineSchedule,
		}
	}
	if err := s.config.PatchTeamConfig(ctx, req.Org, req.Team, patch); err != nil {
		return StepResult{}, fmt.Errorf("patch team config: %w", err)
	}

	cfg, err := s.config.GetEffectiveConfig(ctx, req.Org, req.Team)
	if err != nil {
		return StepResult{}, fmt.Errorf("fetch effective config: %w", err)
	}

	indices := map[routing.Kind][]string{
		routing.KindIncidentioTeamID:        cfg.Routing.IncidentioTeamIDs,
		routing.KindPagerdutyServiceID:      cfg.Routing.PagerdutyServiceIDs,
		routing.KindSlackChannelID:          cfg.Routing.SlackChannelIDs,
		routing.KindGithubRepo:              cfg.Routing.GithubRepos,
		routing.KindCoralogixTeamName:       cfg.Routing.CoralogixTeamNames,
		routing.KindIncidentioAlertSourceID: cfg.Routing.IncidentioAlertSourceIDs,
		routing.KindService:                 cfg.Routing.Services,
	}

	if err := routing.ReplaceTeamRoutes(ctx, s.client, req.Org, req.Team, indices); err != nil {
		return StepResult{}, fmt.Errorf("replace team routes: %w", err)
	}

	total := 0
	for _, v := range indices {
		total += len(v)
	}
	return StepResult{OK: true, Details: map[string]any{"routes_written": total}}, nil
}

// slackChannelMapStep records that the channel set was already merged by
// config_patch. The Config Service is the source of truth for the
// channel-to-team mapping; no local row is written here.
type slackChannelMapStep struct{}

func NewSlackChannelMapStep() Step { return &slackChannelMapStep{} }

func (s *slackChannelMapStep) Name() StepName { return StepSlackChannelMap }

func (s *slackChannelMapStep) Run(_ context.Context, req *ProvisionRequest, _ *ProvisionResult) (StepResult, error) {
	return StepResult{OK: true, Details: map[string]any{"channels": len(req.ChannelIDs)}}, nil
}

// TokenIssuer mints the long-lived team token used by the in-cluster agent
// to call back into the control plane.
type TokenIssuer interface {
	IssueImpersonationToken(ctx context.Context, org, team string, scopes ...string) (*configclient.ImpersonationToken, error)
}

// TeamTokenStore persists the hash of the minted token and reports whether
// a team already holds a non-revoked one.
type TeamTokenStore interface {
	HasActiveToken(ctx context.Context, org, team string) (bool, error)
	StoreTeamToken(ctx context.Context, org, team, token string) error
}

type teamTokenStep struct {
	issuer TokenIssuer
	store  TeamTokenStore
}

func NewTeamTokenStep(issuer TokenIssuer, store TeamTokenStore) Step {
	return &teamTokenStep{issuer: issuer, store: store}
}

func (s *teamTokenStep) Name() StepName { return StepTeamToken }

// Run mints a token only if the team has none yet. The raw token value goes
// into res (returned once, in this response) — never into the persisted
// step details.
func (s *teamTokenStep) Run(ctx context.Context, req *ProvisionRequest, res *ProvisionResult) (StepResult, error) {
	has, err := s.store.HasActiveToken(ctx, req.Org, req.Team)
	if err != nil {
		return StepResult{}, fmt.Errorf("check existing team token: %w", err)
	}
	if has {
		return StepResult{OK: true, Details: map[string]any{"created": false}}, nil
	}

	tok, err := s.issuer.IssueImpersonationToken(ctx, req.Org, req.Team, "agent:run", "gateway:connect")
	if err != nil {
		return StepResult{}, fmt.Errorf("issue team token: %w", err)
	}
	if err := s.store.StoreTeamToken(ctx, req.Org, req.Team, tok.Token); err != nil {
		return StepResult{}, fmt.Errorf("store team token: %w", err)
	}
	res.TeamToken = tok.Token
	return StepResult{OK: true, Details: map[string]any{"created": true, "expires_at": tok.ExpiresAt}}, nil
}

// BootstrapTrigger starts the asynchronous pipeline bootstrap and returns
// its run handle without waiting for it.
type BootstrapTrigger interface {
	TriggerBootstrap(ctx context.Context, org, team string) (runID string, err error)
}

type bootstrapStep struct{ trigger BootstrapTrigger }

func NewBootstrapStep(trigger BootstrapTrigger) Step { return &bootstrapStep{trigger: trigger} }

func (s *bootstrapStep) Name() StepName { return StepBootstrap }

func (s *bootstrapStep) Run(ctx context.Context, req *ProvisionRequest, res *ProvisionResult) (StepResult, error) {
	runID, err := s.trigger.TriggerBootstrap(ctx, req.Org, req.Team)
	if err != nil {
		return StepResult{}, fmt.Errorf("trigger pipeline bootstrap: %w", err)
	}
	res.PipelineBootstrap = runID
	return StepResult{OK: true, Details: map[string]any{"run_id": runID}}, nil
}

// CronJobReconciler reconciles a team's scheduled CronJob of a given kind
// against the desired schedule.
type CronJobReconciler interface {
	ReconcileCronJob(ctx context.Context, org, team, kind, schedule string, enabled bool) (name string, err error)
}

type pipelineCronJobStep struct {
	reconciler CronJobReconciler
}

func NewPipelineCronJobStep(reconciler CronJobReconciler) Step {
	return &pipelineCronJobStep{reconciler: reconciler}
}

func (s *pipelineCronJobStep) Name() StepName { return StepPipelineCronJob }

func (s *pipelineCronJobStep) Run(ctx context.Context, req *ProvisionRequest, res *ProvisionResult) (StepResult, error) {
	name, err := s.reconciler.ReconcileCronJob(ctx, req.Org, req.Team, "pipeline", req.PipelineSchedule, true)
	if err != nil {
		return StepResult{}, fmt.Errorf("reconcile pipeline cronjob: %w", err)
	}
	res.PipelineCronJob = name
	return StepResult{OK: true, Details: map[string]any{"cronjob": name, "schedule": req.PipelineSchedule}}, nil
}

// DeploymentReconciler reconciles the team's dedicated agent Deployment and
// Service, the workload the SSE Command Gateway's agent side runs in.
type DeploymentReconciler interface {
	ReconcileDeployment(ctx context.Context, org, team string) (serviceURL string, err error)
}

type dedicatedDeploymentStep struct {
	reconciler DeploymentReconciler
	config     ConfigPatcher
}

func NewDedicatedDeploymentStep(reconciler DeploymentReconciler, config ConfigPatcher) Step {
	return &dedicatedDeploymentStep{reconciler: reconciler, config: config}
}

func (s *dedicatedDeploymentStep) Name() StepName { return StepDedicatedDeployment }

// Run creates the Deployment + Service and records the in-cluster URL in
// the team's config so the proxy and gateway route this team's traffic to
// its dedicated workload.
func (s *dedicatedDeploymentStep) Run(ctx context.Context, req *ProvisionRequest, res *ProvisionResult) (StepResult, error) {
	url, err := s.reconciler.ReconcileDeployment(ctx, req.Org, req.Team)
	if err != nil {
		return StepResult{}, fmt.Errorf("reconcile dedicated deployment: %w", err)
	}
	patch := map[string]any{
		"agent": map[string]any{"dedicated_service_url": url},
	}
	if err := s.config.PatchTeamConfig(ctx, req.Org, req.Team, patch); err != nil {
		return StepResult{}, fmt.Errorf("record dedicated service url: %w", err)
	}
	res.DedicatedServiceURL = url
	return StepResult{OK: true, Details: map[string]any{"service_url": url}}, nil
}
