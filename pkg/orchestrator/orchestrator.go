// Package orchestrator runs the per-team provisioning and deprovisioning
// state machine: a fixed sequence of idempotent steps, serialized per team
// by a Postgres advisory lock and recorded durably in a ProvisioningRun row
// so a retried request returns the recorded outcome instead of repeating
// side effects.
package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/incidentfox/ifox-core/ent"
	"github.com/incidentfox/ifox-core/ent/provisioningrun"
)

// StepName identifies one provisioning step. Order here is the order steps
// run in; a step may assume every earlier step has already succeeded.
type StepName string

const (
	StepConfigPatch         StepName = "config_patch"
	StepSlackChannelMap     StepName = "slack_channel_map"
	StepTeamToken           StepName = "team_token"
	StepBootstrap           StepName = "bootstrap"
	StepPipelineCronJob     StepName = "pipeline_cronjob"
	StepDedicatedDeployment StepName = "dedicated_deployment"
)

// provisionSteps is the fixed step order for provision_team. The last two
// are conditional: pipeline_cronjob runs only when the request carries a
// schedule, dedicated_deployment only in dedicated mode.
var provisionSteps = []StepName{
	StepConfigPatch,
	StepSlackChannelMap,
	StepTeamToken,
	StepBootstrap,
	StepPipelineCronJob,
	StepDedicatedDeployment,
}

// DeploymentMode selects where a team's agent workloads run.
type DeploymentMode string

const (
	// ModeShared runs the team on the shared control-plane workers.
	ModeShared DeploymentMode = "shared"
	// ModeDedicated gives the team its own Deployment + Service.
	ModeDedicated DeploymentMode = "dedicated"
)

// ProvisionRequest is one provision_team invocation.
type ProvisionRequest struct {
	Org              string
	Team             string
	ChannelIDs       []string
	IdempotencyKey   string
	PipelineSchedule string
	DeploymentMode   DeploymentMode
}

// ProvisionResult is what one completed (or replayed) provisioning run
// hands back to the caller. TeamToken is populated only on the call that
// actually minted it — a replayed run never returns the token again.
type ProvisionResult struct {
	Run                 *ent.ProvisioningRun
	Replayed            bool
	TeamToken           string
	PipelineBootstrap   string
	PipelineCronJob     string
	DedicatedServiceURL string
}

// StepResult is one step's recorded outcome, stored in ProvisioningRun.Steps.
type StepResult struct {
	OK      bool           `json:"ok"`
	Details map[string]any `json:"details,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Step performs one idempotent unit of provisioning work for a request.
// Implementations must be safe to call again after a partial failure:
// check current state before mutating. Steps report per-call outputs (the
// minted token, the bootstrap run handle, the dedicated service URL) by
// writing into res.
type Step interface {
	Name() StepName
	Run(ctx context.Context, req *ProvisionRequest, res *ProvisionResult) (StepResult, error)
}

// Licenser gates provisioning on the deployment's entitlement, checked
// once before any step runs.
type Licenser interface {
	IsLicensed(ctx context.Context, org, team string) (bool, error)
	// Summary describes the current license state for /health.
	Summary(ctx context.Context) (map[string]any, error)
}

// ErrNotLicensed is returned by Provision when the deployment's max_teams
// cap is already met.
var ErrNotLicensed = errors.New("team cap reached, provisioning not licensed")

// ErrInvalidSchedule is returned before any step runs when the request's
// pipeline_schedule is not a parseable cron expression.
var ErrInvalidSchedule = errors.New("invalid pipeline cron schedule")

// ErrRunNotFound is returned by GetRun for an unknown run id.
var ErrRunNotFound = errors.New("provisioning run not found")

// cronParser accepts the standard 5-field cron syntax CronJobs use.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Orchestrator runs provisioning and deprovisioning state machines.
type Orchestrator struct {
	client   *ent.Client
	db       *sql.DB
	licenser Licenser
	steps    map[StepName]Step
	deleter  ResourceDeleter

	now func() time.Time
}

// New creates an Orchestrator. db must be the same Postgres instance client
// is backed by — it is used solely for the per-team advisory lock.
func New(client *ent.Client, db *sql.DB, licenser Licenser, steps ...Step) *Orchestrator {
	byName := make(map[StepName]Step, len(steps))
	for _, s := range steps {
		byName[s.Name()] = s
	}
	return &Orchestrator{client: client, db: db, licenser: licenser, steps: byName, now: time.Now}
}

// SetResourceDeleter wires the Kubernetes deleter Deprovision uses. Without
// one, deprovision requests report every resource as skipped.
func (o *Orchestrator) SetResourceDeleter(d ResourceDeleter) { o.deleter = d }

// Provision runs the full provisioning sequence for req. It holds a
// per-team advisory lock for the duration, so two concurrent provisioning
// requests for the same team serialize rather than race; requests for
// different teams never block each other. When req carries an idempotency
// key and a prior run with the same (org, team, key) exists, the stored
// snapshot is returned without re-executing any step.
func (o *Orchestrator) Provision(ctx context.Context, req *ProvisionRequest) (*ProvisionResult, error) {
	if req.PipelineSchedule != "" {
		if _, err := cronParser.Parse(req.PipelineSchedule); err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, req.PipelineSchedule, err)
		}
	}

	if o.licenser != nil {
		licensed, err := o.licenser.IsLicensed(ctx, req.Org, req.Team)
		if err != nil {
			return nil, fmt.Errorf("check license for %s/%s: %w", req.Org, req.Team, err)
		}
		if !licensed {
			return nil, fmt.Errorf("%s/%s: %w", req.Org, req.Team, ErrNotLicensed)
		}
	}

	lock, err := acquireTeamLock(ctx, o.db, req.Org, req.Team)
	if err != nil {
		return nil, err
	}
	defer lock.Release(ctx)

	if req.IdempotencyKey != "" {
		prior, err := o.findPriorRun(ctx, req)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			// Same key, prior outcome recorded: hand the snapshot back
			// without re-executing. The token was returned once, on the
			// call that minted it.
			return &ProvisionResult{Run: prior, Replayed: true}, nil
		}
	}

	run, err := o.createRun(ctx, req)
	if err != nil {
		return nil, err
	}

	res := &ProvisionResult{Run: run}
	run, err = o.runSteps(ctx, run, req, res, o.activeSteps(req))
	res.Run = run
	observeRun(run)
	if err != nil {
		return res, err
	}
	return res, nil
}

// activeSteps filters the fixed order down to the steps this request
// actually needs: no schedule means no CronJob, shared mode means no
// dedicated Deployment.
func (o *Orchestrator) activeSteps(req *ProvisionRequest) []StepName {
	out := make([]StepName, 0, len(provisionSteps))
	for _, name := range provisionSteps {
		if name == StepPipelineCronJob && req.PipelineSchedule == "" {
			continue
		}
		if name == StepDedicatedDeployment && req.DeploymentMode != ModeDedicated {
			continue
		}
		out = append(out, name)
	}
	return out
}

// findPriorRun returns the most recent run with the same (org, team,
// idempotency key), or nil when none exists.
func (o *Orchestrator) findPriorRun(ctx context.Context, req *ProvisionRequest) (*ent.ProvisioningRun, error) {
	prior, err := o.client.ProvisioningRun.Query().
		Where(
			provisioningrun.OrgIDEQ(req.Org),
			provisioningrun.TeamNodeIDEQ(req.Team),
			provisioningrun.IdempotencyKeyEQ(req.IdempotencyKey),
		).
		Order(ent.Desc(provisioningrun.FieldCreatedAt)).
		First(ctx)
	if ent.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up existing provisioning run: %w", err)
	}
	return prior, nil
}

func (o *Orchestrator) createRun(ctx context.Context, req *ProvisionRequest) (*ent.ProvisioningRun, error) {
	create := o.client.ProvisioningRun.Create().
		SetID(uuid.NewString()).
		SetOrgID(req.Org).
		SetTeamNodeID(req.Team).
		SetSteps(map[string]interface{}{})
	if req.IdempotencyKey != "" {
		create = create.SetIdempotencyKey(req.IdempotencyKey)
	}

	run, err := create.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("create provisioning run for %s/%s: %w", req.Org, req.Team, err)
	}
	return run, nil
}

// GetRun returns the stored run row for the status endpoint.
func (o *Orchestrator) GetRun(ctx context.Context, id string) (*ent.ProvisioningRun, error) {
	run, err := o.client.ProvisioningRun.Get(ctx, id)
	if ent.IsNotFound(err) {
		return nil, fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load provisioning run %s: %w", id, err)
	}
	return run, nil
}

// LicenseSummary exposes the licenser's state for /health; nil-safe.
func (o *Orchestrator) LicenseSummary(ctx context.Context) map[string]any {
	if o.licenser == nil {
		return nil
	}
	summary, err := o.licenser.Summary(ctx)
	if err != nil {
		slog.Warn("license summary unavailable", "error", err)
		return nil
	}
	return summary
}

// runSteps executes order against run, skipping steps already recorded ok
// in run.Steps, and persists each step's result as soon as it completes so
// a crash mid-sequence leaves an accurate record.
func (o *Orchestrator) runSteps(ctx context.Context, run *ent.ProvisioningRun, req *ProvisionRequest, res *ProvisionResult, order []StepName) (*ent.ProvisioningRun, error) {
	steps := cloneSteps(run.Steps)

	for _, name := range order {
		if existing, ok := steps[string(name)]; ok {
			if m, ok := existing.(map[string]interface{}); ok {
				if okVal, _ := m["ok"].(bool); okVal {
					continue
				}
			}
		}

		impl, ok := o.steps[name]
		if !ok {
			slog.Warn("no implementation registered for provisioning step, skipping", "step", name)
			continue
		}

		result, err := impl.Run(ctx, req, res)
		if err != nil {
			result = StepResult{OK: false, Error: err.Error()}
		}
		steps[string(name)] = map[string]interface{}{
			"ok":      result.OK,
			"details": result.Details,
			"error":   result.Error,
		}

		updated, saveErr := o.client.ProvisioningRun.UpdateOne(run).
			SetSteps(steps).
			Save(ctx)
		if saveErr != nil {
			return run, fmt.Errorf("persist step %s result: %w", name, saveErr)
		}
		run = updated

		if err != nil {
			failed, failErr := o.client.ProvisioningRun.UpdateOne(run).
				SetStatus(provisioningrun.StatusFailed).
				SetError(fmt.Sprintf("step %s: %v", name, err)).
				Save(ctx)
			if failErr != nil {
				return run, fmt.Errorf("mark run failed: %w", failErr)
			}
			return failed, fmt.Errorf("provisioning step %s failed: %w", name, err)
		}
	}

	done, err := o.client.ProvisioningRun.UpdateOne(run).
		SetStatus(provisioningrun.StatusSucceeded).
		Save(ctx)
	if err != nil {
		return run, fmt.Errorf("mark run succeeded: %w", err)
	}
	return done, nil
}

func cloneSteps(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
