package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/incidentfox/ifox-core/pkg/configclient"
)

// ErrReconcilerUnavailable is returned by the CronJob sync and one-off
// pipeline trigger when the server was started without Kubernetes access.
var ErrReconcilerUnavailable = errors.New("kubernetes reconciler is not configured")

// TeamLister enumerates every provisioned team, used by the CronJob sync
// to walk team configs.
type TeamLister interface {
	ListTeams(ctx context.Context) ([]configclient.TeamRef, error)
}

// PipelineRunner starts a one-off pipeline Job for a team.
type PipelineRunner interface {
	RunPipelineJob(ctx context.Context, org, team string) (jobName string, err error)
}

// CronJobSyncResult summarizes one sync-cronjobs pass.
type CronJobSyncResult struct {
	TeamsSeen  int               `json:"teams_seen"`
	Reconciled int               `json:"reconciled"`
	Failed     map[string]string `json:"failed,omitempty"`
}

// SyncCronJobs reconciles the AI-pipeline and dependency-discovery
// CronJobs of every team against that team's effective config. Per-team
// failures are collected rather than aborting the sweep, so one team's bad
// config cannot block the rest of the fleet.
func (o *Orchestrator) SyncCronJobs(ctx context.Context, lister TeamLister, config ConfigPatcher, reconciler CronJobReconciler) (*CronJobSyncResult, error) {
	if reconciler == nil {
		return nil, ErrReconcilerUnavailable
	}

	teams, err := lister.ListTeams(ctx)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}

	result := &CronJobSyncResult{TeamsSeen: len(teams), Failed: map[string]string{}}
	for _, ref := range teams {
		cfg, err := config.GetEffectiveConfig(ctx, ref.Org, ref.Team)
		if err != nil {
			result.Failed[ref.Org+"/"+ref.Team] = err.Error()
			continue
		}

		if _, err := reconciler.ReconcileCronJob(ctx, ref.Org, ref.Team, "pipeline", cfg.AIPipeline.Schedule, cfg.AIPipeline.Enabled); err != nil {
			result.Failed[ref.Org+"/"+ref.Team] = err.Error()
			continue
		}
		if _, err := reconciler.ReconcileCronJob(ctx, ref.Org, ref.Team, "depdiscovery", cfg.DependencyDiscovery.Schedule, cfg.DependencyDiscovery.Enabled); err != nil {
			result.Failed[ref.Org+"/"+ref.Team] = err.Error()
			continue
		}
		result.Reconciled++
	}

	if len(result.Failed) > 0 {
		slog.Warn("cronjob sync completed with failures", "teams", len(teams), "failed", len(result.Failed))
	}
	return result, nil
}

// TriggerPipeline starts a one-off pipeline Job for (org, team), outside
// the team's regular schedule.
func (o *Orchestrator) TriggerPipeline(ctx context.Context, runner PipelineRunner, org, team string) (string, error) {
	if runner == nil {
		return "", ErrReconcilerUnavailable
	}
	jobName, err := runner.RunPipelineJob(ctx, org, team)
	if err != nil {
		return "", fmt.Errorf("run pipeline job for %s/%s: %w", org, team, err)
	}
	return jobName, nil
}
