package orchestrator

import (
	"context"
	"fmt"
)

// DeprovisionRequest tears down a team's Kubernetes footprint.
type DeprovisionRequest struct {
	Org                string
	Team               string
	DeleteK8sResources bool
	DryRun             bool
}

// ResourceOutcome is the per-resource result of a deprovision call.
type ResourceOutcome string

const (
	OutcomeDeleted     ResourceOutcome = "deleted"
	OutcomeNotFound    ResourceOutcome = "not_found"
	OutcomeWouldDelete ResourceOutcome = "would_delete"
	OutcomeSkipped     ResourceOutcome = "skipped"
)

// DeprovisionResult maps resource name (deployment, service,
// cronjob-pipeline, cronjob-depdiscovery) to its outcome.
type DeprovisionResult struct {
	Org       string                     `json:"org"`
	Team      string                     `json:"team"`
	DryRun    bool                       `json:"dry_run"`
	Resources map[string]ResourceOutcome `json:"resources"`
}

// ResourceDeleter removes a team's Kubernetes objects. Implementations
// report missing resources as not_found, never as errors.
type ResourceDeleter interface {
	DeleteTeamResources(ctx context.Context, org, team string, dryRun bool) (map[string]ResourceOutcome, error)
}

// TokenRevoker invalidates the team's long-lived tokens on deprovision.
type TokenRevoker interface {
	Revoke(ctx context.Context, org, team string) error
}

// Deprovision deletes the team's Deployment, Service, and CronJobs, under
// the same per-team advisory lock Provision holds, so a concurrent
// provision cannot interleave with the teardown. Missing resources are
// reported as not_found. With DryRun set, nothing is deleted and every
// present resource reports would_delete.
func (o *Orchestrator) Deprovision(ctx context.Context, req *DeprovisionRequest, revoker TokenRevoker) (*DeprovisionResult, error) {
	lock, err := acquireTeamLock(ctx, o.db, req.Org, req.Team)
	if err != nil {
		return nil, err
	}
	defer lock.Release(ctx)

	result := &DeprovisionResult{
		Org:       req.Org,
		Team:      req.Team,
		DryRun:    req.DryRun,
		Resources: map[string]ResourceOutcome{},
	}

	if req.DeleteK8sResources {
		if o.deleter == nil {
			return nil, ErrReconcilerUnavailable
		}
		outcomes, err := o.deleter.DeleteTeamResources(ctx, req.Org, req.Team, req.DryRun)
		if err != nil {
			return nil, fmt.Errorf("delete k8s resources for %s/%s: %w", req.Org, req.Team, err)
		}
		result.Resources = outcomes
	} else {
		for _, name := range []string{"deployment", "service", "cronjob-pipeline", "cronjob-depdiscovery"} {
			result.Resources[name] = OutcomeSkipped
		}
	}

	if revoker != nil && !req.DryRun {
		if err := revoker.Revoke(ctx, req.Org, req.Team); err != nil {
			return nil, fmt.Errorf("revoke team tokens for %s/%s: %w", req.Org, req.Team, err)
		}
	}

	return result, nil
}
