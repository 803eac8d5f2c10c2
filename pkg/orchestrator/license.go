package orchestrator

import (
	"context"
	"fmt"

	"github.com/incidentfox/ifox-core/ent"
	"github.com/incidentfox/ifox-core/ent/provisioningrun"
)

// TelemetryLicense gates provisioning on a telemetry-declared team cap, per
// spec.md §4.E step 2: "if a telemetry collector is configured and declares
// a finite max_teams, reject when the count of succeeded provisioning rows
// meets the cap." A maxTeams of 0 means no telemetry collector is
// configured, so every team is licensed.
type TelemetryLicense struct {
	client   *ent.Client
	maxTeams int
}

// NewTelemetryLicense creates a Licenser backed by the ProvisioningRun
// table. maxTeams <= 0 disables the gate entirely.
func NewTelemetryLicense(client *ent.Client, maxTeams int) *TelemetryLicense {
	return &TelemetryLicense{client: client, maxTeams: maxTeams}
}

// IsLicensed implements Licenser.
func (l *TelemetryLicense) IsLicensed(ctx context.Context, _, _ string) (bool, error) {
	if l.maxTeams <= 0 {
		return true, nil
	}
	count, err := l.succeededCount(ctx)
	if err != nil {
		return false, err
	}
	return count < l.maxTeams, nil
}

// Summary implements Licenser, exposed on /health.
func (l *TelemetryLicense) Summary(ctx context.Context) (map[string]any, error) {
	summary := map[string]any{"enforced": l.maxTeams > 0}
	if l.maxTeams <= 0 {
		return summary, nil
	}
	count, err := l.succeededCount(ctx)
	if err != nil {
		return nil, err
	}
	summary["max_teams"] = l.maxTeams
	summary["teams_provisioned"] = count
	return summary, nil
}

func (l *TelemetryLicense) succeededCount(ctx context.Context) (int, error) {
	count, err := l.client.ProvisioningRun.Query().
		Where(provisioningrun.StatusEQ(provisioningrun.StatusSucceeded)).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count succeeded provisioning runs: %w", err)
	}
	return count, nil
}
