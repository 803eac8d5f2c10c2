package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/incidentfox/ifox-core/ent"
	"github.com/incidentfox/ifox-core/ent/provisioningrun"
)

var provisioningRunsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ifox",
		Subsystem: "orchestrator",
		Name:      "provisioning_runs_total",
		Help:      "Terminal provisioning runs by final status.",
	},
	[]string{"status"},
)

// observeRun records a run's terminal status; running (non-terminal) rows
// are not counted.
func observeRun(run *ent.ProvisioningRun) {
	if run == nil || run.Status == provisioningrun.StatusRunning {
		return
	}
	provisioningRunsTotal.WithLabelValues(string(run.Status)).Inc()
}
