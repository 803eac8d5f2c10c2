package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ifox",
			Subsystem: "gateway",
			Name:      "commands_total",
			Help:      "Commands dispatched to in-cluster agents, by command and outcome.",
		},
		[]string{"command", "outcome"},
	)

	connectedAgents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ifox",
			Subsystem: "gateway",
			Name:      "connected_agents",
			Help:      "Agents currently holding an open /agent/connect stream.",
		},
	)
)
