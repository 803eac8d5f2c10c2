// Package gateway implements the long-lived SSE control channel between
// the control plane and in-cluster agents: the control plane streams
// typed commands down an open GET connection, the agent executes them
// against the Kubernetes API and posts results back over a correlated
// HTTP POST. Grounded on
// _examples/teradata-labs-loom/pkg/mcp/transport/http.go's r3labs/sse
// client usage for the agent side, generalized from a single message
// topic to the connected/command/heartbeat event vocabulary spec.md §4.H
// requires, and on pkg/api/server.go's echo wiring for the control-plane
// side.
package gateway

import "time"

// Event types streamed down /agent/connect.
const (
	EventConnected EventType = "connected"
	EventCommand   EventType = "command"
	EventHeartbeat EventType = "heartbeat"
)

// EventType discriminates the closed set of SSE events the gateway emits.
type EventType string

// ConnectedPayload acknowledges a new stream; the agent writes a local
// health file on receipt, consumed by its liveness probe.
type ConnectedPayload struct {
	ClusterID string `json:"cluster_id"`
	Message   string `json:"message"`
}

// CommandPayload is one dispatched command the agent must execute and
// answer via POST /agent/response/{request_id}.
type CommandPayload struct {
	RequestID string         `json:"request_id"`
	Command   string         `json:"command"`
	Params    map[string]any `json:"params"`
}

// HeartbeatPayload is observed only; it carries no actionable content.
type HeartbeatPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

// CommandResponse is what the agent POSTs back for a command.
type CommandResponse struct {
	RequestID string `json:"request_id"`
	OK        bool   `json:"ok"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
}

// The closed set of command names the in-cluster executor understands.
// Anything else is rejected with error="unknown command".
const (
	CommandListPods             = "list_pods"
	CommandGetPodLogs           = "get_pod_logs"
	CommandDescribePod          = "describe_pod"
	CommandGetPodEvents         = "get_pod_events"
	CommandDescribeDeployment   = "describe_deployment"
	CommandListNamespaces       = "list_namespaces"
)

// commandTimeout bounds each handler's Kubernetes API call.
const commandTimeout = 15 * time.Second

// Reconnect backoff policy (spec.md §4.H).
const (
	reconnectInitial    = 1 * time.Second
	reconnectMultiplier = 2
	reconnectMax        = 60 * time.Second
)
