// Package events provides real-time event delivery via WebSocket and
// PostgreSQL NOTIFY/LISTEN for cross-pod distribution.
//
// Events follow one of two delivery patterns. Clients differentiate them
// by whether a db_event_id is present in the payload.
//
// Pattern 1 — PERSISTED (stored in the events table + NOTIFY):
//
//	run.status       — an agent run transitioned between lifecycle states
//	progress.update  — the progress renderer's debounced phase snapshot
//	thread.question  — the agent is blocked on an AskUserQuestion
//
//	Persisted events carry db_event_id so a reconnecting client can ask
//	for everything it missed on a channel since its last seen id.
//
// Pattern 2 — TRANSIENT (NOTIFY only, lost on disconnect):
//
//	stream.chunk — incremental LLM output for a live typing effect; the
//	               terminal progress.update carries the final content, so
//	               nothing durable is lost when chunks are missed.
package events

// Persistent event types (stored in DB + NOTIFY).
const (
	// Run lifecycle — one event per AgentRun status transition.
	EventTypeRunStatus = "run.status"

	// Progress renderer output — debounced phase-state snapshots plus the
	// final findings/confidence update.
	EventTypeProgressUpdate = "progress.update"

	// The session is blocked waiting for the user's answer.
	EventTypeThreadQuestion = "thread.question"
)

// Transient event types (NOTIFY only, no DB persistence).
const (
	// LLM streaming chunks — high-frequency, ephemeral.
	EventTypeStreamChunk = "stream.chunk"
)

// GlobalRunsChannel is the channel for run-level status events. The run
// list page subscribes to this for real-time updates.
const GlobalRunsChannel = "runs"

// RunChannel returns the channel name for a specific run's events.
// Format: "run:{run_id}"
func RunChannel(runID string) string {
	return "run:" + runID
}

// ThreadChannel returns the channel name for a specific interactive
// thread's events. Format: "thread:{thread_id}"
func ThreadChannel(threadID string) string {
	return "thread:" + threadID
}

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Action      string `json:"action"`                  // "subscribe", "unsubscribe", "catchup", "ping"
	Channel     string `json:"channel,omitempty"`       // Channel name (e.g., "run:abc-123")
	LastEventID *int   `json:"last_event_id,omitempty"` // For catchup
}
