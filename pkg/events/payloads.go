package events

// RunStatusPayload is the payload for run.status events, published when an
// AgentRun transitions between lifecycle states.
type RunStatusPayload struct {
	Type      string `json:"type"`   // always EventTypeRunStatus
	RunID     string `json:"run_id"` // run UUID
	Org       string `json:"org"`
	Team      string `json:"team"`
	Status    string `json:"status"`    // running, completed, failed, timeout
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// PhaseSnapshot is one progress phase inside a ProgressUpdatePayload.
type PhaseSnapshot struct {
	Name      string `json:"name"`
	Status    string `json:"status"` // pending, running, done, failed
	ToolCalls int    `json:"tool_calls"`
}

// ProgressUpdatePayload is the payload for progress.update events: the
// progress renderer's debounced snapshot of a thread's phase states, plus
// findings/confidence on the final update.
type ProgressUpdatePayload struct {
	Type       string          `json:"type"`      // always EventTypeProgressUpdate
	ThreadID   string          `json:"thread_id"` // owning thread
	Phases     []PhaseSnapshot `json:"phases"`
	Summary    string          `json:"summary"`
	Findings   string          `json:"findings,omitempty"`
	Confidence *float64        `json:"confidence,omitempty"`
	Final      bool            `json:"final"`
	Truncated  bool            `json:"truncated,omitempty"`
	Timestamp  string          `json:"timestamp"` // RFC3339Nano
}

// ThreadQuestionPayload is the payload for thread.question events,
// published when the agent blocks on an AskUserQuestion and the consumer
// has 60 seconds to answer before the tool is auto-rejected.
type ThreadQuestionPayload struct {
	Type      string          `json:"type"`      // always EventTypeThreadQuestion
	ThreadID  string          `json:"thread_id"` // owning thread
	ToolUseID string          `json:"tool_use_id"`
	Questions []QuestionEntry `json:"questions"`
	Timestamp string          `json:"timestamp"` // RFC3339Nano
}

// QuestionEntry is one question inside a ThreadQuestionPayload.
type QuestionEntry struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Options []string `json:"options,omitempty"`
}

// StreamChunkPayload is the payload for stream.chunk transient events,
// published per LLM streaming token — high frequency, ephemeral.
type StreamChunkPayload struct {
	Type      string `json:"type"`      // always EventTypeStreamChunk
	ThreadID  string `json:"thread_id"` // owning thread
	Delta     string `json:"delta"`     // incremental text chunk
	Timestamp string `json:"timestamp"` // RFC3339Nano
}
