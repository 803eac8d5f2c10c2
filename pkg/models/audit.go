package models

// CreateFeedbackRequest contains fields for recording run feedback.
type CreateFeedbackRequest struct {
	ID            string  `json:"id"`
	RunID         string  `json:"run_id"`
	FeedbackType  string  `json:"feedback_type"` // "positive", "negative"
	Source        string  `json:"source"`        // e.g. "slack_reaction", "dashboard", "admin_api"
	UserID        *string `json:"user_id,omitempty"`
	CorrelationID *string `json:"correlation_id,omitempty"`
}

// CreatePendingChangeRequest contains fields for proposing a config change
// pending operator approval. Idempotent by ID: re-submitting the same ID
// returns the existing row unchanged.
type CreatePendingChangeRequest struct {
	ID            string         `json:"id"`
	Org           string         `json:"org"`
	Node          string         `json:"node"`
	ChangeType    string         `json:"change_type"`
	ChangePath    *string        `json:"change_path,omitempty"`
	ProposedValue map[string]any `json:"proposed_value"`
	PreviousValue map[string]any `json:"previous_value,omitempty"`
	RequestedBy   string         `json:"requested_by"`
	Reason        *string        `json:"reason,omitempty"`
}

// UpsertConversationMappingRequest links an agent-run session to the
// external thread/issue it was triggered from, for reply routing.
type UpsertConversationMappingRequest struct {
	SessionID               string  `json:"session_id"`
	ExternalConversationID  string  `json:"external_conversation_id"`
	SessionType             string  `json:"session_type"` // e.g. "slack_thread", "github_issue"
	Org                     *string `json:"org,omitempty"`
	Team                    *string `json:"team,omitempty"`
}

// ToolCallRecord is one tool invocation as captured by the Agent Session's
// tool executor, destined for a single end-of-run bulk write.
type ToolCallRecord struct {
	ID             string         `json:"id"`
	ToolName       string         `json:"tool_name"`
	AgentName      *string        `json:"agent_name,omitempty"`
	ParentAgent    *string        `json:"parent_agent,omitempty"`
	Input          map[string]any `json:"input,omitempty"`
	Output         map[string]any `json:"output,omitempty"`
	StartedAt      int64          `json:"started_at"` // unix millis
	DurationMs     *int           `json:"duration_ms,omitempty"`
	Status         string         `json:"status"` // "success", "error"
	SequenceNumber int            `json:"sequence_number"`
}

// RecordToolCallsRequest bulk-persists every tool call made during a run.
type RecordToolCallsRequest struct {
	RunID string           `json:"run_id"`
	Calls []ToolCallRecord `json:"calls"`
}
