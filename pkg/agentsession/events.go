// Package agentsession owns one LLM conversation per thread and emits a
// typed, ordered event stream to a single consumer: thoughts, tool starts
// and ends, user questions, the final result, and terminal errors. It
// owns the permission-callback, post-tool-hook, and subagent-tracking
// contract for a single interactive thread.
package agentsession

import "time"

// EventType discriminates the closed set of event payloads a Session emits.
type EventType string

const (
	EventThought        EventType = "thought"
	EventToolStart      EventType = "tool_start"
	EventToolEnd        EventType = "tool_end"
	EventQuestion       EventType = "question"
	EventQuestionTimeout EventType = "question_timeout"
	EventResult         EventType = "result"
	EventError          EventType = "error"
)

// Event is the single wire/consumer shape for every event a Session emits.
// Only the fields relevant to Type are populated; the rest are zero.
type Event struct {
	Type EventType `json:"type"`

	// thought
	Text           string `json:"text,omitempty"`
	ParentToolUseID string `json:"parent_tool_use_id,omitempty"`

	// tool_start / tool_end
	ToolName  string `json:"tool_name,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	Input     any    `json:"input,omitempty"`
	Success   bool   `json:"success,omitempty"`
	Output    string `json:"output,omitempty"`

	// question
	Questions []Question `json:"questions,omitempty"`

	// result
	Subtype    string   `json:"subtype,omitempty"`
	Images     []string `json:"images,omitempty"`
	Files      []string `json:"files,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`

	// error
	Message     string `json:"message,omitempty"`
	Recoverable bool   `json:"recoverable,omitempty"`

	EmittedAt time.Time `json:"emitted_at"`
}

// Question is one entry of an AskUserQuestion tool call.
type Question struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Options []string `json:"options,omitempty"`
}

// Answer is the consumer's reply to a pending Question set, matched by
// the Question.ID keys supplied in the originating Event.Questions.
type Answer struct {
	QuestionID string `json:"question_id"`
	Text       string `json:"text"`
}

const (
	// ResultSubtypeSuccess closes a normal turn.
	ResultSubtypeSuccess = "success"
	// ResultSubtypeInterrupted closes a turn ended by Session.Interrupt.
	ResultSubtypeInterrupted = "interrupted"
)

// questionWaitTimeout bounds how long a blocking AskUserQuestion call
// waits for Session.ProvideAnswer before the tool is auto-rejected.
const questionWaitTimeout = 60 * time.Second

// defaultExecuteTimeout bounds a single Execute call end to end.
const defaultExecuteTimeout = 10 * time.Minute

// postToolPreviewCap truncates tool_end output bodies queued by the
// post-tool hook.
const postToolPreviewCap = 50 * 1024
