// Package llmproxy translates between the Anthropic Messages API shape and
// the OpenAI Chat Completions shape so a single upstream surface can front
// any provider, injecting per-tenant credentials via an external
// authorization side channel. Grounded on pkg/llm's gRPC Gemini client for
// the chunk/streaming vocabulary, reshaped around HTTP/SSE instead of gRPC
// because SPEC_FULL's proxy fronts OpenAI-shaped HTTP providers, not a
// single gRPC sidecar.
package llmproxy

import "encoding/json"

// AnthropicRequest is the subset of the Messages API request body this
// proxy understands and translates.
type AnthropicRequest struct {
	Model       string              `json:"model"`
	Messages    []AnthropicMessage  `json:"messages"`
	System      json.RawMessage     `json:"system,omitempty"` // string or []AnthropicContentBlock
	MaxTokens   int                 `json:"max_tokens"`
	Temperature *float64            `json:"temperature,omitempty"`
	TopP        *float64            `json:"top_p,omitempty"`
	StopSeqs    []string            `json:"stop_sequences,omitempty"`
	Stream      bool                `json:"stream,omitempty"`
	Tools       []AnthropicTool     `json:"tools,omitempty"`
	ToolChoice  json.RawMessage     `json:"tool_choice,omitempty"`
}

// AnthropicMessage is one turn of an Anthropic conversation.
type AnthropicMessage struct {
	Role    string          `json:"role"` // "user" | "assistant"
	Content json.RawMessage `json:"content"` // string or []AnthropicContentBlock
}

// AnthropicContentBlock is a tagged union over Anthropic content block
// kinds (text, image, tool_use, tool_result).
type AnthropicContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image
	Source *AnthropicImageSource `json:"source,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"` // string or []AnthropicContentBlock
	IsError   bool            `json:"is_error,omitempty"`
}

// AnthropicImageSource carries inline base64 image bytes.
type AnthropicImageSource struct {
	Type      string `json:"type"` // "base64"
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// AnthropicTool is a client tool definition.
type AnthropicTool struct {
	Type        string          `json:"type,omitempty"` // set for Anthropic server tools (web_search, computer, text_editor, bash_*)
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// serverToolTypes are Anthropic-native tools that have no OpenAI
// equivalent and must be dropped during translation, per spec.md §4.I.
var serverToolTypes = map[string]bool{
	"web_search_20250305":     true,
	"computer_20250124":       true,
	"text_editor_20250124":    true,
	"bash_20250124":           true,
	"bash_20241022":           true,
}

// IsServerTool reports whether t is an Anthropic server tool that has no
// OpenAI "function" equivalent.
func (t AnthropicTool) IsServerTool() bool {
	return t.Type != "" && t.Type != "custom" && serverToolTypes[t.Type]
}

// AnthropicResponse is a non-streaming Messages API response.
type AnthropicResponse struct {
	ID         string                  `json:"id"`
	Type       string                  `json:"type"` // "message"
	Role       string                  `json:"role"` // "assistant"
	Model      string                  `json:"model"`
	Content    []AnthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      AnthropicUsage          `json:"usage"`
}

// AnthropicUsage mirrors Anthropic's usage accounting.
type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// AnthropicError is the Anthropic error envelope emitted on 4xx/5xx and
// mid-stream failures.
type AnthropicError struct {
	Type  string              `json:"type"` // "error"
	Error AnthropicErrorBody  `json:"error"`
}

// AnthropicErrorBody names the error taxonomy from spec.md §7.
type AnthropicErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Anthropic error taxonomy (spec.md §4.I, §7).
const (
	ErrAuthentication = "authentication_error"
	ErrRateLimit      = "rate_limit_error"
	ErrInvalidRequest = "invalid_request_error"
	ErrNotFound       = "not_found_error"
	ErrPermission     = "permission_error"
	ErrAPI            = "api_error"
)

// Anthropic stop_reason values.
const (
	StopEndTurn      = "end_turn"
	StopMaxTokens    = "max_tokens"
	StopToolUse      = "tool_use"
	StopStopSequence = "stop_sequence"
)

// --- OpenAI Chat Completions shapes ---

// OpenAIRequest is the translated Chat Completions request body.
type OpenAIRequest struct {
	Model         string          `json:"model"`
	Messages      []OpenAIMessage `json:"messages"`
	MaxTokens     int             `json:"max_tokens,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	Stop          []string        `json:"stop,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	StreamOptions *StreamOptions  `json:"stream_options,omitempty"`
	Tools         []OpenAITool    `json:"tools,omitempty"`
	ToolChoice    any             `json:"tool_choice,omitempty"`
}

// StreamOptions controls OpenAI streaming usage reporting.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// OpenAIMessage is one Chat Completions message.
type OpenAIMessage struct {
	Role       string           `json:"role"` // "system" | "user" | "assistant" | "tool"
	Content    string           `json:"content,omitempty"`
	ToolCalls  []OpenAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

// OpenAIToolCall is an assistant-issued function call.
type OpenAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"` // "function"
	Function OpenAIFunctionCall `json:"function"`
}

// OpenAIFunctionCall carries the function name and JSON-encoded arguments.
type OpenAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// OpenAITool is a function tool definition.
type OpenAITool struct {
	Type     string         `json:"type"` // "function"
	Function OpenAIFunction `json:"function"`
}

// OpenAIFunction describes one callable function.
type OpenAIFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// OpenAIResponse is a non-streaming Chat Completions response.
type OpenAIResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []OpenAIChoice `json:"choices"`
	Usage   OpenAIUsage    `json:"usage"`
}

// OpenAIChoice is one completion choice (the proxy only ever asks for one).
type OpenAIChoice struct {
	Index        int           `json:"index"`
	Message      OpenAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

// OpenAIUsage mirrors OpenAI's usage accounting.
type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// OpenAIError is OpenAI's error envelope shape.
type OpenAIError struct {
	Error OpenAIErrorBody `json:"error"`
}

// OpenAIErrorBody carries the provider-reported error type and message.
type OpenAIErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// OpenAI streaming chunk (one SSE `data:` line).
type OpenAIStreamChunk struct {
	ID      string               `json:"id"`
	Model   string                `json:"model"`
	Choices []OpenAIStreamChoice  `json:"choices"`
	Usage   *OpenAIUsage          `json:"usage,omitempty"`
}

// OpenAIStreamChoice is one streamed delta.
type OpenAIStreamChoice struct {
	Index        int               `json:"index"`
	Delta        OpenAIStreamDelta `json:"delta"`
	FinishReason *string           `json:"finish_reason,omitempty"`
}

// OpenAIStreamDelta is the incremental content of a streaming choice.
type OpenAIStreamDelta struct {
	Role      string                   `json:"role,omitempty"`
	Content   string                   `json:"content,omitempty"`
	ToolCalls []OpenAIStreamToolCallDelta `json:"tool_calls,omitempty"`
}

// OpenAIStreamToolCallDelta is an incremental tool-call fragment; Index
// identifies which tool_use block it belongs to when multiple calls
// interleave.
type OpenAIStreamToolCallDelta struct {
	Index    int                 `json:"index"`
	ID       string              `json:"id,omitempty"`
	Function OpenAIFunctionDelta `json:"function,omitempty"`
}

// OpenAIFunctionDelta is an incremental function-call fragment.
type OpenAIFunctionDelta struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}
