package llmproxy

import "encoding/json"

// AnthropicSSEEvent is one emitted server-sent event in the translated
// stream, tagged by Event with its JSON-encoded Data payload.
type AnthropicSSEEvent struct {
	Event string
	Data  json.RawMessage
}

// blockKind distinguishes the two content block shapes a streamed message
// can open.
type blockKind int

const (
	blockNone blockKind = iota
	blockText
	blockToolUse
)

// StreamTranslator is a stateful accumulator that turns a sequence of
// OpenAI streaming chunks into the Anthropic SSE event sequence documented
// in spec.md §4.I:
//
//	message_start
//	  (content_block_start(text|tool_use) -> content_block_delta* -> content_block_stop)+
//	message_delta(stop_reason, usage) -> message_stop
//
// It is not safe for concurrent use; one translator serves one stream.
type StreamTranslator struct {
	model     string
	started   bool
	curBlock  blockKind
	curIndex  int
	toolIndex map[int]int // OpenAI choice tool_calls index -> anthropic block index
	nextIndex int
	usage     OpenAIUsage
	haveUsage bool
	finish    string
}

// NewStreamTranslator creates a translator for one streamed response.
func NewStreamTranslator(model string) *StreamTranslator {
	return &StreamTranslator{model: model, toolIndex: make(map[int]int)}
}

// Feed consumes one OpenAI stream chunk and returns the Anthropic SSE
// events it produces, in order. Call Close once the upstream stream ends
// to emit the closing message_delta/message_stop pair.
func (t *StreamTranslator) Feed(chunk OpenAIStreamChunk) []AnthropicSSEEvent {
	var out []AnthropicSSEEvent
	if !t.started {
		out = append(out, t.messageStart())
		t.started = true
	}
	if chunk.Usage != nil {
		t.usage = *chunk.Usage
		t.haveUsage = true
	}
	if len(chunk.Choices) == 0 {
		return out
	}
	choice := chunk.Choices[0]
	if choice.FinishReason != nil {
		t.finish = *choice.FinishReason
	}

	delta := choice.Delta
	if delta.Content != "" {
		out = append(out, t.ensureBlock(blockText, -1)...)
		out = append(out, sse("content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": t.curIndex,
			"delta": map[string]any{"type": "text_delta", "text": delta.Content},
		}))
	}
	for _, tc := range delta.ToolCalls {
		out = append(out, t.ensureToolBlock(tc.Index, tc.ID, tc.Function.Name)...)
		if tc.Function.Arguments != "" {
			out = append(out, sse("content_block_delta", map[string]any{
				"type":  "content_block_delta",
				"index": t.curIndex,
				"delta": map[string]any{"type": "input_json_delta", "partial_json": tc.Function.Arguments},
			}))
		}
	}
	return out
}

// ensureBlock closes the currently open block (if any) and opens a new
// text block when none is open or a tool_use block is currently open.
func (t *StreamTranslator) ensureBlock(kind blockKind, toolCallIdx int) []AnthropicSSEEvent {
	var out []AnthropicSSEEvent
	if t.curBlock != blockNone && t.curBlock != kind {
		out = append(out, t.closeBlock())
	}
	if t.curBlock == blockNone {
		t.curIndex = t.nextIndex
		t.nextIndex++
		t.curBlock = kind
		out = append(out, sse("content_block_start", map[string]any{
			"type":          "content_block_start",
			"index":         t.curIndex,
			"content_block": map[string]any{"type": "text", "text": ""},
		}))
	}
	return out
}

// ensureToolBlock closes the currently open block (if any) when the kind
// isn't tool_use or a different tool call index has started, then opens a
// new tool_use block carrying the call's id/name.
func (t *StreamTranslator) ensureToolBlock(toolCallIdx int, id, name string) []AnthropicSSEEvent {
	var out []AnthropicSSEEvent
	switchingTool := t.curBlock == blockToolUse && t.toolBlockChanged(toolCallIdx)
	if t.curBlock != blockNone && (t.curBlock != blockToolUse || switchingTool) {
		out = append(out, t.closeBlock())
	}
	if t.curBlock == blockNone {
		t.curIndex = t.nextIndex
		t.nextIndex++
		t.curBlock = blockToolUse
		t.toolIndex[toolCallIdx] = t.curIndex
		out = append(out, sse("content_block_start", map[string]any{
			"type":          "content_block_start",
			"index":         t.curIndex,
			"content_block": map[string]any{"type": "tool_use", "id": id, "name": name},
		}))
	}
	return out
}

func (t *StreamTranslator) toolBlockChanged(toolCallIdx int) bool {
	idx, ok := t.toolIndex[toolCallIdx]
	return !ok || idx != t.curIndex
}

func (t *StreamTranslator) closeBlock() AnthropicSSEEvent {
	idx := t.curIndex
	t.curBlock = blockNone
	return sse("content_block_stop", map[string]any{"type": "content_block_stop", "index": idx})
}

func (t *StreamTranslator) messageStart() AnthropicSSEEvent {
	return sse("message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id": "", "type": "message", "role": "assistant", "model": t.model,
			"content": []any{}, "usage": map[string]any{"input_tokens": 0, "output_tokens": 0},
		},
	})
}

// Close finalizes the stream: closes any still-open block and emits
// message_delta followed by message_stop.
func (t *StreamTranslator) Close() []AnthropicSSEEvent {
	var out []AnthropicSSEEvent
	if !t.started {
		out = append(out, t.messageStart())
	}
	if t.curBlock != blockNone {
		out = append(out, t.closeBlock())
	}
	stopReason := finishReasonToStopReason(t.finish)
	out = append(out, sse("message_delta", map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": stopReason, "stop_sequence": nil},
		"usage": map[string]any{"input_tokens": t.usage.PromptTokens, "output_tokens": t.usage.CompletionTokens},
	}))
	out = append(out, sse("message_stop", map[string]any{"type": "message_stop"}))
	return out
}

// CloseWithError terminates the stream early with a single Anthropic error
// event, per spec.md §4.I "On upstream error, the stream terminates with a
// single Anthropic-shaped error object."
func CloseWithError(statusCode int, providerErr OpenAIErrorBody) AnthropicSSEEvent {
	return sse("error", ErrorToAnthropic(statusCode, providerErr))
}

func sse(event string, payload any) AnthropicSSEEvent {
	data, _ := json.Marshal(payload)
	return AnthropicSSEEvent{Event: event, Data: data}
}
