package llmproxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventTypes(events []AnthropicSSEEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Event
	}
	return out
}

func TestStreamTranslator_TextThenToolUse(t *testing.T) {
	tr := NewStreamTranslator("gpt-4o")

	var all []AnthropicSSEEvent
	all = append(all, tr.Feed(OpenAIStreamChunk{Choices: []OpenAIStreamChoice{{Delta: OpenAIStreamDelta{Content: "Hello"}}}})...)
	all = append(all, tr.Feed(OpenAIStreamChunk{Choices: []OpenAIStreamChoice{{Delta: OpenAIStreamDelta{
		ToolCalls: []OpenAIStreamToolCallDelta{{Index: 0, ID: "call_1", Function: OpenAIFunctionDelta{Name: "list_pods"}}},
	}}}})...)
	all = append(all, tr.Feed(OpenAIStreamChunk{Choices: []OpenAIStreamChoice{{Delta: OpenAIStreamDelta{
		ToolCalls: []OpenAIStreamToolCallDelta{{Index: 0, Function: OpenAIFunctionDelta{Arguments: `{"ns":`}}},
	}}}})...)
	finish := "tool_calls"
	all = append(all, tr.Feed(OpenAIStreamChunk{
		Choices: []OpenAIStreamChoice{{FinishReason: &finish}},
		Usage:   &OpenAIUsage{PromptTokens: 3, CompletionTokens: 7},
	})...)
	all = append(all, tr.Close()...)

	types := eventTypes(all)
	require.Equal(t, "message_start", types[0])
	require.Equal(t, "message_stop", types[len(types)-1])

	// Exactly one message_start / message_stop.
	var starts, stops, blockStarts, blockStops int
	for _, tyName := range types {
		switch tyName {
		case "message_start":
			starts++
		case "message_stop":
			stops++
		case "content_block_start":
			blockStarts++
		case "content_block_stop":
			blockStops++
		}
	}
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)
	assert.Equal(t, 2, blockStarts, "one text block, one tool_use block")
	assert.Equal(t, 2, blockStops)

	// The text block must close before the tool_use block opens.
	var closedBeforeOpen bool
	openCount := 0
	for _, tyName := range types {
		if tyName == "content_block_stop" {
			closedBeforeOpen = openCount == 1
		}
		if tyName == "content_block_start" {
			openCount++
		}
	}
	assert.True(t, closedBeforeOpen)

	assert.Contains(t, types, "message_delta")
}

func TestStreamTranslator_CloseWithoutAnyChunks(t *testing.T) {
	tr := NewStreamTranslator("gpt-4o")
	events := tr.Close()
	types := eventTypes(events)
	assert.Equal(t, []string{"message_start", "message_delta", "message_stop"}, types)
}
