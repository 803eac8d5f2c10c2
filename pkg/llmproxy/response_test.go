package llmproxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseToAnthropic_TextAndToolCalls(t *testing.T) {
	resp := OpenAIResponse{
		ID: "chatcmpl-1",
		Choices: []OpenAIChoice{{
			FinishReason: "tool_calls",
			Message: OpenAIMessage{
				Role: "assistant",
				ToolCalls: []OpenAIToolCall{
					{ID: "call_1", Type: "function", Function: OpenAIFunctionCall{Name: "list_pods", Arguments: `{"namespace":"prod"}`}},
				},
			},
		}},
		Usage: OpenAIUsage{PromptTokens: 10, CompletionTokens: 5},
	}

	out := ResponseToAnthropic(resp, "gpt-4o")

	assert.Equal(t, StopToolUse, out.StopReason)
	assert.Equal(t, 10, out.Usage.InputTokens)
	assert.Equal(t, 5, out.Usage.OutputTokens)
	require.Len(t, out.Content, 1)
	assert.Equal(t, "tool_use", out.Content[0].Type)
	assert.Equal(t, "list_pods", out.Content[0].Name)
}

func TestResponseToAnthropic_FinishReasonTable(t *testing.T) {
	cases := map[string]string{
		"stop":           StopEndTurn,
		"tool_calls":     StopToolUse,
		"function_call":  StopToolUse,
		"length":         StopMaxTokens,
		"content_filter": StopEndTurn,
		"unknown_value":  StopEndTurn,
	}
	for reason, want := range cases {
		resp := OpenAIResponse{Choices: []OpenAIChoice{{FinishReason: reason, Message: OpenAIMessage{Content: "hi"}}}}
		out := ResponseToAnthropic(resp, "gpt-4o")
		assert.Equal(t, want, out.StopReason, reason)
	}
}

func TestErrorToAnthropic_MapsKnownTypes(t *testing.T) {
	err := ErrorToAnthropic(429, OpenAIErrorBody{Type: "rate_limit_exceeded", Message: "slow down"})
	assert.Equal(t, ErrRateLimit, err.Error.Type)
	assert.Equal(t, "slow down", err.Error.Message)
}

func TestErrorToAnthropic_FallsBackToStatusCode(t *testing.T) {
	err := ErrorToAnthropic(404, OpenAIErrorBody{})
	assert.Equal(t, ErrNotFound, err.Error.Type)
}
