package llmproxy

import (
	"encoding/json"
	"fmt"
)

// finishReasonToStopReason maps OpenAI finish_reason to Anthropic
// stop_reason per the table in spec.md §4.I.
func finishReasonToStopReason(reason string) string {
	switch reason {
	case "stop":
		return StopEndTurn
	case "tool_calls", "function_call":
		return StopToolUse
	case "length":
		return StopMaxTokens
	case "content_filter":
		return StopEndTurn
	default:
		return StopEndTurn
	}
}

// ResponseToAnthropic translates a non-streaming OpenAI Chat Completions
// response into an Anthropic Messages response.
func ResponseToAnthropic(resp OpenAIResponse, model string) AnthropicResponse {
	out := AnthropicResponse{
		ID:    resp.ID,
		Type:  "message",
		Role:  "assistant",
		Model: model,
		Usage: AnthropicUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	if len(resp.Choices) == 0 {
		out.StopReason = StopEndTurn
		return out
	}
	choice := resp.Choices[0]
	msg := choice.Message

	if msg.Content != "" || len(msg.ToolCalls) == 0 {
		out.Content = append(out.Content, AnthropicContentBlock{Type: "text", Text: msg.Content})
	}
	for _, tc := range msg.ToolCalls {
		out.Content = append(out.Content, AnthropicContentBlock{
			Type:  "tool_use",
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	out.StopReason = finishReasonToStopReason(choice.FinishReason)
	return out
}

// providerErrorTaxonomy maps a handful of well-known OpenAI-shaped
// error.type values to the Anthropic taxonomy from spec.md §7.
var providerErrorTaxonomy = map[string]string{
	"invalid_api_key":      ErrAuthentication,
	"authentication_error": ErrAuthentication,
	"insufficient_quota":   ErrRateLimit,
	"rate_limit_exceeded":  ErrRateLimit,
	"invalid_request_error": ErrInvalidRequest,
	"model_not_found":      ErrNotFound,
	"permission_error":     ErrPermission,
}

// ErrorToAnthropic maps a provider error into the Anthropic error envelope.
// statusCode is used as a fallback when the provider's error.type is
// unrecognized.
func ErrorToAnthropic(statusCode int, providerErr OpenAIErrorBody) AnthropicError {
	kind, ok := providerErrorTaxonomy[providerErr.Type]
	if !ok {
		switch statusCode {
		case 401:
			kind = ErrAuthentication
		case 403:
			kind = ErrPermission
		case 404:
			kind = ErrNotFound
		case 429:
			kind = ErrRateLimit
		case 400:
			kind = ErrInvalidRequest
		default:
			kind = ErrAPI
		}
	}
	msg := providerErr.Message
	if msg == "" {
		msg = fmt.Sprintf("upstream provider returned status %d", statusCode)
	}
	return AnthropicError{
		Type:  "error",
		Error: AnthropicErrorBody{Type: kind, Message: msg},
	}
}
