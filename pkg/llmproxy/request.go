package llmproxy

import "encoding/json"

// ToolChoiceAny/ToolChoiceSpecific mirror the OpenAI tool_choice shapes the
// translator produces.
type toolChoiceFunction struct {
	Type     string                     `json:"type"`
	Function toolChoiceFunctionName     `json:"function"`
}
type toolChoiceFunctionName struct {
	Name string `json:"name"`
}

// RequestToOpenAI translates an Anthropic Messages request into an OpenAI
// Chat Completions request, per spec.md §4.I "Request translation".
func RequestToOpenAI(req AnthropicRequest) OpenAIRequest {
	out := OpenAIRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.StopSeqs,
		Stream:      req.Stream,
	}
	if req.Stream {
		out.StreamOptions = &StreamOptions{IncludeUsage: true}
	}

	if sys := systemText(req.System); sys != "" {
		out.Messages = append(out.Messages, OpenAIMessage{Role: "system", Content: sys})
	}

	for _, m := range req.Messages {
		out.Messages = append(out.Messages, translateMessage(m)...)
	}

	for _, t := range req.Tools {
		if t.IsServerTool() {
			continue
		}
		out.Tools = append(out.Tools, OpenAITool{
			Type: "function",
			Function: OpenAIFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}

	out.ToolChoice = translateToolChoice(req.ToolChoice)

	PatchConsistency(&out)
	return out
}

// systemText flattens the Anthropic `system` field, which may be either a
// bare string or an array of text content blocks.
func systemText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []AnthropicContentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		out := ""
		for _, b := range blocks {
			if b.Type == "text" {
				out += b.Text
			}
		}
		return out
	}
	return ""
}

// translateMessage walks one Anthropic message's content blocks and emits
// zero or more OpenAI messages: text/image blocks accumulate into one
// assistant/user message's content, tool_use blocks become tool_calls on
// that same assistant message, and tool_result blocks become separate
// standalone {role:"tool"} messages, preserving order.
func translateMessage(m AnthropicMessage) []OpenAIMessage {
	blocks := contentBlocks(m.Content)
	if blocks == nil {
		// Plain string content.
		var s string
		if json.Unmarshal(m.Content, &s) == nil {
			return []OpenAIMessage{{Role: m.Role, Content: s}}
		}
		return nil
	}

	var out []OpenAIMessage
	var textContent string
	var toolCalls []OpenAIToolCall

	flush := func() {
		if textContent != "" || len(toolCalls) > 0 {
			out = append(out, OpenAIMessage{Role: m.Role, Content: textContent, ToolCalls: toolCalls})
			textContent = ""
			toolCalls = nil
		}
	}

	for _, b := range blocks {
		switch b.Type {
		case "text":
			textContent += b.Text
		case "image":
			// Image bytes are not representable in this proxy's plain-text
			// OpenAI content field; a richer content-part array would be
			// needed for vision models, tracked as a known gap.
		case "tool_use":
			toolCalls = append(toolCalls, OpenAIToolCall{
				ID:   b.ID,
				Type: "function",
				Function: OpenAIFunctionCall{
					Name:      b.Name,
					Arguments: string(b.Input),
				},
			})
		case "tool_result":
			flush()
			out = append(out, OpenAIMessage{
				Role:       "tool",
				Content:    toolResultText(b.Content),
				ToolCallID: b.ToolUseID,
			})
		}
	}
	flush()
	return out
}

func contentBlocks(raw json.RawMessage) []AnthropicContentBlock {
	var blocks []AnthropicContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil
	}
	return blocks
}

func toolResultText(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	blocks := contentBlocks(raw)
	out := ""
	for _, b := range blocks {
		if b.Type == "text" {
			out += b.Text
		}
	}
	return out
}

// translateToolChoice maps Anthropic tool_choice shapes to OpenAI's.
func translateToolChoice(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		if s == "any" {
			return "required"
		}
		return s // "auto", "none" pass through unchanged
	}
	var obj struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	if json.Unmarshal(raw, &obj) == nil && obj.Type == "tool" {
		return toolChoiceFunction{Type: "function", Function: toolChoiceFunctionName{Name: obj.Name}}
	}
	return nil
}
