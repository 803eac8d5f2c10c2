package llmproxy

// maxToolsPerProvider is the conservative tool-count ceiling enforced
// before forwarding; providers reject requests above their own limit.
const maxToolsPerProvider = 128

// providerMaxTokens caps max_tokens per provider family, keyed by a prefix
// match against the model name. A provider not listed here is left
// unbounded by this table (the upstream will reject on its own if needed).
var providerMaxTokens = map[string]int{
	"gpt-4o":   16384,
	"gpt-4":    8192,
	"o1":       65536,
	"gemini":   8192,
	"deepseek": 8192,
}

// PatchConsistency applies the provider-safety patches spec.md §4.I
// requires before a translated request is sent upstream: truncating the
// tool list, capping max_tokens, and inserting synthetic tool results for
// any assistant tool_calls id that has no matching tool message.
func PatchConsistency(req *OpenAIRequest) {
	if len(req.Tools) > maxToolsPerProvider {
		req.Tools = req.Tools[:maxToolsPerProvider]
	}
	if maxTok := maxTokensFor(req.Model); maxTok > 0 && req.MaxTokens > maxTok {
		req.MaxTokens = maxTok
	}
	req.Messages = patchUnresolvedToolCalls(req.Messages)
}

func maxTokensFor(model string) int {
	best := -1
	result := 0
	for prefix, maxTok := range providerMaxTokens {
		if len(model) >= len(prefix) && model[:len(prefix)] == prefix && len(prefix) > best {
			best = len(prefix)
			result = maxTok
		}
	}
	return result
}

// patchUnresolvedToolCalls scans messages for assistant tool_calls ids
// that are never followed by a matching {role:"tool", tool_call_id}
// message and inserts a synthetic "(no result)" tool message immediately
// after the offending assistant message, per spec.md §4.I and testable
// property 8.
func patchUnresolvedToolCalls(messages []OpenAIMessage) []OpenAIMessage {
	resolved := make(map[string]bool)
	for _, m := range messages {
		if m.Role == "tool" && m.ToolCallID != "" {
			resolved[m.ToolCallID] = true
		}
	}

	out := make([]OpenAIMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, m)
		if m.Role != "assistant" || len(m.ToolCalls) == 0 {
			continue
		}
		for _, tc := range m.ToolCalls {
			if !resolved[tc.ID] {
				out = append(out, OpenAIMessage{Role: "tool", ToolCallID: tc.ID, Content: "(no result)"})
				resolved[tc.ID] = true
			}
		}
	}
	return out
}
