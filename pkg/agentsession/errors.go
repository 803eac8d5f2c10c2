package agentsession

import "strings"

// friendlyLLMMessage maps a handful of known upstream failure shapes to a
// short user-facing message, per spec.md §7 ("translates known LLM failures
// to friendly messages ... swallows internals for any other exception").
func friendlyLLMMessage(raw string) string {
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "429"):
		return "The model is rate limited right now, please try again shortly."
	case strings.Contains(lower, "buffer") && strings.Contains(lower, "overflow"):
		return "The response was too large to process and had to be cut short."
	case strings.Contains(lower, "json") && (strings.Contains(lower, "parse") || strings.Contains(lower, "decode")):
		return "The model returned a response we couldn't parse."
	case strings.Contains(lower, "context") && strings.Contains(lower, "length"):
		return "The conversation is too long for the model's context window."
	default:
		return "The agent hit an unexpected error and could not finish this turn."
	}
}
