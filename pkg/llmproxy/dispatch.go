package llmproxy

import "strings"

// DefaultModel is used when no other source names a model (priority 4 in
// spec.md §4.I).
const DefaultModel = "claude-sonnet-4-5"

// anthropicModelPrefixes identifies a model name as an Anthropic/Claude
// variant that should be forwarded unchanged rather than translated.
var anthropicModelPrefixes = []string{"claude-", "anthropic/", "anthropic."}

// IsAnthropicModel reports whether model should be forwarded to Anthropic
// as-is (no OpenAI translation needed).
func IsAnthropicModel(model string) bool {
	lower := strings.ToLower(model)
	for _, p := range anthropicModelPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// ResolveModel picks the effective model per the fixed priority in
// spec.md §4.I: team config, then deployment default, then the request
// body's own model field, then the hardcoded default.
func ResolveModel(teamConfigModel, deploymentDefault, requestModel string) string {
	if teamConfigModel != "" {
		return teamConfigModel
	}
	if deploymentDefault != "" {
		return deploymentDefault
	}
	if requestModel != "" {
		return requestModel
	}
	return DefaultModel
}

// ProviderFor maps a non-Claude model name to the upstream provider base
// URL it should be routed to. Grounded on the small closed routing table
// shape used throughout the pack's other proxy-style clients (e.g.
// pkg/configclient.Client's single base-URL-per-concern wiring); this
// table is intentionally small and explicit rather than a registry,
// because the proxy fronts a fixed, known set of OpenAI-shaped providers.
type ProviderRoute struct {
	BaseURL      string
	Path         string // request path appended to BaseURL, e.g. "/chat/completions"
	APIKeyHeader string // "Authorization" or "x-api-key"
}

var providerRoutes = map[string]ProviderRoute{
	"openai/":  {BaseURL: "https://api.openai.com/v1", Path: "/chat/completions", APIKeyHeader: "Authorization"},
	"gpt-":     {BaseURL: "https://api.openai.com/v1", Path: "/chat/completions", APIKeyHeader: "Authorization"},
	"o1":       {BaseURL: "https://api.openai.com/v1", Path: "/chat/completions", APIKeyHeader: "Authorization"},
	"gemini":   {BaseURL: "https://generativelanguage.googleapis.com/v1beta/openai", Path: "/chat/completions", APIKeyHeader: "Authorization"},
	"deepseek": {BaseURL: "https://api.deepseek.com/v1", Path: "/chat/completions", APIKeyHeader: "Authorization"},
}

// RouteFor returns the provider route for a translated (non-Claude) model
// name, or ok=false if no route matches.
func RouteFor(model string) (ProviderRoute, bool) {
	lower := strings.ToLower(model)
	for prefix, route := range providerRoutes {
		if strings.HasPrefix(lower, prefix) {
			return route, true
		}
	}
	return ProviderRoute{}, false
}
