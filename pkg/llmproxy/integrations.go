package llmproxy

import "strings"

// HostIntegrationResolver maps a request's target host to the integration
// name that should front it, by longest-suffix match. api.anthropic.com is
// not listed — Authorize already defaults to "anthropic" when no entry
// matches, which covers every host this proxy is configured without an
// explicit override for.
type HostIntegrationResolver struct {
	byHostSuffix map[string]string
}

// NewHostIntegrationResolver creates a resolver from a host-suffix ->
// integration-name table, e.g. {"atlassian.net": "confluence"}.
func NewHostIntegrationResolver(byHostSuffix map[string]string) *HostIntegrationResolver {
	return &HostIntegrationResolver{byHostSuffix: byHostSuffix}
}

// IntegrationFor implements IntegrationResolver.
func (r *HostIntegrationResolver) IntegrationFor(host, _ string) string {
	for suffix, integration := range r.byHostSuffix {
		if strings.HasSuffix(host, suffix) {
			return integration
		}
	}
	return ""
}
