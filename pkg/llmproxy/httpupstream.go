package llmproxy

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
)

// HTTPUpstream is the real Upstream implementation: it sends the already
// translated/consistency-patched request body to route.BaseURL over
// net/http, attaching the headers Authorize resolved. Grounded on
// pkg/configclient.Client's context-aware net/http wrapper, the same
// pattern used throughout the pack for outbound HTTP to another service.
type HTTPUpstream struct {
	client *http.Client
}

// NewHTTPUpstream creates an Upstream with no client-side timeout of its
// own; callers are expected to bound the request via ctx (spec.md §5's
// "HTTP to config/pipeline/agent APIs (10s)" deadline does not apply here —
// an LLM sync call may legitimately run for minutes, per the "LLM sync
// (5 min)" budget in the same table).
func NewHTTPUpstream() *HTTPUpstream {
	return &HTTPUpstream{client: &http.Client{}}
}

// Do implements Upstream.
func (u *HTTPUpstream) Do(ctx context.Context, route ProviderRoute, headers InjectedHeaders, body []byte, stream bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, route.BaseURL+route.Path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request to %s: %w", route.BaseURL, err)
	}
	return resp, nil
}
