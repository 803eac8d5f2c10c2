// Package configclient is the HTTP client for the external config service:
// it resolves a team's effective configuration and mints short-lived
// impersonation tokens over a plain timeout-bounded net/http client.
package configclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// cacheTTL matches the credential cache TTL called out in spec §5: "the
// admin-auth cache has a short TTL (default 15s)"; effective-config reads
// use the looser 5 minute window shared with the credential store.
const cacheTTL = 5 * time.Minute

// TeamConfig is the subset of effective team config this system consumes.
// The hierarchical merge that produces it is out of scope (spec.md §1
// non-goals); this client only reads the result.
type TeamConfig struct {
	Routing struct {
		IncidentioTeamIDs        []string `json:"incidentio_team_ids,omitempty"`
		PagerdutyServiceIDs      []string `json:"pagerduty_service_ids,omitempty"`
		SlackChannelIDs          []string `json:"slack_channel_ids,omitempty"`
		GithubRepos              []string `json:"github_repos,omitempty"`
		CoralogixTeamNames       []string `json:"coralogix_team_names,omitempty"`
		IncidentioAlertSourceIDs []string `json:"incidentio_alert_source_ids,omitempty"`
		Services                 []string `json:"services,omitempty"`
	} `json:"routing"`
	Integrations map[string]IntegrationConfig `json:"integrations"`
	AIPipeline   struct {
		Enabled  bool   `json:"enabled"`
		Schedule string `json:"schedule,omitempty"`
	} `json:"ai_pipeline"`
	DependencyDiscovery struct {
		Enabled  bool   `json:"enabled"`
		Schedule string `json:"schedule,omitempty"`
	} `json:"dependency_discovery"`
	Agent struct {
		DedicatedServiceURL string `json:"dedicated_service_url,omitempty"`
	} `json:"agent"`
	LLM struct {
		Model string `json:"model,omitempty"`
	} `json:"llm"`
}

// IntegrationConfig is one entry of TeamConfig.Integrations.
type IntegrationConfig struct {
	APIKey             string     `json:"api_key,omitempty"`
	IsTrial            bool       `json:"is_trial,omitempty"`
	TrialExpiresAt     *time.Time `json:"trial_expires_at,omitempty"`
	SubscriptionStatus string     `json:"subscription_status,omitempty"`
}

// ImpersonationToken is a short-lived token a control-plane caller uses to
// act as a team without holding the team's long-lived token.
type ImpersonationToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Client is the HTTP client for the config service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	authToken  string
	logger     *slog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	cfg       *TeamConfig
	expiresAt time.Time
}

// New creates a config-service client. baseURL should not have a trailing
// slash. authToken authenticates this service to the config service.
func New(baseURL, authToken string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		authToken:  authToken,
		logger:     slog.Default(),
		cache:      make(map[string]cacheEntry),
	}
}

func cacheKey(org, team string) string { return org + "/" + team }

// GetEffectiveConfig returns the effective config for (org, team), serving
// from the 5-minute TTL cache when fresh.
func (c *Client) GetEffectiveConfig(ctx context.Context, org, team string) (*TeamConfig, error) {
	key := cacheKey(org, team)

	c.mu.Lock()
	if e, ok := c.cache[key]; ok && time.Now().Before(e.expiresAt) {
		c.mu.Unlock()
		return e.cfg, nil
	}
	c.mu.Unlock()

	var cfg TeamConfig
	path := fmt.Sprintf("/internal/teams/%s/%s/config", org, team)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &cfg); err != nil {
		return nil, fmt.Errorf("get effective config for %s/%s: %w", org, team, err)
	}

	c.mu.Lock()
	c.cache[key] = cacheEntry{cfg: &cfg, expiresAt: time.Now().Add(cacheTTL)}
	c.mu.Unlock()

	return &cfg, nil
}

// InvalidateCache drops the cached config for (org, team), called after a
// PatchTeamConfig so the next read observes the patch immediately.
func (c *Client) InvalidateCache(org, team string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, cacheKey(org, team))
}

// PatchTeamConfig merges patch into the team node's config.
func (c *Client) PatchTeamConfig(ctx context.Context, org, team string, patch map[string]any) error {
	path := fmt.Sprintf("/internal/teams/%s/%s/config", org, team)
	if err := c.doJSON(ctx, http.MethodPatch, path, patch, nil); err != nil {
		return fmt.Errorf("patch team config for %s/%s: %w", org, team, err)
	}
	c.InvalidateCache(org, team)
	return nil
}

// TriggerBootstrap starts the asynchronous pipeline bootstrap for (org,
// team) and returns its run handle without waiting for it to finish,
// matching spec.md §4.E step 5's "bootstrap" step.
func (c *Client) TriggerBootstrap(ctx context.Context, org, team string) (string, error) {
	path := fmt.Sprintf("/internal/teams/%s/%s/bootstrap", org, team)
	var resp struct {
		RunID string `json:"run_id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return "", fmt.Errorf("trigger pipeline bootstrap for %s/%s: %w", org, team, err)
	}
	return resp.RunID, nil
}

// TeamRef names one provisioned team.
type TeamRef struct {
	Org  string `json:"org"`
	Team string `json:"team"`
}

// ListTeams enumerates every team node the config service knows about,
// used by the orchestrator's CronJob sync to walk the fleet. Not cached:
// the sync runs rarely and must see teams provisioned moments ago.
func (c *Client) ListTeams(ctx context.Context) ([]TeamRef, error) {
	var resp struct {
		Teams []TeamRef `json:"teams"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/internal/teams", nil, &resp); err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	return resp.Teams, nil
}

// IssueImpersonationToken mints a short-lived token scoped to (org, team).
func (c *Client) IssueImpersonationToken(ctx context.Context, org, team string, scopes ...string) (*ImpersonationToken, error) {
	path := fmt.Sprintf("/internal/teams/%s/%s/impersonate", org, team)
	body := map[string]any{"scopes": scopes}

	var tok ImpersonationToken
	if err := c.doJSON(ctx, http.MethodPost, path, body, &tok); err != nil {
		return nil, fmt.Errorf("issue impersonation token for %s/%s: %w", org, team, err)
	}
	return &tok, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.authToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return &UpstreamError{StatusCode: resp.StatusCode, Body: readBody(resp.Body)}
	}
	if resp.StatusCode >= 400 {
		return &RequestError{StatusCode: resp.StatusCode, Body: readBody(resp.Body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func readBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 4096))
	return string(b)
}

// UpstreamError represents a 5xx from the config service; callers map this
// to the "upstream" error kind (502) per spec §7.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("config service upstream error (status %d): %s", e.StatusCode, e.Body)
}

// RequestError represents a 4xx from the config service.
type RequestError struct {
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("config service request error (status %d): %s", e.StatusCode, e.Body)
}
