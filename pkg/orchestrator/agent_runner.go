package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/incidentfox/ifox-core/pkg/configclient"
)

// AgentRunRequest is one admin-initiated agent run for a team.
type AgentRunRequest struct {
	Org       string         `json:"org"`
	Team      string         `json:"team"`
	AgentName string         `json:"agent_name"`
	Message   string         `json:"message"`
	Channel   string         `json:"channel,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// AgentRunResponse is the remote agent service's acknowledgement.
type AgentRunResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// AgentConfigSource is the subset of configclient.Client AgentRunner needs.
type AgentConfigSource interface {
	GetEffectiveConfig(ctx context.Context, org, team string) (*configclient.TeamConfig, error)
	IssueImpersonationToken(ctx context.Context, org, team string, scopes ...string) (*configclient.ImpersonationToken, error)
}

// RunRecorder observes every successfully dispatched run so the Audit
// Store can open its AgentRun row and the dashboard its run channel.
type RunRecorder interface {
	RecordDispatch(ctx context.Context, req *AgentRunRequest, resp *AgentRunResponse)
}

// AgentRunner dispatches admin-triggered agent runs: it resolves the
// team's agent endpoint (its dedicated Service if provisioned, the shared
// deployment otherwise), mints a short-lived impersonation token
// server-side so the admin caller never holds team credentials, and posts
// the run.
type AgentRunner struct {
	config     AgentConfigSource
	sharedURL  string
	httpClient *http.Client
	recorder   RunRecorder
}

// SetRecorder wires the audit-store recorder for dispatched runs.
func (r *AgentRunner) SetRecorder(rec RunRecorder) { r.recorder = rec }

// NewAgentRunner creates an AgentRunner. sharedURL is the shared agent
// deployment's base URL, used for teams without a dedicated Service.
func NewAgentRunner(config AgentConfigSource, sharedURL string) *AgentRunner {
	return &AgentRunner{
		config:     config,
		sharedURL:  sharedURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Run resolves, authenticates, and dispatches one agent run. Upstream
// failures surface as configclient.UpstreamError so the HTTP layer maps
// them to 502.
func (r *AgentRunner) Run(ctx context.Context, req *AgentRunRequest) (*AgentRunResponse, error) {
	cfg, err := r.config.GetEffectiveConfig(ctx, req.Org, req.Team)
	if err != nil {
		return nil, fmt.Errorf("resolve team config: %w", err)
	}

	baseURL := cfg.Agent.DedicatedServiceURL
	if baseURL == "" {
		baseURL = r.sharedURL
	}
	if baseURL == "" {
		return nil, fmt.Errorf("no agent endpoint configured for %s/%s", req.Org, req.Team)
	}

	token, err := r.config.IssueImpersonationToken(ctx, req.Org, req.Team, "agent:run")
	if err != nil {
		return nil, fmt.Errorf("mint impersonation token: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode agent run request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/v1/agent/runs", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build agent run request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token.Token)

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return nil, &configclient.UpstreamError{StatusCode: http.StatusBadGateway, Body: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &configclient.UpstreamError{StatusCode: resp.StatusCode, Body: string(payload)}
	}

	var out AgentRunResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode agent run response: %w", err)
	}
	if r.recorder != nil {
		r.recorder.RecordDispatch(ctx, req, &out)
	}
	return &out, nil
}
