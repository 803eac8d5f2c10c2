package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/r3labs/sse/v2"
)

// Dispatcher runs one command and returns its result, matching Executor's
// shape so tests can substitute a fake without standing up Kubernetes.
type Dispatcher interface {
	Run(ctx context.Context, command string, params map[string]any) (any, error)
}

// AgentClient is the in-cluster side of the gateway: it opens the
// long-lived GET to /agent/connect, dispatches commands to Dispatcher, and
// posts results back, reconnecting with exponential backoff on any stream
// error. Grounded on
// _examples/teradata-labs-loom/pkg/mcp/transport/http.go's r3labs/sse
// client usage, generalized to the connected/command/heartbeat event
// vocabulary and a resettable backoff loop instead of a single
// best-effort subscribe.
type AgentClient struct {
	baseURL     string
	bearerToken string
	clusterID   string
	dispatcher  Dispatcher
	healthFile  string
	httpClient  *http.Client
	delay       time.Duration
	established atomic.Bool // set when the server acks with `connected`
}

// NewAgentClient creates an AgentClient. healthFile, if non-empty, is
// written on `connected` and removed on shutdown, consumed by the pod's
// liveness probe.
func NewAgentClient(baseURL, bearerToken, clusterID string, dispatcher Dispatcher, healthFile string) *AgentClient {
	return &AgentClient{
		baseURL:     baseURL,
		bearerToken: bearerToken,
		clusterID:   clusterID,
		dispatcher:  dispatcher,
		healthFile:  healthFile,
		httpClient:  &http.Client{Timeout: 20 * time.Second},
		delay:       reconnectInitial,
	}
}

// Run drives the reconnect loop until ctx is cancelled. A running agent
// never gives up on its own; shutdown is signal-driven via ctx.
func (a *AgentClient) Run(ctx context.Context) {
	defer a.removeHealthFile()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := a.connectOnce(ctx); err != nil {
			// A stream that made it to the `connected` ack was a successful
			// connection; its later drop starts backoff from initial again
			// rather than compounding across healthy sessions.
			if a.established.Swap(false) {
				a.delay = reconnectInitial
			}
			slog.Warn("gateway: agent connection failed, backing off", "error", err, "delay", a.delay)
			select {
			case <-time.After(a.delay):
			case <-ctx.Done():
				return
			}
			a.delay *= reconnectMultiplier
			if a.delay > reconnectMax {
				a.delay = reconnectMax
			}
			continue
		}
		a.established.Store(false)
		a.delay = reconnectInitial
	}
}

func (a *AgentClient) connectOnce(ctx context.Context) error {
	client := sse.NewClient(a.baseURL + "/agent/connect")
	client.Headers["Authorization"] = "Bearer " + a.bearerToken

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	streamErr := make(chan error, 1)
	client.OnDisconnect(func(c *sse.Client) {
		select {
		case streamErr <- fmt.Errorf("stream disconnected"):
		default:
		}
	})

	go func() {
		err := client.SubscribeRawWithContext(streamCtx, func(msg *sse.Event) {
			a.handleEvent(ctx, string(msg.Event), msg.Data)
		})
		select {
		case streamErr <- err:
		default:
		}
	}()

	select {
	case err := <-streamErr:
		return err
	case <-ctx.Done():
		return nil
	}
}

func (a *AgentClient) handleEvent(ctx context.Context, event string, data []byte) {
	switch EventType(event) {
	case EventConnected:
		var payload ConnectedPayload
		if err := json.Unmarshal(data, &payload); err == nil {
			a.established.Store(true)
			a.writeHealthFile()
		}
	case EventCommand:
		var cmd CommandPayload
		if err := json.Unmarshal(data, &cmd); err != nil {
			return
		}
		go a.executeAndRespond(ctx, cmd)
	case EventHeartbeat:
		// Observed only.
	}
}

func (a *AgentClient) executeAndRespond(ctx context.Context, cmd CommandPayload) {
	result, err := a.dispatcher.Run(ctx, cmd.Command, cmd.Params)
	resp := CommandResponse{RequestID: cmd.RequestID}
	if err != nil {
		resp.OK = false
		resp.Error = err.Error()
	} else {
		resp.OK = true
		resp.Result = result
	}
	if postErr := a.postResponse(ctx, resp); postErr != nil {
		// Best-effort delivery: log and move on, per spec.md §4.H. The
		// command is never retried by the agent.
		slog.Warn("gateway: failed to deliver command response", "request_id", cmd.RequestID, "error", postErr)
	}
}

func (a *AgentClient) postResponse(ctx context.Context, resp CommandResponse) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/agent/response/%s", a.baseURL, resp.RequestID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.bearerToken)

	httpResp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode >= 300 {
		return fmt.Errorf("response delivery failed with status %d", httpResp.StatusCode)
	}
	return nil
}

func (a *AgentClient) writeHealthFile() {
	if a.healthFile == "" {
		return
	}
	if err := os.WriteFile(a.healthFile, []byte("ok"), 0o644); err != nil {
		slog.Warn("gateway: failed to write health file", "path", a.healthFile, "error", err)
	}
}

func (a *AgentClient) removeHealthFile() {
	if a.healthFile == "" {
		return
	}
	_ = os.Remove(a.healthFile)
}
