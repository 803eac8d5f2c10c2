package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/incidentfox/ifox-core/pkg/config"
)

// HTTPLLMClient implements LLMClient against pkg/llmproxy's Anthropic
// Messages-shaped HTTP/SSE surface, replacing the retrieved teacher
// snapshot's gRPC Python-sidecar client (pkg/llm/client.go,
// pkg/agent/llm_grpc.go): SPEC_FULL's LLM Proxy fronts providers over
// HTTP, not gRPC, so this speaks the same wire shape the proxy emits on
// POST /v1/messages rather than a generated protobuf client.
type HTTPLLMClient struct {
	baseURL     string
	sandboxAuth string // bearer token presented to the proxy's ext-authz side channel
	httpClient  *http.Client
}

// NewHTTPLLMClient creates a client against an llmproxy.Server instance
// reachable at baseURL (e.g. "http://localhost:8090").
func NewHTTPLLMClient(baseURL, sandboxAuth string) *HTTPLLMClient {
	return &HTTPLLMClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		sandboxAuth: sandboxAuth,
		httpClient:  &http.Client{Timeout: 0}, // streaming: caller's context governs deadline
	}
}

// Close is a no-op: the client holds no persistent connection, unlike the
// gRPC client it replaces.
func (c *HTTPLLMClient) Close() error { return nil }

// anthropicReqMessage mirrors pkg/llmproxy's wire shape for one turn; kept
// local to avoid an import cycle with pkg/llmproxy (which does not import
// pkg/agent).
type anthropicReqMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicReq struct {
	Model     string                `json:"model"`
	Messages  []anthropicReqMessage `json:"messages"`
	System    string                `json:"system,omitempty"`
	MaxTokens int                   `json:"max_tokens"`
	Stream    bool                  `json:"stream"`
	Tools     []anthropicReqTool    `json:"tools,omitempty"`
}

type anthropicReqTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Generate sends input to the proxy and streams back the translated
// Anthropic SSE events as Chunk values.
func (c *HTTPLLMClient) Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error) {
	req, err := c.buildRequest(ctx, input)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm proxy request failed: %w", err)
	}

	out := make(chan Chunk, 16)
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		var body struct {
			Error struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		out <- &ErrorChunk{Message: body.Error.Message, Code: body.Error.Type, Retryable: resp.StatusCode >= 500}
		close(out)
		return out, nil
	}

	go c.streamChunks(resp, out)
	return out, nil
}

func (c *HTTPLLMClient) buildRequest(ctx context.Context, input *GenerateInput) (*http.Request, error) {
	var system string
	messages := make([]anthropicReqMessage, 0, len(input.Messages))
	for _, m := range input.Messages {
		if m.Role == RoleSystem {
			system = m.Content
			continue
		}
		role := m.Role
		if role == RoleTool {
			role = RoleUser
		}
		messages = append(messages, anthropicReqMessage{Role: role, Content: m.Content})
	}

	maxTokens := 4096
	if input.Config != nil && input.Config.MaxToolResultTokens > 0 {
		maxTokens = input.Config.MaxToolResultTokens
	}

	body := anthropicReq{
		Model:     modelFor(input.Config),
		Messages:  messages,
		System:    system,
		MaxTokens: maxTokens,
		Stream:    true,
	}
	for _, td := range input.Tools {
		body.Tools = append(body.Tools, anthropicReqTool{
			Name:        td.Name,
			Description: td.Description,
			InputSchema: json.RawMessage(td.ParametersSchema),
		})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode llm proxy request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.sandboxAuth != "" {
		req.Header.Set("Authorization", "Bearer "+c.sandboxAuth)
	}
	req.Header.Set("X-Session-Id", input.SessionID)
	req.Header.Set("X-Execution-Id", input.ExecutionID)
	return req, nil
}

func modelFor(cfg *config.LLMProviderConfig) string {
	if cfg == nil || cfg.Model == "" {
		return "default"
	}
	return cfg.Model
}

// sseEvent mirrors pkg/llmproxy.AnthropicSSEEvent's wire shape.
type sseEvent struct {
	Event string
	Data  []byte
}

// streamChunks reads the proxy's Anthropic SSE stream line by line and
// translates it into Chunk values. Unlike the gRPC client this replaces,
// there is no generated stub: the translation is driven directly off the
// documented event sequence in pkg/llmproxy/stream.go's doc comment
// (message_start, content_block_start/delta/stop*, message_delta, message_stop).
func (c *HTTPLLMClient) streamChunks(resp *http.Response, out chan<- Chunk) {
	defer resp.Body.Close()
	defer close(out)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var evt sseEvent
	toolNames := map[int]string{}
	toolIDs := map[int]string{}
	toolArgs := map[int]*bytes.Buffer{}

	flush := func() {
		if evt.Event == "" {
			return
		}
		c.handleEvent(evt, out, toolNames, toolIDs, toolArgs)
		evt = sseEvent{}
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "event: "):
			evt.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			evt.Data = append(evt.Data, []byte(strings.TrimPrefix(line, "data: "))...)
		}
	}
	flush()
}

func (c *HTTPLLMClient) handleEvent(evt sseEvent, out chan<- Chunk, toolNames, toolIDs map[int]string, toolArgs map[int]*bytes.Buffer) {
	switch evt.Event {
	case "content_block_start":
		var payload struct {
			Index        int `json:"index"`
			ContentBlock struct {
				Type string `json:"type"`
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"content_block"`
		}
		if json.Unmarshal(evt.Data, &payload) != nil {
			return
		}
		if payload.ContentBlock.Type == "tool_use" {
			toolNames[payload.Index] = payload.ContentBlock.Name
			toolIDs[payload.Index] = payload.ContentBlock.ID
			toolArgs[payload.Index] = &bytes.Buffer{}
		}
	case "content_block_delta":
		var payload struct {
			Index int `json:"index"`
			Delta struct {
				Type        string `json:"type"`
				Text        string `json:"text"`
				PartialJSON string `json:"partial_json"`
			} `json:"delta"`
		}
		if json.Unmarshal(evt.Data, &payload) != nil {
			return
		}
		switch payload.Delta.Type {
		case "text_delta":
			out <- &TextChunk{Content: payload.Delta.Text}
		case "input_json_delta":
			if buf, ok := toolArgs[payload.Index]; ok {
				buf.WriteString(payload.Delta.PartialJSON)
			}
		}
	case "content_block_stop":
		var payload struct {
			Index int `json:"index"`
		}
		if json.Unmarshal(evt.Data, &payload) != nil {
			return
		}
		if name, ok := toolNames[payload.Index]; ok {
			out <- &ToolCallChunk{
				CallID:    toolIDs[payload.Index],
				Name:      name,
				Arguments: toolArgs[payload.Index].String(),
			}
			delete(toolNames, payload.Index)
			delete(toolIDs, payload.Index)
			delete(toolArgs, payload.Index)
		}
	case "message_delta":
		var payload struct {
			Usage struct {
				InputTokens  int `json:"input_tokens"`
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
		}
		if json.Unmarshal(evt.Data, &payload) != nil {
			return
		}
		out <- &UsageChunk{
			InputTokens:  payload.Usage.InputTokens,
			OutputTokens: payload.Usage.OutputTokens,
			TotalTokens:  payload.Usage.InputTokens + payload.Usage.OutputTokens,
		}
	case "error":
		var payload struct {
			Error struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(evt.Data, &payload) != nil {
			return
		}
		out <- &ErrorChunk{Message: payload.Error.Message, Code: payload.Error.Type}
	}
}

// SandboxTokenFromEnv reads the sandbox JWT this process presents to the
// LLM proxy's ext-authz side channel, matching how the proxy's Authorizer
// verifies it on the receiving end (pkg/llmproxy/authz).
func SandboxTokenFromEnv() string {
	return os.Getenv("IFOX_SANDBOX_TOKEN")
}
