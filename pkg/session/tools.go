package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/incidentfox/ifox-core/pkg/agent"
	"github.com/incidentfox/ifox-core/pkg/gateway"
	"github.com/incidentfox/ifox-core/pkg/ragcache"
)

// clusterCommands is the closed set of tool names routed to the SSE
// command gateway's in-cluster executor.
var clusterCommands = map[string]bool{
	gateway.CommandListPods:           true,
	gateway.CommandGetPodLogs:         true,
	gateway.CommandDescribePod:        true,
	gateway.CommandGetPodEvents:       true,
	gateway.CommandDescribeDeployment: true,
	gateway.CommandListNamespaces:     true,
}

// CompositeToolExecutor routes a thread session's tool calls to their
// backend: Kubernetes commands to the SSE command gateway, knowledge
// queries to the RAG tree cache, everything else to the MCP executor. It
// implements agentsession.ToolExecutor.
type CompositeToolExecutor struct {
	gw             *gateway.Server
	rag            *ragcache.Cache
	mcp            agent.ToolExecutor
	defaultCluster string
}

// NewCompositeToolExecutor creates the router. Any backend may be nil;
// calls for a missing backend fail with a tool error rather than a panic.
func NewCompositeToolExecutor(gw *gateway.Server, rag *ragcache.Cache, mcp agent.ToolExecutor, defaultCluster string) *CompositeToolExecutor {
	return &CompositeToolExecutor{gw: gw, rag: rag, mcp: mcp, defaultCluster: defaultCluster}
}

// Execute implements agentsession.ToolExecutor.
func (e *CompositeToolExecutor) Execute(ctx context.Context, toolName string, input map[string]any) (string, error) {
	switch {
	case clusterCommands[toolName]:
		return e.executeClusterCommand(ctx, toolName, input)
	case toolName == "knowledge_search":
		return e.executeKnowledgeSearch(ctx, input)
	case toolName == "knowledge_answer":
		return e.executeKnowledgeAnswer(ctx, input)
	}
	return e.executeMCP(ctx, toolName, input)
}

func (e *CompositeToolExecutor) executeClusterCommand(ctx context.Context, command string, input map[string]any) (string, error) {
	if e.gw == nil {
		return "", fmt.Errorf("no command gateway configured")
	}
	cluster, _ := input["cluster_id"].(string)
	if cluster == "" {
		cluster = e.defaultCluster
	}

	resp, err := e.gw.Dispatch(ctx, cluster, command, input)
	if err != nil {
		return "", fmt.Errorf("dispatch %s to cluster %s: %w", command, cluster, err)
	}
	if !resp.OK {
		return "", fmt.Errorf("%s failed: %s", command, resp.Error)
	}
	out, err := json.Marshal(resp.Result)
	if err != nil {
		return "", fmt.Errorf("encode %s result: %w", command, err)
	}
	return string(out), nil
}

func (e *CompositeToolExecutor) executeKnowledgeSearch(ctx context.Context, input map[string]any) (string, error) {
	if e.rag == nil {
		return "", fmt.Errorf("no knowledge base configured")
	}
	query, _ := input["query"].(string)
	tree, _ := input["tree"].(string)
	topK := intArg(input, "top_k", 10)

	results, err := e.rag.Search(ctx, query, topK, tree)
	if err != nil {
		return "", fmt.Errorf("knowledge search: %w", err)
	}
	out, err := json.Marshal(map[string]any{"results": results})
	if err != nil {
		return "", fmt.Errorf("encode search results: %w", err)
	}
	return string(out), nil
}

func (e *CompositeToolExecutor) executeKnowledgeAnswer(ctx context.Context, input map[string]any) (string, error) {
	if e.rag == nil {
		return "", fmt.Errorf("no knowledge base configured")
	}
	question, _ := input["question"].(string)
	tree, _ := input["tree"].(string)
	topK := intArg(input, "top_k", 10)

	answer, err := e.rag.Answer(ctx, question, topK, tree)
	if err != nil {
		return "", fmt.Errorf("knowledge answer: %w", err)
	}
	out, err := json.Marshal(answer)
	if err != nil {
		return "", fmt.Errorf("encode answer: %w", err)
	}
	return string(out), nil
}

func (e *CompositeToolExecutor) executeMCP(ctx context.Context, toolName string, input map[string]any) (string, error) {
	if e.mcp == nil {
		return "", fmt.Errorf("unknown tool %q", toolName)
	}
	args, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("encode tool arguments: %w", err)
	}
	result, err := e.mcp.Execute(ctx, agent.ToolCall{Name: toolName, Arguments: string(args)})
	if err != nil {
		return "", err
	}
	if result.IsError {
		return "", fmt.Errorf("%s", result.Content)
	}
	return result.Content, nil
}

func intArg(input map[string]any, key string, def int) int {
	switch v := input[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}
