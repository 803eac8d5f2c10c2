package agentsession

import "context"

// ToolExecutor runs a single tool invocation and returns its raw output.
// Implementations may dispatch to local scripts, the RAG tree cache, or the
// SSE command gateway; the session itself is tool-agnostic.
type ToolExecutor interface {
	Execute(ctx context.Context, toolName string, input map[string]any) (output string, err error)
}

// ToolExecutorFunc adapts a function to ToolExecutor.
type ToolExecutorFunc func(ctx context.Context, toolName string, input map[string]any) (string, error)

func (f ToolExecutorFunc) Execute(ctx context.Context, toolName string, input map[string]any) (string, error) {
	return f(ctx, toolName, input)
}

// AskUserQuestionTool is the fixed tool name that triggers the blocking
// permission callback instead of auto-allow + ToolExecutor dispatch.
const AskUserQuestionTool = "AskUserQuestion"
