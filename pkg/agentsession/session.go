package agentsession

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/incidentfox/ifox-core/pkg/agent"
)

var tracer = otel.Tracer("github.com/incidentfox/ifox-core/pkg/agentsession")

// Session owns one LLM conversation bound to a single thread_id. It is not
// safe to share across threads: callers create one Session per thread and
// serialize Execute/Interrupt/ProvideAnswer calls on it (pkg/session's
// Manager is that caller in production).
type Session struct {
	ThreadID string

	llm      agent.LLMClient
	tools    ToolExecutor
	events   chan Event
	execTO   time.Duration
	workRoot string

	mu         sync.Mutex
	messages   []agent.ConversationMessage
	parentOf   map[string]string // tool_use_id -> parent_tool_use_id
	postToolQ  []Event           // tool_end events queued by the post-tool hook, drained before next thought/tool_start
	cancelFunc context.CancelFunc
	closed     bool

	answerMu  sync.Mutex
	answerCh  chan []Answer // set while a question is pending; nil otherwise
	pendingQs map[string]Question
}

// Option configures a Session at construction time.
type Option func(*Session)

// WithExecuteTimeout overrides the default 10 minute per-Execute deadline.
func WithExecuteTimeout(d time.Duration) Option {
	return func(s *Session) { s.execTO = d }
}

// WithWorkspaceRoot sets the single root directory image/file harvesting is
// confined to. Harvesting is a no-op without one set.
func WithWorkspaceRoot(root string) Option {
	return func(s *Session) { s.workRoot = root }
}

// New creates a Session for threadID. events is the single consumer channel;
// the Session is the only writer and never closes it (callers stop reading
// once Close returns).
func New(threadID string, llm agent.LLMClient, tools ToolExecutor, events chan Event, opts ...Option) *Session {
	s := &Session{
		ThreadID:  threadID,
		llm:       llm,
		tools:     tools,
		events:    events,
		execTO:    defaultExecuteTimeout,
		parentOf:  make(map[string]string),
		pendingQs: make(map[string]Question),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Session) emit(e Event) {
	e.EmittedAt = time.Now()
	s.events <- e
}

// drainPostToolQueue flushes any tool_end events queued by the post-tool
// hook. Called before every thought/tool_start and unconditionally at the
// end of Execute, per the "always drained at session end" contract.
func (s *Session) drainPostToolQueue() {
	s.mu.Lock()
	q := s.postToolQ
	s.postToolQ = nil
	s.mu.Unlock()
	for _, e := range q {
		s.emit(e)
	}
}

// Execute runs one conversational turn: sends prompt (and optional images)
// to the LLM, drives tool calls to completion, and terminates with exactly
// one of result/error. It returns once the turn is closed; Interrupt may be
// called concurrently from another goroutine to cut it short.
func (s *Session) Execute(ctx context.Context, prompt string, images []string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	execCtx, cancel := context.WithTimeout(ctx, s.execTO)
	execCtx, span := tracer.Start(execCtx, "agentsession.Execute")
	span.SetAttributes(attribute.String("thread_id", s.ThreadID))
	defer span.End()
	s.cancelFunc = cancel
	s.messages = append(s.messages, agent.ConversationMessage{Role: agent.RoleUser, Content: prompt})
	messages := append([]agent.ConversationMessage(nil), s.messages...)
	s.mu.Unlock()
	defer cancel()
	defer s.drainPostToolQueue()

	chunks, err := s.llm.Generate(execCtx, &agent.GenerateInput{Messages: messages})
	if err != nil {
		s.emit(Event{Type: EventError, Message: s.friendlyLLMError(err), Recoverable: false})
		return
	}

	var currentText string
	var finalErr error
	interrupted := false

loop:
	for {
		var ch agent.Chunk
		var ok bool
		select {
		case <-execCtx.Done():
			if execCtx.Err() == context.DeadlineExceeded {
				s.emit(Event{Type: EventError, Message: "agent execution timed out", Recoverable: false})
				return
			}
			interrupted = true
			break loop
		case ch, ok = <-chunks:
			if !ok {
				break loop
			}
		}

		switch c := ch.(type) {
		case *agent.TextChunk:
			if c.Content == "" {
				continue
			}
			currentText += c.Content
			s.drainPostToolQueue()
			s.emit(Event{Type: EventThought, Text: c.Content})
		case *agent.ToolCallChunk:
			s.drainPostToolQueue()
			s.handleToolCall(execCtx, c)
		case *agent.ErrorChunk:
			finalErr = fmt.Errorf("%s", s.friendlyLLMErrorMessage(c))
		}
	}

	if interrupted {
		s.drainPostToolQueue()
		s.emit(Event{Type: EventResult, Subtype: ResultSubtypeInterrupted, Success: false})
		return
	}
	if finalErr != nil {
		s.drainPostToolQueue()
		s.emit(Event{Type: EventError, Message: finalErr.Error(), Recoverable: false})
		return
	}

	s.mu.Lock()
	s.messages = append(s.messages, agent.ConversationMessage{Role: agent.RoleAssistant, Content: currentText})
	s.mu.Unlock()

	s.drainPostToolQueue()
	images, files := s.harvest(currentText)
	s.emit(Event{Type: EventResult, Subtype: ResultSubtypeSuccess, Text: currentText, Success: true, Images: images, Files: files})
}

// handleToolCall dispatches one LLM tool call: AskUserQuestion blocks on the
// permission callback, everything else auto-allows through the
// ToolExecutor. Either path queues its tool_end on the post-tool hook.
func (s *Session) handleToolCall(ctx context.Context, c *agent.ToolCallChunk) {
	var input map[string]any
	_ = json.Unmarshal([]byte(c.Arguments), &input)
	if input == nil {
		input = map[string]any{}
	}
	parent, _ := input["parent_tool_use_id"].(string)

	s.mu.Lock()
	if parent != "" {
		s.parentOf[c.CallID] = parent
	}
	s.mu.Unlock()

	s.emit(Event{Type: EventToolStart, ToolName: c.Name, ToolUseID: c.CallID, Input: input, ParentToolUseID: parent})

	if c.Name == AskUserQuestionTool {
		s.handleAskUserQuestion(ctx, c.CallID, input, parent)
		return
	}

	output, err := s.tools.Execute(ctx, c.Name, input)
	s.queueToolEnd(c.CallID, c.Name, parent, err == nil, truncatePreview(output))
}

func (s *Session) handleAskUserQuestion(ctx context.Context, toolUseID string, input map[string]any, parent string) {
	questions := parseQuestions(input)

	s.answerMu.Lock()
	s.answerCh = make(chan []Answer, 1)
	s.pendingQs = make(map[string]Question, len(questions))
	for _, q := range questions {
		s.pendingQs[q.ID] = q
	}
	ch := s.answerCh
	s.answerMu.Unlock()

	s.emit(Event{Type: EventQuestion, Questions: questions, ToolUseID: toolUseID, ParentToolUseID: parent})

	timer := time.NewTimer(questionWaitTimeout)
	defer timer.Stop()

	select {
	case answers := <-ch:
		input["answers"] = answers
		s.queueToolEnd(toolUseID, AskUserQuestionTool, parent, true, "answers received")
	case <-timer.C:
		s.answerMu.Lock()
		s.answerCh = nil
		s.answerMu.Unlock()
		s.emit(Event{Type: EventQuestionTimeout, ToolUseID: toolUseID})
		s.queueToolEnd(toolUseID, AskUserQuestionTool, parent, false, "user did not respond, continue without")
	case <-ctx.Done():
	}
}

// ProvideAnswer delivers answers for the single outstanding question set.
// Returns false if no question is currently pending (already timed out or
// none was asked).
func (s *Session) ProvideAnswer(answers []Answer) bool {
	s.answerMu.Lock()
	ch := s.answerCh
	s.answerCh = nil
	s.answerMu.Unlock()
	if ch == nil {
		return false
	}
	ch <- answers
	return true
}

func (s *Session) queueToolEnd(toolUseID, name, parent string, success bool, output string) {
	e := Event{Type: EventToolEnd, ToolName: name, ToolUseID: toolUseID, ParentToolUseID: parent, Success: success, Output: output}
	s.mu.Lock()
	s.postToolQ = append(s.postToolQ, e)
	s.mu.Unlock()
}

func truncatePreview(output string) string {
	if len(output) <= postToolPreviewCap {
		return output
	}
	return output[:postToolPreviewCap]
}

func parseQuestions(input map[string]any) []Question {
	raw, _ := input["questions"].([]any)
	out := make([]Question, 0, len(raw))
	for i, r := range raw {
		m, _ := r.(map[string]any)
		id, _ := m["id"].(string)
		if id == "" {
			id = fmt.Sprintf("q%d", i)
		}
		text, _ := m["text"].(string)
		var opts []string
		if rawOpts, ok := m["options"].([]any); ok {
			for _, o := range rawOpts {
				if s, ok := o.(string); ok {
					opts = append(opts, s)
				}
			}
		}
		out = append(out, Question{ID: id, Text: text, Options: opts})
	}
	return out
}

// Interrupt stops the in-flight LLM read, emits exactly one synthetic
// result(subtype="interrupted"), and returns the session to ready for
// another Execute. It is safe to call when no execution is in flight.
func (s *Session) Interrupt() {
	s.mu.Lock()
	cancel := s.cancelFunc
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close marks the session terminal; further Execute calls are no-ops.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	cancel := s.cancelFunc
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Session) friendlyLLMError(err error) string {
	return friendlyLLMMessage(err.Error())
}

func (s *Session) friendlyLLMErrorMessage(c *agent.ErrorChunk) string {
	return friendlyLLMMessage(c.Message)
}
