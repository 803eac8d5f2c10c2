// Package session manages the per-thread interactive agent sessions behind
// the thread HTTP surface: one agentsession.Session per thread_id, each
// with a progress renderer consuming its event stream and publishing
// debounced updates to the dashboard's event channels.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/incidentfox/ifox-core/pkg/agent"
	"github.com/incidentfox/ifox-core/pkg/agentsession"
	"github.com/incidentfox/ifox-core/pkg/events"
	"github.com/incidentfox/ifox-core/pkg/progress"
)

// eventBuffer sizes each thread's event channel. The renderer drains
// continuously; the buffer only absorbs bursts between scheduler ticks.
const eventBuffer = 64

// ErrThreadBusy is returned by Execute while a prior turn is in flight.
var ErrThreadBusy = fmt.Errorf("thread is already executing a turn")

// Option configures a Manager.
type Option func(*Manager)

// WithExecuteTimeout overrides the per-turn deadline passed to each
// thread's session.
func WithExecuteTimeout(d time.Duration) Option {
	return func(m *Manager) { m.execTO = d }
}

// WithWorkspaceRoot confines image/file harvesting to root.
func WithWorkspaceRoot(root string) Option {
	return func(m *Manager) { m.workRoot = root }
}

// WithEventPublisher additionally forwards thought deltas (as transient
// stream chunks) and pending questions to the dashboard's event channels.
func WithEventPublisher(pub *events.EventPublisher) Option {
	return func(m *Manager) { m.eventsPub = pub }
}

// Manager owns every live thread. It is safe for concurrent use; per-turn
// serialization within one thread is enforced here so the underlying
// Session never sees overlapping Execute calls.
type Manager struct {
	llm       agent.LLMClient
	tools     agentsession.ToolExecutor
	publisher progress.Publisher
	eventsPub *events.EventPublisher
	execTO    time.Duration
	workRoot  string

	mu      sync.Mutex
	threads map[string]*Thread
	baseCtx context.Context
	stop    context.CancelFunc
}

// NewManager creates a Manager. publisher receives every thread's debounced
// progress updates.
func NewManager(llm agent.LLMClient, tools agentsession.ToolExecutor, publisher progress.Publisher, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		llm:       llm,
		tools:     tools,
		publisher: publisher,
		threads:   make(map[string]*Thread),
		baseCtx:   ctx,
		stop:      cancel,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// getOrCreate returns the live thread for threadID, creating it (and
// starting its renderer) on first use. Caller must hold m.mu.
func (m *Manager) getOrCreateLocked(threadID string) *Thread {
	if t, ok := m.threads[threadID]; ok {
		return t
	}

	eventCh := make(chan agentsession.Event, eventBuffer)
	opts := []agentsession.Option{}
	if m.execTO > 0 {
		opts = append(opts, agentsession.WithExecuteTimeout(m.execTO))
	}
	if m.workRoot != "" {
		opts = append(opts, agentsession.WithWorkspaceRoot(m.workRoot))
	}

	threadCtx, cancel := context.WithCancel(m.baseCtx)
	t := &Thread{
		ID:         threadID,
		session:    agentsession.New(threadID, m.llm, m.tools, eventCh, opts...),
		events:     eventCh,
		renderer:   progress.NewRenderer(threadID, m.publisher),
		cancel:     cancel,
		status:     StatusIdle,
		lastUsedAt: time.Now(),
	}
	m.threads[threadID] = t

	go m.consumeEvents(threadCtx, t)

	return t
}

// consumeEvents is the thread's single event consumer: every event feeds
// the progress renderer, and — when an event publisher is wired — thought
// deltas go out as transient stream chunks and pending questions as
// persisted thread.question events.
func (m *Manager) consumeEvents(ctx context.Context, t *Thread) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-t.events:
			if !ok {
				return
			}
			t.renderer.HandleEvent(ctx, ev)
			m.forwardEvent(ctx, t.ID, ev)
		}
	}
}

func (m *Manager) forwardEvent(ctx context.Context, threadID string, ev agentsession.Event) {
	if m.eventsPub == nil {
		return
	}
	switch ev.Type {
	case agentsession.EventThought:
		_ = m.eventsPub.PublishStreamChunk(ctx, threadID, events.StreamChunkPayload{
			Type:      events.EventTypeStreamChunk,
			ThreadID:  threadID,
			Delta:     ev.Text,
			Timestamp: time.Now().Format(time.RFC3339Nano),
		})
	case agentsession.EventQuestion:
		questions := make([]events.QuestionEntry, len(ev.Questions))
		for i, q := range ev.Questions {
			questions[i] = events.QuestionEntry{ID: q.ID, Text: q.Text, Options: q.Options}
		}
		if err := m.eventsPub.PublishThreadQuestion(ctx, threadID, events.ThreadQuestionPayload{
			Type:      events.EventTypeThreadQuestion,
			ThreadID:  threadID,
			ToolUseID: ev.ToolUseID,
			Questions: questions,
			Timestamp: time.Now().Format(time.RFC3339Nano),
		}); err != nil {
			slog.Warn("failed to publish thread question", "thread_id", threadID, "error", err)
		}
	}
}

// Execute starts one conversational turn on threadID, creating the thread
// on first use. It returns immediately; progress is observable through the
// publisher. At most one turn runs per thread at a time.
func (m *Manager) Execute(ctx context.Context, threadID, prompt string, images []string) error {
	m.mu.Lock()
	t := m.getOrCreateLocked(threadID)
	if t.status == StatusExecuting || t.status == StatusAwaitingAnswer {
		m.mu.Unlock()
		return ErrThreadBusy
	}
	t.status = StatusExecuting
	t.lastUsedAt = time.Now()
	session := t.session
	t.renderer.Reset()
	m.mu.Unlock()

	go func() {
		session.Execute(ctx, prompt, images)
		m.mu.Lock()
		if cur, ok := m.threads[threadID]; ok && cur == t && cur.status != StatusClosed {
			cur.status = StatusIdle
			cur.lastUsedAt = time.Now()
		}
		m.mu.Unlock()
	}()
	return nil
}

// Answer delivers the user's answers for the thread's pending question.
// Returns false when no question is pending (already timed out, or none
// was asked).
func (m *Manager) Answer(threadID string, answers []agentsession.Answer) bool {
	m.mu.Lock()
	t, ok := m.threads[threadID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	return t.session.ProvideAnswer(answers)
}

// Interrupt stops threadID's in-flight turn, if any.
func (m *Manager) Interrupt(threadID string) bool {
	m.mu.Lock()
	t, ok := m.threads[threadID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	t.session.Interrupt()
	return true
}

// Close tears a thread down. Idempotent.
func (m *Manager) Close(threadID string) {
	m.mu.Lock()
	t, ok := m.threads[threadID]
	if ok {
		delete(m.threads, threadID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	t.status = StatusClosed
	t.session.Close()
	t.cancel()
}

// Get returns a snapshot of one thread, or ok=false.
func (m *Manager) Get(threadID string) (ThreadInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[threadID]
	if !ok {
		return ThreadInfo{}, false
	}
	return ThreadInfo{ID: t.ID, Status: t.status, LastUsedAt: t.lastUsedAt}, true
}

// List returns a snapshot of every live thread.
func (m *Manager) List() []ThreadInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ThreadInfo, 0, len(m.threads))
	for _, t := range m.threads {
		out = append(out, ThreadInfo{ID: t.ID, Status: t.status, LastUsedAt: t.lastUsedAt})
	}
	return out
}

// Stop closes every thread and stops all renderers. Called on shutdown.
func (m *Manager) Stop() {
	m.mu.Lock()
	threads := make([]*Thread, 0, len(m.threads))
	for _, t := range m.threads {
		threads = append(threads, t)
	}
	m.threads = make(map[string]*Thread)
	m.mu.Unlock()

	for _, t := range threads {
		t.session.Close()
		t.cancel()
	}
	m.stop()
}

// ProgressEventPublisher adapts events.EventPublisher to
// progress.Publisher: each thread's debounced updates are persisted and
// broadcast on its thread channel, so a reconnecting dashboard catches up
// from the events table instead of missing updates.
type ProgressEventPublisher struct {
	pub *events.EventPublisher
}

// NewProgressEventPublisher wraps pub.
func NewProgressEventPublisher(pub *events.EventPublisher) *ProgressEventPublisher {
	return &ProgressEventPublisher{pub: pub}
}

// PublishProgressUpdate implements progress.Publisher.
func (p *ProgressEventPublisher) PublishProgressUpdate(ctx context.Context, update progress.Update) error {
	phases := make([]events.PhaseSnapshot, len(update.Phases))
	for i, ph := range update.Phases {
		phases[i] = events.PhaseSnapshot{
			Name:      ph.Name,
			Status:    string(ph.Status),
			ToolCalls: ph.ToolCalls,
		}
	}
	return p.pub.PublishProgressUpdate(ctx, update.SessionID, events.ProgressUpdatePayload{
		Type:       events.EventTypeProgressUpdate,
		ThreadID:   update.SessionID,
		Phases:     phases,
		Summary:    update.Summary,
		Findings:   update.Findings,
		Confidence: update.Confidence,
		Final:      update.Final,
		Truncated:  update.Truncated,
		Timestamp:  time.Now().Format(time.RFC3339Nano),
	})
}
