// Package progress implements the chat-surface progress renderer of
// spec.md §4.K: it consumes a Session's typed event stream and turns tool
// activity into a small number of debounced phase-state updates, rather
// than forwarding every event. Block Kit/markdown rendering itself is an
// explicit non-goal (spec.md §1) and lives outside this package; Renderer
// only produces the typed Update payload a chat-surface adapter renders.
package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/incidentfox/ifox-core/pkg/agentsession"
)

// PhaseStatus is one of the states a phase moves through.
type PhaseStatus string

const (
	PhasePending PhaseStatus = "pending"
	PhaseRunning PhaseStatus = "running"
	PhaseDone    PhaseStatus = "done"
	PhaseFailed  PhaseStatus = "failed"
)

// RootCausePhase is always included at Finalize, regardless of whether any
// tool ran in it, per spec.md §4.K's "Finalize" rule.
const RootCausePhase = "root_cause_analysis"

// debounceWindow bounds how often a Renderer dispatches an Update: no
// update is pushed sooner than this after the previous one.
const debounceWindow = 2 * time.Second

// defaultBlockLimit is the chat-surface block limit update payloads are
// truncated to (spec.md §4.K). Grounded on no single numeric constant
// from the teacher — Slack's own block text limit is the closest ambient
// precedent — and is overridable via WithBlockLimit for surfaces with a
// different cap.
const defaultBlockLimit = 3000

const truncationMarker = "\n[content truncated]"

// PhaseState is the externally visible state of one progress phase.
type PhaseState struct {
	Name      string      `json:"name"`
	Status    PhaseStatus `json:"status"`
	ToolCalls int         `json:"tool_calls"`
}

// Update is the payload Renderer dispatches to Publisher. Summary is the
// block-limit-truncated rendered text; Phases is the full structured state
// for consumers that render their own layout.
type Update struct {
	SessionID  string       `json:"session_id"`
	Phases     []PhaseState `json:"phases"`
	Summary    string       `json:"summary"`
	Findings   string       `json:"findings,omitempty"`
	Confidence *float64     `json:"confidence,omitempty"`
	Final      bool         `json:"final"`
	Truncated  bool         `json:"truncated"`
}

// Publisher delivers a rendered Update to the chat surface. Implemented in
// production by the durable events-table adapter in pkg/session and the
// Slack final-update adapter in pkg/slack.
type Publisher interface {
	PublishProgressUpdate(ctx context.Context, update Update) error
}

// MultiPublisher fans one renderer's updates out to several publishers,
// returning the first error but always attempting every publisher.
type MultiPublisher []Publisher

// PublishProgressUpdate implements Publisher.
func (m MultiPublisher) PublishProgressUpdate(ctx context.Context, update Update) error {
	var firstErr error
	for _, p := range m {
		if err := p.PublishProgressUpdate(ctx, update); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithBlockLimit overrides the default chat-surface truncation limit.
func WithBlockLimit(limit int) Option {
	return func(r *Renderer) { r.blockLimit = limit }
}

// WithPhaseTable overrides the tool-name→phase lookup table.
func WithPhaseTable(table map[string]string) Option {
	return func(r *Renderer) { r.phaseTable = table }
}

// Renderer buckets one session's tool calls into phases and emits
// debounced Update payloads to a Publisher.
type Renderer struct {
	sessionID  string
	publisher  Publisher
	logger     *slog.Logger
	blockLimit int
	phaseTable map[string]string

	mu           sync.Mutex
	order        []string
	phases       map[string]*PhaseState
	toolPhase    map[string]string // tool_use_id -> phase name
	findings     string
	confidence   *float64
	lastDispatch time.Time
	timer        *time.Timer
	closed       bool
}

// NewRenderer constructs a Renderer for one session's event stream.
func NewRenderer(sessionID string, publisher Publisher, opts ...Option) *Renderer {
	r := &Renderer{
		sessionID:  sessionID,
		publisher:  publisher,
		logger:     slog.Default(),
		blockLimit: defaultBlockLimit,
		phaseTable: defaultPhaseTable,
		phases:     make(map[string]*PhaseState),
		toolPhase:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run drains events until the channel closes or ctx is done, handling each
// one in turn. It is a convenience wrapper around HandleEvent for callers
// that hold an agentsession.Session's event channel directly.
func (r *Renderer) Run(ctx context.Context, events <-chan agentsession.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.HandleEvent(ctx, ev)
		}
	}
}

// HandleEvent folds one session event into phase state and dispatches a
// debounced Update if the event changed anything renderable.
func (r *Renderer) HandleEvent(ctx context.Context, ev agentsession.Event) {
	switch ev.Type {
	case agentsession.EventToolStart:
		r.onToolStart(ev)
		r.dispatchDebounced(ctx)
	case agentsession.EventToolEnd:
		r.onToolEnd(ev)
		r.dispatchDebounced(ctx)
	case agentsession.EventResult:
		r.finalize(ctx, ev)
	case agentsession.EventError:
		r.finalizeOnError(ctx, ev)
	default:
		// thought, question, question_timeout carry no phase-bucketed
		// state per spec.md §4.K; they never trigger a dispatch.
	}
}

func (r *Renderer) onToolStart(ev agentsession.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	phaseName := r.phaseFor(ev.ToolName)
	p := r.ensurePhaseLocked(phaseName)
	p.Status = PhaseRunning
	p.ToolCalls++
	r.toolPhase[ev.ToolUseID] = phaseName
}

func (r *Renderer) onToolEnd(ev agentsession.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	phaseName, ok := r.toolPhase[ev.ToolUseID]
	if !ok {
		phaseName = r.phaseFor(ev.ToolName)
	}
	p := r.ensurePhaseLocked(phaseName)
	if !ev.Success {
		p.Status = PhaseFailed
	}
	// A successful tool_end leaves the phase Running; Finalize is what
	// ultimately marks it Done, since a phase may hold more than one tool.
}

func (r *Renderer) ensurePhaseLocked(name string) *PhaseState {
	p, ok := r.phases[name]
	if !ok {
		p = &PhaseState{Name: name, Status: PhasePending}
		r.phases[name] = p
		r.order = append(r.order, name)
	}
	return p
}

func (r *Renderer) phaseFor(toolName string) string {
	if phase, ok := r.phaseTable[toolName]; ok {
		return phase
	}
	return defaultPhase
}

// finalize handles a terminal EventResult: every still-running phase
// becomes Done, root_cause_analysis is marked Done unconditionally, and
// the final findings/confidence are attached. Dispatch bypasses the
// debounce window — a terminal update is never delayed.
func (r *Renderer) finalize(ctx context.Context, ev agentsession.Event) {
	r.mu.Lock()
	for _, name := range r.order {
		if r.phases[name].Status == PhaseRunning {
			r.phases[name].Status = PhaseDone
		}
	}
	root := r.ensurePhaseLocked(RootCausePhase)
	root.Status = PhaseDone

	r.findings = ev.Text
	r.confidence = ev.Confidence
	r.closed = true
	update := r.renderLocked(true)
	r.cancelTimerLocked()
	r.mu.Unlock()

	r.publish(ctx, update)
}

// finalizeOnError marks any in-flight phase Failed and dispatches
// immediately; an error event is as terminal as a result for rendering
// purposes.
func (r *Renderer) finalizeOnError(ctx context.Context, ev agentsession.Event) {
	r.mu.Lock()
	for _, name := range r.order {
		if r.phases[name].Status == PhaseRunning {
			r.phases[name].Status = PhaseFailed
		}
	}
	r.findings = ev.Message
	r.closed = true
	update := r.renderLocked(true)
	r.cancelTimerLocked()
	r.mu.Unlock()

	r.publish(ctx, update)
}

// dispatchDebounced sends an Update immediately if debounceWindow has
// elapsed since the last dispatch, otherwise schedules one delayed
// dispatch at that boundary (spec.md §4.K). Multiple events arriving
// inside one debounce window collapse onto the single pending timer.
func (r *Renderer) dispatchDebounced(ctx context.Context) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}

	now := time.Now()
	elapsed := now.Sub(r.lastDispatch)
	if elapsed >= debounceWindow {
		r.lastDispatch = now
		update := r.renderLocked(false)
		r.mu.Unlock()
		r.publish(ctx, update)
		return
	}

	if r.timer != nil {
		r.mu.Unlock()
		return
	}
	delay := debounceWindow - elapsed
	r.timer = time.AfterFunc(delay, func() {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return
		}
		r.lastDispatch = time.Now()
		r.timer = nil
		update := r.renderLocked(false)
		r.mu.Unlock()
		r.publish(ctx, update)
	})
	r.mu.Unlock()
}

// Reset returns a finalized Renderer to its initial state, so the next
// turn on the same thread renders a fresh phase set instead of staying
// silent after the prior turn's terminal update.
func (r *Renderer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelTimerLocked()
	r.order = nil
	r.phases = make(map[string]*PhaseState)
	r.toolPhase = make(map[string]string)
	r.findings = ""
	r.confidence = nil
	r.closed = false
	r.lastDispatch = time.Time{}
}

func (r *Renderer) cancelTimerLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// renderLocked builds the Update for the current state; caller must hold r.mu.
func (r *Renderer) renderLocked(final bool) Update {
	phases := make([]PhaseState, 0, len(r.order))
	for _, name := range r.order {
		phases = append(phases, *r.phases[name])
	}

	summary, truncated := truncateSummary(renderSummary(phases, r.findings), r.blockLimit)

	return Update{
		SessionID:  r.sessionID,
		Phases:     phases,
		Summary:    summary,
		Findings:   r.findings,
		Confidence: r.confidence,
		Final:      final,
		Truncated:  truncated,
	}
}

func (r *Renderer) publish(ctx context.Context, update Update) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.PublishProgressUpdate(ctx, update); err != nil {
		r.logger.Error("progress: publish update failed", "session_id", r.sessionID, "error", err)
	}
}

func renderSummary(phases []PhaseState, findings string) string {
	var b []byte
	for _, p := range phases {
		b = append(b, p.Name...)
		b = append(b, ": "...)
		b = append(b, p.Status...)
		b = append(b, '\n')
	}
	if findings != "" {
		b = append(b, '\n')
		b = append(b, findings...)
	}
	return string(b)
}

// truncateSummary caps text at limit bytes, appending a single truncation
// marker (spec.md §4.K: "a single content truncated marker").
func truncateSummary(text string, limit int) (string, bool) {
	if limit <= 0 || len(text) <= limit {
		return text, false
	}
	cut := limit - len(truncationMarker)
	if cut < 0 {
		cut = 0
	}
	return text[:cut] + truncationMarker, true
}
