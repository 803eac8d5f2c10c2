package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incidentfox/ifox-core/pkg/agent"
	"github.com/incidentfox/ifox-core/pkg/agentsession"
	"github.com/incidentfox/ifox-core/pkg/progress"
)

// scriptedLLM replays a fixed chunk sequence for every Generate call.
type scriptedLLM struct {
	chunks []agent.Chunk
}

func (s *scriptedLLM) Generate(_ context.Context, _ *agent.GenerateInput) (<-chan agent.Chunk, error) {
	out := make(chan agent.Chunk, len(s.chunks))
	for _, c := range s.chunks {
		out <- c
	}
	close(out)
	return out, nil
}

type recordingPublisher struct {
	mu      sync.Mutex
	updates []progress.Update
}

func (p *recordingPublisher) PublishProgressUpdate(_ context.Context, u progress.Update) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, u)
	return nil
}

func (p *recordingPublisher) finalCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, u := range p.updates {
		if u.Final {
			n++
		}
	}
	return n
}

func echoTools() agentsession.ToolExecutor {
	return agentsession.ToolExecutorFunc(func(_ context.Context, name string, _ map[string]any) (string, error) {
		return "ran " + name, nil
	})
}

func waitForIdle(t *testing.T, m *Manager, threadID string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if info, ok := m.Get(threadID); ok && info.Status == StatusIdle {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("thread %s never returned to idle", threadID)
}

func TestManager_ExecutePublishesFinalUpdateAndReturnsToIdle(t *testing.T) {
	llm := &scriptedLLM{chunks: []agent.Chunk{
		&agent.TextChunk{Content: "Looking at the pods."},
		&agent.ToolCallChunk{CallID: "t1", Name: "list_pods", Arguments: `{"namespace":"prod"}`},
		&agent.TextChunk{Content: " Found 3 pods."},
	}}
	pub := &recordingPublisher{}
	m := NewManager(llm, echoTools(), pub)
	defer m.Stop()

	require.NoError(t, m.Execute(context.Background(), "thread-1", "list pods in ns=prod", nil))
	waitForIdle(t, m, "thread-1")

	deadline := time.Now().Add(5 * time.Second)
	for pub.finalCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 1, pub.finalCount(), "exactly one final update per turn")
}

func TestManager_RejectsOverlappingTurnsOnOneThread(t *testing.T) {
	block := make(chan struct{})
	llm := &blockingLLM{release: block}
	m := NewManager(llm, echoTools(), &recordingPublisher{})
	defer m.Stop()

	require.NoError(t, m.Execute(context.Background(), "thread-1", "first", nil))
	err := m.Execute(context.Background(), "thread-1", "second", nil)
	assert.ErrorIs(t, err, ErrThreadBusy)

	// A different thread is unaffected.
	require.NoError(t, m.Execute(context.Background(), "thread-2", "other", nil))
	close(block)
}

func TestManager_CloseForgetsThread(t *testing.T) {
	llm := &scriptedLLM{chunks: []agent.Chunk{&agent.TextChunk{Content: "done"}}}
	m := NewManager(llm, echoTools(), &recordingPublisher{})
	defer m.Stop()

	require.NoError(t, m.Execute(context.Background(), "thread-1", "hello", nil))
	waitForIdle(t, m, "thread-1")
	m.Close("thread-1")

	_, ok := m.Get("thread-1")
	assert.False(t, ok, "closed threads are forgotten")
}

// blockingLLM parks until release is closed, so a turn stays in flight for
// the duration of a test.
type blockingLLM struct {
	release chan struct{}
}

func (b *blockingLLM) Generate(ctx context.Context, _ *agent.GenerateInput) (<-chan agent.Chunk, error) {
	out := make(chan agent.Chunk)
	go func() {
		select {
		case <-b.release:
		case <-ctx.Done():
		}
		close(out)
	}()
	return out, nil
}
