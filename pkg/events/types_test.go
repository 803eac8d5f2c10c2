package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunAndThreadChannels(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"run channel", RunChannel("abc-123"), "run:abc-123"},
		{"run channel with UUID", RunChannel("550e8400-e29b-41d4-a716-446655440000"), "run:550e8400-e29b-41d4-a716-446655440000"},
		{"thread channel", ThreadChannel("thread-1"), "thread:thread-1"},
		{"empty id", RunChannel(""), "run:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestEventTypeConstants(t *testing.T) {
	// Verify event types are non-empty and distinct
	types := []string{
		EventTypeRunStatus,
		EventTypeProgressUpdate,
		EventTypeThreadQuestion,
		EventTypeStreamChunk,
	}

	seen := make(map[string]bool)
	for _, typ := range types {
		assert.NotEmpty(t, typ, "event type should not be empty")
		assert.False(t, seen[typ], "duplicate event type: %s", typ)
		seen[typ] = true
	}
}

func TestGlobalRunsChannel(t *testing.T) {
	assert.Equal(t, "runs", GlobalRunsChannel)
}
