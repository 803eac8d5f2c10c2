package session

import (
	"context"
	"time"

	"github.com/incidentfox/ifox-core/pkg/agentsession"
	"github.com/incidentfox/ifox-core/pkg/progress"
)

// ThreadStatus is the externally visible state of a managed thread.
type ThreadStatus string

const (
	// StatusIdle means the thread is ready for the next Execute.
	StatusIdle ThreadStatus = "idle"
	// StatusExecuting means a turn is in flight.
	StatusExecuting ThreadStatus = "executing"
	// StatusAwaitingAnswer means the turn is blocked on an AskUserQuestion.
	StatusAwaitingAnswer ThreadStatus = "awaiting_answer"
	// StatusClosed marks a thread torn down by Close; it is the terminal
	// snapshot state and the thread is removed from the manager.
	StatusClosed ThreadStatus = "closed"
)

// Thread binds one agentsession.Session to the progress renderer consuming
// its event stream. Threads are created lazily on first use and live until
// Close or manager shutdown.
type Thread struct {
	ID string

	session  *agentsession.Session
	events   chan agentsession.Event
	renderer *progress.Renderer
	cancel   context.CancelFunc

	status     ThreadStatus
	lastUsedAt time.Time
}

// ThreadInfo is the read-only snapshot List and Get hand out.
type ThreadInfo struct {
	ID         string       `json:"id"`
	Status     ThreadStatus `json:"status"`
	LastUsedAt time.Time    `json:"last_used_at"`
}
