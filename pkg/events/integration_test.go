package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incidentfox/ifox-core/pkg/database"
	"github.com/incidentfox/ifox-core/pkg/services"
	testdb "github.com/incidentfox/ifox-core/test/database"
	"github.com/incidentfox/ifox-core/test/util"
)

// streamingTestEnv holds all wired-up components for an integration test.
type streamingTestEnv struct {
	dbClient     *database.Client
	publisher    *EventPublisher
	eventService *services.EventService
	manager      *ConnectionManager
	listener     *NotifyListener
	server       *httptest.Server
	runID        string // run the test publishes for
	channel      string // run:<runID>
}

// setupStreamingTest wires all real components together against a real
// PostgreSQL database (testcontainers locally, service container in CI).
func setupStreamingTest(t *testing.T) *streamingTestEnv {
	t.Helper()

	dbClient := testdb.NewTestClient(t)
	ctx := context.Background()

	runID := uuid.New().String()
	channel := RunChannel(runID)

	// Real components
	publisher := NewEventPublisher(dbClient.DB())
	eventService := services.NewEventService(dbClient.Client)
	catchupQuerier := NewEventServiceAdapter(eventService)
	manager := NewConnectionManager(catchupQuerier, 5*time.Second)

	// NotifyListener needs the base connection string (no schema search_path)
	// because NOTIFY/LISTEN is database-level, not schema-level.
	baseConnStr := util.GetBaseConnectionString(t)
	listener := NewNotifyListener(baseConnStr, manager)
	require.NoError(t, listener.Start(ctx))
	manager.SetListener(listener)

	t.Cleanup(func() { listener.Stop(context.Background()) })

	// httptest server with WebSocket upgrade
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			t.Logf("WebSocket accept error: %v", err)
			return
		}
		manager.HandleConnection(r.Context(), conn)
	}))
	t.Cleanup(func() { server.Close() })

	return &streamingTestEnv{
		dbClient:     dbClient,
		publisher:    publisher,
		eventService: eventService,
		manager:      manager,
		listener:     listener,
		server:       server,
		runID:        runID,
		channel:      channel,
	}
}

func (env *streamingTestEnv) runStatusPayload(status string) RunStatusPayload {
	return RunStatusPayload{
		Type:      EventTypeRunStatus,
		RunID:     env.runID,
		Org:       "acme",
		Team:      "core",
		Status:    status,
		Timestamp: time.Now().Format(time.RFC3339Nano),
	}
}

// connectWS opens a WebSocket to the test server and returns the
// connection. The connection is automatically closed on test cleanup.
func (env *streamingTestEnv) connectWS(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + env.server.URL[len("http"):]
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

// readJSONTimeout reads a JSON message from the WebSocket with a timeout.
func readJSONTimeout(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]interface{} {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

// subscribeAndWait connects a WebSocket, reads connection.established,
// subscribes to the env's channel, reads subscription.confirmed, and
// waits for the LISTEN to propagate.
func (env *streamingTestEnv) subscribeAndWait(t *testing.T) *websocket.Conn {
	t.Helper()
	conn := env.connectWS(t)

	// Read connection.established
	msg := readJSONTimeout(t, conn, 5*time.Second)
	require.Equal(t, "connection.established", msg["type"])

	// Subscribe
	subMsg, _ := json.Marshal(ClientMessage{Action: "subscribe", Channel: env.channel})
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(writeCtx, websocket.MessageText, subMsg))

	// Read subscription.confirmed
	msg = readJSONTimeout(t, conn, 5*time.Second)
	require.Equal(t, "subscription.confirmed", msg["type"])

	// Wait for the async LISTEN goroutine to complete on the NotifyListener's
	// dedicated connection, polling instead of sleeping.
	require.Eventually(t, func() bool {
		return env.listener.isListening(env.channel)
	}, 2*time.Second, 10*time.Millisecond, "LISTEN did not propagate for channel %s", env.channel)

	return conn
}

// --- Tests ---

func TestIntegration_PublisherPersistsAndNotifies(t *testing.T) {
	env := setupStreamingTest(t)
	ctx := context.Background()

	err := env.publisher.PublishRunStatus(ctx, env.runID, env.runStatusPayload("running"))
	require.NoError(t, err)

	err = env.publisher.PublishRunStatus(ctx, env.runID, env.runStatusPayload("completed"))
	require.NoError(t, err)

	// Query persisted events via EventService
	events, err := env.eventService.GetEventsSince(ctx, env.channel, 0, 100)
	require.NoError(t, err)
	require.Len(t, events, 2)

	// Verify order and content
	assert.Equal(t, env.runID, events[0].RunID)
	assert.Equal(t, env.channel, events[0].Channel)
	assert.Equal(t, EventTypeRunStatus, events[0].Payload["type"])
	assert.Equal(t, "running", events[0].Payload["status"])

	assert.Equal(t, EventTypeRunStatus, events[1].Payload["type"])
	assert.Equal(t, "completed", events[1].Payload["status"])

	// IDs should be incrementing
	assert.Greater(t, events[1].ID, events[0].ID)
}

func TestIntegration_TransientEventsNotPersisted(t *testing.T) {
	env := setupStreamingTest(t)
	ctx := context.Background()

	threadID := uuid.New().String()
	err := env.publisher.PublishStreamChunk(ctx, threadID, StreamChunkPayload{
		Type:      EventTypeStreamChunk,
		ThreadID:  threadID,
		Delta:     "token data",
		Timestamp: time.Now().Format(time.RFC3339Nano),
	})
	require.NoError(t, err)

	// Query DB — should have zero persisted events on the thread channel
	events, err := env.eventService.GetEventsSince(ctx, ThreadChannel(threadID), 0, 100)
	require.NoError(t, err)
	assert.Empty(t, events, "transient events should not be persisted in DB")
}

func TestIntegration_EndToEnd_PublishToWebSocket(t *testing.T) {
	env := setupStreamingTest(t)
	ctx := context.Background()

	// Connect, subscribe, and wait for LISTEN to propagate
	conn := env.subscribeAndWait(t)

	err := env.publisher.PublishRunStatus(ctx, env.runID, env.runStatusPayload("running"))
	require.NoError(t, err)

	// Read from WebSocket — the event should arrive via pg_notify → listener → manager
	msg := readJSONTimeout(t, conn, 5*time.Second)
	assert.Equal(t, EventTypeRunStatus, msg["type"])
	assert.Equal(t, "running", msg["status"])
	assert.Equal(t, env.runID, msg["run_id"])
	// db_event_id should be present (added by persistAndNotify after INSERT)
	assert.NotNil(t, msg["db_event_id"])
}

func TestIntegration_ProgressStreamingProtocol(t *testing.T) {
	// Verifies the thread streaming protocol:
	// 1. stream.chunk deltas (transient, small payloads)
	// 2. progress.update snapshots (persistent, debounced upstream)
	// 3. a final progress.update carrying the findings
	// A reconnecting client recovers from the persisted updates alone.
	env := setupStreamingTest(t)
	ctx := context.Background()

	threadID := uuid.New().String()
	threadChannel := ThreadChannel(threadID)

	conn := env.connectWS(t)
	msg := readJSONTimeout(t, conn, 5*time.Second)
	require.Equal(t, "connection.established", msg["type"])
	writeJSON(t, conn, ClientMessage{Action: "subscribe", Channel: threadChannel})
	msg = readJSONTimeout(t, conn, 5*time.Second)
	require.Equal(t, "subscription.confirmed", msg["type"])
	require.Eventually(t, func() bool {
		return env.listener.isListening(threadChannel)
	}, 2*time.Second, 10*time.Millisecond)

	// 1. Transient deltas
	deltas := []string{"The pod ", "is in ", "CrashLoopBackOff ", "due to ", "a missing ConfigMap."}
	for _, delta := range deltas {
		err := env.publisher.PublishStreamChunk(ctx, threadID, StreamChunkPayload{
			Type:      EventTypeStreamChunk,
			ThreadID:  threadID,
			Delta:     delta,
			Timestamp: time.Now().Format(time.RFC3339Nano),
		})
		require.NoError(t, err)

		msg := readJSONTimeout(t, conn, 5*time.Second)
		assert.Equal(t, EventTypeStreamChunk, msg["type"])
		assert.Equal(t, delta, msg["delta"], "each chunk should carry only the new delta")
	}

	// 2+3. Persistent progress updates, finishing with the findings
	final := "The pod is in CrashLoopBackOff due to a missing ConfigMap."
	err := env.publisher.PublishProgressUpdate(ctx, threadID, ProgressUpdatePayload{
		Type:      EventTypeProgressUpdate,
		ThreadID:  threadID,
		Phases:    []PhaseSnapshot{{Name: "data_collection", Status: "running", ToolCalls: 2}},
		Summary:   "data_collection: running",
		Timestamp: time.Now().Format(time.RFC3339Nano),
	})
	require.NoError(t, err)
	msg = readJSONTimeout(t, conn, 5*time.Second)
	assert.Equal(t, EventTypeProgressUpdate, msg["type"])
	assert.Equal(t, false, msg["final"])

	err = env.publisher.PublishProgressUpdate(ctx, threadID, ProgressUpdatePayload{
		Type:      EventTypeProgressUpdate,
		ThreadID:  threadID,
		Phases:    []PhaseSnapshot{{Name: "data_collection", Status: "done", ToolCalls: 5}},
		Summary:   "data_collection: done",
		Findings:  final,
		Final:     true,
		Timestamp: time.Now().Format(time.RFC3339Nano),
	})
	require.NoError(t, err)
	msg = readJSONTimeout(t, conn, 5*time.Second)
	assert.Equal(t, EventTypeProgressUpdate, msg["type"])
	assert.Equal(t, true, msg["final"])
	assert.Equal(t, final, msg["findings"])

	// Only the 2 progress updates are persisted; chunks are transient.
	events, err := env.eventService.GetEventsSince(ctx, threadChannel, 0, 100)
	require.NoError(t, err)
	assert.Len(t, events, 2, "only persistent events should be in DB")
	assert.Equal(t, EventTypeProgressUpdate, events[0].Payload["type"])
	assert.Equal(t, EventTypeProgressUpdate, events[1].Payload["type"])
}

func TestIntegration_CatchupFromRealDB(t *testing.T) {
	env := setupStreamingTest(t)
	ctx := context.Background()

	// Pre-populate DB with 3 persistent events
	for _, status := range []string{"running", "failed", "timeout"} {
		err := env.publisher.PublishRunStatus(ctx, env.runID, env.runStatusPayload(status))
		require.NoError(t, err)
	}

	// Verify events exist in DB
	allEvents, err := env.eventService.GetEventsSince(ctx, env.channel, 0, 100)
	require.NoError(t, err)
	require.Len(t, allEvents, 3)
	firstEventID := allEvents[0].ID

	// Connect a NEW WebSocket client (simulates reconnection)
	conn := env.connectWS(t)
	msg := readJSONTimeout(t, conn, 5*time.Second) // connection.established
	require.Equal(t, "connection.established", msg["type"])

	// Subscribe — auto-catchup delivers all 3 prior events immediately
	subMsg, _ := json.Marshal(ClientMessage{Action: "subscribe", Channel: env.channel})
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(writeCtx, websocket.MessageText, subMsg))
	msg = readJSONTimeout(t, conn, 5*time.Second) // subscription.confirmed
	require.Equal(t, "subscription.confirmed", msg["type"])

	// Read all 3 auto-catchup events in order
	for _, status := range []string{"running", "failed", "timeout"} {
		msg = readJSONTimeout(t, conn, 5*time.Second)
		assert.Equal(t, EventTypeRunStatus, msg["type"])
		assert.Equal(t, status, msg["status"])
	}

	// Explicit catchup from the first event's ID — should return only events 2 and 3
	catchupFrom := firstEventID
	catchupMsg, _ := json.Marshal(ClientMessage{
		Action:      "catchup",
		Channel:     env.channel,
		LastEventID: &catchupFrom,
	})
	writeCtx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	require.NoError(t, conn.Write(writeCtx2, websocket.MessageText, catchupMsg))

	for _, status := range []string{"failed", "timeout"} {
		msg = readJSONTimeout(t, conn, 5*time.Second)
		assert.Equal(t, status, msg["status"])
	}

	// No more messages — verify with short timeout
	readCtx, readCancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer readCancel()
	_, _, err = conn.Read(readCtx)
	assert.Error(t, err, "should not receive more messages after catchup")
}

func TestIntegration_ResubscribeAfterUnsubscribe_KeepsListen(t *testing.T) {
	// Regression test for the race condition where a rapid unsubscribe/resubscribe
	// cycle (as caused by React StrictMode double-render) would drop the PG LISTEN.
	//
	// The race was:
	//   1. subscribe → LISTEN active
	//   2. unsubscribe → async goroutine: UNLISTEN (deferred)
	//   3. resubscribe → l.Subscribe saw "already listening" → returned early
	//   4. goroutine fired UNLISTEN → PG dropped the LISTEN
	//   5. all subsequent NOTIFY events were silently lost
	//
	// The fix has two parts:
	//   - l.Subscribe always sends LISTEN (no early return; PG handles duplicates)
	//   - the UNLISTEN goroutine re-checks m.channels and skips if resubscribed
	env := setupStreamingTest(t)
	ctx := context.Background()

	conn := env.connectWS(t)
	msg := readJSONTimeout(t, conn, 5*time.Second)
	require.Equal(t, "connection.established", msg["type"])

	// Subscribe
	writeJSON(t, conn, ClientMessage{Action: "subscribe", Channel: env.channel})
	msg = readJSONTimeout(t, conn, 5*time.Second)
	require.Equal(t, "subscription.confirmed", msg["type"])

	require.Eventually(t, func() bool {
		return env.listener.isListening(env.channel)
	}, 2*time.Second, 10*time.Millisecond, "initial LISTEN should propagate")

	// Rapid unsubscribe + resubscribe (mimics React StrictMode cleanup/remount)
	writeJSON(t, conn, ClientMessage{Action: "unsubscribe", Channel: env.channel})
	writeJSON(t, conn, ClientMessage{Action: "subscribe", Channel: env.channel})

	msg = readJSONTimeout(t, conn, 5*time.Second)
	require.Equal(t, "subscription.confirmed", msg["type"])

	// Wait for the UNLISTEN goroutine to settle and verify LISTEN is still active.
	time.Sleep(200 * time.Millisecond) // Let the async UNLISTEN goroutine run
	require.True(t, env.listener.isListening(env.channel),
		"LISTEN must survive a rapid unsubscribe/resubscribe cycle")

	// Publish an event — it must arrive via pg_notify → listener → WebSocket
	err := env.publisher.PublishRunStatus(ctx, env.runID, env.runStatusPayload("completed"))
	require.NoError(t, err)

	// Drain any catchup events from the resubscribe before checking for the live event
	for {
		msg = readJSONTimeout(t, conn, 5*time.Second)
		if msg["status"] == "completed" {
			break
		}
	}

	assert.Equal(t, EventTypeRunStatus, msg["type"])
	assert.Equal(t, env.runID, msg["run_id"])
}

func TestIntegration_ListenerGenerationCounter_StaleUnlistenSkipped(t *testing.T) {
	// Tests the generation counter inside NotifyListener directly, bypassing
	// the ConnectionManager:
	//
	//   1. Subscribe → LISTEN, gen=1
	//   2. Concurrent Unsubscribe → captures gen=1, enqueues UNLISTEN(gen=1)
	//   3. Subscribe again → gen=2, enqueues LISTEN
	//   4. cmdCh processes: could be LISTEN then UNLISTEN(gen=1)
	//   5. processPendingCmds detects gen mismatch → skips stale UNLISTEN
	//   6. PG stays listened, l.channels stays true
	env := setupStreamingTest(t)
	ctx := context.Background()
	channel := env.channel

	// 1. Initial Subscribe
	require.NoError(t, env.listener.Subscribe(ctx, channel))
	require.True(t, env.listener.isListening(channel))

	// 2. Unsubscribe in a goroutine (simulates the async goroutine in manager)
	unsubDone := make(chan struct{})
	go func() {
		defer close(unsubDone)
		_ = env.listener.Unsubscribe(context.Background(), channel)
	}()

	// 3. Immediately re-Subscribe (may race with the Unsubscribe above)
	require.NoError(t, env.listener.Subscribe(ctx, channel))

	// Wait for the async Unsubscribe to complete
	<-unsubDone

	// Channel must still be listened — the generation counter should have
	// prevented the stale UNLISTEN from taking effect, OR the re-Subscribe's
	// LISTEN should have restored it.
	require.True(t, env.listener.isListening(channel),
		"l.channels must stay true after stale UNLISTEN is skipped")

	// Verify PG is actually listening by publishing an event and receiving it
	conn := env.subscribeAndWait(t)

	err := env.publisher.PublishRunStatus(ctx, env.runID, env.runStatusPayload("running"))
	require.NoError(t, err)

	// Drain catchup events, then expect the live event
	for {
		msg := readJSONTimeout(t, conn, 5*time.Second)
		if msg["status"] == "running" {
			assert.Equal(t, env.runID, msg["run_id"])
			break
		}
	}
}
