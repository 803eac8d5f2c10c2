package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/r3labs/sse/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echo "github.com/labstack/echo/v5"
)

func decodeJSON(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	gw := NewServer()
	e := echo.New()
	gw.Register(e.Group(""))
	ts := httptest.NewServer(e)
	t.Cleanup(ts.Close)
	return gw, ts
}

func TestDispatchFailsWhenClusterNotConnected(t *testing.T) {
	gw, _ := newTestServer(t)
	_, err := gw.Dispatch(context.Background(), "cluster-a", CommandListPods, nil)
	assert.ErrorIs(t, err, ErrClusterNotConnected)
}

func TestConnectThenDispatchRoundTrips(t *testing.T) {
	gw, ts := newTestServer(t)

	events := make(chan *sse.Event, 8)
	client := sse.NewClient(ts.URL + "/agent/connect?cluster_id=cluster-a")
	streamCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = client.SubscribeRawWithContext(streamCtx, func(msg *sse.Event) {
			events <- msg
		})
	}()

	// Wait for the connected event and the registry to observe it.
	require.Eventually(t, func() bool { return gw.Connected("cluster-a") }, 2*time.Second, 10*time.Millisecond)
	first := <-events
	assert.Equal(t, "connected", string(first.Event))

	dispatchDone := make(chan CommandResponse, 1)
	go func() {
		resp, err := gw.Dispatch(context.Background(), "cluster-a", CommandListPods, map[string]any{"namespace": "default"})
		require.NoError(t, err)
		dispatchDone <- resp
	}()

	var cmdEvt *sse.Event
	for cmdEvt == nil {
		ev := <-events
		if string(ev.Event) == "command" {
			cmdEvt = ev
		}
	}

	var cmd CommandPayload
	require.NoError(t, decodeJSON(cmdEvt.Data, &cmd))
	assert.Equal(t, CommandListPods, cmd.Command)
	assert.NotEmpty(t, cmd.RequestID)

	resp, err := http.Post(ts.URL+"/agent/response/"+cmd.RequestID, "application/json",
		jsonBody(t, CommandResponse{OK: true, Result: map[string]any{"pods": []string{"a"}}}))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	select {
	case got := <-dispatchDone:
		assert.True(t, got.OK)
	case <-time.After(2 * time.Second):
		t.Fatal("Dispatch did not return after response delivery")
	}
}

func TestHandleResponseForUnknownRequestIsAccepted(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Post(ts.URL+"/agent/response/does-not-exist", "application/json",
		jsonBody(t, CommandResponse{OK: true}))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}
