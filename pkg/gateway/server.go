package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/incidentfox/ifox-core/pkg/gateway")

// heartbeatInterval bounds how often a connected agent's stream receives a
// heartbeat event, matching the Connected/Command/Heartbeat vocabulary
// types.go declares.
const heartbeatInterval = 30 * time.Second

// responseTimeout bounds how long Dispatch waits for a connected agent to
// answer a command before giving up, independent of the agent-side
// commandTimeout the executor enforces on its own Kubernetes calls.
const responseTimeout = 20 * time.Second

// ErrClusterNotConnected is returned by Dispatch when no agent is currently
// streaming on /agent/connect for the requested cluster.
var ErrClusterNotConnected = fmt.Errorf("gateway: cluster not connected")

// agentConn is one connected agent's outbound SSE channel.
type agentConn struct {
	clusterID string
	commands  chan CommandPayload
	done      chan struct{}
}

// Server is the control-plane side of the SSE command gateway: it accepts
// long-lived GET /agent/connect streams from in-cluster agents, lets callers
// Dispatch commands down a connected agent's stream, and correlates the
// agent's POST /agent/response/{request_id} back to the waiting caller.
// Grounded on pkg/events.ConnectionManager's connection-registry pattern,
// generalized from a websocket fan-out to a single-consumer SSE push per
// cluster plus request/response correlation instead of topic subscriptions.
type Server struct {
	mu      sync.RWMutex
	agents  map[string]*agentConn // clusterID -> connection
	pending map[string]chan CommandResponse
}

// NewServer creates an empty Server. Routes are registered with Register.
func NewServer() *Server {
	return &Server{
		agents:  make(map[string]*agentConn),
		pending: make(map[string]chan CommandResponse),
	}
}

// Register wires /agent/connect and /agent/response/:request_id onto group.
func (s *Server) Register(group *echo.Group) {
	group.GET("/agent/connect", s.handleConnect)
	group.POST("/agent/response/:request_id", s.handleResponse)
}

// Connected reports whether an agent is currently streaming for clusterID.
func (s *Server) Connected(clusterID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.agents[clusterID]
	return ok
}

func (s *Server) handleConnect(c *echo.Context) error {
	clusterID := c.QueryParam("cluster_id")
	if clusterID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "cluster_id is required")
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	conn := &agentConn{
		clusterID: clusterID,
		commands:  make(chan CommandPayload, 16),
		done:      make(chan struct{}),
	}
	s.register(conn)
	defer s.unregister(conn)

	if err := writeSSE(w, EventConnected, ConnectedPayload{
		ClusterID: clusterID,
		Message:   "connected",
	}); err != nil {
		return err
	}
	w.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-conn.done:
			return nil
		case cmd := <-conn.commands:
			if err := writeSSE(w, EventCommand, cmd); err != nil {
				return err
			}
			w.Flush()
		case <-ticker.C:
			if err := writeSSE(w, EventHeartbeat, HeartbeatPayload{Timestamp: time.Now()}); err != nil {
				return err
			}
			w.Flush()
		}
	}
}

func (s *Server) handleResponse(c *echo.Context) error {
	requestID := c.Param("request_id")
	var resp CommandResponse
	if err := json.NewDecoder(c.Request().Body).Decode(&resp); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid response body")
	}
	resp.RequestID = requestID

	s.mu.RLock()
	ch, ok := s.pending[requestID]
	s.mu.RUnlock()
	if !ok {
		// Late or duplicate delivery after Dispatch already timed out;
		// the agent is told its best-effort delivery succeeded either way.
		return c.NoContent(http.StatusAccepted)
	}

	select {
	case ch <- resp:
	default:
	}
	return c.NoContent(http.StatusAccepted)
}

// Dispatch sends command to the connected agent for clusterID and blocks
// until the agent's correlated response arrives or responseTimeout elapses.
func (s *Server) Dispatch(ctx context.Context, clusterID, command string, params map[string]any) (CommandResponse, error) {
	ctx, span := tracer.Start(ctx, "gateway.Dispatch")
	span.SetAttributes(attribute.String("cluster_id", clusterID), attribute.String("command", command))
	defer span.End()

	resp, err := s.dispatch(ctx, clusterID, command, params)
	switch {
	case err != nil:
		span.SetStatus(codes.Error, err.Error())
		commandsTotal.WithLabelValues(command, "error").Inc()
	case !resp.OK:
		commandsTotal.WithLabelValues(command, "failed").Inc()
	default:
		commandsTotal.WithLabelValues(command, "ok").Inc()
	}
	return resp, err
}

func (s *Server) dispatch(ctx context.Context, clusterID, command string, params map[string]any) (CommandResponse, error) {
	s.mu.RLock()
	conn, ok := s.agents[clusterID]
	s.mu.RUnlock()
	if !ok {
		return CommandResponse{}, ErrClusterNotConnected
	}

	requestID := uuid.NewString()
	respCh := make(chan CommandResponse, 1)
	s.mu.Lock()
	s.pending[requestID] = respCh
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, requestID)
		s.mu.Unlock()
	}()

	cmd := CommandPayload{RequestID: requestID, Command: command, Params: params}
	select {
	case conn.commands <- cmd:
	case <-ctx.Done():
		return CommandResponse{}, ctx.Err()
	case <-time.After(responseTimeout):
		return CommandResponse{}, fmt.Errorf("gateway: agent for cluster %s did not accept command", clusterID)
	}

	timeout := time.NewTimer(responseTimeout)
	defer timeout.Stop()
	select {
	case resp := <-respCh:
		return resp, nil
	case <-ctx.Done():
		return CommandResponse{}, ctx.Err()
	case <-timeout.C:
		return CommandResponse{}, fmt.Errorf("gateway: command %s timed out waiting for cluster %s", command, clusterID)
	}
}

func (s *Server) register(conn *agentConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.agents[conn.clusterID]; ok {
		// A reconnect supersedes the stale stream; wake its loop so it exits.
		close(existing.done)
	}
	s.agents[conn.clusterID] = conn
	connectedAgents.Set(float64(len(s.agents)))
}

func (s *Server) unregister(conn *agentConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.agents[conn.clusterID]; ok && current == conn {
		delete(s.agents, conn.clusterID)
	}
	connectedAgents.Set(float64(len(s.agents)))
}

func writeSSE(w *echo.Response, event EventType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
