package llmproxy

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"
)

// Upstream is the subset of http behavior the server needs against a
// resolved provider route: send a translated request, get back either a
// buffered response or a line-delimited stream of raw SSE payloads.
type Upstream interface {
	Do(ctx context.Context, route ProviderRoute, headers InjectedHeaders, body []byte, stream bool) (*http.Response, error)
}

// Server implements the LLM proxy's external HTTP interface from
// spec.md §6: POST /v1/messages (sync + streaming), /v1/messages/count_tokens,
// and a pass-through for /api/event_logging on Claude-native requests.
// Grounded on pkg/api/server.go's echo-based Server for route registration
// and middleware ordering.
type Server struct {
	echo       *echo.Echo
	authorizer *Authorizer
	upstream   Upstream
	deployDef  string // deployment default model
}

// NewServer wires the proxy's routes onto a fresh echo instance.
func NewServer(authorizer *Authorizer, upstream Upstream, deploymentDefaultModel string) *Server {
	e := echo.New()
	s := &Server{echo: e, authorizer: authorizer, upstream: upstream, deployDef: deploymentDefaultModel}
	e.POST("/v1/messages", s.handleMessages)
	e.POST("/v1/messages/count_tokens", s.handleCountTokens)
	e.POST("/api/event_logging/*", s.handleEventLogging)
	return s
}

// Echo exposes the underlying router for test servers / net/http binding.
func (s *Server) Echo() *echo.Echo { return s.echo }

func (s *Server) handleMessages(c *echo.Context) error {
	var req AnthropicRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return writeAnthropicError(c, http.StatusBadRequest, AnthropicErrorBody{Type: ErrInvalidRequest, Message: "malformed request body"})
	}

	headers, claims, err := s.authorizer.AuthorizeRequest(c.Request().Context(), c.Request(), "api.anthropic.com", "/v1/messages")
	if err != nil {
		return writeAnthropicError(c, http.StatusUnauthorized, AnthropicErrorBody{Type: ErrAuthentication, Message: "credential resolution failed"})
	}

	teamModel := s.authorizer.TeamModel(c.Request().Context(), claims)
	model := ResolveModel(teamModel, s.deployDef, req.Model)
	req.Model = model

	if IsAnthropicModel(model) {
		return s.forwardAnthropic(c, req, headers)
	}
	return s.forwardTranslated(c, req, headers, model)
}

// forwardAnthropic passes an Anthropic-targeted request upstream
// unchanged, since headers were injected by Authorize already.
func (s *Server) forwardAnthropic(c *echo.Context, req AnthropicRequest, headers InjectedHeaders) error {
	body, _ := json.Marshal(req)
	route := ProviderRoute{BaseURL: "https://api.anthropic.com", Path: "/v1/messages", APIKeyHeader: "x-api-key"}
	resp, err := s.upstream.Do(c.Request().Context(), route, headers, body, req.Stream)
	if err != nil {
		return writeAnthropicError(c, http.StatusBadGateway, AnthropicErrorBody{Type: ErrAPI, Message: "upstream unavailable"})
	}
	defer resp.Body.Close()
	if req.Stream {
		return proxyRawStream(c, resp)
	}
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c.Response().WriteHeader(resp.StatusCode)
	_, _ = io.Copy(c.Response(), resp.Body)
	return nil
}

func (s *Server) forwardTranslated(c *echo.Context, req AnthropicRequest, headers InjectedHeaders, model string) error {
	route, ok := RouteFor(model)
	if !ok {
		return writeAnthropicError(c, http.StatusNotFound, AnthropicErrorBody{Type: ErrNotFound, Message: fmt.Sprintf("no provider route for model %q", model)})
	}

	openaiReq := RequestToOpenAI(req)
	body, _ := json.Marshal(openaiReq)

	resp, err := s.upstream.Do(c.Request().Context(), route, headers, body, req.Stream)
	if err != nil {
		return writeAnthropicError(c, http.StatusBadGateway, AnthropicErrorBody{Type: ErrAPI, Message: "upstream unavailable"})
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var providerErr OpenAIError
		_ = json.NewDecoder(resp.Body).Decode(&providerErr)
		anthropicErr := ErrorToAnthropic(resp.StatusCode, providerErr.Error)
		return writeAnthropicErrorBody(c, resp.StatusCode, anthropicErr)
	}

	if req.Stream {
		return s.streamTranslated(c, resp, model)
	}

	var openaiResp OpenAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&openaiResp); err != nil {
		return writeAnthropicError(c, http.StatusBadGateway, AnthropicErrorBody{Type: ErrAPI, Message: "malformed upstream response"})
	}
	anthropicResp := ResponseToAnthropic(openaiResp, model)
	return c.JSON(http.StatusOK, anthropicResp)
}

// streamTranslated drives the OpenAI SSE body line by line through a
// StreamTranslator and writes the resulting Anthropic SSE events as they
// are produced, per spec.md §6's streaming content-type requirements.
func (s *Server) streamTranslated(c *echo.Context, resp *http.Response, model string) error {
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	translator := NewStreamTranslator(model)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}
		var chunk OpenAIStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			slog.Warn("llmproxy: skipping malformed upstream stream chunk", "error", err)
			continue
		}
		for _, evt := range translator.Feed(chunk) {
			writeSSE(w, evt)
		}
		w.Flush()
	}
	for _, evt := range translator.Close() {
		writeSSE(w, evt)
	}
	w.Flush()
	return nil
}

func (s *Server) handleCountTokens(c *echo.Context) error {
	var req AnthropicRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return writeAnthropicError(c, http.StatusBadRequest, AnthropicErrorBody{Type: ErrInvalidRequest, Message: "malformed request body"})
	}
	// Estimated token count: ~4 bytes/token, used when no upstream
	// count_tokens endpoint is reachable for the chosen provider.
	total := 0
	for _, m := range req.Messages {
		total += len(m.Content) / 4
	}
	return c.JSON(http.StatusOK, map[string]int{"input_tokens": total})
}

func (s *Server) handleEventLogging(c *echo.Context) error {
	model := c.Request().Header.Get("X-Model")
	if model != "" && !IsAnthropicModel(model) {
		return c.NoContent(http.StatusNoContent)
	}
	headers, err := s.authorizer.Authorize(c.Request().Context(), c.Request(), "api.anthropic.com", c.Request().URL.Path)
	if err != nil {
		return c.NoContent(http.StatusUnauthorized)
	}
	body, _ := io.ReadAll(c.Request().Body)
	route := ProviderRoute{BaseURL: "https://api.anthropic.com", Path: c.Request().URL.Path}
	resp, err := s.upstream.Do(c.Request().Context(), route, headers, body, false)
	if err != nil {
		return c.NoContent(http.StatusBadGateway)
	}
	defer resp.Body.Close()
	return c.NoContent(resp.StatusCode)
}

func writeAnthropicError(c *echo.Context, status int, body AnthropicErrorBody) error {
	return writeAnthropicErrorBody(c, status, AnthropicError{Type: "error", Error: body})
}

func writeAnthropicErrorBody(c *echo.Context, status int, body AnthropicError) error {
	return c.JSON(status, body)
}

func writeSSE(w http.ResponseWriter, evt AnthropicSSEEvent) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Event, evt.Data)
}

func proxyRawStream(c *echo.Context, resp *http.Response) error {
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, resp.Body)
	return nil
}
