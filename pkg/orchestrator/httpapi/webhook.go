package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/incidentfox/ifox-core/pkg/installations"
	"github.com/incidentfox/ifox-core/pkg/orchestrator"
	"github.com/incidentfox/ifox-core/pkg/routing"
	ifoxslack "github.com/incidentfox/ifox-core/pkg/slack"
)

// Webhooks is the orchestrator's inbound webhook router: it extracts
// identifiers from each source's payload, resolves them through the
// routing index to the owning (org, team), and dispatches an agent run
// for that team. Auth is per-source (Slack request signing; shared-secret
// headers for generic sources) rather than the admin token.
type Webhooks struct {
	index         routing.Index
	agents        *orchestrator.AgentRunner
	installs      *installations.Store
	signingSecret string
	sharedSecret  string
}

// NewWebhooks creates the webhook router. signingSecret verifies Slack
// request signatures; sharedSecret guards the generic source endpoint.
func NewWebhooks(index routing.Index, agents *orchestrator.AgentRunner, installs *installations.Store, signingSecret, sharedSecret string) *Webhooks {
	return &Webhooks{
		index:         index,
		agents:        agents,
		installs:      installs,
		signingSecret: signingSecret,
		sharedSecret:  sharedSecret,
	}
}

// Register wires the webhook routes onto g, typically "/api/v1/webhooks".
func (w *Webhooks) Register(g *echo.Group) {
	g.POST("/slack", w.slack)
	g.POST("/:source", w.generic)
}

// slackEnvelope is the subset of Slack's Events API payload the router
// reads; Block Kit rendering and the rest of the event surface are out of
// scope.
type slackEnvelope struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge,omitempty"`
	TeamID    string `json:"team_id,omitempty"`
	Event     struct {
		Type     string `json:"type"`
		Channel  string `json:"channel,omitempty"`
		User     string `json:"user,omitempty"`
		Text     string `json:"text,omitempty"`
		ThreadTS string `json:"thread_ts,omitempty"`
		TS       string `json:"ts,omitempty"`
	} `json:"event"`
}

func (w *Webhooks) slack(c *echo.Context) error {
	body, err := ifoxslack.VerifySignature(c.Request(), w.signingSecret)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid slack signature")
	}

	var envelope slackEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid event payload")
	}

	// Slack's endpoint ownership handshake.
	if envelope.Type == "url_verification" {
		return c.JSON(http.StatusOK, map[string]string{"challenge": envelope.Challenge})
	}
	if envelope.Type != "event_callback" || envelope.Event.Channel == "" {
		return c.NoContent(http.StatusOK)
	}

	result, err := routing.Lookup(c.Request().Context(), w.index, routing.Query{
		Identifiers: map[routing.Kind]string{
			routing.KindSlackChannelID: envelope.Event.Channel,
		},
	})
	if err != nil {
		return w.mapLookupError(err)
	}
	if !result.Found {
		// Unrouted channels are acknowledged, not errored: Slack retries
		// non-2xx deliveries and an unconfigured channel will never route.
		slog.Info("slack webhook for unrouted channel", "channel", envelope.Event.Channel)
		return c.JSON(http.StatusOK, toResolveResponse("", result))
	}

	if w.installs != nil && envelope.TeamID != "" {
		if err := w.installs.LinkWorkspace(c.Request().Context(), envelope.TeamID, result.Org, result.Team); err != nil {
			slog.Warn("failed to link slack workspace", "workspace", envelope.TeamID, "error", err)
		}
	}

	resp, err := w.agents.Run(c.Request().Context(), &orchestrator.AgentRunRequest{
		Org:       result.Org,
		Team:      result.Team,
		AgentName: "investigator",
		Message:   envelope.Event.Text,
		Channel:   envelope.Event.Channel,
		Metadata: map[string]any{
			"source":    "slack",
			"actor":     envelope.Event.User,
			"thread_ts": firstNonEmpty(envelope.Event.ThreadTS, envelope.Event.TS),
		},
	})
	if err != nil {
		return w.mapLookupError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"routed_to": result.Team, "run_id": resp.RunID})
}

// genericWebhook is the source-agnostic payload shape: the caller names
// its identifiers explicitly instead of the router parsing a
// source-specific envelope.
type genericWebhook struct {
	Org         string            `json:"org,omitempty"`
	Identifiers map[string]string `json:"identifiers"`
	Message     string            `json:"message"`
	Actor       string            `json:"actor,omitempty"`
}

func (w *Webhooks) generic(c *echo.Context) error {
	if w.sharedSecret != "" && c.Request().Header.Get("X-Webhook-Secret") != w.sharedSecret {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing or invalid webhook secret")
	}

	var req genericWebhook
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Identifiers) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "identifiers are required")
	}

	identifiers := make(map[routing.Kind]string, len(req.Identifiers))
	for k, v := range req.Identifiers {
		identifiers[routing.Kind(k)] = v
	}

	result, err := routing.Lookup(c.Request().Context(), w.index, routing.Query{Org: req.Org, Identifiers: identifiers})
	if err != nil {
		return w.mapLookupError(err)
	}
	if !result.Found {
		return c.JSON(http.StatusNotFound, toResolveResponse(req.Org, result))
	}

	resp, err := w.agents.Run(c.Request().Context(), &orchestrator.AgentRunRequest{
		Org:       result.Org,
		Team:      result.Team,
		AgentName: "investigator",
		Message:   req.Message,
		Metadata: map[string]any{
			"source":        c.Param("source"),
			"actor":         req.Actor,
			"matched_by":    string(result.MatchedBy),
			"matched_value": result.MatchedValue,
		},
	})
	if err != nil {
		return w.mapLookupError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"routed_to": result.Team, "run_id": resp.RunID})
}

func (w *Webhooks) mapLookupError(err error) *echo.HTTPError {
	slog.Error("webhook dispatch failed", "error", err)
	return echo.NewHTTPError(http.StatusBadGateway, "failed to dispatch agent run")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
