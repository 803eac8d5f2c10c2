package slack

import (
	"context"
	"log/slog"
	"time"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token        string
	Channel      string
	DashboardURL string
}

// RunStartedInput contains data for a run start notification.
type RunStartedInput struct {
	RunID              string
	MessageFingerprint string
}

// RunCompletedInput contains data for a terminal run notification.
type RunCompletedInput struct {
	RunID              string
	Status             string // completed, failed, timeout
	Findings           string
	ErrorMessage       string
	MessageFingerprint string
	ThreadTS           string // Cached from start notification
}

// Service handles Slack notification delivery.
// Nil-safe: all methods are no-ops when service is nil.
type Service struct {
	client       *Client
	dashboardURL string
	logger       *slog.Logger
}

// NewService creates a new Slack notification service.
// Returns nil if Token or Channel is empty.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client:       NewClient(cfg.Token, cfg.Channel),
		dashboardURL: cfg.DashboardURL,
		logger:       slog.Default().With("component", "slack-service"),
	}
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client, dashboardURL string) *Service {
	return &Service{
		client:       client,
		dashboardURL: dashboardURL,
		logger:       slog.Default().With("component", "slack-service"),
	}
}

// NotifyRunStarted sends a "processing started" notification.
// Only sends if fingerprint is present (Slack-originated runs).
// Returns resolved threadTS for reuse by the terminal notification.
// Fail-open: errors are logged, never returned.
func (s *Service) NotifyRunStarted(ctx context.Context, input RunStartedInput) string {
	if s == nil {
		return ""
	}

	if input.MessageFingerprint == "" {
		return ""
	}

	threadTS, err := s.client.FindMessageByFingerprint(ctx, input.MessageFingerprint)
	if err != nil {
		s.logger.Warn("Failed to find Slack thread for fingerprint",
			"run_id", input.RunID,
			"fingerprint", input.MessageFingerprint,
			"error", err)
	}

	blocks := BuildStartedMessage(input.RunID, s.dashboardURL)
	if err := s.client.PostMessage(ctx, blocks, threadTS, 5*time.Second); err != nil {
		s.logger.Error("Failed to send Slack start notification",
			"run_id", input.RunID,
			"error", err)
	}

	return threadTS
}

// NotifyRunCompleted sends a terminal status notification.
// Fail-open: errors are logged, never returned.
func (s *Service) NotifyRunCompleted(ctx context.Context, input RunCompletedInput) {
	if s == nil {
		return
	}

	threadTS := input.ThreadTS
	if threadTS == "" && input.MessageFingerprint != "" {
		var err error
		threadTS, err = s.client.FindMessageByFingerprint(ctx, input.MessageFingerprint)
		if err != nil {
			s.logger.Warn("Failed to find Slack thread for fingerprint",
				"run_id", input.RunID,
				"fingerprint", input.MessageFingerprint,
				"error", err)
		}
	}

	blocks := BuildTerminalMessage(input, s.dashboardURL)
	if err := s.client.PostMessage(ctx, blocks, threadTS, 10*time.Second); err != nil {
		s.logger.Error("Failed to send Slack notification",
			"run_id", input.RunID,
			"status", input.Status,
			"error", err)
	}
}
