// Package cleanup provides data retention and cleanup services.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/incidentfox/ifox-core/pkg/config"
	"github.com/incidentfox/ifox-core/pkg/services"
)

// Service periodically deletes terminal agent runs past the retention
// window and event rows past their TTL.
type Service struct {
	config       *config.RetentionConfig
	runService   *services.RunService
	eventService *services.EventService

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(
	cfg *config.RetentionConfig,
	runService *services.RunService,
	eventService *services.EventService,
) *Service {
	return &Service{
		config:       cfg,
		runService:   runService,
		eventService: eventService,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"run_retention_days", s.config.SessionRetentionDays,
		"event_ttl", s.config.EventTTL,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.deleteOldRuns(ctx)
	s.cleanupOrphanedEvents(ctx)
}

func (s *Service) deleteOldRuns(_ context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.config.SessionRetentionDays)
	count, err := s.runService.DeleteRunsOlderThan(context.Background(), cutoff)
	if err != nil {
		slog.Error("Retention: delete old runs failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted old runs", "count", count)
	}
}

func (s *Service) cleanupOrphanedEvents(_ context.Context) {
	count, err := s.eventService.CleanupOrphanedEvents(context.Background(), s.config.EventTTL)
	if err != nil {
		slog.Error("Retention: event cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: cleaned up orphaned events", "count", count)
	}
}
