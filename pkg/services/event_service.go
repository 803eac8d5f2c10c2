package services

import (
	"context"
	"fmt"
	"time"

	"github.com/incidentfox/ifox-core/ent"
	"github.com/incidentfox/ifox-core/ent/event"
	"github.com/incidentfox/ifox-core/pkg/models"
)

// EventService manages persisted dashboard events: the catch-up source a
// reconnecting WebSocket client reads from, keyed by channel and event id.
type EventService struct {
	client *ent.Client
}

// NewEventService creates a new EventService.
func NewEventService(client *ent.Client) *EventService {
	return &EventService{client: client}
}

// CreateEvent persists one event row. Most events are written by the
// EventPublisher's SQL path instead (persist + NOTIFY in one transaction);
// this entry point exists for callers outside that transaction.
func (s *EventService) CreateEvent(_ context.Context, req models.CreateEventRequest) (*ent.Event, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	builder := s.client.Event.Create().
		SetChannel(req.Channel).
		SetPayload(req.Payload).
		SetCreatedAt(time.Now())
	if req.RunID != "" {
		builder = builder.SetRunID(req.RunID)
	}

	evt, err := builder.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}
	return evt, nil
}

// GetEventsSince retrieves up to limit events on channel with id greater
// than sinceID, oldest first — the WebSocket catch-up query.
func (s *EventService) GetEventsSince(ctx context.Context, channel string, sinceID, limit int) ([]*ent.Event, error) {
	if limit <= 0 {
		limit = 500
	}
	events, err := s.client.Event.Query().
		Where(
			event.ChannelEQ(channel),
			event.IDGT(sinceID),
		).
		Order(ent.Asc(event.FieldID)).
		Limit(limit).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}

	return events, nil
}

// CleanupRunEvents removes all events for a run, used when a run is
// deleted by the retention sweep.
func (s *EventService) CleanupRunEvents(_ context.Context, runID string) (int, error) {
	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	count, err := s.client.Event.Delete().
		Where(event.RunIDEQ(runID)).
		Exec(writeCtx)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup run events: %w", err)
	}
	return count, nil
}

// CleanupOrphanedEvents removes events older than ttl.
func (s *EventService) CleanupOrphanedEvents(_ context.Context, ttl time.Duration) (int, error) {
	cutoff := time.Now().Add(-ttl)

	writeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	count, err := s.client.Event.Delete().
		Where(event.CreatedAtLT(cutoff)).
		Exec(writeCtx)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup orphaned events: %w", err)
	}
	return count, nil
}
