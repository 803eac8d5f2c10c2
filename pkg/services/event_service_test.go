package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incidentfox/ifox-core/pkg/models"
	testdb "github.com/incidentfox/ifox-core/test/database"
)

func TestEventService_CreateEvent(t *testing.T) {
	client := testdb.NewTestClient(t)
	eventService := NewEventService(client.Client)
	ctx := context.Background()

	runID := uuid.New().String()

	t.Run("creates event successfully", func(t *testing.T) {
		req := models.CreateEventRequest{
			RunID:   runID,
			Channel: "run:" + runID,
			Payload: map[string]any{"type": "run.status", "status": "running"},
		}

		event, err := eventService.CreateEvent(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, req.Channel, event.Channel)
		assert.NotNil(t, event.Payload)
		assert.NotNil(t, event.CreatedAt)
	})
}

func TestEventService_GetEventsSince(t *testing.T) {
	client := testdb.NewTestClient(t)
	eventService := NewEventService(client.Client)
	ctx := context.Background()

	runID := uuid.New().String()
	channel := "run:" + runID

	evt1, _ := eventService.CreateEvent(ctx, models.CreateEventRequest{
		RunID:   runID,
		Channel: channel,
		Payload: map[string]any{"seq": 1},
	})

	time.Sleep(10 * time.Millisecond)

	evt2, _ := eventService.CreateEvent(ctx, models.CreateEventRequest{
		RunID:   runID,
		Channel: channel,
		Payload: map[string]any{"seq": 2},
	})

	t.Run("retrieves events since ID", func(t *testing.T) {
		events, err := eventService.GetEventsSince(ctx, channel, evt1.ID, 0)
		require.NoError(t, err)
		assert.Len(t, events, 1)
		assert.Equal(t, evt2.ID, events[0].ID)
	})

	t.Run("retrieves all events when sinceID is 0", func(t *testing.T) {
		events, err := eventService.GetEventsSince(ctx, channel, 0, 0)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(events), 2)
	})

	t.Run("respects limit", func(t *testing.T) {
		events, err := eventService.GetEventsSince(ctx, channel, 0, 1)
		require.NoError(t, err)
		assert.Len(t, events, 1)
		assert.Equal(t, evt1.ID, events[0].ID)
	})
}

func TestEventService_CleanupRunEvents(t *testing.T) {
	client := testdb.NewTestClient(t)
	eventService := NewEventService(client.Client)
	ctx := context.Background()

	runID := uuid.New().String()
	for i := 0; i < 3; i++ {
		_, _ = eventService.CreateEvent(ctx, models.CreateEventRequest{
			RunID:   runID,
			Channel: "run:" + runID,
			Payload: map[string]any{"seq": i},
		})
	}

	t.Run("cleans up all run events", func(t *testing.T) {
		count, err := eventService.CleanupRunEvents(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, 3, count)

		events, _ := eventService.GetEventsSince(ctx, "run:"+runID, 0, 0)
		assert.Len(t, events, 0)
	})
}

func TestEventService_CleanupOrphanedEvents(t *testing.T) {
	client := testdb.NewTestClient(t)
	eventService := NewEventService(client.Client)
	ctx := context.Background()

	// Create event directly with old created_at (bypassing service)
	oldTime := time.Now().Add(-8 * 24 * time.Hour)
	_, _ = client.Event.Create().
		SetRunID(uuid.New().String()).
		SetChannel("test").
		SetPayload(map[string]any{}).
		SetCreatedAt(oldTime).
		Save(ctx)

	t.Run("cleans up old events", func(t *testing.T) {
		count, err := eventService.CleanupOrphanedEvents(ctx, 7*24*time.Hour)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, count, 1)
	})
}
