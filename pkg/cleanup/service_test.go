package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incidentfox/ifox-core/ent/agentrun"
	"github.com/incidentfox/ifox-core/pkg/config"
	"github.com/incidentfox/ifox-core/pkg/models"
	"github.com/incidentfox/ifox-core/pkg/services"
	testdb "github.com/incidentfox/ifox-core/test/database"
)

func retentionConfig() *config.RetentionConfig {
	return &config.RetentionConfig{
		SessionRetentionDays: 30,
		EventTTL:             time.Hour,
		CleanupInterval:      time.Hour,
	}
}

func TestService_DeletesOldTerminalRuns(t *testing.T) {
	client := testdb.NewTestClient(t)
	runService := services.NewRunService(client.Client)
	eventService := services.NewEventService(client.Client)
	ctx := context.Background()

	old, err := runService.CreateRun(ctx, models.CreateRunRequest{
		Org: "acme", Team: "core", AgentName: "investigator", TriggerSource: "webhook",
	})
	require.NoError(t, err)
	_, err = runService.CompleteRun(ctx, models.CompleteRunRequest{RunID: old.ID, Status: "completed"})
	require.NoError(t, err)
	_, err = client.AgentRun.UpdateOneID(old.ID).
		SetStartedAt(time.Now().AddDate(0, 0, -60)).
		Save(ctx)
	require.NoError(t, err)

	svc := NewService(retentionConfig(), runService, eventService)
	svc.runAll(ctx)

	_, err = runService.GetRun(ctx, old.ID)
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestService_NeverDeletesRunningRuns(t *testing.T) {
	client := testdb.NewTestClient(t)
	runService := services.NewRunService(client.Client)
	eventService := services.NewEventService(client.Client)
	ctx := context.Background()

	running, err := runService.CreateRun(ctx, models.CreateRunRequest{
		Org: "acme", Team: "core", AgentName: "investigator", TriggerSource: "webhook",
	})
	require.NoError(t, err)
	_, err = client.AgentRun.UpdateOneID(running.ID).
		SetStartedAt(time.Now().AddDate(0, 0, -60)).
		Save(ctx)
	require.NoError(t, err)

	svc := NewService(retentionConfig(), runService, eventService)
	svc.runAll(ctx)

	kept, err := runService.GetRun(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, agentrun.StatusRunning, kept.Status)
}

func TestService_CleansUpOldEvents(t *testing.T) {
	client := testdb.NewTestClient(t)
	runService := services.NewRunService(client.Client)
	eventService := services.NewEventService(client.Client)
	ctx := context.Background()

	_, err := client.Event.Create().
		SetRunID(uuid.New().String()).
		SetChannel("test").
		SetPayload(map[string]any{}).
		SetCreatedAt(time.Now().Add(-2 * time.Hour)).
		Save(ctx)
	require.NoError(t, err)

	svc := NewService(retentionConfig(), runService, eventService)
	svc.runAll(ctx)

	events, err := eventService.GetEventsSince(ctx, "test", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}
