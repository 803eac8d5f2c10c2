package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incidentfox/ifox-core/ent/agentrun"
	"github.com/incidentfox/ifox-core/pkg/models"
	testdb "github.com/incidentfox/ifox-core/test/database"
)

func strPtr(s string) *string { return &s }

func TestRunService_CreateAndCompleteRun(t *testing.T) {
	client := testdb.NewTestClient(t)
	runService := NewRunService(client.Client)
	ctx := context.Background()

	run, err := runService.CreateRun(ctx, models.CreateRunRequest{
		Org:            "acme",
		Team:           "core",
		AgentName:      "investigator",
		TriggerSource:  "slack",
		TriggerActor:   strPtr("U123"),
		TriggerChannel: strPtr("C1"),
	})
	require.NoError(t, err)
	assert.Equal(t, agentrun.StatusRunning, run.Status)

	t.Run("completes exactly once", func(t *testing.T) {
		summary := "found 3 crashlooping pods"
		confidence := 0.8
		done, err := runService.CompleteRun(ctx, models.CompleteRunRequest{
			RunID:         run.ID,
			Status:        "completed",
			OutputSummary: &summary,
			Confidence:    &confidence,
		})
		require.NoError(t, err)
		assert.Equal(t, agentrun.StatusCompleted, done.Status)
		require.NotNil(t, done.DurationSeconds)
		assert.GreaterOrEqual(t, *done.DurationSeconds, 0.0)

		// The second completion loses the status=running predicate.
		_, err = runService.CompleteRun(ctx, models.CompleteRunRequest{RunID: run.ID, Status: "failed"})
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("rejects non-terminal status", func(t *testing.T) {
		_, err := runService.CompleteRun(ctx, models.CompleteRunRequest{RunID: run.ID, Status: "running"})
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
	})
}

func TestRunService_FailedRunErrorIsTruncated(t *testing.T) {
	client := testdb.NewTestClient(t)
	runService := NewRunService(client.Client)
	ctx := context.Background()

	run, err := runService.CreateRun(ctx, models.CreateRunRequest{
		Org: "acme", Team: "core", AgentName: "investigator", TriggerSource: "webhook",
	})
	require.NoError(t, err)

	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	longStr := string(long)

	failed, err := runService.CompleteRun(ctx, models.CompleteRunRequest{
		RunID:  run.ID,
		Status: "failed",
		Error:  &longStr,
	})
	require.NoError(t, err)
	require.NotNil(t, failed.Error)
	assert.Len(t, *failed.Error, errorSummaryLimit)
}

func TestRunService_ListRunsFiltersAndOrders(t *testing.T) {
	client := testdb.NewTestClient(t)
	runService := NewRunService(client.Client)
	ctx := context.Background()

	for _, team := range []string{"core", "core", "infra"} {
		_, err := runService.CreateRun(ctx, models.CreateRunRequest{
			Org: "acme", Team: team, AgentName: "investigator", TriggerSource: "webhook",
		})
		require.NoError(t, err)
	}

	runs, err := runService.ListRuns(ctx, models.ListRunsFilter{Org: "acme", Team: "core"})
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	count, err := runService.CountRuns(ctx, models.ListRunsFilter{Org: "acme"})
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestRunService_SweepStaleRuns(t *testing.T) {
	client := testdb.NewTestClient(t)
	runService := NewRunService(client.Client)
	ctx := context.Background()

	stale, err := runService.CreateRun(ctx, models.CreateRunRequest{
		Org: "acme", Team: "core", AgentName: "investigator", TriggerSource: "webhook",
	})
	require.NoError(t, err)
	// Age the row past the threshold directly.
	_, err = client.AgentRun.UpdateOneID(stale.ID).
		SetStartedAt(time.Now().Add(-2 * time.Hour)).
		Save(ctx)
	require.NoError(t, err)

	fresh, err := runService.CreateRun(ctx, models.CreateRunRequest{
		Org: "acme", Team: "core", AgentName: "investigator", TriggerSource: "webhook",
	})
	require.NoError(t, err)

	swept, err := runService.SweepStaleRuns(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	staleAfter, err := runService.GetRun(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, agentrun.StatusTimeout, staleAfter.Status)

	freshAfter, err := runService.GetRun(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, agentrun.StatusRunning, freshAfter.Status)
}
