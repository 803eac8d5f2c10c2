package services

import (
	"context"
	"testing"

	"github.com/incidentfox/ifox-core/pkg/models"
	testdb "github.com/incidentfox/ifox-core/test/database"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditService_RecordFeedback(t *testing.T) {
	client := testdb.NewTestClient(t)
	auditService := NewAuditService(client.Client)
	runService := NewRunService(client.Client)
	ctx := context.Background()

	run, err := runService.CreateRun(ctx, models.CreateRunRequest{
		Org:           "acme",
		Team:          "core",
		AgentName:     "investigator",
		TriggerSource: "webhook",
	})
	require.NoError(t, err)

	t.Run("records feedback", func(t *testing.T) {
		userID := "user@example.com"
		fb, err := auditService.RecordFeedback(ctx, models.CreateFeedbackRequest{
			RunID:        run.ID,
			FeedbackType: "positive",
			Source:       "slack_reaction",
			UserID:       &userID,
		})
		require.NoError(t, err)
		assert.Equal(t, run.ID, fb.RunID)
		assert.Equal(t, "positive", string(fb.FeedbackType))
	})

	t.Run("rejects unknown feedback_type", func(t *testing.T) {
		_, err := auditService.RecordFeedback(ctx, models.CreateFeedbackRequest{
			RunID:        run.ID,
			FeedbackType: "neutral",
			Source:       "dashboard",
		})
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
	})

	t.Run("requires run_id", func(t *testing.T) {
		_, err := auditService.RecordFeedback(ctx, models.CreateFeedbackRequest{
			FeedbackType: "positive",
			Source:       "dashboard",
		})
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
	})
}

func TestAuditService_ProposeChange(t *testing.T) {
	client := testdb.NewTestClient(t)
	auditService := NewAuditService(client.Client)
	ctx := context.Background()

	req := models.CreatePendingChangeRequest{
		ID:            uuid.New().String(),
		Org:           "acme",
		Node:          "platform",
		ChangeType:    "mcp_server_add",
		ProposedValue: map[string]any{"name": "new-server"},
		RequestedBy:   "operator@example.com",
	}

	t.Run("creates a pending change", func(t *testing.T) {
		change, err := auditService.ProposeChange(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "pending", string(change.Status))
	})

	t.Run("is idempotent by id", func(t *testing.T) {
		first, err := auditService.ProposeChange(ctx, req)
		require.NoError(t, err)
		second, err := auditService.ProposeChange(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("resolves and lists by status", func(t *testing.T) {
		pending, err := auditService.ListPendingChanges(ctx, "acme", "platform")
		require.NoError(t, err)
		assert.NotEmpty(t, pending)

		resolved, err := auditService.ResolveChange(ctx, req.ID, true)
		require.NoError(t, err)
		assert.Equal(t, "approved", string(resolved.Status))

		afterResolve, err := auditService.ListPendingChanges(ctx, "acme", "platform")
		require.NoError(t, err)
		for _, c := range afterResolve {
			assert.NotEqual(t, req.ID, c.ID)
		}
	})
}

func TestAuditService_UpsertConversationMapping(t *testing.T) {
	client := testdb.NewTestClient(t)
	auditService := NewAuditService(client.Client)
	ctx := context.Background()

	sessionID := uuid.New().String()

	t.Run("creates a new mapping", func(t *testing.T) {
		mapping, err := auditService.UpsertConversationMapping(ctx, models.UpsertConversationMappingRequest{
			SessionID:              sessionID,
			ExternalConversationID: "C123/1700000000.000100",
			SessionType:            "slack_thread",
		})
		require.NoError(t, err)
		assert.Equal(t, sessionID, mapping.SessionID)
	})

	t.Run("updates the existing mapping in place", func(t *testing.T) {
		mapping, err := auditService.UpsertConversationMapping(ctx, models.UpsertConversationMappingRequest{
			SessionID:              sessionID,
			ExternalConversationID: "C123/1700000005.000200",
			SessionType:            "slack_thread",
		})
		require.NoError(t, err)
		assert.Equal(t, "C123/1700000005.000200", mapping.ExternalConversationID)
	})
}

func TestAuditService_RecordToolCalls(t *testing.T) {
	client := testdb.NewTestClient(t)
	auditService := NewAuditService(client.Client)
	runService := NewRunService(client.Client)
	ctx := context.Background()

	run, err := runService.CreateRun(ctx, models.CreateRunRequest{
		Org:           "acme",
		Team:          "core",
		AgentName:     "investigator",
		TriggerSource: "webhook",
	})
	require.NoError(t, err)

	t.Run("bulk inserts ordered by sequence_number", func(t *testing.T) {
		calls, err := auditService.RecordToolCalls(ctx, models.RecordToolCallsRequest{
			RunID: run.ID,
			Calls: []models.ToolCallRecord{
				{ToolName: "kubectl.get", StartedAt: 1700000000000, Status: "success", SequenceNumber: 0},
				{ToolName: "kubectl.logs", StartedAt: 1700000001000, Status: "error", SequenceNumber: 1},
			},
		})
		require.NoError(t, err)
		assert.Len(t, calls, 2)
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		_, err := auditService.RecordToolCalls(ctx, models.RecordToolCallsRequest{
			RunID: run.ID,
			Calls: []models.ToolCallRecord{
				{ToolName: "kubectl.get", StartedAt: 1700000000000, Status: "pending", SequenceNumber: 0},
			},
		})
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
	})

	t.Run("no-ops on an empty batch", func(t *testing.T) {
		calls, err := auditService.RecordToolCalls(ctx, models.RecordToolCallsRequest{RunID: run.ID})
		require.NoError(t, err)
		assert.Nil(t, calls)
	})
}
