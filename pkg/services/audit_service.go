package services

import (
	"context"
	"fmt"
	"time"

	"github.com/incidentfox/ifox-core/ent"
	"github.com/incidentfox/ifox-core/ent/conversationmapping"
	"github.com/incidentfox/ifox-core/ent/pendingchange"
	"github.com/incidentfox/ifox-core/pkg/models"
	"github.com/google/uuid"
)

// AuditService owns the parts of the Audit Store that sit beside the
// agent-run table: per-run feedback, operator-approval pending changes,
// external-thread conversation mappings, and the end-of-run bulk tool-call
// trace. Kept as its own service (rather than folded into RunService)
// because none of these four entities share the run row's lifecycle.
type AuditService struct {
	client *ent.Client
}

// NewAuditService creates a new AuditService.
func NewAuditService(client *ent.Client) *AuditService {
	return &AuditService{client: client}
}

// RecordFeedback stores one feedback row for a run. Feedback is append-only:
// a run can receive any number of feedback entries over its lifetime (e.g.
// repeated Slack reactions).
func (s *AuditService) RecordFeedback(ctx context.Context, req models.CreateFeedbackRequest) (*ent.Feedback, error) {
	if req.RunID == "" {
		return nil, NewValidationError("run_id", "required")
	}
	if req.FeedbackType != "positive" && req.FeedbackType != "negative" {
		return nil, NewValidationError("feedback_type", "must be 'positive' or 'negative'")
	}
	if req.Source == "" {
		return nil, NewValidationError("source", "required")
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	builder := s.client.Feedback.Create().
		SetID(id).
		SetRunID(req.RunID).
		SetFeedbackType(req.FeedbackType).
		SetSource(req.Source).
		SetCreatedAt(time.Now())
	if req.UserID != nil {
		builder = builder.SetUserID(*req.UserID)
	}
	if req.CorrelationID != nil {
		builder = builder.SetCorrelationID(*req.CorrelationID)
	}

	fb, err := builder.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to record feedback: %w", err)
	}
	return fb, nil
}

// ProposeChange creates (or, if id already exists, returns) a pending config
// change awaiting operator approval. Idempotent so a retried admin-API call
// never produces a duplicate proposal.
func (s *AuditService) ProposeChange(ctx context.Context, req models.CreatePendingChangeRequest) (*ent.PendingChange, error) {
	if req.ID == "" {
		return nil, NewValidationError("id", "required")
	}
	if req.Org == "" {
		return nil, NewValidationError("org", "required")
	}
	if req.Node == "" {
		return nil, NewValidationError("node", "required")
	}
	if req.ChangeType == "" {
		return nil, NewValidationError("change_type", "required")
	}
	if req.RequestedBy == "" {
		return nil, NewValidationError("requested_by", "required")
	}

	existing, err := s.client.PendingChange.Get(ctx, req.ID)
	if err == nil {
		return existing, nil
	}
	if !ent.IsNotFound(err) {
		return nil, fmt.Errorf("failed to look up pending change: %w", err)
	}

	builder := s.client.PendingChange.Create().
		SetID(req.ID).
		SetOrg(req.Org).
		SetNode(req.Node).
		SetChangeType(req.ChangeType).
		SetProposedValue(req.ProposedValue).
		SetRequestedBy(req.RequestedBy).
		SetRequestedAt(time.Now())
	if req.ChangePath != nil {
		builder = builder.SetChangePath(*req.ChangePath)
	}
	if req.PreviousValue != nil {
		builder = builder.SetPreviousValue(req.PreviousValue)
	}
	if req.Reason != nil {
		builder = builder.SetReason(*req.Reason)
	}

	change, err := builder.Save(ctx)
	if err != nil {
		if ent.IsConstraintError(err) {
			return s.client.PendingChange.Get(ctx, req.ID)
		}
		return nil, fmt.Errorf("failed to propose change: %w", err)
	}
	return change, nil
}

// ResolveChange marks a pending change approved or rejected.
func (s *AuditService) ResolveChange(ctx context.Context, id string, approve bool) (*ent.PendingChange, error) {
	status := pendingchange.StatusRejected
	if approve {
		status = pendingchange.StatusApproved
	}
	change, err := s.client.PendingChange.UpdateOneID(id).
		SetStatus(status).
		Save(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to resolve change: %w", err)
	}
	return change, nil
}

// ListPendingChanges returns changes awaiting approval for a team node,
// newest first.
func (s *AuditService) ListPendingChanges(ctx context.Context, org, node string) ([]*ent.PendingChange, error) {
	q := s.client.PendingChange.Query().
		Where(pendingchange.OrgEQ(org), pendingchange.StatusEQ(pendingchange.StatusPending))
	if node != "" {
		q = q.Where(pendingchange.NodeEQ(node))
	}
	changes, err := q.Order(ent.Desc(pendingchange.FieldRequestedAt)).All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending changes: %w", err)
	}
	return changes, nil
}

// UpsertConversationMapping records (or refreshes) which external thread a
// session replies to. One current mapping per session_id: a second call for
// the same session overwrites the external id and bumps last_used_at.
func (s *AuditService) UpsertConversationMapping(ctx context.Context, req models.UpsertConversationMappingRequest) (*ent.ConversationMapping, error) {
	if req.SessionID == "" {
		return nil, NewValidationError("session_id", "required")
	}
	if req.ExternalConversationID == "" {
		return nil, NewValidationError("external_conversation_id", "required")
	}
	if req.SessionType == "" {
		return nil, NewValidationError("session_type", "required")
	}

	mapping, err := s.client.ConversationMapping.Query().
		Where(conversationmapping.SessionIDEQ(req.SessionID)).
		Only(ctx)
	switch {
	case ent.IsNotFound(err):
		builder := s.client.ConversationMapping.Create().
			SetSessionID(req.SessionID).
			SetExternalConversationID(req.ExternalConversationID).
			SetSessionType(req.SessionType)
		if req.Org != nil {
			builder = builder.SetOrg(*req.Org)
		}
		if req.Team != nil {
			builder = builder.SetTeam(*req.Team)
		}
		mapping, err = builder.Save(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create conversation mapping: %w", err)
		}
		return mapping, nil
	case err != nil:
		return nil, fmt.Errorf("failed to look up conversation mapping: %w", err)
	}

	updated, err := mapping.Update().
		SetExternalConversationID(req.ExternalConversationID).
		SetSessionType(req.SessionType).
		SetLastUsedAt(time.Now()).
		Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to update conversation mapping: %w", err)
	}
	return updated, nil
}

// RecordToolCalls bulk-inserts every tool call a run made, ordered by
// sequence_number. Called once at end-of-run by the Agent Session's
// executor, never incrementally — high call volume on long investigations
// would otherwise mean one round-trip per tool invocation.
func (s *AuditService) RecordToolCalls(ctx context.Context, req models.RecordToolCallsRequest) ([]*ent.ToolCall, error) {
	if req.RunID == "" {
		return nil, NewValidationError("run_id", "required")
	}
	if len(req.Calls) == 0 {
		return nil, nil
	}

	builders := make([]*ent.ToolCallCreate, len(req.Calls))
	for i, call := range req.Calls {
		if call.ToolName == "" {
			return nil, NewValidationError("calls[].tool_name", "required")
		}
		if call.Status != "success" && call.Status != "error" {
			return nil, NewValidationError("calls[].status", "must be 'success' or 'error'")
		}

		id := call.ID
		if id == "" {
			id = uuid.New().String()
		}

		b := s.client.ToolCall.Create().
			SetID(id).
			SetRunID(req.RunID).
			SetToolName(call.ToolName).
			SetStartedAt(time.UnixMilli(call.StartedAt)).
			SetStatus(call.Status).
			SetSequenceNumber(call.SequenceNumber)
		if call.AgentName != nil {
			b = b.SetAgentName(*call.AgentName)
		}
		if call.ParentAgent != nil {
			b = b.SetParentAgent(*call.ParentAgent)
		}
		if call.Input != nil {
			b = b.SetInput(call.Input)
		}
		if call.Output != nil {
			b = b.SetOutput(call.Output)
		}
		if call.DurationMs != nil {
			b = b.SetDurationMs(*call.DurationMs)
		}
		builders[i] = b
	}

	calls, err := s.client.ToolCall.CreateBulk(builders...).Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to record tool calls: %w", err)
	}
	return calls, nil
}
