package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/incidentfox/ifox-core/ent"
	"github.com/incidentfox/ifox-core/ent/agentrun"
	"github.com/incidentfox/ifox-core/pkg/models"
)

// errorSummaryLimit caps the error text persisted on a failed run.
const errorSummaryLimit = 200

// RunService owns the AgentRun lifecycle in the Audit Store: rows are
// created on agent start, completed exactly once, and swept to timeout by
// SweepStaleRuns when a crashed worker never reports back.
type RunService struct {
	client *ent.Client
}

// NewRunService creates a new RunService.
func NewRunService(client *ent.Client) *RunService {
	return &RunService{client: client}
}

// CreateRun records the start of an agent run.
func (s *RunService) CreateRun(ctx context.Context, req models.CreateRunRequest) (*ent.AgentRun, error) {
	if req.Org == "" {
		return nil, NewValidationError("org", "required")
	}
	if req.Team == "" {
		return nil, NewValidationError("team", "required")
	}
	if req.AgentName == "" {
		return nil, NewValidationError("agent_name", "required")
	}
	if req.TriggerSource == "" {
		return nil, NewValidationError("trigger_source", "required")
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	builder := s.client.AgentRun.Create().
		SetID(id).
		SetOrg(req.Org).
		SetTeam(req.Team).
		SetAgentName(req.AgentName).
		SetTriggerSource(req.TriggerSource).
		SetStartedAt(time.Now())
	if req.CorrelationID != nil {
		builder = builder.SetCorrelationID(*req.CorrelationID)
	}
	if req.TriggerActor != nil {
		builder = builder.SetTriggerActor(*req.TriggerActor)
	}
	if req.TriggerMessage != nil {
		builder = builder.SetTriggerMessage(*req.TriggerMessage)
	}
	if req.TriggerChannel != nil {
		builder = builder.SetTriggerChannel(*req.TriggerChannel)
	}

	run, err := builder.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent run: %w", err)
	}
	return run, nil
}

// CompleteRun transitions a run from running to its terminal status. The
// update is predicated on status=running so a completion and the stale-run
// sweeper can never both win; the loser observes ErrNotFound.
func (s *RunService) CompleteRun(ctx context.Context, req models.CompleteRunRequest) (*ent.AgentRun, error) {
	if req.RunID == "" {
		return nil, NewValidationError("run_id", "required")
	}
	status := agentrun.Status(req.Status)
	if status != agentrun.StatusCompleted && status != agentrun.StatusFailed {
		return nil, NewValidationError("status", "must be 'completed' or 'failed'")
	}

	run, err := s.client.AgentRun.Query().
		Where(agentrun.IDEQ(req.RunID), agentrun.StatusEQ(agentrun.StatusRunning)).
		Only(ctx)
	if ent.IsNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", req.RunID, err)
	}

	now := time.Now()
	update := run.Update().
		SetStatus(status).
		SetCompletedAt(now).
		SetDurationSeconds(now.Sub(run.StartedAt).Seconds())
	if req.OutputSummary != nil {
		update = update.SetOutputSummary(*req.OutputSummary)
	}
	if req.Confidence != nil {
		update = update.SetConfidence(*req.Confidence)
	}
	if req.ToolCallsCount != nil {
		update = update.SetToolCallsCount(*req.ToolCallsCount)
	}
	if req.Error != nil {
		update = update.SetError(truncateError(*req.Error))
	}

	updated, err := update.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to complete run %s: %w", req.RunID, err)
	}
	return updated, nil
}

// GetRun returns one run by id.
func (s *RunService) GetRun(ctx context.Context, id string) (*ent.AgentRun, error) {
	run, err := s.client.AgentRun.Get(ctx, id)
	if ent.IsNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns runs newest-first, narrowed by filter.
func (s *RunService) ListRuns(ctx context.Context, filter models.ListRunsFilter) ([]*ent.AgentRun, error) {
	q := s.client.AgentRun.Query()
	if filter.Org != "" {
		q = q.Where(agentrun.OrgEQ(filter.Org))
	}
	if filter.Team != "" {
		q = q.Where(agentrun.TeamEQ(filter.Team))
	}
	if filter.Status != "" {
		q = q.Where(agentrun.StatusEQ(agentrun.Status(filter.Status)))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	runs, err := q.
		Order(ent.Desc(agentrun.FieldStartedAt)).
		Limit(limit).
		Offset(filter.Offset).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// CountRuns returns the total matching filter (for list pagination).
func (s *RunService) CountRuns(ctx context.Context, filter models.ListRunsFilter) (int, error) {
	q := s.client.AgentRun.Query()
	if filter.Org != "" {
		q = q.Where(agentrun.OrgEQ(filter.Org))
	}
	if filter.Team != "" {
		q = q.Where(agentrun.TeamEQ(filter.Team))
	}
	if filter.Status != "" {
		q = q.Where(agentrun.StatusEQ(agentrun.Status(filter.Status)))
	}
	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return count, nil
}

// SweepStaleRuns moves running rows older than maxAge to the terminal
// timeout status. All replicas may run the sweep concurrently — the
// status=running predicate makes each transition idempotent.
func (s *RunService) SweepStaleRuns(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)

	n, err := s.client.AgentRun.Update().
		Where(
			agentrun.StatusEQ(agentrun.StatusRunning),
			agentrun.StartedAtLT(cutoff),
		).
		SetStatus(agentrun.StatusTimeout).
		SetCompletedAt(time.Now()).
		SetError("run exceeded max age and was swept to timeout").
		Save(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale runs: %w", err)
	}
	if n > 0 {
		slog.Warn("swept stale agent runs to timeout", "count", n, "max_age", maxAge)
	}
	return n, nil
}

// DeleteRunsOlderThan removes terminal runs past the retention window,
// returning the number deleted. Running rows are never deleted.
func (s *RunService) DeleteRunsOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := s.client.AgentRun.Delete().
		Where(
			agentrun.StatusNEQ(agentrun.StatusRunning),
			agentrun.StartedAtLT(cutoff),
		).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old runs: %w", err)
	}
	return n, nil
}

func truncateError(msg string) string {
	if len(msg) <= errorSummaryLimit {
		return msg
	}
	return msg[:errorSummaryLimit]
}
