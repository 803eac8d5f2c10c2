package slack

import (
	"context"

	"github.com/incidentfox/ifox-core/pkg/progress"
)

// ProgressPublisher adapts a Service to progress.Publisher: intermediate
// updates are dropped (the dashboard renders those), and each thread's
// final update is posted to chat as a terminal notification.
type ProgressPublisher struct {
	svc *Service
}

// NewProgressPublisher wraps svc. Nil-safe, like the Service itself.
func NewProgressPublisher(svc *Service) *ProgressPublisher {
	return &ProgressPublisher{svc: svc}
}

// PublishProgressUpdate implements progress.Publisher.
func (p *ProgressPublisher) PublishProgressUpdate(ctx context.Context, update progress.Update) error {
	if p == nil || p.svc == nil || !update.Final {
		return nil
	}

	status := "completed"
	for _, phase := range update.Phases {
		if phase.Status == progress.PhaseFailed {
			status = "failed"
			break
		}
	}

	p.svc.NotifyRunCompleted(ctx, RunCompletedInput{
		RunID:    update.SessionID,
		Status:   status,
		Findings: update.Findings,
	})
	return nil
}
