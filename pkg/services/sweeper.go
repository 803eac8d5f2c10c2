package services

import (
	"context"
	"log/slog"
	"time"
)

// StaleRunSweeper periodically moves running AgentRun rows past their max
// age to the terminal timeout status. All replicas run it independently;
// the underlying status-predicated update makes concurrent sweeps
// harmless.
type StaleRunSweeper struct {
	runs     *RunService
	interval time.Duration
	maxAge   time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewStaleRunSweeper creates a sweeper. maxAge is the single threshold a
// run may stay in running before it is swept; interval is how often the
// sweep fires.
func NewStaleRunSweeper(runs *RunService, interval, maxAge time.Duration) *StaleRunSweeper {
	return &StaleRunSweeper{runs: runs, interval: interval, maxAge: maxAge}
}

// Start launches the background sweep loop.
func (s *StaleRunSweeper) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("stale-run sweeper started", "interval", s.interval, "max_age", s.maxAge)
}

// Stop signals the loop to exit and waits for it to finish.
func (s *StaleRunSweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *StaleRunSweeper) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.runs.SweepStaleRuns(ctx, s.maxAge); err != nil {
				slog.Error("stale-run sweep failed", "error", err)
			}
		}
	}
}
