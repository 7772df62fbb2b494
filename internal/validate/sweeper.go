package validate

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/store"
)

// SweeperStore is the slice of the persistence layer the sweeper needs.
type SweeperStore interface {
	ListStaleProcessingJobs(ctx context.Context, heartbeatBefore time.Time) ([]model.ValidationJob, error)
	UpdateJob(ctx context.Context, jobID string, patch store.JobPatch) error
}

// Sweeper fails processing jobs whose heartbeat stopped, so a crashed worker
// never leaves a job stuck in processing forever.
type Sweeper struct {
	store    SweeperStore
	timeout  time.Duration
	interval time.Duration
	now      func() time.Time
}

// NewSweeper builds a sweeper that checks every interval and fails jobs
// silent for longer than timeout.
func NewSweeper(st SweeperStore, timeout, interval time.Duration) *Sweeper {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{store: st, timeout: timeout, interval: interval, now: time.Now}
}

// Run sweeps until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				zap.L().Warn("stale job sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep fails every stale processing job once.
func (s *Sweeper) Sweep(ctx context.Context) error {
	cutoff := s.now().UTC().Add(-s.timeout)
	jobs, err := s.store.ListStaleProcessingJobs(ctx, cutoff)
	if err != nil {
		return err
	}

	for _, job := range jobs {
		now := s.now().UTC()
		message := "Validation worker heartbeat lost"
		err := s.store.UpdateJob(ctx, job.ID, store.JobPatch{
			Status:      ptrTo(model.JobStatusFailed),
			Error:       &message,
			CompletedAt: &now,
		})
		if err != nil && !eris.Is(err, store.ErrJobTerminal) {
			zap.L().Warn("failed to sweep job", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		zap.L().Info("stale validation job failed by sweeper",
			zap.String("job_id", job.ID),
			zap.String("campaign_id", job.CampaignID),
		)
	}
	return nil
}
