package validate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/store"
)

type sweepStore struct {
	stale   []model.ValidationJob
	patches map[string]store.JobPatch
	cutoffs []time.Time
}

func (s *sweepStore) ListStaleProcessingJobs(_ context.Context, heartbeatBefore time.Time) ([]model.ValidationJob, error) {
	s.cutoffs = append(s.cutoffs, heartbeatBefore)
	return s.stale, nil
}

func (s *sweepStore) UpdateJob(_ context.Context, jobID string, patch store.JobPatch) error {
	if s.patches == nil {
		s.patches = map[string]store.JobPatch{}
	}
	s.patches[jobID] = patch
	return nil
}

func TestSweepFailsStaleJobs(t *testing.T) {
	t.Parallel()
	st := &sweepStore{stale: []model.ValidationJob{
		{ID: "job-1", CampaignID: "camp-1", Status: model.JobStatusProcessing},
		{ID: "job-2", CampaignID: "camp-2", Status: model.JobStatusProcessing},
	}}

	s := NewSweeper(st, 5*time.Minute, time.Minute)
	require.NoError(t, s.Sweep(context.Background()))

	require.Len(t, st.patches, 2)
	for _, id := range []string{"job-1", "job-2"} {
		patch := st.patches[id]
		require.NotNil(t, patch.Status)
		assert.Equal(t, model.JobStatusFailed, *patch.Status)
		require.NotNil(t, patch.Error)
		assert.Equal(t, "Validation worker heartbeat lost", *patch.Error)
		require.NotNil(t, patch.CompletedAt)
	}
}

func TestSweepCutoffUsesTimeout(t *testing.T) {
	t.Parallel()
	st := &sweepStore{}
	s := NewSweeper(st, 10*time.Minute, time.Minute)
	fixed := time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	require.NoError(t, s.Sweep(context.Background()))
	require.Len(t, st.cutoffs, 1)
	assert.Equal(t, fixed.Add(-10*time.Minute), st.cutoffs[0])
}

func TestSweeperDefaults(t *testing.T) {
	t.Parallel()
	s := NewSweeper(&sweepStore{}, 0, 0)
	assert.Equal(t, 5*time.Minute, s.timeout)
	assert.Equal(t, time.Minute, s.interval)
}
