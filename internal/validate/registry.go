package validate

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
)

// ErrJobRunning is returned when a campaign already has a validation run in
// flight in this process.
var ErrJobRunning = eris.New("validation already running for campaign")

type handle struct {
	jobID      string
	campaignID string
	cancel     context.CancelFunc
}

// Registry tracks in-flight validation runs so a campaign cannot be
// validated twice concurrently from the same process, and so a run can be
// cancelled by job id.
type Registry struct {
	mu         sync.Mutex
	byCampaign map[string]*handle
	byJob      map[string]*handle
}

func NewRegistry() *Registry {
	return &Registry{
		byCampaign: map[string]*handle{},
		byJob:      map[string]*handle{},
	}
}

// Acquire registers a run and returns its cancellable context. It fails when
// the campaign already has a run in flight.
func (r *Registry) Acquire(campaignID, jobID string) (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.byCampaign[campaignID]; ok {
		return nil, eris.Wrapf(ErrJobRunning, "campaign %s (job %s)", campaignID, h.jobID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{jobID: jobID, campaignID: campaignID, cancel: cancel}
	r.byCampaign[campaignID] = h
	r.byJob[jobID] = h
	return ctx, nil
}

// Release forgets a finished run.
func (r *Registry) Release(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.byJob[jobID]
	if !ok {
		return
	}
	h.cancel()
	delete(r.byJob, jobID)
	delete(r.byCampaign, h.campaignID)
}

// Cancel stops a run by job id. It reports whether the job was in flight.
func (r *Registry) Cancel(jobID string) bool {
	r.mu.Lock()
	h, ok := r.byJob[jobID]
	r.mu.Unlock()

	if !ok {
		return false
	}
	h.cancel()
	return true
}

// Running reports whether the campaign has a run in flight.
func (r *Registry) Running(campaignID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byCampaign[campaignID]
	return ok
}
