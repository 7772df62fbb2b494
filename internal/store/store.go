package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/campaign-cli/internal/model"
)

// ErrJobNotFound is returned by GetJob for unknown job ids.
var ErrJobNotFound = eris.New("validation job not found")

// ErrJobTerminal is returned when a patch tries to move a job out of a
// terminal state. Terminal states are sticky.
var ErrJobTerminal = eris.New("validation job already terminal")

// OpKind discriminates record write operations.
type OpKind int

const (
	OpCreate OpKind = iota
	OpUpdate
	OpDelete
)

// RecordUpdate is a partial update applied to an existing record. Nil fields
// are left untouched.
type RecordUpdate struct {
	PhoneNumber        *string
	APIValidated       *bool
	APIValidatedAt     *time.Time
	CustomerData       json.RawMessage
	UploadedToDialer   *bool
	UploadedToDialerAt *time.Time
	DialerJobID        *string
}

// RecordOp is one entry in an ordered batch of record writes.
type RecordOp struct {
	Kind     OpKind
	Record   *model.UploadRecord // OpCreate
	RecordID string              // OpUpdate, OpDelete
	Update   *RecordUpdate       // OpUpdate
}

// JobPatch is a merge-patch for a validation job document.
type JobPatch struct {
	Status    *model.JobStatus
	Total     *int
	Processed *int
	Validated *int
	Failed    *int
	Progress  *int

	// FailedRecords is applied only when SetFailed is true, so an empty
	// list can still be written.
	FailedRecords []model.FailureRecord
	SetFailed     bool

	Error       *string
	StartedAt   *time.Time
	CompletedAt *time.Time
	HeartbeatAt *time.Time
}

// DialerCampaign is a campaign definition synced from the dialer platform.
type DialerCampaign struct {
	ID            string          `json:"campaignId"`
	Name          *string         `json:"campaignName,omitempty"`
	Description   *string         `json:"description,omitempty"`
	Status        *string         `json:"status,omitempty"`
	FullData      json.RawMessage `json:"fullData,omitempty"`
	LastFetchedAt time.Time       `json:"lastFetchedAt"`
}

// Store defines the persistence interface for the onboarding pipeline.
type Store interface {
	// Campaign records. ReplaceCampaignRecords deletes the campaign's
	// existing set and inserts the new one, both through batched commits
	// under the configured ceiling; it returns how many records the
	// previous upload had.
	ReplaceCampaignRecords(ctx context.Context, campaignID string, records []model.UploadRecord) (replaced int, err error)
	CountRecords(ctx context.Context, campaignID string) (int, error)
	ListRecords(ctx context.Context, campaignID string) ([]model.UploadRecord, error)
	ListValidatedRecords(ctx context.Context, campaignID string) ([]model.UploadRecord, error)

	// ApplyRecordOps commits the given ops atomically in one transaction.
	// Callers chunk ops through a BatchWriter to stay under the ceiling.
	ApplyRecordOps(ctx context.Context, ops []RecordOp) error

	// Campaign ledgers. GetLedger returns (nil, nil) when absent.
	// UpsertLedger merges the patch into the current document (creating it
	// if missing) and returns the resulting state.
	GetLedger(ctx context.Context, campaignID string) (*model.CampaignLedger, error)
	UpsertLedger(ctx context.Context, campaignID string, patch model.LedgerPatch) (*model.CampaignLedger, error)
	ListLedgers(ctx context.Context) ([]model.CampaignLedger, error)

	// Validation jobs.
	CreateJob(ctx context.Context, job *model.ValidationJob) error
	GetJob(ctx context.Context, jobID string) (*model.ValidationJob, error)
	UpdateJob(ctx context.Context, jobID string, patch JobPatch) error
	ListStaleProcessingJobs(ctx context.Context, heartbeatBefore time.Time) ([]model.ValidationJob, error)

	// Dialer campaign catalog.
	UpsertDialerCampaigns(ctx context.Context, campaigns []DialerCampaign) error
	ListDialerCampaigns(ctx context.Context) ([]DialerCampaign, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}

// applyJobPatch merges a patch into a job document, enforcing sticky
// terminal states. Shared by both store drivers.
func applyJobPatch(job model.ValidationJob, patch JobPatch) (model.ValidationJob, error) {
	if patch.Status != nil && job.Status.Terminal() && *patch.Status != job.Status {
		return job, eris.Wrapf(ErrJobTerminal, "job %s is %s", job.ID, job.Status)
	}
	if patch.Status != nil {
		job.Status = *patch.Status
	}
	if patch.Total != nil {
		job.Total = *patch.Total
	}
	if patch.Processed != nil {
		job.Processed = *patch.Processed
	}
	if patch.Validated != nil {
		job.Validated = *patch.Validated
	}
	if patch.Failed != nil {
		job.Failed = *patch.Failed
	}
	if patch.Progress != nil {
		job.Progress = *patch.Progress
	}
	if patch.SetFailed {
		job.FailedRecords = patch.FailedRecords
	}
	if patch.Error != nil {
		job.Error = patch.Error
	}
	if patch.StartedAt != nil {
		job.StartedAt = patch.StartedAt
	}
	if patch.CompletedAt != nil {
		job.CompletedAt = patch.CompletedAt
	}
	if patch.HeartbeatAt != nil {
		job.HeartbeatAt = patch.HeartbeatAt
	}
	return job, nil
}
