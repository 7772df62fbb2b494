package model

import "time"

// JobStatus is the validation job lifecycle state.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ValidationJob is one background validation run, retained indefinitely for
// polling and audit.
type ValidationJob struct {
	ID         string    `json:"jobId"`
	CampaignID string    `json:"campaignId"`
	Status     JobStatus `json:"status"`

	Total     int `json:"total"`
	Processed int `json:"processed"`
	Validated int `json:"validated"`
	Failed    int `json:"failed"`
	Progress  int `json:"progress"` // 0..100

	FailedRecords []FailureRecord `json:"failedRecords,omitempty"`
	Error         *string         `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	// HeartbeatAt is bumped with every progress write so a supervisor can
	// tell a live run from one whose worker died mid-flight.
	HeartbeatAt *time.Time `json:"heartbeatAt,omitempty"`
}

// ProgressPercent computes the rounded progress for processed of total.
func ProgressPercent(processed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(float64(processed)/float64(total)*100 + 0.5)
}
