package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatusTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, JobStatusPending.Terminal())
	assert.False(t, JobStatusProcessing.Terminal())
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
}

func TestProgressPercent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		processed int
		total     int
		want      int
	}{
		{"zero total", 5, 0, 0},
		{"negative total", 5, -1, 0},
		{"none processed", 0, 100, 0},
		{"all processed", 100, 100, 100},
		{"rounds half up", 1, 200, 1},
		{"rounds down below half", 1, 300, 0},
		{"one of three", 1, 3, 33},
		{"two of three", 2, 3, 67},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ProgressPercent(tt.processed, tt.total))
		})
	}
}

func TestReasonDuplicatePhone(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		"Duplicate phone number - already assigned to customer CUST-1",
		ReasonDuplicatePhone("CUST-1"))
}

func TestRecordFailureData(t *testing.T) {
	t.Parallel()

	rec := UploadRecord{
		CustomerID:   "C9",
		CampaignID:   ptr("77"),
		CampaignName: ptr("Spring"),
		UploadedBy:   ptr("ops"),
	}
	data := RecordFailureData(rec)
	assert.Equal(t, "C9", data.CustomerID)
	assert.Equal(t, "77", *data.CampaignID)
	assert.Equal(t, "Spring", *data.CampaignName)
	assert.Equal(t, "ops", *data.UploadedBy)
	assert.Empty(t, data.PhoneNumber)
}
